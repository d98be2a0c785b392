package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yigit/chathub/internal/app/controllers"
	"github.com/yigit/chathub/internal/app/models/dto"
	"github.com/yigit/chathub/internal/middleware"
	"github.com/yigit/chathub/internal/pkg/websocket"
)

// SetupRouter configures all application routes
func SetupRouter(
	router *gin.Engine,
	chatController *controllers.ChatController,
	messageController *controllers.MessageController,
	wsHandler *websocket.Handler,
	authMiddleware *middleware.AuthMiddleware,
) {
	// API version group
	v1 := router.Group("/api/v1")

	v1.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, dto.NewSuccessResponse(gin.H{
			"status": "ok",
			"time":   time.Now().UTC(),
		}))
	})

	// --- Authenticated Routes Group ---
	authenticated := v1.Group("")
	authenticated.Use(authMiddleware.JWTAuth())

	chats := authenticated.Group("/chats")
	{
		chats.GET("", chatController.ListChats)
		chats.POST("/private", chatController.CreatePrivateChat)
		chats.POST("/group", chatController.CreateGroupChat)
		chats.GET("/:id", chatController.GetChat)
		chats.PATCH("/:id", chatController.UpdateChat)
		chats.DELETE("/:id", chatController.DeleteChat)

		chats.POST("/:id/participants", chatController.AddParticipant)
		chats.DELETE("/:id/participants/me", chatController.LeaveChat)

		chats.GET("/:id/messages", messageController.GetMessages)
		chats.POST("/:id/messages", messageController.SendMessage)

		chats.POST("/:id/read", chatController.MarkRead)
		chats.GET("/:id/unread", chatController.UnreadCount)
	}

	messages := authenticated.Group("/messages")
	{
		messages.GET("/:messageId", messageController.GetMessage)
		messages.PATCH("/:messageId", messageController.EditMessage)
		messages.DELETE("/:messageId", messageController.DeleteMessage)
	}

	// WebSocket route, token via Authorization header or ?token=
	router.GET("/ws", authMiddleware.JWTAuth(), wsHandler.HandleConnection)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeResourceNotFound, "Route not found")))
	})
}
