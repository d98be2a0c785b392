package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yigit/chathub/internal/app/models/dto"
	"github.com/yigit/chathub/internal/app/services"
	"github.com/yigit/chathub/internal/middleware"
)

// MessageController handles message history and REST message operations
type MessageController struct {
	messageService services.MessageService
}

// NewMessageController creates a new MessageController
func NewMessageController(messageService services.MessageService) *MessageController {
	return &MessageController{
		messageService: messageService,
	}
}

// GetMessages godoc
// @Summary Get chat history
// @Description Returns one newest-first page of messages. Pass nextCursor back as cursor for older messages.
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chat ID"
// @Param cursor query string false "Opaque cursor from a previous page"
// @Param limit query int false "Page size"
// @Param groupWindow query int false "Group consecutive messages by one author within this many seconds"
// @Success 200 {object} dto.APIResponse{data=dto.MessagePageResponse}
// @Failure 400 {object} dto.ErrorResponse "Invalid cursor"
// @Failure 403 {object} dto.ErrorResponse "Not a participant"
// @Failure 404 {object} dto.ErrorResponse "Chat not found"
// @Router /chats/{id}/messages [get]
func (c *MessageController) GetMessages(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}
	chatID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	var req dto.GetMessagesRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		middleware.HandleBindingError(ctx, err)
		return
	}

	page, err := c.messageService.Paginate(ctx.Request.Context(), chatID, userID, req.Cursor, req.Limit)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	resp := dto.NewMessagePageResponse(page)
	if req.GroupWindow > 0 {
		for _, g := range services.GroupMessages(page.Messages, time.Duration(req.GroupWindow)*time.Second) {
			group := dto.MessageGroupResponse{AuthorID: g.AuthorID}
			for _, m := range g.Messages {
				group.MessageIDs = append(group.MessageIDs, m.ID)
			}
			resp.Groups = append(resp.Groups, group)
		}
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

// SendMessage godoc
// @Summary Post a message
// @Description REST fallback for the websocket send-message command
// @Tags messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chat ID"
// @Param request body dto.SendMessageRequest true "Message"
// @Success 201 {object} dto.APIResponse{data=dto.MessageResponse}
// @Failure 403 {object} dto.ErrorResponse "Not a participant"
// @Failure 404 {object} dto.ErrorResponse "Chat not found"
// @Failure 422 {object} dto.ErrorResponse "Empty or oversized message"
// @Router /chats/{id}/messages [post]
func (c *MessageController) SendMessage(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}
	chatID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	var req dto.SendMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindingError(ctx, err)
		return
	}

	message, err := c.messageService.Append(ctx.Request.Context(), chatID, userID, req.Content, req.Attachments)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, dto.NewSuccessResponse(dto.NewMessageResponse(message)))
}

// GetMessage godoc
// @Summary Get a message
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param messageId path int true "Message ID"
// @Success 200 {object} dto.APIResponse{data=dto.MessageResponse}
// @Failure 403 {object} dto.ErrorResponse "Not a participant"
// @Failure 404 {object} dto.ErrorResponse "Message not found"
// @Router /messages/{messageId} [get]
func (c *MessageController) GetMessage(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}
	messageID, ok := parseIDParam(ctx, "messageId")
	if !ok {
		return
	}

	message, err := c.messageService.Get(ctx.Request.Context(), messageID, userID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewMessageResponse(message)))
}

// EditMessage godoc
// @Summary Edit a message
// @Description Only the author may edit; the message is flagged as edited
// @Tags messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param messageId path int true "Message ID"
// @Param request body dto.EditMessageRequest true "New content"
// @Success 200 {object} dto.APIResponse{data=dto.MessageResponse}
// @Failure 403 {object} dto.ErrorResponse "Not the author"
// @Failure 404 {object} dto.ErrorResponse "Message not found"
// @Router /messages/{messageId} [patch]
func (c *MessageController) EditMessage(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}
	messageID, ok := parseIDParam(ctx, "messageId")
	if !ok {
		return
	}

	var req dto.EditMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindingError(ctx, err)
		return
	}

	message, err := c.messageService.Edit(ctx.Request.Context(), messageID, userID, req.Content)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewMessageResponse(message)))
}

// DeleteMessage godoc
// @Summary Delete a message
// @Description Soft-deletes a message; only the author may delete. Deleting twice succeeds.
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param messageId path int true "Message ID"
// @Success 200 {object} dto.APIResponse{data=dto.SuccessResponse}
// @Failure 403 {object} dto.ErrorResponse "Not the author"
// @Failure 404 {object} dto.ErrorResponse "Message not found"
// @Router /messages/{messageId} [delete]
func (c *MessageController) DeleteMessage(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}
	messageID, ok := parseIDParam(ctx, "messageId")
	if !ok {
		return
	}

	if err := c.messageService.SoftDelete(ctx.Request.Context(), messageID, userID); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.SuccessResponse{Message: "Message deleted"}))
}
