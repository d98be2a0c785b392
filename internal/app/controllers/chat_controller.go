package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yigit/chathub/internal/app/models/dto"
	"github.com/yigit/chathub/internal/app/services"
	"github.com/yigit/chathub/internal/middleware"
)

// ChatController handles chat and membership operations
type ChatController struct {
	chatService      services.ChatService
	readStateService services.ReadStateService
}

// NewChatController creates a new ChatController
func NewChatController(chatService services.ChatService, readStateService services.ReadStateService) *ChatController {
	return &ChatController{
		chatService:      chatService,
		readStateService: readStateService,
	}
}

// ListChats godoc
// @Summary List the caller's chats
// @Description Lists every chat the caller actively participates in, most recent activity first
// @Tags chats
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.APIResponse{data=[]dto.ChatListItemResponse}
// @Failure 401 {object} dto.ErrorResponse "Unauthorized"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /chats [get]
func (c *ChatController) ListChats(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}

	summaries, err := c.chatService.ListChats(ctx.Request.Context(), userID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	items := make([]dto.ChatListItemResponse, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, dto.NewChatListItemResponse(s))
	}
	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(items))
}

// CreatePrivateChat godoc
// @Summary Open a private chat
// @Description Returns the existing private chat between the caller and the other user, creating it if needed
// @Tags chats
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreatePrivateChatRequest true "Other participant"
// @Success 200 {object} dto.APIResponse{data=dto.ChatResponse}
// @Failure 400 {object} dto.ErrorResponse "Invalid request data"
// @Failure 404 {object} dto.ErrorResponse "Profile not found"
// @Failure 422 {object} dto.ErrorResponse "Cannot chat with yourself"
// @Router /chats/private [post]
func (c *ChatController) CreatePrivateChat(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}

	var req dto.CreatePrivateChatRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindingError(ctx, err)
		return
	}

	chat, err := c.chatService.CreatePrivateChat(ctx.Request.Context(), userID, req.OtherUserID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewChatResponse(chat)))
}

// CreateGroupChat godoc
// @Summary Create a group chat
// @Description Creates a named group chat; the caller becomes its admin
// @Tags chats
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateGroupChatRequest true "Group information"
// @Success 201 {object} dto.APIResponse{data=dto.ChatResponse}
// @Failure 400 {object} dto.ErrorResponse "Invalid request data"
// @Failure 404 {object} dto.ErrorResponse "Profile not found"
// @Failure 422 {object} dto.ErrorResponse "Invalid group name"
// @Router /chats/group [post]
func (c *ChatController) CreateGroupChat(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}

	var req dto.CreateGroupChatRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindingError(ctx, err)
		return
	}

	chat, err := c.chatService.CreateGroupChat(ctx.Request.Context(), userID, req.Name, req.ParticipantIDs)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, dto.NewSuccessResponse(dto.NewChatResponse(chat)))
}

// GetChat godoc
// @Summary Get chat details
// @Description Returns a chat with its active participants
// @Tags chats
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chat ID"
// @Success 200 {object} dto.APIResponse{data=dto.ChatResponse}
// @Failure 403 {object} dto.ErrorResponse "Not a participant"
// @Failure 404 {object} dto.ErrorResponse "Chat not found"
// @Router /chats/{id} [get]
func (c *ChatController) GetChat(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}
	chatID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	chat, err := c.chatService.GetChat(ctx.Request.Context(), chatID, userID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewChatResponse(chat)))
}

// UpdateChat godoc
// @Summary Rename a group chat
// @Description Only group admins may rename a group; private chats cannot be renamed
// @Tags chats
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chat ID"
// @Param request body dto.UpdateChatRequest true "New name"
// @Success 200 {object} dto.APIResponse{data=dto.ChatResponse}
// @Failure 403 {object} dto.ErrorResponse "Not an admin"
// @Failure 404 {object} dto.ErrorResponse "Chat not found"
// @Failure 422 {object} dto.ErrorResponse "Private chat or invalid name"
// @Router /chats/{id} [patch]
func (c *ChatController) UpdateChat(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}
	chatID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	var req dto.UpdateChatRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindingError(ctx, err)
		return
	}

	chat, err := c.chatService.UpdateChat(ctx.Request.Context(), chatID, userID, services.UpdateChatInput{Name: req.Name})
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewChatResponse(chat)))
}

// DeleteChat godoc
// @Summary Delete a chat
// @Description Deletes a chat with its messages and memberships. Group chats require an admin.
// @Tags chats
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chat ID"
// @Success 200 {object} dto.APIResponse{data=dto.SuccessResponse}
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 404 {object} dto.ErrorResponse "Chat not found"
// @Router /chats/{id} [delete]
func (c *ChatController) DeleteChat(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}
	chatID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	if err := c.chatService.DeleteChat(ctx.Request.Context(), chatID, userID); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.SuccessResponse{Message: "Chat deleted"}))
}

// AddParticipant godoc
// @Summary Add a member to a group chat
// @Description Adds a profile to a group chat, reactivating a former membership if one exists
// @Tags chats
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chat ID"
// @Param request body dto.AddParticipantRequest true "Profile to add"
// @Success 200 {object} dto.APIResponse{data=dto.ParticipantResponse}
// @Failure 403 {object} dto.ErrorResponse "Not a participant"
// @Failure 404 {object} dto.ErrorResponse "Chat or profile not found"
// @Failure 409 {object} dto.ErrorResponse "Already a participant"
// @Failure 422 {object} dto.ErrorResponse "Private chat"
// @Router /chats/{id}/participants [post]
func (c *ChatController) AddParticipant(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}
	chatID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	var req dto.AddParticipantRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindingError(ctx, err)
		return
	}

	participant, err := c.chatService.AddParticipant(ctx.Request.Context(), chatID, userID, req.ProfileID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewParticipantResponse(participant)))
}

// LeaveChat godoc
// @Summary Leave a group chat
// @Description Deactivates the caller's membership; the oldest member is promoted when the last admin leaves
// @Tags chats
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chat ID"
// @Success 200 {object} dto.APIResponse{data=dto.SuccessResponse}
// @Failure 403 {object} dto.ErrorResponse "Not a participant"
// @Failure 404 {object} dto.ErrorResponse "Chat not found"
// @Failure 422 {object} dto.ErrorResponse "Private chat"
// @Router /chats/{id}/participants/me [delete]
func (c *ChatController) LeaveChat(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}
	chatID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	if err := c.chatService.LeaveChat(ctx.Request.Context(), chatID, userID); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.SuccessResponse{Message: "Left chat"}))
}

// MarkRead godoc
// @Summary Mark a chat as read
// @Description Moves the caller's read marker to the newest message
// @Tags chats
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chat ID"
// @Success 200 {object} dto.APIResponse{data=dto.ReadStateResponse}
// @Failure 403 {object} dto.ErrorResponse "Not a participant"
// @Failure 404 {object} dto.ErrorResponse "Chat not found"
// @Router /chats/{id}/read [post]
func (c *ChatController) MarkRead(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}
	chatID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	state, err := c.readStateService.MarkRead(ctx.Request.Context(), chatID, userID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ReadStateResponse{
		ChatID:      state.ChatID,
		LastReadAt:  state.LastReadAt,
		UnreadCount: state.UnreadCount,
	}))
}

// UnreadCount godoc
// @Summary Get the unread count of a chat
// @Tags chats
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chat ID"
// @Success 200 {object} dto.APIResponse{data=dto.UnreadCountResponse}
// @Failure 403 {object} dto.ErrorResponse "Not a participant"
// @Failure 404 {object} dto.ErrorResponse "Chat not found"
// @Router /chats/{id}/unread [get]
func (c *ChatController) UnreadCount(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		return
	}
	chatID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	count, err := c.readStateService.UnreadCount(ctx.Request.Context(), chatID, userID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.UnreadCountResponse{ChatID: chatID, UnreadCount: count}))
}
