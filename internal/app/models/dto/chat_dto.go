package dto

import (
	"time"

	"github.com/yigit/chathub/internal/app/models"
)

// CreatePrivateChatRequest represents the request to open a private chat
type CreatePrivateChatRequest struct {
	OtherUserID int64 `json:"otherUserId" binding:"required,gt=0" example:"2"`
}

// CreateGroupChatRequest represents the request to create a group chat
type CreateGroupChatRequest struct {
	Name           string  `json:"name" binding:"required,max=128" example:"Weekend hike"`
	ParticipantIDs []int64 `json:"participantIds" binding:"omitempty,dive,gt=0"`
}

// UpdateChatRequest represents the request to rename a group chat
type UpdateChatRequest struct {
	Name string `json:"name" binding:"required,max=128" example:"Sunday hike"`
}

// AddParticipantRequest represents the request to add a member to a group chat
type AddParticipantRequest struct {
	ProfileID int64 `json:"profileId" binding:"required,gt=0" example:"3"`
}

// SendMessageRequest represents the request to post a message
type SendMessageRequest struct {
	Content     string   `json:"content" example:"Hello there"`
	Attachments []string `json:"attachments" binding:"omitempty,dive,required"`
}

// EditMessageRequest represents the request to change a message's content
type EditMessageRequest struct {
	Content string `json:"content" binding:"required" example:"Hello again"`
}

// GetMessagesRequest represents the query parameters of a history page
type GetMessagesRequest struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit" binding:"omitempty,min=1"`
	// GroupWindow, in seconds, adds display groups of consecutive messages by one author
	GroupWindow int `form:"groupWindow" binding:"omitempty,min=1,max=86400"`
}

// ProfileResponse is the public part of a profile
type ProfileResponse struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// ParticipantResponse represents a chat membership
type ParticipantResponse struct {
	ID         int64            `json:"id"`
	ProfileID  int64            `json:"profileId"`
	Role       string           `json:"role"`
	JoinedAt   time.Time        `json:"joinedAt"`
	LastReadAt *time.Time       `json:"lastReadAt,omitempty"`
	Profile    *ProfileResponse `json:"profile,omitempty"`
}

// ChatResponse represents a chat with its active participants
type ChatResponse struct {
	ID           int64                 `json:"id"`
	Kind         string                `json:"kind"`
	Name         string                `json:"name,omitempty"`
	CreatorID    int64                 `json:"creatorId"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
	Participants []ParticipantResponse `json:"participants,omitempty"`
}

// MessageResponse represents a chat message
type MessageResponse struct {
	ID          int64            `json:"id"`
	ChatID      int64            `json:"chatId"`
	AuthorID    int64            `json:"authorId"`
	Author      *ProfileResponse `json:"author,omitempty"`
	Content     string           `json:"content"`
	Attachments []string         `json:"attachments"`
	IsEdited    bool             `json:"isEdited"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// ChatListItemResponse is one row of the caller's chat list
type ChatListItemResponse struct {
	ID             int64            `json:"id"`
	Kind           string           `json:"kind"`
	Name           string           `json:"name,omitempty"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	LastMessage    *MessageResponse `json:"lastMessage,omitempty"`
	UnreadCount    int64            `json:"unreadCount"`
	LastReadAt     *time.Time       `json:"lastReadAt,omitempty"`
	OtherProfileID *int64           `json:"otherProfileId,omitempty"`
	OtherOnline    bool             `json:"otherOnline"`
}

// MessageGroupResponse lists the ids of consecutive messages by one author
type MessageGroupResponse struct {
	AuthorID   int64   `json:"authorId"`
	MessageIDs []int64 `json:"messageIds"`
}

// MessagePageResponse is one newest-first page of history
type MessagePageResponse struct {
	Messages   []MessageResponse      `json:"messages"`
	HasMore    bool                   `json:"hasMore"`
	NextCursor string                 `json:"nextCursor,omitempty"`
	Groups     []MessageGroupResponse `json:"groups,omitempty"`
}

// ReadStateResponse reports a read marker and the unread count it implies
type ReadStateResponse struct {
	ChatID      int64     `json:"chatId"`
	LastReadAt  time.Time `json:"lastReadAt"`
	UnreadCount int64     `json:"unreadCount"`
}

// UnreadCountResponse reports the unread count of a chat
type UnreadCountResponse struct {
	ChatID      int64 `json:"chatId"`
	UnreadCount int64 `json:"unreadCount"`
}

// NewProfileResponse converts a profile; nil stays nil
func NewProfileResponse(p *models.Profile) *ProfileResponse {
	if p == nil {
		return nil
	}
	return &ProfileResponse{ID: p.ID, Username: p.Username, DisplayName: p.DisplayName}
}

// NewParticipantResponse converts a participant
func NewParticipantResponse(p *models.Participant) ParticipantResponse {
	return ParticipantResponse{
		ID:         p.ID,
		ProfileID:  p.ProfileID,
		Role:       string(p.Role),
		JoinedAt:   p.JoinedAt,
		LastReadAt: p.LastReadAt,
		Profile:    NewProfileResponse(p.Profile),
	}
}

// NewChatResponse converts a chat and its loaded participants
func NewChatResponse(c *models.Chat) ChatResponse {
	resp := ChatResponse{
		ID:        c.ID,
		Kind:      string(c.Kind),
		Name:      c.Name,
		CreatorID: c.CreatorID,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	for _, p := range c.Participants {
		resp.Participants = append(resp.Participants, NewParticipantResponse(p))
	}
	return resp
}

// NewMessageResponse converts a message
func NewMessageResponse(m *models.Message) MessageResponse {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	return MessageResponse{
		ID:          m.ID,
		ChatID:      m.ChatID,
		AuthorID:    m.AuthorID,
		Author:      NewProfileResponse(m.Author),
		Content:     m.Content,
		Attachments: attachments,
		IsEdited:    m.IsEdited,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// NewChatListItemResponse converts a chat summary
func NewChatListItemResponse(s *models.ChatSummary) ChatListItemResponse {
	item := ChatListItemResponse{
		ID:             s.Chat.ID,
		Kind:           string(s.Chat.Kind),
		Name:           s.Chat.Name,
		UpdatedAt:      s.Chat.UpdatedAt,
		UnreadCount:    s.UnreadCount,
		LastReadAt:     s.LastReadAt,
		OtherProfileID: s.OtherProfileID,
		OtherOnline:    s.OtherOnline,
	}
	if s.LastMessage != nil {
		msg := NewMessageResponse(s.LastMessage)
		item.LastMessage = &msg
	}
	return item
}

// NewMessagePageResponse converts a page of history
func NewMessagePageResponse(page *models.MessagePage) MessagePageResponse {
	resp := MessagePageResponse{
		Messages:   make([]MessageResponse, 0, len(page.Messages)),
		HasMore:    page.HasMore,
		NextCursor: page.NextCursor,
	}
	for _, m := range page.Messages {
		resp.Messages = append(resp.Messages, NewMessageResponse(m))
	}
	return resp
}
