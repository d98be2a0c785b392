package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/yigit/chathub/internal/app/models"
	"github.com/yigit/chathub/internal/app/repositories"
	"github.com/yigit/chathub/internal/pkg/apperrors"
	"github.com/yigit/chathub/internal/pkg/cursor"
	"github.com/yigit/chathub/internal/pkg/events"
)

const previewLength = 120

// MessageService defines the interface for message operations
type MessageService interface {
	Append(ctx context.Context, chatID, authorID int64, content string, attachments []string) (*models.Message, error)
	Edit(ctx context.Context, messageID, authorID int64, content string) (*models.Message, error)
	SoftDelete(ctx context.Context, messageID, authorID int64) error
	Paginate(ctx context.Context, chatID, userID int64, rawCursor string, limit int) (*models.MessagePage, error)
	Get(ctx context.Context, messageID, userID int64) (*models.Message, error)
}

// messageServiceImpl implements MessageService
type messageServiceImpl struct {
	repos     *repositories.Repositories
	publisher events.Publisher
	limits    Limits
	logger    zerolog.Logger
}

// NewMessageService creates a new MessageService
func NewMessageService(
	repos *repositories.Repositories,
	publisher events.Publisher,
	limits Limits,
	logger zerolog.Logger,
) MessageService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &messageServiceImpl{
		repos:     repos,
		publisher: publisher,
		limits:    limits.withDefaults(),
		logger:    logger,
	}
}

// Append stores a new message and then fans it out to the chat
func (s *messageServiceImpl) Append(ctx context.Context, chatID, authorID int64, content string, attachments []string) (*models.Message, error) {
	s.logger.Debug().
		Int64("chatID", chatID).
		Int64("authorID", authorID).
		Int("attachments", len(attachments)).
		Msg("Appending message")

	content, err := s.normalizeContent(content, len(attachments) > 0)
	if err != nil {
		return nil, err
	}

	refs, err := s.normalizeAttachments(attachments)
	if err != nil {
		return nil, err
	}

	if err := requireParticipant(ctx, s.repos, chatID, authorID); err != nil {
		return nil, err
	}

	message := &models.Message{
		ChatID:      chatID,
		AuthorID:    authorID,
		Content:     content,
		Attachments: refs,
	}

	if err := s.repos.Messages.Create(ctx, message); err != nil {
		s.logger.Error().Err(err).
			Int64("chatID", chatID).
			Int64("authorID", authorID).
			Msg("Failed to store message")
		return nil, err
	}

	s.attachAuthors(ctx, []*models.Message{message})

	s.logger.Info().
		Int64("chatID", chatID).
		Int64("messageID", message.ID).
		Int64("authorID", authorID).
		Msg("Message stored")

	// the write is durable from here on; fan-out problems are only logged
	s.publisher.Publish(events.New(events.MessageCreated, chatID, events.MessagePayload{Message: message}))

	recipients, err := activeProfileIDs(ctx, s.repos, chatID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("chatID", chatID).Msg("Failed to resolve last-message recipients")
		return message, nil
	}
	s.publisher.Publish(events.New(events.ChatLastMessage, chatID, events.LastMessagePayload{
		MessageID: message.ID,
		AuthorID:  authorID,
		Preview:   preview(message),
		CreatedAt: message.CreatedAt,
	}).ToUsers(recipients...))

	return message, nil
}

// Edit replaces the content of the author's own live message
func (s *messageServiceImpl) Edit(ctx context.Context, messageID, authorID int64, content string) (*models.Message, error) {
	s.logger.Debug().
		Int64("messageID", messageID).
		Int64("authorID", authorID).
		Msg("Editing message")

	message, err := s.ownMessage(ctx, messageID, authorID)
	if err != nil {
		return nil, err
	}
	if message.Deleted {
		return nil, apperrors.Wrap(apperrors.ErrResourceNotFound, apperrors.ErrMessageNotFound)
	}

	content, err = s.normalizeContent(content, len(message.Attachments) > 0)
	if err != nil {
		return nil, err
	}

	updated, err := s.repos.Messages.UpdateContent(ctx, messageID, content)
	if err != nil {
		s.logger.Error().Err(err).Int64("messageID", messageID).Msg("Failed to edit message")
		return nil, err
	}

	s.attachAuthors(ctx, []*models.Message{updated})

	s.publisher.Publish(events.New(events.MessageEdited, updated.ChatID, events.MessagePayload{Message: updated}))

	return updated, nil
}

// SoftDelete flags the author's own message as deleted; repeating it is a no-op
func (s *messageServiceImpl) SoftDelete(ctx context.Context, messageID, authorID int64) error {
	s.logger.Debug().
		Int64("messageID", messageID).
		Int64("authorID", authorID).
		Msg("Deleting message")

	message, err := s.ownMessage(ctx, messageID, authorID)
	if err != nil {
		return err
	}
	if message.Deleted {
		return nil
	}

	if _, err := s.repos.Messages.SoftDelete(ctx, messageID); err != nil {
		if isNotFound(err) {
			// deleted concurrently by another request of the author
			return nil
		}
		s.logger.Error().Err(err).Int64("messageID", messageID).Msg("Failed to delete message")
		return err
	}

	s.logger.Info().
		Int64("chatID", message.ChatID).
		Int64("messageID", messageID).
		Msg("Message soft-deleted")

	s.publisher.Publish(events.New(events.MessageDeleted, message.ChatID, events.MessageDeletedPayload{
		MessageID: messageID,
		AuthorID:  authorID,
	}))

	return nil
}

// Paginate returns one newest-first page of live messages older than the cursor
func (s *messageServiceImpl) Paginate(ctx context.Context, chatID, userID int64, rawCursor string, limit int) (*models.MessagePage, error) {
	s.logger.Debug().
		Int64("chatID", chatID).
		Int64("userID", userID).
		Str("cursor", rawCursor).
		Int("limit", limit).
		Msg("Paginating messages")

	before, err := cursor.Decode(rawCursor)
	if err != nil {
		return nil, apperrors.NewBadRequestError("Invalid pagination cursor")
	}

	switch {
	case limit <= 0:
		limit = s.limits.DefaultPageSize
	case limit > s.limits.MaxPageSize:
		limit = s.limits.MaxPageSize
	}

	if err := requireParticipant(ctx, s.repos, chatID, userID); err != nil {
		return nil, err
	}

	messages, err := s.repos.Messages.ListBefore(ctx, chatID, before, limit+1)
	if err != nil {
		s.logger.Error().Err(err).Int64("chatID", chatID).Msg("Failed to list messages")
		return nil, err
	}

	page := &models.MessagePage{Messages: messages}
	if len(messages) > limit {
		page.Messages = messages[:limit]
		page.HasMore = true
		oldest := page.Messages[limit-1]
		page.NextCursor = cursor.Encode(cursor.Position{CreatedAt: oldest.CreatedAt, ID: oldest.ID})
	}

	s.attachAuthors(ctx, page.Messages)

	return page, nil
}

// Get returns a single live message of a chat the user participates in
func (s *messageServiceImpl) Get(ctx context.Context, messageID, userID int64) (*models.Message, error) {
	message, err := s.repos.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if err := requireParticipant(ctx, s.repos, message.ChatID, userID); err != nil {
		return nil, err
	}

	if message.Deleted {
		return nil, apperrors.Wrap(apperrors.ErrResourceNotFound, apperrors.ErrMessageNotFound)
	}

	s.attachAuthors(ctx, []*models.Message{message})
	return message, nil
}

// ownMessage loads a message the caller authored in a chat they still belong to
func (s *messageServiceImpl) ownMessage(ctx context.Context, messageID, authorID int64) (*models.Message, error) {
	message, err := s.repos.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if message.AuthorID != authorID {
		return nil, apperrors.NewForbiddenError("Only the author can modify this message")
	}

	if err := requireParticipant(ctx, s.repos, message.ChatID, authorID); err != nil {
		return nil, err
	}

	return message, nil
}

func (s *messageServiceImpl) normalizeContent(content string, hasAttachments bool) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" && !hasAttachments {
		return "", apperrors.Wrap(apperrors.ErrInvalidOperation, apperrors.ErrEmptyMessage)
	}
	if utf8.RuneCountInString(content) > s.limits.MaxMessageLength {
		return "", apperrors.NewInvalidOperationError(
			fmt.Sprintf("Message cannot exceed %d characters", s.limits.MaxMessageLength))
	}
	return content, nil
}

func (s *messageServiceImpl) normalizeAttachments(attachments []string) ([]string, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	if len(attachments) > s.limits.MaxAttachments {
		return nil, apperrors.NewInvalidOperationError(
			fmt.Sprintf("A message can carry at most %d attachments", s.limits.MaxAttachments))
	}

	refs := make([]string, 0, len(attachments))
	for _, ref := range attachments {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return nil, apperrors.NewInvalidOperationError("Attachment reference cannot be empty")
		}
		if len(ref) > s.limits.MaxAttachmentRef {
			return nil, apperrors.NewInvalidOperationError("Attachment reference is too long")
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// attachAuthors fills Message.Author; a lookup failure leaves authors empty
func (s *messageServiceImpl) attachAuthors(ctx context.Context, messages []*models.Message) {
	if len(messages) == 0 {
		return
	}

	seen := make(map[int64]bool, len(messages))
	ids := make([]int64, 0, len(messages))
	for _, m := range messages {
		if !seen[m.AuthorID] {
			seen[m.AuthorID] = true
			ids = append(ids, m.AuthorID)
		}
	}

	profiles, err := s.repos.Profiles.GetByIDs(ctx, ids)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Msg("Failed to load message authors")
		}
		return
	}

	for _, m := range messages {
		m.Author = profiles[m.AuthorID]
	}
}

// preview shortens a message for chat-list rows
func preview(m *models.Message) string {
	if m.Content == "" && len(m.Attachments) > 0 {
		return "[attachment]"
	}
	if utf8.RuneCountInString(m.Content) <= previewLength {
		return m.Content
	}
	runes := []rune(m.Content)
	return string(runes[:previewLength]) + "…"
}
