package services

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/yigit/chathub/internal/app/models"
	"github.com/yigit/chathub/internal/app/repositories"
	"github.com/yigit/chathub/internal/pkg/events"
)

// ReadStateService defines the interface for read markers and unread counts
type ReadStateService interface {
	MarkRead(ctx context.Context, chatID, userID int64) (*models.ReadState, error)
	UnreadCount(ctx context.Context, chatID, userID int64) (int64, error)
}

// readStateServiceImpl implements ReadStateService
type readStateServiceImpl struct {
	repos     *repositories.Repositories
	publisher events.Publisher
	logger    zerolog.Logger
}

// NewReadStateService creates a new ReadStateService
func NewReadStateService(repos *repositories.Repositories, publisher events.Publisher, logger zerolog.Logger) ReadStateService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &readStateServiceImpl{
		repos:     repos,
		publisher: publisher,
		logger:    logger,
	}
}

// MarkRead moves the caller's read marker to now and returns the resulting state
func (s *readStateServiceImpl) MarkRead(ctx context.Context, chatID, userID int64) (*models.ReadState, error) {
	s.logger.Debug().
		Int64("chatID", chatID).
		Int64("userID", userID).
		Msg("Marking chat as read")

	if err := requireParticipant(ctx, s.repos, chatID, userID); err != nil {
		return nil, err
	}

	participant, err := s.repos.Participants.MarkRead(ctx, chatID, userID)
	if err != nil {
		s.logger.Error().Err(err).Int64("chatID", chatID).Int64("userID", userID).Msg("Failed to mark chat as read")
		return nil, err
	}

	count, err := s.repos.Messages.CountUnread(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	state := &models.ReadState{
		ChatID:      chatID,
		UserID:      userID,
		LastReadAt:  *participant.LastReadAt,
		UnreadCount: count,
	}

	s.publisher.Publish(events.New(events.ReadStateChanged, chatID, events.ReadStatePayload{
		UserID:      userID,
		LastReadAt:  state.LastReadAt,
		UnreadCount: state.UnreadCount,
	}).ToUsers(userID))

	return state, nil
}

// UnreadCount counts the caller's unread messages in the chat, computed live
func (s *readStateServiceImpl) UnreadCount(ctx context.Context, chatID, userID int64) (int64, error) {
	if err := requireParticipant(ctx, s.repos, chatID, userID); err != nil {
		return 0, err
	}

	count, err := s.repos.Messages.CountUnread(ctx, chatID, userID)
	if err != nil {
		s.logger.Error().Err(err).Int64("chatID", chatID).Int64("userID", userID).Msg("Failed to count unread messages")
		return 0, err
	}

	return count, nil
}
