package services

import (
	"context"
	"errors"

	"github.com/yigit/chathub/internal/app/repositories"
	"github.com/yigit/chathub/internal/pkg/apperrors"
)

// Services defined in this package:
// - ChatService: chat and participant lifecycle (the chat directory)
// - MessageService: message append, edit, soft-delete and pagination
// - ReadStateService: read markers and live unread counts

// Limits bounds user input and page sizes
type Limits struct {
	MaxMessageLength int
	MaxAttachments   int
	MaxAttachmentRef int
	MaxChatName      int
	DefaultPageSize  int
	MaxPageSize      int
}

// DefaultLimits returns the limits used when no configuration is given
func DefaultLimits() Limits {
	return Limits{
		MaxMessageLength: 4000,
		MaxAttachments:   10,
		MaxAttachmentRef: 512,
		MaxChatName:      128,
		DefaultPageSize:  30,
		MaxPageSize:      100,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxMessageLength <= 0 {
		l.MaxMessageLength = d.MaxMessageLength
	}
	if l.MaxAttachments <= 0 {
		l.MaxAttachments = d.MaxAttachments
	}
	if l.MaxAttachmentRef <= 0 {
		l.MaxAttachmentRef = d.MaxAttachmentRef
	}
	if l.MaxChatName <= 0 {
		l.MaxChatName = d.MaxChatName
	}
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = d.DefaultPageSize
	}
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = d.MaxPageSize
	}
	return l
}

// PresenceReader answers whether a user currently has a live connection
type PresenceReader interface {
	IsOnline(userID int64) bool
}

type offlinePresence struct{}

func (offlinePresence) IsOnline(int64) bool { return false }

// requireParticipant fails with NotFound when the chat does not exist and
// with Forbidden when the user is not an active participant
func requireParticipant(ctx context.Context, repos *repositories.Repositories, chatID, userID int64) error {
	active, err := repos.Participants.IsActive(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if active {
		return nil
	}

	if _, err := repos.Chats.GetByID(ctx, chatID); err != nil {
		return err
	}
	return apperrors.Wrap(apperrors.ErrPermissionDenied, apperrors.ErrNotParticipant)
}

// activeProfileIDs lists the profile ids of the chat's active members
func activeProfileIDs(ctx context.Context, repos *repositories.Repositories, chatID int64) ([]int64, error) {
	participants, err := repos.Participants.ListActive(ctx, chatID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ProfileID)
	}
	return ids, nil
}

// isNotFound reports whether err is a NotFound from the repositories
func isNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrResourceNotFound)
}
