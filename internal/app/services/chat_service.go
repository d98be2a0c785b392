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
	"github.com/yigit/chathub/internal/pkg/events"
)

// ChatService defines the interface for chat and participant lifecycle operations
type ChatService interface {
	CreatePrivateChat(ctx context.Context, creatorID, otherID int64) (*models.Chat, error)
	CreateGroupChat(ctx context.Context, creatorID int64, name string, participantIDs []int64) (*models.Chat, error)
	AddParticipant(ctx context.Context, chatID, actorID, targetID int64) (*models.Participant, error)
	LeaveChat(ctx context.Context, chatID, userID int64) error
	DeleteChat(ctx context.Context, chatID, userID int64) error
	UpdateChat(ctx context.Context, chatID, userID int64, input UpdateChatInput) (*models.Chat, error)
	ValidateParticipant(ctx context.Context, chatID, userID int64) (bool, error)

	GetChat(ctx context.Context, chatID, userID int64) (*models.Chat, error)
	ListChats(ctx context.Context, userID int64) ([]*models.ChatSummary, error)
	ChatIDsForUser(ctx context.Context, userID int64) ([]int64, error)
}

// UpdateChatInput holds the mutable chat attributes
type UpdateChatInput struct {
	Name string
}

// chatServiceImpl implements ChatService
type chatServiceImpl struct {
	repos     *repositories.Repositories
	publisher events.Publisher
	presence  PresenceReader
	limits    Limits
	logger    zerolog.Logger
}

// NewChatService creates a new ChatService. presence may be nil.
func NewChatService(
	repos *repositories.Repositories,
	publisher events.Publisher,
	presence PresenceReader,
	limits Limits,
	logger zerolog.Logger,
) ChatService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if presence == nil {
		presence = offlinePresence{}
	}
	return &chatServiceImpl{
		repos:     repos,
		publisher: publisher,
		presence:  presence,
		limits:    limits.withDefaults(),
		logger:    logger,
	}
}

// CreatePrivateChat returns the existing private chat of the pair or creates it
func (s *chatServiceImpl) CreatePrivateChat(ctx context.Context, creatorID, otherID int64) (*models.Chat, error) {
	s.logger.Debug().
		Int64("creatorID", creatorID).
		Int64("otherID", otherID).
		Msg("Creating private chat")

	if creatorID == otherID {
		return nil, apperrors.NewInvalidOperationError("Cannot start a private chat with yourself")
	}

	if err := s.requireProfiles(ctx, []int64{creatorID, otherID}); err != nil {
		return nil, err
	}

	existing, err := s.repos.Chats.FindPrivateBetween(ctx, creatorID, otherID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to look up private chat")
		return nil, err
	}
	if existing != nil {
		return s.withParticipants(ctx, existing)
	}

	chat := &models.Chat{
		Kind:      models.ChatKindPrivate,
		CreatorID: creatorID,
	}
	participants := []*models.Participant{
		{ProfileID: creatorID, Role: models.RoleMember},
		{ProfileID: otherID, Role: models.RoleMember},
	}

	if err := s.repos.Chats.CreateWithParticipants(ctx, chat, participants); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			s.logger.Error().Err(err).Msg("Failed to create private chat")
			return nil, err
		}

		// lost a race against the same pair; the winner's chat is the answer
		existing, findErr := s.repos.Chats.FindPrivateBetween(ctx, creatorID, otherID)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, err
		}
		return s.withParticipants(ctx, existing)
	}

	s.logger.Info().
		Int64("chatID", chat.ID).
		Int64("creatorID", creatorID).
		Int64("otherID", otherID).
		Msg("Private chat created")

	return s.withParticipants(ctx, chat)
}

// CreateGroupChat creates a group chat with the creator as ADMIN
func (s *chatServiceImpl) CreateGroupChat(ctx context.Context, creatorID int64, name string, participantIDs []int64) (*models.Chat, error) {
	s.logger.Debug().
		Int64("creatorID", creatorID).
		Str("name", name).
		Ints64("participantIDs", participantIDs).
		Msg("Creating group chat")

	name, err := s.normalizeName(name)
	if err != nil {
		return nil, err
	}

	members := []int64{creatorID}
	seen := map[int64]bool{creatorID: true}
	for _, id := range participantIDs {
		if !seen[id] {
			seen[id] = true
			members = append(members, id)
		}
	}

	if err := s.requireProfiles(ctx, members); err != nil {
		return nil, err
	}

	chat := &models.Chat{
		Kind:      models.ChatKindGroup,
		Name:      name,
		CreatorID: creatorID,
	}
	participants := make([]*models.Participant, 0, len(members))
	for _, id := range members {
		role := models.RoleMember
		if id == creatorID {
			role = models.RoleAdmin
		}
		participants = append(participants, &models.Participant{ProfileID: id, Role: role})
	}

	if err := s.repos.Chats.CreateWithParticipants(ctx, chat, participants); err != nil {
		s.logger.Error().Err(err).Int64("creatorID", creatorID).Msg("Failed to create group chat")
		return nil, err
	}

	s.logger.Info().
		Int64("chatID", chat.ID).
		Int64("creatorID", creatorID).
		Int("participants", len(participants)).
		Msg("Group chat created")

	return s.withParticipants(ctx, chat)
}

// AddParticipant adds or reactivates a member of a group chat
func (s *chatServiceImpl) AddParticipant(ctx context.Context, chatID, actorID, targetID int64) (*models.Participant, error) {
	s.logger.Debug().
		Int64("chatID", chatID).
		Int64("actorID", actorID).
		Int64("targetID", targetID).
		Msg("Adding participant")

	chat, err := s.repos.Chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if err := requireParticipant(ctx, s.repos, chatID, actorID); err != nil {
		return nil, err
	}

	if chat.IsPrivate() {
		return nil, apperrors.Wrap(apperrors.ErrInvalidOperation, apperrors.ErrPrivateChatReadOnly)
	}

	participant, reactivated, err := s.repos.Participants.AddOrReactivate(ctx, chatID, targetID)
	if err != nil {
		s.logger.Warn().Err(err).
			Int64("chatID", chatID).
			Int64("targetID", targetID).
			Msg("Failed to add participant")
		return nil, err
	}

	if profiles, err := s.repos.Profiles.GetByIDs(ctx, []int64{targetID}); err == nil {
		participant.Profile = profiles[targetID]
	}

	s.logger.Info().
		Int64("chatID", chatID).
		Int64("targetID", targetID).
		Bool("reactivated", reactivated).
		Msg("Participant joined chat")

	recipients, err := activeProfileIDs(ctx, s.repos, chatID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("chatID", chatID).Msg("Failed to resolve event recipients")
		recipients = []int64{targetID}
	}
	s.publisher.Publish(events.New(events.ParticipantJoined, chatID, events.ParticipantPayload{
		Participant: participant,
		ActorID:     actorID,
	}).ToUsers(recipients...))

	return participant, nil
}

// LeaveChat marks the caller's membership of a group chat as left
func (s *chatServiceImpl) LeaveChat(ctx context.Context, chatID, userID int64) error {
	s.logger.Debug().
		Int64("chatID", chatID).
		Int64("userID", userID).
		Msg("Leaving chat")

	chat, err := s.repos.Chats.GetByID(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.IsPrivate() {
		return apperrors.Wrap(apperrors.ErrInvalidOperation, apperrors.ErrPrivateChatReadOnly)
	}

	left, promoted, err := s.repos.Participants.Leave(ctx, chatID, userID)
	if err != nil {
		return err
	}

	s.logger.Info().
		Int64("chatID", chatID).
		Int64("userID", userID).
		Msg("Participant left chat")

	s.publisher.Publish(events.New(events.ParticipantLeft, chatID, events.ParticipantPayload{
		Participant: left,
		ActorID:     userID,
	}))

	if promoted != nil {
		s.logger.Info().
			Int64("chatID", chatID).
			Int64("profileID", promoted.ProfileID).
			Msg("Promoted longest-standing member to admin")

		s.publisher.Publish(events.New(events.ParticipantRole, chatID, events.ParticipantPayload{
			Participant: promoted,
			ActorID:     userID,
		}))
	}

	return nil
}

// DeleteChat hard-deletes the chat with all its messages and memberships
func (s *chatServiceImpl) DeleteChat(ctx context.Context, chatID, userID int64) error {
	s.logger.Debug().
		Int64("chatID", chatID).
		Int64("userID", userID).
		Msg("Deleting chat")

	chat, err := s.repos.Chats.GetByID(ctx, chatID)
	if err != nil {
		return err
	}

	participant, err := s.activeParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}

	if !chat.IsPrivate() && !participant.IsAdmin() {
		return apperrors.NewForbiddenError("Only an admin can delete a group chat")
	}

	recipients, err := activeProfileIDs(ctx, s.repos, chatID)
	if err != nil {
		return err
	}

	if err := s.repos.Chats.DeleteCascade(ctx, chatID); err != nil {
		s.logger.Error().Err(err).Int64("chatID", chatID).Msg("Failed to delete chat")
		return err
	}

	s.logger.Info().
		Int64("chatID", chatID).
		Int64("userID", userID).
		Msg("Chat deleted")

	s.publisher.Publish(events.New(events.ChatDeleted, chatID, events.ChatDeletedPayload{
		DeletedBy: userID,
	}).ToUsers(recipients...))

	return nil
}

// UpdateChat renames a group chat; admin only
func (s *chatServiceImpl) UpdateChat(ctx context.Context, chatID, userID int64, input UpdateChatInput) (*models.Chat, error) {
	s.logger.Debug().
		Int64("chatID", chatID).
		Int64("userID", userID).
		Str("name", input.Name).
		Msg("Updating chat")

	chat, err := s.repos.Chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	participant, err := s.activeParticipant(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	if chat.IsPrivate() {
		return nil, apperrors.Wrap(apperrors.ErrInvalidOperation, apperrors.ErrPrivateChatReadOnly)
	}

	if !participant.IsAdmin() {
		return nil, apperrors.NewForbiddenError("Only an admin can update the chat")
	}

	name, err := s.normalizeName(input.Name)
	if err != nil {
		return nil, err
	}

	updated, err := s.repos.Chats.UpdateName(ctx, chatID, name)
	if err != nil {
		s.logger.Error().Err(err).Int64("chatID", chatID).Msg("Failed to update chat")
		return nil, err
	}

	s.publisher.Publish(events.New(events.ChatUpdated, chatID, events.ChatPayload{Chat: updated}))

	return updated, nil
}

// ValidateParticipant checks whether the user is an active participant of the chat
func (s *chatServiceImpl) ValidateParticipant(ctx context.Context, chatID, userID int64) (bool, error) {
	return s.repos.Participants.IsActive(ctx, chatID, userID)
}

// GetChat returns the chat with its active participants
func (s *chatServiceImpl) GetChat(ctx context.Context, chatID, userID int64) (*models.Chat, error) {
	if err := requireParticipant(ctx, s.repos, chatID, userID); err != nil {
		return nil, err
	}

	chat, err := s.repos.Chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	return s.withParticipants(ctx, chat)
}

// ListChats returns the caller's chats ordered by latest activity
func (s *chatServiceImpl) ListChats(ctx context.Context, userID int64) ([]*models.ChatSummary, error) {
	summaries, err := s.repos.Chats.ListForProfile(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Int64("userID", userID).Msg("Failed to list chats")
		return nil, err
	}

	for _, summary := range summaries {
		if summary.OtherProfileID != nil {
			summary.OtherOnline = s.presence.IsOnline(*summary.OtherProfileID)
		}
	}

	return summaries, nil
}

// ChatIDsForUser lists the chats the user actively participates in
func (s *chatServiceImpl) ChatIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	return s.repos.Chats.ListIDsForProfile(ctx, userID)
}

// activeParticipant returns the caller's active membership or Forbidden
func (s *chatServiceImpl) activeParticipant(ctx context.Context, chatID, userID int64) (*models.Participant, error) {
	participant, err := s.repos.Participants.Get(ctx, chatID, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.Wrap(apperrors.ErrPermissionDenied, apperrors.ErrNotParticipant)
		}
		return nil, err
	}
	if !participant.IsActive() {
		return nil, apperrors.Wrap(apperrors.ErrPermissionDenied, apperrors.ErrNotParticipant)
	}
	return participant, nil
}

func (s *chatServiceImpl) withParticipants(ctx context.Context, chat *models.Chat) (*models.Chat, error) {
	participants, err := s.repos.Participants.ListActive(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	chat.Participants = participants
	return chat, nil
}

func (s *chatServiceImpl) requireProfiles(ctx context.Context, ids []int64) error {
	missing, err := s.repos.Profiles.FindMissing(ctx, ids)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return apperrors.Wrap(apperrors.ErrResourceNotFound,
			fmt.Errorf("%w: %v", apperrors.ErrProfileNotFound, missing))
	}
	return nil
}

func (s *chatServiceImpl) normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.NewInvalidOperationError("Group chat name cannot be empty")
	}
	if utf8.RuneCountInString(name) > s.limits.MaxChatName {
		return "", apperrors.NewInvalidOperationError(
			fmt.Sprintf("Group chat name cannot exceed %d characters", s.limits.MaxChatName))
	}
	return name, nil
}
