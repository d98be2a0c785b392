// Package memory is an in-process implementation of the chat repositories.
// It backs the `memory` storage driver and the service tests. All state sits
// behind one RWMutex, so every repository call observes a consistent snapshot.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yigit/chathub/internal/app/models"
	"github.com/yigit/chathub/internal/app/repositories"
	"github.com/yigit/chathub/internal/pkg/apperrors"
	"github.com/yigit/chathub/internal/pkg/cursor"
)

// Store holds profiles, chats, participants and messages
type Store struct {
	mu   sync.RWMutex
	now  func() time.Time
	last time.Time

	nextProfileID     int64
	nextChatID        int64
	nextParticipantID int64
	nextMessageID     int64

	profiles     map[int64]*models.Profile
	chats        map[int64]*models.Chat
	participants map[int64]map[int64]*models.Participant // chatID -> profileID
	messages     map[int64]*models.Message
	chatMessages map[int64][]int64 // chatID -> message ids, oldest first
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces the wall clock, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:          time.Now,
		profiles:     make(map[int64]*models.Profile),
		chats:        make(map[int64]*models.Chat),
		participants: make(map[int64]map[int64]*models.Participant),
		messages:     make(map[int64]*models.Message),
		chatMessages: make(map[int64][]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repositories exposes the store through the repository interfaces
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Chats:        &chatRepository{s: s},
		Participants: &participantRepository{s: s},
		Messages:     &messageRepository{s: s},
		Profiles:     &profileRepository{s: s},
	}
}

// tick returns a strictly increasing timestamp at the precision PostgreSQL
// stores, so (createdAt, id) ordering matches the SQL implementation.
// Callers must hold the write lock.
func (s *Store) tick() time.Time {
	now := s.now().UTC().Truncate(time.Microsecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

// UpsertProfile creates the profile or updates its display name
func (s *Store) UpsertProfile(_ context.Context, username, displayName string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.profiles {
		if strings.EqualFold(p.Username, username) {
			p.DisplayName = displayName
			cp := *p
			return &cp, nil
		}
	}

	s.nextProfileID++
	p := &models.Profile{ID: s.nextProfileID, Username: username, DisplayName: displayName}
	s.profiles[p.ID] = p

	cp := *p
	return &cp, nil
}

func chatNotFound(id int64) error {
	return apperrors.Wrap(apperrors.ErrResourceNotFound,
		fmt.Errorf("%w: id %d", apperrors.ErrChatNotFound, id))
}

func messageNotFound(id int64) error {
	return apperrors.Wrap(apperrors.ErrResourceNotFound,
		fmt.Errorf("%w: id %d", apperrors.ErrMessageNotFound, id))
}

func profileNotFound(id int64) error {
	return apperrors.Wrap(apperrors.ErrResourceNotFound,
		fmt.Errorf("%w: id %d", apperrors.ErrProfileNotFound, id))
}

func notParticipant() error {
	return apperrors.Wrap(apperrors.ErrPermissionDenied, apperrors.ErrNotParticipant)
}

func copyChat(c *models.Chat) *models.Chat {
	cp := *c
	cp.Participants = nil
	return &cp
}

func copyParticipant(p *models.Participant) *models.Participant {
	cp := *p
	if p.LeftAt != nil {
		t := *p.LeftAt
		cp.LeftAt = &t
	}
	if p.LastReadAt != nil {
		t := *p.LastReadAt
		cp.LastReadAt = &t
	}
	if p.Profile != nil {
		pr := *p.Profile
		cp.Profile = &pr
	}
	return &cp
}

func copyMessage(m *models.Message) *models.Message {
	cp := *m
	if m.Attachments != nil {
		cp.Attachments = append([]string(nil), m.Attachments...)
	}
	return &cp
}

type chatRepository struct{ s *Store }

func (r *chatRepository) CreateWithParticipants(_ context.Context, chat *models.Chat, participants []*models.Participant) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[chat.CreatorID]; !ok {
		return profileNotFound(chat.CreatorID)
	}
	for _, p := range participants {
		if _, ok := s.profiles[p.ProfileID]; !ok {
			return profileNotFound(p.ProfileID)
		}
	}

	if chat.IsPrivate() {
		if len(participants) != 2 {
			return fmt.Errorf("private chat requires exactly two participants, got %d", len(participants))
		}
		if s.findPrivateLocked(participants[0].ProfileID, participants[1].ProfileID) != nil {
			return apperrors.NewConflictError("a private chat already exists for this pair")
		}
	}

	now := s.tick()
	s.nextChatID++
	chat.ID = s.nextChatID
	chat.CreatedAt = now
	chat.UpdatedAt = now
	s.chats[chat.ID] = copyChat(chat)

	members := make(map[int64]*models.Participant, len(participants))
	for _, p := range participants {
		s.nextParticipantID++
		p.ID = s.nextParticipantID
		p.ChatID = chat.ID
		p.JoinedAt = now
		members[p.ProfileID] = copyParticipant(p)
	}
	s.participants[chat.ID] = members
	chat.Participants = participants

	return nil
}

func (r *chatRepository) GetByID(_ context.Context, id int64) (*models.Chat, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	chat, ok := r.s.chats[id]
	if !ok {
		return nil, chatNotFound(id)
	}
	return copyChat(chat), nil
}

// findPrivateLocked requires the read lock
func (s *Store) findPrivateLocked(a, b int64) *models.Chat {
	for id, chat := range s.chats {
		if !chat.IsPrivate() {
			continue
		}
		members := s.participants[id]
		pa, okA := members[a]
		pb, okB := members[b]
		if okA && okB && pa.IsActive() && pb.IsActive() {
			return chat
		}
	}
	return nil
}

func (r *chatRepository) FindPrivateBetween(_ context.Context, a, b int64) (*models.Chat, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if chat := r.s.findPrivateLocked(a, b); chat != nil {
		return copyChat(chat), nil
	}
	return nil, nil
}

func (r *chatRepository) UpdateName(_ context.Context, id int64, name string) (*models.Chat, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[id]
	if !ok {
		return nil, chatNotFound(id)
	}
	chat.Name = name
	chat.UpdatedAt = s.tick()
	return copyChat(chat), nil
}

func (r *chatRepository) DeleteCascade(_ context.Context, id int64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[id]; !ok {
		return chatNotFound(id)
	}

	for _, messageID := range s.chatMessages[id] {
		delete(s.messages, messageID)
	}
	delete(s.chatMessages, id)
	delete(s.participants, id)
	delete(s.chats, id)
	return nil
}

// latestLocked returns the newest live message of a chat; requires the read lock
func (s *Store) latestLocked(chatID int64) *models.Message {
	ids := s.chatMessages[chatID]
	for i := len(ids) - 1; i >= 0; i-- {
		if m := s.messages[ids[i]]; !m.Deleted {
			return m
		}
	}
	return nil
}

// unreadLocked counts messages by others newer than the read bound; requires the read lock
func (s *Store) unreadLocked(p *models.Participant) int64 {
	bound := p.ReadBound()
	ids := s.chatMessages[p.ChatID]

	var count int64
	for i := len(ids) - 1; i >= 0; i-- {
		m := s.messages[ids[i]]
		if !m.CreatedAt.After(bound) {
			break
		}
		if !m.Deleted && m.AuthorID != p.ProfileID {
			count++
		}
	}
	return count
}

func (r *chatRepository) ListForProfile(_ context.Context, profileID int64) ([]*models.ChatSummary, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summaries []*models.ChatSummary
	for chatID, members := range s.participants {
		p, ok := members[profileID]
		if !ok || !p.IsActive() {
			continue
		}
		chat := s.chats[chatID]

		summary := &models.ChatSummary{
			Chat:        copyChat(chat),
			UnreadCount: s.unreadLocked(p),
		}
		if p.LastReadAt != nil {
			t := *p.LastReadAt
			summary.LastReadAt = &t
		}
		if last := s.latestLocked(chatID); last != nil {
			summary.LastMessage = copyMessage(last)
		}
		if chat.IsPrivate() {
			for otherID, other := range members {
				if otherID != profileID && other.IsActive() {
					id := otherID
					summary.OtherProfileID = &id
				}
			}
		}
		summaries = append(summaries, summary)
	}

	activity := func(cs *models.ChatSummary) time.Time {
		if cs.LastMessage != nil {
			return cs.LastMessage.CreatedAt
		}
		return cs.Chat.UpdatedAt
	}
	sort.Slice(summaries, func(i, j int) bool {
		ai, aj := activity(summaries[i]), activity(summaries[j])
		if ai.Equal(aj) {
			return summaries[i].Chat.ID > summaries[j].Chat.ID
		}
		return ai.After(aj)
	})

	return summaries, nil
}

func (r *chatRepository) ListIDsForProfile(_ context.Context, profileID int64) ([]int64, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for chatID, members := range s.participants {
		if p, ok := members[profileID]; ok && p.IsActive() {
			ids = append(ids, chatID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type participantRepository struct{ s *Store }

func (r *participantRepository) Get(_ context.Context, chatID, profileID int64) (*models.Participant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.participants[chatID][profileID]
	if !ok {
		return nil, apperrors.NewResourceNotFoundError("participant not found")
	}
	return copyParticipant(p), nil
}

func (r *participantRepository) IsActive(_ context.Context, chatID, profileID int64) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.participants[chatID][profileID]
	return ok && p.IsActive(), nil
}

// activeLocked returns the chat's active members ordered by (joinedAt, id); requires the read lock
func (s *Store) activeLocked(chatID int64) []*models.Participant {
	var active []*models.Participant
	for _, p := range s.participants[chatID] {
		if p.IsActive() {
			active = append(active, p)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].JoinedAt.Equal(active[j].JoinedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].JoinedAt.Before(active[j].JoinedAt)
	})
	return active
}

func (r *participantRepository) ListActive(_ context.Context, chatID int64) ([]*models.Participant, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := s.activeLocked(chatID)
	result := make([]*models.Participant, 0, len(active))
	for _, p := range active {
		cp := copyParticipant(p)
		if profile, ok := s.profiles[p.ProfileID]; ok {
			pr := *profile
			cp.Profile = &pr
		}
		result = append(result, cp)
	}
	return result, nil
}

func (r *participantRepository) AddOrReactivate(_ context.Context, chatID, profileID int64) (*models.Participant, bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return nil, false, chatNotFound(chatID)
	}
	if _, ok := s.profiles[profileID]; !ok {
		return nil, false, profileNotFound(profileID)
	}

	members := s.participants[chatID]
	if members == nil {
		members = make(map[int64]*models.Participant)
		s.participants[chatID] = members
	}

	if existing, ok := members[profileID]; ok {
		if existing.IsActive() {
			return nil, false, apperrors.Wrap(apperrors.ErrConflict, apperrors.ErrAlreadyParticipant)
		}
		existing.LeftAt = nil
		existing.LastReadAt = nil
		existing.Role = models.RoleMember
		existing.JoinedAt = s.tick()
		return copyParticipant(existing), true, nil
	}

	s.nextParticipantID++
	p := &models.Participant{
		ID:        s.nextParticipantID,
		ChatID:    chatID,
		ProfileID: profileID,
		Role:      models.RoleMember,
		JoinedAt:  s.tick(),
	}
	members[profileID] = p
	return copyParticipant(p), false, nil
}

func (r *participantRepository) Leave(_ context.Context, chatID, profileID int64) (*models.Participant, *models.Participant, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return nil, nil, chatNotFound(chatID)
	}

	p, ok := s.participants[chatID][profileID]
	if !ok || !p.IsActive() {
		return nil, nil, notParticipant()
	}

	now := s.tick()
	p.LeftAt = &now

	if p.Role != models.RoleAdmin {
		return copyParticipant(p), nil, nil
	}

	active := s.activeLocked(chatID)
	for _, other := range active {
		if other.Role == models.RoleAdmin {
			return copyParticipant(p), nil, nil
		}
	}
	if len(active) == 0 {
		return copyParticipant(p), nil, nil
	}

	successor := active[0]
	successor.Role = models.RoleAdmin
	return copyParticipant(p), copyParticipant(successor), nil
}

func (r *participantRepository) MarkRead(_ context.Context, chatID, profileID int64) (*models.Participant, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[chatID][profileID]
	if !ok || !p.IsActive() {
		return nil, notParticipant()
	}

	now := s.tick()
	p.LastReadAt = &now
	return copyParticipant(p), nil
}

type messageRepository struct{ s *Store }

func (r *messageRepository) Create(_ context.Context, message *models.Message) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[message.ChatID]; !ok {
		return chatNotFound(message.ChatID)
	}

	now := s.tick()
	s.nextMessageID++
	message.ID = s.nextMessageID
	message.CreatedAt = now
	message.UpdatedAt = now
	message.IsEdited = false
	message.Deleted = false

	s.messages[message.ID] = copyMessage(message)
	s.chatMessages[message.ChatID] = append(s.chatMessages[message.ChatID], message.ID)
	return nil
}

func (r *messageRepository) GetByID(_ context.Context, id int64) (*models.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.messages[id]
	if !ok {
		return nil, messageNotFound(id)
	}
	return copyMessage(m), nil
}

func (r *messageRepository) UpdateContent(_ context.Context, id int64, content string) (*models.Message, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok || m.Deleted {
		return nil, messageNotFound(id)
	}
	m.Content = content
	m.IsEdited = true
	m.UpdatedAt = s.tick()
	return copyMessage(m), nil
}

func (r *messageRepository) SoftDelete(_ context.Context, id int64) (*models.Message, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok || m.Deleted {
		return nil, messageNotFound(id)
	}
	m.Deleted = true
	m.UpdatedAt = s.tick()
	return copyMessage(m), nil
}

func (r *messageRepository) ListBefore(_ context.Context, chatID int64, before *cursor.Position, limit int) ([]*models.Message, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.chatMessages[chatID]
	result := make([]*models.Message, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(result) < limit; i-- {
		m := s.messages[ids[i]]
		if m.Deleted {
			continue
		}
		if before != nil && !before.Before(m.CreatedAt, m.ID) {
			continue
		}
		result = append(result, copyMessage(m))
	}
	return result, nil
}

func (r *messageRepository) CountUnread(_ context.Context, chatID, profileID int64) (int64, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[chatID][profileID]
	if !ok || !p.IsActive() {
		return 0, nil
	}
	return s.unreadLocked(p), nil
}

type profileRepository struct{ s *Store }

func (r *profileRepository) GetByIDs(_ context.Context, ids []int64) (map[int64]*models.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	profiles := make(map[int64]*models.Profile, len(ids))
	for _, id := range ids {
		if p, ok := r.s.profiles[id]; ok {
			cp := *p
			profiles[id] = &cp
		}
	}
	return profiles, nil
}

func (r *profileRepository) FindMissing(_ context.Context, ids []int64) ([]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var missing []int64
	for _, id := range ids {
		if _, ok := r.s.profiles[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

var (
	_ repositories.ChatRepository        = (*chatRepository)(nil)
	_ repositories.ParticipantRepository = (*participantRepository)(nil)
	_ repositories.MessageRepository     = (*messageRepository)(nil)
	_ repositories.ProfileRepository     = (*profileRepository)(nil)
)
