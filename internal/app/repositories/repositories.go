package repositories

import (
	"context"

	"github.com/yigit/chathub/internal/app/models"
	"github.com/yigit/chathub/internal/db"
	"github.com/yigit/chathub/internal/pkg/cursor"
)

// ChatRepository persists chats. Multi-row mutations run as one transaction.
type ChatRepository interface {
	// CreateWithParticipants inserts the chat and its initial memberships atomically.
	// For PRIVATE chats a concurrent duplicate for the same pair yields ErrConflict.
	CreateWithParticipants(ctx context.Context, chat *models.Chat, participants []*models.Participant) error
	GetByID(ctx context.Context, id int64) (*models.Chat, error)
	// FindPrivateBetween returns the PRIVATE chat whose two active members are a and b, or nil
	FindPrivateBetween(ctx context.Context, a, b int64) (*models.Chat, error)
	UpdateName(ctx context.Context, id int64, name string) (*models.Chat, error)
	// DeleteCascade hard-deletes messages, then participants, then the chat
	DeleteCascade(ctx context.Context, id int64) error
	// ListForProfile returns every chat the profile actively participates in,
	// newest activity first, with last message and live unread count
	ListForProfile(ctx context.Context, profileID int64) ([]*models.ChatSummary, error)
	ListIDsForProfile(ctx context.Context, profileID int64) ([]int64, error)
}

// ParticipantRepository persists chat memberships
type ParticipantRepository interface {
	// Get returns the membership row regardless of its active state
	Get(ctx context.Context, chatID, profileID int64) (*models.Participant, error)
	IsActive(ctx context.Context, chatID, profileID int64) (bool, error)
	ListActive(ctx context.Context, chatID int64) ([]*models.Participant, error)
	// AddOrReactivate inserts a MEMBER row or reactivates a previously left one.
	// An already active membership yields ErrAlreadyParticipant.
	AddOrReactivate(ctx context.Context, chatID, profileID int64) (p *models.Participant, reactivated bool, err error)
	// Leave marks the membership as left. If it removed the last active admin
	// while members remain, the longest-standing member is promoted and returned.
	Leave(ctx context.Context, chatID, profileID int64) (left *models.Participant, promoted *models.Participant, err error)
	// MarkRead moves lastReadAt to now (never behind the newest stored message)
	MarkRead(ctx context.Context, chatID, profileID int64) (*models.Participant, error)
}

// MessageRepository persists chat messages
type MessageRepository interface {
	// Create assigns ID, CreatedAt and UpdatedAt
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id int64) (*models.Message, error)
	UpdateContent(ctx context.Context, id int64, content string) (*models.Message, error)
	SoftDelete(ctx context.Context, id int64) (*models.Message, error)
	// ListBefore returns up to limit non-deleted messages strictly older than
	// before (or the newest ones when before is nil), newest first
	ListBefore(ctx context.Context, chatID int64, before *cursor.Position, limit int) ([]*models.Message, error)
	// CountUnread counts messages by others newer than the member's read bound
	CountUnread(ctx context.Context, chatID, profileID int64) (int64, error)
}

// ProfileRepository reads the identity collaborator's profiles
type ProfileRepository interface {
	// FindMissing returns the ids that do not name an existing profile
	FindMissing(ctx context.Context, ids []int64) ([]int64, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]*models.Profile, error)
}

// Repositories holds all the repository instances
type Repositories struct {
	Chats        ChatRepository
	Participants ParticipantRepository
	Messages     MessageRepository
	Profiles     ProfileRepository
}

// NewRepositories initializes the PostgreSQL-backed repositories
func NewRepositories(q db.Querier) *Repositories {
	return &Repositories{
		Chats:        NewChatRepository(q),
		Participants: NewParticipantRepository(q),
		Messages:     NewMessageRepository(q),
		Profiles:     NewProfileRepository(q),
	}
}

var (
	_ ChatRepository        = (*PostgresChatRepository)(nil)
	_ ParticipantRepository = (*PostgresParticipantRepository)(nil)
	_ MessageRepository     = (*PostgresMessageRepository)(nil)
	_ ProfileRepository     = (*PostgresProfileRepository)(nil)
)
