package models

import "time"

// Chat is a conversation container, either PRIVATE (two parties) or GROUP
type Chat struct {
	ID        int64     `json:"id" db:"id"`
	Kind      ChatKind  `json:"kind" db:"kind"`
	Name      string    `json:"name,omitempty" db:"name"` // meaningful for GROUP only
	CreatorID int64     `json:"creatorId" db:"creator_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	// Related entities
	Participants []*Participant `json:"participants,omitempty"`
}

// IsPrivate reports whether the chat is a two-party chat
func (c *Chat) IsPrivate() bool {
	return c.Kind == ChatKindPrivate
}

// Participant is a profile's membership record in a chat. A nil LeftAt means
// the membership is active; rows are never hard-deleted while the chat exists.
type Participant struct {
	ID         int64           `json:"id" db:"id"`
	ChatID     int64           `json:"chatId" db:"chat_id"`
	ProfileID  int64           `json:"profileId" db:"profile_id"`
	Role       ParticipantRole `json:"role" db:"role"`
	JoinedAt   time.Time       `json:"joinedAt" db:"joined_at"`
	LeftAt     *time.Time      `json:"leftAt,omitempty" db:"left_at"`
	LastReadAt *time.Time      `json:"lastReadAt,omitempty" db:"last_read_at"`

	// Related entities
	Profile *Profile `json:"profile,omitempty"`
}

// IsActive reports whether the membership has not been left
func (p *Participant) IsActive() bool {
	return p.LeftAt == nil
}

// IsAdmin reports whether the participant is an active admin
func (p *Participant) IsAdmin() bool {
	return p.IsActive() && p.Role == RoleAdmin
}

// ReadBound is the instant after which messages count as unread for the
// participant: the later of lastReadAt and joinedAt.
func (p *Participant) ReadBound() time.Time {
	if p.LastReadAt != nil && p.LastReadAt.After(p.JoinedAt) {
		return *p.LastReadAt
	}
	return p.JoinedAt
}

// ChatSummary is a list-view row: the chat plus the caller-specific derived state
type ChatSummary struct {
	Chat        *Chat
	LastMessage *Message
	UnreadCount int64
	LastReadAt  *time.Time
	// OtherProfileID is the counterpart of a PRIVATE chat
	OtherProfileID *int64
	OtherOnline    bool
}

// ReadState is a participant's read marker together with the count it implies
type ReadState struct {
	ChatID      int64     `json:"chatId"`
	UserID      int64     `json:"userId"`
	LastReadAt  time.Time `json:"lastReadAt"`
	UnreadCount int64     `json:"unreadCount"`
}
