// Package events defines the outbound live events of the chat subsystem and
// the Publisher contract services use to emit them after a durable write.
package events

import (
	"time"

	"github.com/yigit/chathub/internal/app/models"
)

// Type is the wire name of an outbound event
type Type string

const (
	MessageCreated    Type = "message-created"
	MessageEdited     Type = "message-edited"
	MessageDeleted    Type = "message-deleted"
	TypingChanged     Type = "typing-changed"
	PresenceChanged   Type = "presence-changed"
	ParticipantJoined Type = "participant-joined"
	ParticipantLeft   Type = "participant-left"
	ParticipantRole   Type = "participant-role-changed"
	ChatUpdated       Type = "chat-updated"
	ChatDeleted       Type = "chat-deleted"
	ChatLastMessage   Type = "chat-last-message"
	ReadStateChanged  Type = "read-state-changed"
)

// Event is a single outbound notification scoped to a chat.
//
// By default an event is delivered to the chat's room. When UserIDs is set it
// is delivered to every connection of those users instead, regardless of the
// rooms they joined. ExcludeUserID suppresses delivery to one user.
type Event struct {
	Type       Type      `json:"type"`
	ChatID     int64     `json:"chatId"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`

	UserIDs       []int64 `json:"-"`
	ExcludeUserID int64   `json:"-"`
}

// Publisher accepts events for fan-out. Implementations must not block on
// network I/O; delivery is best-effort and failures are only logged.
type Publisher interface {
	Publish(ev Event)
}

// PublisherFunc adapts a function to the Publisher interface
type PublisherFunc func(ev Event)

// Publish calls f(ev)
func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Nop discards every event
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(Event) {}

// New builds an event stamped with the current time
func New(t Type, chatID int64, payload any) Event {
	return Event{
		Type:       t,
		ChatID:     chatID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// ToUsers returns a copy of ev addressed to the given users' connections
func (ev Event) ToUsers(userIDs ...int64) Event {
	ev.UserIDs = append([]int64(nil), userIDs...)
	return ev
}

// Except returns a copy of ev that skips the given user
func (ev Event) Except(userID int64) Event {
	ev.ExcludeUserID = userID
	return ev
}

// MessagePayload carries a message for created/edited events
type MessagePayload struct {
	Message *models.Message `json:"message"`
}

// MessageDeletedPayload identifies a soft-deleted message
type MessageDeletedPayload struct {
	MessageID int64 `json:"messageId"`
	AuthorID  int64 `json:"authorId"`
}

// TypingPayload reports a typing transition
type TypingPayload struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// PresencePayload reports an online/offline transition
type PresencePayload struct {
	UserID   int64 `json:"userId"`
	IsOnline bool  `json:"isOnline"`
}

// ParticipantPayload reports a membership change
type ParticipantPayload struct {
	Participant *models.Participant `json:"participant"`
	ActorID     int64               `json:"actorId"`
}

// ChatPayload carries the chat for updated events
type ChatPayload struct {
	Chat *models.Chat `json:"chat"`
}

// ChatDeletedPayload identifies a deleted chat
type ChatDeletedPayload struct {
	DeletedBy int64 `json:"deletedBy"`
}

// LastMessagePayload is the denormalized list-view update sent with every new message
type LastMessagePayload struct {
	MessageID int64     `json:"messageId"`
	AuthorID  int64     `json:"authorId"`
	Preview   string    `json:"preview"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReadStatePayload reports that a user's read marker moved
type ReadStatePayload struct {
	UserID      int64     `json:"userId"`
	LastReadAt  time.Time `json:"lastReadAt"`
	UnreadCount int64     `json:"unreadCount"`
}
