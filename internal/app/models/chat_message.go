package models

import "time"

// Message is a single chat message. ID, ChatID, AuthorID and CreatedAt never
// change after creation; edits touch Content, IsEdited and UpdatedAt only.
type Message struct {
	ID          int64     `json:"id" db:"id"`
	ChatID      int64     `json:"chatId" db:"chat_id"`
	AuthorID    int64     `json:"authorId" db:"author_id"`
	Content     string    `json:"content" db:"content"`
	Attachments []string  `json:"attachments,omitempty" db:"attachments"`
	IsEdited    bool      `json:"isEdited" db:"is_edited"`
	Deleted     bool      `json:"deleted" db:"deleted"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`

	// Related entities
	Author *Profile `json:"author,omitempty"`
}

// MessagePage is one newest-first page of a chat history
type MessagePage struct {
	Messages   []*Message
	HasMore    bool
	NextCursor string
}
