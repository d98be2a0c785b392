package services

import (
	"time"

	"github.com/yigit/chathub/internal/app/models"
)

// MessageGroup is a run of consecutive messages by one author
type MessageGroup struct {
	AuthorID int64
	Messages []*models.Message
}

// GroupMessages folds a newest-first page into display groups, oldest first.
// Consecutive messages by the same author join the current group while each
// is at most window after the previous one.
func GroupMessages(page []*models.Message, window time.Duration) []MessageGroup {
	var groups []MessageGroup
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		if n := len(groups); n > 0 {
			g := &groups[n-1]
			prev := g.Messages[len(g.Messages)-1]
			if g.AuthorID == m.AuthorID && m.CreatedAt.Sub(prev.CreatedAt) <= window {
				g.Messages = append(g.Messages, m)
				continue
			}
		}
		groups = append(groups, MessageGroup{AuthorID: m.AuthorID, Messages: []*models.Message{m}})
	}
	return groups
}
