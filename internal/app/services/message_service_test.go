package services

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yigit/chathub/internal/app/models"
	"github.com/yigit/chathub/internal/pkg/apperrors"
	"github.com/yigit/chathub/internal/pkg/events"
)

func TestAppend_StoresThenPublishes(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, f.alice, f.bob)

	message, err := f.messages.Append(f.ctx, chatID, f.bob, "  hello  ", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", message.Content)
	assert.Equal(t, []string(nil), message.Attachments)
	require.NotNil(t, message.Author)
	assert.Equal(t, "bob", message.Author.Username)

	created := f.pub.ofType(events.MessageCreated)
	require.Len(t, created, 1)
	assert.Equal(t, chatID, created[0].ChatID)
	assert.Empty(t, created[0].UserIDs, "message events go to the room")
	assert.Equal(t, message.ID, created[0].Payload.(events.MessagePayload).Message.ID)

	last := f.pub.ofType(events.ChatLastMessage)
	require.Len(t, last, 1)
	assert.ElementsMatch(t, []int64{f.alice, f.bob}, last[0].UserIDs)
	assert.Equal(t, "hello", last[0].Payload.(events.LastMessagePayload).Preview)
}

func TestAppend_Validation(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, f.alice, f.bob)

	tests := []struct {
		name        string
		chatID      int64
		author      int64
		content     string
		attachments []string
		want        error
	}{
		{name: "blank content", chatID: chatID, author: f.alice, content: "   ", want: apperrors.ErrEmptyMessage},
		{name: "too long", chatID: chatID, author: f.alice, content: strings.Repeat("x", 51), want: apperrors.ErrInvalidOperation},
		{name: "too many attachments", chatID: chatID, author: f.alice, attachments: []string{"a", "b", "c"}, want: apperrors.ErrInvalidOperation},
		{name: "blank attachment", chatID: chatID, author: f.alice, attachments: []string{" "}, want: apperrors.ErrInvalidOperation},
		{name: "not a participant", chatID: chatID, author: f.carol, content: "hi", want: apperrors.ErrPermissionDenied},
		{name: "missing chat", chatID: 999, author: f.alice, content: "hi", want: apperrors.ErrResourceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.messages.Append(f.ctx, tt.chatID, tt.author, tt.content, tt.attachments)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, f.pub.ofType(events.MessageCreated))
}

func TestAppend_AttachmentOnly(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, f.alice, f.bob)

	message, err := f.messages.Append(f.ctx, chatID, f.alice, "", []string{"files/42"})
	require.NoError(t, err)
	assert.Empty(t, message.Content)
	assert.Equal(t, []string{"files/42"}, message.Attachments)

	last := f.pub.ofType(events.ChatLastMessage)
	require.Len(t, last, 1)
	assert.Equal(t, "[attachment]", last[0].Payload.(events.LastMessagePayload).Preview)
}

func TestEdit(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, f.alice, f.bob)
	messageID := f.send(t, chatID, f.alice, "first")

	_, err := f.messages.Edit(f.ctx, messageID, f.bob, "hijack")
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	edited, err := f.messages.Edit(f.ctx, messageID, f.alice, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", edited.Content)
	assert.True(t, edited.IsEdited)
	assert.True(t, edited.UpdatedAt.After(edited.CreatedAt))

	published := f.pub.ofType(events.MessageEdited)
	require.Len(t, published, 1)
	assert.Equal(t, chatID, published[0].ChatID)

	require.NoError(t, f.messages.SoftDelete(f.ctx, messageID, f.alice))
	_, err = f.messages.Edit(f.ctx, messageID, f.alice, "third")
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)

	_, err = f.messages.Edit(f.ctx, 999, f.alice, "x")
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)
}

func TestSoftDelete_IsIdempotentAndHidesMessage(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, f.alice, f.bob)
	keep := f.send(t, chatID, f.alice, "keep")
	drop := f.send(t, chatID, f.alice, "drop")

	assert.ErrorIs(t, f.messages.SoftDelete(f.ctx, drop, f.bob), apperrors.ErrPermissionDenied)

	require.NoError(t, f.messages.SoftDelete(f.ctx, drop, f.alice))
	require.NoError(t, f.messages.SoftDelete(f.ctx, drop, f.alice))
	assert.Len(t, f.pub.ofType(events.MessageDeleted), 1)

	_, err := f.messages.Get(f.ctx, drop, f.bob)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)

	page, err := f.messages.Paginate(f.ctx, chatID, f.bob, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, keep, page.Messages[0].ID)

	summaries, err := f.chats.ListChats(f.ctx, f.bob)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, keep, summaries[0].LastMessage.ID)
}

func TestPaginate_StableUnderConcurrentInserts(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, f.alice, f.bob)

	var sent []int64
	for i := 0; i < 7; i++ {
		sent = append(sent, f.send(t, chatID, f.alice, "m"))
	}

	first, err := f.messages.Paginate(f.ctx, chatID, f.bob, "", 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{sent[6], sent[5], sent[4]}, ids(first.Messages))
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextCursor)

	// a newer message must not shift older pages
	f.send(t, chatID, f.bob, "late")

	second, err := f.messages.Paginate(f.ctx, chatID, f.bob, first.NextCursor, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{sent[3], sent[2], sent[1]}, ids(second.Messages))
	assert.True(t, second.HasMore)

	third, err := f.messages.Paginate(f.ctx, chatID, f.bob, second.NextCursor, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{sent[0]}, ids(third.Messages))
	assert.False(t, third.HasMore)
	assert.Empty(t, third.NextCursor)
}

func TestPaginate_LimitsAndErrors(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, f.alice, f.bob)
	for i := 0; i < 12; i++ {
		f.send(t, chatID, f.alice, "m")
	}

	page, err := f.messages.Paginate(f.ctx, chatID, f.alice, "", 0)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 5, "default page size")

	page, err = f.messages.Paginate(f.ctx, chatID, f.alice, "", 1000)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 10, "max page size")

	_, err = f.messages.Paginate(f.ctx, chatID, f.alice, "!!not-a-cursor", 3)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = f.messages.Paginate(f.ctx, chatID, f.carol, "", 3)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	_, err = f.messages.Paginate(f.ctx, 999, f.alice, "", 3)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)
}

func TestGroupMessages(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := func(id, author int64, offset time.Duration) *models.Message {
		return &models.Message{ID: id, AuthorID: author, CreatedAt: base.Add(offset)}
	}

	// newest first, as a page is returned
	page := []*models.Message{
		msg(5, 1, 10*time.Minute),
		msg(4, 1, 2*time.Minute),
		msg(3, 2, 90*time.Second),
		msg(2, 1, 30*time.Second),
		msg(1, 1, 0),
	}

	groups := GroupMessages(page, time.Minute)
	require.Len(t, groups, 4)

	assert.Equal(t, int64(1), groups[0].AuthorID)
	assert.Equal(t, []int64{1, 2}, ids(groups[0].Messages))
	assert.Equal(t, []int64{3}, ids(groups[1].Messages))
	assert.Equal(t, []int64{4}, ids(groups[2].Messages))
	assert.Equal(t, []int64{5}, ids(groups[3].Messages), "gap larger than the window starts a new group")

	assert.Empty(t, GroupMessages(nil, time.Minute))
}

func ids(messages []*models.Message) []int64 {
	out := make([]int64, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}
