package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yigit/chathub/internal/pkg/apperrors"
	"github.com/yigit/chathub/internal/pkg/events"
)

func TestUnreadCount_Semantics(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, f.alice, f.bob)

	f.send(t, chatID, f.bob, "one")
	f.send(t, chatID, f.bob, "two")
	f.send(t, chatID, f.alice, "own messages never count")

	count, err := f.reads.UnreadCount(f.ctx, chatID, f.alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = f.reads.UnreadCount(f.ctx, chatID, f.bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	state, err := f.reads.MarkRead(f.ctx, chatID, f.alice)
	require.NoError(t, err)
	assert.Zero(t, state.UnreadCount)
	assert.Equal(t, f.alice, state.UserID)

	published := f.pub.ofType(events.ReadStateChanged)
	require.Len(t, published, 1)
	assert.Equal(t, []int64{f.alice}, published[0].UserIDs)

	f.send(t, chatID, f.bob, "three")
	deleted := f.send(t, chatID, f.bob, "four")
	require.NoError(t, f.messages.SoftDelete(f.ctx, deleted, f.bob))

	count, err = f.reads.UnreadCount(f.ctx, chatID, f.alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "soft-deleted messages are not unread")
}

func TestUnreadCount_StartsAtJoin(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, f.alice, f.bob)
	f.send(t, chatID, f.bob, "before carol")

	_, err := f.chats.AddParticipant(f.ctx, chatID, f.alice, f.carol)
	require.NoError(t, err)

	count, err := f.reads.UnreadCount(f.ctx, chatID, f.carol)
	require.NoError(t, err)
	assert.Zero(t, count)

	f.send(t, chatID, f.bob, "after carol")
	count, err = f.reads.UnreadCount(f.ctx, chatID, f.carol)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// rejoining resets the read history to the new join instant
	require.NoError(t, f.chats.LeaveChat(f.ctx, chatID, f.carol))
	f.send(t, chatID, f.bob, "while carol was away")
	_, err = f.chats.AddParticipant(f.ctx, chatID, f.alice, f.carol)
	require.NoError(t, err)

	count, err = f.reads.UnreadCount(f.ctx, chatID, f.carol)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMarkRead_Errors(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, f.alice, f.bob)

	_, err := f.reads.MarkRead(f.ctx, chatID, f.carol)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	_, err = f.reads.MarkRead(f.ctx, 999, f.alice)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)

	_, err = f.reads.UnreadCount(f.ctx, chatID, f.carol)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}
