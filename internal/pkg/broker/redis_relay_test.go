package broker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yigit/chathub/internal/pkg/events"
	"github.com/yigit/chathub/internal/pkg/presence"
)

type recordingSink struct {
	delivered []events.Event
}

func (s *recordingSink) Deliver(ev events.Event) {
	s.delivered = append(s.delivered, ev)
}

func TestRelay_SkipsOwnEcho(t *testing.T) {
	sink := &recordingSink{}
	relay := NewRelay(nil, "test", sink, nil, zerolog.Nop())

	data, err := relay.encode(events.New(events.MessageDeleted, 7, events.MessageDeletedPayload{MessageID: 1, AuthorID: 2}))
	require.NoError(t, err)

	relay.handle(data)
	assert.Empty(t, sink.delivered)
}

func TestRelay_DeliversRemoteEvent(t *testing.T) {
	sender := NewRelay(nil, "test", &recordingSink{}, nil, zerolog.Nop())
	sink := &recordingSink{}
	receiver := NewRelay(nil, "test", sink, nil, zerolog.Nop())
	require.NotEqual(t, sender.InstanceID(), receiver.InstanceID())

	ev := events.New(events.ChatLastMessage, 7, map[string]string{"preview": "hi"}).ToUsers(1, 2).Except(2)
	data, err := sender.encode(ev)
	require.NoError(t, err)

	receiver.handle(data)
	require.Len(t, sink.delivered, 1)

	got := sink.delivered[0]
	assert.Equal(t, events.ChatLastMessage, got.Type)
	assert.Equal(t, int64(7), got.ChatID)
	assert.Equal(t, []int64{1, 2}, got.UserIDs)
	assert.Equal(t, int64(2), got.ExcludeUserID)
	assert.JSONEq(t, `{"preview":"hi"}`, string(got.Payload.(json.RawMessage)))
}

func presenceEnvelope(t *testing.T, from *Relay, chatID, userID int64, online bool) []byte {
	t.Helper()

	data, err := from.encode(events.New(events.PresenceChanged, chatID, events.PresencePayload{UserID: userID, IsOnline: online}))
	require.NoError(t, err)
	return data
}

func TestRelay_RemotePresenceUpdatesTracker(t *testing.T) {
	sender := NewRelay(nil, "test", &recordingSink{}, nil, zerolog.Nop())
	tracker := presence.NewTracker(time.Second, nil)
	defer tracker.Close()
	sink := &recordingSink{}
	receiver := NewRelay(nil, "test", sink, tracker, zerolog.Nop())

	receiver.handle(presenceEnvelope(t, sender, 3, 42, true))
	assert.True(t, tracker.IsOnline(42))
	assert.Len(t, sink.delivered, 1)

	receiver.handle(presenceEnvelope(t, sender, 3, 42, false))
	assert.False(t, tracker.IsOnline(42))
	assert.Len(t, sink.delivered, 2)
}

func TestRelay_RemoteOfflineWithLocalConnection(t *testing.T) {
	remote := NewRelay(nil, "test", &recordingSink{}, nil, zerolog.Nop())
	tracker := presence.NewTracker(time.Second, nil)
	defer tracker.Close()
	sink := &recordingSink{}
	local := NewRelay(nil, "test", sink, tracker, zerolog.Nop())

	local.handle(presenceEnvelope(t, remote, 3, 42, true))
	require.Len(t, sink.delivered, 1)

	first, cameOnline := tracker.Connect(42)
	assert.True(t, first)
	assert.False(t, cameOnline)

	local.handle(presenceEnvelope(t, remote, 3, 42, false))
	assert.True(t, tracker.IsOnline(42))
	assert.Len(t, sink.delivered, 1, "offline must not reach clients while a local connection is open")

	last, wentOffline := tracker.Disconnect(42)
	assert.True(t, last)
	assert.True(t, wentOffline)
}

func TestRelay_PresenceAcrossInstances(t *testing.T) {
	trackerA := presence.NewTracker(time.Second, nil)
	defer trackerA.Close()
	trackerB := presence.NewTracker(time.Second, nil)
	defer trackerB.Close()
	sinkA, sinkB := &recordingSink{}, &recordingSink{}
	relayA := NewRelay(nil, "test", sinkA, trackerA, zerolog.Nop())
	relayB := NewRelay(nil, "test", sinkB, trackerB, zerolog.Nop())

	// user connects on A, then on B; both announce their first local connection
	_, _ = trackerA.Connect(42)
	relayB.handle(presenceEnvelope(t, relayA, 3, 42, true))
	_, cameOnline := trackerB.Connect(42)
	assert.False(t, cameOnline)
	relayA.handle(presenceEnvelope(t, relayB, 3, 42, true))

	// A drops its last connection: B still holds the user
	last, wentOffline := trackerA.Disconnect(42)
	assert.True(t, last)
	assert.False(t, wentOffline, "B still holds a connection")
	relayB.handle(presenceEnvelope(t, relayA, 3, 42, false))
	assert.True(t, trackerB.IsOnline(42))
	for _, ev := range sinkB.delivered {
		assert.Contains(t, string(ev.Payload.(json.RawMessage)), `"isOnline":true`)
	}

	// B drops its last connection: the user is offline everywhere
	last, wentOffline = trackerB.Disconnect(42)
	assert.True(t, last)
	assert.True(t, wentOffline)
	relayA.handle(presenceEnvelope(t, relayB, 3, 42, false))
	assert.False(t, trackerA.IsOnline(42))
	require.NotEmpty(t, sinkA.delivered)
	assert.JSONEq(t, `{"userId":42,"isOnline":false}`, string(sinkA.delivered[len(sinkA.delivered)-1].Payload.(json.RawMessage)))
}

func TestRelay_RejectsMalformedEnvelopes(t *testing.T) {
	relay := NewRelay(nil, "test", &recordingSink{}, nil, zerolog.Nop())

	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "nope"},
		{name: "missing instance", data: `{"event":{"type":"message-created","chatId":1}}`},
		{name: "missing type", data: `{"instanceId":"other","event":{"chatId":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, origin, err := relay.decode([]byte(tt.data))
			assert.Error(t, err)
			assert.Empty(t, origin)
		})
	}
}
