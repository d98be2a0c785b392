package services

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/yigit/chathub/internal/app/repositories/memory"
	"github.com/yigit/chathub/internal/pkg/events"
)

// recorder is an events.Publisher that keeps everything it receives
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fakePresence map[int64]bool

func (p fakePresence) IsOnline(userID int64) bool { return p[userID] }

type fixture struct {
	ctx      context.Context
	store    *memory.Store
	pub      *recorder
	presence fakePresence
	chats    ChatService
	messages MessageService
	reads    ReadStateService

	alice, bob, carol, dave int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ctx:      context.Background(),
		store:    memory.NewStore(),
		pub:      &recorder{},
		presence: fakePresence{},
	}

	ids := make([]int64, 0, 4)
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		p, err := f.store.UpsertProfile(f.ctx, name, name)
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	f.alice, f.bob, f.carol, f.dave = ids[0], ids[1], ids[2], ids[3]

	repos := f.store.Repositories()
	limits := Limits{MaxMessageLength: 50, MaxAttachments: 2, DefaultPageSize: 5, MaxPageSize: 10}
	f.chats = NewChatService(repos, f.pub, f.presence, limits, zerolog.Nop())
	f.messages = NewMessageService(repos, f.pub, limits, zerolog.Nop())
	f.reads = NewReadStateService(repos, f.pub, zerolog.Nop())
	return f
}

func (f *fixture) group(t *testing.T, creator int64, members ...int64) int64 {
	t.Helper()
	chat, err := f.chats.CreateGroupChat(f.ctx, creator, "team", members)
	require.NoError(t, err)
	return chat.ID
}

func (f *fixture) send(t *testing.T, chatID, author int64, content string) int64 {
	t.Helper()
	m, err := f.messages.Append(f.ctx, chatID, author, content, nil)
	require.NoError(t, err)
	return m.ID
}
