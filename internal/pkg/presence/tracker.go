// Package presence keeps the ephemeral per-process state behind typing
// indicators and online status. Nothing here is persisted.
package presence

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingTimeout is how long a typing signal stays valid without renewal
const DefaultTypingTimeout = time.Second

// TypingFunc is notified of typing transitions. It runs outside the tracker's
// lock, on the caller's goroutine or on a timer goroutine for expiries.
type TypingFunc func(chatID, userID int64, username string, isTyping bool)

// Typer is a user currently typing in a chat
type Typer struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

type typingKey struct {
	chatID int64
	userID int64
}

type typingEntry struct {
	username string
	timer    *time.Timer
	gen      uint64
}

type transition struct {
	key      typingKey
	username string
}

// Tracker holds typing timers and connection-counted presence
type Tracker struct {
	mu       sync.Mutex
	timeout  time.Duration
	onTyping TypingFunc
	typing   map[typingKey]*typingEntry
	gen      uint64
	conns    map[int64]int
	// instances holding a connection of the user, learned from the relay
	remote map[int64]map[string]struct{}
	closed   bool
}

// NewTracker creates a tracker. onTyping may be nil.
func NewTracker(timeout time.Duration, onTyping TypingFunc) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if onTyping == nil {
		onTyping = func(int64, int64, string, bool) {}
	}
	return &Tracker{
		timeout:  timeout,
		onTyping: onTyping,
		typing:   make(map[typingKey]*typingEntry),
		conns:    make(map[int64]int),
		remote:   make(map[int64]map[string]struct{}),
	}
}

// SetTyping records a typing signal. isTyping=true starts or renews the
// (chat, user) timer; false clears it. It reports whether the visible state
// changed, in which case the typing callback has been invoked.
func (t *Tracker) SetTyping(chatID, userID int64, username string, isTyping bool) bool {
	key := typingKey{chatID: chatID, userID: userID}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}

	entry, exists := t.typing[key]
	if !isTyping {
		if !exists {
			t.mu.Unlock()
			return false
		}
		entry.timer.Stop()
		delete(t.typing, key)
		t.mu.Unlock()

		t.onTyping(chatID, userID, entry.username, false)
		return true
	}

	t.gen++
	gen := t.gen
	if exists {
		entry.timer.Stop()
		entry.gen = gen
		if username != "" {
			entry.username = username
		}
		entry.timer = time.AfterFunc(t.timeout, func() { t.expire(key, gen) })
		t.mu.Unlock()
		return false
	}

	t.typing[key] = &typingEntry{
		username: username,
		gen:      gen,
		timer:    time.AfterFunc(t.timeout, func() { t.expire(key, gen) }),
	}
	t.mu.Unlock()

	t.onTyping(chatID, userID, username, true)
	return true
}

// expire clears an entry whose timer fired, unless it was renewed since
func (t *Tracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	entry, ok := t.typing[key]
	if !ok || entry.gen != gen || t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.typing, key)
	t.mu.Unlock()

	t.onTyping(key.chatID, key.userID, entry.username, false)
}

// Typers returns the users currently typing in a chat, ordered by user id
func (t *Tracker) Typers(chatID int64) []Typer {
	t.mu.Lock()
	defer t.mu.Unlock()

	var typers []Typer
	for key, entry := range t.typing {
		if key.chatID == chatID {
			typers = append(typers, Typer{UserID: key.userID, Username: entry.username})
		}
	}
	sort.Slice(typers, func(i, j int) bool { return typers[i].UserID < typers[j].UserID })
	return typers
}

// ClearUser cancels every typing timer of the user and returns the chats in
// which the user stopped typing
func (t *Tracker) ClearUser(userID int64) []int64 {
	t.mu.Lock()
	var stopped []transition
	for key, entry := range t.typing {
		if key.userID == userID {
			entry.timer.Stop()
			delete(t.typing, key)
			stopped = append(stopped, transition{key: key, username: entry.username})
		}
	}
	t.mu.Unlock()

	sort.Slice(stopped, func(i, j int) bool { return stopped[i].key.chatID < stopped[j].key.chatID })

	chatIDs := make([]int64, 0, len(stopped))
	for _, s := range stopped {
		t.onTyping(s.key.chatID, s.key.userID, s.username, false)
		chatIDs = append(chatIDs, s.key.chatID)
	}
	return chatIDs
}

// Connect counts a new connection. first reports the user's first local
// connection; cameOnline reports whether the user was offline everywhere.
func (t *Tracker) Connect(userID int64) (first, cameOnline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasOnline := t.onlineLocked(userID)
	t.conns[userID]++
	return t.conns[userID] == 1, !wasOnline
}

// Disconnect releases a connection. last reports that the user has no local
// connection left; wentOffline that no other instance holds one either.
func (t *Tracker) Disconnect(userID int64) (last, wentOffline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.conns[userID]
	if !ok {
		return false, false
	}
	if n > 1 {
		t.conns[userID] = n - 1
		return false, false
	}
	delete(t.conns, userID)
	return true, !t.onlineLocked(userID)
}

// SetOnline records that another instance gained its first or lost its last
// connection of the user, and reports whether the visible state changed
func (t *Tracker) SetOnline(instanceID string, userID int64, online bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	before := t.onlineLocked(userID)
	if online {
		instances, ok := t.remote[userID]
		if !ok {
			instances = make(map[string]struct{})
			t.remote[userID] = instances
		}
		instances[instanceID] = struct{}{}
	} else if instances, ok := t.remote[userID]; ok {
		delete(instances, instanceID)
		if len(instances) == 0 {
			delete(t.remote, userID)
		}
	}
	return before != t.onlineLocked(userID)
}

// IsOnline reports whether the user has a live connection on any instance
func (t *Tracker) IsOnline(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onlineLocked(userID)
}

// Connections returns the number of local connections of the user
func (t *Tracker) Connections(userID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[userID]
}

func (t *Tracker) onlineLocked(userID int64) bool {
	return t.conns[userID] > 0 || len(t.remote[userID]) > 0
}

// Close stops every timer; later typing signals are ignored
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.typing {
		entry.timer.Stop()
		delete(t.typing, key)
	}
	t.closed = true
}
