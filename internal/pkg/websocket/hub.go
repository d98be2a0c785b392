package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/yigit/chathub/internal/pkg/events"
)

// Listener observes every locally published event. It must not block.
type Listener func(ev events.Event)

// room is the subscriber set of one chat, synchronized on its own
type room struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// Hub maintains the connected clients and fans events out to them.
// Rooms are independent; broadcasting in one chat never waits on another.
type Hub struct {
	// Subscriber sets keyed by chat ID (int64 -> *room)
	rooms sync.Map

	// Every connection of a user, joined rooms or not
	usersMu sync.RWMutex
	users   map[int64]map[*Client]struct{}

	// Clients whose send buffer overflowed, closed by the run loop
	evict chan *Client

	listenersMu sync.RWMutex
	listeners   []Listener

	logger zerolog.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		users:  make(map[int64]map[*Client]struct{}),
		evict:  make(chan *Client, 256),
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// Run closes evicted connections until ctx is done, then closes every client
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.evict:
			h.logger.Warn().
				Int64("userID", client.userID).
				Str("clientID", client.id).
				Msg("Evicting slow client")
			client.closeConn()
		}
	}
}

// Register adds a connection to the user index
func (h *Hub) Register(client *Client) {
	h.usersMu.Lock()
	defer h.usersMu.Unlock()

	conns, ok := h.users[client.userID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.users[client.userID] = conns
	}
	conns[client] = struct{}{}

	h.logger.Info().
		Int64("userID", client.userID).
		Str("clientID", client.id).
		Msg("Client registered")
}

// Unregister removes the connection from every room and closes its send buffer.
// It returns the chats the client had joined.
func (h *Hub) Unregister(client *Client) []int64 {
	joined := client.joinedRooms()
	for _, chatID := range joined {
		h.LeaveRoom(client, chatID)
	}

	h.usersMu.Lock()
	if conns, ok := h.users[client.userID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.users, client.userID)
		}
	}
	h.usersMu.Unlock()

	client.closeSend()

	h.logger.Info().
		Int64("userID", client.userID).
		Str("clientID", client.id).
		Int("rooms", len(joined)).
		Msg("Client unregistered")

	return joined
}

func (h *Hub) getRoom(chatID int64) (*room, bool) {
	r, ok := h.rooms.Load(chatID)
	if !ok {
		return nil, false
	}
	return r.(*room), true
}

// JoinRoom subscribes the client to a chat. It reports false if already joined.
func (h *Hub) JoinRoom(client *Client, chatID int64) bool {
	for {
		v, _ := h.rooms.LoadOrStore(chatID, &room{clients: make(map[*Client]struct{})})
		r := v.(*room)

		r.mu.Lock()
		// an emptied room may have been dropped between Load and Lock
		if current, ok := h.rooms.Load(chatID); !ok || current != r {
			r.mu.Unlock()
			continue
		}
		if _, exists := r.clients[client]; exists {
			r.mu.Unlock()
			return false
		}
		r.clients[client] = struct{}{}
		r.mu.Unlock()

		client.addRoom(chatID)
		return true
	}
}

// LeaveRoom unsubscribes the client from a chat. It reports false if not joined.
func (h *Hub) LeaveRoom(client *Client, chatID int64) bool {
	client.removeRoom(chatID)

	r, ok := h.getRoom(chatID)
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[client]; !exists {
		return false
	}
	delete(r.clients, client)
	if len(r.clients) == 0 {
		h.rooms.CompareAndDelete(chatID, r)
	}
	return true
}

// InRoom reports whether the client is subscribed to the chat
func (h *Hub) InRoom(client *Client, chatID int64) bool {
	r, ok := h.getRoom(chatID)
	if !ok {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.clients[client]
	return exists
}

// RoomSize returns the number of connections subscribed to a chat
func (h *Hub) RoomSize(chatID int64) int {
	r, ok := h.getRoom(chatID)
	if !ok {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// UserInRoom reports whether any connection of the user is subscribed to the chat
func (h *Hub) UserInRoom(userID, chatID int64) bool {
	r, ok := h.getRoom(chatID)
	if !ok {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for client := range r.clients {
		if client.userID == userID {
			return true
		}
	}
	return false
}

// UserConnections returns the number of live connections of a user
func (h *Hub) UserConnections(userID int64) int {
	h.usersMu.RLock()
	defer h.usersMu.RUnlock()
	return len(h.users[userID])
}

// AddListener registers a function that receives every locally published event
func (h *Hub) AddListener(listener Listener) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, listener)
}

// Publish implements events.Publisher: it notifies listeners and delivers
// the event to local connections. It never blocks on a connection.
func (h *Hub) Publish(ev events.Event) {
	h.Announce(ev)
	h.Deliver(ev)
}

// Announce notifies listeners only. Local connections do not see the event.
func (h *Hub) Announce(ev events.Event) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()

	for _, listener := range h.listeners {
		listener(ev)
	}
}

// Deliver fans an event out to local connections without notifying listeners.
// Events relayed from other instances enter here.
func (h *Hub) Deliver(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).
			Str("type", string(ev.Type)).
			Int64("chatID", ev.ChatID).
			Msg("Failed to marshal event")
		return
	}

	var delivered int
	if len(ev.UserIDs) > 0 {
		delivered = h.deliverToUsers(ev, data)
	} else {
		delivered = h.deliverToRoom(ev, data)
	}

	h.logger.Debug().
		Str("type", string(ev.Type)).
		Int64("chatID", ev.ChatID).
		Int("clients", delivered).
		Msg("Event delivered")

	switch ev.Type {
	case events.ParticipantLeft:
		if userID, ok := participantOf(ev); ok {
			h.removeUserFromRoom(ev.ChatID, userID)
		}
	case events.ChatDeleted:
		h.dropRoom(ev.ChatID)
	}
}

func (h *Hub) deliverToRoom(ev events.Event, data []byte) int {
	r, ok := h.getRoom(ev.ChatID)
	if !ok {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int
	for client := range r.clients {
		if client.userID == ev.ExcludeUserID {
			continue
		}
		h.send(client, data)
		n++
	}
	return n
}

func (h *Hub) deliverToUsers(ev events.Event, data []byte) int {
	h.usersMu.RLock()
	defer h.usersMu.RUnlock()

	var n int
	for _, userID := range ev.UserIDs {
		if userID == ev.ExcludeUserID {
			continue
		}
		for client := range h.users[userID] {
			h.send(client, data)
			n++
		}
	}
	return n
}

// send queues data on the client or schedules its eviction
func (h *Hub) send(client *Client, data []byte) {
	if client.trySend(data) {
		return
	}
	select {
	case h.evict <- client:
	default:
		// the run loop is behind; close directly
		go client.closeConn()
	}
}

// removeUserFromRoom unsubscribes every connection of the user from a chat
func (h *Hub) removeUserFromRoom(chatID, userID int64) {
	h.usersMu.RLock()
	conns := make([]*Client, 0, len(h.users[userID]))
	for client := range h.users[userID] {
		conns = append(conns, client)
	}
	h.usersMu.RUnlock()

	for _, client := range conns {
		h.LeaveRoom(client, chatID)
	}
}

// dropRoom unsubscribes everyone from a chat that no longer exists
func (h *Hub) dropRoom(chatID int64) {
	v, ok := h.rooms.LoadAndDelete(chatID)
	if !ok {
		return
	}
	r := v.(*room)

	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[*Client]struct{})
	r.mu.Unlock()

	for client := range clients {
		client.removeRoom(chatID)
	}

	h.logger.Debug().Int64("chatID", chatID).Int("clients", len(clients)).Msg("Room dropped")
}

func (h *Hub) closeAll() {
	h.usersMu.RLock()
	var all []*Client
	for _, conns := range h.users {
		for client := range conns {
			all = append(all, client)
		}
	}
	h.usersMu.RUnlock()

	for _, client := range all {
		client.closeConn()
	}
}

// participantOf extracts the profile a participant event is about
func participantOf(ev events.Event) (int64, bool) {
	switch p := ev.Payload.(type) {
	case events.ParticipantPayload:
		if p.Participant != nil {
			return p.Participant.ProfileID, true
		}
	case *events.ParticipantPayload:
		if p != nil && p.Participant != nil {
			return p.Participant.ProfileID, true
		}
	case json.RawMessage:
		var decoded events.ParticipantPayload
		if err := json.Unmarshal(p, &decoded); err == nil && decoded.Participant != nil {
			return decoded.Participant.ProfileID, true
		}
	}
	return 0, false
}

var _ events.Publisher = (*Hub)(nil)
