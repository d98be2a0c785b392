package websocket

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

// Client is a middleman between one websocket connection and the hub
type Client struct {
	id string

	// The WebSocket connection
	conn *websocket.Conn

	// Buffered channel of outbound frames
	send chan []byte

	sendMu sync.RWMutex
	closed bool

	userID   int64
	username string

	roomsMu sync.Mutex
	rooms   map[int64]struct{}

	// Command rate limiter; nil means unlimited
	limiter *rate.Limiter

	logger zerolog.Logger
}

// newClient wraps an upgraded connection
func newClient(conn *websocket.Conn, userID int64, username string, bufferSize int, limiter *rate.Limiter, logger zerolog.Logger) *Client {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	id := uuid.New().String()
	return &Client{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, bufferSize),
		userID:   userID,
		username: username,
		rooms:    make(map[int64]struct{}),
		limiter:  limiter,
		logger: logger.With().
			Str("clientID", id).
			Int64("userID", userID).
			Logger(),
	}
}

// ID returns the connection id
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated profile id of the connection
func (c *Client) UserID() int64 { return c.userID }

// trySend queues a frame without blocking. It fails when the buffer is full
// or the client is already closed.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send buffer, which makes writePump send a close frame
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// closeConn tears down the network connection; readPump then unwinds
func (c *Client) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) addRoom(chatID int64) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	c.rooms[chatID] = struct{}{}
}

func (c *Client) removeRoom(chatID int64) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	delete(c.rooms, chatID)
}

func (c *Client) joinedRooms() []int64 {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()

	ids := make([]int64, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// allow consumes one command token
func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// readPump reads frames from the connection and hands each to handle, in
// order. It returns when the connection fails or is closed.
func (c *Client) readPump(handle func(data []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			// Don't log normal close conditions as warnings
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info().Msg("WebSocket closed normally")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("Unexpected WebSocket close")
			} else {
				c.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		handle(message)
	}
}

// writePump pumps frames from the send buffer to the connection, one
// websocket message per frame
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
