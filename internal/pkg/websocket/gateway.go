package websocket

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/yigit/chathub/internal/app/services"
	"github.com/yigit/chathub/internal/pkg/events"
	"github.com/yigit/chathub/internal/pkg/presence"
	"golang.org/x/time/rate"
)

// GatewayConfig tunes per-connection behaviour
type GatewayConfig struct {
	SendBufferSize int
	// CommandRate is the sustained number of commands per second; 0 disables limiting
	CommandRate    float64
	CommandBurst   int
	CommandTimeout time.Duration
}

// Gateway binds connections to the chat services: it runs the command state
// machine of every connection and keeps presence in sync with connections
type Gateway struct {
	hub      *Hub
	chats    services.ChatService
	messages services.MessageService
	tracker  *presence.Tracker
	validate *validator.Validate
	cfg      GatewayConfig
	logger   zerolog.Logger
}

// NewGateway creates a new Gateway
func NewGateway(
	hub *Hub,
	chats services.ChatService,
	messages services.MessageService,
	tracker *presence.Tracker,
	cfg GatewayConfig,
	logger zerolog.Logger,
) *Gateway {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = 1
	}
	return &Gateway{
		hub:      hub,
		chats:    chats,
		messages: messages,
		tracker:  tracker,
		validate: validator.New(),
		cfg:      cfg,
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

// TypingPublisher turns typing transitions into typing-changed events that
// skip the typist
func TypingPublisher(pub events.Publisher) presence.TypingFunc {
	return func(chatID, userID int64, username string, isTyping bool) {
		pub.Publish(events.New(events.TypingChanged, chatID, events.TypingPayload{
			UserID:   userID,
			Username: username,
			IsTyping: isTyping,
		}).Except(userID))
	}
}

// Serve runs an upgraded connection until it closes. It returns immediately;
// the connection is served by its own goroutines.
func (g *Gateway) Serve(conn *websocket.Conn, userID int64, username string) *Client {
	var limiter *rate.Limiter
	if g.cfg.CommandRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(g.cfg.CommandRate), g.cfg.CommandBurst)
	}

	client := newClient(conn, userID, username, g.cfg.SendBufferSize, limiter, g.logger)
	g.hub.Register(client)

	if first, cameOnline := g.tracker.Connect(userID); first {
		g.broadcastPresence(userID, true, cameOnline)
	}

	g.reply(client, frame{
		Type:    FrameConnected,
		Payload: connectedPayload{ClientID: client.id, UserID: userID},
	})

	go client.writePump()
	go func() {
		client.readPump(func(data []byte) { g.handleFrame(client, data) })
		g.disconnect(client)
	}()

	client.logger.Info().Msg("WebSocket connection established")
	return client
}

// disconnect leaves every room, stops typing and updates presence. Typing in a
// room survives while another connection of the user is still in it.
func (g *Gateway) disconnect(client *Client) {
	joined := g.hub.Unregister(client)
	for _, chatID := range joined {
		if !g.hub.UserInRoom(client.userID, chatID) {
			g.tracker.SetTyping(chatID, client.userID, client.username, false)
		}
	}

	if last, wentOffline := g.tracker.Disconnect(client.userID); last {
		g.tracker.ClearUser(client.userID)
		g.broadcastPresence(client.userID, false, wentOffline)
	}

	client.logger.Info().Int("rooms", len(joined)).Msg("WebSocket connection closed")
}

// broadcastPresence reports this instance's first or last connection of the
// user to every chat of the user. Other instances always hear about it; local
// connections only when the user's visible state flipped.
func (g *Gateway) broadcastPresence(userID int64, online, visible bool) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.CommandTimeout)
	defer cancel()

	chatIDs, err := g.chats.ChatIDsForUser(ctx, userID)
	if err != nil {
		// presence is self-correcting on the next flip
		g.logger.Debug().Err(err).Int64("userID", userID).Msg("Failed to resolve chats for presence")
		return
	}

	for _, chatID := range chatIDs {
		ev := events.New(events.PresenceChanged, chatID, events.PresencePayload{
			UserID:   userID,
			IsOnline: online,
		}).Except(userID)
		if visible {
			g.hub.Publish(ev)
		} else {
			g.hub.Announce(ev)
		}
	}
}
