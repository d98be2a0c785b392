// Package broker relays live events between server instances over Redis
// pub/sub so that connections on any instance see every chat event.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/yigit/chathub/internal/pkg/events"
	"golang.org/x/sync/errgroup"
)

const defaultOutboxSize = 1024

// Sink receives events published by other instances
type Sink interface {
	Deliver(ev events.Event)
}

// PresenceSink records which instances hold connections of a user
type PresenceSink interface {
	SetOnline(instanceID string, userID int64, online bool) bool
	IsOnline(userID int64) bool
}

// envelope is the wire format on the Redis channel
type envelope struct {
	InstanceID string    `json:"instanceId"`
	Event      wireEvent `json:"event"`
}

type wireEvent struct {
	Type          events.Type     `json:"type"`
	ChatID        int64           `json:"chatId"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
	UserIDs       []int64         `json:"userIds,omitempty"`
	ExcludeUserID int64           `json:"excludeUserId,omitempty"`
}

// Relay forwards locally published events to Redis and delivers remote ones
// to the local hub
type Relay struct {
	client     *redis.Client
	channel    string
	instanceID string
	sink       Sink
	presence   PresenceSink
	outbox     chan events.Event
	logger     zerolog.Logger
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// NewRelay creates a relay bound to one pub/sub channel. presence may be nil.
func NewRelay(client *redis.Client, channel string, sink Sink, presence PresenceSink, logger zerolog.Logger) *Relay {
	instanceID := uuid.New().String()
	return &Relay{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		sink:       sink,
		presence:   presence,
		outbox:     make(chan events.Event, defaultOutboxSize),
		logger: logger.With().
			Str("component", "relay").
			Str("instanceID", instanceID).
			Logger(),
	}
}

// InstanceID identifies this process on the channel
func (r *Relay) InstanceID() string {
	return r.instanceID
}

// Enqueue schedules a local event for publication. It never blocks; when the
// outbox is full the event is dropped for remote instances only.
func (r *Relay) Enqueue(ev events.Event) {
	select {
	case r.outbox <- ev:
	default:
		r.logger.Warn().
			Str("type", string(ev.Type)).
			Int64("chatID", ev.ChatID).
			Msg("Relay outbox full, dropping event")
	}
}

// Run subscribes to the channel and pumps events both ways until ctx ends
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.logger.Info().Str("channel", r.channel).Msg("Event relay subscribed")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.publishLoop(gctx) })
	g.Go(func() error { return r.receiveLoop(gctx, sub.Channel()) })
	return g.Wait()
}

func (r *Relay) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.outbox:
			data, err := r.encode(ev)
			if err != nil {
				r.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to encode event")
				continue
			}
			if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil && ctx.Err() == nil {
				r.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to publish event")
			}
		}
	}
}

func (r *Relay) receiveLoop(ctx context.Context, ch <-chan *redis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

func (r *Relay) handle(data []byte) {
	ev, origin, err := r.decode(data)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Discarding malformed relay envelope")
		return
	}
	if origin == "" {
		return
	}

	if ev.Type == events.PresenceChanged && r.presence != nil && !r.applyPresence(origin, ev) {
		return
	}

	r.sink.Deliver(ev)
}

// applyPresence records a remote presence change and reports whether local
// clients should see it. An announcement that contradicts the merged state,
// such as one instance going offline while another still holds the user, is
// kept from local clients.
func (r *Relay) applyPresence(origin string, ev events.Event) bool {
	var p events.PresencePayload
	raw, _ := ev.Payload.(json.RawMessage)
	if err := json.Unmarshal(raw, &p); err != nil || p.UserID <= 0 {
		r.logger.Warn().Err(err).Int64("chatID", ev.ChatID).Msg("Discarding malformed presence event")
		return false
	}

	r.presence.SetOnline(origin, p.UserID, p.IsOnline)
	return r.presence.IsOnline(p.UserID) == p.IsOnline
}

func (r *Relay) encode(ev events.Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		InstanceID: r.instanceID,
		Event: wireEvent{
			Type:          ev.Type,
			ChatID:        ev.ChatID,
			Payload:       payload,
			OccurredAt:    ev.OccurredAt,
			UserIDs:       ev.UserIDs,
			ExcludeUserID: ev.ExcludeUserID,
		},
	})
}

// decode parses an envelope and returns the publishing instance, which is
// empty for this instance's own echoes
func (r *Relay) decode(data []byte) (events.Event, string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return events.Event{}, "", err
	}
	if env.InstanceID == "" || env.Event.Type == "" {
		return events.Event{}, "", fmt.Errorf("incomplete envelope")
	}
	if env.InstanceID == r.instanceID {
		return events.Event{}, "", nil
	}

	ev := events.Event{
		Type:          env.Event.Type,
		ChatID:        env.Event.ChatID,
		OccurredAt:    env.Event.OccurredAt,
		UserIDs:       env.Event.UserIDs,
		ExcludeUserID: env.Event.ExcludeUserID,
	}
	if len(env.Event.Payload) > 0 {
		ev.Payload = env.Event.Payload
	}
	return ev, env.InstanceID, nil
}
