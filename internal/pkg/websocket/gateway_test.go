package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yigit/chathub/internal/app/models/dto"
	"github.com/yigit/chathub/internal/app/repositories/memory"
	"github.com/yigit/chathub/internal/app/services"
	"github.com/yigit/chathub/internal/pkg/events"
	"github.com/yigit/chathub/internal/pkg/presence"
	"golang.org/x/time/rate"
)

type testFrame struct {
	Type      string           `json:"type"`
	RequestID string           `json:"requestId"`
	ChatID    int64            `json:"chatId"`
	Payload   json.RawMessage  `json:"payload"`
	Error     *dto.ErrorDetail `json:"error"`
}

type gatewayEnv struct {
	server            *httptest.Server
	chatID            int64
	alice, bob, carol int64
}

func newGatewayEnv(t *testing.T) *gatewayEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memory.NewStore()
	env := &gatewayEnv{}
	for i, name := range []string{"alice", "bob", "carol"} {
		p, err := store.UpsertProfile(ctx, name, name)
		require.NoError(t, err)
		switch i {
		case 0:
			env.alice = p.ID
		case 1:
			env.bob = p.ID
		case 2:
			env.carol = p.ID
		}
	}

	logger := zerolog.Nop()
	hub := NewHub(logger)
	go hub.Run(ctx)

	tracker := presence.NewTracker(time.Minute, TypingPublisher(hub))
	t.Cleanup(tracker.Close)

	repos := store.Repositories()
	chats := services.NewChatService(repos, hub, tracker, services.Limits{}, logger)
	messages := services.NewMessageService(repos, hub, services.Limits{}, logger)

	chat, err := chats.CreateGroupChat(ctx, env.alice, "team", []int64{env.bob})
	require.NoError(t, err)
	env.chatID = chat.ID

	gateway := NewGateway(hub, chats, messages, tracker, GatewayConfig{SendBufferSize: 64}, logger)
	handler := NewHandler(gateway, nil, logger)

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		id, _ := strconv.ParseInt(c.Query("uid"), 10, 64)
		c.Set("userID", id)
		c.Set("username", c.Query("name"))
	}, handler.HandleConnection)

	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)
	return env
}

// dial connects as the given profile and consumes the connected frame
func (e *gatewayEnv) dial(t *testing.T, userID int64, name string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?uid=" + strconv.FormatInt(userID, 10) + "&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	f := readUntil(t, conn, func(f testFrame) bool { return f.Type == FrameConnected })
	var payload connectedPayload
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	assert.Equal(t, userID, payload.UserID)
	assert.NotEmpty(t, payload.ClientID)
	return conn
}

func command(t *testing.T, conn *websocket.Conn, typ, requestID string, payload interface{}) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Command{Type: typ, RequestID: requestID, Payload: raw}))
}

// readUntil skips frames until match accepts one
func readUntil(t *testing.T, conn *websocket.Conn, match func(testFrame) bool) testFrame {
	t.Helper()

	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var f testFrame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func reply(requestID string) func(testFrame) bool {
	return func(f testFrame) bool {
		return f.RequestID == requestID && (f.Type == FrameAck || f.Type == FrameError)
	}
}

func ofType(typ string) func(testFrame) bool {
	return func(f testFrame) bool { return f.Type == typ }
}

func (e *gatewayEnv) join(t *testing.T, conn *websocket.Conn, requestID string) {
	t.Helper()
	command(t, conn, CommandJoinRoom, requestID, roomCommand{ChatID: e.chatID})
	f := readUntil(t, conn, reply(requestID))
	require.Equal(t, FrameAck, f.Type, "join failed: %+v", f.Error)
}

func TestGateway_SendMessageReachesRoom(t *testing.T) {
	env := newGatewayEnv(t)
	alice := env.dial(t, env.alice, "alice")
	bob := env.dial(t, env.bob, "bob")
	env.join(t, alice, "j1")
	env.join(t, bob, "j2")

	command(t, alice, CommandSendMessage, "m1", sendMessageCommand{ChatID: env.chatID, Content: "hello"})

	ack := readUntil(t, alice, reply("m1"))
	require.Equal(t, FrameAck, ack.Type)
	var sent struct {
		Message struct {
			ID      int64  `json:"id"`
			Content string `json:"content"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(ack.Payload, &sent))
	assert.Equal(t, "hello", sent.Message.Content)

	created := readUntil(t, bob, ofType("message-created"))
	assert.Equal(t, env.chatID, created.ChatID)
	var got struct {
		Message struct {
			ID       int64 `json:"id"`
			AuthorID int64 `json:"authorId"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(created.Payload, &got))
	assert.Equal(t, sent.Message.ID, got.Message.ID)
	assert.Equal(t, env.alice, got.Message.AuthorID)
}

func TestGateway_TypingSkipsTypist(t *testing.T) {
	env := newGatewayEnv(t)
	alice := env.dial(t, env.alice, "alice")
	bob := env.dial(t, env.bob, "bob")
	env.join(t, alice, "j1")
	env.join(t, bob, "j2")

	command(t, alice, CommandSetTyping, "t1", map[string]interface{}{"chatId": env.chatID, "isTyping": true})
	ack := readUntil(t, alice, reply("t1"))
	require.Equal(t, FrameAck, ack.Type)

	typing := readUntil(t, bob, ofType("typing-changed"))
	var payload struct {
		UserID   int64  `json:"userId"`
		Username string `json:"username"`
		IsTyping bool   `json:"isTyping"`
	}
	require.NoError(t, json.Unmarshal(typing.Payload, &payload))
	assert.Equal(t, env.alice, payload.UserID)
	assert.Equal(t, "alice", payload.Username)
	assert.True(t, payload.IsTyping)

	// alice's next frame is the ping reply, not her own typing event
	command(t, alice, CommandPing, "p1", struct{}{})
	next := readUntil(t, alice, func(f testFrame) bool { return f.Type != "presence-changed" })
	assert.Equal(t, "p1", next.RequestID)
}

func TestGateway_PresenceOnDisconnect(t *testing.T) {
	env := newGatewayEnv(t)
	alice := env.dial(t, env.alice, "alice")
	env.join(t, alice, "j1")

	bob := env.dial(t, env.bob, "bob")
	online := readUntil(t, alice, ofType("presence-changed"))
	assert.JSONEq(t, `{"userId":`+strconv.FormatInt(env.bob, 10)+`,"isOnline":true}`, string(online.Payload))

	require.NoError(t, bob.Close())
	offline := readUntil(t, alice, ofType("presence-changed"))
	assert.JSONEq(t, `{"userId":`+strconv.FormatInt(env.bob, 10)+`,"isOnline":false}`, string(offline.Payload))
}

func TestGateway_ErrorFrames(t *testing.T) {
	env := newGatewayEnv(t)
	carol := env.dial(t, env.carol, "carol")

	tests := []struct {
		name     string
		typ      string
		payload  interface{}
		wantCode dto.ErrorCode
	}{
		{name: "join foreign chat", typ: CommandJoinRoom, payload: roomCommand{ChatID: env.chatID}, wantCode: dto.ErrorCodeForbidden},
		{name: "send to foreign chat", typ: CommandSendMessage, payload: sendMessageCommand{ChatID: env.chatID, Content: "hi"}, wantCode: dto.ErrorCodeForbidden},
		{name: "unknown chat", typ: CommandJoinRoom, payload: roomCommand{ChatID: 999}, wantCode: dto.ErrorCodeForbidden},
		{name: "invalid payload", typ: CommandJoinRoom, payload: map[string]int{"chatId": 0}, wantCode: dto.ErrorCodeBadRequest},
		{name: "typing without flag", typ: CommandSetTyping, payload: map[string]int64{"chatId": env.chatID}, wantCode: dto.ErrorCodeBadRequest},
		{name: "unknown command", typ: "shout", payload: struct{}{}, wantCode: dto.ErrorCodeBadRequest},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requestID := "e" + strconv.Itoa(i)
			command(t, carol, tt.typ, requestID, tt.payload)

			f := readUntil(t, carol, reply(requestID))
			require.Equal(t, FrameError, f.Type)
			require.NotNil(t, f.Error)
			assert.Equal(t, tt.wantCode, f.Error.Code)
		})
	}

	// the connection survives every rejected command
	require.NoError(t, carol.WriteMessage(websocket.TextMessage, []byte("not json")))
	f := readUntil(t, carol, ofType(FrameError))
	assert.Equal(t, dto.ErrorCodeBadRequest, f.Error.Code)

	command(t, carol, CommandPing, "alive", struct{}{})
	assert.Equal(t, FrameAck, readUntil(t, carol, reply("alive")).Type)
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "no list", allowed: nil, origin: "https://evil.example", want: true},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://evil.example", want: true},
		{name: "listed", allowed: []string{"https://app.example/"}, origin: "https://APP.example", want: true},
		{name: "not listed", allowed: []string{"https://app.example"}, origin: "https://evil.example", want: false},
		{name: "no origin header", allowed: []string{"https://app.example"}, origin: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, originChecker(tt.allowed)(req))
		})
	}
}

func TestGateway_CommandRateLimit(t *testing.T) {
	gateway := NewGateway(NewHub(zerolog.Nop()), nil, nil, nil, GatewayConfig{}, zerolog.Nop())
	client := newClient(nil, 1, "alice", 8, rate.NewLimiter(rate.Every(time.Hour), 2), zerolog.Nop())

	for i := 0; i < 3; i++ {
		gateway.handleFrame(client, []byte(`{"type":"ping","requestId":"p`+strconv.Itoa(i)+`"}`))
	}

	var frames []testFrame
	for len(client.send) > 0 {
		var f testFrame
		require.NoError(t, json.Unmarshal(<-client.send, &f))
		frames = append(frames, f)
	}

	require.Len(t, frames, 3)
	assert.Equal(t, FrameAck, frames[0].Type)
	assert.Equal(t, FrameAck, frames[1].Type)
	assert.Equal(t, FrameError, frames[2].Type)
	assert.Equal(t, "p2", frames[2].RequestID)
	require.NotNil(t, frames[2].Error)
	assert.Equal(t, dto.ErrorCodeRateLimited, frames[2].Error.Code)
}

func TestGateway_DisconnectKeepsTypingOfOtherTab(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var stopped []int64
	tracker := presence.NewTracker(time.Minute, func(chatID, _ int64, _ string, isTyping bool) {
		if !isTyping {
			stopped = append(stopped, chatID)
		}
	})
	t.Cleanup(tracker.Close)
	gateway := NewGateway(hub, nil, nil, tracker, GatewayConfig{}, zerolog.Nop())

	tabA, tabB := testClient(1, 8), testClient(1, 8)
	for _, c := range []*Client{tabA, tabB} {
		hub.Register(c)
		tracker.Connect(1)
	}
	hub.JoinRoom(tabA, 10)
	hub.JoinRoom(tabB, 10)
	hub.JoinRoom(tabA, 20)
	tracker.SetTyping(10, 1, "alice", true)
	tracker.SetTyping(20, 1, "alice", true)

	gateway.disconnect(tabA)

	assert.Equal(t, []int64{20}, stopped, "only the room no other tab is in stops typing")
	assert.Equal(t, []presence.Typer{{UserID: 1, Username: "alice"}}, tracker.Typers(10))
	assert.Empty(t, tracker.Typers(20))
	assert.True(t, tracker.IsOnline(1))
}

func TestGateway_LastLocalDisconnectWhileOnlineElsewhere(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	store := memory.NewStore()
	alice, err := store.UpsertProfile(ctx, "alice", "alice")
	require.NoError(t, err)
	bob, err := store.UpsertProfile(ctx, "bob", "bob")
	require.NoError(t, err)

	hub := NewHub(logger)
	tracker := presence.NewTracker(time.Minute, TypingPublisher(hub))
	t.Cleanup(tracker.Close)
	chats := services.NewChatService(store.Repositories(), hub, tracker, services.Limits{}, logger)
	chat, err := chats.CreateGroupChat(ctx, alice.ID, "team", []int64{bob.ID})
	require.NoError(t, err)

	gateway := NewGateway(hub, chats, nil, tracker, GatewayConfig{}, logger)

	tab := testClient(alice.ID, 8)
	hub.Register(tab)
	tracker.Connect(alice.ID)
	tracker.SetOnline("other-instance", alice.ID, true)

	watcher := testClient(bob.ID, 8)
	hub.Register(watcher)
	hub.JoinRoom(watcher, chat.ID)

	var announced []events.Event
	hub.AddListener(func(ev events.Event) { announced = append(announced, ev) })

	gateway.disconnect(tab)

	require.Len(t, announced, 1)
	assert.Equal(t, events.PresenceChanged, announced[0].Type)
	assert.Equal(t, events.PresencePayload{UserID: alice.ID, IsOnline: false}, announced[0].Payload)
	assert.Empty(t, drain(t, watcher), "local clients still see the user online")
	assert.True(t, tracker.IsOnline(alice.ID))
}
