package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/yigit/chathub/internal/app/models"
	"github.com/yigit/chathub/internal/app/models/dto"
	"github.com/yigit/chathub/internal/pkg/apperrors"
	"github.com/yigit/chathub/internal/pkg/presence"
)

// Inbound command types
const (
	CommandJoinRoom    = "join-room"
	CommandLeaveRoom   = "leave-room"
	CommandSendMessage = "send-message"
	CommandSetTyping   = "set-typing"
	CommandPing        = "ping"
)

// Reply frame types
const (
	FrameConnected = "connected"
	FrameAck       = "ack"
	FrameError     = "error"
)

// Command is an inbound frame
type Command struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// frame is an outbound reply to one connection
type frame struct {
	Type      string           `json:"type"`
	RequestID string           `json:"requestId,omitempty"`
	Payload   interface{}      `json:"payload,omitempty"`
	Error     *dto.ErrorDetail `json:"error,omitempty"`
}

type connectedPayload struct {
	ClientID string `json:"clientId"`
	UserID   int64  `json:"userId"`
}

type roomCommand struct {
	ChatID int64 `json:"chatId" validate:"required,gt=0"`
}

type sendMessageCommand struct {
	ChatID      int64    `json:"chatId" validate:"required,gt=0"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments" validate:"omitempty,dive,required"`
}

type setTypingCommand struct {
	ChatID   int64 `json:"chatId" validate:"required,gt=0"`
	IsTyping *bool `json:"isTyping" validate:"required"`
}

type joinRoomAck struct {
	ChatID int64            `json:"chatId"`
	Joined bool             `json:"joined"`
	Typing []presence.Typer `json:"typing"`
}

type leaveRoomAck struct {
	ChatID int64 `json:"chatId"`
	Left   bool  `json:"left"`
}

type sendMessageAck struct {
	Message *models.Message `json:"message"`
}

type setTypingAck struct {
	ChatID   int64 `json:"chatId"`
	IsTyping bool  `json:"isTyping"`
}

type pongAck struct {
	Time time.Time `json:"time"`
}

// handleFrame processes one inbound frame. Every frame gets exactly one ack or
// error reply; errors never close the connection.
func (g *Gateway) handleFrame(client *Client, data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
		g.replyError(client, "", apperrors.NewBadRequestError("Malformed command frame"))
		return
	}

	if !client.allow() {
		g.replyError(client, cmd.RequestID, apperrors.NewCustomError(apperrors.ErrRateLimited, "Too many commands"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.CommandTimeout)
	defer cancel()

	payload, err := g.dispatch(ctx, client, cmd)
	if err != nil {
		g.replyError(client, cmd.RequestID, err)
		return
	}

	g.reply(client, frame{Type: FrameAck, RequestID: cmd.RequestID, Payload: payload})
}

func (g *Gateway) dispatch(ctx context.Context, client *Client, cmd Command) (interface{}, error) {
	switch cmd.Type {
	case CommandJoinRoom:
		var p roomCommand
		if err := g.decode(cmd.Payload, &p); err != nil {
			return nil, err
		}
		return g.joinRoom(ctx, client, p.ChatID)

	case CommandLeaveRoom:
		var p roomCommand
		if err := g.decode(cmd.Payload, &p); err != nil {
			return nil, err
		}
		return g.leaveRoom(client, p.ChatID), nil

	case CommandSendMessage:
		var p sendMessageCommand
		if err := g.decode(cmd.Payload, &p); err != nil {
			return nil, err
		}
		return g.sendMessage(ctx, client, p)

	case CommandSetTyping:
		var p setTypingCommand
		if err := g.decode(cmd.Payload, &p); err != nil {
			return nil, err
		}
		return g.setTyping(ctx, client, p.ChatID, *p.IsTyping)

	case CommandPing:
		return pongAck{Time: time.Now().UTC()}, nil

	default:
		return nil, apperrors.NewBadRequestError("Unknown command type: " + cmd.Type)
	}
}

// joinRoom subscribes the connection; joining twice is a no-op
func (g *Gateway) joinRoom(ctx context.Context, client *Client, chatID int64) (interface{}, error) {
	if err := g.requireParticipant(ctx, client, chatID); err != nil {
		return nil, err
	}

	joined := g.hub.JoinRoom(client, chatID)
	if joined {
		client.logger.Debug().Int64("chatID", chatID).Msg("Joined room")
	}

	typing := g.tracker.Typers(chatID)
	if typing == nil {
		typing = []presence.Typer{}
	}
	return joinRoomAck{ChatID: chatID, Joined: joined, Typing: typing}, nil
}

// leaveRoom unsubscribes the connection; leaving a room not joined is a no-op
func (g *Gateway) leaveRoom(client *Client, chatID int64) interface{} {
	left := g.hub.LeaveRoom(client, chatID)
	if left {
		g.tracker.SetTyping(chatID, client.userID, client.username, false)
		client.logger.Debug().Int64("chatID", chatID).Msg("Left room")
	}
	return leaveRoomAck{ChatID: chatID, Left: left}
}

// sendMessage stores the message first; fan-out happens inside the service
// after the write and never affects the ack
func (g *Gateway) sendMessage(ctx context.Context, client *Client, p sendMessageCommand) (interface{}, error) {
	message, err := g.messages.Append(ctx, p.ChatID, client.userID, p.Content, p.Attachments)
	if err != nil {
		return nil, err
	}

	g.tracker.SetTyping(p.ChatID, client.userID, client.username, false)
	return sendMessageAck{Message: message}, nil
}

func (g *Gateway) setTyping(ctx context.Context, client *Client, chatID int64, isTyping bool) (interface{}, error) {
	if isTyping && !g.hub.InRoom(client, chatID) {
		if err := g.requireParticipant(ctx, client, chatID); err != nil {
			return nil, err
		}
	}

	g.tracker.SetTyping(chatID, client.userID, client.username, isTyping)
	return setTypingAck{ChatID: chatID, IsTyping: isTyping}, nil
}

func (g *Gateway) requireParticipant(ctx context.Context, client *Client, chatID int64) error {
	ok, err := g.chats.ValidateParticipant(ctx, chatID, client.userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Wrap(apperrors.ErrPermissionDenied, apperrors.ErrNotParticipant)
	}
	return nil
}

// decode unmarshals and validates a command payload
func (g *Gateway) decode(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return apperrors.NewBadRequestError("Command payload is required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.NewBadRequestError("Malformed command payload")
	}
	if err := g.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperrors.NewBadRequestError("Invalid field: " + verrs[0].Field())
		}
		return apperrors.NewBadRequestError("Invalid command payload")
	}
	return nil
}

func (g *Gateway) reply(client *Client, f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		client.logger.Error().Err(err).Str("type", f.Type).Msg("Failed to marshal reply")
		return
	}
	g.hub.send(client, data)
}

func (g *Gateway) replyError(client *Client, requestID string, err error) {
	status, detail := dto.MapError(err)
	if status >= http.StatusInternalServerError {
		client.logger.Error().Err(err).Str("requestID", requestID).Msg("Command failed")
	} else {
		client.logger.Debug().Err(err).Str("requestID", requestID).Msg("Command rejected")
	}
	g.reply(client, frame{Type: FrameError, RequestID: requestID, Error: detail})
}
