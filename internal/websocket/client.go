package chatws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/boomerdev01-max/linkaia-sub001/internal/services"
	websocket "github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 4096
	sendBufferSize = 64
)

const (
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FrameTyping       = "typing"
	FrameReady        = "ready"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameError        = "error"
)

// Gate decides what a connected user may do over the socket.
type Gate interface {
	CanSubscribe(ctx context.Context, conversationID int64, userID int64) error
	SetTyping(ctx context.Context, conversationID int64, callerID int64, active bool, originSession string) error
}

type InboundFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	Active         bool   `json:"active"`
}

type ControlFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	Error          string `json:"error,omitempty"`
	Code           string `json:"code,omitempty"`
}

type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	userID    int64
	sessionID string
	origin    string
	send      chan []byte
	done      chan struct{}
	log       *zap.Logger

	// rooms is owned by the hub goroutine.
	rooms map[int64]struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64, sessionID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		userID:    userID,
		sessionID: sessionID,
		origin:    models.OriginKey(userID, sessionID),
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		log:       hub.log.With(zap.Int64("user_id", userID), zap.String("session_id", sessionID)),
		rooms:     make(map[int64]struct{}),
	}
}

func (c *Client) SessionID() string {
	return c.sessionID
}

func (c *Client) ReadPump(ctx context.Context, gate Gate) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.reply(ControlFrame{Type: FrameReady, SessionID: c.sessionID})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read", zap.Error(err))
			}
			return
		}
		c.handleFrame(ctx, gate, payload)
	}
}

func (c *Client) handleFrame(ctx context.Context, gate Gate, payload []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		c.replyError(0, services.ErrValidation.With("invalid frame"))
		return
	}

	switch frame.Type {
	case FrameSubscribe:
		if err := gate.CanSubscribe(ctx, frame.ConversationID, c.userID); err != nil {
			c.replyError(frame.ConversationID, err)
			return
		}
		c.hub.Subscribe(c, frame.ConversationID)
		c.reply(ControlFrame{Type: FrameSubscribed, ConversationID: frame.ConversationID})
	case FrameUnsubscribe:
		c.hub.Unsubscribe(c, frame.ConversationID)
		c.reply(ControlFrame{Type: FrameUnsubscribed, ConversationID: frame.ConversationID})
	case FrameTyping:
		if err := gate.SetTyping(ctx, frame.ConversationID, c.userID, frame.Active, c.origin); err != nil {
			c.replyError(frame.ConversationID, err)
		}
	default:
		c.replyError(frame.ConversationID, services.ErrValidation.With("unsupported frame type"))
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

func (c *Client) replyError(conversationID int64, err error) {
	if services.CodeOf(err) == services.CodeInternal {
		c.log.Error("websocket frame", zap.Error(err))
	}
	c.reply(ControlFrame{
		Type:           FrameError,
		ConversationID: conversationID,
		Error:          services.MessageOf(err),
		Code:           string(services.CodeOf(err)),
	})
}

// reply queues a control frame, giving up if the buffer is full or the hub
// already dropped the client.
func (c *Client) reply(frame ControlFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- payload:
	default:
	}
}
