package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/boomerdev01-max/linkaia-sub001/internal/reactions"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultTimeout = 15 * time.Second
	SessionHeader  = "X-Session-ID"

	eventBuffer = 64
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Retryable reports whether resending the same request may succeed. Nothing
// changed server side for any of these.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

type SendRequest struct {
	Content   *string               `json:"content,omitempty"`
	Kind      models.MessageKind    `json:"kind,omitempty"`
	ReplyToID *int64                `json:"reply_to_id,omitempty"`
	Media     []models.MessageMedia `json:"media,omitempty"`
	ClientID  *string               `json:"client_id,omitempty"`
}

type ReactionResponse struct {
	MessageID int64                    `json:"message_id"`
	Reactions []models.MessageReaction `json:"reactions"`
	Summary   reactions.Summary        `json:"summary"`
}

type Attachment struct {
	Filename    string
	ContentType string
	// Kind optionally overrides what the server sniffs, e.g. VOICE for a recording.
	Kind models.MediaKind
	Body io.Reader
}

type Client struct {
	base      string
	token     string
	sessionID string
	hc        *http.Client
	dialer    *websocket.Dialer
}

// NewClient talks to baseURL (e.g. https://chat.example.com). An empty
// sessionID gets a fresh one; the same id is used for HTTP writes and the
// socket so the server can skip echoing this client's own writes.
func NewClient(baseURL, token, sessionID string) *Client {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Client{
		base:      strings.TrimRight(baseURL, "/"),
		token:     token,
		sessionID: sessionID,
		hc:        &http.Client{Timeout: DefaultTimeout},
		dialer:    websocket.DefaultDialer,
	}
}

func (c *Client) SessionID() string {
	return c.sessionID
}

func (c *Client) ListMessages(ctx context.Context, conversationID int64, cursor string, limit int) (*MessagePage, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := fmt.Sprintf("/api/v1/conversations/%d/messages", conversationID)
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var page MessagePage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID int64, req SendRequest) (*Message, error) {
	var message Message
	path := fmt.Sprintf("/api/v1/conversations/%d/messages", conversationID)
	if err := c.doJSON(ctx, http.MethodPost, path, req, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (c *Client) EditMessage(ctx context.Context, messageID int64, content string) error {
	body := map[string]string{"content": content}
	return c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/api/v1/messages/%d", messageID), body, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/messages/%d", messageID), nil, nil)
}

func (c *Client) SetPinned(ctx context.Context, messageID int64, pinned bool) error {
	body := map[string]bool{"pinned": pinned}
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/api/v1/messages/%d/pin", messageID), body, nil)
}

func (c *Client) ToggleReaction(ctx context.Context, messageID int64, emoji string) (*ReactionResponse, error) {
	var out ReactionResponse
	body := map[string]string{"emoji": emoji}
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/messages/%d/reactions", messageID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReadReceipts(ctx context.Context, messageID int64) ([]models.ReadReceipt, error) {
	var out struct {
		ReadBy []models.ReadReceipt `json:"read_by"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v1/messages/%d/receipts", messageID), nil, &out); err != nil {
		return nil, err
	}
	return out.ReadBy, nil
}

func (c *Client) ListPinned(ctx context.Context, conversationID int64) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v1/conversations/%d/pinned", conversationID), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID int64) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/conversations/%d/read", conversationID), nil, nil)
}

func (c *Client) SetTyping(ctx context.Context, conversationID int64, active bool) error {
	body := map[string]bool{"active": active}
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/conversations/%d/typing", conversationID), body, nil)
}

func (c *Client) ListTyping(ctx context.Context, conversationID int64) ([]models.TypingUser, error) {
	var out struct {
		Typing []models.TypingUser `json:"typing"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v1/conversations/%d/typing", conversationID), nil, &out); err != nil {
		return nil, err
	}
	return out.Typing, nil
}

func (c *Client) UploadAttachment(ctx context.Context, conversationID int64, attachment Attachment) (*MessageMedia, error) {
	if attachment.Body == nil {
		return nil, errors.New("chatclient: attachment body is required")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if attachment.Kind != "" {
		if err := writer.WriteField("kind", string(attachment.Kind)); err != nil {
			return nil, err
		}
	}
	part, err := writer.CreatePart(fileHeader(attachment))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, attachment.Body); err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/api/v1/conversations/%d/attachments", conversationID), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var media MessageMedia
	if err := c.do(req, &media); err != nil {
		return nil, err
	}
	return &media, nil
}

func fileHeader(attachment Attachment) map[string][]string {
	contentType := attachment.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(attachment.Filename)
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename)},
		"Content-Type":        {contentType},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(SessionHeader, c.sessionID)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ControlFrame is a non-event frame from the socket (ready, subscribed, error).
type ControlFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	Error          string `json:"error,omitempty"`
	Code           string `json:"code,omitempty"`
}

// Subscription is a live socket. Events stops when the socket closes or Close
// is called, even if nobody is draining it; Err then reports why.
type Subscription struct {
	conn    *websocket.Conn
	events  chan Event
	control chan ControlFrame
	closed  chan struct{}

	writeMu sync.Mutex
	once    sync.Once
	mu      sync.Mutex
	err     error
}

// Subscribe opens the socket and joins the given conversations.
func (c *Client) Subscribe(ctx context.Context, conversationIDs ...int64) (*Subscription, error) {
	wsURL, err := c.socketURL()
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Code: "handshake_failed", Message: err.Error()}
		}
		return nil, err
	}

	sub := &Subscription{
		conn:    conn,
		events:  make(chan Event, eventBuffer),
		control: make(chan ControlFrame, eventBuffer),
		closed:  make(chan struct{}),
	}
	go sub.readLoop()

	for _, conversationID := range conversationIDs {
		if err := sub.Join(conversationID); err != nil {
			sub.Close()
			return nil, err
		}
	}
	return sub, nil
}

func (c *Client) socketURL() (string, error) {
	parsed, err := url.Parse(c.base + "/api/v1/ws")
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	}
	query := parsed.Query()
	query.Set("token", c.token)
	query.Set("session_id", c.sessionID)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Control() <-chan ControlFrame {
	return s.control
}

func (s *Subscription) Join(conversationID int64) error {
	return s.writeFrame(map[string]any{"type": "subscribe", "conversation_id": conversationID})
}

func (s *Subscription) Leave(conversationID int64) error {
	return s.writeFrame(map[string]any{"type": "unsubscribe", "conversation_id": conversationID})
}

func (s *Subscription) Typing(conversationID int64, active bool) error {
	return s.writeFrame(map[string]any{"type": "typing", "conversation_id": conversationID, "active": active})
}

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) writeFrame(frame any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

func (s *Subscription) readLoop() {
	defer close(s.events)
	defer close(s.control)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil {
			continue
		}
		switch models.EventType(envelope.Type) {
		case models.EventMessageCreated, models.EventMessageUpdated, models.EventReactionChanged, models.EventTyping:
			var event Event
			if err := json.Unmarshal(payload, &event); err != nil {
				continue
			}
			select {
			case s.events <- event:
			case <-s.closed:
				return
			}
		default:
			var frame ControlFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				continue
			}
			select {
			case s.control <- frame:
			default:
			}
		}
	}
}
