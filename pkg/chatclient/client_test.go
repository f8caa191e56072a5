package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/gorilla/websocket"
)

func TestClientSendsAuthAndSessionHeaders(t *testing.T) {
	var gotAuth, gotSession, gotClientID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSession = r.Header.Get(SessionHeader)
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/conversations/10/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req SendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ClientID != nil {
			gotClientID = *req.ClientID
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Message{ID: 5, ConversationID: 10, ClientID: req.ClientID, Content: req.Content})
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "tok", "tab-1")
	content := "hi"
	clientID := "c-1"
	message, err := client.SendMessage(context.Background(), 10, SendRequest{Content: &content, ClientID: &clientID})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if message.ID != 5 {
		t.Fatalf("expected id 5, got %d", message.ID)
	}
	if gotAuth != "Bearer tok" || gotSession != "tab-1" || gotClientID != "c-1" {
		t.Fatalf("unexpected headers auth=%q session=%q client=%q", gotAuth, gotSession, gotClientID)
	}
}

func TestClientGeneratesSessionID(t *testing.T) {
	client := NewClient("http://localhost", "tok", "")
	if client.SessionID() == "" {
		t.Fatalf("expected a generated session id")
	}
}

func TestClientListMessagesQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") != "abc" || r.URL.Query().Get("limit") != "30" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(MessagePage{Messages: []Message{{ID: 1}, {ID: 2}}, HasMore: true})
	}))
	defer server.Close()

	page, err := NewClient(server.URL, "tok", "s").ListMessages(context.Background(), 3, "abc", 30)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page.Messages) != 2 || !page.HasMore {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestClientDecodesAPIError(t *testing.T) {
	cases := []struct {
		status    int
		code      string
		retryable bool
	}{
		{http.StatusForbidden, "forbidden", false},
		{http.StatusTooManyRequests, "rate_limited", true},
		{http.StatusBadGateway, "upload_failed", true},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "nope", "code": tc.code})
		}))

		err := NewClient(server.URL, "tok", "s").DeleteMessage(context.Background(), 1)
		server.Close()

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: expected APIError, got %v", tc.status, err)
		}
		if apiErr.Status != tc.status || apiErr.Code != tc.code || apiErr.Message != "nope" {
			t.Fatalf("unexpected error %+v", apiErr)
		}
		if apiErr.Retryable() != tc.retryable {
			t.Fatalf("status %d: retryable=%v", tc.status, apiErr.Retryable())
		}
	}
}

func TestClientUploadAttachmentMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if r.FormValue("kind") != "VOICE" {
			t.Errorf("expected kind VOICE, got %q", r.FormValue("kind"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file: %v", err)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(MessageMedia{
			Type:      models.MediaVoice,
			Filename:  header.Filename,
			MimeType:  header.Header.Get("Content-Type"),
			SizeBytes: int64(len(body)),
		})
	}))
	defer server.Close()

	media, err := NewClient(server.URL, "tok", "s").UploadAttachment(context.Background(), 10, Attachment{
		Filename:    "memo.ogg",
		ContentType: "audio/ogg",
		Kind:        models.MediaVoice,
		Body:        strings.NewReader("OggS"),
	})
	if err != nil {
		t.Fatalf("UploadAttachment: %v", err)
	}
	if media.Filename != "memo.ogg" || media.MimeType != "audio/ogg" || media.SizeBytes != 4 {
		t.Fatalf("unexpected media %+v", media)
	}
}

func TestSubscribeDeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	joined := make(chan int64, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ws" || r.URL.Query().Get("token") != "tok" || r.URL.Query().Get("session_id") != "tab-9" {
			http.Error(w, "bad handshake", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(map[string]string{"type": "ready", "session_id": "tab-9"})

		var frame struct {
			Type           string `json:"type"`
			ConversationID int64  `json:"conversation_id"`
		}
		if err := conn.ReadJSON(&frame); err != nil || frame.Type != "subscribe" {
			return
		}
		joined <- frame.ConversationID

		content := "pushed"
		event, _ := models.NewEvent(models.EventMessageCreated, frame.ConversationID, "other", Message{ID: 11, ConversationID: frame.ConversationID, Content: &content})
		_ = conn.WriteJSON(event)

		// hold the socket open until the client hangs up
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", "tab-9")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.Subscribe(ctx, 10)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	select {
	case id := <-joined:
		if id != 10 {
			t.Fatalf("expected subscribe to 10, got %d", id)
		}
	case <-ctx.Done():
		t.Fatalf("server never saw the subscribe frame")
	}

	select {
	case event := <-sub.Events():
		if event.Type != models.EventMessageCreated || event.ConversationID != 10 {
			t.Fatalf("unexpected event %+v", event)
		}
		var message Message
		if err := event.Decode(&message); err != nil || message.ID != 11 {
			t.Fatalf("bad payload %+v (%v)", message, err)
		}
	case <-ctx.Done():
		t.Fatalf("no event delivered")
	}

	select {
	case frame := <-sub.Control():
		if frame.Type != "ready" || frame.SessionID != "tab-9" {
			t.Fatalf("unexpected control frame %+v", frame)
		}
	case <-ctx.Done():
		t.Fatalf("no ready frame")
	}
}

func TestSubscriptionCloseWithUndrainedEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	flooded := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < eventBuffer+16; i++ {
			event, _ := models.NewEvent(models.EventTyping, 10, "", models.TypingNotice{ConversationID: 10, UserID: int64(i), Active: true})
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
		close(flooded)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	sub, err := NewClient(server.URL, "tok", "tab-1").Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case <-flooded:
	case <-time.After(5 * time.Second):
		t.Fatal("server never finished writing")
	}
	// give the read loop time to fill the buffer and block on it
	time.Sleep(100 * time.Millisecond)
	sub.Close()

	// events are left undrained; the read loop must still exit
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-sub.Control():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("read loop still running after Close")
		}
	}
}

func TestSubscribeHandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "bad", "s").Subscribe(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected a 401 APIError, got %v", err)
	}
}
