package models

import (
	"encoding/json"
	"strconv"
	"time"
)

type EventType string

const (
	EventMessageCreated  EventType = "message.created"
	EventMessageUpdated  EventType = "message.updated"
	EventReactionChanged EventType = "reaction.changed"
	EventTyping          EventType = "typing"
)

// Event is the envelope broadcast to every session subscribed to a conversation.
// OriginSession names the session whose write produced it; that session is skipped.
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID int64           `json:"conversation_id"`
	OriginSession  string          `json:"origin_session,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

func NewEvent(eventType EventType, conversationID int64, originSession string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:           eventType,
		ConversationID: conversationID,
		OriginSession:  originSession,
		Payload:        raw,
	}, nil
}

func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// OriginKey scopes a client-chosen session id to its user, so a session id
// reused by another account never matches.
func OriginKey(userID int64, sessionID string) string {
	if sessionID == "" {
		return ""
	}
	return strconv.FormatInt(userID, 10) + ":" + sessionID
}

// MessageUpdate carries only the fields changed by an edit, delete or pin.
type MessageUpdate struct {
	MessageID int64     `json:"message_id"`
	Content   *string   `json:"content,omitempty"`
	IsEdited  *bool     `json:"is_edited,omitempty"`
	IsDeleted *bool     `json:"is_deleted,omitempty"`
	IsPinned  *bool     `json:"is_pinned,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ReactionChange struct {
	MessageID int64             `json:"message_id"`
	Reactions []MessageReaction `json:"reactions"`
}

type TypingNotice struct {
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	UserName       string `json:"user_name"`
	Active         bool   `json:"active"`
}
