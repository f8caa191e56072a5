package models

import "time"

type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

func (k ConversationKind) Valid() bool {
	switch k {
	case ConversationDirect, ConversationGroup:
		return true
	}
	return false
}

type MessageKind string

const (
	MessageText      MessageKind = "TEXT"
	MessageMediaOnly MessageKind = "MEDIA"
	MessageVoice     MessageKind = "VOICE"
	MessageMixed     MessageKind = "MIXED"
)

func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageMediaOnly, MessageVoice, MessageMixed:
		return true
	}
	return false
}

// InferKind derives the message kind from what the message carries.
func InferKind(content string, media []MessageMedia) MessageKind {
	switch {
	case len(media) == 0:
		return MessageText
	case content != "":
		return MessageMixed
	}
	for _, item := range media {
		if item.Type != MediaVoice {
			return MessageMediaOnly
		}
	}
	return MessageVoice
}

type MediaKind string

const (
	MediaImage    MediaKind = "IMAGE"
	MediaVideo    MediaKind = "VIDEO"
	MediaVoice    MediaKind = "VOICE"
	MediaDocument MediaKind = "DOCUMENT"
)

func (k MediaKind) Valid() bool {
	switch k {
	case MediaImage, MediaVideo, MediaVoice, MediaDocument:
		return true
	}
	return false
}

// MediaKindForMIME classifies an uploaded file by its content type.
func MediaKindForMIME(mimeType string) MediaKind {
	switch {
	case len(mimeType) >= 6 && mimeType[:6] == "image/":
		return MediaImage
	case len(mimeType) >= 6 && mimeType[:6] == "video/":
		return MediaVideo
	case len(mimeType) >= 6 && mimeType[:6] == "audio/":
		return MediaVoice
	default:
		return MediaDocument
	}
}

type Conversation struct {
	ID             int64            `json:"id"`
	Kind           ConversationKind `json:"kind"`
	Name           *string          `json:"name,omitempty"`
	AvatarURL      *string          `json:"avatar_url,omitempty"`
	LastActivityAt time.Time        `json:"last_activity_at"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type Participant struct {
	ConversationID int64      `json:"conversation_id"`
	UserID         int64      `json:"user_id"`
	JoinedAt       time.Time  `json:"joined_at"`
	LastReadAt     *time.Time `json:"last_read_at"`
}

type Sender struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type MessageMedia struct {
	ID              int64     `json:"id"`
	MessageID       int64     `json:"message_id"`
	Type            MediaKind `json:"type"`
	URL             string    `json:"url"`
	Filename        string    `json:"filename"`
	SizeBytes       int64     `json:"size_bytes"`
	MimeType        string    `json:"mime_type"`
	Width           *int      `json:"width,omitempty"`
	Height          *int      `json:"height,omitempty"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	ThumbnailURL    *string   `json:"thumbnail_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type MessageReaction struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

type ReplyPreview struct {
	ID         int64       `json:"id"`
	SenderID   int64       `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Content    *string     `json:"content"`
	Kind       MessageKind `json:"kind"`
	IsDeleted  bool        `json:"is_deleted"`
}

// StoredMessage is a message row as persisted, content still encrypted.
type StoredMessage struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	ClientID       *string
	Ciphertext     []byte
	IV             []byte
	Kind           MessageKind
	IsEdited       bool
	IsDeleted      bool
	IsPinned       bool
	ReplyToID      *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (m *StoredMessage) HasContent() bool {
	return m.Ciphertext != nil && m.IV != nil
}

type Message struct {
	ID             int64             `json:"id"`
	ConversationID int64             `json:"conversation_id"`
	SenderID       int64             `json:"sender_id"`
	ClientID       *string           `json:"client_id,omitempty"`
	Sender         Sender            `json:"sender"`
	Content        *string           `json:"content"`
	Kind           MessageKind       `json:"kind"`
	IsEdited       bool              `json:"is_edited"`
	IsDeleted      bool              `json:"is_deleted"`
	IsPinned       bool              `json:"is_pinned"`
	ReplyToID      *int64            `json:"reply_to_id,omitempty"`
	ReplyTo        *ReplyPreview     `json:"reply_to,omitempty"`
	Media          []MessageMedia    `json:"media"`
	Reactions      []MessageReaction `json:"reactions"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor *string   `json:"next_cursor"`
	HasMore    bool      `json:"has_more"`
}

type ReadReceipt struct {
	UserID int64     `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

type TypingUser struct {
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	ExpiresAt time.Time `json:"expires_at"`
}
