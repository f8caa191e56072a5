package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/google/uuid"
)

const DefaultMaxAttachmentSize int64 = 25 << 20

type AttachmentInput struct {
	ConversationID int64
	CallerID       int64
	Filename       string
	ContentType    string
	Size           int64
	Kind           models.MediaKind
	Body           io.Reader
}

// AttachmentService uploads files ahead of a send. The returned descriptor is
// what the client puts in the message's media list.
type AttachmentService struct {
	chat    *ChatService
	files   FileStorage
	maxSize int64
	now     func() time.Time
}

func NewAttachmentService(chat *ChatService, files FileStorage, maxSize int64) *AttachmentService {
	if maxSize <= 0 {
		maxSize = DefaultMaxAttachmentSize
	}
	return &AttachmentService{chat: chat, files: files, maxSize: maxSize, now: time.Now}
}

func (s *AttachmentService) Upload(ctx context.Context, input AttachmentInput) (media *models.MessageMedia, err error) {
	ctx, done := s.chat.observe(ctx, "upload_attachment")
	defer done(&err)

	if s.files == nil {
		return nil, ErrUpload.With("file storage is not configured")
	}
	if input.Body == nil || input.Size <= 0 {
		return nil, ErrValidation.With("file is required")
	}
	if input.Size > s.maxSize {
		return nil, ErrValidation.With(fmt.Sprintf("file exceeds %d bytes", s.maxSize))
	}
	if input.Kind != "" && !input.Kind.Valid() {
		return nil, ErrInvalidMediaType
	}

	if err := s.chat.requireParticipant(ctx, s.chat.store, input.ConversationID, input.CallerID); err != nil {
		return nil, err
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(input.Body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, ErrUpload.Wrap(fmt.Errorf("read upload: %w", err))
	}
	head = head[:n]

	contentType := sniffContentType(head, input.ContentType)
	kind := input.Kind
	if kind == "" {
		kind = models.MediaKindForMIME(contentType)
	}

	filename := path.Base(strings.TrimSpace(input.Filename))
	if filename == "." || filename == "/" {
		filename = "attachment"
	}
	key := fmt.Sprintf("conversations/%d/%s%s", input.ConversationID, uuid.NewString(), strings.ToLower(path.Ext(filename)))

	stored, err := s.files.Upload(ctx, io.MultiReader(bytes.NewReader(head), input.Body), input.Size, key, contentType)
	if err != nil {
		s.chat.log.Sugar().Warnw("attachment upload failed", "conversation_id", input.ConversationID, "error", err)
		return nil, ErrUpload.Wrap(err)
	}

	return &models.MessageMedia{
		Type:      kind,
		URL:       stored.URL,
		Filename:  filename,
		SizeBytes: stored.Size,
		MimeType:  stored.MimeType,
		CreatedAt: s.now(),
	}, nil
}

// sniffContentType trusts the declared type unless the bytes say otherwise.
func sniffContentType(head []byte, declared string) string {
	detected := http.DetectContentType(head)
	declared = strings.TrimSpace(declared)
	if detected == "application/octet-stream" && declared != "" {
		return declared
	}
	if strings.HasPrefix(detected, "text/plain") && declared != "" {
		return declared
	}
	return detected
}
