package chatclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNothingToSend means the text was empty and every attachment failed.
var ErrNothingToSend = errors.New("chatclient: nothing left to send")

// ErrSendAborted means some uploads failed and the caller chose not to send
// the rest.
var ErrSendAborted = errors.New("chatclient: send aborted after upload failures")

// API is the part of Client the sender needs.
type API interface {
	UploadAttachment(ctx context.Context, conversationID int64, attachment Attachment) (*MessageMedia, error)
	SendMessage(ctx context.Context, conversationID int64, req SendRequest) (*Message, error)
}

type Outgoing struct {
	Content     string
	Kind        MessageKind
	ReplyToID   *int64
	Attachments []Attachment
}

type UploadError struct {
	Index    int
	Filename string
	Err      error
}

func (e UploadError) Error() string {
	return fmt.Sprintf("upload %q: %v", e.Filename, e.Err)
}

type SendResult struct {
	TempID       string
	Message      *Message
	UploadErrors []UploadError
	// Partial is set when the message went out without some attachments.
	Partial bool
}

// Sender runs optimistic sends against one conversation cache.
type Sender struct {
	api   API
	cache *Cache

	// ProceedTextOnly is asked what to do when some uploads failed but
	// something is still sendable. Nil means proceed.
	ProceedTextOnly func(failed []UploadError) bool
}

func NewSender(api API, cache *Cache) *Sender {
	return &Sender{api: api, cache: cache}
}

// Send shows the message immediately, uploads attachments one at a time and
// then posts the message. The temp id is the client_id, so a retry after a
// lost response cannot create a second row.
func (s *Sender) Send(ctx context.Context, out Outgoing) (*SendResult, error) {
	content := strings.TrimSpace(out.Content)
	tempID, _ := s.cache.AddOptimistic(Draft{
		Content:   content,
		Kind:      out.Kind,
		ReplyToID: out.ReplyToID,
	})
	result := &SendResult{TempID: tempID}

	media := make([]MessageMedia, 0, len(out.Attachments))
	for i, attachment := range out.Attachments {
		uploaded, err := s.api.UploadAttachment(ctx, s.cache.ConversationID(), attachment)
		if err != nil {
			result.UploadErrors = append(result.UploadErrors, UploadError{Index: i, Filename: attachment.Filename, Err: err})
			continue
		}
		media = append(media, *uploaded)
	}

	if content == "" && len(media) == 0 {
		err := ErrNothingToSend
		if len(result.UploadErrors) > 0 {
			err = errors.Join(ErrNothingToSend, result.UploadErrors[0])
		}
		_ = s.cache.Fail(tempID, err)
		return result, err
	}
	if len(result.UploadErrors) > 0 {
		if s.ProceedTextOnly != nil && !s.ProceedTextOnly(result.UploadErrors) {
			_ = s.cache.Fail(tempID, ErrSendAborted)
			return result, ErrSendAborted
		}
		result.Partial = true
	}

	kind := out.Kind
	if len(result.UploadErrors) > 0 {
		// the requested kind may have described a dropped attachment
		kind = ""
	}
	draft := Draft{Content: content, Kind: kind, ReplyToID: out.ReplyToID, Media: media}
	if err := s.cache.UpdateDraft(tempID, draft); err != nil {
		return result, err
	}

	message, err := s.post(ctx, tempID, draft)
	result.Message = message
	return result, err
}

// Retry resends a failed entry with its original client_id.
func (s *Sender) Retry(ctx context.Context, tempID string) (*Message, error) {
	draft, err := s.cache.Retry(tempID)
	if err != nil {
		return nil, err
	}
	return s.post(ctx, tempID, draft)
}

func (s *Sender) post(ctx context.Context, tempID string, draft Draft) (*Message, error) {
	req := SendRequest{
		Kind:      draft.Kind,
		ReplyToID: draft.ReplyToID,
		Media:     draft.Media,
		ClientID:  &tempID,
	}
	if draft.Content != "" {
		content := draft.Content
		req.Content = &content
	}

	message, err := s.api.SendMessage(ctx, s.cache.ConversationID(), req)
	if err != nil {
		_ = s.cache.Fail(tempID, err)
		return nil, err
	}
	if err := s.cache.Confirm(tempID, *message); err != nil {
		return message, err
	}
	return message, nil
}
