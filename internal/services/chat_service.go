package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/crypto"
	"github.com/boomerdev01-max/linkaia-sub001/internal/metrics"
	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/boomerdev01-max/linkaia-sub001/internal/reactions"
	"github.com/boomerdev01-max/linkaia-sub001/internal/repository"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	EditWindow        = 10 * time.Minute
	maxClientIDLength = 64
	notifyTimeout     = 5 * time.Second
)

var tracer = otel.Tracer("github.com/boomerdev01-max/linkaia-sub001/internal/services")

type ChatService struct {
	store    repository.ChatStore
	codec    *crypto.Codec
	events   Publisher
	notifier Notifier
	typing   *TypingTracker
	log      *zap.Logger
	now      func() time.Time
}

func NewChatService(
	store repository.ChatStore,
	codec *crypto.Codec,
	events Publisher,
	notifier Notifier,
	typing *TypingTracker,
	log *zap.Logger,
) *ChatService {
	if events == nil {
		events = NopPublisher{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatService{
		store:    store,
		codec:    codec,
		events:   events,
		notifier: notifier,
		typing:   typing,
		log:      log,
		now:      time.Now,
	}
}

type SendMessageInput struct {
	ConversationID int64
	SenderID       int64
	Content        *string
	Kind           models.MessageKind
	ReplyToID      *int64
	Media          []models.MessageMedia
	ClientID       *string
	OriginSession  string
}

type ReactionResult struct {
	MessageID int64                    `json:"message_id"`
	Reactions []models.MessageReaction `json:"reactions"`
	Summary   reactions.Summary        `json:"summary"`
}

func (s *ChatService) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, "chat."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	started := time.Now()

	return ctx, func(errp *error) {
		outcome := "ok"
		if err := *errp; err != nil {
			outcome = string(CodeOf(err))
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, outcome)
		}
		metrics.OperationDuration.WithLabelValues(op, outcome).Observe(time.Since(started).Seconds())
		span.End()
	}
}

func (s *ChatService) ListMessages(
	ctx context.Context,
	callerID int64,
	conversationID int64,
	cursor string,
	limit int,
) (page *models.MessagePage, err error) {
	ctx, done := s.observe(ctx, "list_messages", attribute.Int64("conversation.id", conversationID))
	defer done(&err)

	if err := s.requireParticipant(ctx, s.store, conversationID, callerID); err != nil {
		return nil, err
	}

	beforeID, err := ParseCursor(cursor)
	if err != nil {
		return nil, err
	}
	if beforeID != nil {
		anchor, err := s.store.GetMessage(ctx, *beforeID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCursor
		}
		if err != nil {
			return nil, fmt.Errorf("load cursor message: %w", err)
		}
		if anchor.ConversationID != conversationID {
			return nil, ErrInvalidCursor
		}
	}

	limit = NormalizeLimit(limit)
	rows, err := s.store.ListMessagesBefore(ctx, conversationID, beforeID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	rows, hasMore, nextCursor := trimPage(rows, limit)

	messages, err := s.hydrate(ctx, s.store, rows)
	if err != nil {
		return nil, err
	}

	if beforeID == nil {
		if err := s.store.MarkRead(ctx, conversationID, callerID, s.now()); err != nil {
			s.log.Warn("mark read on open",
				zap.Int64("conversation_id", conversationID),
				zap.Int64("user_id", callerID),
				zap.Error(err),
			)
		}
	}

	return &models.MessagePage{
		Messages:   messages,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (message *models.Message, err error) {
	ctx, done := s.observe(ctx, "send_message", attribute.Int64("conversation.id", input.ConversationID))
	defer done(&err)

	content, kind, err := normalizeSend(input)
	if err != nil {
		return nil, err
	}
	clientID, err := normalizeClientID(input.ClientID)
	if err != nil {
		return nil, err
	}

	if err := s.requireParticipant(ctx, s.store, input.ConversationID, input.SenderID); err != nil {
		return nil, err
	}

	sender, err := s.store.GetIdentity(ctx, input.SenderID)
	if err != nil {
		return nil, fmt.Errorf("load sender: %w", err)
	}
	s.stopTyping(ctx, input.ConversationID, *sender, input.OriginSession)

	var ciphertext, iv []byte
	if content != "" {
		ciphertext, iv, err = s.codec.Encrypt(content)
		if err != nil {
			return nil, fmt.Errorf("encrypt message: %w", err)
		}
	}

	now := s.now()
	var stored *models.StoredMessage
	var created bool
	err = s.store.WithinTx(ctx, func(tx repository.ChatStore) error {
		if input.ReplyToID != nil {
			target, err := tx.GetMessage(ctx, *input.ReplyToID)
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInvalidReply
			}
			if err != nil {
				return fmt.Errorf("load reply target: %w", err)
			}
			if target.ConversationID != input.ConversationID {
				return ErrInvalidReply
			}
		}

		stored, created, err = tx.InsertMessage(ctx, repository.NewMessage{
			ConversationID: input.ConversationID,
			SenderID:       input.SenderID,
			ClientID:       clientID,
			Ciphertext:     ciphertext,
			IV:             iv,
			Kind:           kind,
			ReplyToID:      input.ReplyToID,
			CreatedAt:      now,
		})
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if !created {
			return nil
		}

		if len(input.Media) > 0 {
			if _, err := tx.InsertMedia(ctx, stored.ID, input.Media); err != nil {
				return fmt.Errorf("insert media: %w", err)
			}
		}
		if err := tx.TouchConversation(ctx, input.ConversationID, now); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	hydrated, err := s.hydrate(ctx, s.store, []models.StoredMessage{*stored})
	if err != nil {
		return nil, err
	}
	message = &hydrated[0]

	if !created {
		return message, nil
	}

	metrics.MessagesSent.WithLabelValues(string(message.Kind)).Inc()
	publishEvent(ctx, s.events, s.log, models.EventMessageCreated, message.ConversationID, input.OriginSession, message)
	s.notifyCreated(ctx, message)
	return message, nil
}

func (s *ChatService) EditMessage(
	ctx context.Context,
	messageID int64,
	callerID int64,
	content string,
	originSession string,
) (update *models.MessageUpdate, err error) {
	ctx, done := s.observe(ctx, "edit_message", attribute.Int64("message.id", messageID))
	defer done(&err)

	stored, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if stored.SenderID != callerID {
		return nil, ErrNotSender
	}
	if stored.IsDeleted {
		return nil, ErrMessageDeleted
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrValidation.With("content is required")
	}

	now := s.now()
	if now.Sub(stored.CreatedAt) > EditWindow {
		return nil, ErrEditWindowExpired
	}

	ciphertext, iv, err := s.codec.Encrypt(content)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}

	updated, err := s.store.UpdateMessageContent(ctx, messageID, ciphertext, iv, now)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}

	edited := true
	update = &models.MessageUpdate{
		MessageID: updated.ID,
		Content:   &content,
		IsEdited:  &edited,
		UpdatedAt: updated.UpdatedAt,
	}
	metrics.MessageMutations.WithLabelValues("edit").Inc()
	publishEvent(ctx, s.events, s.log, models.EventMessageUpdated, updated.ConversationID, originSession, update)
	return update, nil
}

// DeleteMessage is idempotent. Deleting an already deleted message returns its
// current state and emits nothing. A deleted message is never pinned.
func (s *ChatService) DeleteMessage(
	ctx context.Context,
	messageID int64,
	callerID int64,
	originSession string,
) (update *models.MessageUpdate, err error) {
	ctx, done := s.observe(ctx, "delete_message", attribute.Int64("message.id", messageID))
	defer done(&err)

	stored, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if stored.SenderID != callerID {
		return nil, ErrNotSender
	}

	deleted, pinned := true, false
	if stored.IsDeleted {
		return &models.MessageUpdate{
			MessageID: stored.ID,
			IsDeleted: &deleted,
			IsPinned:  &pinned,
			UpdatedAt: stored.UpdatedAt,
		}, nil
	}

	updated, err := s.store.SoftDeleteMessage(ctx, messageID, s.now())
	if err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}

	update = &models.MessageUpdate{
		MessageID: updated.ID,
		IsDeleted: &deleted,
		IsPinned:  &pinned,
		UpdatedAt: updated.UpdatedAt,
	}
	metrics.MessageMutations.WithLabelValues("delete").Inc()
	publishEvent(ctx, s.events, s.log, models.EventMessageUpdated, updated.ConversationID, originSession, update)
	return update, nil
}

func (s *ChatService) SetPinned(
	ctx context.Context,
	messageID int64,
	callerID int64,
	pinned bool,
	originSession string,
) (update *models.MessageUpdate, err error) {
	ctx, done := s.observe(ctx, "set_pinned", attribute.Int64("message.id", messageID))
	defer done(&err)

	stored, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if stored.SenderID != callerID {
		return nil, ErrNotSender
	}
	if pinned && stored.IsDeleted {
		return nil, ErrMessageDeleted
	}

	updated, err := s.store.SetMessagePinned(ctx, messageID, pinned, s.now())
	if err != nil {
		return nil, fmt.Errorf("pin message: %w", err)
	}

	update = &models.MessageUpdate{
		MessageID: updated.ID,
		IsPinned:  &updated.IsPinned,
		UpdatedAt: updated.UpdatedAt,
	}
	metrics.MessageMutations.WithLabelValues("pin").Inc()
	publishEvent(ctx, s.events, s.log, models.EventMessageUpdated, updated.ConversationID, originSession, update)
	return update, nil
}

// ToggleReaction keeps at most one reaction per user: the same emoji removes
// it, a different one replaces it.
func (s *ChatService) ToggleReaction(
	ctx context.Context,
	messageID int64,
	userID int64,
	emoji string,
	originSession string,
) (result *ReactionResult, err error) {
	ctx, done := s.observe(ctx, "toggle_reaction", attribute.Int64("message.id", messageID))
	defer done(&err)

	emoji = strings.TrimSpace(emoji)
	if !reactions.Allowed(emoji) {
		return nil, ErrInvalidEmoji
	}

	stored, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, s.store, stored.ConversationID, userID); err != nil {
		return nil, err
	}
	if stored.IsDeleted {
		return nil, ErrMessageDeleted
	}

	now := s.now()
	var rows []models.MessageReaction
	err = s.store.WithinTx(ctx, func(tx repository.ChatStore) error {
		existing, err := tx.GetUserReaction(ctx, messageID, userID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			err = tx.InsertReaction(ctx, messageID, userID, emoji, now)
		case err != nil:
			return fmt.Errorf("load reaction: %w", err)
		case existing.Emoji == emoji:
			err = tx.DeleteReaction(ctx, existing.ID)
		default:
			err = tx.UpdateReactionEmoji(ctx, existing.ID, emoji, now)
		}
		if err != nil {
			return fmt.Errorf("toggle reaction: %w", err)
		}

		byMessage, err := tx.ListReactionsForMessages(ctx, []int64{messageID})
		if err != nil {
			return fmt.Errorf("list reactions: %w", err)
		}
		rows = byMessage[messageID]
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.MessageReaction{}
	}

	metrics.MessageMutations.WithLabelValues("reaction").Inc()
	publishEvent(ctx, s.events, s.log, models.EventReactionChanged, stored.ConversationID, originSession, models.ReactionChange{
		MessageID: messageID,
		Reactions: rows,
	})

	return &ReactionResult{
		MessageID: messageID,
		Reactions: rows,
		Summary:   reactions.Summarize(rows, userID),
	}, nil
}

func (s *ChatService) MarkRead(ctx context.Context, conversationID int64, callerID int64) (err error) {
	ctx, done := s.observe(ctx, "mark_read", attribute.Int64("conversation.id", conversationID))
	defer done(&err)

	if err := s.requireParticipant(ctx, s.store, conversationID, callerID); err != nil {
		return err
	}
	if err := s.store.MarkRead(ctx, conversationID, callerID, s.now()); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// ReadReceipts lists the participants other than the sender whose read
// watermark has reached the message.
func (s *ChatService) ReadReceipts(ctx context.Context, messageID int64, callerID int64) (receipts []models.ReadReceipt, err error) {
	ctx, done := s.observe(ctx, "read_receipts", attribute.Int64("message.id", messageID))
	defer done(&err)

	stored, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, s.store, stored.ConversationID, callerID); err != nil {
		return nil, err
	}

	participants, err := s.store.ListParticipants(ctx, stored.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	receipts = make([]models.ReadReceipt, 0, len(participants))
	for _, participant := range participants {
		if participant.UserID == stored.SenderID || participant.LastReadAt == nil {
			continue
		}
		if participant.LastReadAt.Before(stored.CreatedAt) {
			continue
		}
		receipts = append(receipts, models.ReadReceipt{
			UserID: participant.UserID,
			ReadAt: *participant.LastReadAt,
		})
	}
	return receipts, nil
}

func (s *ChatService) ListPinned(ctx context.Context, conversationID int64, callerID int64) (messages []models.Message, err error) {
	ctx, done := s.observe(ctx, "list_pinned", attribute.Int64("conversation.id", conversationID))
	defer done(&err)

	if err := s.requireParticipant(ctx, s.store, conversationID, callerID); err != nil {
		return nil, err
	}

	rows, err := s.store.ListPinnedMessages(ctx, conversationID, MaxPageLimit)
	if err != nil {
		return nil, fmt.Errorf("list pinned: %w", err)
	}
	return s.hydrate(ctx, s.store, rows)
}

func (s *ChatService) SetTyping(
	ctx context.Context,
	conversationID int64,
	callerID int64,
	active bool,
	originSession string,
) error {
	if s.typing == nil {
		return nil
	}
	if err := s.requireParticipant(ctx, s.store, conversationID, callerID); err != nil {
		return err
	}

	user, err := s.store.GetIdentity(ctx, callerID)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if active {
		return s.typing.Start(ctx, conversationID, *user, originSession)
	}
	return s.typing.Stop(ctx, conversationID, *user, originSession)
}

func (s *ChatService) ListTyping(ctx context.Context, conversationID int64, callerID int64) ([]models.TypingUser, error) {
	if err := s.requireParticipant(ctx, s.store, conversationID, callerID); err != nil {
		return nil, err
	}
	if s.typing == nil {
		return []models.TypingUser{}, nil
	}

	active, err := s.typing.Active(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list typing: %w", err)
	}

	userIDs := make([]int64, 0, len(active))
	for userID := range active {
		if userID != callerID {
			userIDs = append(userIDs, userID)
		}
	}
	identities, err := s.store.GetIdentities(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}

	users := make([]models.TypingUser, 0, len(userIDs))
	for _, userID := range userIDs {
		users = append(users, models.TypingUser{
			UserID:    userID,
			UserName:  identities[userID].Name,
			ExpiresAt: active[userID],
		})
	}
	sortTypingUsers(users)
	return users, nil
}

// CanSubscribe reports whether the user may receive a conversation's events.
func (s *ChatService) CanSubscribe(ctx context.Context, conversationID int64, userID int64) error {
	return s.requireParticipant(ctx, s.store, conversationID, userID)
}

func (s *ChatService) requireParticipant(ctx context.Context, store repository.ChatStore, conversationID int64, userID int64) error {
	if conversationID <= 0 {
		return ErrConversationAbsent
	}
	if _, err := store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConversationAbsent
		}
		return fmt.Errorf("load conversation: %w", err)
	}

	ok, err := store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

func (s *ChatService) loadMessage(ctx context.Context, messageID int64) (*models.StoredMessage, error) {
	if messageID <= 0 {
		return nil, ErrMessageAbsent
	}
	stored, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	return stored, nil
}

func (s *ChatService) stopTyping(ctx context.Context, conversationID int64, sender models.Sender, originSession string) {
	if s.typing == nil {
		return
	}
	if err := s.typing.Stop(ctx, conversationID, sender, originSession); err != nil {
		s.log.Warn("stop typing on send",
			zap.Int64("conversation_id", conversationID),
			zap.Int64("user_id", sender.ID),
			zap.Error(err),
		)
	}
}

func (s *ChatService) notifyCreated(ctx context.Context, message *models.Message) {
	participants, err := s.store.ListParticipants(ctx, message.ConversationID)
	if err != nil {
		s.log.Warn("list recipients", zap.Int64("message_id", message.ID), zap.Error(err))
		return
	}

	recipients := make([]int64, 0, len(participants))
	for _, participant := range participants {
		if participant.UserID != message.SenderID {
			recipients = append(recipients, participant.UserID)
		}
	}
	if len(recipients) == 0 {
		return
	}

	notification := MessageNotification{
		MessageID:      message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		SenderName:     message.Sender.Name,
		RecipientIDs:   recipients,
		Kind:           message.Kind,
		MediaCount:     len(message.Media),
		CreatedAt:      message.CreatedAt,
	}

	go func() {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.MessageCreated(notifyCtx, notification); err != nil {
			metrics.NotificationsFailed.Inc()
			s.log.Warn("notify message created", zap.Int64("message_id", notification.MessageID), zap.Error(err))
		}
	}()
}

func normalizeSend(input SendMessageInput) (string, models.MessageKind, error) {
	var content string
	if input.Content != nil {
		content = strings.TrimSpace(*input.Content)
	}
	if content == "" && len(input.Media) == 0 {
		return "", "", ErrEmptyMessage
	}

	for _, media := range input.Media {
		if !media.Type.Valid() {
			return "", "", ErrInvalidMediaType
		}
		if strings.TrimSpace(media.URL) == "" {
			return "", "", ErrValidation.With("media url is required")
		}
	}

	kind := input.Kind
	if kind == "" {
		kind = models.InferKind(content, input.Media)
	}
	if !kind.Valid() {
		return "", "", ErrInvalidKind
	}
	return content, kind, nil
}

func normalizeClientID(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	clientID := strings.TrimSpace(*raw)
	if clientID == "" {
		return nil, nil
	}
	if len(clientID) > maxClientIDLength {
		return nil, ErrValidation.With("client_id is too long")
	}
	return &clientID, nil
}
