package repository

import (
	"context"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type NewMessage struct {
	ConversationID int64
	SenderID       int64
	ClientID       *string
	Ciphertext     []byte
	IV             []byte
	Kind           models.MessageKind
	ReplyToID      *int64
	CreatedAt      time.Time
}

// ChatStore is everything the messaging services need from persistence.
// WithinTx runs fn against a store bound to a single transaction.
type ChatStore interface {
	GetIdentity(ctx context.Context, userID int64) (*models.Sender, error)
	GetIdentities(ctx context.Context, userIDs []int64) (map[int64]models.Sender, error)

	GetConversation(ctx context.Context, conversationID int64) (*models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID int64, userID int64) (bool, error)
	ListParticipants(ctx context.Context, conversationID int64) ([]models.Participant, error)
	TouchConversation(ctx context.Context, conversationID int64, at time.Time) error
	MarkRead(ctx context.Context, conversationID int64, userID int64, at time.Time) error

	InsertMessage(ctx context.Context, in NewMessage) (*models.StoredMessage, bool, error)
	InsertMedia(ctx context.Context, messageID int64, media []models.MessageMedia) ([]models.MessageMedia, error)
	GetMessage(ctx context.Context, messageID int64) (*models.StoredMessage, error)
	GetMessagesByIDs(ctx context.Context, messageIDs []int64) (map[int64]models.StoredMessage, error)
	ListMessagesBefore(ctx context.Context, conversationID int64, beforeID *int64, limit int) ([]models.StoredMessage, error)
	ListPinnedMessages(ctx context.Context, conversationID int64, limit int) ([]models.StoredMessage, error)
	UpdateMessageContent(ctx context.Context, messageID int64, ciphertext, iv []byte, at time.Time) (*models.StoredMessage, error)
	SoftDeleteMessage(ctx context.Context, messageID int64, at time.Time) (*models.StoredMessage, error)
	SetMessagePinned(ctx context.Context, messageID int64, pinned bool, at time.Time) (*models.StoredMessage, error)
	ListMediaForMessages(ctx context.Context, messageIDs []int64) (map[int64][]models.MessageMedia, error)

	GetUserReaction(ctx context.Context, messageID int64, userID int64) (*models.MessageReaction, error)
	InsertReaction(ctx context.Context, messageID int64, userID int64, emoji string, at time.Time) error
	UpdateReactionEmoji(ctx context.Context, reactionID int64, emoji string, at time.Time) error
	DeleteReaction(ctx context.Context, reactionID int64) error
	ListReactionsForMessages(ctx context.Context, messageIDs []int64) (map[int64][]models.MessageReaction, error)

	WithinTx(ctx context.Context, fn func(ChatStore) error) error
}

type PgStore struct {
	pool *pgxpool.Pool
	*UserRepository
	*ConversationRepository
	*MessageRepository
	*ReactionRepository
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	store := newPgStore(pool)
	store.pool = pool
	return store
}

func newPgStore(db DBTX) *PgStore {
	return &PgStore{
		UserRepository:         NewUserRepository(db),
		ConversationRepository: NewConversationRepository(db),
		MessageRepository:      NewMessageRepository(db),
		ReactionRepository:     NewReactionRepository(db),
	}
}

func (s *PgStore) WithinTx(ctx context.Context, fn func(ChatStore) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(newPgStore(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
