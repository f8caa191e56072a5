package repository

import (
	"context"
	"errors"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/jackc/pgx/v5"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `
	id, conversation_id, sender_id, client_id, content_ciphertext, content_iv, kind,
	is_edited, is_deleted, is_pinned, reply_to_id, created_at, updated_at
`

func scanMessage(row pgx.Row) (*models.StoredMessage, error) {
	var message models.StoredMessage
	if err := row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.ClientID,
		&message.Ciphertext,
		&message.IV,
		&message.Kind,
		&message.IsEdited,
		&message.IsDeleted,
		&message.IsPinned,
		&message.ReplyToID,
		&message.CreatedAt,
		&message.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &message, nil
}

func collectMessages(rows pgx.Rows) ([]models.StoredMessage, error) {
	defer rows.Close()

	messages := make([]models.StoredMessage, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// InsertMessage reports created=false when the client id was already used by
// the same sender in the conversation; the earlier row is returned instead.
func (r *MessageRepository) InsertMessage(ctx context.Context, in NewMessage) (*models.StoredMessage, bool, error) {
	query := `
		INSERT INTO messages (
			conversation_id, sender_id, client_id, content_ciphertext, content_iv, kind,
			reply_to_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (conversation_id, sender_id, client_id) DO NOTHING
		RETURNING ` + messageColumns

	message, err := scanMessage(r.db.QueryRow(ctx, query,
		in.ConversationID,
		in.SenderID,
		in.ClientID,
		in.Ciphertext,
		in.IV,
		in.Kind,
		in.ReplyToID,
		in.CreatedAt,
	))
	if err == nil {
		return message, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || in.ClientID == nil {
		return nil, false, err
	}

	existing, err := scanMessage(r.db.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND sender_id = $2 AND client_id = $3
	`, in.ConversationID, in.SenderID, *in.ClientID))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *MessageRepository) InsertMedia(ctx context.Context, messageID int64, media []models.MessageMedia) ([]models.MessageMedia, error) {
	query := `
		INSERT INTO message_media (
			message_id, type, url, filename, size_bytes, mime_type,
			width, height, duration_seconds, thumbnail_url
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`

	inserted := make([]models.MessageMedia, 0, len(media))
	for _, item := range media {
		item.MessageID = messageID
		if err := r.db.QueryRow(ctx, query,
			messageID,
			item.Type,
			item.URL,
			item.Filename,
			item.SizeBytes,
			item.MimeType,
			item.Width,
			item.Height,
			item.DurationSeconds,
			item.ThumbnailURL,
		).Scan(&item.ID, &item.CreatedAt); err != nil {
			return nil, err
		}
		inserted = append(inserted, item)
	}
	return inserted, nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, messageID int64) (*models.StoredMessage, error) {
	return scanMessage(r.db.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id = $1
	`, messageID))
}

func (r *MessageRepository) GetMessagesByIDs(ctx context.Context, messageIDs []int64) (map[int64]models.StoredMessage, error) {
	byID := make(map[int64]models.StoredMessage, len(messageIDs))
	if len(messageIDs) == 0 {
		return byID, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id = ANY($1)
	`, messageIDs)
	if err != nil {
		return nil, err
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	for _, message := range messages {
		byID[message.ID] = message
	}
	return byID, nil
}

// ListMessagesBefore returns up to limit rows newest-first, strictly older than
// beforeID by (created_at, id). A nil beforeID starts from the newest message.
func (r *MessageRepository) ListMessagesBefore(ctx context.Context, conversationID int64, beforeID *int64, limit int) ([]models.StoredMessage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		  AND (
			$2::bigint IS NULL
			OR (created_at, id) < (SELECT c.created_at, c.id FROM messages c WHERE c.id = $2)
		  )
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, conversationID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (r *MessageRepository) ListPinnedMessages(ctx context.Context, conversationID int64, limit int) ([]models.StoredMessage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND is_pinned = TRUE AND is_deleted = FALSE
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (r *MessageRepository) UpdateMessageContent(ctx context.Context, messageID int64, ciphertext, iv []byte, at time.Time) (*models.StoredMessage, error) {
	return scanMessage(r.db.QueryRow(ctx, `
		UPDATE messages
		SET content_ciphertext = $2, content_iv = $3, is_edited = TRUE, updated_at = $4
		WHERE id = $1
		RETURNING `+messageColumns,
		messageID, ciphertext, iv, at))
}

func (r *MessageRepository) SoftDeleteMessage(ctx context.Context, messageID int64, at time.Time) (*models.StoredMessage, error) {
	return scanMessage(r.db.QueryRow(ctx, `
		UPDATE messages
		SET content_ciphertext = NULL,
			content_iv = NULL,
			is_deleted = TRUE,
			is_pinned = FALSE,
			updated_at = CASE WHEN is_deleted THEN updated_at ELSE $2 END
		WHERE id = $1
		RETURNING `+messageColumns,
		messageID, at))
}

func (r *MessageRepository) SetMessagePinned(ctx context.Context, messageID int64, pinned bool, at time.Time) (*models.StoredMessage, error) {
	return scanMessage(r.db.QueryRow(ctx, `
		UPDATE messages
		SET is_pinned = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+messageColumns,
		messageID, pinned, at))
}

func (r *MessageRepository) ListMediaForMessages(ctx context.Context, messageIDs []int64) (map[int64][]models.MessageMedia, error) {
	byMessage := make(map[int64][]models.MessageMedia, len(messageIDs))
	if len(messageIDs) == 0 {
		return byMessage, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, message_id, type, url, filename, size_bytes, mime_type,
			width, height, duration_seconds, thumbnail_url, created_at
		FROM message_media
		WHERE message_id = ANY($1)
		ORDER BY message_id, id
	`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item models.MessageMedia
		if err := rows.Scan(
			&item.ID,
			&item.MessageID,
			&item.Type,
			&item.URL,
			&item.Filename,
			&item.SizeBytes,
			&item.MimeType,
			&item.Width,
			&item.Height,
			&item.DurationSeconds,
			&item.ThumbnailURL,
			&item.CreatedAt,
		); err != nil {
			return nil, err
		}
		byMessage[item.MessageID] = append(byMessage[item.MessageID], item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return byMessage, nil
}
