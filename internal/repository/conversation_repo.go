package repository

import (
	"context"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
)

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) GetConversation(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := `
		SELECT id, kind, name, avatar_url, last_activity_at, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`

	var conversation models.Conversation
	err := r.db.QueryRow(ctx, query, conversationID).Scan(
		&conversation.ID,
		&conversation.Kind,
		&conversation.Name,
		&conversation.AvatarURL,
		&conversation.LastActivityAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &conversation, nil
}

func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID).Scan(&exists)
	return exists, err
}

func (r *ConversationRepository) ListParticipants(ctx context.Context, conversationID int64) ([]models.Participant, error) {
	rows, err := r.db.Query(ctx, `
		SELECT conversation_id, user_id, joined_at, last_read_at
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY joined_at ASC, user_id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make([]models.Participant, 0)
	for rows.Next() {
		var participant models.Participant
		if err := rows.Scan(
			&participant.ConversationID,
			&participant.UserID,
			&participant.JoinedAt,
			&participant.LastReadAt,
		); err != nil {
			return nil, err
		}
		participants = append(participants, participant)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return participants, nil
}

func (r *ConversationRepository) TouchConversation(ctx context.Context, conversationID int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_activity_at = $2, updated_at = $2
		WHERE id = $1
	`, conversationID, at)
	return err
}

// MarkRead only moves the watermark forward.
func (r *ConversationRepository) MarkRead(ctx context.Context, conversationID int64, userID int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversation_participants
		SET last_read_at = GREATEST(COALESCE(last_read_at, $3), $3)
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID, at)
	return err
}
