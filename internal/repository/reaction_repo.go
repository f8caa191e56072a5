package repository

import (
	"context"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
)

type ReactionRepository struct {
	db DBTX
}

func NewReactionRepository(db DBTX) *ReactionRepository {
	return &ReactionRepository{db: db}
}

func (r *ReactionRepository) GetUserReaction(ctx context.Context, messageID int64, userID int64) (*models.MessageReaction, error) {
	var reaction models.MessageReaction
	err := r.db.QueryRow(ctx, `
		SELECT id, message_id, user_id, emoji, created_at
		FROM message_reactions
		WHERE message_id = $1 AND user_id = $2
		FOR UPDATE
	`, messageID, userID).Scan(
		&reaction.ID,
		&reaction.MessageID,
		&reaction.UserID,
		&reaction.Emoji,
		&reaction.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &reaction, nil
}

// InsertReaction falls back to replacing the emoji when a concurrent toggle
// from the same user won the insert.
func (r *ReactionRepository) InsertReaction(ctx context.Context, messageID int64, userID int64, emoji string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id)
		DO UPDATE SET emoji = EXCLUDED.emoji, created_at = EXCLUDED.created_at
	`, messageID, userID, emoji, at)
	return err
}

func (r *ReactionRepository) UpdateReactionEmoji(ctx context.Context, reactionID int64, emoji string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE message_reactions
		SET emoji = $2, created_at = $3
		WHERE id = $1
	`, reactionID, emoji, at)
	return err
}

func (r *ReactionRepository) DeleteReaction(ctx context.Context, reactionID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM message_reactions WHERE id = $1`, reactionID)
	return err
}

func (r *ReactionRepository) ListReactionsForMessages(ctx context.Context, messageIDs []int64) (map[int64][]models.MessageReaction, error) {
	byMessage := make(map[int64][]models.MessageReaction, len(messageIDs))
	if len(messageIDs) == 0 {
		return byMessage, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, message_id, user_id, emoji, created_at
		FROM message_reactions
		WHERE message_id = ANY($1)
		ORDER BY message_id, created_at, id
	`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var reaction models.MessageReaction
		if err := rows.Scan(
			&reaction.ID,
			&reaction.MessageID,
			&reaction.UserID,
			&reaction.Emoji,
			&reaction.CreatedAt,
		); err != nil {
			return nil, err
		}
		byMessage[reaction.MessageID] = append(byMessage[reaction.MessageID], reaction)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return byMessage, nil
}
