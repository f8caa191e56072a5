package repository

import (
	"context"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
)

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const identitySelect = `
	SELECT u.id,
	       COALESCE(NULLIF(p.full_name, ''), split_part(u.email, '@', 1)),
	       p.avatar_url
	FROM users u
	LEFT JOIN user_profiles p ON p.user_id = u.id
`

func (r *UserRepository) GetIdentity(ctx context.Context, userID int64) (*models.Sender, error) {
	var sender models.Sender
	err := r.db.QueryRow(ctx, identitySelect+` WHERE u.id = $1`, userID).
		Scan(&sender.ID, &sender.Name, &sender.AvatarURL)
	if err != nil {
		return nil, err
	}
	return &sender, nil
}

func (r *UserRepository) GetIdentities(ctx context.Context, userIDs []int64) (map[int64]models.Sender, error) {
	identities := make(map[int64]models.Sender, len(userIDs))
	if len(userIDs) == 0 {
		return identities, nil
	}

	rows, err := r.db.Query(ctx, identitySelect+` WHERE u.id = ANY($1)`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sender models.Sender
		if err := rows.Scan(&sender.ID, &sender.Name, &sender.AvatarURL); err != nil {
			return nil, err
		}
		identities[sender.ID] = sender
	}
	return identities, rows.Err()
}
