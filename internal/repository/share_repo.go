package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncreel/backend/internal/models"
)

type ShareRepo struct {
	pool *pgxpool.Pool
}

func NewShareRepo(pool *pgxpool.Pool) *ShareRepo {
	return &ShareRepo{pool: pool}
}

// CreateClaim inserts a claim row keyed by (user_id, platform). A second
// claim for the same pair hits the primary key and maps to ErrDuplicateClaim.
func (r *ShareRepo) CreateClaim(ctx context.Context, userID uuid.UUID, platform string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO share_claims (user_id, platform) VALUES ($1, $2)
	`, userID, platform)
	if isUniqueViolation(err) {
		return ErrDuplicateClaim
	}
	return err
}

func (r *ShareRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.ShareClaim, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, platform, created_at FROM share_claims WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.ShareClaim
	for rows.Next() {
		var c models.ShareClaim
		if err := rows.Scan(&c.UserID, &c.Platform, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}
