package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncreel/backend/internal/models"
)

// Repository implements TransactionStore and ReservationStore on Postgres.
// The credit_transactions table carries a unique constraint on
// (user_id, kind, idempotency_key); duplicate inserts map to ErrDuplicateKey.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ TransactionStore = (*Repository)(nil)
	_ ReservationStore = (*Repository)(nil)
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, kind, idempotency_key, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, t.ID, t.UserID, t.Amount, t.Kind, t.IdempotencyKey, t.ExpiresAt).Scan(&t.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *Repository) Insert(ctx context.Context, t *models.CreditTransaction) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, kind, idempotency_key, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, t.ID, t.UserID, t.Amount, t.Kind, t.IdempotencyKey, t.ExpiresAt).Scan(&t.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *Repository) GetByKey(ctx context.Context, userID uuid.UUID, kind, key string) (*models.CreditTransaction, error) {
	var t models.CreditTransaction
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, amount, kind, idempotency_key, expires_at, created_at
		FROM credit_transactions
		WHERE user_id = $1 AND kind = $2 AND idempotency_key = $3
	`, userID, kind, key).Scan(&t.ID, &t.UserID, &t.Amount, &t.Kind, &t.IdempotencyKey, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// LockBalance serializes concurrent reservations for the same user by
// locking the user row for the duration of the transaction.
func (r *Repository) LockBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	var id uuid.UUID
	return tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
}

func (r *Repository) SumActiveTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error) {
	var total int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM credit_transactions
		WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > now())
	`, userID).Scan(&total)
	return total, err
}

func (r *Repository) SumActive(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM credit_transactions
		WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > now())
	`, userID).Scan(&total)
	return total, err
}

func (r *Repository) BreakdownActive(ctx context.Context, userID uuid.UUID) (int64, int64, error) {
	var free, purchased int64
	err := r.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE kind <> 'purchase'), 0),
			COALESCE(SUM(amount) FILTER (WHERE kind = 'purchase'), 0)
		FROM credit_transactions
		WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > now())
	`, userID).Scan(&free, &purchased)
	return free, purchased, err
}

func (r *Repository) ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, amount, kind, idempotency_key, expires_at, created_at
		FROM credit_transactions
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Kind, &t.IdempotencyKey, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

// --- reservations ---

func (r *Repository) InsertReservationTx(ctx context.Context, tx pgx.Tx, res *models.CreditReservation) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_reservations (task_id, user_id, amount, status, hold_tx_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, res.TaskID, res.UserID, res.Amount, res.Status, res.HoldTxID).Scan(&res.CreatedAt, &res.UpdatedAt)
}

func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (*models.CreditReservation, error) {
	var res models.CreditReservation
	err := tx.QueryRow(ctx, `
		SELECT task_id, user_id, amount, status, hold_tx_id, created_at, updated_at
		FROM credit_reservations WHERE task_id = $1 FOR UPDATE
	`, taskID).Scan(&res.TaskID, &res.UserID, &res.Amount, &res.Status, &res.HoldTxID, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *Repository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, status string) error {
	_, err := tx.Exec(ctx, `
		UPDATE credit_reservations SET status = $1, updated_at = now() WHERE task_id = $2
	`, status, taskID)
	return err
}
