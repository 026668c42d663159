package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncreel/backend/internal/models"
)

const taskColumns = `id, user_id, provider, video_url, audio_url, text_prompt, quality, status, progress,
	provider_task_id, result_url, error_detail, credits_reserved, credits_charged, submit_attempts,
	idempotency_token, version, created_at, updated_at, completed_at`

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func scanTask(row pgx.Row) (*models.GenerationTask, error) {
	var t models.GenerationTask
	err := row.Scan(&t.ID, &t.UserID, &t.Provider, &t.VideoURL, &t.AudioURL, &t.TextPrompt, &t.Quality,
		&t.Status, &t.Progress, &t.ProviderTaskID, &t.ResultURL, &t.ErrorDetail, &t.CreditsReserved,
		&t.CreditsCharged, &t.SubmitAttempts, &t.IdempotencyToken, &t.Version, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &t, nil
}

// CreateTx inserts the task inside the caller's transaction so it is atomic
// with the credit reservation. The partial unique index on
// (user_id, idempotency_token) backs the duplicate-submission guard.
func (r *TaskRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.GenerationTask) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO generation_tasks (id, user_id, provider, video_url, audio_url, text_prompt, quality,
			status, progress, provider_task_id, credits_reserved, submit_attempts, idempotency_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING version, created_at, updated_at
	`, t.ID, t.UserID, t.Provider, t.VideoURL, t.AudioURL, t.TextPrompt, t.Quality,
		t.Status, t.Progress, t.ProviderTaskID, t.CreditsReserved, t.SubmitAttempts, t.IdempotencyToken).
		Scan(&t.Version, &t.CreatedAt, &t.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateToken
	}
	return err
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM generation_tasks WHERE id = $1`, id))
}

// GetByUserAndToken resolves a duplicate submission to the existing task.
func (r *TaskRepo) GetByUserAndToken(ctx context.Context, userID uuid.UUID, token string) (*models.GenerationTask, error) {
	return scanTask(r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM generation_tasks
		WHERE user_id = $1 AND idempotency_token = $2
	`, userID, token))
}

// GetByProviderTaskID resolves an inbound webhook to the local task via the
// (provider, provider_task_id) secondary index.
func (r *TaskRepo) GetByProviderTaskID(ctx context.Context, providerName, providerTaskID string) (*models.GenerationTask, error) {
	return scanTask(r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM generation_tasks
		WHERE provider = $1 AND provider_task_id = $2
	`, providerName, providerTaskID))
}

func (r *TaskRepo) ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.GenerationTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM generation_tasks
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.GenerationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// ListUnfinished returns every non-terminal task for the poll sweep.
func (r *TaskRepo) ListUnfinished(ctx context.Context) ([]*models.GenerationTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM generation_tasks
		WHERE status IN ('pending', 'queued', 'processing')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.GenerationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// UpdateStatus writes the task guarded by its version. Returns false when
// another writer won the race; the caller re-reads and retries.
func (r *TaskRepo) UpdateStatus(ctx context.Context, t *models.GenerationTask) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE generation_tasks
		SET status = $2, progress = $3, provider_task_id = $4, result_url = $5, error_detail = $6,
			credits_charged = $7, submit_attempts = $8, completed_at = $9,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $10
	`, t.ID, t.Status, t.Progress, t.ProviderTaskID, t.ResultURL, t.ErrorDetail,
		t.CreditsCharged, t.SubmitAttempts, t.CompletedAt, t.Version)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	t.Version++
	return true, nil
}
