package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the application schema. Every statement is idempotent so
// it runs unconditionally at startup; river manages its own queue tables
// separately. The unique constraints here back the duplicate-submission
// guard, the ledger idempotency keys, and the once-per-platform share
// claims, so the repositories depend on their exact names.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL CONSTRAINT users_email_key UNIQUE,
			password_hash TEXT NOT NULL,
			invite_code TEXT NOT NULL CONSTRAINT users_invite_code_key UNIQUE,
			invited_by UUID REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			amount BIGINT NOT NULL,
			kind TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS credit_transactions_user_kind_key_idx
			ON credit_transactions (user_id, kind, idempotency_key);`,
		`CREATE TABLE IF NOT EXISTS credit_reservations (
			task_id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			amount BIGINT NOT NULL,
			status TEXT NOT NULL,
			hold_tx_id UUID NOT NULL REFERENCES credit_transactions(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS generation_tasks (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			provider TEXT NOT NULL,
			video_url TEXT NOT NULL,
			audio_url TEXT,
			text_prompt TEXT,
			quality TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INT NOT NULL DEFAULT 0,
			provider_task_id TEXT,
			result_url TEXT,
			error_detail TEXT,
			credits_reserved BIGINT NOT NULL,
			credits_charged BIGINT,
			submit_attempts INT NOT NULL DEFAULT 0,
			idempotency_token TEXT,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS generation_tasks_user_idempotency_token_idx
			ON generation_tasks (user_id, idempotency_token)
			WHERE idempotency_token IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS generation_tasks_provider_task_idx
			ON generation_tasks (provider, provider_task_id);`,
		`CREATE INDEX IF NOT EXISTS generation_tasks_unfinished_idx
			ON generation_tasks (status)
			WHERE status IN ('pending', 'queued', 'processing');`,
		`CREATE TABLE IF NOT EXISTS share_claims (
			user_id UUID NOT NULL REFERENCES users(id),
			platform TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, platform)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
