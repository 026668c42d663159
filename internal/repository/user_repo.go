package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncreel/backend/internal/models"
)

const userColumns = `id, email, password_hash, invite_code, invited_by, created_at, updated_at`

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// NewInviteCode generates an 8-character hex referral code.
func NewInviteCode() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, invite_code, invited_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, u.ID, u.Email, u.PasswordHash, u.InviteCode, u.InvitedBy).Scan(&u.CreatedAt, &u.UpdatedAt)
	// Two unique constraints can fire here; tell them apart so the caller
	// knows whether to reject the email or regenerate the invite code.
	if name := uniqueConstraint(err); name != "" {
		if strings.Contains(name, "invite_code") {
			return ErrDuplicateInviteCode
		}
		return ErrDuplicateEmail
	}
	return err
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.InviteCode, &u.InvitedBy, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.InviteCode, &u.InvitedBy, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &u, nil
}

func (r *UserRepo) GetByInviteCode(ctx context.Context, code string) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE invite_code = $1`, code).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.InviteCode, &u.InvitedBy, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &u, nil
}

// SetInvitedBy records the inviter exactly once. Returns false when the user
// already has an inviter; the column is never overwritten.
func (r *UserRepo) SetInvitedBy(ctx context.Context, userID, inviterID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET invited_by = $2, updated_at = now()
		WHERE id = $1 AND invited_by IS NULL
	`, userID, inviterID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
