package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicateToken is returned when a task insert hits the
// (user_id, idempotency_token) uniqueness constraint.
var ErrDuplicateToken = errors.New("idempotency token already used")

// ErrDuplicateClaim is returned when a share claim already exists for the
// (user_id, platform) pair.
var ErrDuplicateClaim = errors.New("share reward already claimed")

// ErrDuplicateEmail is returned when registering an email that exists.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrDuplicateInviteCode is returned when a generated invite code collides
// with an existing one. Callers regenerate and retry.
var ErrDuplicateInviteCode = errors.New("invite code already taken")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// uniqueConstraint returns the violated constraint's name, or "" when the
// error is not a unique violation.
func uniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
