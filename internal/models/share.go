package models

import (
	"time"

	"github.com/google/uuid"
)

// ShareClaim records that a share reward was already granted for a
// (user, platform) pair. Keyed by both columns; survives restarts.
type ShareClaim struct {
	UserID    uuid.UUID `json:"user_id"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}
