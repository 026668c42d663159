package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit transaction kinds. Amounts are signed: grants are positive,
// charges negative.
const (
	CreditKindSystemGrant      = "system_grant"
	CreditKindGenerationCharge = "generation_charge"
	CreditKindGenerationRefund = "generation_refund"
	CreditKindShareReward      = "share_reward"
	CreditKindInviteReward     = "invite_reward"
	CreditKindWelcomeBonus     = "welcome_bonus"
	CreditKindPurchase         = "purchase"
)

// Reservation status for the escrow row backing a generation task.
const (
	ReservationStatusReserved = "reserved"
	ReservationStatusCharged  = "charged"
	ReservationStatusReleased = "released"
)

// CreditTransaction is an immutable ledger entry. The balance of a user is
// the sum of non-expired transaction amounts; there is no stored counter.
type CreditTransaction struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	Amount         int64      `json:"amount"`
	Kind           string     `json:"kind"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CreditReservation tracks the escrow lifecycle of a task's reservation.
// Exactly one row per task; the status column is the at-most-once gate for
// finalize and release.
type CreditReservation struct {
	TaskID    uuid.UUID `json:"task_id"`
	UserID    uuid.UUID `json:"user_id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	HoldTxID  uuid.UUID `json:"hold_tx_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
