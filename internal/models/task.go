package models

import (
	"time"

	"github.com/google/uuid"
)

// Task status enum. pending is the instant after credit reservation and
// before provider acknowledgment; queued begins once the provider accepts
// the submission.
const (
	TaskStatusPending    = "pending"
	TaskStatusQueued     = "queued"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusCancelled  = "cancelled"
)

// Quality tiers a task can request.
const (
	QualityStandard = "standard"
	QualityHigh     = "high"
	QualityUltra    = "ultra"
)

var statusRank = map[string]int{
	TaskStatusPending:    0,
	TaskStatusQueued:     1,
	TaskStatusProcessing: 2,
	TaskStatusCompleted:  3,
	TaskStatusFailed:     3,
	TaskStatusCancelled:  3,
}

// StatusRank returns the position of a status in the documented forward
// order. Unknown statuses rank below pending so they never win a merge.
func StatusRank(status string) int {
	if r, ok := statusRank[status]; ok {
		return r
	}
	return -1
}

// IsTerminalStatus reports whether no transition may leave the status.
func IsTerminalStatus(status string) bool {
	return status == TaskStatusCompleted || status == TaskStatusFailed || status == TaskStatusCancelled
}

type GenerationTask struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	Provider         string     `json:"provider"`
	VideoURL         string     `json:"video_url"`
	AudioURL         string     `json:"audio_url,omitempty"`
	TextPrompt       string     `json:"text_prompt,omitempty"`
	Quality          string     `json:"quality"`
	Status           string     `json:"status"`
	Progress         int        `json:"progress"`
	ProviderTaskID   *string    `json:"provider_task_id,omitempty"`
	ResultURL        *string    `json:"result_url,omitempty"`
	ErrorDetail      *string    `json:"error_detail,omitempty"`
	CreditsReserved  int64      `json:"credits_reserved"`
	CreditsCharged   *int64     `json:"credits_charged,omitempty"`
	SubmitAttempts   int        `json:"submit_attempts"`
	IdempotencyToken *string    `json:"idempotency_token,omitempty"`
	Version          int        `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}
