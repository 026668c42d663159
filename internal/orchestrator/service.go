package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/syncreel/backend/internal/models"
	"github.com/syncreel/backend/internal/provider"
	"github.com/syncreel/backend/internal/repository"
	"github.com/syncreel/backend/internal/workers"
)

const (
	// pendingDeadline is how long a task may sit in pending before the
	// sweep force-fails it and releases the reservation.
	pendingDeadline = 10 * time.Minute

	// reconcileMaxRetries bounds the optimistic-version retry loop when
	// poll and webhook race on the same task.
	reconcileMaxRetries = 3
)

// ErrInvalidInput is a caller error: the request never produces side effects.
var ErrInvalidInput = errors.New("invalid input")

// ErrUnknownTask means a status update references no local task. The caller
// logs and acknowledges it; it is never retried.
var ErrUnknownTask = errors.New("unknown task")

// ErrCannotCancel is returned when cancelling a task already terminal.
var ErrCannotCancel = errors.New("task is already finished")

// errVersionConflict is returned when the optimistic retry budget runs out.
var errVersionConflict = errors.New("task version conflict not resolved")

// CreditCostByQuality prices each quality tier in credits.
var CreditCostByQuality = map[string]int64{
	models.QualityStandard: 10,
	models.QualityHigh:     20,
	models.QualityUltra:    40,
}

// TaskSpec is the provider-agnostic input of a generation task.
type TaskSpec struct {
	Provider   string `json:"provider"`
	VideoURL   string `json:"video_url"`
	AudioURL   string `json:"audio_url"`
	TextPrompt string `json:"text_prompt"`
	Quality    string `json:"quality"`
}

// TaskStore is the task persistence contract the orchestrator needs.
type TaskStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.GenerationTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error)
	GetByUserAndToken(ctx context.Context, userID uuid.UUID, token string) (*models.GenerationTask, error)
	GetByProviderTaskID(ctx context.Context, providerName, providerTaskID string) (*models.GenerationTask, error)
	ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.GenerationTask, error)
	ListUnfinished(ctx context.Context) ([]*models.GenerationTask, error)
	UpdateStatus(ctx context.Context, t *models.GenerationTask) (bool, error)
}

// Ledger is the credit ledger contract. The orchestrator is the only
// component that decides compensating actions; the ledger never
// self-compensates.
type Ledger interface {
	Reserve(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount int64) (*models.CreditTransaction, error)
	FinalizeCharge(ctx context.Context, taskID uuid.UUID, finalAmount int64) (int64, error)
	Release(ctx context.Context, taskID uuid.UUID) error
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// InsertSubmitTxFunc enqueues a submission retry job within the given
// transaction. Provided by main using river.Client.InsertTx.
type InsertSubmitTxFunc func(ctx context.Context, tx pgx.Tx, args workers.ProviderSubmitArgs) error

// Service drives a generation task from creation to a terminal state,
// coordinating the ledger and provider clients and reconciling poll and
// webhook updates through a single entry point.
type Service struct {
	pool          TxBeginner
	tasks         TaskStore
	ledger        Ledger
	providers     *provider.Registry
	insertSubmit  InsertSubmitTxFunc
	publicBaseURL string
	logger        *slog.Logger
}

func NewService(
	pool TxBeginner,
	tasks TaskStore,
	creditLedger Ledger,
	providers *provider.Registry,
	insertSubmit InsertSubmitTxFunc,
	publicBaseURL string,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:          pool,
		tasks:         tasks,
		ledger:        creditLedger,
		providers:     providers,
		insertSubmit:  insertSubmit,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:        logger,
	}
}

// validateSpec enforces the input contract: a well-formed media URL target
// and at least one audio source.
func validateSpec(spec TaskSpec) error {
	if !validHTTPURL(spec.VideoURL) {
		return fmt.Errorf("%w: video_url must be a valid http(s) URL", ErrInvalidInput)
	}
	if spec.AudioURL == "" && strings.TrimSpace(spec.TextPrompt) == "" {
		return fmt.Errorf("%w: either audio_url or text_prompt is required", ErrInvalidInput)
	}
	if spec.AudioURL != "" && !validHTTPURL(spec.AudioURL) {
		return fmt.Errorf("%w: audio_url must be a valid http(s) URL", ErrInvalidInput)
	}
	if _, ok := CreditCostByQuality[spec.Quality]; !ok {
		return fmt.Errorf("%w: unknown quality tier %q", ErrInvalidInput, spec.Quality)
	}
	return nil
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CreateTask validates the spec, reserves credits, and submits to the
// provider. A duplicate idempotency token returns the existing task. On a
// transient provider failure the task stays pending with a scheduled retry
// instead of being released immediately.
func (s *Service) CreateTask(ctx context.Context, userID uuid.UUID, spec TaskSpec, idempotencyToken string) (*models.GenerationTask, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	client, err := s.providers.Get(spec.Provider)
	if err != nil {
		return nil, err
	}

	if idempotencyToken != "" {
		existing, err := s.tasks.GetByUserAndToken(ctx, userID, idempotencyToken)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("lookup idempotency token: %w", err)
		}
	}

	cost := CreditCostByQuality[spec.Quality]
	task := &models.GenerationTask{
		ID:              uuid.New(),
		UserID:          userID,
		Provider:        spec.Provider,
		VideoURL:        spec.VideoURL,
		AudioURL:        spec.AudioURL,
		TextPrompt:      spec.TextPrompt,
		Quality:         spec.Quality,
		Status:          models.TaskStatusPending,
		CreditsReserved: cost,
	}
	if idempotencyToken != "" {
		task.IdempotencyToken = &idempotencyToken
	}

	// Reservation and task row commit atomically; the task becomes visible
	// to the sweep only with its escrow in place.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.ledger.Reserve(ctx, tx, userID, task.ID, cost); err != nil {
		return nil, err
	}
	if err := s.tasks.CreateTx(ctx, tx, task); err != nil {
		if errors.Is(err, repository.ErrDuplicateToken) {
			// Concurrent duplicate submission: the other request won.
			return s.tasks.GetByUserAndToken(ctx, userID, idempotencyToken)
		}
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create tx: %w", err)
	}

	providerTaskID, err := client.Submit(ctx, s.submitRequest(task))
	switch {
	case err == nil:
		task.Status = models.TaskStatusQueued
		task.ProviderTaskID = &providerTaskID
		task.SubmitAttempts = 1
		if err := s.applyUpdate(ctx, task); err != nil {
			return nil, err
		}
		return task, nil

	case errors.Is(err, provider.ErrProviderRejected):
		detail := err.Error()
		if failErr := s.forceFail(ctx, task, detail); failErr != nil {
			s.logger.Error("fail task after provider rejection", "task_id", task.ID, "error", failErr)
		}
		return nil, err

	case errors.Is(err, provider.ErrProviderUnavailable):
		s.logger.Warn("provider unavailable on submit, scheduling retry", "task_id", task.ID, "provider", task.Provider, "error", err)
		task.SubmitAttempts = 1
		if err := s.applyUpdate(ctx, task); err != nil {
			return nil, err
		}
		if err := s.scheduleSubmitRetry(ctx, task.ID); err != nil {
			return nil, err
		}
		return task, nil

	default:
		return nil, fmt.Errorf("submit task: %w", err)
	}
}

func (s *Service) submitRequest(task *models.GenerationTask) provider.SubmitRequest {
	req := provider.SubmitRequest{
		VideoURL:   task.VideoURL,
		AudioURL:   task.AudioURL,
		TextPrompt: task.TextPrompt,
		Quality:    task.Quality,
	}
	if s.publicBaseURL != "" {
		req.CallbackURL = s.publicBaseURL + "/v1/webhooks/" + task.Provider
	}
	return req
}

func (s *Service) scheduleSubmitRetry(ctx context.Context, taskID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin retry tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := s.insertSubmit(ctx, tx, workers.ProviderSubmitArgs{TaskID: taskID}); err != nil {
		return fmt.Errorf("enqueue submit retry: %w", err)
	}
	return tx.Commit(ctx)
}

// allowsTransition implements the forward-only merge: stale updates are
// ignored, progress within the same state only moves up, and a provider
// failed/cancelled always wins over any non-terminal state.
func allowsTransition(task *models.GenerationTask, upd *provider.StatusUpdate) bool {
	if models.IsTerminalStatus(task.Status) {
		return false
	}
	if upd.Status == models.TaskStatusFailed || upd.Status == models.TaskStatusCancelled {
		return true
	}
	curRank, updRank := models.StatusRank(task.Status), models.StatusRank(upd.Status)
	if updRank > curRank {
		return true
	}
	return updRank == curRank && upd.Progress > task.Progress
}

// Reconcile merges a status update from either the poller or the webhook
// handler into the task record. It is the sole mutation point for task
// state; duplicate or stale deliveries are no-ops.
func (s *Service) Reconcile(ctx context.Context, providerName string, upd *provider.StatusUpdate) error {
	for attempt := 0; attempt < reconcileMaxRetries; attempt++ {
		task, err := s.tasks.GetByProviderTaskID(ctx, providerName, upd.ProviderTaskID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: provider %s task %s", ErrUnknownTask, providerName, upd.ProviderTaskID)
			}
			return fmt.Errorf("lookup task: %w", err)
		}
		if models.IsTerminalStatus(task.Status) {
			// Terminal state is immutable, but the settlement may still be
			// owed if an earlier attempt failed between the status write and
			// the ledger call. Settling is idempotent, so re-attempt it here.
			return s.settle(ctx, task)
		}
		if !allowsTransition(task, upd) {
			return nil
		}

		task.Status = upd.Status
		if upd.Progress > task.Progress {
			task.Progress = upd.Progress
		}
		if task.Progress > 100 {
			task.Progress = 100
		}
		switch upd.Status {
		case models.TaskStatusCompleted:
			task.Progress = 100
			if upd.ResultURL != "" {
				task.ResultURL = &upd.ResultURL
			}
			charged := task.CreditsReserved
			task.CreditsCharged = &charged
		case models.TaskStatusFailed, models.TaskStatusCancelled:
			if upd.ErrorDetail != "" {
				task.ErrorDetail = &upd.ErrorDetail
			}
		}
		if models.IsTerminalStatus(task.Status) {
			now := time.Now()
			task.CompletedAt = &now
		}

		ok, err := s.tasks.UpdateStatus(ctx, task)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		if !ok {
			continue // lost the version race, re-read and retry
		}

		return s.settle(ctx, task)
	}
	return errVersionConflict
}

// settle resolves the credit reservation for a terminal task: finalize the
// charge on completion, refund on failure or cancellation. The reservation
// status gate in the ledger makes this a no-op once settled, so callers
// re-run it freely whenever they see a terminal task.
func (s *Service) settle(ctx context.Context, task *models.GenerationTask) error {
	switch task.Status {
	case models.TaskStatusCompleted:
		if _, err := s.ledger.FinalizeCharge(ctx, task.ID, task.CreditsReserved); err != nil {
			return fmt.Errorf("finalize charge: %w", err)
		}
	case models.TaskStatusFailed, models.TaskStatusCancelled:
		if err := s.ledger.Release(ctx, task.ID); err != nil {
			return fmt.Errorf("release reservation: %w", err)
		}
	}
	return nil
}

// Cancel honors a user cancel while the task is pending or queued. Once
// processing it is forwarded to the provider best-effort and the task runs
// to its natural terminal state.
func (s *Service) Cancel(ctx context.Context, userID, taskID uuid.UUID) (*models.GenerationTask, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, repository.ErrNotFound
	}

	switch task.Status {
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled:
		// Already over, but a prior terminal write may have lost its ledger
		// call; re-attempt the idempotent settlement before rejecting.
		if err := s.settle(ctx, task); err != nil {
			return nil, err
		}
		return nil, ErrCannotCancel

	case models.TaskStatusProcessing:
		s.forwardCancel(ctx, task)
		return task, nil

	default: // pending, queued
		for attempt := 0; attempt < reconcileMaxRetries; attempt++ {
			if models.IsTerminalStatus(task.Status) {
				if err := s.settle(ctx, task); err != nil {
					return nil, err
				}
				return task, nil
			}
			task.Status = models.TaskStatusCancelled
			now := time.Now()
			task.CompletedAt = &now
			ok, err := s.tasks.UpdateStatus(ctx, task)
			if err != nil {
				return nil, fmt.Errorf("update task: %w", err)
			}
			if ok {
				if err := s.settle(ctx, task); err != nil {
					return nil, err
				}
				s.forwardCancel(ctx, task)
				return task, nil
			}
			task, err = s.tasks.GetByID(ctx, taskID)
			if err != nil {
				return nil, err
			}
		}
		return nil, errVersionConflict
	}
}

// forwardCancel asks the provider to stop work when it offers that and the
// task was already submitted. Failures are logged and ignored.
func (s *Service) forwardCancel(ctx context.Context, task *models.GenerationTask) {
	if task.ProviderTaskID == nil {
		return
	}
	client, err := s.providers.Get(task.Provider)
	if err != nil {
		return
	}
	if err := client.Cancel(ctx, *task.ProviderTaskID); err != nil && !errors.Is(err, provider.ErrCancelUnsupported) {
		s.logger.Warn("provider cancel failed", "task_id", task.ID, "provider", task.Provider, "error", err)
	}
}

// GetTask returns the task if it belongs to the user.
func (s *Service) GetTask(ctx context.Context, userID, taskID uuid.UUID) (*models.GenerationTask, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return task, nil
}

// ListTasks returns the user's tasks, newest first.
func (s *Service) ListTasks(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.GenerationTask, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.tasks.ListByUserID(ctx, userID, limit, offset)
}

// RetrySubmit re-attempts the provider submission for a pending task. Called
// by the background submit worker; attempt/maxAttempts come from the job.
func (s *Service) RetrySubmit(ctx context.Context, taskID uuid.UUID, attempt, maxAttempts int) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if models.IsTerminalStatus(task.Status) {
		// A failed earlier attempt may have left the settlement owed; the
		// queue's retry is our chance to finish it.
		return s.settle(ctx, task)
	}
	if task.Status != models.TaskStatusPending {
		return nil
	}

	client, err := s.providers.Get(task.Provider)
	if err != nil {
		return s.forceFail(ctx, task, "provider not configured")
	}

	providerTaskID, err := client.Submit(ctx, s.submitRequest(task))
	switch {
	case err == nil:
		task.Status = models.TaskStatusQueued
		task.ProviderTaskID = &providerTaskID
		task.SubmitAttempts = attempt + 1
		return s.applyUpdate(ctx, task)

	case errors.Is(err, provider.ErrProviderRejected):
		return s.forceFail(ctx, task, err.Error())

	case errors.Is(err, provider.ErrProviderUnavailable):
		if attempt >= maxAttempts {
			s.logger.Warn("submit retries exhausted", "task_id", task.ID, "attempts", attempt)
			return s.forceFail(ctx, task, "provider unavailable after repeated attempts")
		}
		return err // let the queue retry with backoff

	default:
		return fmt.Errorf("submit task: %w", err)
	}
}

// SweepOnce polls every non-terminal task as the fallback to webhooks and
// force-fails tasks stuck in pending past the deadline.
func (s *Service) SweepOnce(ctx context.Context) error {
	unfinished, err := s.tasks.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("list unfinished: %w", err)
	}
	for _, task := range unfinished {
		if task.ProviderTaskID == nil {
			if task.Status == models.TaskStatusPending && time.Since(task.CreatedAt) > pendingDeadline {
				s.logger.Warn("task stuck in pending past deadline", "task_id", task.ID)
				if err := s.forceFail(ctx, task, "timed out waiting for provider acceptance"); err != nil {
					s.logger.Error("force-fail stuck task", "task_id", task.ID, "error", err)
				}
			}
			continue
		}

		client, err := s.providers.Get(task.Provider)
		if err != nil {
			s.logger.Error("sweep: provider not configured", "task_id", task.ID, "provider", task.Provider)
			continue
		}
		upd, err := client.Poll(ctx, *task.ProviderTaskID)
		if err != nil {
			s.logger.Warn("sweep: poll failed", "task_id", task.ID, "provider", task.Provider, "error", err)
			continue
		}
		if err := s.Reconcile(ctx, task.Provider, upd); err != nil {
			s.logger.Error("sweep: reconcile failed", "task_id", task.ID, "error", err)
		}
	}
	return nil
}

// forceFail drives the task into failed and releases the reservation,
// retrying through version conflicts. If the task turned terminal
// concurrently it only re-attempts the settlement.
func (s *Service) forceFail(ctx context.Context, task *models.GenerationTask, detail string) error {
	for attempt := 0; attempt < reconcileMaxRetries; attempt++ {
		if models.IsTerminalStatus(task.Status) {
			return s.settle(ctx, task)
		}
		task.Status = models.TaskStatusFailed
		task.ErrorDetail = &detail
		now := time.Now()
		task.CompletedAt = &now
		ok, err := s.tasks.UpdateStatus(ctx, task)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		if ok {
			return s.settle(ctx, task)
		}
		task, err = s.tasks.GetByID(ctx, task.ID)
		if err != nil {
			return err
		}
	}
	return errVersionConflict
}

// applyUpdate writes non-contended task mutations, retrying through version
// conflicts without merging (the re-read copy keeps newer state).
func (s *Service) applyUpdate(ctx context.Context, task *models.GenerationTask) error {
	ok, err := s.tasks.UpdateStatus(ctx, task)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if ok {
		return nil
	}
	fresh, err := s.tasks.GetByID(ctx, task.ID)
	if err != nil {
		return err
	}
	if models.StatusRank(fresh.Status) >= models.StatusRank(task.Status) {
		*task = *fresh
		return nil
	}
	task.Version = fresh.Version
	ok, err = s.tasks.UpdateStatus(ctx, task)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if !ok {
		return errVersionConflict
	}
	return nil
}
