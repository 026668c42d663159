package workers

import (
	"context"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// Orchestrator is the contract the workers need to drive tasks.
type Orchestrator interface {
	RetrySubmit(ctx context.Context, taskID uuid.UUID, attempt, maxAttempts int) error
	SweepOnce(ctx context.Context) error
}

// ProviderSubmitArgs retries a provider submission for a task stuck in
// pending after a transient provider outage.
type ProviderSubmitArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (ProviderSubmitArgs) Kind() string { return "provider_submit" }

func (ProviderSubmitArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 5}
}

type ProviderSubmitWorker struct {
	river.WorkerDefaults[ProviderSubmitArgs]
	orch Orchestrator
}

func NewProviderSubmitWorker(orch Orchestrator) *ProviderSubmitWorker {
	return &ProviderSubmitWorker{orch: orch}
}

// Work delegates to the orchestrator. Returning an error lets River retry
// with its exponential backoff; the orchestrator converts the final attempt
// into a terminal failure and releases the reservation.
func (w *ProviderSubmitWorker) Work(ctx context.Context, job *river.Job[ProviderSubmitArgs]) error {
	return w.orch.RetrySubmit(ctx, job.Args.TaskID, job.Attempt, job.MaxAttempts)
}
