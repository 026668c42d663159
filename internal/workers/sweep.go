package workers

import (
	"context"

	"github.com/riverqueue/river"
)

// TaskSweepArgs is the periodic fallback to webhooks: it polls every
// non-terminal task and enforces the stuck-pending deadline.
type TaskSweepArgs struct{}

func (TaskSweepArgs) Kind() string { return "task_sweep" }

func (TaskSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

type TaskSweepWorker struct {
	river.WorkerDefaults[TaskSweepArgs]
	orch Orchestrator
}

func NewTaskSweepWorker(orch Orchestrator) *TaskSweepWorker {
	return &TaskSweepWorker{orch: orch}
}

func (w *TaskSweepWorker) Work(ctx context.Context, _ *river.Job[TaskSweepArgs]) error {
	return w.orch.SweepOnce(ctx)
}
