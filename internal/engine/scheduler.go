package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/postfleet/postfleet/internal/repository"
)

const (
	sweepBatchSize = 100
	// A queued row untouched this long with no retry pending lost its queue
	// submission somewhere; the sweep re-submits it.
	stuckQueuedAfter = 10 * time.Minute
)

// Scheduler periodically moves due tasks into their platform queues. It is
// the only component looking at scheduled_at; everything downstream works off
// queue deliveries.
type Scheduler struct {
	tasks repository.TaskRepository
	orch  *Orchestrator
	now   func() time.Time
}

func NewScheduler(tasks repository.TaskRepository, orch *Orchestrator) *Scheduler {
	return &Scheduler{tasks: tasks, orch: orch, now: time.Now}
}

// Sweep is the cron callback. Errors are logged, never fatal: a failed sweep
// just leaves the rows for the next one.
func (s *Scheduler) Sweep() {
	ctx := context.Background()
	now := s.now()

	due, err := s.tasks.ListDue(ctx, now, sweepBatchSize)
	if err != nil {
		slog.Error("due sweep query failed", "error", err.Error())
	}
	for _, task := range due {
		if err := s.orch.Enqueue(ctx, task); err != nil {
			slog.Error("enqueue failed", "task_id", task.ID, "error", err.Error())
		}
	}

	stuck, err := s.tasks.ListStuckQueued(ctx, now.Add(-stuckQueuedAfter), sweepBatchSize)
	if err != nil {
		slog.Error("stuck sweep query failed", "error", err.Error())
	}
	for _, task := range stuck {
		slog.Warn("re-submitting stuck task", "task_id", task.ID, "platform", task.Platform)
		if err := s.orch.Resubmit(ctx, task); err != nil {
			slog.Error("resubmit failed", "task_id", task.ID, "error", err.Error())
		}
	}
}
