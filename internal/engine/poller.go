package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/postfleet/postfleet/internal/models"
	"github.com/postfleet/postfleet/internal/repository"
)

const (
	pollBatchSize   = 100
	pollConcurrency = 10
)

// Poller drives processing tasks to completion by sweeping rows whose
// next_poll_at has come due. An in-flight set keeps overlapping sweeps from
// polling the same task twice.
type Poller struct {
	tasks    repository.TaskRepository
	orch     *Orchestrator
	inFlight sync.Map
	now      func() time.Time
}

func NewPoller(tasks repository.TaskRepository, orch *Orchestrator) *Poller {
	return &Poller{tasks: tasks, orch: orch, now: time.Now}
}

// Sweep is the cron callback.
func (p *Poller) Sweep() {
	ctx := context.Background()

	due, err := p.tasks.ListPollable(ctx, p.now(), pollBatchSize)
	if err != nil {
		slog.Error("poll sweep query failed", "error", err.Error())
		return
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, pollConcurrency)

	for _, task := range due {
		if _, busy := p.inFlight.LoadOrStore(task.ID, struct{}{}); busy {
			continue
		}
		wg.Add(1)
		semaphore <- struct{}{}
		go func(t *models.PublishTask) {
			defer wg.Done()
			defer func() { <-semaphore }()
			defer p.inFlight.Delete(t.ID)
			if err := p.orch.Poll(ctx, t.ID); err != nil {
				slog.Error("poll failed", "task_id", t.ID, "error", err.Error())
			}
		}(task)
	}
	wg.Wait()
}
