package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Handler executes one delivered publish task.
type Handler func(ctx context.Context, taskID string) error

// WorkerPool runs one asynq server per platform queue so each platform gets
// its own concurrency ceiling. A slow platform saturates only its own workers.
type WorkerPool struct {
	servers map[string]*asynq.Server
	handle  Handler
}

func NewWorkerPool(redisOpt asynq.RedisClientOpt, concurrency map[string]int, handle Handler) *WorkerPool {
	servers := make(map[string]*asynq.Server, len(concurrency))
	for platformName, workers := range concurrency {
		if workers < 1 {
			workers = 1
		}
		servers[platformName] = asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: workers,
			Queues:      map[string]int{QueueName(platformName): 1},
		})
	}
	return &WorkerPool{servers: servers, handle: handle}
}

func (p *WorkerPool) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypePublish, func(ctx context.Context, t *asynq.Task) error {
		var payload PublishPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			slog.Error("malformed publish payload", "error", err.Error())
			return nil
		}
		return p.handle(ctx, payload.TaskID)
	})

	for platformName, srv := range p.servers {
		if err := srv.Start(mux); err != nil {
			return err
		}
		slog.Info("queue workers started", "platform", platformName)
	}
	return nil
}

func (p *WorkerPool) Shutdown() {
	for _, srv := range p.servers {
		srv.Shutdown()
	}
}
