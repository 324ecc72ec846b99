package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskTypePublish = "task:publish"

type PublishPayload struct {
	TaskID string `json:"task_id"`
}

// QueueName maps a platform id to its dedicated asynq queue. One queue per
// platform is what bounds concurrency per platform instead of globally.
func QueueName(platformName string) string {
	return "publish:" + platformName
}

// Manager enqueues publish work. Retries are scheduled by the orchestrator
// with an explicit delay, so asynq's own retry machinery stays off.
type Manager struct {
	client *asynq.Client
}

func NewManager(client *asynq.Client) *Manager {
	return &Manager{client: client}
}

func (m *Manager) Submit(ctx context.Context, taskID, platformName string, delay time.Duration) error {
	payload, err := json.Marshal(PublishPayload{TaskID: taskID})
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(QueueName(platformName)),
		asynq.MaxRetry(0),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	_, err = m.client.EnqueueContext(ctx, asynq.NewTask(TaskTypePublish, payload), opts...)
	return err
}
