package engine

import (
	"context"
	"log/slog"

	"github.com/postfleet/postfleet/internal/models"
	"github.com/postfleet/postfleet/internal/repository"
)

// Recorder drains a bus subscription into the task_events table.
type Recorder struct {
	events repository.TaskEventRepository
}

func NewRecorder(events repository.TaskEventRepository) *Recorder {
	return &Recorder{events: events}
}

// Run blocks until the channel is closed. Meant to run on its own goroutine.
func (r *Recorder) Run(ch <-chan Event) {
	for ev := range ch {
		slog.Info("task transition",
			"task_id", ev.TaskID,
			"platform", ev.Platform,
			"from", ev.FromState,
			"to", ev.ToState,
			"error_kind", ev.ErrorKind)
		row := &models.TaskEvent{
			TaskID:       ev.TaskID,
			UserID:       ev.UserID,
			AccountID:    ev.AccountID,
			Platform:     ev.Platform,
			FromState:    ev.FromState,
			ToState:      ev.ToState,
			ErrorKind:    ev.ErrorKind,
			ErrorMessage: ev.ErrorMessage,
			CreatedAt:    ev.At,
		}
		if _, err := r.events.Create(context.Background(), row); err != nil {
			slog.Error(err.Error())
		}
	}
}
