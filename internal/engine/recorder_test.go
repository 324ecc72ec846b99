package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/postfleet/postfleet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEventRepo struct {
	mu     sync.Mutex
	rows   []*models.TaskEvent
	nextID int64
	err    error
}

func (r *fakeEventRepo) Create(ctx context.Context, ev *models.TaskEvent) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.nextID++
	r.rows = append(r.rows, ev)
	return r.nextID, nil
}

func (r *fakeEventRepo) ListByTaskID(ctx context.Context, taskID string) ([]*models.TaskEvent, error) {
	return nil, nil
}

func (r *fakeEventRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.TaskEvent, error) {
	return nil, nil
}

func TestRecorderWritesAuditRows(t *testing.T) {
	repo := &fakeEventRepo{}
	recorder := NewRecorder(repo)

	ch := make(chan Event, 2)
	ch <- Event{
		TaskID:    "task-1",
		UserID:    1,
		AccountID: 7,
		Platform:  "tiktok",
		FromState: models.TaskStatePending,
		ToState:   models.TaskStateQueued,
		At:        time.Now(),
	}
	ch <- Event{
		TaskID:       "task-1",
		Platform:     "tiktok",
		FromState:    models.TaskStateUploading,
		ToState:      models.TaskStateFailed,
		ErrorKind:    models.ErrorKindPayloadInvalid,
		ErrorMessage: "caption too long",
	}
	close(ch)

	recorder.Run(ch)

	require.Len(t, repo.rows, 2)
	assert.Equal(t, "task-1", repo.rows[0].TaskID)
	assert.Equal(t, models.TaskStateQueued, repo.rows[0].ToState)
	assert.Equal(t, models.ErrorKindPayloadInvalid, repo.rows[1].ErrorKind)
	assert.Equal(t, "caption too long", repo.rows[1].ErrorMessage)
}

func TestRecorderSurvivesWriteFailure(t *testing.T) {
	repo := &fakeEventRepo{err: errors.New("insert failed")}
	recorder := NewRecorder(repo)

	ch := make(chan Event, 1)
	ch <- Event{TaskID: "task-1", ToState: models.TaskStateQueued}
	close(ch)

	// Must drain the channel and return, not panic or stall.
	recorder.Run(ch)
	assert.Empty(t, repo.rows)
}
