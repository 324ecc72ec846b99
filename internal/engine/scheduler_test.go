package engine

import (
	"testing"
	"time"

	"github.com/postfleet/postfleet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepEnqueuesDueTasks(t *testing.T) {
	overdue := queuedTask("overdue")
	overdue.State = models.TaskStatePending
	at := time.Now().Add(-time.Hour)
	overdue.ScheduledAt = &at

	immediate := queuedTask("immediate")
	immediate.State = models.TaskStatePending

	future := queuedTask("future")
	future.State = models.TaskStatePending
	later := time.Now().Add(time.Hour)
	future.ScheduledAt = &later

	repo := newFakeTaskRepo(overdue, immediate, future)
	submitter := &fakeSubmitter{}
	orch := newTestOrchestrator(repo, &fakeAdapter{name: "tiktok"}, submitter)

	NewScheduler(repo, orch).Sweep()

	assert.Equal(t, models.TaskStateQueued, repo.get("overdue").State, "a missed schedule is executed late, never dropped")
	assert.Equal(t, models.TaskStateQueued, repo.get("immediate").State)
	assert.Equal(t, models.TaskStatePending, repo.get("future").State)
	assert.Len(t, submitter.all(), 2)
}

func TestSweepResubmitsStuckQueued(t *testing.T) {
	stuck := queuedTask("stuck")
	repo := newFakeTaskRepo(stuck)
	// The fake records UpdatedAt on writes; simulate an old row directly.
	repo.tasks["stuck"].UpdatedAt = time.Now().Add(-time.Hour)

	submitter := &fakeSubmitter{}
	orch := newTestOrchestrator(repo, &fakeAdapter{name: "tiktok"}, submitter)

	NewScheduler(repo, orch).Sweep()

	subs := submitter.all()
	require.Len(t, subs, 1)
	assert.Equal(t, "stuck", subs[0].taskID)
	assert.Equal(t, models.TaskStateQueued, repo.get("stuck").State)
}
