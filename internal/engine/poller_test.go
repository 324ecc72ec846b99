package engine

import (
	"context"
	"testing"
	"time"

	"github.com/postfleet/postfleet/internal/models"
	"github.com/postfleet/postfleet/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func processingTask(id string, startedAgo time.Duration) *models.PublishTask {
	task := queuedTask(id)
	task.State = models.TaskStateProcessing
	started := time.Now().Add(-startedAgo)
	task.ProcessingStartedAt = &started
	task.UploadSessionID = "session-1"
	return task
}

func TestPollIntervalDoublesBetweenChecks(t *testing.T) {
	start := time.Now()
	task := processingTask("t1", 0)
	task.ProcessingStartedAt = &start
	repo := newFakeTaskRepo(task)
	adapter := &fakeAdapter{
		name: "tiktok",
		checkStatus: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Status, error) {
			return &platform.Status{Done: false}, nil
		},
	}
	orch := newTestOrchestrator(repo, adapter, &fakeSubmitter{})

	// Polling at each scheduled NextPollAt in turn: the gap to the next
	// observation doubles every time until it hits the ceiling.
	now := start.Add(minPollInterval)
	var intervals []time.Duration
	for i := 0; i < 5; i++ {
		at := now
		orch.now = func() time.Time { return at }
		require.NoError(t, orch.Poll(context.Background(), "t1"))

		got := repo.get("t1")
		require.Equal(t, models.TaskStateProcessing, got.State)
		require.NotNil(t, got.NextPollAt)
		intervals = append(intervals, got.NextPollAt.Sub(at))
		now = *got.NextPollAt
	}

	assert.Equal(t, []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		maxPollInterval,
	}, intervals)
}

func TestPollCompletionReleases(t *testing.T) {
	repo := newFakeTaskRepo(processingTask("t1", time.Minute))
	adapter := &fakeAdapter{
		name: "tiktok",
		checkStatus: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Status, error) {
			return &platform.Status{Done: true, Result: &platform.Result{ExternalID: "ext-1"}}, nil
		},
	}
	orch := newTestOrchestrator(repo, adapter, &fakeSubmitter{})

	require.NoError(t, orch.Poll(context.Background(), "t1"))

	got := repo.get("t1")
	assert.Equal(t, models.TaskStateReleased, got.State)
	assert.Equal(t, "ext-1", got.ExternalID)
}

func TestPollInProgressReschedules(t *testing.T) {
	repo := newFakeTaskRepo(processingTask("t1", 30*time.Second))
	adapter := &fakeAdapter{
		name: "tiktok",
		checkStatus: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Status, error) {
			return &platform.Status{Done: false}, nil
		},
	}
	orch := newTestOrchestrator(repo, adapter, &fakeSubmitter{})

	require.NoError(t, orch.Poll(context.Background(), "t1"))

	got := repo.get("t1")
	assert.Equal(t, models.TaskStateProcessing, got.State)
	require.NotNil(t, got.NextPollAt)
	assert.True(t, got.NextPollAt.After(time.Now()))
}

func TestPollIntervalIsBounded(t *testing.T) {
	// A task processing for hours still polls at most every maxPollInterval.
	repo := newFakeTaskRepo(processingTask("t1", 5*time.Hour))
	adapter := &fakeAdapter{
		name: "tiktok",
		checkStatus: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Status, error) {
			return &platform.Status{Done: false}, nil
		},
	}
	orch := newTestOrchestrator(repo, adapter, &fakeSubmitter{})

	require.NoError(t, orch.Poll(context.Background(), "t1"))

	got := repo.get("t1")
	require.NotNil(t, got.NextPollAt)
	assert.WithinDuration(t, time.Now().Add(maxPollInterval), *got.NextPollAt, 2*time.Second)
}

func TestPollPlatformFailureVerdict(t *testing.T) {
	repo := newFakeTaskRepo(processingTask("t1", time.Minute))
	adapter := &fakeAdapter{
		name: "tiktok",
		checkStatus: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Status, error) {
			return &platform.Status{Done: true, Err: platform.Errorf(models.ErrorKindPayloadInvalid, "processing rejected")}, nil
		},
	}
	orch := newTestOrchestrator(repo, adapter, &fakeSubmitter{})

	require.NoError(t, orch.Poll(context.Background(), "t1"))

	got := repo.get("t1")
	assert.Equal(t, models.TaskStateFailed, got.State)
	assert.Equal(t, models.ErrorKindPayloadInvalid, got.LastErrorKind)
}

func TestPollTransientErrorKeepsProcessing(t *testing.T) {
	repo := newFakeTaskRepo(processingTask("t1", time.Minute))
	adapter := &fakeAdapter{
		name: "tiktok",
		checkStatus: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Status, error) {
			return nil, platform.Errorf(models.ErrorKindTransientNetwork, "gateway timeout")
		},
	}
	orch := newTestOrchestrator(repo, adapter, &fakeSubmitter{})

	require.NoError(t, orch.Poll(context.Background(), "t1"))

	got := repo.get("t1")
	assert.Equal(t, models.TaskStateProcessing, got.State, "a flaky status check does not consume the retry budget")
	require.NotNil(t, got.NextPollAt)
}

func TestPollWindowExpiryTimesOut(t *testing.T) {
	task := processingTask("t1", 25*time.Hour)
	task.AttemptCount = 3 // budget already spent
	repo := newFakeTaskRepo(task)
	adapter := &fakeAdapter{
		name: "tiktok",
		checkStatus: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Status, error) {
			t.Fatal("an expired task must not be polled again")
			return nil, nil
		},
	}
	orch := newTestOrchestrator(repo, adapter, &fakeSubmitter{})

	require.NoError(t, orch.Poll(context.Background(), "t1"))

	got := repo.get("t1")
	assert.Equal(t, models.TaskStateFailed, got.State)
	assert.Equal(t, models.ErrorKindTimeout, got.LastErrorKind)
}

func TestPollWindowExpiryWithBudgetRetries(t *testing.T) {
	repo := newFakeTaskRepo(processingTask("t1", 25*time.Hour))
	adapter := &fakeAdapter{name: "tiktok"}
	submitter := &fakeSubmitter{}
	orch := newTestOrchestrator(repo, adapter, submitter)

	require.NoError(t, orch.Poll(context.Background(), "t1"))

	got := repo.get("t1")
	assert.Equal(t, models.TaskStateQueued, got.State)
	assert.Equal(t, models.ErrorKindTimeout, got.LastErrorKind)
	assert.Len(t, submitter.all(), 1)
}

func TestPollSkipsNonProcessingTask(t *testing.T) {
	task := queuedTask("t1")
	repo := newFakeTaskRepo(task)
	adapter := &fakeAdapter{
		name: "tiktok",
		checkStatus: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Status, error) {
			t.Fatal("only processing tasks are polled")
			return nil, nil
		},
	}
	orch := newTestOrchestrator(repo, adapter, &fakeSubmitter{})

	require.NoError(t, orch.Poll(context.Background(), "t1"))
	assert.Equal(t, models.TaskStateQueued, repo.get("t1").State)
}

func TestPollerSweepDrivesDueTasks(t *testing.T) {
	repo := newFakeTaskRepo(
		processingTask("due", time.Minute),
		processingTask("done", time.Minute),
	)
	adapter := &fakeAdapter{
		name: "tiktok",
		checkStatus: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Status, error) {
			if task.ID == "done" {
				return &platform.Status{Done: true, Result: &platform.Result{ExternalID: "ext"}}, nil
			}
			return &platform.Status{Done: false}, nil
		},
	}
	orch := newTestOrchestrator(repo, adapter, &fakeSubmitter{})

	poller := NewPoller(repo, orch)
	poller.Sweep()

	assert.Equal(t, models.TaskStateReleased, repo.get("done").State)
	assert.Equal(t, models.TaskStateProcessing, repo.get("due").State)
	require.NotNil(t, repo.get("due").NextPollAt)
}
