package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	config "github.com/postfleet/postfleet/configs"
	"github.com/postfleet/postfleet/internal/models"
	"github.com/postfleet/postfleet/internal/platform"
	"github.com/postfleet/postfleet/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*models.PublishTask
}

func newFakeTaskRepo(tasks ...*models.PublishTask) *fakeTaskRepo {
	r := &fakeTaskRepo{tasks: make(map[string]*models.PublishTask)}
	for _, t := range tasks {
		clone := *t
		r.tasks[t.ID] = &clone
	}
	return r
}

func (r *fakeTaskRepo) get(id string) *models.PublishTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil
	}
	clone := *t
	return &clone
}

func (r *fakeTaskRepo) Create(ctx context.Context, task *models.PublishTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *task
	r.tasks[task.ID] = &clone
	return nil
}

func (r *fakeTaskRepo) GetByID(ctx context.Context, id string) (*models.PublishTask, error) {
	return r.get(id), nil
}

func (r *fakeTaskRepo) UpdateState(ctx context.Context, id string, expected, next models.TaskState, patch *repository.TaskPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return repository.ErrNotFound
	}
	if t.State != expected {
		return repository.ErrConflict
	}

	t.State = next
	t.UpdatedAt = time.Now()
	if patch != nil {
		if patch.AttemptCount != nil {
			t.AttemptCount = *patch.AttemptCount
		}
		if patch.LastErrorKind != nil {
			t.LastErrorKind = *patch.LastErrorKind
		}
		if patch.LastErrorMessage != nil {
			t.LastErrorMessage = *patch.LastErrorMessage
		}
		if patch.NextRetryAt != nil {
			t.NextRetryAt = patch.NextRetryAt
		}
		if patch.UploadSessionID != nil {
			t.UploadSessionID = *patch.UploadSessionID
		}
		if patch.ContainerID != nil {
			t.ContainerID = *patch.ContainerID
		}
		if patch.ExternalID != nil {
			t.ExternalID = *patch.ExternalID
		}
		if patch.ExternalURL != nil {
			t.ExternalURL = *patch.ExternalURL
		}
		if patch.ProcessingStartedAt != nil {
			t.ProcessingStartedAt = patch.ProcessingStartedAt
		}
		if patch.NextPollAt != nil {
			t.NextPollAt = patch.NextPollAt
		}
	}
	return nil
}

func (r *fakeTaskRepo) ListDue(ctx context.Context, before time.Time, limit int) ([]*models.PublishTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*models.PublishTask
	for _, t := range r.tasks {
		if t.State == models.TaskStatePending && t.Due(before) {
			clone := *t
			due = append(due, &clone)
		}
	}
	return due, nil
}

func (r *fakeTaskRepo) ListStuckQueued(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.PublishTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stuck []*models.PublishTask
	for _, t := range r.tasks {
		if t.State == models.TaskStateQueued && !t.UpdatedAt.After(updatedBefore) {
			clone := *t
			stuck = append(stuck, &clone)
		}
	}
	return stuck, nil
}

func (r *fakeTaskRepo) ListPollable(ctx context.Context, now time.Time, limit int) ([]*models.PublishTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*models.PublishTask
	for _, t := range r.tasks {
		if t.State == models.TaskStateProcessing && (t.NextPollAt == nil || !t.NextPollAt.After(now)) {
			clone := *t
			due = append(due, &clone)
		}
	}
	return due, nil
}

func (r *fakeTaskRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.PublishTask, error) {
	return nil, nil
}

func (r *fakeTaskRepo) ListByAccount(ctx context.Context, userID, accountID int64) ([]*models.PublishTask, error) {
	return nil, nil
}

func (r *fakeTaskRepo) ListByDateRange(ctx context.Context, userID int64, from, to time.Time) ([]*models.PublishTask, error) {
	return nil, nil
}

func (r *fakeTaskRepo) CountActiveByAccount(ctx context.Context, accountID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, t := range r.tasks {
		if t.AccountID == accountID && !t.State.Terminal() {
			count++
		}
	}
	return count, nil
}

func (r *fakeTaskRepo) CheckByUserID(ctx context.Context, taskID string, userID int64) (bool, error) {
	t := r.get(taskID)
	return t != nil && t.UserID == userID, nil
}

type submission struct {
	taskID   string
	platform string
	delay    time.Duration
}

type fakeSubmitter struct {
	mu          sync.Mutex
	submissions []submission
	err         error
}

func (s *fakeSubmitter) Submit(ctx context.Context, taskID, platformName string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.submissions = append(s.submissions, submission{taskID: taskID, platform: platformName, delay: delay})
	return nil
}

func (s *fakeSubmitter) all() []submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]submission(nil), s.submissions...)
}

type fakeCreds struct {
	cred *models.Credential
	err  error
}

func (c *fakeCreds) Get(ctx context.Context, accountID int64, platformName string) (*models.Credential, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.cred, nil
}

type fakeAdapter struct {
	name        string
	checkAuth   func(ctx context.Context, cred *models.Credential) error
	publish     func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Outcome, error)
	checkStatus func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Status, error)
}

func (a *fakeAdapter) Platform() string { return a.name }

func (a *fakeAdapter) CheckAuth(ctx context.Context, cred *models.Credential) error {
	if a.checkAuth == nil {
		return nil
	}
	return a.checkAuth(ctx, cred)
}

func (a *fakeAdapter) Publish(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Outcome, error) {
	return a.publish(ctx, task, cred)
}

func (a *fakeAdapter) CheckStatus(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Status, error) {
	return a.checkStatus(ctx, task, cred)
}

func testEngineConfig() config.Engine {
	return config.Engine{
		SweepInterval:      15 * time.Second,
		PollSweepInterval:  10 * time.Second,
		PollWindow:         24 * time.Hour,
		AdapterCallTimeout: time.Minute,
		MaxAttempts:        3,
	}
}

func queuedTask(id string) *models.PublishTask {
	return &models.PublishTask{
		ID:          id,
		UserID:      1,
		AccountID:   7,
		Platform:    "tiktok",
		ContentType: models.ContentTypeVideo,
		VideoURL:    "https://cdn.example.com/video.mp4",
		State:       models.TaskStateQueued,
		MaxAttempts: 3,
	}
}

func newTestOrchestrator(repo *fakeTaskRepo, adapter *fakeAdapter, submitter *fakeSubmitter) *Orchestrator {
	return NewOrchestrator(
		repo,
		&fakeCreds{cred: &models.Credential{AccountID: 7, Platform: adapter.name, AccessToken: "token"}},
		platform.NewRegistry(adapter),
		submitter,
		NewBus(),
		testEngineConfig(),
	)
}

func TestExecuteSynchronousRelease(t *testing.T) {
	repo := newFakeTaskRepo(queuedTask("t1"))
	adapter := &fakeAdapter{
		name: "tiktok",
		publish: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Outcome, error) {
			return &platform.Outcome{Result: &platform.Result{ExternalID: "ext-1", ExternalURL: "https://example.com/p/1"}}, nil
		},
	}
	orch := newTestOrchestrator(repo, adapter, &fakeSubmitter{})

	require.NoError(t, orch.Execute(context.Background(), "t1"))

	got := repo.get("t1")
	assert.Equal(t, models.TaskStateReleased, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "ext-1", got.ExternalID)
	assert.Equal(t, "https://example.com/p/1", got.ExternalURL)
}

func TestExecuteAsynchronousHandle(t *testing.T) {
	repo := newFakeTaskRepo(queuedTask("t1"))
	adapter := &fakeAdapter{
		name: "tiktok",
		publish: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Outcome, error) {
			return &platform.Outcome{Handle: &platform.AsyncHandle{SessionID: "session-9"}}, nil
		},
	}
	orch := newTestOrchestrator(repo, adapter, &fakeSubmitter{})

	require.NoError(t, orch.Execute(context.Background(), "t1"))

	got := repo.get("t1")
	assert.Equal(t, models.TaskStateProcessing, got.State)
	assert.Equal(t, "session-9", got.UploadSessionID)
	require.NotNil(t, got.ProcessingStartedAt)
	require.NotNil(t, got.NextPollAt)
	assert.True(t, got.NextPollAt.After(*got.ProcessingStartedAt))
}

func TestExecuteRetryableFailureRequeues(t *testing.T) {
	repo := newFakeTaskRepo(queuedTask("t1"))
	adapter := &fakeAdapter{
		name: "tiktok",
		publish: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Outcome, error) {
			return nil, platform.Errorf(models.ErrorKindTransientNetwork, "connection reset")
		},
	}
	submitter := &fakeSubmitter{}
	orch := newTestOrchestrator(repo, adapter, submitter)

	require.NoError(t, orch.Execute(context.Background(), "t1"))

	got := repo.get("t1")
	assert.Equal(t, models.TaskStateQueued, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, models.ErrorKindTransientNetwork, got.LastErrorKind)
	require.NotNil(t, got.NextRetryAt)

	subs := submitter.all()
	require.Len(t, subs, 1)
	assert.Equal(t, "t1", subs[0].taskID)
	assert.Greater(t, subs[0].delay, time.Duration(0))
}

func TestExecuteRateLimitHonorsRetryAfter(t *testing.T) {
	repo := newFakeTaskRepo(queuedTask("t1"))
	adapter := &fakeAdapter{
		name: "tiktok",
		publish: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Outcome, error) {
			return nil, &platform.Error{
				Kind:       models.ErrorKindRateLimited,
				Message:    "too many requests",
				RetryAfter: 90 * time.Second,
			}
		},
	}
	submitter := &fakeSubmitter{}
	orch := newTestOrchestrator(repo, adapter, submitter)

	require.NoError(t, orch.Execute(context.Background(), "t1"))

	subs := submitter.all()
	require.Len(t, subs, 1)
	assert.Equal(t, 90*time.Second, subs[0].delay, "platform hint overrides computed backoff")

	got := repo.get("t1")
	assert.Equal(t, models.TaskStateQueued, got.State)
	assert.Equal(t, models.ErrorKindRateLimited, got.LastErrorKind)
}

func TestExecuteNonRetryableFailureIsTerminal(t *testing.T) {
	repo := newFakeTaskRepo(queuedTask("t1"))
	adapter := &fakeAdapter{
		name: "tiktok",
		publish: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Outcome, error) {
			return nil, platform.Errorf(models.ErrorKindPayloadInvalid, "video too long")
		},
	}
	submitter := &fakeSubmitter{}
	orch := newTestOrchestrator(repo, adapter, submitter)

	require.NoError(t, orch.Execute(context.Background(), "t1"))

	got := repo.get("t1")
	assert.Equal(t, models.TaskStateFailed, got.State)
	assert.Equal(t, models.ErrorKindPayloadInvalid, got.LastErrorKind)
	assert.Empty(t, submitter.all())
}

func TestExecuteAuthFailureShortCircuits(t *testing.T) {
	repo := newFakeTaskRepo(queuedTask("t1"))
	published := false
	adapter := &fakeAdapter{
		name: "tiktok",
		checkAuth: func(ctx context.Context, cred *models.Credential) error {
			return platform.Errorf(models.ErrorKindAuthExpired, "token revoked")
		},
		publish: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Outcome, error) {
			published = true
			return nil, nil
		},
	}
	orch := newTestOrchestrator(repo, adapter, &fakeSubmitter{})

	require.NoError(t, orch.Execute(context.Background(), "t1"))

	got := repo.get("t1")
	assert.Equal(t, models.TaskStateFailed, got.State)
	assert.Equal(t, models.ErrorKindAuthExpired, got.LastErrorKind)
	assert.False(t, published, "publish must not run after a failed auth check")
}

func TestExecuteExhaustedAttemptsFails(t *testing.T) {
	task := queuedTask("t1")
	task.AttemptCount = 2 // third attempt is the last
	repo := newFakeTaskRepo(task)
	adapter := &fakeAdapter{
		name: "tiktok",
		publish: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Outcome, error) {
			return nil, platform.Errorf(models.ErrorKindTransientNetwork, "connection reset")
		},
	}
	submitter := &fakeSubmitter{}
	orch := newTestOrchestrator(repo, adapter, submitter)

	require.NoError(t, orch.Execute(context.Background(), "t1"))

	got := repo.get("t1")
	assert.Equal(t, models.TaskStateFailed, got.State)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Empty(t, submitter.all())
}

func TestExecuteSkipsNonQueuedTask(t *testing.T) {
	task := queuedTask("t1")
	task.State = models.TaskStateCancelled
	repo := newFakeTaskRepo(task)
	adapter := &fakeAdapter{
		name: "tiktok",
		publish: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Outcome, error) {
			t.Fatal("publish must not run for a cancelled task")
			return nil, nil
		},
	}
	orch := newTestOrchestrator(repo, adapter, &fakeSubmitter{})

	require.NoError(t, orch.Execute(context.Background(), "t1"))
	assert.Equal(t, models.TaskStateCancelled, repo.get("t1").State)
}

func TestExecuteEarlyRetryGoesBackToSleep(t *testing.T) {
	task := queuedTask("t1")
	retryAt := time.Now().Add(time.Hour)
	task.NextRetryAt = &retryAt
	repo := newFakeTaskRepo(task)
	adapter := &fakeAdapter{
		name: "tiktok",
		publish: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Outcome, error) {
			t.Fatal("publish must not run before the backoff elapses")
			return nil, nil
		},
	}
	submitter := &fakeSubmitter{}
	orch := newTestOrchestrator(repo, adapter, submitter)

	require.NoError(t, orch.Execute(context.Background(), "t1"))

	got := repo.get("t1")
	assert.Equal(t, models.TaskStateQueued, got.State)
	assert.Equal(t, 0, got.AttemptCount, "an early delivery does not consume an attempt")

	subs := submitter.all()
	require.Len(t, subs, 1)
	assert.Greater(t, subs[0].delay, 50*time.Minute)
}

func TestEnqueueSubmitsOnce(t *testing.T) {
	task := queuedTask("t1")
	task.State = models.TaskStatePending
	repo := newFakeTaskRepo(task)
	submitter := &fakeSubmitter{}
	orch := newTestOrchestrator(repo, &fakeAdapter{name: "tiktok"}, submitter)

	require.NoError(t, orch.Enqueue(context.Background(), task))
	assert.Equal(t, models.TaskStateQueued, repo.get("t1").State)
	require.Len(t, submitter.all(), 1)

	// A second sweep observing the same pending row loses the CAS and does
	// not double-submit.
	require.NoError(t, orch.Enqueue(context.Background(), task))
	assert.Len(t, submitter.all(), 1)
}

func TestCancelRules(t *testing.T) {
	tests := []struct {
		state   models.TaskState
		wantErr error
		want    models.TaskState
	}{
		{models.TaskStatePending, nil, models.TaskStateCancelled},
		{models.TaskStateQueued, nil, models.TaskStateCancelled},
		{models.TaskStateUploading, ErrNotCancellable, models.TaskStateUploading},
		{models.TaskStateProcessing, ErrNotCancellable, models.TaskStateProcessing},
		{models.TaskStateReleased, ErrNotCancellable, models.TaskStateReleased},
		{models.TaskStateFailed, ErrNotCancellable, models.TaskStateFailed},
		{models.TaskStateCancelled, ErrNotCancellable, models.TaskStateCancelled},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			task := queuedTask("t1")
			task.State = tt.state
			repo := newFakeTaskRepo(task)
			orch := newTestOrchestrator(repo, &fakeAdapter{name: "tiktok"}, &fakeSubmitter{})

			err := orch.Cancel(context.Background(), "t1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, repo.get("t1").State)
		})
	}
}

func TestCancelMissingTask(t *testing.T) {
	orch := newTestOrchestrator(newFakeTaskRepo(), &fakeAdapter{name: "tiktok"}, &fakeSubmitter{})
	err := orch.Cancel(context.Background(), "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEventsEmittedOnTransitions(t *testing.T) {
	repo := newFakeTaskRepo(queuedTask("t1"))
	adapter := &fakeAdapter{
		name: "tiktok",
		publish: func(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*platform.Outcome, error) {
			return &platform.Outcome{Result: &platform.Result{ExternalID: "ext-1"}}, nil
		},
	}

	bus := NewBus()
	events := bus.Subscribe(16)
	orch := NewOrchestrator(
		repo,
		&fakeCreds{cred: &models.Credential{AccountID: 7, Platform: "tiktok"}},
		platform.NewRegistry(adapter),
		&fakeSubmitter{},
		bus,
		testEngineConfig(),
	)

	require.NoError(t, orch.Execute(context.Background(), "t1"))

	var got []Event
	for len(events) > 0 {
		got = append(got, <-events)
	}
	require.Len(t, got, 2)
	assert.Equal(t, models.TaskStateUploading, got[0].ToState)
	assert.Equal(t, models.TaskStateReleased, got[1].ToState)
}
