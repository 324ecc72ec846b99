package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	config "github.com/postfleet/postfleet/configs"
	"github.com/postfleet/postfleet/internal/models"
	"github.com/postfleet/postfleet/internal/platform"
	"github.com/postfleet/postfleet/internal/repository"
)

// ErrNotCancellable is returned when a cancel arrives after a worker has
// already picked the task up. Callers map it to a conflict response.
var ErrNotCancellable = errors.New("task already executing")

const (
	minPollInterval = 5 * time.Second
	maxPollInterval = 60 * time.Second
)

// CredentialSource resolves a decrypted platform credential for an account.
type CredentialSource interface {
	Get(ctx context.Context, accountID int64, platformName string) (*models.Credential, error)
}

// Submitter hands a task id to the per-platform work queue, optionally after
// a delay. Submission is at-least-once; Execute tolerates duplicates.
type Submitter interface {
	Submit(ctx context.Context, taskID, platformName string, delay time.Duration) error
}

// Orchestrator owns every state transition of a publish task. Adapters do the
// platform I/O; everything about retries, backoff, polling cadence and
// terminal outcomes is decided here.
type Orchestrator struct {
	tasks       repository.TaskRepository
	creds       CredentialSource
	registry    *platform.Registry
	submitter   Submitter
	bus         *Bus
	callTimeout time.Duration
	pollWindow  time.Duration
	now         func() time.Time
}

func NewOrchestrator(
	tasks repository.TaskRepository,
	creds CredentialSource,
	registry *platform.Registry,
	submitter Submitter,
	bus *Bus,
	cfg config.Engine,
) *Orchestrator {
	return &Orchestrator{
		tasks:       tasks,
		creds:       creds,
		registry:    registry,
		submitter:   submitter,
		bus:         bus,
		callTimeout: cfg.AdapterCallTimeout,
		pollWindow:  cfg.PollWindow,
		now:         time.Now,
	}
}

// Enqueue moves a due pending task to queued and submits it to its platform
// queue. Losing the pending->queued race (another sweep, a cancel) is not an
// error. A failed submit leaves the row queued; the stuck-queued sweep
// re-submits it later.
func (o *Orchestrator) Enqueue(ctx context.Context, task *models.PublishTask) error {
	err := o.tasks.UpdateState(ctx, task.ID, models.TaskStatePending, models.TaskStateQueued, nil)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return err
	}
	o.emit(task, models.TaskStatePending, models.TaskStateQueued, nil)

	if err := o.submitter.Submit(ctx, task.ID, task.Platform, 0); err != nil {
		slog.Error("queue submit failed", "task_id", task.ID, "error", err.Error())
	}
	return nil
}

// Resubmit re-hands an already-queued task to its platform queue. Used by the
// stuck-queued sweep.
func (o *Orchestrator) Resubmit(ctx context.Context, task *models.PublishTask) error {
	return o.submitter.Submit(ctx, task.ID, task.Platform, 0)
}

// Cancel honors a user cancel only while the task is waiting. A task a worker
// has already started runs to its own terminal state.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	task, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return repository.ErrNotFound
	}
	if !task.State.Cancellable() {
		return ErrNotCancellable
	}

	for _, from := range []models.TaskState{models.TaskStatePending, models.TaskStateQueued} {
		err := o.tasks.UpdateState(ctx, taskID, from, models.TaskStateCancelled, nil)
		if err == nil {
			o.emit(task, from, models.TaskStateCancelled, nil)
			return nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}
	return ErrNotCancellable
}

// Execute runs one publish attempt. It is the queue handler: duplicate or
// stale deliveries resolve through the state compare-and-swap, so it always
// returns nil for conditions a retry cannot fix.
func (o *Orchestrator) Execute(ctx context.Context, taskID string) error {
	task, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil || task.State != models.TaskStateQueued {
		return nil
	}

	// A retry delivered early (queue restart, manual resubmit) goes back to
	// sleep instead of burning an attempt before its backoff elapsed.
	if task.NextRetryAt != nil && o.now().Before(*task.NextRetryAt) {
		return o.submitter.Submit(ctx, task.ID, task.Platform, task.NextRetryAt.Sub(o.now()))
	}

	attempt := task.AttemptCount + 1
	err = o.tasks.UpdateState(ctx, taskID, models.TaskStateQueued, models.TaskStateUploading,
		&repository.TaskPatch{AttemptCount: &attempt})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return err
	}
	task.AttemptCount = attempt
	task.State = models.TaskStateUploading
	o.emit(task, models.TaskStateQueued, models.TaskStateUploading, nil)

	adapter, ok := o.registry.Get(task.Platform)
	if !ok {
		return o.handleFailure(ctx, task, models.TaskStateUploading,
			platform.Errorf(models.ErrorKindPayloadInvalid, "unsupported platform %q", task.Platform))
	}

	cred, err := o.creds.Get(ctx, task.AccountID, task.Platform)
	if err != nil {
		return o.handleFailure(ctx, task, models.TaskStateUploading, platform.AsError(err))
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	if err := adapter.CheckAuth(callCtx, cred); err != nil {
		return o.handleFailure(ctx, task, models.TaskStateUploading, platform.AsError(err))
	}

	outcome, err := adapter.Publish(callCtx, task, cred)
	if err != nil {
		return o.handleFailure(ctx, task, models.TaskStateUploading, platform.AsError(err))
	}

	if outcome.Handle != nil {
		return o.beginProcessing(ctx, task, outcome.Handle)
	}
	return o.release(ctx, task, models.TaskStateUploading, outcome.Result)
}

// Poll runs one status observation for an async task. Transient poll errors
// keep the task processing and just push the next poll out; only a definitive
// platform verdict or the poll window expiring moves it on.
func (o *Orchestrator) Poll(ctx context.Context, taskID string) error {
	task, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil || task.State != models.TaskStateProcessing {
		return nil
	}

	now := o.now()
	if task.ProcessingStartedAt != nil && now.Sub(*task.ProcessingStartedAt) > o.pollWindow {
		return o.handleFailure(ctx, task, models.TaskStateProcessing,
			platform.Errorf(models.ErrorKindTimeout, "no completion within %s", o.pollWindow))
	}

	adapter, ok := o.registry.Get(task.Platform)
	if !ok {
		return o.handleFailure(ctx, task, models.TaskStateProcessing,
			platform.Errorf(models.ErrorKindInternal, "unsupported platform %q", task.Platform))
	}

	cred, err := o.creds.Get(ctx, task.AccountID, task.Platform)
	if err != nil {
		return o.pollError(ctx, task, now, platform.AsError(err))
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	status, err := adapter.CheckStatus(callCtx, task, cred)
	if err != nil {
		return o.pollError(ctx, task, now, platform.AsError(err))
	}
	if !status.Done {
		return o.reschedulePoll(ctx, task, now)
	}
	if status.Err != nil {
		return o.handleFailure(ctx, task, models.TaskStateProcessing, status.Err)
	}
	return o.release(ctx, task, models.TaskStateProcessing, status.Result)
}

func (o *Orchestrator) pollError(ctx context.Context, task *models.PublishTask, now time.Time, perr *platform.Error) error {
	// Auth and payload verdicts are final even when observed during a poll.
	if !perr.Kind.Retryable() {
		return o.handleFailure(ctx, task, models.TaskStateProcessing, perr)
	}
	slog.Warn("status poll failed, will retry",
		"task_id", task.ID, "platform", task.Platform, "error", perr.Error())
	return o.reschedulePoll(ctx, task, now)
}

// reschedulePoll picks the next observation time. Scheduling it a full
// processing-elapsed out doubles the gap between consecutive checks, clamped
// to [minPollInterval, maxPollInterval].
func (o *Orchestrator) reschedulePoll(ctx context.Context, task *models.PublishTask, now time.Time) error {
	interval := minPollInterval
	if task.ProcessingStartedAt != nil {
		if elapsed := now.Sub(*task.ProcessingStartedAt); elapsed > interval {
			interval = elapsed
		}
	}
	if interval > maxPollInterval {
		interval = maxPollInterval
	}
	next := now.Add(interval)
	err := o.tasks.UpdateState(ctx, task.ID, models.TaskStateProcessing, models.TaskStateProcessing,
		&repository.TaskPatch{NextPollAt: &next})
	if errors.Is(err, repository.ErrConflict) {
		return nil
	}
	return err
}

func (o *Orchestrator) beginProcessing(ctx context.Context, task *models.PublishTask, handle *platform.AsyncHandle) error {
	now := o.now()
	nextPoll := now.Add(minPollInterval)
	patch := &repository.TaskPatch{
		ProcessingStartedAt: &now,
		NextPollAt:          &nextPoll,
	}
	if handle.SessionID != "" {
		patch.UploadSessionID = &handle.SessionID
	}
	if handle.ContainerID != "" {
		patch.ContainerID = &handle.ContainerID
	}
	if err := o.tasks.UpdateState(ctx, task.ID, models.TaskStateUploading, models.TaskStateProcessing, patch); err != nil {
		return err
	}
	o.emit(task, models.TaskStateUploading, models.TaskStateProcessing, nil)
	return nil
}

func (o *Orchestrator) release(ctx context.Context, task *models.PublishTask, from models.TaskState, result *platform.Result) error {
	patch := &repository.TaskPatch{}
	if result != nil {
		if result.ExternalID != "" {
			patch.ExternalID = &result.ExternalID
		}
		if result.ExternalURL != "" {
			patch.ExternalURL = &result.ExternalURL
		}
	}
	if err := o.tasks.UpdateState(ctx, task.ID, from, models.TaskStateReleased, patch); err != nil {
		return err
	}
	o.emit(task, from, models.TaskStateReleased, nil)
	return nil
}

// handleFailure applies the retry policy to a classified failure: retryable
// kinds with budget left go back to queued with a backoff (or the platform's
// retry-after hint); everything else is terminal.
func (o *Orchestrator) handleFailure(ctx context.Context, task *models.PublishTask, from models.TaskState, perr *platform.Error) error {
	retryable := perr.Kind.Retryable()
	// Internal kinds are usually our own bugs; one repeat run catches the
	// transient ones without looping on a deterministic failure.
	if perr.Kind == models.ErrorKindInternal && task.AttemptCount >= 2 {
		retryable = false
	}

	kind := perr.Kind
	msg := perr.Message
	patch := &repository.TaskPatch{
		LastErrorKind:    &kind,
		LastErrorMessage: &msg,
	}

	if retryable && task.AttemptCount < task.MaxAttempts {
		delay := backoffDelay(task.AttemptCount)
		if perr.RetryAfter > 0 {
			delay = perr.RetryAfter
		}
		next := o.now().Add(delay)
		patch.NextRetryAt = &next

		if err := o.tasks.UpdateState(ctx, task.ID, from, models.TaskStateQueued, patch); err != nil {
			return err
		}
		o.emit(task, from, models.TaskStateQueued, perr)

		if err := o.submitter.Submit(ctx, task.ID, task.Platform, delay); err != nil {
			slog.Error("retry submit failed", "task_id", task.ID, "error", err.Error())
		}
		return nil
	}

	if err := o.tasks.UpdateState(ctx, task.ID, from, models.TaskStateFailed, patch); err != nil {
		return err
	}
	o.emit(task, from, models.TaskStateFailed, perr)
	return nil
}

func (o *Orchestrator) emit(task *models.PublishTask, from, to models.TaskState, perr *platform.Error) {
	if o.bus == nil {
		return
	}
	ev := Event{
		TaskID:    task.ID,
		UserID:    task.UserID,
		AccountID: task.AccountID,
		Platform:  task.Platform,
		FromState: from,
		ToState:   to,
		At:        o.now(),
	}
	if perr != nil {
		ev.ErrorKind = perr.Kind
		ev.ErrorMessage = perr.Message
	}
	o.bus.Publish(ev)
}
