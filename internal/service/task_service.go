package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	config "github.com/postfleet/postfleet/configs"
	"github.com/postfleet/postfleet/internal/engine"
	"github.com/postfleet/postfleet/internal/models"
	"github.com/postfleet/postfleet/internal/platform"
	"github.com/postfleet/postfleet/internal/repository"
	"github.com/postfleet/postfleet/internal/transfer"
)

// ErrValidation marks a rejected submission; handlers map it to a 400.
var ErrValidation = errors.New("invalid submission")

type TaskService interface {
	Submit(ctx context.Context, userID int64, submission *transfer.TaskSubmission) (*models.PublishTask, error)
	Cancel(ctx context.Context, userID int64, taskID string) error
	Info(ctx context.Context, userID int64, taskID string) (*models.PublishTask, error)
	List(ctx context.Context, userID int64) ([]*models.PublishTask, error)
	ListByAccount(ctx context.Context, userID, accountID int64) ([]*models.PublishTask, error)
	Calendar(ctx context.Context, userID int64, from, to time.Time) ([]*models.PublishTask, error)
	History(ctx context.Context, userID int64, taskID string) ([]*models.TaskEvent, error)
}

type taskService struct {
	cfg      config.Config
	t        repository.TaskRepository
	te       repository.TaskEventRepository
	sa       repository.SocialAccountRepository
	registry *platform.Registry
	orch     *engine.Orchestrator
}

func NewTaskService(
	cfg config.Config,
	t repository.TaskRepository,
	te repository.TaskEventRepository,
	sa repository.SocialAccountRepository,
	registry *platform.Registry,
	orch *engine.Orchestrator) TaskService {
	return &taskService{
		cfg:      cfg,
		t:        t,
		te:       te,
		sa:       sa,
		registry: registry,
		orch:     orch,
	}
}

// Submit validates a submission, persists it as a pending task and, when it
// is already due, enqueues it immediately instead of waiting for the next
// scheduler sweep.
func (s *taskService) Submit(ctx context.Context, userID int64, submission *transfer.TaskSubmission) (*models.PublishTask, error) {
	if userID == 0 {
		return nil, fmt.Errorf("%w: user is not valid", ErrValidation)
	}

	if _, ok := s.registry.Get(submission.Platform); !ok {
		return nil, fmt.Errorf("%w: unsupported platform %q", ErrValidation, submission.Platform)
	}

	acc, err := s.sa.GetByID(ctx, submission.AccountID)
	if err != nil {
		return nil, err
	}
	if acc == nil || acc.UserID != userID {
		return nil, fmt.Errorf("%w: social account doesn't exist", ErrValidation)
	}
	if acc.Platform != submission.Platform {
		return nil, fmt.Errorf("%w: account %d is linked to %s", ErrValidation, acc.ID, acc.Platform)
	}

	contentType, err := inferContentType(submission)
	if err != nil {
		return nil, err
	}

	var scheduledAt *time.Time
	if submission.ScheduledAt != "" {
		at, err := time.Parse(time.RFC3339, submission.ScheduledAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scheduled_at must be RFC 3339", ErrValidation)
		}
		scheduledAt = &at
	}

	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	task := &models.PublishTask{
		ID:          id,
		UserID:      userID,
		AccountID:   submission.AccountID,
		Platform:    submission.Platform,
		ContentType: contentType,
		Caption:     submission.Caption,
		Title:       submission.Title,
		VideoURL:    submission.VideoURL,
		ImageURLs:   submission.ImageURLs,
		CoverURL:    submission.CoverURL,
		ScheduledAt: scheduledAt,
		State:       models.TaskStatePending,
		MaxAttempts: s.cfg.Engine.MaxAttempts,
	}

	if err := s.t.Create(ctx, task); err != nil {
		return nil, err
	}

	if task.Due(time.Now()) {
		if err := s.orch.Enqueue(ctx, task); err != nil {
			// The row is pending; the next sweep picks it up.
			slog.Error("immediate enqueue failed", "task_id", task.ID, "error", err.Error())
		}
	}

	return task, nil
}

func (s *taskService) Cancel(ctx context.Context, userID int64, taskID string) error {
	isOwner, err := s.t.CheckByUserID(ctx, taskID, userID)
	if err != nil {
		return err
	}
	if !isOwner {
		return repository.ErrNotFound
	}
	return s.orch.Cancel(ctx, taskID)
}

func (s *taskService) Info(ctx context.Context, userID int64, taskID string) (*models.PublishTask, error) {
	task, err := s.t.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil || task.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return task, nil
}

func (s *taskService) List(ctx context.Context, userID int64) ([]*models.PublishTask, error) {
	return s.t.ListByUserID(ctx, userID)
}

func (s *taskService) ListByAccount(ctx context.Context, userID, accountID int64) ([]*models.PublishTask, error) {
	return s.t.ListByAccount(ctx, userID, accountID)
}

func (s *taskService) Calendar(ctx context.Context, userID int64, from, to time.Time) ([]*models.PublishTask, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: empty date range", ErrValidation)
	}
	return s.t.ListByDateRange(ctx, userID, from, to)
}

func (s *taskService) History(ctx context.Context, userID int64, taskID string) ([]*models.TaskEvent, error) {
	isOwner, err := s.t.CheckByUserID(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	if !isOwner {
		return nil, repository.ErrNotFound
	}
	return s.te.ListByTaskID(ctx, taskID)
}

func inferContentType(submission *transfer.TaskSubmission) (string, error) {
	switch {
	case submission.VideoURL != "":
		return models.ContentTypeVideo, nil
	case len(submission.ImageURLs) > 1:
		return models.ContentTypeCarousel, nil
	case len(submission.ImageURLs) == 1:
		return models.ContentTypeSingle, nil
	case submission.Platform == platform.Twitter && submission.Caption != "":
		// A text-only tweet is valid content.
		return models.ContentTypeSingle, nil
	default:
		return "", fmt.Errorf("%w: no content attached", ErrValidation)
	}
}
