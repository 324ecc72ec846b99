package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/postfleet/postfleet/internal/models"
)

var (
	ErrNotFound = errors.New("task not found")
	// ErrConflict means the task was not in the state the caller expected.
	// Exactly one of any set of concurrent transitions from the same expected
	// state succeeds; the rest observe this error.
	ErrConflict = errors.New("task state conflict")
)

// TaskPatch carries the optional column updates applied together with a state
// transition. Nil fields are left untouched.
type TaskPatch struct {
	AttemptCount        *int
	LastErrorKind       *models.ErrorKind
	LastErrorMessage    *string
	NextRetryAt         *time.Time
	UploadSessionID     *string
	ContainerID         *string
	ExternalID          *string
	ExternalURL         *string
	ProcessingStartedAt *time.Time
	NextPollAt          *time.Time
}

type TaskRepository interface {
	Create(ctx context.Context, task *models.PublishTask) error
	GetByID(ctx context.Context, id string) (*models.PublishTask, error)
	UpdateState(ctx context.Context, id string, expected, next models.TaskState, patch *TaskPatch) error
	ListDue(ctx context.Context, before time.Time, limit int) ([]*models.PublishTask, error)
	ListStuckQueued(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.PublishTask, error)
	ListPollable(ctx context.Context, now time.Time, limit int) ([]*models.PublishTask, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.PublishTask, error)
	ListByAccount(ctx context.Context, userID, accountID int64) ([]*models.PublishTask, error)
	ListByDateRange(ctx context.Context, userID int64, from, to time.Time) ([]*models.PublishTask, error)
	CountActiveByAccount(ctx context.Context, accountID int64) (int, error)
	CheckByUserID(ctx context.Context, taskID string, userID int64) (bool, error)
}

type taskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) TaskRepository {
	return &taskRepository{db: db}
}

const taskColumns = `id, user_id, account_id, platform, content_type, caption, title,
	video_url, image_urls, cover_url, scheduled_at, state, attempt_count, max_attempts,
	last_error_kind, last_error_message, next_retry_at, upload_session_id, container_id,
	external_id, external_url, processing_started_at, next_poll_at, created_at, updated_at`

func (r *taskRepository) Create(ctx context.Context, task *models.PublishTask) error {
	query := `
		INSERT INTO publish_tasks (
			id, user_id, account_id, platform, content_type, caption, title,
			video_url, image_urls, cover_url, scheduled_at, state, max_attempts
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		task.ID,
		task.UserID,
		task.AccountID,
		task.Platform,
		task.ContentType,
		task.Caption,
		task.Title,
		task.VideoURL,
		pq.Array(task.ImageURLs),
		task.CoverURL,
		task.ScheduledAt,
		task.State,
		task.MaxAttempts,
	)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *taskRepository) GetByID(ctx context.Context, id string) (*models.PublishTask, error) {
	query := `SELECT ` + taskColumns + ` FROM publish_tasks WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	task, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return task, nil
}

// UpdateState is the compare-and-swap underpinning the whole engine: the row
// only changes if it is still in the expected state, so two workers racing on
// the same task resolve to one winner and one ErrConflict.
func (r *taskRepository) UpdateState(ctx context.Context, id string, expected, next models.TaskState, patch *TaskPatch) error {
	set := []string{"state = $1", "updated_at = $2"}
	args := []interface{}{next, time.Now()}

	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch != nil {
		if patch.AttemptCount != nil {
			add("attempt_count", *patch.AttemptCount)
		}
		if patch.LastErrorKind != nil {
			add("last_error_kind", *patch.LastErrorKind)
		}
		if patch.LastErrorMessage != nil {
			add("last_error_message", *patch.LastErrorMessage)
		}
		if patch.NextRetryAt != nil {
			add("next_retry_at", *patch.NextRetryAt)
		}
		if patch.UploadSessionID != nil {
			add("upload_session_id", *patch.UploadSessionID)
		}
		if patch.ContainerID != nil {
			add("container_id", *patch.ContainerID)
		}
		if patch.ExternalID != nil {
			add("external_id", *patch.ExternalID)
		}
		if patch.ExternalURL != nil {
			add("external_url", *patch.ExternalURL)
		}
		if patch.ProcessingStartedAt != nil {
			add("processing_started_at", *patch.ProcessingStartedAt)
		}
		if patch.NextPollAt != nil {
			add("next_poll_at", *patch.NextPollAt)
		}
	}

	args = append(args, id)
	idPos := len(args)
	args = append(args, expected)
	statePos := len(args)

	query := fmt.Sprintf(
		"UPDATE publish_tasks SET %s WHERE id = $%d AND state = $%d",
		strings.Join(set, ", "), idPos, statePos,
	)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (r *taskRepository) ListDue(ctx context.Context, before time.Time, limit int) ([]*models.PublishTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM publish_tasks
		WHERE state = $1 AND (scheduled_at IS NULL OR scheduled_at <= $2)
		ORDER BY scheduled_at NULLS FIRST, id
		LIMIT $3`
	return r.list(ctx, query, models.TaskStatePending, before, limit)
}

// ListStuckQueued finds queued rows whose submission to the platform queue
// was apparently lost (no retry pending, no update for a while) so the
// scheduler sweep can re-submit them.
func (r *taskRepository) ListStuckQueued(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.PublishTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM publish_tasks
		WHERE state = $1
		  AND (next_retry_at IS NULL OR next_retry_at <= $2)
		  AND updated_at <= $2
		ORDER BY updated_at
		LIMIT $3`
	return r.list(ctx, query, models.TaskStateQueued, updatedBefore, limit)
}

func (r *taskRepository) ListPollable(ctx context.Context, now time.Time, limit int) ([]*models.PublishTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM publish_tasks
		WHERE state = $1 AND (next_poll_at IS NULL OR next_poll_at <= $2)
		ORDER BY next_poll_at NULLS FIRST, id
		LIMIT $3`
	return r.list(ctx, query, models.TaskStateProcessing, now, limit)
}

func (r *taskRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.PublishTask, error) {
	query := `SELECT ` + taskColumns + ` FROM publish_tasks WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

func (r *taskRepository) ListByAccount(ctx context.Context, userID, accountID int64) ([]*models.PublishTask, error) {
	query := `SELECT ` + taskColumns + ` FROM publish_tasks WHERE user_id = $1 AND account_id = $2 ORDER BY created_at DESC`
	return r.list(ctx, query, userID, accountID)
}

func (r *taskRepository) ListByDateRange(ctx context.Context, userID int64, from, to time.Time) ([]*models.PublishTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM publish_tasks
		WHERE user_id = $1
		  AND COALESCE(scheduled_at, created_at) >= $2
		  AND COALESCE(scheduled_at, created_at) < $3
		ORDER BY COALESCE(scheduled_at, created_at)`
	return r.list(ctx, query, userID, from, to)
}

// CountActiveByAccount counts tasks still moving through the pipeline for
// one social account, so unlinking an account with work in flight can be
// refused.
func (r *taskRepository) CountActiveByAccount(ctx context.Context, accountID int64) (int, error) {
	query := `SELECT COUNT(*) FROM publish_tasks WHERE account_id = $1 AND state NOT IN ($2, $3, $4)`

	var count int
	err := r.db.QueryRowContext(ctx, query, accountID,
		models.TaskStateReleased, models.TaskStateFailed, models.TaskStateCancelled,
	).Scan(&count)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return count, nil
}

func (r *taskRepository) CheckByUserID(ctx context.Context, taskID string, userID int64) (bool, error) {
	query := `SELECT 1 FROM publish_tasks WHERE id = $1 AND user_id = $2`

	var result int
	err := r.db.QueryRowContext(ctx, query, taskID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}
	return result == 1, nil
}

func (r *taskRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.PublishTask, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.PublishTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.PublishTask, error) {
	var task models.PublishTask
	var imageURLs pq.StringArray
	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.AccountID,
		&task.Platform,
		&task.ContentType,
		&task.Caption,
		&task.Title,
		&task.VideoURL,
		&imageURLs,
		&task.CoverURL,
		&task.ScheduledAt,
		&task.State,
		&task.AttemptCount,
		&task.MaxAttempts,
		&task.LastErrorKind,
		&task.LastErrorMessage,
		&task.NextRetryAt,
		&task.UploadSessionID,
		&task.ContainerID,
		&task.ExternalID,
		&task.ExternalURL,
		&task.ProcessingStartedAt,
		&task.NextPollAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.ImageURLs = imageURLs
	return &task, nil
}
