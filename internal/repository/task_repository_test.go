package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/postfleet/postfleet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskRows = []string{
	"id", "user_id", "account_id", "platform", "content_type", "caption", "title",
	"video_url", "image_urls", "cover_url", "scheduled_at", "state", "attempt_count", "max_attempts",
	"last_error_kind", "last_error_message", "next_retry_at", "upload_session_id", "container_id",
	"external_id", "external_url", "processing_started_at", "next_poll_at", "created_at", "updated_at",
}

func addTaskRow(rows *sqlmock.Rows, id string, state models.TaskState) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(
		id, int64(1), int64(7), "tiktok", models.ContentTypeVideo, "caption", "title",
		"https://cdn.example.com/clip.mp4", "{}", "", nil, state, 0, 3,
		"", "", nil, "", "",
		"", "", nil, nil, now, now,
	)
}

func newMockRepo(t *testing.T) (TaskRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTaskRepository(db), mock
}

func TestUpdateStateWinner(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE publish_tasks SET state = $1, updated_at = $2 WHERE id = $3 AND state = $4",
	)).
		WithArgs(models.TaskStateQueued, sqlmock.AnyArg(), "task-1", models.TaskStatePending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateState(context.Background(), "task-1", models.TaskStatePending, models.TaskStateQueued, nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStateConflict(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE publish_tasks SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM publish_tasks WHERE id =").
		WithArgs("task-1").
		WillReturnRows(addTaskRow(sqlmock.NewRows(taskRows), "task-1", models.TaskStateUploading))

	err := repo.UpdateState(context.Background(), "task-1", models.TaskStateQueued, models.TaskStateUploading, nil)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStateMissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE publish_tasks SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM publish_tasks WHERE id =").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	err := repo.UpdateState(context.Background(), "ghost", models.TaskStatePending, models.TaskStateQueued, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatePatchColumns(t *testing.T) {
	repo, mock := newMockRepo(t)

	attempts := 2
	retryAt := time.Now().Add(10 * time.Second)

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE publish_tasks SET state = $1, updated_at = $2, attempt_count = $3, next_retry_at = $4 WHERE id = $5 AND state = $6",
	)).
		WithArgs(models.TaskStateQueued, sqlmock.AnyArg(), attempts, retryAt, "task-1", models.TaskStateUploading).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateState(context.Background(), "task-1", models.TaskStateUploading, models.TaskStateQueued, &TaskPatch{
		AttemptCount: &attempts,
		NextRetryAt:  &retryAt,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM publish_tasks WHERE id =").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	task, err := repo.GetByID(context.Background(), "ghost")
	assert.NoError(t, err)
	assert.Nil(t, task)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueScansTasks(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows(taskRows)
	addTaskRow(rows, "task-1", models.TaskStatePending)
	addTaskRow(rows, "task-2", models.TaskStatePending)

	before := time.Now()
	mock.ExpectQuery("scheduled_at IS NULL OR scheduled_at").
		WithArgs(models.TaskStatePending, before, 100).
		WillReturnRows(rows)

	tasks, err := repo.ListDue(context.Background(), before, 100)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "task-1", tasks[0].ID)
	assert.Equal(t, models.TaskStatePending, tasks[1].State)
	assert.Equal(t, "https://cdn.example.com/clip.mp4", tasks[0].VideoURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckByUserID(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT 1 FROM publish_tasks").
		WithArgs("task-1", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM publish_tasks").
		WithArgs("task-1", int64(2)).
		WillReturnError(sql.ErrNoRows)

	owned, err := repo.CheckByUserID(context.Background(), "task-1", 1)
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = repo.CheckByUserID(context.Background(), "task-1", 2)
	require.NoError(t, err)
	assert.False(t, owned)
	assert.NoError(t, mock.ExpectationsWereMet())
}
