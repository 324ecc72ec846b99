package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/postfleet/postfleet/internal/models"
)

type TaskEventRepository interface {
	Create(ctx context.Context, ev *models.TaskEvent) (int64, error)
	ListByTaskID(ctx context.Context, taskID string) ([]*models.TaskEvent, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.TaskEvent, error)
}

type taskEventRepository struct {
	db *sql.DB
}

func NewTaskEventRepository(db *sql.DB) TaskEventRepository {
	return &taskEventRepository{db: db}
}

func (r *taskEventRepository) Create(ctx context.Context, ev *models.TaskEvent) (int64, error) {
	query := `
		INSERT INTO task_events (task_id, user_id, account_id, platform, from_state, to_state, error_kind, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		ev.TaskID, ev.UserID, ev.AccountID, ev.Platform,
		ev.FromState, ev.ToState, ev.ErrorKind, ev.ErrorMessage,
	).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *taskEventRepository) ListByTaskID(ctx context.Context, taskID string) ([]*models.TaskEvent, error) {
	query := `
		SELECT id, task_id, user_id, account_id, platform, from_state, to_state, error_kind, error_message, created_at
		FROM task_events
		WHERE task_id = $1
		ORDER BY id
	`
	return r.list(ctx, query, taskID)
}

func (r *taskEventRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.TaskEvent, error) {
	query := `
		SELECT id, task_id, user_id, account_id, platform, from_state, to_state, error_kind, error_message, created_at
		FROM task_events
		WHERE user_id = $1
		ORDER BY id DESC
	`
	return r.list(ctx, query, userID)
}

func (r *taskEventRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.TaskEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var evs []*models.TaskEvent
	for rows.Next() {
		var ev models.TaskEvent
		err := rows.Scan(&ev.ID, &ev.TaskID, &ev.UserID, &ev.AccountID, &ev.Platform,
			&ev.FromState, &ev.ToState, &ev.ErrorKind, &ev.ErrorMessage, &ev.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		evs = append(evs, &ev)
	}
	return evs, rows.Err()
}
