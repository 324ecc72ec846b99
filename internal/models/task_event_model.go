package models

import "time"

// TaskEvent is the persisted form of a lifecycle transition, consumed by the
// notification layer and the calendar UI.
type TaskEvent struct {
	ID           int64     `db:"id" json:"id"`
	TaskID       string    `db:"task_id" json:"task_id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	AccountID    int64     `db:"account_id" json:"account_id"`
	Platform     string    `db:"platform" json:"platform"`
	FromState    TaskState `db:"from_state" json:"from_state"`
	ToState      TaskState `db:"to_state" json:"to_state"`
	ErrorKind    ErrorKind `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
