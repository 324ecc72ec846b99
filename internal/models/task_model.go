package models

import "time"

type TaskState string

const (
	TaskStatePending    TaskState = "pending"
	TaskStateQueued     TaskState = "queued"
	TaskStateUploading  TaskState = "uploading"
	TaskStateProcessing TaskState = "processing"
	TaskStateReleased   TaskState = "released"
	TaskStateFailed     TaskState = "failed"
	TaskStateCancelled  TaskState = "cancelled"
)

// Terminal states never transition again.
func (s TaskState) Terminal() bool {
	return s == TaskStateReleased || s == TaskStateFailed || s == TaskStateCancelled
}

// Cancellable reports whether a user cancel is still honored. Once a worker
// has started executing the task it must run to a terminal state.
func (s TaskState) Cancellable() bool {
	return s == TaskStatePending || s == TaskStateQueued
}

type ErrorKind string

const (
	ErrorKindAuthExpired      ErrorKind = "auth_expired"
	ErrorKindRateLimited      ErrorKind = "rate_limited"
	ErrorKindPayloadInvalid   ErrorKind = "payload_invalid"
	ErrorKindTransientNetwork ErrorKind = "transient_network"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindInternal         ErrorKind = "internal"
)

func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindRateLimited, ErrorKindTransientNetwork, ErrorKindTimeout, ErrorKindInternal:
		return true
	}
	return false
}

const (
	ContentTypeVideo    = "video"
	ContentTypeSingle   = "single"
	ContentTypeCarousel = "carousel"
)

// PublishTask is one attempt-tracked request to publish content to one
// account on one platform. Content fields are immutable pointers captured at
// submission time; the authoring subsystem owns the content itself.
type PublishTask struct {
	ID          string     `db:"id" json:"id"`
	UserID      int64      `db:"user_id" json:"user_id"`
	AccountID   int64      `db:"account_id" json:"account_id"`
	Platform    string     `db:"platform" json:"platform"`
	ContentType string     `db:"content_type" json:"content_type"`
	Caption     string     `db:"caption" json:"caption"`
	Title       string     `db:"title" json:"title"`
	VideoURL    string     `db:"video_url" json:"video_url,omitempty"`
	ImageURLs   []string   `db:"image_urls" json:"image_urls,omitempty"`
	CoverURL    string     `db:"cover_url" json:"cover_url,omitempty"`
	ScheduledAt *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`

	State        TaskState `db:"state" json:"state"`
	AttemptCount int       `db:"attempt_count" json:"attempt_count"`
	MaxAttempts  int       `db:"max_attempts" json:"max_attempts"`

	LastErrorKind    ErrorKind  `db:"last_error_kind" json:"last_error_kind,omitempty"`
	LastErrorMessage string     `db:"last_error_message" json:"last_error_message,omitempty"`
	NextRetryAt      *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`

	// Platform-assigned correlation ids, captured progressively.
	UploadSessionID string `db:"upload_session_id" json:"upload_session_id,omitempty"`
	ContainerID     string `db:"container_id" json:"container_id,omitempty"`
	ExternalID      string `db:"external_id" json:"external_id,omitempty"`
	ExternalURL     string `db:"external_url" json:"external_url,omitempty"`

	ProcessingStartedAt *time.Time `db:"processing_started_at" json:"processing_started_at,omitempty"`
	NextPollAt          *time.Time `db:"next_poll_at" json:"next_poll_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Due reports whether the task should be handed to its platform queue.
// A nil ScheduledAt means "publish now"; a scheduled time already in the past
// (server was down, client clock skew) is due immediately, never dropped.
func (t *PublishTask) Due(now time.Time) bool {
	return t.ScheduledAt == nil || !t.ScheduledAt.After(now)
}
