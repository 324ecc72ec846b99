package platform

import (
	"context"

	"github.com/postfleet/postfleet/internal/models"
)

const (
	Tiktok    = "tiktok"
	Instagram = "instagram"
	Youtube   = "youtube"
	Twitter   = "twitter"
)

// Result is a completed publish: the platform-assigned content id and, when
// the platform exposes one, a public URL.
type Result struct {
	ExternalID  string
	ExternalURL string
}

// AsyncHandle is the correlation state for a publish the platform finishes
// out-of-band. The status poller drives it to completion.
type AsyncHandle struct {
	SessionID   string
	ContainerID string
}

// Outcome is what Publish returns: exactly one of Result (synchronous
// completion) or Handle (asynchronous processing) is set.
type Outcome struct {
	Result *Result
	Handle *AsyncHandle
}

// Status is one poll observation for an async publish.
type Status struct {
	Done   bool
	Result *Result
	Err    *Error
}

// Adapter is the fixed per-platform contract. Implementations must be
// idempotent with respect to attempts: a retried attempt re-derives
// everything from the task record and assumes no platform-side state from a
// previous attempt still exists.
type Adapter interface {
	Platform() string

	// CheckAuth is a cheap pre-flight; a classified auth failure
	// short-circuits the task without attempting upload.
	CheckAuth(ctx context.Context, cred *models.Credential) error

	Publish(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*Outcome, error)

	// CheckStatus reports progress for a task previously returned as async.
	CheckStatus(ctx context.Context, task *models.PublishTask, cred *models.Credential) (*Status, error)
}

// Registry is the closed platform-id -> adapter lookup table.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Platform()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(platform string) (Adapter, bool) {
	a, ok := r.adapters[platform]
	return a, ok
}

func (r *Registry) Platforms() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
