package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/postfleet/postfleet/internal/models"
)

// Error is the classified outcome of a failed adapter call. Adapters never
// retry internally; they classify and return, and the orchestrator owns all
// retry and backoff decisions.
type Error struct {
	Kind       models.ErrorKind
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func Errorf(kind models.ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError coerces any error into a classified one. Unclassified errors are
// bugs or unexpected shapes, so they map to the internal kind.
func AsError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{Kind: models.ErrorKindInternal, Message: err.Error()}
}

// ClassifyResponse maps a non-2xx platform response to an error kind.
func ClassifyResponse(resp *http.Response, detail string) *Error {
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: models.ErrorKindAuthExpired, Message: detail}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{
			Kind:       models.ErrorKindRateLimited,
			Message:    detail,
			RetryAfter: retryAfterHint(resp),
		}
	case resp.StatusCode >= 500:
		return &Error{Kind: models.ErrorKindTransientNetwork, Message: detail}
	case resp.StatusCode >= 400:
		return &Error{Kind: models.ErrorKindPayloadInvalid, Message: detail}
	default:
		return &Error{Kind: models.ErrorKindInternal, Message: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, detail)}
	}
}

// ClassifyRequestError maps transport-level failures (connection errors,
// per-call timeouts) to the transient kind.
func ClassifyRequestError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: models.ErrorKindTransientNetwork, Message: "request timed out"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: models.ErrorKindTransientNetwork, Message: netErr.Error()}
	}
	return &Error{Kind: models.ErrorKindTransientNetwork, Message: err.Error()}
}

func retryAfterHint(resp *http.Response) time.Duration {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
