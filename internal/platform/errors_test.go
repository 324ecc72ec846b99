package platform

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/postfleet/postfleet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(status int, headers map[string]string) *http.Response {
	resp := &http.Response{StatusCode: status, Header: make(http.Header)}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   models.ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, models.ErrorKindAuthExpired},
		{"forbidden", http.StatusForbidden, models.ErrorKindAuthExpired},
		{"too many requests", http.StatusTooManyRequests, models.ErrorKindRateLimited},
		{"server error", http.StatusInternalServerError, models.ErrorKindTransientNetwork},
		{"bad gateway", http.StatusBadGateway, models.ErrorKindTransientNetwork},
		{"bad request", http.StatusBadRequest, models.ErrorKindPayloadInvalid},
		{"payload too large", http.StatusRequestEntityTooLarge, models.ErrorKindPayloadInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perr := ClassifyResponse(response(tt.status, nil), "detail")
			assert.Equal(t, tt.want, perr.Kind)
			assert.Equal(t, "detail", perr.Message)
		})
	}
}

func TestClassifyResponseRetryAfterSeconds(t *testing.T) {
	perr := ClassifyResponse(response(http.StatusTooManyRequests, map[string]string{"Retry-After": "120"}), "")
	assert.Equal(t, models.ErrorKindRateLimited, perr.Kind)
	assert.Equal(t, 2*time.Minute, perr.RetryAfter)
}

func TestClassifyResponseRetryAfterHTTPDate(t *testing.T) {
	at := time.Now().Add(90 * time.Second).UTC()
	perr := ClassifyResponse(response(http.StatusTooManyRequests, map[string]string{"Retry-After": at.Format(http.TimeFormat)}), "")
	assert.Equal(t, models.ErrorKindRateLimited, perr.Kind)
	assert.Greater(t, perr.RetryAfter, 80*time.Second)
	assert.LessOrEqual(t, perr.RetryAfter, 90*time.Second)
}

type timeoutNetError struct{}

func (e *timeoutNetError) Error() string   { return "dial tcp: i/o timeout" }
func (e *timeoutNetError) Timeout() bool   { return true }
func (e *timeoutNetError) Temporary() bool { return true }

func TestClassifyRequestError(t *testing.T) {
	perr := ClassifyRequestError(context.DeadlineExceeded)
	assert.Equal(t, models.ErrorKindTransientNetwork, perr.Kind)

	perr = ClassifyRequestError(&timeoutNetError{})
	assert.Equal(t, models.ErrorKindTransientNetwork, perr.Kind)
	assert.Equal(t, "dial tcp: i/o timeout", perr.Message)

	perr = ClassifyRequestError(errors.New("connection refused"))
	assert.Equal(t, models.ErrorKindTransientNetwork, perr.Kind)
}

func TestAsError(t *testing.T) {
	classified := Errorf(models.ErrorKindRateLimited, "slow down")
	assert.Same(t, classified, AsError(classified))

	wrapped := AsError(errors.New("nil pointer dereference"))
	require.NotNil(t, wrapped)
	assert.Equal(t, models.ErrorKindInternal, wrapped.Kind)
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(NewTiktokAdapter(), NewInstagramAdapter())

	a, ok := reg.Get(Tiktok)
	require.True(t, ok)
	assert.Equal(t, Tiktok, a.Platform())

	_, ok = reg.Get("myspace")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{Tiktok, Instagram}, reg.Platforms())
}
