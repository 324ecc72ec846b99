package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayGrowsWithAttempts(t *testing.T) {
	// Jitter is +/-20%, so compare against the jitter envelope.
	for attempt := 1; attempt <= 5; attempt++ {
		base := float64(baseBackoffSeconds) * float64(int(1)<<(attempt-1))
		d := backoffDelay(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0.8*base*float64(time.Second)), "attempt %d", attempt)
		assert.LessOrEqual(t, d, time.Duration(1.2*base*float64(time.Second)), "attempt %d", attempt)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := backoffDelay(30)
		assert.LessOrEqual(t, d, time.Duration(1.2*float64(maxBackoffSeconds)*float64(time.Second)))
		assert.GreaterOrEqual(t, d, time.Duration(0.8*float64(maxBackoffSeconds)*float64(time.Second)))
	}
}

func TestBackoffDelayClampsAttempt(t *testing.T) {
	assert.Greater(t, backoffDelay(0), time.Duration(0))
	assert.Greater(t, backoffDelay(-3), time.Duration(0))
}
