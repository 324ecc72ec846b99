package engine

import (
	"math"
	"math/rand"
	"time"
)

const (
	baseBackoffSeconds = 5
	maxBackoffSeconds  = 300
)

// backoffDelay returns the wait before retrying a task that has already made
// attempt attempts. Exponential from the base, capped, with +/-20% jitter so
// a burst of rate-limited tasks does not retry in lockstep.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	seconds := float64(baseBackoffSeconds) * math.Pow(2, float64(attempt-1))
	if seconds > maxBackoffSeconds {
		seconds = maxBackoffSeconds
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(seconds * jitter * float64(time.Second))
}
