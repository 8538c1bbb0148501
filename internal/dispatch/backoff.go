// internal/dispatch/backoff.go
package dispatch

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy computes the wait between retry attempts. Exponential with
// a cap and optional jitter; attempt 1 is the first retry after the initial
// try.
type BackoffPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter is a random factor in [0, 1) applied as +/- variation, so
	// simultaneous retries against a struggling system spread out.
	Jitter float64
}

// DefaultBackoff returns the dispatcher's standard retry backoff:
// 2s initial, 5m cap, doubling, 10% jitter.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay: 2 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// NextDelay returns the wait before retry number attempt (1-indexed).
// Returns 0 for attempt <= 0.
func (p BackoffPolicy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		factor := 1 - p.Jitter + 2*p.Jitter*rand.Float64()
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}
