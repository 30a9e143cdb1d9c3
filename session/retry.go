package session

import (
	"math"
	"math/rand"
	"time"

	"github.com/voxtrail/audiostream/errors"
)

// RetryPolicy controls how a failed part upload is retried. Retries reuse the
// same part number, so a retried part never leaves a gap in the manifest.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts per part, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. It doubles per attempt.
	// Zero disables the backoff.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff delay.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured:
// 3 attempts with exponential backoff from 200ms, capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// NoRetry fails a part on its first error.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the backoff before the retry that follows attempt, with
// ±25% jitter, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt < 1 {
		return 0
	}

	delay := time.Duration(math.Pow(2, float64(attempt-1))) * p.BaseDelay

	jitterRange := int64(float64(delay) * 0.25)
	if jitterRange > 0 {
		delay += time.Duration(rand.Int63n(2*jitterRange) - jitterRange)
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Retryable reports whether err is a transient store failure worth another
// attempt: throttling, timeouts, store outages and network errors. Caller
// cancellation is never retried.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.IsRetryable(errors.Code(err))
}
