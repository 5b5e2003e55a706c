package core

import (
	"math"
	"time"
)

// BackoffType selects how the delay grows between delivery attempts.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff is the broker-side retry delay policy.
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

// Next returns the delay before retry number attempt (1 is the first retry).
// Exponential backoff doubles each time: Delay * 2^(attempt-1).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Type != BackoffExponential {
		return b.Delay
	}
	d := float64(b.Delay) * math.Pow(2, float64(attempt-1))
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// EnqueueOptions are the delivery guarantees requested for one submission.
type EnqueueOptions struct {
	Attempts         int
	Backoff          Backoff
	RemoveOnComplete bool
}

// Default submission policy.
const (
	DefaultAttempts     = 3
	DefaultBackoffDelay = 2000 * time.Millisecond
)

// DefaultEnqueueOptions returns the policy applied by the queue kernel:
// three attempts, exponential backoff from 2s, removal on completion.
func DefaultEnqueueOptions() EnqueueOptions {
	return EnqueueOptions{
		Attempts: DefaultAttempts,
		Backoff: Backoff{
			Type:  BackoffExponential,
			Delay: DefaultBackoffDelay,
		},
		RemoveOnComplete: true,
	}
}
