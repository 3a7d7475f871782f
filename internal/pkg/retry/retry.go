// Package retry provides a bounded, error-classification-keyed retry policy
// with exponential backoff and jitter for external gateway calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Classifier decides whether an error from one attempt is transient and
// worth retrying. Permanent errors stop the loop immediately.
type Classifier func(err error) bool

// Policy is a reusable retry policy. The zero value is not usable; build
// one with NewPolicy so defaults apply.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Retryable  Classifier
}

// NewPolicy creates a retry policy. maxRetries is the number of retry
// attempts after the initial call (default 3 when <= 0). retryable
// classifies errors; nil means retry every error.
func NewPolicy(maxRetries int, retryable Classifier) *Policy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryable == nil {
		retryable = func(error) bool { return true }
	}
	return &Policy{
		MaxRetries: maxRetries,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Retryable:  retryable,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt cap is reached. It returns the number of retries performed
// (0 when the first attempt settled the matter) and the last error.
// No lock may be held by fn across calls: Do sleeps between attempts.
func (p *Policy) Do(ctx context.Context, fn func() error) (retries int, err error) {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}

		err = fn()
		if err == nil {
			return attempt, nil
		}
		if !p.Retryable(err) || attempt == p.MaxRetries {
			return attempt, err
		}

		delay := p.backoff(attempt + 1)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		}
	}
}

// backoff returns the delay before the given retry attempt (1-based).
// Exponential with full jitter: random(0, min(maxDelay, base * 2^(n-1))),
// floored at 100ms to avoid busy-looping.
func (p *Policy) backoff(attempt int) time.Duration {
	expDelay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if expDelay > float64(p.MaxDelay) {
		expDelay = float64(p.MaxDelay)
	}
	jittered := time.Duration(rand.Float64() * expDelay)
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}
