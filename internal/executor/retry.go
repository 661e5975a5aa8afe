package executor

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy controls exponential backoff for transient broker errors
type RetryPolicy struct {
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      float64 // fraction of the delay, applied as +/- jitter
}

// DefaultRetryPolicy matches the order-submission path: base 1s, factor
// 2.0, max delay 60s, 3 attempts, +/-50% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   time.Second,
		Factor:      2.0,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 3,
		Jitter:      0.5,
	}
}

// retryable marks errors that are worth retrying
type retryable interface {
	Transient() bool
}

// IsTransient reports whether an error is retryable. Errors that do not
// implement the retryable interface are treated as transient so unknown
// broker hiccups get the benefit of the doubt; permanent rejections
// implement Transient() false.
func IsTransient(err error) bool {
	if r, ok := err.(retryable); ok {
		return r.Transient()
	}
	return true
}

// Retry runs fn under the policy, sleeping with exponential backoff and
// jitter between attempts. The context aborts waits early; permanent
// errors stop immediately.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var err error
	delay := policy.BaseDelay
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		sleep := jittered(delay, policy.Jitter)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * policy.Factor)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return err
}

func jittered(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	// Uniform in [d*(1-fraction), d*(1+fraction)]
	span := float64(d) * fraction
	return time.Duration(float64(d) - span + rand.Float64()*2*span)
}
