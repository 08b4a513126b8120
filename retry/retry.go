// Package retry provides a bounded retry helper with exponential backoff and
// jitter. The same backoff decision recurs across every network-adjacent part
// of an application built on an unreliable transport (token refresh, outbox
// drains, realtime reconnects); this package is the single place that math
// lives.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy describes how attempts are spaced. The zero value retries nothing;
// use DefaultPolicy for sensible defaults.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor between attempts.
	Multiplier float64

	// Jitter, when true, spreads each delay by up to ±25% to avoid
	// synchronized retry stampedes.
	Jitter bool
}

// DefaultPolicy returns the policy used when callers have no specific
// requirements: 4 attempts, 250ms base, 5s cap, doubling, jittered.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Delay computes the wait before attempt n+1, where n is the zero-based index
// of the attempt that just failed.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter && delay > 0 {
		delay += delay * 0.25 * (rand.Float64()*2 - 1)
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

type stopError struct{ err error }

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Stop wraps err so that Do returns it immediately without further attempts.
// Use it for failures that cannot succeed on retry, such as rejected
// credentials.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Do runs fn until it succeeds, the policy's attempts are exhausted, fn
// returns an error wrapped by Stop, or ctx is done. It returns nil on
// success, ctx.Err() on cancellation, and otherwise the last error fn
// returned (unwrapped from Stop where applicable).
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var stop *stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}
