// Package breaker implements the failure-count circuit breaker that guards
// the coordinator's refresh path. It has two states: Closed (refresh attempts
// allowed) and Open (attempts short-circuited until a cooldown elapses).
//
// The Open state is evaluated lazily: IsOpen compares the elapsed time since
// the breaker opened against the cooldown window, so no background timer is
// needed to close it again.
package breaker

import (
	"sync"
	"time"
)

// Breaker tracks consecutive refresh failures. The zero value is not usable;
// construct with New.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	failures int
	openedAt time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock substitutes the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New returns a closed Breaker that opens after threshold consecutive
// failures and stays open for cooldown.
func New(threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RecordFailure increments the consecutive failure count and opens the
// breaker once the count reaches the threshold. Failures recorded while the
// breaker is already open push the opened-at time forward, restarting the
// cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.threshold {
		b.openedAt = b.now()
	}
}

// RecordSuccess resets the failure count and force-closes the breaker
// immediately, regardless of any pending cooldown.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.openedAt = time.Time{}
}

// IsOpen reports whether refresh attempts should be short-circuited. Once the
// cooldown has elapsed the breaker reads as closed again without an explicit
// reset; the failure count is retained, so the next failure re-opens it
// immediately.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openedAt.IsZero() {
		return false
	}
	return b.now().Sub(b.openedAt) < b.cooldown
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
