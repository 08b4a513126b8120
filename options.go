package sessionkeeper

import (
	"log/slog"
	"time"

	"github.com/sessionkeeper/sessionkeeper/tokenstore"
)

// Option configures optional aspects of a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to slog.Default(). The coordinator
// wraps the logger's handler so that refresh attempts carry structured
// context attributes.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTokenStore attaches persistent storage for the last known session. The
// coordinator loads from the store at construction, saves after every
// successful sign-in or refresh, and clears it on sign-out. The store's
// failures are never fatal. The coordinator does not own the store; closing
// the coordinator does not close it.
func WithTokenStore(store tokenstore.Store) Option {
	return func(c *Coordinator) {
		c.store = store
	}
}

// WithClock substitutes the time source used for freshness math and the
// circuit breaker cooldown. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}
