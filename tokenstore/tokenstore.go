// Package tokenstore defines persistent storage for the last known session.
// The coordinator treats the store as an optimization, not an authority: a
// store that fails to load or save only costs a fresh sign-in, never
// correctness.
//
// Implementations must be cheap and non-blocking in the common case. The
// coordinator's architecture assumes storage calls cannot hang; backends that
// talk to a network (redisstore) should be configured with aggressive
// timeouts.
package tokenstore

import (
	"context"
	"errors"

	"github.com/sessionkeeper/sessionkeeper/authn"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("tokenstore: store is closed")

// Store persists at most one session record.
type Store interface {
	// Load returns the stored session, or (nil, nil) when nothing is
	// stored. Errors are reserved for real storage failures.
	Load(ctx context.Context) (*authn.Session, error)

	// Save replaces the stored session wholesale.
	Save(ctx context.Context, sess authn.Session) error

	// Clear removes the stored session. Clearing an empty store is not an
	// error.
	Clear(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
