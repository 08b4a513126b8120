package sessionkeeper

import "github.com/sessionkeeper/sessionkeeper/authn"

// Handle is a ready-to-use view of the best session the coordinator could
// produce within its time bound. Handles are immutable snapshots: a refresh
// happening after Acquire returns does not alter a handle already handed out.
type Handle struct {
	session  authn.Session
	degraded bool
}

// AccessToken returns the access token to present to the backend.
func (h Handle) AccessToken() string { return h.session.AccessToken }

// UserID returns the authenticated user's identifier, when known.
func (h Handle) UserID() string { return h.session.UserID }

// Session returns the full session snapshot backing the handle.
func (h Handle) Session() authn.Session { return h.session }

// Degraded reports whether the handle was built from possibly stale tokens
// because a fresh session could not be obtained in time. Operations using a
// degraded handle may be rejected by the backend; callers should treat that
// rejection like any other authorization failure.
func (h Handle) Degraded() bool { return h.degraded }
