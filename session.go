package sessionkeeper

import (
	"time"

	"github.com/sessionkeeper/sessionkeeper/authn"
	"github.com/sessionkeeper/sessionkeeper/internal/tokeninfo"
)

// CachedSession is the coordinator's snapshot of the most recent known-good
// session. It is owned exclusively by the Coordinator; other components read
// derived fields through accessors and never hold a reference to it.
type CachedSession struct {
	Session    authn.Session
	CapturedAt time.Time
}

// normalizeSession backfills fields the provider or store left empty, using
// the access token's own claims where it happens to be a JWT. Failures are
// ignored: an opaque token simply stays without expiry, which the freshness
// check treats as never fresh.
func normalizeSession(sess authn.Session) authn.Session {
	if sess.AccessToken == "" {
		return sess
	}
	if sess.ExpiresAt.IsZero() {
		if exp, err := tokeninfo.Expiry(sess.AccessToken); err == nil {
			sess.ExpiresAt = exp
		}
	}
	if sess.UserID == "" {
		if sub, err := tokeninfo.Subject(sess.AccessToken); err == nil {
			sess.UserID = sub
		}
	}
	return sess
}
