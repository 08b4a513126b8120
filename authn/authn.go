// Package authn defines the authentication provider boundary consumed by the
// session coordinator. A Provider knows how to turn credentials or previously
// issued tokens into a Session; the coordinator decides when (and whether) to
// call it.
//
// The surface intentionally stays small: three acquisition paths and a handful
// of sentinel errors. The coordinator does not distinguish failure subtypes
// when recording refresh health, but callers of SignIn may want to.
package authn

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidRefreshToken indicates the backend rejected the refresh token as
// unknown, revoked, or expired. Recovering requires a fresh sign-in.
var ErrInvalidRefreshToken = errors.New("authn: invalid refresh token")

// ErrUnavailable indicates the provider could not reach the backend or the
// backend answered with a transient failure.
var ErrUnavailable = errors.New("authn: provider unavailable")

// ErrResumeUnsupported indicates the provider has no cheap resume path for the
// supplied tokens. Callers are expected to fall back to a full refresh token
// exchange.
var ErrResumeUnsupported = errors.New("authn: resume not supported")

// Credential carries the material for an initial sign-in. Exactly one of
// Email or Phone should be set alongside Password.
type Credential struct {
	Email    string
	Phone    string
	Password string
}

// Session is one authenticated identity grant. Sessions are value types:
// a refresh replaces the whole session, it never mutates one field-by-field.
type Session struct {
	// UserID is the backend's opaque identifier for the authenticated user.
	UserID string

	// AccessToken is the short-lived credential presented on every
	// authenticated operation.
	AccessToken string

	// RefreshToken is the longer-lived credential used to obtain a
	// replacement session once the access token nears expiry.
	RefreshToken string

	// ExpiresAt is the absolute time after which the backend no longer
	// accepts AccessToken. A zero ExpiresAt means the expiry is unknown;
	// the coordinator treats such sessions as never fresh.
	ExpiresAt time.Time
}

// Fresh reports whether the session still has more than margin of validity
// left at now. A session with an unknown expiry is never fresh.
func (s Session) Fresh(margin time.Duration, now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return s.ExpiresAt.Sub(now) > margin
}

// Provider performs the network operations that produce sessions. All three
// methods block until the backend answers or ctx is done; implementations
// must honor ctx cancellation.
type Provider interface {
	// SignIn exchanges primary credentials for a brand new session.
	SignIn(ctx context.Context, cred Credential) (Session, error)

	// ResumeWithTokens attempts the cheap resume path: revalidate a
	// previously issued token pair without burning the refresh token.
	// Implementations without such a path return ErrResumeUnsupported.
	ResumeWithTokens(ctx context.Context, accessToken, refreshToken string) (Session, error)

	// ExchangeRefreshToken performs the full refresh: trade the refresh
	// token for a replacement session.
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (Session, error)
}
