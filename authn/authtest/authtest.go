// Package authtest provides a scriptable in-memory authn.Provider for tests.
// Each acquisition path can be stubbed independently, call counts are
// tracked, and helpers exist for the common scripts (always succeed, always
// fail, hang until the context is done).
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sessionkeeper/sessionkeeper/authn"
)

// Provider is a scriptable authn.Provider. Configure the *Func fields before
// use; a nil func reports authn.ErrUnavailable. All methods are safe for
// concurrent use.
type Provider struct {
	SignInFunc   func(ctx context.Context, cred authn.Credential) (authn.Session, error)
	ResumeFunc   func(ctx context.Context, accessToken, refreshToken string) (authn.Session, error)
	ExchangeFunc func(ctx context.Context, refreshToken string) (authn.Session, error)

	mu            sync.Mutex
	signInCalls   int
	resumeCalls   int
	exchangeCalls int
}

var _ authn.Provider = (*Provider)(nil)

func (p *Provider) SignIn(ctx context.Context, cred authn.Credential) (authn.Session, error) {
	p.mu.Lock()
	p.signInCalls++
	fn := p.SignInFunc
	p.mu.Unlock()

	if fn == nil {
		return authn.Session{}, authn.ErrUnavailable
	}
	return fn(ctx, cred)
}

func (p *Provider) ResumeWithTokens(ctx context.Context, accessToken, refreshToken string) (authn.Session, error) {
	p.mu.Lock()
	p.resumeCalls++
	fn := p.ResumeFunc
	p.mu.Unlock()

	if fn == nil {
		return authn.Session{}, authn.ErrResumeUnsupported
	}
	return fn(ctx, accessToken, refreshToken)
}

func (p *Provider) ExchangeRefreshToken(ctx context.Context, refreshToken string) (authn.Session, error) {
	p.mu.Lock()
	p.exchangeCalls++
	fn := p.ExchangeFunc
	p.mu.Unlock()

	if fn == nil {
		return authn.Session{}, authn.ErrUnavailable
	}
	return fn(ctx, refreshToken)
}

// SignInCalls returns how many times SignIn was invoked.
func (p *Provider) SignInCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signInCalls
}

// ResumeCalls returns how many times ResumeWithTokens was invoked.
func (p *Provider) ResumeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumeCalls
}

// ExchangeCalls returns how many times ExchangeRefreshToken was invoked.
func (p *Provider) ExchangeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchangeCalls
}

// RefreshCalls returns the combined resume + exchange count, i.e. the number
// of network refresh operations a coordinator under test performed.
func (p *Provider) RefreshCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumeCalls + p.exchangeCalls
}

// NewSession fabricates a session for userID whose access token expires ttl
// from now. Token strings are unique per call.
func NewSession(userID string, ttl time.Duration) authn.Session {
	return authn.Session{
		UserID:       userID,
		AccessToken:  "access-" + uuid.NewString(),
		RefreshToken: "refresh-" + uuid.NewString(),
		ExpiresAt:    time.Now().Add(ttl),
	}
}

// Always returns a script that yields sess on every call.
func Always(sess authn.Session) func(ctx context.Context, refreshToken string) (authn.Session, error) {
	return func(ctx context.Context, refreshToken string) (authn.Session, error) {
		return sess, nil
	}
}

// Fail returns a script that yields err on every call.
func Fail(err error) func(ctx context.Context, refreshToken string) (authn.Session, error) {
	return func(ctx context.Context, refreshToken string) (authn.Session, error) {
		return authn.Session{}, err
	}
}

// Hang returns a script that blocks until ctx is done, simulating a network
// call that never answers.
func Hang() func(ctx context.Context, refreshToken string) (authn.Session, error) {
	return func(ctx context.Context, refreshToken string) (authn.Session, error) {
		<-ctx.Done()
		return authn.Session{}, ctx.Err()
	}
}
