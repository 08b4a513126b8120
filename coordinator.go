package sessionkeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/sessionkeeper/sessionkeeper/authn"
	"github.com/sessionkeeper/sessionkeeper/internal/breaker"
	"github.com/sessionkeeper/sessionkeeper/internal/logctx"
	"github.com/sessionkeeper/sessionkeeper/tokenstore"
)

// ErrClosed is returned by operations on a closed Coordinator.
var ErrClosed = errors.New("sessionkeeper: coordinator is closed")

// ErrNoSession indicates the coordinator holds no tokens at all, not even
// stale ones. The application must sign in before acquiring handles.
var ErrNoSession = errors.New("sessionkeeper: no session available")

// refreshKey is the single-flight key for the one refresh slot. Every caller
// that needs a refresh while one is pending awaits the same outcome.
const refreshKey = "refresh"

// Coordinator owns the cached session, the single refresh slot, the circuit
// breaker, and the observer registry. Construct with New, dispose with Close.
// All methods are safe for concurrent use.
type Coordinator struct {
	cfg      Config
	provider authn.Provider
	store    tokenstore.Store
	log      *slog.Logger
	now      func() time.Time

	// mu guards the cached session and the raw token fallback. store
	// operations under mu never suspend: updates are whole-value swaps,
	// so no reader can observe fields from two different sessions.
	mu         sync.RWMutex
	cached     *CachedSession
	rawAccess  string
	rawRefresh string
	rawUserID  string

	flight    singleflight.Group
	breaker   *breaker.Breaker
	observers *observerRegistry

	// ctx outlives any single caller: a refresh keeps running after the
	// caller that triggered it gave up, so its result still lands in the
	// cache for the next caller.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New constructs a Coordinator. The provider is required; persistence,
// logging, and the clock are configured via options. If a token store is
// attached, the last persisted session is loaded immediately so that a
// restart resumes where the previous process left off.
func New(cfg Config, provider authn.Provider, opts ...Option) (*Coordinator, error) {
	if provider == nil {
		return nil, errors.New("sessionkeeper: provider is required")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:      cfg,
		provider: provider,
		log:      slog.Default(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = slog.New(logctx.Handler{Handler: c.log.Handler()})
	c.breaker = breaker.New(cfg.FailureThreshold, cfg.CooldownWindow, breaker.WithClock(c.now))
	c.observers = newObserverRegistry(c.log)

	if c.store != nil {
		c.loadPersisted(ctx)
	}

	if cfg.ProactiveInterval > 0 {
		c.wg.Add(1)
		go c.proactiveLoop()
	}

	return c, nil
}

func (c *Coordinator) loadPersisted(ctx context.Context) {
	sess, err := c.store.Load(ctx)
	if err != nil {
		c.log.WarnContext(ctx, "loading persisted session failed", slog.String("error", err.Error()))
		return
	}
	if sess == nil {
		return
	}

	normalized := normalizeSession(*sess)
	c.mu.Lock()
	c.cached = &CachedSession{Session: normalized, CapturedAt: c.now()}
	c.rawAccess = normalized.AccessToken
	c.rawRefresh = normalized.RefreshToken
	c.rawUserID = normalized.UserID
	c.mu.Unlock()

	c.log.DebugContext(ctx, "persisted session loaded",
		slog.String("user_id", normalized.UserID),
		slog.Time("expires_at", normalized.ExpiresAt),
	)
}

// Close stops the proactive timer, cancels any in-flight refresh, and
// releases all subscribers. It does not close an attached token store.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	c.observers.close()
	return nil
}

// Acquire returns a handle bound to the best available session, bounded by
// the configured AcquireTimeout.
//
// The fast path — a cached session with more than ValidityMargin of lifetime
// left — returns immediately with zero network activity. Otherwise Acquire
// waits on the (shared) refresh up to the bound and then degrades to the last
// known raw tokens rather than blocking. A refresh failure is not an error
// here: the only error conditions are a closed coordinator, a context
// cancelled with nothing cached, or no tokens ever having been seen.
func (c *Coordinator) Acquire(ctx context.Context) (Handle, error) {
	return c.acquire(ctx, c.cfg.AcquireTimeout)
}

// AcquireQuick is Acquire with the tighter QuickAcquireTimeout bound, for
// latency-sensitive paths that prefer a possibly stale token over waiting.
func (c *Coordinator) AcquireQuick(ctx context.Context) (Handle, error) {
	return c.acquire(ctx, c.cfg.QuickAcquireTimeout)
}

func (c *Coordinator) acquire(ctx context.Context, bound time.Duration) (Handle, error) {
	if c.closed.Load() {
		return Handle{}, ErrClosed
	}

	if sess, ok := c.freshFromCache(); ok {
		return Handle{session: sess}, nil
	}

	if c.breaker.IsOpen() {
		return c.degradedHandle()
	}

	ch := c.startRefresh("acquire")
	timer := time.NewTimer(bound)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return c.degradedHandle()
		}
		return Handle{session: res.Val.(authn.Session)}, nil
	case <-timer.C:
		// The refresh keeps running; its result benefits the next
		// caller. This caller proceeds degraded.
		h, err := c.degradedHandle()
		if err == nil {
			c.log.DebugContext(
				logctx.WithSessionData(ctx, &logctx.SessionData{UserID: h.UserID(), Degraded: true}),
				"refresh still pending past the acquire bound, serving stale tokens",
			)
		}
		return h, err
	case <-ctx.Done():
		if h, err := c.degradedHandle(); err == nil {
			return h, nil
		}
		return Handle{}, ctx.Err()
	}
}

// freshFromCache is the zero-network fast path. It never suspends.
func (c *Coordinator) freshFromCache() (authn.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cached == nil {
		return authn.Session{}, false
	}
	now := c.now()
	if c.cfg.CacheTTL > 0 && now.Sub(c.cached.CapturedAt) > c.cfg.CacheTTL {
		return authn.Session{}, false
	}
	if !c.cached.Session.Fresh(c.cfg.ValidityMargin, now) {
		return authn.Session{}, false
	}
	return c.cached.Session, true
}

func (c *Coordinator) degradedHandle() (Handle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cached != nil {
		return Handle{session: c.cached.Session, degraded: true}, nil
	}
	if c.rawAccess != "" || c.rawRefresh != "" {
		return Handle{
			session: authn.Session{
				UserID:       c.rawUserID,
				AccessToken:  c.rawAccess,
				RefreshToken: c.rawRefresh,
			},
			degraded: true,
		}, nil
	}
	return Handle{}, ErrNoSession
}

// startRefresh routes through the single-flight group: if a refresh is
// already pending, the returned channel observes that attempt's outcome; the
// slot is cleared by the group the moment the attempt settles.
func (c *Coordinator) startRefresh(trigger string) <-chan singleflight.Result {
	return c.flight.DoChan(refreshKey, func() (any, error) {
		sess, err := c.doRefresh(trigger)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})
}

// doRefresh performs one network refresh: the cheap resume path first, then
// the full refresh token exchange. It runs on the coordinator's lifecycle
// context so a timed-out caller does not cancel it.
func (c *Coordinator) doRefresh(trigger string) (authn.Session, error) {
	ctx := logctx.WithRefreshData(c.ctx, &logctx.RefreshData{
		AttemptID: uuid.NewString(),
		Trigger:   trigger,
	})

	c.mu.RLock()
	access, refresh := c.rawAccess, c.rawRefresh
	c.mu.RUnlock()

	if refresh == "" {
		// Nothing to refresh with. Not a provider failure, so the
		// breaker is not involved.
		return authn.Session{}, ErrNoSession
	}

	var sess authn.Session
	err := authn.ErrResumeUnsupported
	if access != "" {
		sess, err = c.provider.ResumeWithTokens(ctx, access, refresh)
		if err == nil && !sess.Fresh(c.cfg.ValidityMargin, c.now()) {
			// Resume succeeded but left us under the margin; only a
			// real exchange buys more lifetime.
			err = authn.ErrResumeUnsupported
		}
		if err != nil && !errors.Is(err, authn.ErrResumeUnsupported) {
			c.log.DebugContext(ctx, "resume path failed, falling back to token exchange",
				slog.String("error", err.Error()))
		}
	}
	if err != nil {
		sess, err = c.provider.ExchangeRefreshToken(ctx, refresh)
	}
	if err != nil {
		c.breaker.RecordFailure()
		c.log.WarnContext(ctx, "session refresh failed",
			slog.String("error", err.Error()),
			slog.Int("consecutive_failures", c.breaker.Failures()),
			slog.Bool("breaker_open", c.breaker.IsOpen()),
		)
		return authn.Session{}, fmt.Errorf("refresh session: %w", err)
	}

	stored := c.storeSession(ctx, sess, ReasonRefreshed, true)
	c.breaker.RecordSuccess()
	c.log.InfoContext(ctx, "session refreshed",
		slog.String("user_id", stored.UserID),
		slog.Time("expires_at", stored.ExpiresAt),
	)
	return stored, nil
}

// storeSession installs sess as the cached session and updates the raw token
// fallback. The swap is atomic with respect to readers. When persist is set
// and a token store is attached, the session is also saved (best effort).
// Returns the normalized session as stored.
func (c *Coordinator) storeSession(ctx context.Context, sess authn.Session, reason ChangeReason, persist bool) authn.Session {
	sess = normalizeSession(sess)

	var regression bool
	c.mu.Lock()
	if c.cached != nil &&
		c.cached.Session.UserID == sess.UserID &&
		!sess.ExpiresAt.IsZero() &&
		sess.ExpiresAt.Before(c.cached.Session.ExpiresAt) {
		regression = true
	}
	c.cached = &CachedSession{Session: sess, CapturedAt: c.now()}
	if sess.AccessToken != "" {
		c.rawAccess = sess.AccessToken
	}
	if sess.RefreshToken != "" {
		c.rawRefresh = sess.RefreshToken
	}
	if sess.UserID != "" {
		c.rawUserID = sess.UserID
	}
	c.mu.Unlock()

	if regression {
		c.log.WarnContext(ctx, "replacement session expires earlier than its predecessor",
			slog.Time("expires_at", sess.ExpiresAt))
	}

	if persist && c.store != nil {
		if err := c.store.Save(ctx, sess); err != nil {
			c.log.WarnContext(ctx, "persisting session failed", slog.String("error", err.Error()))
		}
	}

	c.observers.notify(SessionChange{Session: &sess, Reason: reason})
	return sess
}

// SignIn exchanges primary credentials for a brand new session and installs
// it. Unlike refresh failures, sign-in failures are the caller's to handle
// and are returned directly.
func (c *Coordinator) SignIn(ctx context.Context, cred authn.Credential) (Handle, error) {
	if c.closed.Load() {
		return Handle{}, ErrClosed
	}

	sess, err := c.provider.SignIn(ctx, cred)
	if err != nil {
		return Handle{}, fmt.Errorf("sign in: %w", err)
	}

	stored := c.storeSession(ctx, sess, ReasonSignedIn, true)
	c.breaker.RecordSuccess()
	return Handle{session: stored}, nil
}

// SignOut discards the cached session, the raw token fallback, and the
// persisted record, then notifies subscribers. The in-memory state is cleared
// even if clearing the persistent store fails.
func (c *Coordinator) SignOut(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()
	c.cached = nil
	c.rawAccess, c.rawRefresh, c.rawUserID = "", "", ""
	c.mu.Unlock()

	var err error
	if c.store != nil {
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			err = fmt.Errorf("clear persisted session: %w", clearErr)
		}
	}

	c.observers.notify(SessionChange{Reason: ReasonSignedOut})
	return err
}

// Invalidate discards only the cached session, forcing the next Acquire down
// the refresh path. The raw token fallback persists: stale tokens remain
// useful as a last-resort degraded handle. Typically called after the backend
// rejects a token the cache considered fresh.
func (c *Coordinator) Invalidate() {
	if c.closed.Load() {
		return
	}

	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()

	c.observers.notify(SessionChange{Reason: ReasonInvalidated})
}

// AdoptExternalSession installs a session rotated outside this process (for
// example, observed through a watching filestore). A nil session is treated
// as an external invalidation. The adopted session is not written back to the
// token store; it came from there.
func (c *Coordinator) AdoptExternalSession(sess *authn.Session) {
	if c.closed.Load() {
		return
	}
	if sess == nil {
		c.Invalidate()
		return
	}
	c.storeSession(c.ctx, *sess, ReasonExternal, false)
}

// CurrentAccessToken returns a synchronous snapshot of the best known access
// token, or "" when none exists. It never triggers a refresh; lower-level
// transports that cannot await Acquire use it to apply auth opportunistically.
func (c *Coordinator) CurrentAccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cached != nil {
		return c.cached.Session.AccessToken
	}
	return c.rawAccess
}

// OnSessionChange registers fn to be called on every session transition
// (sign-in, refresh, invalidation, sign-out, external adoption). Each
// subscriber is serviced independently; a slow or panicking subscriber
// affects neither the others nor the coordinator. The returned function
// unsubscribes.
func (c *Coordinator) OnSessionChange(fn func(SessionChange)) (unsubscribe func()) {
	return c.observers.subscribe(fn)
}

// proactiveLoop periodically refreshes sessions nearing expiry so that
// interactive callers rarely hit the slow path. It is advisory only: its
// failures are recorded like any refresh failure and the acquire-time bounds
// remain the authoritative safety net.
func (c *Coordinator) proactiveLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.ProactiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.proactiveCheck()
		}
	}
}

func (c *Coordinator) proactiveCheck() {
	if c.breaker.IsOpen() {
		return
	}

	c.mu.RLock()
	cached := c.cached
	refresh := c.rawRefresh
	c.mu.RUnlock()

	if refresh == "" {
		return
	}

	trigger := "proactive"
	switch {
	case cached == nil:
		// Cache was invalidated but tokens remain: try to recover a
		// usable session in the background.
		trigger = "recovery"
	case cached.Session.ExpiresAt.IsZero():
		trigger = "recovery"
	case cached.Session.ExpiresAt.Sub(c.now()) > c.cfg.ProactiveWindow:
		return
	case cached.Session.ExpiresAt.Before(c.now()):
		c.log.Info("cached session already expired, attempting background recovery")
		trigger = "recovery"
	}

	ch := c.startRefresh(trigger)
	select {
	case <-ch:
	case <-c.ctx.Done():
	}
}
