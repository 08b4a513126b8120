package sessionkeeper

import (
	"log/slog"
	"sync"

	"github.com/sessionkeeper/sessionkeeper/authn"
)

// ChangeReason names what caused a session change notification.
type ChangeReason string

const (
	// ReasonSignedIn: a fresh sign-in produced the session.
	ReasonSignedIn ChangeReason = "signed_in"
	// ReasonRefreshed: a refresh replaced the session.
	ReasonRefreshed ChangeReason = "refreshed"
	// ReasonInvalidated: the cached session was discarded; raw token
	// fallback still applies.
	ReasonInvalidated ChangeReason = "invalidated"
	// ReasonSignedOut: the user signed out; all state was cleared.
	ReasonSignedOut ChangeReason = "signed_out"
	// ReasonExternal: another process rotated the persisted session and
	// the coordinator adopted it.
	ReasonExternal ChangeReason = "external"
)

// SessionChange describes one transition of the coordinator's session state.
// Session is nil when the state was cleared rather than replaced.
type SessionChange struct {
	Session *authn.Session
	Reason  ChangeReason
}

// observerRegistry fans session changes out to subscribers. Each subscriber
// gets its own buffered queue and delivery goroutine, so a slow or panicking
// subscriber can neither delay the others nor stall the coordinator's own
// state transition. Per-subscriber delivery order matches notification order;
// when a subscriber's queue overflows, the oldest queued change is dropped in
// favor of the newest (last-value-wins semantics are what auth state
// listeners want).
type observerRegistry struct {
	log *slog.Logger

	mu     sync.Mutex
	subs   []*subscriber
	closed bool
}

type subscriber struct {
	ch       chan SessionChange
	stop     chan struct{}
	stopOnce sync.Once
}

func newObserverRegistry(log *slog.Logger) *observerRegistry {
	return &observerRegistry{log: log}
}

func (r *observerRegistry) subscribe(fn func(SessionChange)) (unsubscribe func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return func() {}
	}
	sub := &subscriber{
		ch:   make(chan SessionChange, 16),
		stop: make(chan struct{}),
	}
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	go r.pump(sub, fn)

	return func() {
		r.mu.Lock()
		for i, s := range r.subs {
			if s == sub {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		sub.stopOnce.Do(func() { close(sub.stop) })
	}
}

func (r *observerRegistry) pump(sub *subscriber, fn func(SessionChange)) {
	for {
		select {
		case <-sub.stop:
			return
		case change := <-sub.ch:
			r.invoke(fn, change)
		}
	}
}

func (r *observerRegistry) invoke(fn func(SessionChange), change SessionChange) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("session change subscriber panicked",
				slog.Any("panic", rec),
				slog.String("reason", string(change.Reason)),
			)
		}
	}()
	fn(change)
}

func (r *observerRegistry) notify(change SessionChange) {
	r.mu.Lock()
	subs := make([]*subscriber, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- change:
			continue
		default:
		}
		// Queue full: make room by discarding the oldest change, then
		// try once more. Never block the notifier.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- change:
		default:
		}
	}
}

func (r *observerRegistry) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, sub := range subs {
		sub.stopOnce.Do(func() { close(sub.stop) })
	}
}
