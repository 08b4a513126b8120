// Package memorystore provides an in-memory implementation of the
// tokenstore.Store interface. It is the default backend for tests and for
// applications that do not want sessions to survive a restart.
package memorystore

import (
	"context"
	"sync"

	"github.com/sessionkeeper/sessionkeeper/authn"
	"github.com/sessionkeeper/sessionkeeper/tokenstore"
)

// Store implements tokenstore.Store with a single mutex-guarded record.
type Store struct {
	mu     sync.RWMutex
	sess   *authn.Session
	closed bool
}

var _ tokenstore.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{}
}

func (s *Store) Load(ctx context.Context) (*authn.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, tokenstore.ErrClosed
	}
	if s.sess == nil {
		return nil, nil
	}
	cp := *s.sess
	return &cp, nil
}

func (s *Store) Save(ctx context.Context, sess authn.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return tokenstore.ErrClosed
	}
	s.sess = &sess
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return tokenstore.ErrClosed
	}
	s.sess = nil
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.sess = nil
	return nil
}
