// Package redisstore provides a Redis-backed implementation of the
// tokenstore.Store interface. It stores the session as one JSON value under a
// prefixed key, optionally bounded by a TTL so abandoned sessions age out of
// Redis on their own.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sessionkeeper/sessionkeeper/authn"
	"github.com/sessionkeeper/sessionkeeper/tokenstore"
)

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance. Required. The store does not
	// own the client; closing the store does not close it.
	Client *redis.Client

	// KeyPrefix is prepended to the session key.
	// Default: "sessionkeeper:".
	KeyPrefix string

	// TTL bounds how long a saved session lives in Redis. Zero means no
	// expiry.
	TTL time.Duration
}

// storedSession is the structure stored in Redis.
type storedSession struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    int64     `json:"expires_at,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// Store implements tokenstore.Store using Redis.
type Store struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu     sync.Mutex
	closed bool
}

var _ tokenstore.Store = (*Store)(nil)

// New creates a Redis-backed store.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, errors.New("redisstore: redis client is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "sessionkeeper:"
	}

	return &Store{
		client: cfg.Client,
		key:    prefix + "session",
		ttl:    cfg.TTL,
	}, nil
}

func (s *Store) Load(ctx context.Context) (*authn.Session, error) {
	if s.isClosed() {
		return nil, tokenstore.ErrClosed
	}

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get session: %w", err)
	}

	var rec storedSession
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("redisstore: decode session: %w", err)
	}

	sess := &authn.Session{
		UserID:       rec.UserID,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
	}
	if rec.ExpiresAt > 0 {
		sess.ExpiresAt = time.Unix(rec.ExpiresAt, 0)
	}
	return sess, nil
}

func (s *Store) Save(ctx context.Context, sess authn.Session) error {
	if s.isClosed() {
		return tokenstore.ErrClosed
	}

	rec := storedSession{
		UserID:       sess.UserID,
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		SavedAt:      time.Now(),
	}
	if !sess.ExpiresAt.IsZero() {
		rec.ExpiresAt = sess.ExpiresAt.Unix()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redisstore: encode session: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: set session: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if s.isClosed() {
		return tokenstore.ErrClosed
	}

	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redisstore: delete session: %w", err)
	}
	return nil
}

// Close marks the store closed. The underlying Redis client is not closed;
// it belongs to the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
