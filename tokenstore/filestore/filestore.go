// Package filestore provides a JSON-file-backed implementation of the
// tokenstore.Store interface. Writes are atomic (write to a temp file in the
// same directory, then rename) so a crash mid-save never leaves a corrupt
// record behind.
//
// When watching is enabled, the store uses fsnotify to detect rewrites of the
// session file by another process and reports them through the configured
// callback. This supports deployments where several processes share one
// persisted session and any of them may rotate the tokens.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sessionkeeper/sessionkeeper/authn"
	"github.com/sessionkeeper/sessionkeeper/tokenstore"
)

// Config contains configuration options for the file store.
type Config struct {
	// Path is the location of the session file. Required. The parent
	// directory must exist.
	Path string

	// Watch enables fsnotify-based detection of external rewrites.
	Watch bool

	// OnExternalChange is invoked with the newly loaded session (nil when
	// the file was removed or emptied) whenever a change not caused by
	// this store is observed. Only used when Watch is true.
	OnExternalChange func(*authn.Session)
}

// record is the on-disk representation of a session.
type record struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    int64     `json:"expires_at,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// Store implements tokenstore.Store on top of a single JSON file.
type Store struct {
	path     string
	onChange func(*authn.Session)

	mu        sync.Mutex
	closed    bool
	lastSaved string // access token of the most recent local Save, to ignore self-triggered events

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ tokenstore.Store = (*Store)(nil)

// New creates a file store. If cfg.Watch is set, a watcher goroutine runs
// until Close.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("filestore: path is required")
	}

	s := &Store{
		path:     cfg.Path,
		onChange: cfg.OnExternalChange,
		done:     make(chan struct{}),
	}

	if cfg.Watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("filestore: create watcher: %w", err)
		}
		// Watch the directory rather than the file: atomic renames swap
		// the inode out from under a file-level watch.
		if err := watcher.Add(filepath.Dir(cfg.Path)); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("filestore: watch %s: %w", filepath.Dir(cfg.Path), err)
		}
		s.watcher = watcher
		s.wg.Add(1)
		go s.watchLoop()
	}

	return s, nil
}

func (s *Store) Load(ctx context.Context) (*authn.Session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, tokenstore.ErrClosed
	}
	s.mu.Unlock()

	return s.readFile()
}

func (s *Store) readFile() (*authn.Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", s.path, err)
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
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return tokenstore.ErrClosed
	}

	rec := record{
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
		return fmt.Errorf("filestore: encode session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("filestore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("filestore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filestore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filestore: rename into place: %w", err)
	}

	s.lastSaved = sess.AccessToken
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return tokenstore.ErrClosed
	}

	s.lastSaved = ""
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filestore: remove %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Store) watchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			s.handleFileEvent()
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal: the store still works, it
			// just loses external-change detection until reopened.
		}
	}
}

func (s *Store) handleFileEvent() {
	sess, err := s.readFile()
	if err != nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	own := sess != nil && sess.AccessToken == s.lastSaved
	if sess == nil && s.lastSaved == "" {
		// Our own Clear, or still empty.
		own = true
	}
	cb := s.onChange
	s.mu.Unlock()

	if own || cb == nil {
		return
	}
	cb(sess)
}
