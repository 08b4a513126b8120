// Package storetest provides a conformance test suite for tokenstore.Store
// implementations. Backend packages run the suite from their own tests:
//
//	func TestStore(t *testing.T) {
//		storetest.RunStoreTests(t, func(t *testing.T) tokenstore.Store {
//			return memorystore.New()
//		})
//	}
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/sessionkeeper/sessionkeeper/authn"
	"github.com/sessionkeeper/sessionkeeper/tokenstore"
)

// StoreFactory creates a fresh, empty Store instance for testing. The factory
// is responsible for cleanup (t.Cleanup or test-scoped resources).
type StoreFactory func(t *testing.T) tokenstore.Store

// RunStoreTests runs the complete Store conformance suite against the
// provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("LoadEmptyReturnsNil", func(t *testing.T) { testLoadEmpty(t, factory) })
	t.Run("SaveThenLoadRoundTrips", func(t *testing.T) { testSaveThenLoad(t, factory) })
	t.Run("SaveReplacesWholeSession", func(t *testing.T) { testSaveReplaces(t, factory) })
	t.Run("ClearThenLoadReturnsNil", func(t *testing.T) { testClearThenLoad(t, factory) })
	t.Run("ClearEmptyIsNotAnError", func(t *testing.T) { testClearEmpty(t, factory) })
	t.Run("ZeroExpiryRoundTrips", func(t *testing.T) { testZeroExpiry(t, factory) })
	t.Run("ClosedStoreRejectsOperations", func(t *testing.T) { testClosed(t, factory) })
}

func testLoadEmpty(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()

	sess, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load on empty store failed: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected nil session from empty store, got %+v", sess)
	}
}

func testSaveThenLoad(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()

	ctx := context.Background()
	want := authn.Session{
		UserID:       "user-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
	}

	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a session, got nil")
	}
	if got.UserID != want.UserID {
		t.Errorf("UserID = %q, want %q", got.UserID, want.UserID)
	}
	if got.AccessToken != want.AccessToken {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken, want.AccessToken)
	}
	if got.RefreshToken != want.RefreshToken {
		t.Errorf("RefreshToken = %q, want %q", got.RefreshToken, want.RefreshToken)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}
}

func testSaveReplaces(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()

	ctx := context.Background()
	first := authn.Session{
		UserID:       "user-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
	}
	second := authn.Session{
		UserID:       "user-1",
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresAt:    time.Now().Add(2 * time.Hour).Truncate(time.Second),
	}

	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if err := s.Save(ctx, second); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a session, got nil")
	}
	// No field mixing between records: every field must come from the
	// second save.
	if got.AccessToken != second.AccessToken || got.RefreshToken != second.RefreshToken || !got.ExpiresAt.Equal(second.ExpiresAt) {
		t.Fatalf("load after overwrite = %+v, want %+v", got, second)
	}
}

func testClearThenLoad(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()

	ctx := context.Background()
	sess := authn.Session{UserID: "u", AccessToken: "a", RefreshToken: "r"}

	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after Clear, got %+v", got)
	}
}

func testClearEmpty(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()

	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("Clear on empty store failed: %v", err)
	}
}

func testZeroExpiry(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()

	ctx := context.Background()
	sess := authn.Session{UserID: "u", AccessToken: "a", RefreshToken: "r"}

	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a session, got nil")
	}
	if !got.ExpiresAt.IsZero() {
		t.Fatalf("expected zero ExpiresAt, got %v", got.ExpiresAt)
	}
}

func testClosed(t *testing.T, factory StoreFactory) {
	s := factory(t)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx := context.Background()
	if _, err := s.Load(ctx); err == nil {
		t.Error("Load on closed store succeeded, want error")
	}
	if err := s.Save(ctx, authn.Session{AccessToken: "a"}); err == nil {
		t.Error("Save on closed store succeeded, want error")
	}
	if err := s.Clear(ctx); err == nil {
		t.Error("Clear on closed store succeeded, want error")
	}
}
