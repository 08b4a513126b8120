package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/sessionkeeper/sessionkeeper/authn"
	"github.com/sessionkeeper/sessionkeeper/tokenstore"
	"github.com/sessionkeeper/sessionkeeper/tokenstore/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) tokenstore.Store {
		return New()
	})
}

func TestLoadReturnsCopy(t *testing.T) {
	s := New()
	defer s.Close()

	ctx := context.Background()
	orig := authn.Session{
		UserID:       "u",
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := s.Save(ctx, orig); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	first, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	first.AccessToken = "mutated"

	second, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if second.AccessToken != "a" {
		t.Fatalf("mutating a loaded session leaked into the store: %q", second.AccessToken)
	}
}
