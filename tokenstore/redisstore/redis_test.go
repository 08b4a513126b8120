package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sessionkeeper/sessionkeeper/authn"
	"github.com/sessionkeeper/sessionkeeper/tokenstore"
	"github.com/sessionkeeper/sessionkeeper/tokenstore/storetest"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   3, // separate DB for token store tests
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestStoreConformance(t *testing.T) {
	client := newTestClient(t)

	storetest.RunStoreTests(t, func(t *testing.T) tokenstore.Store {
		s, err := New(Config{
			Client:    client,
			KeyPrefix: "sessionkeeper-test:" + t.Name() + ":",
		})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		return s
	})
}

func TestSaveHonorsTTL(t *testing.T) {
	client := newTestClient(t)

	s, err := New(Config{
		Client:    client,
		KeyPrefix: "sessionkeeper-ttl-test:",
		TTL:       time.Hour,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Save(ctx, authn.Session{UserID: "u", AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	ttl, err := client.TTL(ctx, "sessionkeeper-ttl-test:session").Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Fatalf("TTL = %v, want within (0, 1h]", ttl)
	}
}
