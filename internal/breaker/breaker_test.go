package breaker

import (
	"testing"
	"time"
)

func TestOpensAtThreshold(t *testing.T) {
	b := New(3, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	if b.IsOpen() {
		t.Fatal("breaker open below the threshold")
	}
	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("breaker closed at the threshold")
	}
	if got := b.Failures(); got != 3 {
		t.Fatalf("Failures = %d, want 3", got)
	}
}

func TestClosesAfterCooldown(t *testing.T) {
	now := time.Now()
	b := New(1, 30*time.Second, WithClock(func() time.Time { return now }))

	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("breaker should open after one failure at threshold 1")
	}

	now = now.Add(29 * time.Second)
	if !b.IsOpen() {
		t.Fatal("breaker closed before the cooldown elapsed")
	}

	now = now.Add(2 * time.Second)
	if b.IsOpen() {
		t.Fatal("breaker still open after the cooldown elapsed")
	}

	// The failure count survives the lazy close, so a single new failure
	// re-opens immediately.
	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("breaker did not re-open on a post-cooldown failure")
	}
}

func TestSuccessForceCloses(t *testing.T) {
	now := time.Now()
	b := New(2, time.Minute, WithClock(func() time.Time { return now }))

	b.RecordFailure()
	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("breaker should be open")
	}

	b.RecordSuccess()
	if b.IsOpen() {
		t.Fatal("breaker open after a recorded success")
	}
	if got := b.Failures(); got != 0 {
		t.Fatalf("Failures = %d, want 0 after success", got)
	}

	// A fresh single failure must not re-open a threshold-2 breaker.
	b.RecordFailure()
	if b.IsOpen() {
		t.Fatal("breaker re-opened below the threshold after a success reset")
	}
}

func TestFailureWhileOpenRestartsCooldown(t *testing.T) {
	now := time.Now()
	b := New(1, 30*time.Second, WithClock(func() time.Time { return now }))

	b.RecordFailure()
	now = now.Add(20 * time.Second)
	b.RecordFailure()

	// 25s after the first failure but only 5s after the second; the
	// cooldown restarted.
	now = now.Add(5 * time.Second)
	if !b.IsOpen() {
		t.Fatal("cooldown did not restart on a failure while open")
	}

	now = now.Add(26 * time.Second)
	if b.IsOpen() {
		t.Fatal("breaker still open after the restarted cooldown elapsed")
	}
}
