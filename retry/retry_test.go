package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := p.Delay(i); got != w {
			t.Fatalf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestDelayJitterStaysInBand(t *testing.T) {
	p := Policy{
		BaseDelay:  time.Second,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}

	lo := 750 * time.Millisecond
	hi := 1250 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := p.Delay(0)
		if got < lo || got > hi {
			t.Fatalf("jittered delay %v outside [%v, %v]", got, lo, hi)
		}
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p := Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}

	attempts := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}

	last := errors.New("still broken")
	attempts := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		attempts++
		return last
	})
	if !errors.Is(err, last) {
		t.Fatalf("Do error = %v, want the last attempt's error", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestDoStopsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}

	fatal := errors.New("credentials rejected")
	attempts := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		attempts++
		return Stop(fatal)
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("Do error = %v, want the wrapped error", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 after Stop", attempts)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1.0}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, p, func(ctx context.Context) error {
		attempts++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (cancelled during backoff)", attempts)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("Do did not return promptly on cancellation")
	}
}

func TestStopNil(t *testing.T) {
	if Stop(nil) != nil {
		t.Fatal("Stop(nil) must be nil")
	}
}
