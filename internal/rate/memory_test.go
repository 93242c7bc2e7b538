package rate

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryLimiterWindow(t *testing.T) {
	lim := NewMemory(2, time.Minute)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		allowed, _, err := lim.Allow(ctx, "user-1", now)
		if err != nil || !allowed {
			t.Fatalf("call %d: allowed=%v err=%v", i, allowed, err)
		}
	}

	allowed, retryAfter, err := lim.Allow(ctx, "user-1", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("expected rate limited")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("retryAfter = %v", retryAfter)
	}

	allowed, _, err = lim.Allow(ctx, "user-1", now.Add(61*time.Second))
	if err != nil || !allowed {
		t.Fatalf("expected allow after window, err=%v", err)
	}
}

func TestMemoryLimiterCleansExpiredEntries(t *testing.T) {
	lim := NewMemory(1, time.Second)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 100; i++ {
		key := string(rune('a' + i%26))
		if _, _, err := lim.Allow(ctx, key, now); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}

	if _, _, err := lim.Allow(ctx, "fresh", now.Add(2*time.Second)); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	lim.mu.Lock()
	size := len(lim.entries)
	lim.mu.Unlock()
	if size != 1 {
		t.Fatalf("entries = %d after cleanup, want 1", size)
	}
}

func TestMemoryLimiterSweepsAtCapacity(t *testing.T) {
	lim := NewMemory(1, time.Minute)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < maxEntries; i++ {
		key := fmt.Sprintf("user-%d", i)
		if _, _, err := lim.Allow(ctx, key, now); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}

	// Push the periodic cleanup out of reach so only the capacity
	// bound can trigger the sweep. All windows below are expired.
	lim.mu.Lock()
	lim.lastCleanup = now.Add(2 * time.Minute)
	lim.mu.Unlock()

	if _, _, err := lim.Allow(ctx, "fresh", now.Add(61*time.Second)); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	lim.mu.Lock()
	size := len(lim.entries)
	lim.mu.Unlock()
	if size != 1 {
		t.Fatalf("entries = %d after capacity sweep, want 1", size)
	}
}
