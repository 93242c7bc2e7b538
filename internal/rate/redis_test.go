package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLimiterWindow(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	lim := NewRedisLimiter(client, 2, 500*time.Millisecond, "test:")
	ctx := context.Background()

	allowed, _, err := lim.Allow(ctx, "user-1", time.Now())
	if err != nil || !allowed {
		t.Fatalf("expected allow on first call, err=%v", err)
	}

	allowed, _, err = lim.Allow(ctx, "user-1", time.Now())
	if err != nil || !allowed {
		t.Fatalf("expected allow on second call, err=%v", err)
	}

	allowed, retryAfter, err := lim.Allow(ctx, "user-1", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("expected rate limited")
	}
	if retryAfter <= 0 {
		t.Fatal("expected retryAfter > 0")
	}

	s.FastForward(600 * time.Millisecond)
	allowed, _, err = lim.Allow(ctx, "user-1", time.Now())
	if err != nil || !allowed {
		t.Fatalf("expected allow after window, err=%v", err)
	}
}

func TestRedisLimiterKeysAreIndependent(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	lim := NewRedisLimiter(client, 1, time.Second, "")
	ctx := context.Background()

	if allowed, _, _ := lim.Allow(ctx, "user-a", time.Now()); !allowed {
		t.Fatal("user-a first call blocked")
	}
	if allowed, _, _ := lim.Allow(ctx, "user-a", time.Now()); allowed {
		t.Fatal("user-a second call allowed")
	}
	if allowed, _, _ := lim.Allow(ctx, "user-b", time.Now()); !allowed {
		t.Fatal("user-b blocked by user-a's window")
	}
}
