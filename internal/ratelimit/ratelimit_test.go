package ratelimit

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestInMemoryRateLimiter_Allow(t *testing.T) {
	rl := NewInMemoryRateLimiter()
	ctx := context.Background()

	allowed, remaining, _, err := rl.Allow(ctx, "user1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("expected allowed to be true")
	}
	if remaining != 2 {
		t.Errorf("expected remaining 2, got %d", remaining)
	}

	rl.Allow(ctx, "user1", 3)
	rl.Allow(ctx, "user1", 3)

	allowed, remaining, _, err = rl.Allow(ctx, "user1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("expected allowed to be false after limit exceeded")
	}
	if remaining != 0 {
		t.Errorf("expected remaining 0, got %d", remaining)
	}
}

func TestInMemoryRateLimiter_DifferentUsers(t *testing.T) {
	rl := NewInMemoryRateLimiter()
	ctx := context.Background()

	rl.Allow(ctx, "user1", 1)

	if allowed, _, _, _ := rl.Allow(ctx, "user1", 1); allowed {
		t.Error("user1 should be rate limited")
	}
	if allowed, _, _, _ := rl.Allow(ctx, "user2", 1); !allowed {
		t.Error("user2 should not be rate limited")
	}
}

func TestInMemoryRateLimiter_WindowResets(t *testing.T) {
	rl := NewInMemoryRateLimiter()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	_, _, resetAt, _ := rl.Allow(ctx, "user1", 1)
	if !resetAt.Equal(now.Add(time.Minute)) {
		t.Errorf("resetAt = %v, want %v", resetAt, now.Add(time.Minute))
	}

	if allowed, _, _, _ := rl.Allow(ctx, "user1", 1); allowed {
		t.Fatal("second request in the window should be denied")
	}

	now = now.Add(61 * time.Second)
	if allowed, _, _, _ := rl.Allow(ctx, "user1", 1); !allowed {
		t.Error("request after the window should be allowed")
	}
}

func TestInMemoryRateLimiter_Sweep(t *testing.T) {
	rl := NewInMemoryRateLimiter()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	rl.Allow(ctx, "user1", 5)
	rl.Allow(ctx, "user2", 5)

	if removed := rl.Sweep(); removed != 0 {
		t.Errorf("Sweep() inside the window removed %d", removed)
	}

	now = now.Add(2 * time.Minute)
	if removed := rl.Sweep(); removed != 2 {
		t.Errorf("Sweep() removed %d, want 2", removed)
	}
}

func TestInMemoryRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewInMemoryRateLimiter()
	ctx := context.Background()
	limit := 100

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				rl.Allow(ctx, "user1", limit)
			}
		}()
	}
	wg.Wait()

	if allowed, _, _, _ := rl.Allow(ctx, "user1", limit); allowed {
		t.Error("should be rate limited after concurrent access")
	}
}

func TestRedisRateLimiter_Allow(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping Redis rate limiter tests")
	}

	rl, err := NewRedisRateLimiter(redisURL)
	if err != nil {
		t.Fatalf("failed to create redis rate limiter: %v", err)
	}
	defer rl.Close()

	ctx := context.Background()
	userID := "test-" + uuid.NewString()
	defer rl.Client().Del(ctx, keyPrefix+userID)

	for i := 0; i < 2; i++ {
		if allowed, _, _, err := rl.Allow(ctx, userID, 2); err != nil || !allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, allowed, err)
		}
	}

	allowed, remaining, _, err := rl.Allow(ctx, userID, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed || remaining != 0 {
		t.Errorf("third request: allowed=%v remaining=%d, want denied with 0", allowed, remaining)
	}
}
