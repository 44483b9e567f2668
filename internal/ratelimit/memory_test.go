package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestLimiter(maxAttempts int, window time.Duration) (*MemoryLimiter, *time.Time) {
	limiter := NewMemoryLimiter(Config{MaxAttempts: maxAttempts, Window: window})
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }
	return limiter, &clock
}

// TestMemoryLimiter tests the sliding-window attempt limiter
func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("AllowsUpToLimit", func(t *testing.T) {
		limiter, _ := newTestLimiter(5, time.Hour)

		for i := 0; i < 5; i++ {
			allowed, err := limiter.Allow(ctx, "1:session")
			if err != nil {
				t.Fatalf("Allow failed: %v", err)
			}
			if !allowed {
				t.Fatalf("Attempt %d should be allowed", i+1)
			}
		}

		allowed, err := limiter.Allow(ctx, "1:session")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if allowed {
			t.Fatal("Sixth attempt should be rejected")
		}
	})

	t.Run("RejectedAttemptsDoNotConsume", func(t *testing.T) {
		limiter, clock := newTestLimiter(2, time.Hour)

		limiter.Allow(ctx, "k")
		limiter.Allow(ctx, "k")

		// Hammering the closed gate must not extend the lockout.
		for i := 0; i < 10; i++ {
			if allowed, _ := limiter.Allow(ctx, "k"); allowed {
				t.Fatal("Attempt over the limit was allowed")
			}
		}

		// Once the original two attempts age out, the gate reopens; the
		// rejected calls left no trace.
		*clock = clock.Add(time.Hour + time.Minute)
		if allowed, _ := limiter.Allow(ctx, "k"); !allowed {
			t.Fatal("Gate should reopen after the window passes")
		}
	})

	t.Run("SlidingWindow", func(t *testing.T) {
		limiter, clock := newTestLimiter(2, time.Hour)

		limiter.Allow(ctx, "k") // t0
		*clock = clock.Add(40 * time.Minute)
		limiter.Allow(ctx, "k") // t0+40m

		if allowed, _ := limiter.Allow(ctx, "k"); allowed {
			t.Fatal("Third attempt inside the window should be rejected")
		}

		// t0 ages out at t0+60m but t0+40m is still live.
		*clock = clock.Add(25 * time.Minute)
		if allowed, _ := limiter.Allow(ctx, "k"); !allowed {
			t.Fatal("One slot should free as the oldest attempt ages out")
		}
		if allowed, _ := limiter.Allow(ctx, "k"); allowed {
			t.Fatal("Window should be full again")
		}
	})

	t.Run("RemainingDoesNotConsume", func(t *testing.T) {
		limiter, _ := newTestLimiter(5, time.Hour)

		for i := 0; i < 20; i++ {
			remaining, err := limiter.Remaining(ctx, "k")
			if err != nil {
				t.Fatalf("Remaining failed: %v", err)
			}
			if remaining != 5 {
				t.Fatalf("Remaining should stay 5, got %d", remaining)
			}
		}

		limiter.Allow(ctx, "k")
		limiter.Allow(ctx, "k")

		if remaining, _ := limiter.Remaining(ctx, "k"); remaining != 3 {
			t.Errorf("Expected 3 remaining, got %d", remaining)
		}
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		limiter, _ := newTestLimiter(1, time.Hour)

		limiter.Allow(ctx, Key(1, "session-a"))
		if allowed, _ := limiter.Allow(ctx, Key(1, "session-b")); !allowed {
			t.Error("Different session must have its own budget")
		}
		if allowed, _ := limiter.Allow(ctx, Key(2, "session-a")); !allowed {
			t.Error("Different actor must have its own budget")
		}
	})

	t.Run("CleanupStaleEvictsEmptyKeys", func(t *testing.T) {
		limiter, clock := newTestLimiter(5, time.Hour)

		limiter.Allow(ctx, "old")
		*clock = clock.Add(2 * time.Hour)
		limiter.Allow(ctx, "fresh")

		limiter.CleanupStale()

		limiter.mu.Lock()
		_, oldExists := limiter.attempts["old"]
		_, freshExists := limiter.attempts["fresh"]
		limiter.mu.Unlock()

		if oldExists {
			t.Error("Fully aged-out key should be evicted")
		}
		if !freshExists {
			t.Error("Live key must survive cleanup")
		}
	})

	t.Run("ConcurrentAllowNeverOvershoots", func(t *testing.T) {
		limiter := NewMemoryLimiter(Config{MaxAttempts: 5, Window: time.Hour})

		var wg sync.WaitGroup
		var mu sync.Mutex
		allowedCount := 0

		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if allowed, _ := limiter.Allow(ctx, "shared"); allowed {
					mu.Lock()
					allowedCount++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if allowedCount != 5 {
			t.Errorf("Expected exactly 5 allowed under contention, got %d", allowedCount)
		}
	})
}

// TestKey tests limiter key construction
func TestKey(t *testing.T) {
	if got := Key(42, "abc-def"); got != "42:abc-def" {
		t.Errorf("Unexpected key format: %q", got)
	}
}
