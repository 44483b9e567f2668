package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the in-process sliding-window limiter. Attempt lists
// live in a mutex-guarded map keyed by actor:session; the
// prune-check-record sequence holds the lock so concurrent callers on the
// same key cannot race past the limit. State is intentionally not durable:
// a restart resets attempt counts.
type MemoryLimiter struct {
	config   Config
	attempts map[string][]time.Time
	mu       sync.Mutex
	now      func() time.Time
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(config Config) *MemoryLimiter {
	return &MemoryLimiter{
		config:   config,
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(key, now)

	if len(recent) >= l.config.MaxAttempts {
		// Rejected calls never consume a slot.
		l.attempts[key] = recent
		return false, nil
	}

	l.attempts[key] = append(recent, now)
	return true, nil
}

// Remaining implements Limiter. It reuses the pruning logic without
// recording an attempt.
func (l *MemoryLimiter) Remaining(ctx context.Context, key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(key, l.now())
	l.attempts[key] = recent

	remaining := l.config.MaxAttempts - len(recent)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// prune drops timestamps older than now-window. Caller holds the lock.
func (l *MemoryLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.config.Window)
	recent := l.attempts[key][:0]
	for _, t := range l.attempts[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}

// CleanupStale removes keys whose every attempt has aged out, so
// long-lived processes do not accumulate dead entries.
func (l *MemoryLimiter) CleanupStale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key := range l.attempts {
		recent := l.prune(key, now)
		if len(recent) == 0 {
			delete(l.attempts, key)
		} else {
			l.attempts[key] = recent
		}
	}
}

// StartCleanupRoutine starts a background routine that periodically evicts
// stale keys until ctx is cancelled.
func (l *MemoryLimiter) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.CleanupStale()
			}
		}
	}()
}
