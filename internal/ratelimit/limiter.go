// Package ratelimit implements the sliding-window attempt limiter that
// gates decrypt access.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Limiter bounds attempts per key within a trailing window. A key is the
// actor/session pair being gated.
type Limiter interface {
	// Allow prunes attempts older than the window, then either records a
	// new attempt and returns true, or returns false without recording
	// when the key is already at its limit.
	Allow(ctx context.Context, key string) (bool, error)
	// Remaining reports how many attempts the key has left without
	// recording anything.
	Remaining(ctx context.Context, key string) (int, error)
}

// Config bounds the window.
type Config struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Window      time.Duration `yaml:"window" mapstructure:"window"`
}

// Key builds the limiter key for an actor/session pair.
func Key(actorID int64, sessionID string) string {
	return fmt.Sprintf("%d:%s", actorID, sessionID)
}
