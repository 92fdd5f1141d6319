// Package ratelimit implements a fixed-window request limiter keyed by
// client id, over a pluggable counter store (in-memory or Redis).
package ratelimit

import (
	"context"
	"time"
)

// Entry is the counter state of one key in the current window.
type Entry struct {
	Count   int64
	ResetAt time.Time
}

// Store holds per-key window counters.
type Store interface {
	// Get returns the entry for key. ok is false when the key has no live window.
	Get(ctx context.Context, key string) (entry Entry, ok bool, err error)

	// Set overwrites the entry for key.
	Set(ctx context.Context, key string, entry Entry) error

	// Increment adds one to key's counter, opening a new window of the
	// given length when none is live, and returns the new count and the
	// window's reset time.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}
