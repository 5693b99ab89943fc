// Package storage defines pluggable backends for rate limit accounting.
// The in-memory backend suits a single explorer instance; the Redis
// backend shares counters across replicas.
package storage

import (
	"context"
	"time"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool
	// Remaining is the number of requests left in the current window.
	Remaining int
	// ResetAt is when the window replenishes.
	ResetAt time.Time
}

// LimiterStore tracks request counts per key.
type LimiterStore interface {
	// Allow records one request against key and reports whether it fits
	// within limit requests per window. Burst is the short-term ceiling;
	// stores treat a non-positive burst as equal to limit.
	Allow(ctx context.Context, key string, limit, burst int, window time.Duration) (Decision, error)

	// Reset clears the counter for key.
	Reset(ctx context.Context, key string) error

	// Close releases store resources.
	Close() error
}

// LimiterStoreConfig holds tuning knobs shared by store implementations.
type LimiterStoreConfig struct {
	// CleanupInterval is how often expired entries are swept.
	CleanupInterval time.Duration
	// MaxEntries bounds the number of tracked keys (0 = unlimited).
	MaxEntries int
}

// DefaultConfig returns the store configuration used when none is given.
func DefaultConfig() *LimiterStoreConfig {
	return &LimiterStoreConfig{
		CleanupInterval: 5 * time.Minute,
		MaxEntries:      10000,
	}
}
