// Package memory implements an in-process token bucket limiter store.
package memory

import (
	"context"
	"sync"
	"time"

	"agentscan/internal/storage"
)

// staleAfter is how long an idle bucket survives before the sweeper
// reclaims it. A stale bucket refills fully on next use anyway.
const staleAfter = time.Hour

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// Store is an in-memory LimiterStore. Each key owns a token bucket
// guarded by its own mutex so hot keys do not serialize on the map lock.
type Store struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  *storage.LimiterStoreConfig
	done    chan struct{}
}

// NewStore creates a memory store. A nil config selects defaults.
func NewStore(config *storage.LimiterStoreConfig) *Store {
	if config == nil {
		config = storage.DefaultConfig()
	}

	s := &Store{
		buckets: make(map[string]*bucket),
		config:  config,
		done:    make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go s.sweep()
	}

	return s
}

// Allow takes one token from the bucket for key, refilling first
// according to limit per window.
func (s *Store) Allow(ctx context.Context, key string, limit, burst int, window time.Duration) (storage.Decision, error) {
	if burst <= 0 {
		burst = limit
	}
	now := time.Now()

	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		if s.config.MaxEntries > 0 && len(s.buckets) >= s.config.MaxEntries {
			s.evictOldestLocked()
		}
		b = &bucket{tokens: burst, lastRefill: now}
		s.buckets[key] = b
	}
	s.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill)
	if elapsed >= window {
		b.tokens = burst
		b.lastRefill = now
	} else if refill := int(float64(limit) * elapsed.Seconds() / window.Seconds()); refill > 0 {
		b.tokens = min(b.tokens+refill, burst)
		b.lastRefill = now
	}

	d := storage.Decision{Remaining: b.tokens, ResetAt: now.Add(window)}
	if b.tokens > 0 {
		b.tokens--
		d.Allowed = true
		d.Remaining = b.tokens
	}
	return d, nil
}

// Reset drops the bucket for key.
func (s *Store) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.buckets, key)
	s.mu.Unlock()
	return nil
}

// Close stops the sweeper. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

func (s *Store) sweep() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.removeStale()
		}
	}
}

func (s *Store) removeStale() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, b := range s.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastRefill) > staleAfter
		b.mu.Unlock()
		if idle {
			delete(s.buckets, key)
		}
	}
}

// evictOldestLocked removes the least recently refilled bucket.
// Caller holds s.mu.
func (s *Store) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time

	for key, b := range s.buckets {
		b.mu.Lock()
		last := b.lastRefill
		b.mu.Unlock()
		if oldestKey == "" || last.Before(oldestTime) {
			oldestKey = key
			oldestTime = last
		}
	}

	if oldestKey != "" {
		delete(s.buckets, oldestKey)
	}
}
