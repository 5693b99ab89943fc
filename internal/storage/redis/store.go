// Package redis implements a LimiterStore backed by Redis so rate
// limit counters are shared across explorer replicas.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentscan/internal/storage"
)

const keyPrefix = "agentscan:ratelimit:"

// Client is the subset of Redis commands the store needs. It is
// satisfied by ClientAdapter and easy to fake in tests.
type Client interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
	Del(ctx context.Context, keys ...string) error
	Close() error
}

// allowScript implements a sliding window counter. All timestamps are
// in milliseconds. Returns {allowed, remaining}.
const allowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cap = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local current = redis.call('ZCARD', key)
if current < cap then
	redis.call('ZADD', key, now, now .. '-' .. math.random())
	redis.call('PEXPIRE', key, window * 2)
	return {1, cap - current - 1}
end
return {0, 0}
`

// Store is a Redis-backed LimiterStore. Expired entries age out via
// key TTLs, so it needs no sweeper of its own.
type Store struct {
	client Client
}

// NewStore creates a Redis store over client.
func NewStore(client Client) *Store {
	return &Store{client: client}
}

// Allow records one request against key using a sliding window of
// size window. The window admits at most burst requests (limit when
// burst is not positive).
func (s *Store) Allow(ctx context.Context, key string, limit, burst int, window time.Duration) (storage.Decision, error) {
	ceiling := burst
	if ceiling <= 0 {
		ceiling = limit
	}
	now := time.Now()
	d := storage.Decision{ResetAt: now.Add(window)}

	result, err := s.client.Eval(ctx, allowScript, []string{keyPrefix + key},
		now.UnixMilli(),
		window.Milliseconds(),
		ceiling,
	)
	if err != nil {
		return d, fmt.Errorf("rate limit script: %w", err)
	}

	res, ok := result.([]interface{})
	if !ok || len(res) != 2 {
		return d, errors.New("rate limit script returned unexpected shape")
	}
	allowed, ok1 := res[0].(int64)
	remaining, ok2 := res[1].(int64)
	if !ok1 || !ok2 {
		return d, errors.New("rate limit script returned unexpected types")
	}

	d.Allowed = allowed == 1
	d.Remaining = int(remaining)
	return d, nil
}

// Reset clears the window for key.
func (s *Store) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key)
}

// Close closes the underlying client.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
