package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the connection Dial establishes.
type Options struct {
	// Addrs lists server addresses. More than one selects cluster mode.
	Addrs    []string
	Password string
	DB       int
	// DialTimeout bounds the initial ping (default 5s).
	DialTimeout time.Duration
}

// Dial connects to Redis and verifies the connection with a ping.
func Dial(ctx context.Context, opts Options) (*ClientAdapter, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    opts.Addrs,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &ClientAdapter{client: client}, nil
}

// ClientAdapter bridges a go-redis client to the Client interface.
type ClientAdapter struct {
	client redis.UniversalClient
}

// NewClientAdapter wraps an already connected go-redis client.
func NewClientAdapter(client redis.UniversalClient) *ClientAdapter {
	return &ClientAdapter{client: client}
}

func (c *ClientAdapter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return c.client.Eval(ctx, script, keys, args...).Result()
}

func (c *ClientAdapter) Del(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

func (c *ClientAdapter) Close() error {
	return c.client.Close()
}
