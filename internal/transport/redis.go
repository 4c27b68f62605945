package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultDemoCounterKey = "flowrunner:demo_requests"

// RedisDemoCounter shares the demo quota between server instances through a
// single Redis counter.
type RedisDemoCounter struct {
	client *redis.Client
	key    string
}

// NewRedisDemoCounter connects to the Redis server at redisURL
// (redis://[:password@]host:port/db) and verifies the connection.
func NewRedisDemoCounter(ctx context.Context, redisURL, key string) (*RedisDemoCounter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if key == "" {
		key = DefaultDemoCounterKey
	}
	return &RedisDemoCounter{client: client, key: key}, nil
}

func (c *RedisDemoCounter) Count(ctx context.Context) (int, error) {
	count, err := c.client.Get(ctx, c.key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read demo usage: %w", err)
	}
	return count, nil
}

// Reserve increments first and gives the unit back when the new value is over
// limit.
func (c *RedisDemoCounter) Reserve(ctx context.Context, limit int) (bool, error) {
	count, err := c.client.Incr(ctx, c.key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve demo usage: %w", err)
	}
	if count <= int64(limit) {
		return true, nil
	}
	if err := c.client.Decr(ctx, c.key).Err(); err != nil {
		return false, fmt.Errorf("failed to return demo usage: %w", err)
	}
	return false, nil
}

func (c *RedisDemoCounter) Release(ctx context.Context) error {
	if err := c.client.Decr(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("failed to release demo usage: %w", err)
	}
	return nil
}

func (c *RedisDemoCounter) Close() error {
	return c.client.Close()
}
