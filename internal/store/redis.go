// Package store provides the deploy lock and run history backed by Redis.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tangyuling/deploy/internal/model"
)

// Redis provides Redis-backed lock and history methods.
type Redis struct {
	client *redis.Client
}

// New creates a new Redis store and verifies connectivity.
func New(ctx context.Context, redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// A deploy holds at most a couple of connections.
	opt.PoolSize = 2
	opt.PoolTimeout = 4 * time.Second
	opt.DialTimeout = 5 * time.Second

	r := &Redis{client: redis.NewClient(opt)}

	if err := r.Ping(ctx); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return r, nil
}

// Ping checks Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client.
// Use sparingly - prefer adding methods to Redis.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Backend is the lock and history surface shared by Redis and Noop.
type Backend interface {
	AcquireLock(ctx context.Context, project string, ttl time.Duration) (*Lease, error)
	ReleaseLock(ctx context.Context, lease *Lease) error
	RecordRun(ctx context.Context, project string, run *model.Run, limit int64) error
	RecentRuns(ctx context.Context, project string, n int64) ([]*model.Run, error)
	Close() error
}

// Open returns a Redis backend for redisURL, or a Noop backend when it is empty.
func Open(ctx context.Context, redisURL string) (Backend, error) {
	if redisURL == "" {
		return NewNoop(), nil
	}
	r, err := New(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	return r, nil
}

var (
	_ Backend = (*Redis)(nil)
	_ Backend = (*Noop)(nil)
)
