package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// lockPrefix is the Redis key prefix for deploy locks.
const lockPrefix = "deploy:lock:"

// ErrNotHeld is returned when releasing a lock that has expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Lease is a held deploy lock.
type Lease struct {
	Key   string
	Token string
}

// LockKey returns the Redis key guarding deploys of project.
func LockKey(project string) string {
	return lockPrefix + project
}

// AcquireLock tries to take the deploy lock for project.
// It returns (nil, nil) when another deploy holds it.
func (r *Redis) AcquireLock(ctx context.Context, project string, ttl time.Duration) (*Lease, error) {
	lease := &Lease{
		Key:   LockKey(project),
		Token: uuid.NewString(),
	}

	ok, err := r.client.SetNX(ctx, lease.Key, lease.Token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return lease, nil
}

// ReleaseLock drops the lease if it is still ours.
func (r *Redis) ReleaseLock(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	n, err := releaseScript.Run(ctx, r.client, []string{lease.Key}, lease.Token).Int()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
