package store

import (
	"context"
	"time"

	"github.com/tangyuling/deploy/internal/model"
)

// Noop implements the lock and history methods without a backend.
// Locks always succeed and history is discarded.
type Noop struct{}

// NewNoop returns a store that keeps nothing.
func NewNoop() *Noop {
	return &Noop{}
}

// AcquireLock always grants an in-process lease.
func (n *Noop) AcquireLock(ctx context.Context, project string, ttl time.Duration) (*Lease, error) {
	return &Lease{Key: LockKey(project)}, nil
}

// ReleaseLock is a no-op.
func (n *Noop) ReleaseLock(ctx context.Context, lease *Lease) error { return nil }

// RecordRun is a no-op.
func (n *Noop) RecordRun(ctx context.Context, project string, run *model.Run, limit int64) error {
	return nil
}

// RecentRuns always returns nothing.
func (n *Noop) RecentRuns(ctx context.Context, project string, limit int64) ([]*model.Run, error) {
	return nil, nil
}

// Close is a no-op.
func (n *Noop) Close() error { return nil }
