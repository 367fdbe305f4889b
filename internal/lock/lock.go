// Package lock provides a lease-based distributed lock over a shared store.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/service"
)

// Options configures lock acquisition behavior.
type Options struct {
	// LeaseTTL is how long a held lock survives without release. If the
	// holder crashes, the lease expires and another attempt may proceed.
	LeaseTTL time.Duration
	// MaxWait bounds the total time spent waiting for a contended lock.
	MaxWait time.Duration
	// RetryInterval is the sleep between acquisition attempts.
	RetryInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 45 * time.Second
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 10 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 500 * time.Millisecond
	}
}

// Manager acquires and releases lease-based locks.
type Manager struct {
	store  service.LeaseStore
	logger *slog.Logger
	opts   Options
}

// NewManager creates a lock manager over the given lease store.
func NewManager(store service.LeaseStore, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		store:  store,
		logger: slog.Default().With("component", "lock"),
		opts:   opts,
	}
}

// Lease is a held lock. Release it when done, usually in a defer.
type Lease struct {
	manager *Manager
	Key     string
	Owner   string
}

// Acquire takes the lock for key, retrying within the bounded wait window.
// A contended lock returns ErrLockContended; callers treat that as "someone
// else is already doing this work", not as a failure.
func (m *Manager) Acquire(ctx context.Context, key string) (*Lease, error) {
	owner := uuid.NewString()
	deadline := time.Now().Add(m.opts.MaxWait)

	for {
		acquired, err := m.store.AcquireLease(ctx, key, owner, m.opts.LeaseTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if acquired {
			m.logger.Debug("lock acquired", "key", key, "owner", owner)
			return &Lease{manager: m, Key: key, Owner: owner}, nil
		}

		if time.Now().Add(m.opts.RetryInterval).After(deadline) {
			return nil, fmt.Errorf("lock %s: %w", key, common.ErrLockContended)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.opts.RetryInterval):
		}
	}
}

// TryAcquire attempts a single non-blocking acquisition.
func (m *Manager) TryAcquire(ctx context.Context, key string) (*Lease, error) {
	owner := uuid.NewString()

	acquired, err := m.store.AcquireLease(ctx, key, owner, m.opts.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !acquired {
		return nil, fmt.Errorf("lock %s: %w", key, common.ErrLockContended)
	}
	return &Lease{manager: m, Key: key, Owner: owner}, nil
}

// Release gives the lock back. Releasing after the lease expired and was
// taken over by someone else is a harmless no-op.
func (l *Lease) Release(ctx context.Context) {
	if err := l.manager.store.ReleaseLease(ctx, l.Key, l.Owner); err != nil {
		l.manager.logger.Warn("failed to release lock", "key", l.Key, "error", err)
	}
}
