// Package ratelimit implements a token bucket shared across processes
// through an atomic key-value store.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/service"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Options configures a token bucket.
type Options struct {
	// Capacity is the burst size and the refill rate in tokens per second.
	Capacity int64
	// MaxAttempts bounds how many acquire rounds run before giving up.
	MaxAttempts int
	// InitialDelay is the first backoff sleep when no token is available.
	InitialDelay time.Duration
	// MaxDelay caps the backoff sleep.
	MaxDelay time.Duration
	// Multiplier grows the backoff between rounds.
	Multiplier float64
}

func (o *Options) applyDefaults() {
	if o.Capacity <= 0 {
		o.Capacity = 10
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 100 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 2 * time.Second
	}
	if o.Multiplier <= 0 {
		o.Multiplier = 2.0
	}
}

// Bucket is a token bucket whose state lives in a shared atomic store, so
// every worker process draws from the same budget. The refill is recomputed
// lazily from the stored timestamp on each acquire; there is no background
// timer to keep alive.
type Bucket struct {
	store  service.KVStore
	clock  Clock
	logger *slog.Logger
	key    string
	opts   Options
}

// NewBucket creates a token bucket stored under the given key.
func NewBucket(store service.KVStore, key string, opts Options) *Bucket {
	opts.applyDefaults()
	return &Bucket{
		store:  store,
		clock:  systemClock{},
		logger: slog.Default().With("component", "ratelimit"),
		key:    key,
		opts:   opts,
	}
}

// WithClock substitutes the clock, for tests.
func (b *Bucket) WithClock(clock Clock) *Bucket {
	b.clock = clock
	return b
}

// Acquire takes one token, waiting with bounded exponential backoff when the
// bucket is empty. Exhausting the attempts returns ErrRateLimitExceeded.
func (b *Bucket) Acquire(ctx context.Context) error {
	delay := b.opts.InitialDelay

	for attempt := 1; attempt <= b.opts.MaxAttempts; attempt++ {
		ok, err := b.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if attempt == b.opts.MaxAttempts {
			break
		}

		b.logger.Debug("token bucket empty, backing off",
			"attempt", attempt,
			"delay", delay)

		if err := b.clock.Sleep(ctx, delay); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * b.opts.Multiplier)
		if delay > b.opts.MaxDelay {
			delay = b.opts.MaxDelay
		}
	}

	return fmt.Errorf("no token after %d attempts: %w", b.opts.MaxAttempts, common.ErrRateLimitExceeded)
}

// tryAcquire runs one CAS round: read state, fold in the lazy refill, and
// attempt to decrement. A lost CAS race reads back as "no token this round";
// the caller's backoff loop retries.
func (b *Bucket) tryAcquire(ctx context.Context) (bool, error) {
	now := b.clock.Now()

	raw, exists, err := b.store.GetKV(ctx, b.key)
	if err != nil {
		return false, err
	}

	if !exists {
		initial := encodeState(b.opts.Capacity-1, now)
		created, err := b.store.PutKVIfAbsent(ctx, b.key, initial)
		if err != nil {
			return false, err
		}
		// Someone else initialized it first; treat as a lost round.
		return created, nil
	}

	tokens, lastRefill, err := decodeState(raw)
	if err != nil {
		return false, fmt.Errorf("corrupt bucket state %q: %w", raw, err)
	}

	// Refill at Capacity tokens per second, capped at Capacity.
	elapsed := now.Sub(lastRefill)
	refilled := int64(elapsed.Seconds() * float64(b.opts.Capacity))
	if refilled > 0 {
		tokens += refilled
		if tokens > b.opts.Capacity {
			tokens = b.opts.Capacity
		}
		lastRefill = now
	}

	if tokens <= 0 {
		return false, nil
	}

	next := encodeState(tokens-1, lastRefill)
	return b.store.CompareAndSwapKV(ctx, b.key, raw, next)
}

func encodeState(tokens int64, refill time.Time) string {
	return fmt.Sprintf("%d|%d", tokens, refill.UnixNano())
}

func decodeState(raw string) (int64, time.Time, error) {
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) != 2 {
		return 0, time.Time{}, fmt.Errorf("expected two fields")
	}
	tokens, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, time.Time{}, err
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, err
	}
	return tokens, time.Unix(0, nanos), nil
}
