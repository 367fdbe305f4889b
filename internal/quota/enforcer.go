// Package quota enforces per-tenant usage limits on billable resources.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/model"
	"github.com/openledger/banksync/internal/service"
)

// Reservation reports the outcome of a quota reservation attempt.
type Reservation struct {
	TenantID string
	Resource model.ResourceType
	Period   string
	Usage    int64
	Limit    int64
	Granted  bool
	amount   int64
}

// Enforcer performs atomic check-and-increment reservations against
// per-tenant monthly usage counters.
type Enforcer struct {
	store  service.QuotaStore
	logger *slog.Logger
	now    func() time.Time
}

// NewEnforcer creates a quota enforcer over the given store.
func NewEnforcer(store service.QuotaStore) *Enforcer {
	return &Enforcer{
		store:  store,
		logger: slog.Default().With("component", "quota"),
		now:    time.Now,
	}
}

// WithNow substitutes the clock, for tests spanning period boundaries.
func (e *Enforcer) WithNow(now func() time.Time) *Enforcer {
	e.now = now
	return e
}

// Reserve attempts to consume amount units of the tenant's quota for the
// current billing period. The limit check and the increment are a single
// conditional update at the storage layer; under N concurrent attempts with
// room for K, exactly K succeed.
func (e *Enforcer) Reserve(ctx context.Context, tenantID string, resource model.ResourceType, amount int64) (*Reservation, error) {
	if amount <= 0 {
		amount = 1
	}

	period := model.BillingPeriod(e.now())

	limit, err := e.store.GetPlanLimit(ctx, tenantID, resource)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("tenant %s has no plan for %s: %w", tenantID, resource, err)
		}
		return nil, err
	}

	if err := e.store.EnsureUsageCounter(ctx, tenantID, resource, period, limit); err != nil {
		return nil, err
	}

	granted, err := e.store.TryIncrementUsage(ctx, tenantID, resource, period, amount)
	if err != nil {
		return nil, err
	}

	counter, err := e.store.GetUsageCounter(ctx, tenantID, resource, period)
	if err != nil {
		return nil, err
	}

	reservation := &Reservation{
		TenantID: tenantID,
		Resource: resource,
		Period:   period,
		Usage:    counter.Used,
		Limit:    counter.Limit,
		Granted:  granted,
		amount:   amount,
	}

	if !granted {
		e.logger.Info("quota reservation denied",
			"tenant_id", tenantID,
			"resource", resource,
			"usage", counter.Used,
			"limit", counter.Limit)
	}
	return reservation, nil
}

// Release returns a granted reservation whose work failed before being
// durably committed. Releasing a denied reservation is a no-op.
func (e *Enforcer) Release(ctx context.Context, reservation *Reservation) error {
	if reservation == nil || !reservation.Granted {
		return nil
	}
	return e.store.DecrementUsage(ctx, reservation.TenantID, reservation.Resource, reservation.Period, reservation.amount)
}
