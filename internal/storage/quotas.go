package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/model"
)

// GetPlanLimit returns the tenant's plan limit for a resource.
func (s *SQLiteStorage) GetPlanLimit(ctx context.Context, tenantID string, resource model.ResourceType) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return 0, err
	}

	var limit int64
	err := s.db.QueryRowContext(ctx, `
		SELECT limit_value FROM tenant_plans WHERE tenant_id = ? AND resource = ?`,
		tenantID, string(resource)).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("plan for tenant %s resource %s: %w", tenantID, resource, common.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query plan limit: %w", err)
	}
	return limit, nil
}

// SetPlanLimit creates or replaces the tenant's plan limit for a resource.
func (s *SQLiteStorage) SetPlanLimit(ctx context.Context, tenantID string, resource model.ResourceType, limit int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_plans (tenant_id, resource, limit_value)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id, resource) DO UPDATE SET limit_value = excluded.limit_value`,
		tenantID, string(resource), limit)
	if err != nil {
		return fmt.Errorf("failed to set plan limit: %w", err)
	}
	return nil
}

// EnsureUsageCounter creates the counter row for a billing period if absent.
func (s *SQLiteStorage) EnsureUsageCounter(ctx context.Context, tenantID string, resource model.ResourceType, period string, limit int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return err
	}
	if err := validateString(period, "period"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_counters (tenant_id, resource, period, used, limit_value)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(tenant_id, resource, period) DO NOTHING`,
		tenantID, string(resource), period, limit)
	if err != nil {
		return fmt.Errorf("failed to ensure usage counter: %w", err)
	}
	return nil
}

// TryIncrementUsage atomically increments the counter if the result stays
// within the limit. The check and the write are one conditional UPDATE; two
// separate queries would lose updates under concurrent reservations.
func (s *SQLiteStorage) TryIncrementUsage(ctx context.Context, tenantID string, resource model.ResourceType, period string, amount int64) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if amount <= 0 {
		return false, fmt.Errorf("amount must be positive")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE usage_counters
		SET used = used + ?, updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = ? AND resource = ? AND period = ? AND used + ? <= limit_value`,
		amount, tenantID, string(resource), period, amount)
	if err != nil {
		return false, fmt.Errorf("failed to increment usage: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return affected == 1, nil
}

// DecrementUsage is the compensating decrement for a reservation whose work
// failed before being durably committed. The counter never drops below zero.
func (s *SQLiteStorage) DecrementUsage(ctx context.Context, tenantID string, resource model.ResourceType, period string, amount int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE usage_counters
		SET used = MAX(used - ?, 0), updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = ? AND resource = ? AND period = ?`,
		amount, tenantID, string(resource), period)
	if err != nil {
		return fmt.Errorf("failed to decrement usage: %w", err)
	}
	return nil
}

// GetUsageCounter returns the counter for (tenant, resource, period).
func (s *SQLiteStorage) GetUsageCounter(ctx context.Context, tenantID string, resource model.ResourceType, period string) (*model.UsageCounter, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var counter model.UsageCounter
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, resource, period, used, limit_value, updated_at
		FROM usage_counters
		WHERE tenant_id = ? AND resource = ? AND period = ?`,
		tenantID, string(resource), period).Scan(
		&counter.TenantID, &counter.Resource, &counter.Period,
		&counter.Used, &counter.Limit, &counter.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query usage counter: %w", err)
	}
	return &counter, nil
}
