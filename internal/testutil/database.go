// Package testutil provides shared helpers for package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/openledger/banksync/internal/model"
	"github.com/openledger/banksync/internal/storage"
)

// SetupTestDB creates a new in-memory migrated database with cleanup registered.
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

// SeedConnection creates an active connection for tests.
func SeedConnection(t *testing.T, store *storage.SQLiteStorage, externalID, tenantID string) *model.Connection {
	t.Helper()

	conn, err := store.CreateConnection(context.Background(), &model.Connection{
		ExternalID: externalID,
		TenantID:   tenantID,
		Status:     model.ConnectionStatusActive,
	})
	if err != nil {
		t.Fatalf("failed to seed connection: %v", err)
	}
	return conn
}

// SeedPlan sets a tenant's plan limit for a resource.
func SeedPlan(t *testing.T, store *storage.SQLiteStorage, tenantID string, resource model.ResourceType, limit int64) {
	t.Helper()

	if err := store.SetPlanLimit(context.Background(), tenantID, resource, limit); err != nil {
		t.Fatalf("failed to seed plan: %v", err)
	}
}
