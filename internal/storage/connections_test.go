package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/model"
	"github.com/openledger/banksync/internal/testutil"
)

func TestConnectionLifecycle(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		conn, err := store.CreateConnection(ctx, &model.Connection{
			ExternalID: "item-001",
			TenantID:   "tenant-a",
			Status:     model.ConnectionStatusActive,
		})
		require.NoError(t, err)
		assert.True(t, conn.Active)
		assert.Nil(t, conn.LastSyncAt)

		got, err := store.GetConnection(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, "item-001", got.ExternalID)
		assert.Equal(t, "tenant-a", got.TenantID)
		assert.Equal(t, model.ConnectionStatusActive, got.Status)
	})

	t.Run("duplicate external id rejected", func(t *testing.T) {
		_, err := store.CreateConnection(ctx, &model.Connection{
			ExternalID: "item-001",
			TenantID:   "tenant-b",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrDuplicateEntry)
	})

	t.Run("get by external id", func(t *testing.T) {
		conn, err := store.GetConnectionByExternalID(ctx, "item-001")
		require.NoError(t, err)
		assert.Equal(t, "tenant-a", conn.TenantID)

		_, err = store.GetConnectionByExternalID(ctx, "item-unknown")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("status defaults to pending", func(t *testing.T) {
		conn, err := store.CreateConnection(ctx, &model.Connection{
			ExternalID: "item-002",
			TenantID:   "tenant-a",
		})
		require.NoError(t, err)
		assert.Equal(t, model.ConnectionStatusPending, conn.Status)
	})

	t.Run("update status records error details", func(t *testing.T) {
		conn, err := store.GetConnectionByExternalID(ctx, "item-001")
		require.NoError(t, err)

		err = store.UpdateConnectionStatus(ctx, conn.ID, model.ConnectionStatusLoginError, "LOGIN_ERROR", "credentials rejected")
		require.NoError(t, err)

		got, err := store.GetConnection(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ConnectionStatusLoginError, got.Status)
		assert.Equal(t, "LOGIN_ERROR", got.ErrorCode)
		assert.Equal(t, "credentials rejected", got.ErrorMessage)
	})

	t.Run("update sync time", func(t *testing.T) {
		conn, err := store.GetConnectionByExternalID(ctx, "item-001")
		require.NoError(t, err)

		syncedAt := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
		require.NoError(t, store.UpdateConnectionSyncTime(ctx, conn.ID, syncedAt))

		got, err := store.GetConnection(ctx, conn.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastSyncAt)
		assert.True(t, got.LastSyncAt.Equal(syncedAt))
	})

	t.Run("update on unknown connection returns not found", func(t *testing.T) {
		err := store.UpdateConnectionStatus(ctx, 9999, model.ConnectionStatusActive, "", "")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestDeactivateConnection(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	conn := testutil.SeedConnection(t, store, "item-del", "tenant-a")
	require.NoError(t, store.DeactivateConnection(ctx, conn.ID))

	// The row survives; it just drops out of the active set.
	got, err := store.GetConnection(ctx, conn.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	active, err := store.ListActiveConnections(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestListStaleConnections(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	never := testutil.SeedConnection(t, store, "item-never", "tenant-a")
	old := testutil.SeedConnection(t, store, "item-old", "tenant-a")
	fresh := testutil.SeedConnection(t, store, "item-fresh", "tenant-a")

	now := time.Now().UTC()
	require.NoError(t, store.UpdateConnectionSyncTime(ctx, old.ID, now.Add(-48*time.Hour)))
	require.NoError(t, store.UpdateConnectionSyncTime(ctx, fresh.ID, now.Add(-time.Hour)))

	stale, err := store.ListStaleConnections(ctx, now.Add(-12*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 2)

	ids := []int64{stale[0].ID, stale[1].ID}
	assert.Contains(t, ids, never.ID)
	assert.Contains(t, ids, old.ID)
}
