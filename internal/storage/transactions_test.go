package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/model"
	"github.com/openledger/banksync/internal/storage"
	"github.com/openledger/banksync/internal/testutil"
)

func seedAccount(t *testing.T, store *storage.SQLiteStorage, connectionID int64, externalID string) *model.Account {
	t.Helper()

	account, err := store.UpsertAccount(context.Background(), &model.Account{
		ConnectionID: connectionID,
		ExternalID:   externalID,
		Name:         "Checking",
		Type:         "BANK",
		Currency:     "BRL",
		Balance:      decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	return account
}

func TestUpsertAccount(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()
	conn := testutil.SeedConnection(t, store, "item-1", "tenant-a")

	account := seedAccount(t, store, conn.ID, "acc-1")
	assert.Equal(t, "Checking", account.Name)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(100)))

	// Upserting again overwrites the balance; the aggregator is the source
	// of truth.
	updated, err := store.UpsertAccount(ctx, &model.Account{
		ConnectionID: conn.ID,
		ExternalID:   "acc-1",
		Name:         "Checking Renamed",
		Type:         "BANK",
		Currency:     "BRL",
		Balance:      decimal.RequireFromString("250.75"),
	})
	require.NoError(t, err)
	assert.Equal(t, account.ID, updated.ID)
	assert.Equal(t, "Checking Renamed", updated.Name)
	assert.True(t, updated.Balance.Equal(decimal.RequireFromString("250.75")))

	accounts, err := store.ListAccountsByConnection(ctx, conn.ID)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestGetAccountByExternalIDNotFound(t *testing.T) {
	store := testutil.SetupTestDB(t)
	conn := testutil.SeedConnection(t, store, "item-1", "tenant-a")

	_, err := store.GetAccountByExternalID(context.Background(), conn.ID, "acc-missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreateTransaction(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()
	conn := testutil.SeedConnection(t, store, "item-1", "tenant-a")
	account := seedAccount(t, store, conn.ID, "acc-1")

	txn := &model.Transaction{
		AccountID:   account.ID,
		ExternalID:  "txn-1",
		Description: "Coffee",
		Amount:      decimal.RequireFromString("12.50"),
		Movement:    model.MovementDebit,
		Date:        time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
	}

	created, err := store.CreateTransaction(ctx, txn)
	require.NoError(t, err)
	assert.True(t, created.Amount.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, model.MovementDebit, created.Movement)
	assert.Nil(t, created.CategoryID)

	t.Run("exists after creation", func(t *testing.T) {
		exists, err := store.TransactionExists(ctx, account.ID, "txn-1")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = store.TransactionExists(ctx, account.ID, "txn-2")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("duplicate dedup key rejected", func(t *testing.T) {
		_, err := store.CreateTransaction(ctx, txn)
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrDuplicateEntry)

		count, err := store.CountTransactionsByAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("same external id on another account is a new transaction", func(t *testing.T) {
		other := seedAccount(t, store, conn.ID, "acc-2")
		dup := *txn
		dup.AccountID = other.ID
		_, err := store.CreateTransaction(ctx, &dup)
		require.NoError(t, err)
	})

	t.Run("category backfill", func(t *testing.T) {
		category, err := store.CreateCategory(ctx, &model.Category{
			Name: "Food & Drinks",
			Type: model.CategoryTypeExpense,
		})
		require.NoError(t, err)

		require.NoError(t, store.SetTransactionCategory(ctx, created.ID, category.ID))

		listed, err := store.ListTransactionsByAccount(ctx, account.ID, 10)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		require.NotNil(t, listed[0].CategoryID)
		assert.Equal(t, category.ID, *listed[0].CategoryID)
	})
}

func TestListTransactionsByAccountOrder(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()
	conn := testutil.SeedConnection(t, store, "item-1", "tenant-a")
	account := seedAccount(t, store, conn.ID, "acc-1")

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, day := range []int{3, 1, 2} {
		_, err := store.CreateTransaction(ctx, &model.Transaction{
			AccountID:  account.ID,
			ExternalID: []string{"t-a", "t-b", "t-c"}[i],
			Amount:     decimal.NewFromInt(int64(i + 1)),
			Movement:   model.MovementDebit,
			Date:       base.AddDate(0, 0, day),
		})
		require.NoError(t, err)
	}

	listed, err := store.ListTransactionsByAccount(ctx, account.ID, 2)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "t-a", listed[0].ExternalID)
	assert.Equal(t, "t-c", listed[1].ExternalID)
}
