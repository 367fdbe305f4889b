package syncer_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openledger/banksync/internal/aggregator"
	"github.com/openledger/banksync/internal/category"
	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/lock"
	"github.com/openledger/banksync/internal/model"
	"github.com/openledger/banksync/internal/quota"
	"github.com/openledger/banksync/internal/storage"
	"github.com/openledger/banksync/internal/syncer"
	"github.com/openledger/banksync/internal/testutil"
	"github.com/openledger/banksync/internal/vault"
)

type fixture struct {
	store        *storage.SQLiteStorage
	api          *aggregator.MockAPI
	locks        *lock.Manager
	vault        *vault.Vault
	orchestrator *syncer.Orchestrator
	conn         *model.Connection
}

func setup(t *testing.T) *fixture {
	t.Helper()

	store := testutil.SetupTestDB(t)
	testutil.SeedPlan(t, store, "tenant-a", model.ResourceTransactions, 10_000)
	conn := testutil.SeedConnection(t, store, "item-1", "tenant-a")

	api := aggregator.NewMockAPI()
	locks := lock.NewManager(store, lock.Options{
		LeaseTTL:      time.Minute,
		MaxWait:       30 * time.Millisecond,
		RetryInterval: 10 * time.Millisecond,
	})
	creds, err := vault.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	orchestrator := syncer.New(
		store,
		api,
		locks,
		quota.NewEnforcer(store),
		category.NewMapper(store, time.Hour),
		creds,
		syncer.Options{},
	)

	return &fixture{
		store:        store,
		api:          api,
		locks:        locks,
		vault:        creds,
		orchestrator: orchestrator,
		conn:         conn,
	}
}

func makeTransactions(prefix string, n int) []aggregator.Transaction {
	transactions := make([]aggregator.Transaction, n)
	for i := range transactions {
		transactions[i] = aggregator.Transaction{
			ID:          fmt.Sprintf("%s-%d", prefix, i),
			Description: "purchase",
			Amount:      "10.00",
			Date:        "2026-08-10",
			Type:        "DEBIT",
		}
	}
	return transactions
}

func TestSyncConnectionFullCycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.api.GetAccountsFn = func(_ context.Context, itemID string) ([]aggregator.Account, error) {
		return []aggregator.Account{
			{ID: "acc-1", ItemID: itemID, Name: "Checking", Type: "BANK", Currency: "BRL", Balance: "1523.40"},
			{ID: "acc-2", ItemID: itemID, Name: "Savings", Type: "BANK", Currency: "BRL", Balance: "8000.00"},
			{ID: "acc-3", ItemID: itemID, Name: "Credit Card", Type: "CREDIT", Currency: "BRL", Balance: "-412.77"},
		}, nil
	}

	byAccount := map[string][]aggregator.Transaction{
		"acc-1": makeTransactions("a1", 50),
		"acc-2": makeTransactions("a2", 28),
		"acc-3": makeTransactions("a3", 10),
	}
	f.api.GetTransactionsFn = func(_ context.Context, accountID string, _, _ time.Time) ([]aggregator.Transaction, error) {
		return byAccount[accountID], nil
	}

	// Two of acc-1's movements were ingested by an earlier sync.
	seeded, err := f.store.UpsertAccount(ctx, &model.Account{
		ConnectionID: f.conn.ID,
		ExternalID:   "acc-1",
		Currency:     "BRL",
	})
	require.NoError(t, err)
	for _, id := range []string{"a1-0", "a1-1"} {
		_, err := f.store.CreateTransaction(ctx, &model.Transaction{
			AccountID:  seeded.ID,
			ExternalID: id,
			Amount:     decimal.RequireFromString("10.00"),
			Movement:   model.MovementDebit,
			Date:       time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	summary, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerManual)
	require.NoError(t, err)

	assert.Equal(t, model.SyncOutcomeCompleted, summary.Outcome)
	assert.Equal(t, 88, summary.TransactionsFound)
	assert.Equal(t, 86, summary.Created)
	assert.Equal(t, 2, summary.SkippedDuplicates)
	assert.Zero(t, summary.QuotaDenied)
	require.Len(t, summary.Balances, 3)

	t.Run("balances overwritten", func(t *testing.T) {
		account, err := f.store.GetAccountByExternalID(ctx, f.conn.ID, "acc-1")
		require.NoError(t, err)
		assert.True(t, account.Balance.Equal(decimal.RequireFromString("1523.40")))
	})

	t.Run("last sync recorded", func(t *testing.T) {
		conn, err := f.store.GetConnection(ctx, f.conn.ID)
		require.NoError(t, err)
		require.NotNil(t, conn.LastSyncAt)
		assert.Equal(t, model.ConnectionStatusActive, conn.Status)
	})

	t.Run("resync is idempotent", func(t *testing.T) {
		summary, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerManual)
		require.NoError(t, err)
		assert.Equal(t, 88, summary.TransactionsFound)
		assert.Zero(t, summary.Created)
		assert.Equal(t, 88, summary.SkippedDuplicates)
	})
}

func TestSyncConnectionLockContended(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Simulate a sync already in flight from another worker.
	lease, err := f.locks.TryAcquire(ctx, fmt.Sprintf("sync:connection:%d", f.conn.ID))
	require.NoError(t, err)
	defer lease.Release(ctx)

	summary, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerWebhook)
	require.NoError(t, err, "contention is an outcome, not an error")
	assert.Equal(t, model.SyncOutcomeLockContended, summary.Outcome)
	assert.Zero(t, f.api.GetItemCalls, "no upstream traffic while contended")
}

func TestSyncConnectionRequiresAuth(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.api.GetItemFn = func(_ context.Context, itemID string) (*aggregator.Item, error) {
		return &aggregator.Item{
			ID:           itemID,
			Status:       aggregator.ItemStatusWaitingUserInput,
			ErrorCode:    "USER_INPUT_TIMEOUT",
			ErrorMessage: "MFA code required",
		}, nil
	}

	summary, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, model.SyncOutcomeRequiresAuth, summary.Outcome)
	assert.Zero(t, f.api.GetAccountsCalls, "no data fetch for a connection needing the user")

	conn, err := f.store.GetConnection(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionStatusRequiresAuth, conn.Status)
	assert.Equal(t, "USER_INPUT_TIMEOUT", conn.ErrorCode)
	assert.Nil(t, conn.LastSyncAt, "a sync that fetched nothing must not advance the cursor")
}

func storeMFA(t *testing.T, f *fixture, values map[string]string) {
	t.Helper()

	blob, err := f.vault.Encrypt(values)
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateConnectionMFA(context.Background(), f.conn.ID, blob))
}

func TestSyncConnectionAnswersMFAChallenge(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	storeMFA(t, f, map[string]string{"token": "123456"})

	f.api.GetItemFn = func(_ context.Context, itemID string) (*aggregator.Item, error) {
		return &aggregator.Item{ID: itemID, Status: aggregator.ItemStatusWaitingUserInput}, nil
	}
	f.api.SendMFAFn = func(_ context.Context, itemID string, _ map[string]string) (*aggregator.Item, error) {
		return &aggregator.Item{ID: itemID, Status: aggregator.ItemStatusUpdated}, nil
	}

	summary, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, model.SyncOutcomeCompleted, summary.Outcome, "an answered challenge lets the sync proceed")

	require.Len(t, f.api.SendMFACalls, 1)
	assert.Equal(t, "item-1", f.api.SendMFACalls[0].ItemID)
	assert.Equal(t, map[string]string{"token": "123456"}, f.api.SendMFACalls[0].Parameters)

	conn, err := f.store.GetConnection(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.Empty(t, conn.EncryptedMFA, "an MFA answer is single-use")
}

func TestSyncConnectionMFARejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	storeMFA(t, f, map[string]string{"token": "000000"})

	f.api.GetItemFn = func(_ context.Context, itemID string) (*aggregator.Item, error) {
		return &aggregator.Item{ID: itemID, Status: aggregator.ItemStatusWaitingUserInput}, nil
	}
	f.api.SendMFAFn = func(_ context.Context, itemID string, _ map[string]string) (*aggregator.Item, error) {
		return &aggregator.Item{ID: itemID, Status: aggregator.ItemStatusWaitingUserInput}, nil
	}

	summary, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, model.SyncOutcomeRequiresAuth, summary.Outcome)
	assert.Zero(t, f.api.GetAccountsCalls)

	conn, err := f.store.GetConnection(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionStatusRequiresAuth, conn.Status)
	assert.Empty(t, conn.EncryptedMFA, "a rejected answer must not be replayed on the next sync")
}

func TestSyncConnectionUnreadableMFADiscarded(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// A blob sealed under a different master key cannot be decrypted.
	foreign, err := vault.New("another-master-key-entirely-0000")
	require.NoError(t, err)
	blob, err := foreign.Encrypt(map[string]string{"token": "123456"})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateConnectionMFA(ctx, f.conn.ID, blob))

	f.api.GetItemFn = func(_ context.Context, itemID string) (*aggregator.Item, error) {
		return &aggregator.Item{ID: itemID, Status: aggregator.ItemStatusWaitingUserInput}, nil
	}

	summary, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerManual)
	require.NoError(t, err, "an unreadable blob is a migration case, not a sync failure")
	assert.Equal(t, model.SyncOutcomeRequiresAuth, summary.Outcome)
	assert.Empty(t, f.api.SendMFACalls, "nothing usable to submit")

	conn, err := f.store.GetConnection(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.Empty(t, conn.EncryptedMFA, "the dead blob is discarded so the user is re-prompted")
}

func TestSyncConnectionLoginErrorSkipsMFA(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	storeMFA(t, f, map[string]string{"token": "123456"})

	f.api.GetItemFn = func(_ context.Context, itemID string) (*aggregator.Item, error) {
		return &aggregator.Item{ID: itemID, Status: aggregator.ItemStatusLoginError}, nil
	}

	summary, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, model.SyncOutcomeRequiresAuth, summary.Outcome)
	assert.Empty(t, f.api.SendMFACalls, "an MFA answer cannot fix rejected credentials")
}

func TestSyncConnectionLoginError(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.api.GetItemFn = func(_ context.Context, itemID string) (*aggregator.Item, error) {
		return &aggregator.Item{ID: itemID, Status: aggregator.ItemStatusLoginError}, nil
	}

	summary, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, model.SyncOutcomeRequiresAuth, summary.Outcome)

	conn, err := f.store.GetConnection(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionStatusLoginError, conn.Status)
}

func TestSyncConnectionQuotaDenial(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.SeedPlan(t, f.store, "tenant-a", model.ResourceTransactions, 5)

	f.api.GetAccountsFn = func(_ context.Context, itemID string) ([]aggregator.Account, error) {
		return []aggregator.Account{{ID: "acc-1", ItemID: itemID, Currency: "BRL", Balance: "100.00"}}, nil
	}
	f.api.GetTransactionsFn = func(_ context.Context, _ string, _, _ time.Time) ([]aggregator.Transaction, error) {
		return makeTransactions("a1", 8), nil
	}

	summary, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerManual)
	require.NoError(t, err, "quota denial must not abort the sync")

	assert.Equal(t, model.SyncOutcomeCompleted, summary.Outcome)
	assert.Equal(t, 5, summary.Created)
	assert.Equal(t, 3, summary.QuotaDenied)

	counter, err := f.store.GetUsageCounter(ctx, "tenant-a", model.ResourceTransactions, model.BillingPeriod(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(5), counter.Used, "usage must never exceed the limit")
}

func TestSyncConnectionUpstreamFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.api.GetAccountsFn = func(_ context.Context, _ string) ([]aggregator.Account, error) {
		return nil, fmt.Errorf("%w: 502", common.ErrUpstreamUnavailable)
	}

	summary, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerManual)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUpstreamUnavailable)
	assert.Equal(t, model.SyncOutcomeFailed, summary.Outcome)

	conn, err := f.store.GetConnection(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionStatusError, conn.Status)
	assert.Equal(t, "SYNC_FAILED", conn.ErrorCode)
	assert.Nil(t, conn.LastSyncAt, "a failed sync must not advance the cursor")

	t.Run("lock is released on failure", func(t *testing.T) {
		lease, err := f.locks.TryAcquire(ctx, fmt.Sprintf("sync:connection:%d", f.conn.ID))
		require.NoError(t, err)
		lease.Release(ctx)
	})
}

func TestSyncConnectionFailedFetchCreatesNoAccount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.api.GetAccountsFn = func(_ context.Context, itemID string) ([]aggregator.Account, error) {
		return []aggregator.Account{{ID: "acc-new", ItemID: itemID, Currency: "BRL", Balance: "950.00"}}, nil
	}
	f.api.GetTransactionsFn = func(_ context.Context, _ string, _, _ time.Time) ([]aggregator.Transaction, error) {
		return nil, fmt.Errorf("%w: 503", common.ErrUpstreamUnavailable)
	}

	summary, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerManual)
	require.Error(t, err)
	assert.Equal(t, model.SyncOutcomeFailed, summary.Outcome)

	// An account first seen during an aborted sync must not persist as an
	// empty zero-balance row.
	_, err = f.store.GetAccountByExternalID(ctx, f.conn.ID, "acc-new")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSyncConnectionFetchWindow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.api.GetAccountsFn = func(_ context.Context, itemID string) ([]aggregator.Account, error) {
		return []aggregator.Account{{ID: "acc-1", ItemID: itemID, Currency: "BRL", Balance: "0"}}, nil
	}

	t.Run("first sync uses the fallback lookback", func(t *testing.T) {
		_, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerManual)
		require.NoError(t, err)

		require.Len(t, f.api.GetTransactionsCalls, 1)
		call := f.api.GetTransactionsCalls[0]
		assert.WithinDuration(t, time.Now().AddDate(0, 0, -30), call.From, time.Minute)
		assert.WithinDuration(t, time.Now(), call.To, time.Minute)
	})

	t.Run("subsequent syncs overlap the last one", func(t *testing.T) {
		lastSync := time.Now().Add(-6 * time.Hour).UTC()
		require.NoError(t, f.store.UpdateConnectionSyncTime(ctx, f.conn.ID, lastSync))

		_, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerManual)
		require.NoError(t, err)

		require.Len(t, f.api.GetTransactionsCalls, 2)
		call := f.api.GetTransactionsCalls[1]
		assert.WithinDuration(t, lastSync.AddDate(0, 0, -3), call.From, time.Minute)
	})
}

func TestSyncConnectionCategorizesTransactions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	groceries := "Groceries"
	salary := "Salary"
	f.api.GetAccountsFn = func(_ context.Context, itemID string) ([]aggregator.Account, error) {
		return []aggregator.Account{{ID: "acc-1", ItemID: itemID, Currency: "BRL", Balance: "100.00"}}, nil
	}
	f.api.GetTransactionsFn = func(_ context.Context, _ string, _, _ time.Time) ([]aggregator.Transaction, error) {
		return []aggregator.Transaction{
			{ID: "t-1", Description: "Supermarket", Amount: "80.00", Date: "2026-08-10", Type: "DEBIT", Category: &groceries},
			{ID: "t-2", Description: "Payroll", Amount: "5000.00", Date: "2026-08-05", Type: "CREDIT", Category: &salary},
			{ID: "t-3", Description: "Mystery", Amount: "1.00", Date: "2026-08-06", Type: "DEBIT"},
		}, nil
	}

	summary, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerManual)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Created)

	account, err := f.store.GetAccountByExternalID(ctx, f.conn.ID, "acc-1")
	require.NoError(t, err)
	transactions, err := f.store.ListTransactionsByAccount(ctx, account.ID, 10)
	require.NoError(t, err)
	require.Len(t, transactions, 3)

	categorized := make(map[string]*int64)
	for i := range transactions {
		categorized[transactions[i].ExternalID] = transactions[i].CategoryID
	}

	require.NotNil(t, categorized["t-1"])
	require.NotNil(t, categorized["t-2"])

	grocCat, err := f.store.GetCategoryByName(ctx, "Groceries")
	require.NoError(t, err)
	assert.Equal(t, grocCat.ID, *categorized["t-1"])
	assert.Equal(t, model.CategoryTypeExpense, grocCat.Type)

	salaryCat, err := f.store.GetCategoryByName(ctx, "Salary")
	require.NoError(t, err)
	assert.Equal(t, salaryCat.ID, *categorized["t-2"])
	assert.Equal(t, model.CategoryTypeIncome, salaryCat.Type)
}

func TestSyncConnectionNotSyncable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.store.DeactivateConnection(ctx, f.conn.ID))

	summary, err := f.orchestrator.SyncConnection(ctx, f.conn.ID, model.SyncTriggerManual)
	require.Error(t, err)
	assert.Equal(t, model.SyncOutcomeFailed, summary.Outcome)
	assert.Zero(t, f.api.GetItemCalls)

	_, err = f.orchestrator.SyncConnection(ctx, 9999, model.SyncTriggerManual)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}
