// Package syncer reconciles aggregator connections with local storage.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openledger/banksync/internal/aggregator"
	"github.com/openledger/banksync/internal/category"
	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/lock"
	"github.com/openledger/banksync/internal/model"
	"github.com/openledger/banksync/internal/quota"
	"github.com/openledger/banksync/internal/service"
	"github.com/openledger/banksync/internal/vault"
)

// Options tunes the incremental fetch window.
type Options struct {
	// OverlapDays is re-fetched before the last successful sync to absorb
	// clock skew and late-arriving transactions from the aggregator.
	OverlapDays int
	// FallbackDays is the lookback for connections that have never synced.
	FallbackDays int
}

func (o *Options) applyDefaults() {
	if o.OverlapDays <= 0 {
		o.OverlapDays = 3
	}
	if o.FallbackDays <= 0 {
		o.FallbackDays = 30
	}
}

// Storage is the slice of the persistence layer the orchestrator needs.
type Storage interface {
	service.ConnectionStore
	service.AccountStore
	service.TransactionStore
}

// Orchestrator serializes sync attempts per connection and performs the
// fetch, dedup, and reconcile cycle against the aggregator.
type Orchestrator struct {
	store      Storage
	client     aggregator.API
	locks      *lock.Manager
	quotas     *quota.Enforcer
	categories *category.Mapper
	creds      *vault.Vault
	logger     *slog.Logger
	now        func() time.Time
	opts       Options
}

// New creates a sync orchestrator.
func New(store Storage, client aggregator.API, locks *lock.Manager, quotas *quota.Enforcer, categories *category.Mapper, creds *vault.Vault, opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		store:      store,
		client:     client,
		locks:      locks,
		quotas:     quotas,
		categories: categories,
		creds:      creds,
		logger:     slog.Default().With("component", "syncer"),
		now:        time.Now,
		opts:       opts,
	}
}

// WithNow substitutes the clock, for tests.
func (o *Orchestrator) WithNow(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// SyncConnection reconciles one connection with the aggregator.
//
// Lock contention and a connection needing user re-authentication return a
// summary with the corresponding outcome and a nil error: both are expected
// business states. A hard failure returns the summary alongside the error so
// batch callers can log it and keep going.
func (o *Orchestrator) SyncConnection(ctx context.Context, connectionID int64, trigger model.SyncTrigger) (*model.SyncSummary, error) {
	startedAt := o.now()
	summary := &model.SyncSummary{
		ConnectionID: connectionID,
		Trigger:      trigger,
		StartedAt:    startedAt,
	}
	defer func() { summary.FinishedAt = o.now() }()

	conn, err := o.store.GetConnection(ctx, connectionID)
	if err != nil {
		return o.fail(summary, fmt.Errorf("failed to load connection: %w", err))
	}
	if !conn.Syncable() {
		return o.fail(summary, fmt.Errorf("connection %d is not syncable", connectionID))
	}

	lease, err := o.locks.Acquire(ctx, lockKey(connectionID))
	if err != nil {
		if errors.Is(err, common.ErrLockContended) {
			// Another sync is already in flight; duplicating it would
			// double-fetch and double-count. Not an error.
			o.logger.Info("sync already in flight, skipping",
				"connection_id", connectionID,
				"trigger", trigger)
			summary.Outcome = model.SyncOutcomeLockContended
			summary.ConnectionStatus = conn.Status
			return summary, nil
		}
		return o.fail(summary, err)
	}
	// The lock must be released on every path, including panics upstream of
	// us being recovered; a leaked lease would block syncs until expiry.
	defer lease.Release(context.WithoutCancel(ctx))

	o.logger.Info("sync started",
		"connection_id", connectionID,
		"external_id", conn.ExternalID,
		"trigger", trigger)

	item, err := o.client.GetItem(ctx, conn.ExternalID)
	if err != nil {
		o.recordConnectionError(ctx, conn.ID, err)
		return o.fail(summary, err)
	}

	if item.Status == aggregator.ItemStatusWaitingUserInput && conn.EncryptedMFA != "" {
		item, err = o.submitStoredMFA(ctx, conn, item)
		if err != nil {
			o.recordConnectionError(ctx, conn.ID, err)
			return o.fail(summary, err)
		}
	}

	if item.RequiresUserAction() {
		status := item.ConnectionStatus()
		if err := o.store.UpdateConnectionStatus(ctx, conn.ID, status, item.ErrorCode, item.ErrorMessage); err != nil {
			return o.fail(summary, err)
		}
		o.logger.Info("connection requires user action",
			"connection_id", connectionID,
			"status", status)
		summary.Outcome = model.SyncOutcomeRequiresAuth
		summary.ConnectionStatus = status
		return summary, nil
	}

	accounts, err := o.client.GetAccounts(ctx, conn.ExternalID)
	if err != nil {
		o.recordConnectionError(ctx, conn.ID, err)
		return o.fail(summary, err)
	}

	from, to := o.fetchWindow(conn, startedAt)

	for _, acct := range accounts {
		if err := o.syncAccount(ctx, conn, acct, from, to, summary); err != nil {
			o.recordConnectionError(ctx, conn.ID, err)
			return o.fail(summary, err)
		}
	}

	status := item.ConnectionStatus()
	if err := o.store.UpdateConnectionStatus(ctx, conn.ID, status, "", ""); err != nil {
		return o.fail(summary, err)
	}
	if err := o.store.UpdateConnectionSyncTime(ctx, conn.ID, startedAt); err != nil {
		return o.fail(summary, err)
	}

	summary.Outcome = model.SyncOutcomeCompleted
	summary.ConnectionStatus = status

	o.logger.Info("sync completed",
		"connection_id", connectionID,
		"found", summary.TransactionsFound,
		"created", summary.Created,
		"skipped", summary.SkippedDuplicates,
		"quota_denied", summary.QuotaDenied)

	return summary, nil
}

// submitStoredMFA answers a pending challenge with the parameters the user
// stored earlier. The blob is single-use: it is cleared whether or not the
// aggregator accepts it, so a stale answer is never replayed.
func (o *Orchestrator) submitStoredMFA(ctx context.Context, conn *model.Connection, item *aggregator.Item) (*aggregator.Item, error) {
	parameters, err := o.creds.Decrypt(conn.EncryptedMFA)
	if err != nil {
		// An unreadable blob usually predates the current master key. It can
		// never be submitted, so discard it and let the user enter it again.
		o.logger.Warn("stored MFA parameters are unreadable, discarding",
			"connection_id", conn.ID,
			"error", err)
		if clearErr := o.store.UpdateConnectionMFA(ctx, conn.ID, ""); clearErr != nil {
			return nil, clearErr
		}
		return item, nil
	}

	updated, err := o.client.SendMFA(ctx, conn.ExternalID, parameters)
	if err != nil {
		return nil, err
	}
	if err := o.store.UpdateConnectionMFA(ctx, conn.ID, ""); err != nil {
		return nil, err
	}

	o.logger.Info("submitted stored MFA answer",
		"connection_id", conn.ID,
		"status", updated.Status)
	return updated, nil
}

// syncAccount reconciles one account: transactions first, balance last, so a
// failed fetch never leaves a fresh balance with missing movements behind.
func (o *Orchestrator) syncAccount(ctx context.Context, conn *model.Connection, acct aggregator.Account, from, to time.Time, summary *model.SyncSummary) error {
	balance, err := acct.ParseBalance()
	if err != nil {
		return err
	}

	local, err := o.store.GetAccountByExternalID(ctx, conn.ID, acct.ID)
	missing := errors.Is(err, common.ErrNotFound)
	if err != nil && !missing {
		return err
	}

	transactions, err := o.client.GetTransactions(ctx, acct.ID, from, to)
	if err != nil {
		return err
	}
	summary.TransactionsFound += len(transactions)

	if missing {
		// The row is created only after the fetch succeeded, so an aborted
		// sync never leaves a phantom zero-balance account behind.
		local, err = o.store.UpsertAccount(ctx, &model.Account{
			ConnectionID: conn.ID,
			ExternalID:   acct.ID,
			Name:         acct.Name,
			Type:         acct.Type,
			Currency:     acct.Currency,
		})
		if err != nil {
			return err
		}
	}

	for _, txn := range transactions {
		if err := o.ingestTransaction(ctx, conn, local.ID, txn, summary); err != nil {
			return err
		}
	}

	if _, err := o.store.UpsertAccount(ctx, &model.Account{
		ConnectionID: conn.ID,
		ExternalID:   acct.ID,
		Name:         acct.Name,
		Type:         acct.Type,
		Currency:     acct.Currency,
		Balance:      balance,
	}); err != nil {
		return err
	}

	summary.Balances = append(summary.Balances, model.AccountBalance{
		ExternalID: acct.ID,
		Currency:   acct.Currency,
		Balance:    balance,
	})
	return nil
}

// ingestTransaction creates one transaction if it is new and quota permits.
// Quota denial is recorded and the sync continues; only infrastructure
// failures abort.
func (o *Orchestrator) ingestTransaction(ctx context.Context, conn *model.Connection, accountID int64, txn aggregator.Transaction, summary *model.SyncSummary) error {
	exists, err := o.store.TransactionExists(ctx, accountID, txn.ID)
	if err != nil {
		return err
	}
	if exists {
		summary.SkippedDuplicates++
		return nil
	}

	reservation, err := o.quotas.Reserve(ctx, conn.TenantID, model.ResourceTransactions, 1)
	if err != nil {
		return err
	}
	if !reservation.Granted {
		summary.QuotaDenied++
		return nil
	}

	amount, err := txn.ParseAmount()
	if err != nil {
		o.releaseQuietly(ctx, reservation)
		return err
	}
	date, err := txn.ParseDate()
	if err != nil {
		o.releaseQuietly(ctx, reservation)
		return err
	}

	movement := txn.Movement()

	var categoryID *int64
	if id, mapErr := o.categories.GetOrCreate(ctx, txn.CategoryName(), movement); mapErr != nil {
		// An unmapped category never blocks ingestion.
		o.logger.Warn("failed to resolve category",
			"category", txn.CategoryName(),
			"error", mapErr)
	} else if id != 0 {
		categoryID = &id
	}

	_, err = o.store.CreateTransaction(ctx, &model.Transaction{
		AccountID:   accountID,
		ExternalID:  txn.ID,
		Description: txn.Description,
		Amount:      amount,
		Movement:    movement,
		Date:        date,
		CategoryID:  categoryID,
	})
	if errors.Is(err, common.ErrDuplicateEntry) {
		// A concurrent sync for another account list raced us; the unique
		// constraint kept the row single. Give the quota back.
		o.releaseQuietly(ctx, reservation)
		summary.SkippedDuplicates++
		return nil
	}
	if err != nil {
		o.releaseQuietly(ctx, reservation)
		return err
	}

	summary.Created++
	return nil
}

// fetchWindow computes the incremental date range. The window starts at the
// later of (last sync - overlap) and (now - fallback); a connection that has
// never synced gets the full fallback lookback.
func (o *Orchestrator) fetchWindow(conn *model.Connection, now time.Time) (time.Time, time.Time) {
	fallback := now.AddDate(0, 0, -o.opts.FallbackDays)
	if conn.LastSyncAt == nil {
		return fallback, now
	}
	from := conn.LastSyncAt.AddDate(0, 0, -o.opts.OverlapDays)
	if from.Before(fallback) {
		from = fallback
	}
	return from, now
}

func (o *Orchestrator) fail(summary *model.SyncSummary, err error) (*model.SyncSummary, error) {
	summary.Outcome = model.SyncOutcomeFailed
	summary.Error = err.Error()
	return summary, err
}

// recordConnectionError stores the terminal state on the connection so the
// surrounding application can surface it to the user.
func (o *Orchestrator) recordConnectionError(ctx context.Context, connectionID int64, cause error) {
	status := model.ConnectionStatusError
	code := "SYNC_FAILED"
	if errors.Is(cause, common.ErrAuthenticationFailed) {
		code = "AUTH_FAILED"
	}

	if err := o.store.UpdateConnectionStatus(ctx, connectionID, status, code, cause.Error()); err != nil {
		o.logger.Error("failed to record connection error",
			"connection_id", connectionID,
			"error", err)
	}
}

// releaseQuietly returns a reservation, logging rather than propagating
// release failures: the original error matters more to the caller.
func (o *Orchestrator) releaseQuietly(ctx context.Context, reservation *quota.Reservation) {
	if err := o.quotas.Release(ctx, reservation); err != nil {
		o.logger.Error("failed to release quota reservation", "error", err)
	}
}

func lockKey(connectionID int64) string {
	return fmt.Sprintf("sync:connection:%d", connectionID)
}
