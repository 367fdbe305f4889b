// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/openledger/banksync/internal/model"
)

// ConnectionStore persists aggregator connections.
type ConnectionStore interface {
	CreateConnection(ctx context.Context, conn *model.Connection) (*model.Connection, error)
	GetConnection(ctx context.Context, id int64) (*model.Connection, error)
	GetConnectionByExternalID(ctx context.Context, externalID string) (*model.Connection, error)
	ListActiveConnections(ctx context.Context) ([]model.Connection, error)
	ListStaleConnections(ctx context.Context, olderThan time.Time) ([]model.Connection, error)
	UpdateConnectionStatus(ctx context.Context, id int64, status model.ConnectionStatus, errorCode, errorMessage string) error
	UpdateConnectionSyncTime(ctx context.Context, id int64, at time.Time) error
	UpdateConnectionMFA(ctx context.Context, id int64, encryptedMFA string) error
	DeactivateConnection(ctx context.Context, id int64) error
}

// AccountStore persists external bank accounts.
type AccountStore interface {
	GetAccountByExternalID(ctx context.Context, connectionID int64, externalID string) (*model.Account, error)
	ListAccountsByConnection(ctx context.Context, connectionID int64) ([]model.Account, error)
	UpsertAccount(ctx context.Context, account *model.Account) (*model.Account, error)
}

// TransactionStore persists ingested transactions.
type TransactionStore interface {
	TransactionExists(ctx context.Context, accountID int64, externalID string) (bool, error)
	CreateTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	SetTransactionCategory(ctx context.Context, id, categoryID int64) error
	ListTransactionsByAccount(ctx context.Context, accountID int64, limit int) ([]model.Transaction, error)
	CountTransactionsByAccount(ctx context.Context, accountID int64) (int, error)
}

// WebhookEventStore persists the inbound event ledger.
type WebhookEventStore interface {
	// InsertWebhookEvent is a conflict-safe insert-or-fetch on the
	// (event_id, source) idempotency key. The boolean is true when an
	// existing row was returned instead of a new one being created.
	InsertWebhookEvent(ctx context.Context, event *model.WebhookEvent) (*model.WebhookEvent, bool, error)
	GetWebhookEvent(ctx context.Context, id int64) (*model.WebhookEvent, error)
	UpdateWebhookEvent(ctx context.Context, event *model.WebhookEvent) error
	ListWebhookEventsByStatus(ctx context.Context, status model.WebhookEventStatus, maxRetries, limit int) ([]model.WebhookEvent, error)
	ListExhaustedWebhookEvents(ctx context.Context, minRetries, limit int) ([]model.WebhookEvent, error)
}

// QuotaStore persists per-tenant usage counters with atomic reservation.
type QuotaStore interface {
	GetPlanLimit(ctx context.Context, tenantID string, resource model.ResourceType) (int64, error)
	EnsureUsageCounter(ctx context.Context, tenantID string, resource model.ResourceType, period string, limit int64) error
	// TryIncrementUsage performs the limit check and the increment in one
	// conditional update. It reports whether the reservation was granted.
	TryIncrementUsage(ctx context.Context, tenantID string, resource model.ResourceType, period string, amount int64) (bool, error)
	DecrementUsage(ctx context.Context, tenantID string, resource model.ResourceType, period string, amount int64) error
	GetUsageCounter(ctx context.Context, tenantID string, resource model.ResourceType, period string) (*model.UsageCounter, error)
}

// CategoryStore persists internal categories.
type CategoryStore interface {
	GetCategories(ctx context.Context) ([]model.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*model.Category, error)
	CreateCategory(ctx context.Context, category *model.Category) (*model.Category, error)
}

// LeaseStore provides the lease rows backing the distributed lock.
type LeaseStore interface {
	// AcquireLease inserts or steals the lease in a single conditional
	// upsert. A held, unexpired lease owned by someone else is not stolen.
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, owner string) error
}

// KVStore is a shared key-value store with atomic conditional writes,
// used for cross-process state such as the rate-limiter token bucket.
type KVStore interface {
	GetKV(ctx context.Context, key string) (string, bool, error)
	PutKVIfAbsent(ctx context.Context, key, value string) (bool, error)
	CompareAndSwapKV(ctx context.Context, key, oldValue, newValue string) (bool, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	ConnectionStore
	AccountStore
	TransactionStore
	WebhookEventStore
	QuotaStore
	CategoryStore
	LeaseStore
	KVStore

	Migrate(ctx context.Context) error
	Close() error
}
