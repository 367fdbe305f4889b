package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SyncTrigger identifies what initiated a sync attempt.
type SyncTrigger string

const (
	// SyncTriggerManual is a user- or admin-initiated sync.
	SyncTriggerManual SyncTrigger = "manual"
	// SyncTriggerScheduled is the periodic staleness sweep.
	SyncTriggerScheduled SyncTrigger = "scheduled"
	// SyncTriggerWebhook is a sync dispatched from an aggregator notification.
	SyncTriggerWebhook SyncTrigger = "webhook"
)

// SyncOutcome is the final disposition of one sync attempt.
type SyncOutcome string

const (
	// SyncOutcomeCompleted means the sync ran to the end.
	SyncOutcomeCompleted SyncOutcome = "completed"
	// SyncOutcomeLockContended means another sync held the connection lock.
	// Not an error: the other sync is doing the work.
	SyncOutcomeLockContended SyncOutcome = "lock_contended"
	// SyncOutcomeRequiresAuth means the user must re-authenticate first.
	SyncOutcomeRequiresAuth SyncOutcome = "requires_auth"
	// SyncOutcomeFailed means a step errored and the sync was aborted.
	SyncOutcomeFailed SyncOutcome = "failed"
)

// AccountBalance pairs an account with its freshly synced balance.
type AccountBalance struct {
	ExternalID string
	Currency   string
	Balance    decimal.Decimal
}

// SyncSummary reports the outcome of one sync attempt for one connection.
type SyncSummary struct {
	StartedAt         time.Time
	FinishedAt        time.Time
	Trigger           SyncTrigger
	Outcome           SyncOutcome
	ConnectionStatus  ConnectionStatus
	Error             string
	Balances          []AccountBalance
	ConnectionID      int64
	TransactionsFound int
	Created           int
	SkippedDuplicates int
	QuotaDenied       int
}
