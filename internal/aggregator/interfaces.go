package aggregator

import (
	"context"
	"time"
)

// API defines the contract for talking to the aggregator.
// This interface allows for easy mocking in tests.
type API interface {
	GetItem(ctx context.Context, itemID string) (*Item, error)
	// SendMFA answers a pending multi-factor challenge on an item that is
	// waiting for user input and returns the item's refreshed status.
	SendMFA(ctx context.Context, itemID string, parameters map[string]string) (*Item, error)
	GetAccounts(ctx context.Context, itemID string) ([]Account, error)
	GetTransactions(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error)
}
