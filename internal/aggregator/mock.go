package aggregator

import (
	"context"
	"time"
)

// MockAPI is a mock implementation of API for testing.
type MockAPI struct {
	// Functions that can be set by tests to control behavior
	GetItemFn         func(ctx context.Context, itemID string) (*Item, error)
	SendMFAFn         func(ctx context.Context, itemID string, parameters map[string]string) (*Item, error)
	GetAccountsFn     func(ctx context.Context, itemID string) ([]Account, error)
	GetTransactionsFn func(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error)

	// Call tracking
	GetItemCalls         int
	GetAccountsCalls     int
	SendMFACalls         []SendMFACall
	GetTransactionsCalls []GetTransactionsCall
}

// SendMFACall records the parameters of a SendMFA call.
type SendMFACall struct {
	Parameters map[string]string
	ItemID     string
}

// GetTransactionsCall records the parameters of a GetTransactions call.
type GetTransactionsCall struct {
	From      time.Time
	To        time.Time
	AccountID string
}

// NewMockAPI creates a new mock aggregator client.
func NewMockAPI() *MockAPI {
	return &MockAPI{}
}

// GetItem implements API.GetItem.
func (m *MockAPI) GetItem(ctx context.Context, itemID string) (*Item, error) {
	m.GetItemCalls++
	if m.GetItemFn != nil {
		return m.GetItemFn(ctx, itemID)
	}
	return &Item{ID: itemID, Status: ItemStatusUpdated}, nil
}

// SendMFA implements API.SendMFA.
func (m *MockAPI) SendMFA(ctx context.Context, itemID string, parameters map[string]string) (*Item, error) {
	m.SendMFACalls = append(m.SendMFACalls, SendMFACall{
		ItemID:     itemID,
		Parameters: parameters,
	})
	if m.SendMFAFn != nil {
		return m.SendMFAFn(ctx, itemID, parameters)
	}
	return &Item{ID: itemID, Status: ItemStatusUpdated}, nil
}

// GetAccounts implements API.GetAccounts.
func (m *MockAPI) GetAccounts(ctx context.Context, itemID string) ([]Account, error) {
	m.GetAccountsCalls++
	if m.GetAccountsFn != nil {
		return m.GetAccountsFn(ctx, itemID)
	}
	return []Account{}, nil
}

// GetTransactions implements API.GetTransactions.
func (m *MockAPI) GetTransactions(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	m.GetTransactionsCalls = append(m.GetTransactionsCalls, GetTransactionsCall{
		AccountID: accountID,
		From:      from,
		To:        to,
	})
	if m.GetTransactionsFn != nil {
		return m.GetTransactionsFn(ctx, accountID, from, to)
	}
	return []Transaction{}, nil
}

// Ensure MockAPI implements the API interface.
var _ API = (*MockAPI)(nil)
