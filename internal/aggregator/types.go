package aggregator

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openledger/banksync/internal/model"
)

// Item status values reported by the aggregator.
const (
	ItemStatusUpdated          = "UPDATED"
	ItemStatusUpdating         = "UPDATING"
	ItemStatusOutdated         = "OUTDATED"
	ItemStatusLoginError       = "LOGIN_ERROR"
	ItemStatusWaitingUserInput = "WAITING_USER_INPUT"
)

// Item represents one connection on the aggregator side.
type Item struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	UpdatedAt    string `json:"updatedAt"`
}

// ConnectionStatus translates the aggregator's item status into our
// connection lifecycle.
func (i *Item) ConnectionStatus() model.ConnectionStatus {
	switch i.Status {
	case ItemStatusUpdated:
		return model.ConnectionStatusActive
	case ItemStatusUpdating:
		return model.ConnectionStatusUpdating
	case ItemStatusLoginError:
		return model.ConnectionStatusLoginError
	case ItemStatusWaitingUserInput:
		return model.ConnectionStatusRequiresAuth
	case ItemStatusOutdated:
		return model.ConnectionStatusError
	default:
		return model.ConnectionStatusError
	}
}

// RequiresUserAction reports whether the end user must intervene before the
// item can be refreshed again.
func (i *Item) RequiresUserAction() bool {
	return i.Status == ItemStatusLoginError || i.Status == ItemStatusWaitingUserInput
}

// Account represents a bank account as the aggregator reports it.
// Monetary values come over the wire as strings.
type Account struct {
	ID       string `json:"id"`
	ItemID   string `json:"itemId"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Currency string `json:"currencyCode"`
	Balance  string `json:"balance"`
}

// ParseBalance returns the account balance as a decimal.
func (a *Account) ParseBalance() (decimal.Decimal, error) {
	if a.Balance == "" {
		return decimal.Zero, nil
	}
	balance, err := decimal.NewFromString(a.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance %q: %w", a.Balance, err)
	}
	return balance, nil
}

// Transaction represents one movement as the aggregator reports it.
type Transaction struct {
	ID          string  `json:"id"`
	AccountID   string  `json:"accountId"`
	Description string  `json:"description"`
	Amount      string  `json:"amount"`
	Date        string  `json:"date"`
	Type        string  `json:"type"`
	Category    *string `json:"category"`
}

// ParseAmount returns the transaction amount as a decimal.
func (t *Transaction) ParseAmount() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(t.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount %q: %w", t.Amount, err)
	}
	return amount, nil
}

// ParseDate returns the transaction date.
func (t *Transaction) ParseDate() (time.Time, error) {
	date, err := time.Parse("2006-01-02", t.Date)
	if err != nil {
		// Some endpoints include the time component.
		date, err = time.Parse("2006-01-02 15:04:05", t.Date)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse date %q: %w", t.Date, err)
		}
	}
	return date, nil
}

// Movement maps the aggregator's transaction type onto our movement types.
func (t *Transaction) Movement() model.MovementType {
	switch t.Type {
	case "CREDIT":
		return model.MovementCredit
	case "TRANSFER":
		return model.MovementTransfer
	case "FEE":
		return model.MovementFee
	default:
		return model.MovementDebit
	}
}

// CategoryName returns the aggregator's category, or "" when uncategorized.
func (t *Transaction) CategoryName() string {
	if t.Category == nil {
		return ""
	}
	return *t.Category
}

type mfaRequest struct {
	Parameters map[string]string `json:"parameters"`
}

type authRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type authResponse struct {
	APIKey string `json:"apiKey"`
}

type itemResponse struct {
	Item Item `json:"item"`
}

type accountsResponse struct {
	Results []Account `json:"results"`
	Total   int       `json:"total"`
}

type transactionsResponse struct {
	Results    []Transaction `json:"results"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	TotalPages int           `json:"totalPages"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *errorResponse) describe(status int) string {
	if e.Code == "" && e.Message == "" {
		return strconv.Itoa(status)
	}
	return fmt.Sprintf("%d %s - %s", status, e.Code, e.Message)
}
