package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType classifies the direction of a financial movement.
type MovementType string

const (
	// MovementCredit is money flowing into the account.
	MovementCredit MovementType = "credit"
	// MovementDebit is money flowing out of the account.
	MovementDebit MovementType = "debit"
	// MovementTransfer moves money between accounts of the same owner.
	MovementTransfer MovementType = "transfer"
	// MovementFee is a charge applied by the institution.
	MovementFee MovementType = "fee"
)

// Transaction represents a single immutable financial movement.
//
// (AccountID, ExternalID) is unique and serves as the dedup key for
// idempotent ingestion. A stored transaction is never updated afterwards,
// except to backfill a category.
type Transaction struct {
	Date        time.Time
	CreatedAt   time.Time
	ExternalID  string
	Description string
	Movement    MovementType
	Amount      decimal.Decimal
	AccountID   int64
	CategoryID  *int64
	ID          int64
}

// IsIncome reports whether the movement increases the account balance.
func (t *Transaction) IsIncome() bool {
	return t.Movement == MovementCredit
}
