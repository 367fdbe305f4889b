package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents one bank account under an aggregator connection.
// The balance is always overwritten with the aggregator's latest value;
// the aggregator is the source of truth.
type Account struct {
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExternalID   string
	ConnectionID int64
	Name         string
	Type         string
	Currency     string
	Balance      decimal.Decimal
	ID           int64
	Active       bool
}
