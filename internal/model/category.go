package model

import "time"

// CategoryType indicates whether a category is for income, expense, or system use.
type CategoryType string

const (
	// CategoryTypeIncome represents categories for income transactions.
	CategoryTypeIncome CategoryType = "income"
	// CategoryTypeExpense represents categories for expense transactions.
	CategoryTypeExpense CategoryType = "expense"
	// CategoryTypeSystem represents system-managed categories (e.g., transfers).
	CategoryTypeSystem CategoryType = "system"
)

// TypeForMovement returns the category type a movement may legitimately map to.
func TypeForMovement(m MovementType) CategoryType {
	switch m {
	case MovementCredit:
		return CategoryTypeIncome
	case MovementTransfer:
		return CategoryTypeSystem
	default:
		return CategoryTypeExpense
	}
}

// Category represents an internal transaction category.
type Category struct {
	CreatedAt          time.Time
	Name               string
	Description        string
	Type               CategoryType
	Confidence         float64
	ID                 int64
	ExternallySourced  bool
	IsActive           bool
}
