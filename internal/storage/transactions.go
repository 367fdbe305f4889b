package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/model"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, account_id, external_id, description, amount, movement,
	date, category_id, created_at`

// TransactionExists reports whether a transaction with the given dedup key
// (account, external id) has already been ingested.
func (s *SQLiteStorage) TransactionExists(ctx context.Context, accountID int64, externalID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateID(accountID, "accountID"); err != nil {
		return false, err
	}
	if err := validateString(externalID, "externalID"); err != nil {
		return false, err
	}

	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM transactions WHERE account_id = ? AND external_id = ?`,
		accountID, externalID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check transaction existence: %w", err)
	}
	return true, nil
}

// CreateTransaction inserts a new transaction. The UNIQUE(account_id,
// external_id) constraint is the idempotency guarantee: a concurrent insert
// of the same movement surfaces as ErrDuplicateEntry, never a second row.
func (s *SQLiteStorage) CreateTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, fmt.Errorf("transaction cannot be nil")
	}
	if err := validateID(txn.AccountID, "accountID"); err != nil {
		return nil, err
	}
	if err := validateString(txn.ExternalID, "externalID"); err != nil {
		return nil, err
	}
	if txn.Date.IsZero() {
		return nil, fmt.Errorf("transaction date is required")
	}

	var categoryID any
	if txn.CategoryID != nil {
		categoryID = *txn.CategoryID
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (account_id, external_id, description, amount, movement, date, category_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		txn.AccountID, txn.ExternalID, txn.Description,
		txn.Amount.String(), string(txn.Movement), txn.Date.UTC(), categoryID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("transaction %s: %w", txn.ExternalID, common.ErrDuplicateEntry)
		}
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction id: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	return scanTransaction(row)
}

// SetTransactionCategory backfills the category on an existing transaction.
// This is the only mutation transactions ever receive after creation.
func (s *SQLiteStorage) SetTransactionCategory(ctx context.Context, id, categoryID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}
	if err := validateID(categoryID, "categoryID"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET category_id = ? WHERE id = ?`, categoryID, id)
	if err != nil {
		return fmt.Errorf("failed to set transaction category: %w", err)
	}
	return requireRowAffected(res, "transaction", id)
}

// ListTransactionsByAccount returns the most recent transactions for an account.
func (s *SQLiteStorage) ListTransactionsByAccount(ctx context.Context, accountID int64, limit int) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(accountID, "accountID"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = ? ORDER BY date DESC, id DESC LIMIT ?`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

// CountTransactionsByAccount returns the number of stored transactions for an account.
func (s *SQLiteStorage) CountTransactionsByAccount(ctx context.Context, accountID int64) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateID(accountID, "accountID"); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = ?`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var amount string
	var categoryID sql.NullInt64
	err := row.Scan(
		&txn.ID, &txn.AccountID, &txn.ExternalID, &txn.Description,
		&amount, &txn.Movement, &txn.Date, &categoryID, &txn.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	txn.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if categoryID.Valid {
		id := categoryID.Int64
		txn.CategoryID = &id
	}
	return &txn, nil
}
