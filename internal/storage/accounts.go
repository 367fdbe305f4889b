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

const accountColumns = `id, connection_id, external_id, name, type, currency, balance,
	active, created_at, updated_at`

// GetAccountByExternalID returns the account for (connection, external id).
func (s *SQLiteStorage) GetAccountByExternalID(ctx context.Context, connectionID int64, externalID string) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(connectionID, "connectionID"); err != nil {
		return nil, err
	}
	if err := validateString(externalID, "externalID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE connection_id = ? AND external_id = ?`,
		connectionID, externalID)
	return scanAccount(row)
}

// ListAccountsByConnection returns all accounts under a connection.
func (s *SQLiteStorage) ListAccountsByConnection(ctx context.Context, connectionID int64) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(connectionID, "connectionID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE connection_id = ? ORDER BY id`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// UpsertAccount inserts the account or overwrites its mutable fields.
// The balance is always last-writer-wins: the aggregator is the source of truth.
func (s *SQLiteStorage) UpsertAccount(ctx context.Context, account *model.Account) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account cannot be nil")
	}
	if err := validateID(account.ConnectionID, "connectionID"); err != nil {
		return nil, err
	}
	if err := validateString(account.ExternalID, "externalID"); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (connection_id, external_id, name, type, currency, balance, active)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(connection_id, external_id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			currency = excluded.currency,
			balance = excluded.balance,
			active = 1,
			updated_at = CURRENT_TIMESTAMP`,
		account.ConnectionID, account.ExternalID, account.Name,
		account.Type, account.Currency, account.Balance.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}

	return s.GetAccountByExternalID(ctx, account.ConnectionID, account.ExternalID)
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var account model.Account
	var balance string
	err := row.Scan(
		&account.ID, &account.ConnectionID, &account.ExternalID,
		&account.Name, &account.Type, &account.Currency, &balance,
		&account.Active, &account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	account.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", balance, err)
	}
	return &account, nil
}
