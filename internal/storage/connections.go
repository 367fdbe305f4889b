package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/model"
)

const connectionColumns = `id, external_id, tenant_id, status, error_code, error_message,
	encrypted_mfa, last_sync_at, active, created_at, updated_at`

// CreateConnection inserts a new connection record.
func (s *SQLiteStorage) CreateConnection(ctx context.Context, conn *model.Connection) (*model.Connection, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("connection cannot be nil")
	}
	if err := validateString(conn.ExternalID, "externalID"); err != nil {
		return nil, err
	}
	if err := validateString(conn.TenantID, "tenantID"); err != nil {
		return nil, err
	}

	if conn.Status == "" {
		conn.Status = model.ConnectionStatusPending
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (external_id, tenant_id, status, encrypted_mfa, active)
		VALUES (?, ?, ?, ?, 1)`,
		conn.ExternalID, conn.TenantID, string(conn.Status), conn.EncryptedMFA,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("connection %s: %w", conn.ExternalID, common.ErrDuplicateEntry)
		}
		return nil, fmt.Errorf("failed to insert connection: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection id: %w", err)
	}

	return s.GetConnection(ctx, id)
}

// GetConnection returns a connection by its internal id.
func (s *SQLiteStorage) GetConnection(ctx context.Context, id int64) (*model.Connection, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id)
	return scanConnection(row)
}

// GetConnectionByExternalID returns a connection by the aggregator-assigned id.
func (s *SQLiteStorage) GetConnectionByExternalID(ctx context.Context, externalID string) (*model.Connection, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(externalID, "externalID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE external_id = ?`, externalID)
	return scanConnection(row)
}

// ListActiveConnections returns every active connection.
func (s *SQLiteStorage) ListActiveConnections(ctx context.Context) ([]model.Connection, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectConnections(rows)
}

// ListStaleConnections returns active connections whose last successful sync
// is older than the given cutoff, including those never synced at all.
func (s *SQLiteStorage) ListStaleConnections(ctx context.Context, olderThan time.Time) ([]model.Connection, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+connectionColumns+` FROM connections
		WHERE active = 1 AND (last_sync_at IS NULL OR last_sync_at < ?)
		ORDER BY last_sync_at`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectConnections(rows)
}

// UpdateConnectionStatus records the outcome of a sync attempt on the connection.
func (s *SQLiteStorage) UpdateConnectionStatus(ctx context.Context, id int64, status model.ConnectionStatus, errorCode, errorMessage string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE connections
		SET status = ?, error_code = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		string(status), errorCode, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	return requireRowAffected(res, "connection", id)
}

// UpdateConnectionSyncTime advances last_sync_at.
func (s *SQLiteStorage) UpdateConnectionSyncTime(ctx context.Context, id int64, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE connections SET last_sync_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update connection sync time: %w", err)
	}
	return requireRowAffected(res, "connection", id)
}

// UpdateConnectionMFA replaces the encrypted MFA blob.
func (s *SQLiteStorage) UpdateConnectionMFA(ctx context.Context, id int64, encryptedMFA string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE connections SET encrypted_mfa = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		encryptedMFA, id)
	if err != nil {
		return fmt.Errorf("failed to update connection mfa: %w", err)
	}
	return requireRowAffected(res, "connection", id)
}

// DeactivateConnection soft-deactivates a connection. Rows are never deleted;
// the history must survive for auditing.
func (s *SQLiteStorage) DeactivateConnection(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE connections SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate connection: %w", err)
	}
	return requireRowAffected(res, "connection", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*model.Connection, error) {
	var conn model.Connection
	var lastSync sql.NullTime
	err := row.Scan(
		&conn.ID, &conn.ExternalID, &conn.TenantID, &conn.Status,
		&conn.ErrorCode, &conn.ErrorMessage, &conn.EncryptedMFA,
		&lastSync, &conn.Active, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}
	if lastSync.Valid {
		t := lastSync.Time
		conn.LastSyncAt = &t
	}
	return &conn, nil
}

func collectConnections(rows *sql.Rows) ([]model.Connection, error) {
	var connections []model.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, *conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return connections, nil
}

func requireRowAffected(res sql.Result, entity string, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, common.ErrNotFound)
	}
	return nil
}
