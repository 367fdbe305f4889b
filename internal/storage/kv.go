package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetKV returns the value for a key and whether the key exists.
func (s *SQLiteStorage) GetKV(ctx context.Context, key string) (string, bool, error) {
	if err := validateContext(ctx); err != nil {
		return "", false, err
	}
	if err := validateString(key, "key"); err != nil {
		return "", false, err
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query kv: %w", err)
	}
	return value, true, nil
}

// PutKVIfAbsent inserts the key only if it does not exist yet.
func (s *SQLiteStorage) PutKVIfAbsent(ctx context.Context, key, value string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(key, "key"); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO NOTHING`, key, value)
	if err != nil {
		return false, fmt.Errorf("failed to put kv: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return affected == 1, nil
}

// CompareAndSwapKV replaces the value only if the stored value still matches
// oldValue. This is the atomic primitive the token bucket is built on.
func (s *SQLiteStorage) CompareAndSwapKV(ctx context.Context, key, oldValue, newValue string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(key, "key"); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE kv_state SET value = ? WHERE key = ? AND value = ?`,
		newValue, key, oldValue)
	if err != nil {
		return false, fmt.Errorf("failed to compare-and-swap kv: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return affected == 1, nil
}
