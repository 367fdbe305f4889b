package storage

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease attempts to take the lease in a single conditional upsert.
// A missing or expired lease is taken; a live lease held by another owner is
// left alone. The single-statement form is what makes concurrent acquisition
// safe: two callers can never both observe "free" and both write.
func (s *SQLiteStorage) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(key, "key"); err != nil {
		return false, err
	}
	if err := validateString(owner, "owner"); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (key, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE leases.expires_at <= ? OR leases.owner = excluded.owner`,
		key, owner, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return affected == 1, nil
}

// ReleaseLease deletes the lease only if the caller still owns it. Releasing
// an expired lease someone else has since taken must be a no-op.
func (s *SQLiteStorage) ReleaseLease(ctx context.Context, key, owner string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(key, "key"); err != nil {
		return err
	}
	if err := validateString(owner, "owner"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE key = ? AND owner = ?`, key, owner)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
