package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/model"
)

const webhookEventColumns = `id, event_id, source, type, status, payload, result,
	retry_count, connection_id, account_id, received_at, updated_at`

// InsertWebhookEvent records an inbound event, returning the existing row and
// duplicate=true when the (event_id, source) idempotency key already exists.
//
// The insert and the duplicate detection are one atomic statement backed by
// the unique constraint. A check-then-insert from application code would let
// two concurrent deliveries both observe "not found" and process twice.
func (s *SQLiteStorage) InsertWebhookEvent(ctx context.Context, event *model.WebhookEvent) (*model.WebhookEvent, bool, error) {
	if err := validateContext(ctx); err != nil {
		return nil, false, err
	}
	if event == nil {
		return nil, false, fmt.Errorf("event cannot be nil")
	}
	if err := validateString(event.EventID, "eventID"); err != nil {
		return nil, false, err
	}
	if err := validateString(event.Source, "source"); err != nil {
		return nil, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, source, type, status, payload, connection_id, account_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, source) DO NOTHING`,
		event.EventID, event.Source, event.Type, string(model.WebhookStatusReceived),
		event.Payload, nullableID(event.ConnectionID), nullableID(event.AccountID),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert webhook event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	stored, err := s.getWebhookEventByKey(ctx, event.EventID, event.Source)
	if err != nil {
		return nil, false, err
	}
	return stored, affected == 0, nil
}

// GetWebhookEvent returns an event by its internal id.
func (s *SQLiteStorage) GetWebhookEvent(ctx context.Context, id int64) (*model.WebhookEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events WHERE id = ?`, id)
	return scanWebhookEvent(row)
}

func (s *SQLiteStorage) getWebhookEventByKey(ctx context.Context, eventID, source string) (*model.WebhookEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE event_id = ? AND source = ?`, eventID, source)
	return scanWebhookEvent(row)
}

// UpdateWebhookEvent persists status, result, links, and retry count.
func (s *SQLiteStorage) UpdateWebhookEvent(ctx context.Context, event *model.WebhookEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if err := validateID(event.ID, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = ?, result = ?, retry_count = ?, connection_id = ?, account_id = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		string(event.Status), event.Result, event.RetryCount,
		nullableID(event.ConnectionID), nullableID(event.AccountID), event.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook event: %w", err)
	}
	return requireRowAffected(res, "webhook event", event.ID)
}

// ListWebhookEventsByStatus returns events in the given status whose retry
// count is below maxRetries, oldest first.
func (s *SQLiteStorage) ListWebhookEventsByStatus(ctx context.Context, status model.WebhookEventStatus, maxRetries, limit int) ([]model.WebhookEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE status = ? AND retry_count < ?
		ORDER BY received_at LIMIT ?`,
		string(status), maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectWebhookEvents(rows)
}

// ListExhaustedWebhookEvents returns failed events that have used up their
// retry budget and need manual review.
func (s *SQLiteStorage) ListExhaustedWebhookEvents(ctx context.Context, minRetries, limit int) ([]model.WebhookEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE status = ? AND retry_count >= ?
		ORDER BY received_at LIMIT ?`,
		string(model.WebhookStatusFailed), minRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exhausted webhook events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectWebhookEvents(rows)
}

func collectWebhookEvents(rows *sql.Rows) ([]model.WebhookEvent, error) {
	var events []model.WebhookEvent
	for rows.Next() {
		event, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}
	return events, nil
}

func scanWebhookEvent(row rowScanner) (*model.WebhookEvent, error) {
	var event model.WebhookEvent
	var connectionID, accountID sql.NullInt64
	err := row.Scan(
		&event.ID, &event.EventID, &event.Source, &event.Type, &event.Status,
		&event.Payload, &event.Result, &event.RetryCount,
		&connectionID, &accountID, &event.ReceivedAt, &event.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook event: %w", err)
	}
	if connectionID.Valid {
		id := connectionID.Int64
		event.ConnectionID = &id
	}
	if accountID.Valid {
		id := accountID.Int64
		event.AccountID = &id
	}
	return &event, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
