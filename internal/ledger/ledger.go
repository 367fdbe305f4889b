// Package ledger provides the durable idempotency record for inbound
// webhook events.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openledger/banksync/internal/model"
	"github.com/openledger/banksync/internal/service"
)

// DefaultRetryCeiling is how many failures an event may accumulate before it
// stops being retried and is surfaced for manual review.
const DefaultRetryCeiling = 3

// Ledger guarantees each inbound event is acted upon at most once.
type Ledger struct {
	store        service.WebhookEventStore
	logger       *slog.Logger
	retryCeiling int
}

// New creates a webhook ledger over the given store.
func New(store service.WebhookEventStore, retryCeiling int) *Ledger {
	if retryCeiling <= 0 {
		retryCeiling = DefaultRetryCeiling
	}
	return &Ledger{
		store:        store,
		logger:       slog.Default().With("component", "ledger"),
		retryCeiling: retryCeiling,
	}
}

// RecordIncoming inserts the event or returns the existing row for the same
// (eventID, source). Callers must check duplicate and skip processing when it
// is true: the guarantee is at-most-once effective processing, and the
// underlying unique constraint makes the insert-or-fetch atomic even when the
// same event arrives on two workers simultaneously.
func (l *Ledger) RecordIncoming(ctx context.Context, eventID, source, eventType, payload string) (*model.WebhookEvent, bool, error) {
	event, duplicate, err := l.store.InsertWebhookEvent(ctx, &model.WebhookEvent{
		EventID: eventID,
		Source:  source,
		Type:    eventType,
		Payload: payload,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to record webhook event: %w", err)
	}

	if duplicate {
		l.logger.Info("duplicate webhook delivery",
			"event_id", eventID,
			"source", source,
			"status", event.Status)
	}
	return event, duplicate, nil
}

// MarkProcessing transitions the event to processing.
func (l *Ledger) MarkProcessing(ctx context.Context, event *model.WebhookEvent) error {
	return l.transition(ctx, event, model.WebhookStatusProcessing, "")
}

// MarkCompleted transitions the event to completed with a result summary.
func (l *Ledger) MarkCompleted(ctx context.Context, event *model.WebhookEvent, resultSummary string) error {
	return l.transition(ctx, event, model.WebhookStatusCompleted, resultSummary)
}

// MarkFailed transitions the event to failed and counts the attempt against
// its retry budget.
func (l *Ledger) MarkFailed(ctx context.Context, event *model.WebhookEvent, cause error) error {
	if event.Status.Terminal() {
		l.logWarnTerminal(event, model.WebhookStatusFailed)
		return nil
	}
	event.RetryCount++
	return l.transition(ctx, event, model.WebhookStatusFailed, cause.Error())
}

// MarkIgnored transitions the event to ignored with a reason.
func (l *Ledger) MarkIgnored(ctx context.Context, event *model.WebhookEvent, reason string) error {
	return l.transition(ctx, event, model.WebhookStatusIgnored, reason)
}

// transition enforces forward-only status movement. Attempting to leave a
// terminal status is a warned no-op, not an error: duplicate deliveries and
// racing workers make late transitions normal.
func (l *Ledger) transition(ctx context.Context, event *model.WebhookEvent, to model.WebhookEventStatus, result string) error {
	if event.Status.Terminal() {
		l.logWarnTerminal(event, to)
		return nil
	}

	event.Status = to
	if result != "" {
		event.Result = result
	}

	if err := l.store.UpdateWebhookEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to transition webhook event %d to %s: %w", event.ID, to, err)
	}
	return nil
}

func (l *Ledger) logWarnTerminal(event *model.WebhookEvent, to model.WebhookEventStatus) {
	l.logger.Warn("ignoring transition from terminal webhook status",
		"event_id", event.EventID,
		"source", event.Source,
		"from", event.Status,
		"to", to)
}

// ListRetryable returns failed events still within their retry budget.
func (l *Ledger) ListRetryable(ctx context.Context, limit int) ([]model.WebhookEvent, error) {
	return l.store.ListWebhookEventsByStatus(ctx, model.WebhookStatusFailed, l.retryCeiling, limit)
}

// ListExhausted returns failed events past the retry ceiling; these need
// human attention.
func (l *Ledger) ListExhausted(ctx context.Context, limit int) ([]model.WebhookEvent, error) {
	return l.store.ListExhaustedWebhookEvents(ctx, l.retryCeiling, limit)
}
