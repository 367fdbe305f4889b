package model

import "time"

// WebhookEventStatus tracks an inbound event through its processing lifecycle.
// Transitions are strictly forward-only; completed and ignored are terminal.
type WebhookEventStatus string

const (
	// WebhookStatusReceived is the initial state on ingestion.
	WebhookStatusReceived WebhookEventStatus = "received"
	// WebhookStatusProcessing means a worker has picked the event up.
	WebhookStatusProcessing WebhookEventStatus = "processing"
	// WebhookStatusCompleted means the event was acted upon successfully.
	WebhookStatusCompleted WebhookEventStatus = "completed"
	// WebhookStatusFailed means processing errored; the event may be retried.
	WebhookStatusFailed WebhookEventStatus = "failed"
	// WebhookStatusIgnored means the event required no action.
	WebhookStatusIgnored WebhookEventStatus = "ignored"
)

// Terminal reports whether the status permits no further transitions.
func (s WebhookEventStatus) Terminal() bool {
	return s == WebhookStatusCompleted || s == WebhookStatusIgnored
}

// WebhookEvent is the durable record of one inbound aggregator notification.
//
// (EventID, Source) is unique and serves as the idempotency key: exactly one
// row ever exists per delivered event, however many times it is delivered.
// Events are never deleted (audit requirement).
type WebhookEvent struct {
	ReceivedAt   time.Time
	UpdatedAt    time.Time
	EventID      string
	Source       string
	Type         string
	Payload      string
	Status       WebhookEventStatus
	Result       string
	ConnectionID *int64
	AccountID    *int64
	ID           int64
	RetryCount   int
}
