// Package webhook receives aggregator event notifications and turns them
// into sync work.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/ledger"
	"github.com/openledger/banksync/internal/model"
	"github.com/openledger/banksync/internal/service"
)

// Event types the aggregator delivers. Anything else is recorded and ignored.
const (
	EventItemCreated         = "item/created"
	EventItemUpdated         = "item/updated"
	EventItemError           = "item/error"
	EventItemWaitingInput    = "item/waiting_user_input"
	EventTransactionsCreated = "transactions/created"
)

// Syncer triggers a reconciliation for one connection.
type Syncer interface {
	SyncConnection(ctx context.Context, connectionID int64, trigger model.SyncTrigger) (*model.SyncSummary, error)
}

// Processor drains recorded webhook events through a bounded worker pool.
// Each worker owns an event exclusively from dequeue to terminal status.
type Processor struct {
	ledger      *ledger.Ledger
	connections service.ConnectionStore
	syncer      Syncer
	logger      *slog.Logger

	queue chan *model.WebhookEvent
	wg    sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	workers   int
}

// NewProcessor creates a processor with the given worker count.
func NewProcessor(lg *ledger.Ledger, connections service.ConnectionStore, syncer Syncer, workers, queueDepth int) *Processor {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Processor{
		ledger:      lg,
		connections: connections,
		syncer:      syncer,
		logger:      slog.Default().With("component", "webhook"),
		queue:       make(chan *model.WebhookEvent, queueDepth),
		workers:     workers,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled and the
// queue has drained.
func (p *Processor) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx)
		}
		p.logger.Info("webhook workers started", "workers", p.workers)
	})
}

// Stop closes the queue and waits for in-flight events to finish.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.queue)
		p.wg.Wait()
		p.logger.Info("webhook workers stopped")
	})
}

// Enqueue hands an event to the pool. It reports false when the queue is
// full; the event stays in the ledger and the next sweep picks it up.
func (p *Processor) Enqueue(event *model.WebhookEvent) bool {
	select {
	case p.queue <- event:
		return true
	default:
		p.logger.Warn("webhook queue full, deferring to sweep",
			"event_id", event.EventID,
			"source", event.Source)
		return false
	}
}

// Sweep re-enqueues failed events that still have retry budget. It is meant
// to run periodically so transient failures resolve without redelivery from
// the aggregator.
func (p *Processor) Sweep(ctx context.Context, limit int) (int, error) {
	events, err := p.ledger.ListRetryable(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list retryable events: %w", err)
	}

	enqueued := 0
	for i := range events {
		// Reset to received so the worker's processing transition is valid.
		events[i].Status = model.WebhookStatusReceived
		if p.Enqueue(&events[i]) {
			enqueued++
		}
	}

	if enqueued > 0 {
		p.logger.Info("swept failed webhook events", "enqueued", enqueued)
	}
	return enqueued, nil
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for event := range p.queue {
		p.process(ctx, event)
	}
}

// process drives one event to a terminal status. Every path ends in
// completed, failed, or ignored; nothing is left in processing.
func (p *Processor) process(ctx context.Context, event *model.WebhookEvent) {
	if err := p.ledger.MarkProcessing(ctx, event); err != nil {
		p.logger.Error("failed to mark event processing",
			"event_id", event.EventID,
			"error", err)
		return
	}

	switch event.Type {
	case EventItemCreated, EventItemUpdated, EventTransactionsCreated:
		p.handleSyncEvent(ctx, event)
	case EventItemError, EventItemWaitingInput:
		p.handleItemProblem(ctx, event)
	default:
		p.markIgnored(ctx, event, "unhandled event type "+event.Type)
	}
}

// handleSyncEvent resolves the connection and runs a webhook-triggered sync.
func (p *Processor) handleSyncEvent(ctx context.Context, event *model.WebhookEvent) {
	conn, ok := p.resolveConnection(ctx, event)
	if !ok {
		return
	}

	summary, err := p.syncer.SyncConnection(ctx, conn.ID, model.SyncTriggerWebhook)
	if err != nil {
		p.markFailed(ctx, event, err)
		return
	}

	switch summary.Outcome {
	case model.SyncOutcomeLockContended:
		// A sync is already running for this connection and will pick up the
		// same data; the event's work is effectively done.
		p.markCompleted(ctx, event, "sync already in flight")
	case model.SyncOutcomeRequiresAuth:
		p.markCompleted(ctx, event, "connection requires user action")
	default:
		p.markCompleted(ctx, event, fmt.Sprintf("created %d of %d transactions", summary.Created, summary.TransactionsFound))
	}
}

// handleItemProblem records the degraded status the aggregator reported
// without attempting a fetch that would fail anyway.
func (p *Processor) handleItemProblem(ctx context.Context, event *model.WebhookEvent) {
	conn, ok := p.resolveConnection(ctx, event)
	if !ok {
		return
	}

	status := model.ConnectionStatusLoginError
	if event.Type == EventItemWaitingInput {
		status = model.ConnectionStatusRequiresAuth
	}

	if err := p.connections.UpdateConnectionStatus(ctx, conn.ID, status, strings.ToUpper(event.Type), "reported by aggregator webhook"); err != nil {
		p.markFailed(ctx, event, err)
		return
	}
	p.markCompleted(ctx, event, "connection marked "+string(status))
}

// resolveConnection looks up the local connection for the event's item. The
// item id is read from the stored payload so swept events resolve the same
// way as freshly delivered ones. An unknown item is ignored, not failed:
// retrying cannot make it known.
func (p *Processor) resolveConnection(ctx context.Context, event *model.WebhookEvent) (*model.Connection, bool) {
	itemID := itemIDFromPayload(event.Payload)
	if itemID == "" {
		p.markIgnored(ctx, event, "event has no item id")
		return nil, false
	}

	conn, err := p.connections.GetConnectionByExternalID(ctx, itemID)
	if errors.Is(err, common.ErrNotFound) {
		p.markIgnored(ctx, event, "no connection for item "+itemID)
		return nil, false
	}
	if err != nil {
		p.markFailed(ctx, event, err)
		return nil, false
	}
	return conn, true
}

// itemIDFromPayload extracts the aggregator item id from the raw event body.
func itemIDFromPayload(payload string) string {
	var body struct {
		ItemID string `json:"itemId"`
		Data   struct {
			ItemID string `json:"itemId"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return ""
	}
	if body.ItemID != "" {
		return body.ItemID
	}
	return body.Data.ItemID
}

func (p *Processor) markCompleted(ctx context.Context, event *model.WebhookEvent, result string) {
	if err := p.ledger.MarkCompleted(ctx, event, result); err != nil {
		p.logger.Error("failed to mark event completed",
			"event_id", event.EventID,
			"error", err)
	}
}

func (p *Processor) markFailed(ctx context.Context, event *model.WebhookEvent, cause error) {
	p.logger.Warn("webhook event failed",
		"event_id", event.EventID,
		"type", event.Type,
		"retry_count", event.RetryCount,
		"error", cause)
	if err := p.ledger.MarkFailed(ctx, event, cause); err != nil {
		p.logger.Error("failed to mark event failed",
			"event_id", event.EventID,
			"error", err)
	}
}

func (p *Processor) markIgnored(ctx context.Context, event *model.WebhookEvent, reason string) {
	if err := p.ledger.MarkIgnored(ctx, event, reason); err != nil {
		p.logger.Error("failed to mark event ignored",
			"event_id", event.EventID,
			"error", err)
	}
}
