package storage_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openledger/banksync/internal/model"
	"github.com/openledger/banksync/internal/testutil"
)

func TestInsertWebhookEventIdempotency(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	event := &model.WebhookEvent{
		EventID: "evt-1",
		Source:  "openfinance",
		Type:    "item/updated",
		Payload: `{"itemId":"item-1"}`,
	}

	first, duplicate, err := store.InsertWebhookEvent(ctx, event)
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, model.WebhookStatusReceived, first.Status)

	// Redelivery of the same (event_id, source) returns the existing row.
	second, duplicate, err := store.InsertWebhookEvent(ctx, event)
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Equal(t, first.ID, second.ID)

	// The same event id from a different source is a distinct event.
	other, duplicate, err := store.InsertWebhookEvent(ctx, &model.WebhookEvent{
		EventID: "evt-1",
		Source:  "other-aggregator",
		Type:    "item/updated",
	})
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestInsertWebhookEventConcurrent(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	// N concurrent deliveries of the same event: exactly one caller sees a
	// fresh row, the rest observe the duplicate flag.
	const deliveries = 10

	var (
		wg    sync.WaitGroup
		fresh atomic.Int64
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, duplicate, err := store.InsertWebhookEvent(ctx, &model.WebhookEvent{
				EventID: "evt-race",
				Source:  "openfinance",
				Type:    "item/updated",
				Payload: `{"itemId":"item-1"}`,
			})
			assert.NoError(t, err)
			if !duplicate {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), fresh.Load(), "exactly one delivery may create the row")
}

func TestUpdateWebhookEvent(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	event, _, err := store.InsertWebhookEvent(ctx, &model.WebhookEvent{
		EventID: "evt-1",
		Source:  "openfinance",
		Type:    "item/updated",
	})
	require.NoError(t, err)

	event.Status = model.WebhookStatusFailed
	event.Result = "boom"
	event.RetryCount = 2
	require.NoError(t, store.UpdateWebhookEvent(ctx, event))

	got, err := store.GetWebhookEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WebhookStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Result)
	assert.Equal(t, 2, got.RetryCount)
}

func TestListWebhookEventsByRetryBudget(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	seed := func(id string, status model.WebhookEventStatus, retries int) {
		event, _, err := store.InsertWebhookEvent(ctx, &model.WebhookEvent{
			EventID: id,
			Source:  "openfinance",
			Type:    "item/updated",
		})
		require.NoError(t, err)
		event.Status = status
		event.RetryCount = retries
		require.NoError(t, store.UpdateWebhookEvent(ctx, event))
	}

	seed("evt-retryable", model.WebhookStatusFailed, 1)
	seed("evt-exhausted", model.WebhookStatusFailed, 3)
	seed("evt-done", model.WebhookStatusCompleted, 0)

	retryable, err := store.ListWebhookEventsByStatus(ctx, model.WebhookStatusFailed, 3, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, "evt-retryable", retryable[0].EventID)

	exhausted, err := store.ListExhaustedWebhookEvents(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, "evt-exhausted", exhausted[0].EventID)
}
