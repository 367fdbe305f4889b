package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openledger/banksync/internal/ledger"
	"github.com/openledger/banksync/internal/model"
	"github.com/openledger/banksync/internal/storage"
	"github.com/openledger/banksync/internal/testutil"
)

type serverFixture struct {
	store     *storage.SQLiteStorage
	processor *Processor
	server    *Server
}

func setupServer(t *testing.T) *serverFixture {
	t.Helper()

	store := testutil.SetupTestDB(t)
	lg := ledger.New(store, 3)
	// Workers stay unstarted so enqueued events sit in the buffer where the
	// tests can count them.
	processor := NewProcessor(lg, store, &fakeSyncer{}, 1, 16)

	return &serverFixture{
		store:     store,
		processor: processor,
		server:    NewServer(":0", lg, processor, "openfinance"),
	}
}

func (f *serverFixture) post(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/aggregator", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.handleEvent(rec, req)
	return rec
}

func TestServerRecordsAndEnqueues(t *testing.T) {
	f := setupServer(t)

	rec := f.post(`{"id":"evt-1","event":"item/updated","itemId":"item-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.processor.queue, 1)
	event := <-f.processor.queue
	assert.Equal(t, "evt-1", event.EventID)
	assert.Equal(t, "openfinance", event.Source)
	assert.Equal(t, "item/updated", event.Type)
	assert.Equal(t, model.WebhookStatusReceived, event.Status)
	assert.Contains(t, event.Payload, `"itemId":"item-1"`)
}

func TestServerDuplicateDeliveryNotRequeued(t *testing.T) {
	f := setupServer(t)

	body := `{"id":"evt-1","event":"item/updated","itemId":"item-1"}`
	assert.Equal(t, http.StatusOK, f.post(body).Code)
	assert.Equal(t, http.StatusOK, f.post(body).Code, "redelivery is acknowledged, not rejected")

	assert.Len(t, f.processor.queue, 1, "the duplicate must not be processed twice")
}

func TestServerSynthesizesMissingEventID(t *testing.T) {
	f := setupServer(t)

	rec := f.post(`{"event":"item/updated","itemId":"item-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.processor.queue, 1)
	event := <-f.processor.queue
	assert.NotEmpty(t, event.EventID)
}

func TestServerRejectsNonPost(t *testing.T) {
	f := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/aggregator", nil)
	rec := httptest.NewRecorder()
	f.server.handleEvent(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, f.processor.queue)
}

func TestServerTossesUndecodableBody(t *testing.T) {
	f := setupServer(t)

	// Garbage is acknowledged so the sender stops redelivering it, but it
	// never reaches the ledger or the pool.
	rec := f.post(`not json at all`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.processor.queue)
}

func TestServerHealth(t *testing.T) {
	f := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
