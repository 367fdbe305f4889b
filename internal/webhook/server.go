package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openledger/banksync/internal/ledger"
)

// maxBodyBytes bounds inbound webhook payloads. Aggregator notifications are
// small; anything larger is not one of ours.
const maxBodyBytes = 64 * 1024

// inboundEvent is the body the aggregator POSTs to us.
type inboundEvent struct {
	Event     string `json:"event"`
	ID        string `json:"id"`
	ItemID    string `json:"itemId"`
	Timestamp string `json:"timestamp"`
}

// Server exposes the webhook receiver endpoint.
//
// Deliveries are acknowledged with 200 as soon as the event is durably
// recorded; processing happens asynchronously. Returning an error status
// would only make the aggregator redeliver an event we already hold.
type Server struct {
	ledger    *ledger.Ledger
	processor *Processor
	source    string
	logger    *slog.Logger
	server    *http.Server
}

// NewServer creates the receiver. source labels which aggregator the
// endpoint is registered with and becomes part of the idempotency key.
func NewServer(addr string, lg *ledger.Ledger, processor *Processor, source string) *Server {
	s := &Server{
		ledger:    lg,
		processor: processor,
		source:    source,
		logger:    slog.Default().With("component", "webhook-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/aggregator", s.handleEvent)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("webhook server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Warn("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	var inbound inboundEvent
	if err := json.Unmarshal(body, &inbound); err != nil {
		s.logger.Warn("undecodable webhook body", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	eventID := inbound.ID
	if eventID == "" {
		// Some aggregators omit a delivery id. Synthesize one; such events
		// lose cross-delivery dedup but still flow through the ledger.
		eventID = uuid.NewString()
		s.logger.Warn("webhook delivery without event id",
			"type", inbound.Event,
			"item_id", inbound.ItemID)
	}

	event, duplicate, err := s.ledger.RecordIncoming(r.Context(), eventID, s.source, inbound.Event, string(body))
	if err != nil {
		// Not recorded durably, so a redelivery is genuinely wanted here.
		s.logger.Error("failed to record webhook event", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if !duplicate {
		s.processor.Enqueue(event)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
