package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/openledger/banksync/internal/model"
	"github.com/openledger/banksync/internal/webhook"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and background sync loop",
		Long: `Starts the webhook HTTP server, the event worker pool, and the periodic
sweeps that retry failed events and refresh connections that have not
synced recently.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	app.processor.Start(ctx)

	server := webhook.NewServer(app.cfg.Webhook.ListenAddr, app.ledger, app.processor, app.cfg.Webhook.Source)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	go runSweeps(ctx, app)

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down webhook server", "error", err)
	}
	app.processor.Stop()

	return nil
}

// runSweeps periodically retries failed webhook events and syncs connections
// whose data has gone stale, so missed webhooks never strand a connection.
func runSweeps(ctx context.Context, app *app) {
	logger := slog.Default().With("component", "sweep")
	ticker := time.NewTicker(app.cfg.Sync.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := app.processor.Sweep(ctx, 100); err != nil {
			logger.Error("webhook sweep failed", "error", err)
		}

		cutoff := time.Now().Add(-app.cfg.Sync.StaleAfter)
		stale, err := app.store.ListStaleConnections(ctx, cutoff)
		if err != nil {
			logger.Error("failed to list stale connections", "error", err)
			continue
		}

		for _, conn := range stale {
			summary, err := app.orchestrator.SyncConnection(ctx, conn.ID, model.SyncTriggerScheduled)
			if err != nil {
				logger.Error("stale connection sync failed",
					"connection_id", conn.ID,
					"error", err)
				continue
			}
			logger.Info("stale connection synced",
				"connection_id", conn.ID,
				"outcome", summary.Outcome,
				"created", summary.Created)
		}
	}
}
