package main

import (
	"fmt"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/openledger/banksync/internal/model"
)

func syncCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "sync [connection-id]",
		Short: "Sync one connection, or all active connections with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				return runSyncAll(cmd)
			}
			if len(args) != 1 {
				return fmt.Errorf("provide a connection id or --all")
			}
			return runSyncOne(cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "sync every active connection")
	return cmd
}

func runSyncOne(cmd *cobra.Command, arg string) error {
	connectionID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid connection id %q: %w", arg, err)
	}

	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	if err := app.store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	summary, err := app.orchestrator.SyncConnection(ctx, connectionID, model.SyncTriggerManual)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	printSummary(cmd, summary)
	return nil
}

func runSyncAll(cmd *cobra.Command) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	if err := app.store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	connections, err := app.store.ListActiveConnections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list connections: %w", err)
	}
	if len(connections) == 0 {
		cmd.Println("No active connections to sync.")
		return nil
	}

	bar := progressbar.NewOptions(len(connections),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Syncing connections..."),
	)

	var failed int
	for _, conn := range connections {
		// One bad connection must not stop the batch.
		if _, err := app.orchestrator.SyncConnection(ctx, conn.ID, model.SyncTriggerManual); err != nil {
			failed++
		}
		_ = bar.Add(1)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	_ = bar.Finish()
	cmd.Println()

	cmd.Printf("Synced %d connections (%d failed).\n", len(connections), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d connections failed to sync", failed, len(connections))
	}
	return nil
}

func printSummary(cmd *cobra.Command, summary *model.SyncSummary) {
	cmd.Printf("Connection %d: %s\n", summary.ConnectionID, summary.Outcome)
	switch summary.Outcome {
	case model.SyncOutcomeCompleted:
		cmd.Printf("  found:       %d\n", summary.TransactionsFound)
		cmd.Printf("  created:     %d\n", summary.Created)
		cmd.Printf("  duplicates:  %d\n", summary.SkippedDuplicates)
		if summary.QuotaDenied > 0 {
			cmd.Printf("  quota denied: %d\n", summary.QuotaDenied)
		}
		for _, balance := range summary.Balances {
			cmd.Printf("  %s: %s %s\n", balance.ExternalID, balance.Balance, balance.Currency)
		}
	case model.SyncOutcomeRequiresAuth:
		cmd.Printf("  status: %s (user must re-authenticate)\n", summary.ConnectionStatus)
	case model.SyncOutcomeLockContended:
		cmd.Println("  another sync is already running for this connection")
	}
}
