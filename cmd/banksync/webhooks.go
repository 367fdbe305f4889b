package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func webhooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Inspect and retry webhook events",
	}

	cmd.AddCommand(webhooksExhaustedCmd())
	cmd.AddCommand(webhooksSweepCmd())
	return cmd
}

// webhooksExhaustedCmd lists events that failed past their retry budget and
// need a human to look at them.
func webhooksExhaustedCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "exhausted",
		Short: "List events that exhausted their retries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}

			events, err := app.ledger.ListExhausted(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list exhausted events: %w", err)
			}
			if len(events) == 0 {
				cmd.Println("No exhausted webhook events.")
				return nil
			}

			for _, event := range events {
				cmd.Printf("%s  %-28s retries=%d  %s\n",
					event.ReceivedAt.Format("2006-01-02 15:04:05"),
					event.Type,
					event.RetryCount,
					event.Result)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to list")
	return cmd
}

// webhooksSweepCmd re-runs failed events that still have retry budget, for
// use when serve is not running or a backlog needs clearing now.
func webhooksSweepCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Retry failed events within their retry budget",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			if err := app.store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}

			app.processor.Start(ctx)

			enqueued, err := app.processor.Sweep(ctx, limit)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}

			// Stop drains the queue before returning.
			app.processor.Stop()

			cmd.Printf("Retried %d webhook events.\n", enqueued)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events to retry")
	return cmd
}
