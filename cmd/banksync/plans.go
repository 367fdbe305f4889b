package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/model"
)

func plansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Manage tenant plan limits",
	}

	cmd.AddCommand(plansSetCmd())
	cmd.AddCommand(plansUsageCmd())
	return cmd
}

func plansSetCmd() *cobra.Command {
	var (
		resource string
		limit    int64
	)

	cmd := &cobra.Command{
		Use:   "set <tenant-id>",
		Short: "Set a tenant's monthly limit for a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}

			if err := app.store.SetPlanLimit(cmd.Context(), args[0], model.ResourceType(resource), limit); err != nil {
				return fmt.Errorf("failed to set plan limit: %w", err)
			}

			cmd.Printf("Tenant %s: %s limit set to %d per month.\n", args[0], resource, limit)
			return nil
		},
	}

	cmd.Flags().StringVar(&resource, "resource", string(model.ResourceTransactions), "resource type (transactions, syncs)")
	cmd.Flags().Int64Var(&limit, "limit", 0, "monthly limit")
	_ = cmd.MarkFlagRequired("limit")
	return cmd
}

func plansUsageCmd() *cobra.Command {
	var resource string

	cmd := &cobra.Command{
		Use:   "usage <tenant-id>",
		Short: "Show a tenant's usage for the current billing period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}

			period := model.BillingPeriod(time.Now())
			counter, err := app.store.GetUsageCounter(cmd.Context(), args[0], model.ResourceType(resource), period)
			if err != nil {
				if errors.Is(err, common.ErrNotFound) {
					cmd.Printf("Tenant %s has no %s usage in %s.\n", args[0], resource, period)
					return nil
				}
				return fmt.Errorf("failed to read usage: %w", err)
			}

			cmd.Printf("Tenant %s, %s, %s: %d of %d used.\n",
				args[0], resource, period, counter.Used, counter.Limit)
			return nil
		},
	}

	cmd.Flags().StringVar(&resource, "resource", string(model.ResourceTransactions), "resource type (transactions, syncs)")
	return cmd
}
