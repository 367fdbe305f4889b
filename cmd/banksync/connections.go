package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openledger/banksync/internal/model"
	"github.com/openledger/banksync/internal/vault"
)

func connectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Manage aggregator connections",
	}

	cmd.AddCommand(connectionsListCmd())
	cmd.AddCommand(connectionsAddCmd())
	cmd.AddCommand(connectionsDeactivateCmd())
	cmd.AddCommand(connectionsSetMFACmd())
	return cmd
}

func connectionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}

			connections, err := app.store.ListActiveConnections(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list connections: %w", err)
			}
			if len(connections) == 0 {
				cmd.Println("No active connections.")
				return nil
			}

			for _, conn := range connections {
				lastSync := "never"
				if conn.LastSyncAt != nil {
					lastSync = conn.LastSyncAt.Format("2006-01-02 15:04:05")
				}
				cmd.Printf("%-6d %-12s %-36s %-24s last sync: %s\n",
					conn.ID, conn.TenantID, conn.ExternalID, conn.Status, lastSync)
			}
			return nil
		},
	}
}

func connectionsAddCmd() *cobra.Command {
	var (
		tenantID   string
		externalID string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an existing aggregator item as a connection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}

			conn, err := app.store.CreateConnection(cmd.Context(), &model.Connection{
				TenantID:   tenantID,
				ExternalID: externalID,
				Status:     model.ConnectionStatusActive,
				Active:     true,
			})
			if err != nil {
				return fmt.Errorf("failed to create connection: %w", err)
			}

			cmd.Printf("Created connection %d for tenant %s.\n", conn.ID, conn.TenantID)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant the connection belongs to")
	cmd.Flags().StringVar(&externalID, "item", "", "aggregator item id")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func connectionsDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <connection-id>",
		Short: "Soft-deactivate a connection, preserving its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connectionID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid connection id %q: %w", args[0], err)
			}

			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}

			if err := app.store.DeactivateConnection(cmd.Context(), connectionID); err != nil {
				return fmt.Errorf("failed to deactivate connection: %w", err)
			}

			cmd.Printf("Connection %d deactivated.\n", connectionID)
			return nil
		},
	}
}

// connectionsSetMFACmd validates and encrypts MFA parameters before storing
// them; plaintext credentials never touch the database.
func connectionsSetMFACmd() *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "set-mfa <connection-id>",
		Short: "Store encrypted MFA parameters for a connection",
		Long: `Stores MFA parameters encrypted with the vault master key. Parameters are
given as type:name=value, where type is numeric_code, password, or username.

Example:
  banksync connections set-mfa 42 --param numeric_code:token=483920`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connectionID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid connection id %q: %w", args[0], err)
			}

			values, err := parseMFAParams(params)
			if err != nil {
				return err
			}

			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}

			encrypted, err := app.vault.Encrypt(values)
			if err != nil {
				return fmt.Errorf("failed to encrypt parameters: %w", err)
			}

			if err := app.store.UpdateConnectionMFA(cmd.Context(), connectionID, encrypted); err != nil {
				return fmt.Errorf("failed to store parameters: %w", err)
			}

			cmd.Printf("Stored %d encrypted parameters for connection %d.\n", len(values), connectionID)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&params, "param", nil, "MFA parameter as type:name=value (repeatable)")
	_ = cmd.MarkFlagRequired("param")
	return cmd
}

// parseMFAParams parses and validates type:name=value parameter flags.
func parseMFAParams(params []string) (map[string]string, error) {
	values := make(map[string]string, len(params))
	for _, param := range params {
		typePart, rest, ok := strings.Cut(param, ":")
		if !ok {
			return nil, fmt.Errorf("malformed parameter %q, want type:name=value", param)
		}
		name, value, ok := strings.Cut(rest, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed parameter %q, want type:name=value", param)
		}

		if err := vault.ValidateParameter(vault.ParameterType(typePart), value); err != nil {
			return nil, fmt.Errorf("invalid parameter %q: %w", name, err)
		}
		values[name] = value
	}
	return values, nil
}
