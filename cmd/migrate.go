package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/config"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/database"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/fieldcrypt"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/logging"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			logger := logging.NewLogger(cfg.LogLevel)

			pool, err := database.NewPool(cmd.Context(), cfg.ConnString(), logger)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer pool.Close()

			if err := database.Migrate(cmd.Context(), pool); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			names, _ := database.MigrationNames()
			logger.Info("migrations applied", "migrations", names)
			return nil
		},
	}
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new DB_ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := fieldcrypt.GenerateSecret()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}
