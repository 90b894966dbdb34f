package main

import (
	"errors"
	"fmt"

	"github.com/boddenberg/vehicle-tax-portal/internal/config"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/observability"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/postgres"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded SQL migrations to DATABASE_URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}
			logger := observability.NewLogger(cfg.LogLevel)
			defer logger.Sync()

			pool, err := postgres.NewPool(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			return postgres.Migrate(cmd.Context(), pool, logger)
		},
	}
}
