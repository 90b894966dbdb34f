package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/boddenberg/vehicle-tax-portal/internal/config"
	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/postgres"
	"github.com/boddenberg/vehicle-tax-portal/internal/service"

	"github.com/spf13/cobra"
)

func newOperatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage portal operators",
	}
	cmd.AddCommand(newOperatorAddCmd())
	return cmd
}

// newOperatorAddCmd creates or updates an operator in postgres. The password
// is read from PORTAL_OPERATOR_PASSWORD so it stays out of shell history.
func newOperatorAddCmd() *cobra.Command {
	var op domain.Operator

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or update an operator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}
			op.ID = strings.TrimSpace(op.ID)
			if op.ID == "" || strings.TrimSpace(op.Name) == "" {
				return errors.New("--id and --name are required")
			}

			hash, err := service.HashPassword(os.Getenv("PORTAL_OPERATOR_PASSWORD"))
			if err != nil {
				return fmt.Errorf("PORTAL_OPERATOR_PASSWORD: %w", err)
			}
			op.PasswordHash = hash

			pool, err := postgres.NewPool(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			if err := postgres.NewOperatorStore(pool).SaveOperator(cmd.Context(), &op); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "operator %s saved\n", op.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&op.ID, "id", "", "operator id")
	cmd.Flags().StringVar(&op.Name, "name", "", "display name")
	cmd.Flags().StringVar(&op.SiteCode, "site", "", "site code stamped on declarations")
	cmd.Flags().StringVar(&op.Formula, "formula", "", "personal amount formula")
	return cmd
}
