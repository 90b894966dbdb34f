// Command portal runs the vehicle tax portal backend and its maintenance tasks.
package main

import (
	"fmt"
	"os"

	"github.com/boddenberg/vehicle-tax-portal/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "portal",
		Short:         "Vehicle registration and tax portal backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newReceiptCmd(),
		newOperatorCmd(),
	)
	return root
}
