package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "takeoff",
	Short: "Quantity takeoff from construction drawing sets",
	Long:  "Scans a PDF drawing set, finds the pavement-marking pages, extracts quantities with tiered Claude vision models and reconciles them into line items.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
