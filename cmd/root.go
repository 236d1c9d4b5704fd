package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bancoinsights/bacen-etl/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "bacen-etl",
	Short: "BACEN quarterly filings pipeline",
	Long:  "Loads BACEN quarterly regulatory extracts, reshapes them into per-report wide tables, computes derived and market metrics, and answers queries over the committed generation.",
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
