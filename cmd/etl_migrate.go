package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bancoinsights/bacen-etl/internal/etl"
)

var etlMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply Postgres schema migrations",
	Long:  "Applies all pending SQL migrations to the configured schema in lexicographic order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("postgres"); err != nil {
			return err
		}

		pool, err := etlPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := etl.Migrate(ctx, pool, cfg.Store.Schema); err != nil {
			return eris.Wrap(err, "etl migrate")
		}

		zap.L().Info("all migrations applied successfully")
		return nil
	},
}

func init() {
	etlCmd.AddCommand(etlMigrateCmd)
}
