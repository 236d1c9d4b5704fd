package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bancoinsights/bacen-etl/internal/db"
	"github.com/bancoinsights/bacen-etl/internal/store"
)

var etlCmd = &cobra.Command{
	Use:   "etl",
	Short: "Quarterly ETL pipeline",
	Long:  "Runs the load, pivot, derive and market stages, commits a new generation and optionally publishes it to Postgres.",
}

func init() {
	rootCmd.AddCommand(etlCmd)
}

// etlPool connects to store.database_url.
func etlPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.Connect(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("connected to database")
	return pool, nil
}

// localStore returns the SQLite store holding the committed generation.
func localStore() *store.SQLiteStore {
	return store.NewSQLite(cfg.Store.Dir)
}
