package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bancoinsights/bacen-etl/internal/catalog"
	"github.com/bancoinsights/bacen-etl/internal/etl"
	"github.com/bancoinsights/bacen-etl/internal/loader"
)

var etlRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline over the configured extracts",
	Long:  "Loads every input extract (CSV or ZIP), rebuilds the wide, derived and market tables and replaces the committed generation only if every stage succeeds.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("etl"); err != nil {
			return err
		}

		inputs, _ := cmd.Flags().GetStringSlice("inputs")
		force, _ := cmd.Flags().GetBool("force")
		noPublish, _ := cmd.Flags().GetBool("no-publish")
		partial, _ := cmd.Flags().GetBool("allow-partial-windows")

		if len(inputs) == 0 {
			inputs = cfg.ETL.Inputs
		}
		if len(inputs) == 0 {
			return eris.New("etl run: no inputs (set etl.inputs or pass --inputs)")
		}

		cat, err := catalog.Load(cfg.ETL.CatalogPath)
		if err != nil {
			return err
		}

		p := etl.New(cat, localStore(), etl.Options{
			Inputs:              inputs,
			RegistryPath:        cfg.ETL.RegistryPath,
			Delimiter:           cfg.ETL.DelimiterRune(),
			Encoding:            cfg.ETL.Encoding,
			SkipThreshold:       loader.Threshold(cfg.ETL.SkipThreshold),
			Workers:             cfg.ETL.Workers,
			AllowPartialWindows: partial || cfg.ETL.AllowPartialWindows,
			FillAcrossReports:   cfg.ETL.FillAcrossReports,
			ReleaseLagMonths:    cfg.ETL.ReleaseLagMonths,
			Force:               force,
		})

		if cfg.Store.DatabaseURL != "" {
			pool, err := etlPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			p.WithRunLog(etl.NewRunLog(pool, cfg.Store.Schema))
			if !noPublish {
				p.WithPublisher(etl.NewPublisher(pool, cfg.Store.Schema))
			}
		} else {
			zap.L().Info("store.database_url not set, committing locally only")
		}

		res, err := p.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "etl run")
		}
		if res.Skipped {
			fmt.Println("No new quarter released since the last successful run (use --force to run anyway).")
			return nil
		}

		formatRunSummary(os.Stdout, res)
		return nil
	},
}

func init() {
	etlRunCmd.Flags().StringSlice("inputs", nil, "extract files, directories or ZIP archives (overrides etl.inputs)")
	etlRunCmd.Flags().Bool("force", false, "run even if no new quarter is due")
	etlRunCmd.Flags().Bool("no-publish", false, "skip publishing to Postgres")
	etlRunCmd.Flags().Bool("allow-partial-windows", false, "compute TTM and averages over incomplete windows")
	etlCmd.AddCommand(etlRunCmd)
}

// formatRunSummary writes a short report of a completed run to w.
func formatRunSummary(w io.Writer, res *etl.Result) {
	ds := res.Data
	_, _ = fmt.Fprintf(w, "Generation:   %s\n", res.Generation.ID)
	_, _ = fmt.Fprintf(w, "Digest:       %s\n", res.Generation.Digest)
	_, _ = fmt.Fprintf(w, "Catalog:      %s\n", res.Generation.CatalogVersion)
	_, _ = fmt.Fprintf(w, "Files:        %d\n", ds.LoadStats.Files)
	_, _ = fmt.Fprintf(w, "Rows loaded:  %d (skipped %d, missing %d)\n",
		ds.LoadStats.Loaded, ds.LoadStats.SkippedTotal(), ds.LoadStats.Missing)
	_, _ = fmt.Fprintf(w, "Reports:      %d\n", len(ds.Wide.Tables))
	_, _ = fmt.Fprintf(w, "Duplicates:   %d (conflicting %d)\n", ds.Wide.Duplicates, ds.Wide.Conflicts)
	_, _ = fmt.Fprintf(w, "Institutions: %d\n", ds.Registry.Len())
	if res.Published != nil {
		_, _ = fmt.Fprintf(w, "Published:    %d tables, %d rows\n", len(res.Published.Tables), res.Published.Rows)
	}
	_, _ = fmt.Fprintf(w, "Elapsed:      %s\n", res.Elapsed.Round(time.Millisecond))
}
