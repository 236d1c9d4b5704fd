package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/bancoinsights/bacen-etl/internal/etl"
	"github.com/bancoinsights/bacen-etl/internal/store"
)

var etlStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the committed generation and run history",
	Long:  "Displays the manifest of the locally committed generation and, when store.database_url is set, the ETL run log.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		man, err := localStore().Manifest(ctx)
		switch {
		case eris.Is(err, store.ErrNoGeneration):
			fmt.Println("No generation committed yet, run 'etl run' first.")
		case err != nil:
			return eris.Wrap(err, "etl status")
		default:
			formatManifest(os.Stdout, man)
		}

		if cfg.Store.DatabaseURL == "" {
			return nil
		}

		pool, err := etlPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		entries, err := etl.NewRunLog(pool, cfg.Store.Schema).List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "etl status")
		}
		fmt.Println()
		formatRunEntries(os.Stdout, entries)
		return nil
	},
}

func init() {
	etlStatusCmd.Flags().Int("limit", 20, "maximum number of runs to show")
	etlCmd.AddCommand(etlStatusCmd)
}

// formatManifest writes the committed generation summary to w.
func formatManifest(w io.Writer, man *store.Manifest) {
	_, _ = fmt.Fprintf(w, "Generation: %s\n", man.ID)
	_, _ = fmt.Fprintf(w, "Created:    %s\n", man.CreatedAt.Format("2006-01-02 15:04"))
	_, _ = fmt.Fprintf(w, "Catalog:    %s\n", man.CatalogVersion)
	_, _ = fmt.Fprintf(w, "Digest:     %s\n", man.Digest)
}

// formatRunEntries writes a tabular representation of run log entries to w.
func formatRunEntries(out io.Writer, entries []etl.RunEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCATALOG\tSTATUS\tSTARTED\tDURATION\tLOADED\tSKIPPED\tGENERATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t-------\t--------\t------\t-------\t----------\t-----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}

		gen := "-"
		if e.GenerationID != "" {
			gen = shortID(e.GenerationID)
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			e.ID,
			e.CatalogVersion,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.RowsLoaded,
			e.RowsSkipped,
			gen,
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
