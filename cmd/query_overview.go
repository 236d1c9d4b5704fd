package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bancoinsights/bacen-etl/internal/catalog"
	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/query"
)

var querySearchCmd = &cobra.Command{
	Use:   "search <name>",
	Short: "Find institutions by name or code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		found := e.Search(args[0], limit)
		if wantJSON(cmd) {
			return writeJSON(os.Stdout, found)
		}
		formatInstitutions(os.Stdout, found)
		return nil
	},
}

func formatInstitutions(out io.Writer, insts []model.Institution) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tNAME\tSEGMENT\tCONTROL")
	for _, inst := range insts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", inst.Code, truncate(inst.Name, 50), inst.Segment, inst.Control)
	}
	_ = w.Flush()
}

var querySegmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "Credit portfolio by segment for an institution or the market",
	Long:  "Breaks the credit portfolio into the segments listed under credit_segments in the metric catalog. Without --institution the whole market is summed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(cfg.ETL.CatalogPath)
		if err != nil {
			return err
		}
		qa, err := parseQueryArgs(cmd)
		if err != nil {
			return err
		}

		b, err := qa.engine.Segments(qa.period, qa.institution, cat.CreditSegments)
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return writeJSON(os.Stdout, b)
		}
		formatSegments(os.Stdout, b)
		return nil
	},
}

// formatSegments writes a breakdown as a table. Share and growth are
// percentages.
func formatSegments(out io.Writer, b query.SegmentBreakdown) {
	who := "market"
	if b.Institution != "" {
		who = strings.TrimSpace(string(b.Institution) + " " + b.Name)
	}
	_, _ = fmt.Fprintf(out, "Credit segments: %s %s (total %s)\n", who, b.Period, fmtValue(b.Total))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEGMENT\tVALUE\tSHARE%\tYOY%")
	for _, s := range b.Segments {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, fmtValue(s.Value), fmtValue(s.Share), fmtValue(s.GrowthYoY))
	}
	_ = w.Flush()
}

var querySnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Market overview of a metric at the latest quarter",
	RunE: func(cmd *cobra.Command, args []string) error {
		qa, err := parseQueryArgs(cmd)
		if err != nil {
			return err
		}

		s, err := qa.engine.Snapshot(qa.metric)
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return writeJSON(os.Stdout, s)
		}
		formatSnapshot(os.Stdout, s)
		return nil
	},
}

func formatSnapshot(w io.Writer, s query.Snapshot) {
	_, _ = fmt.Fprintf(w, "Metric:       %s %s\n", s.Metric, s.Period)
	_, _ = fmt.Fprintf(w, "Institutions: %d (%d reporting)\n", s.Institutions, s.Reporting)
	_, _ = fmt.Fprintf(w, "Total:        %s\n", fmtValue(s.Total))
	_, _ = fmt.Fprintf(w, "Top 5 share:  %s\n", fmtValue(s.Top5Share))
	_, _ = fmt.Fprintf(w, "HHI:          %s\n", fmtValue(s.HHI))
	if len(s.Leaders) > 0 {
		_, _ = fmt.Fprintln(w)
		formatRanking(w, s.Leaders)
	}
}

func init() {
	querySearchCmd.Flags().Int("limit", 20, "maximum number of matches (0 for all)")

	querySegmentsCmd.Flags().String("period", "", "quarter, e.g. 2024Q3 (default: latest in the generation)")
	querySegmentsCmd.Flags().String("institution", "", "institution code (default: whole market)")

	querySnapshotCmd.Flags().String("metric", "resumo.ativo_total", "metric reference")

	queryCmd.AddCommand(querySearchCmd, querySegmentsCmd, querySnapshotCmd)
}
