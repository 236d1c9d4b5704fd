package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bancoinsights/bacen-etl/internal/query"
)

var queryRankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank institutions by a metric in one quarter",
	RunE: func(cmd *cobra.Command, args []string) error {
		qa, err := parseQueryArgs(cmd)
		if err != nil {
			return err
		}
		top, _ := cmd.Flags().GetInt("top")

		entries, err := qa.engine.Rank(qa.period, qa.metric, top)
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return writeJSON(os.Stdout, entries)
		}
		formatRanking(os.Stdout, entries)
		return nil
	},
}

// formatRanking writes ranked entries as a table. Share is a percentage.
func formatRanking(out io.Writer, entries []query.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tCODE\tNAME\tVALUE\tSHARE%")
	for _, e := range entries {
		rank := "-"
		if e.Rank > 0 {
			rank = fmt.Sprint(e.Rank)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rank, e.Institution, truncate(e.Name, 40), fmtValue(e.Value), fmtValue(e.Share))
	}
	_ = w.Flush()
}

var queryConcentrationCmd = &cobra.Command{
	Use:   "concentration",
	Short: "HHI and CR4/CR10 of a metric in one quarter",
	RunE: func(cmd *cobra.Command, args []string) error {
		qa, err := parseQueryArgs(cmd)
		if err != nil {
			return err
		}

		c, err := qa.engine.Concentration(qa.period, qa.metric)
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return writeJSON(os.Stdout, c)
		}
		formatConcentration(os.Stdout, c)
		return nil
	},
}

func formatConcentration(w io.Writer, c query.Concentration) {
	_, _ = fmt.Fprintf(w, "Metric:    %s %s\n", c.Metric, c.Period)
	_, _ = fmt.Fprintf(w, "Reporting: %d\n", c.Count)
	_, _ = fmt.Fprintf(w, "Total:     %s\n", fmtValue(c.Total))
	_, _ = fmt.Fprintf(w, "HHI:       %s\n", fmtValue(c.HHI))
	_, _ = fmt.Fprintf(w, "CR4:       %s\n", fmtValue(c.CR4))
	_, _ = fmt.Fprintf(w, "CR10:      %s\n", fmtValue(c.CR10))
}

func init() {
	for _, c := range []*cobra.Command{queryRankCmd, queryConcentrationCmd} {
		c.Flags().String("period", "", "quarter, e.g. 2024Q3 (default: latest in the generation)")
		c.Flags().String("metric", "", "metric reference, e.g. resumo.ativo_total or derived.roe")
		_ = c.MarkFlagRequired("metric")
	}
	queryRankCmd.Flags().Int("top", 10, "number of institutions to show (0 for all)")

	queryCmd.AddCommand(queryRankCmd, queryConcentrationCmd)
}
