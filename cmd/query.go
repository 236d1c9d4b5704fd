package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/normalize"
	"github.com/bancoinsights/bacen-etl/internal/query"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the committed generation",
	Long:  "Point lookups, rankings, time series, peer statistics, market concentration, credit segments and institution search over the locally committed generation.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("query")
	},
}

func init() {
	queryCmd.PersistentFlags().Bool("json", false, "print results as JSON")
	rootCmd.AddCommand(queryCmd)
}

// openEngine loads the committed generation.
func openEngine(ctx context.Context) (*query.Engine, error) {
	gen, err := localStore().Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "query: load generation")
	}
	return query.New(gen), nil
}

// queryArgs holds the flags shared by query subcommands, parsed and validated.
type queryArgs struct {
	engine      *query.Engine
	period      model.Period
	metric      model.MetricRef
	institution model.InstitutionCode
}

// parseQueryArgs opens the engine and parses --period, --metric and
// --institution when the command defines them. An empty --period means the
// latest quarter in the generation; an empty --institution stays empty.
func parseQueryArgs(cmd *cobra.Command) (*queryArgs, error) {
	e, err := openEngine(cmd.Context())
	if err != nil {
		return nil, err
	}
	qa := &queryArgs{engine: e}

	if f := cmd.Flags().Lookup("period"); f != nil {
		var p model.Period
		if raw := f.Value.String(); raw != "" {
			p, err = normalize.ParsePeriod(raw)
		} else {
			p, err = e.LatestPeriod()
		}
		if err != nil {
			return nil, err
		}
		qa.period = p
	}
	if f := cmd.Flags().Lookup("metric"); f != nil {
		ref, err := e.ParseMetric(f.Value.String())
		if err != nil {
			return nil, err
		}
		qa.metric = ref
	}
	if f := cmd.Flags().Lookup("institution"); f != nil && f.Value.String() != "" {
		code, err := normalize.NormalizeCode(f.Value.String())
		if err != nil {
			return nil, err
		}
		qa.institution = code
	}
	return qa, nil
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "query: encode json")
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// fmtValue renders a value for tables; missing renders as "-".
func fmtValue(v model.Value) string {
	if v.IsMissing() {
		return "-"
	}
	return v.String()
}

// -- query lookup --

type lookupResult struct {
	Institution model.InstitutionCode `json:"institution"`
	Name        string                `json:"name,omitempty"`
	Period      model.Period          `json:"period"`
	Metric      model.MetricRef       `json:"metric"`
	Value       model.Value           `json:"value"`
}

var queryLookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Value of one metric for one institution and quarter",
	RunE: func(cmd *cobra.Command, args []string) error {
		qa, err := parseQueryArgs(cmd)
		if err != nil {
			return err
		}
		v, err := qa.engine.Lookup(qa.institution, qa.period, qa.metric)
		if err != nil {
			return err
		}
		res := lookupResult{
			Institution: qa.institution,
			Name:        institutionName(qa.engine, qa.institution),
			Period:      qa.period,
			Metric:      qa.metric,
			Value:       v,
		}
		if wantJSON(cmd) {
			return writeJSON(os.Stdout, res)
		}
		_, _ = fmt.Fprintf(os.Stdout, "%s %s %s %s = %s\n", res.Institution, res.Name, res.Period, res.Metric, fmtValue(res.Value))
		return nil
	},
}

// -- query timeseries --

var queryTimeseriesCmd = &cobra.Command{
	Use:   "timeseries",
	Short: "Metric history of one institution over a range of quarters",
	RunE: func(cmd *cobra.Command, args []string) error {
		qa, err := parseQueryArgs(cmd)
		if err != nil {
			return err
		}
		fromRaw, _ := cmd.Flags().GetString("from")
		toRaw, _ := cmd.Flags().GetString("to")

		periods := qa.engine.Generation().Periods()
		if len(periods) == 0 {
			return query.ErrNotFound
		}
		from, to := periods[0], periods[len(periods)-1]
		if fromRaw != "" {
			if from, err = normalize.ParsePeriod(fromRaw); err != nil {
				return err
			}
		}
		if toRaw != "" {
			if to, err = normalize.ParsePeriod(toRaw); err != nil {
				return err
			}
		}

		points, err := qa.engine.Timeseries(qa.institution, qa.metric, from, to)
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return writeJSON(os.Stdout, points)
		}
		formatPoints(os.Stdout, points)
		return nil
	},
}

func formatPoints(out io.Writer, points []query.Point) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PERIOD\tVALUE")
	for _, p := range points {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", p.Period, fmtValue(p.Value))
	}
	_ = w.Flush()
}

// -- query peers --

var queryPeersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Sum, mean and median of a metric over a peer group",
	RunE: func(cmd *cobra.Command, args []string) error {
		qa, err := parseQueryArgs(cmd)
		if err != nil {
			return err
		}
		filter, err := peerFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := qa.engine.PeerAggregate(qa.period, qa.metric, filter)
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return writeJSON(os.Stdout, st)
		}
		formatPeerStats(os.Stdout, st)
		return nil
	},
}

func peerFilterFromFlags(cmd *cobra.Command) (query.PeerFilter, error) {
	var f query.PeerFilter
	f.Segment, _ = cmd.Flags().GetString("segment")
	f.Control, _ = cmd.Flags().GetString("control")
	f.Region, _ = cmd.Flags().GetString("region")
	f.Type, _ = cmd.Flags().GetString("type")

	codes, _ := cmd.Flags().GetStringSlice("codes")
	for _, raw := range codes {
		code, err := normalize.NormalizeCode(raw)
		if err != nil {
			return query.PeerFilter{}, err
		}
		f.Codes = append(f.Codes, code)
	}
	return f, nil
}

func formatPeerStats(w io.Writer, st query.PeerStats) {
	members := make([]string, len(st.Members))
	for i, m := range st.Members {
		members[i] = string(m)
	}
	_, _ = fmt.Fprintf(w, "Metric:   %s %s\n", st.Metric, st.Period)
	_, _ = fmt.Fprintf(w, "Members:  %d (%d without a value)\n", len(st.Members), st.MissingCount)
	_, _ = fmt.Fprintf(w, "Count:    %d\n", st.Count)
	_, _ = fmt.Fprintf(w, "Sum:      %s\n", fmtValue(st.Sum))
	_, _ = fmt.Fprintf(w, "Mean:     %s\n", fmtValue(st.Mean))
	_, _ = fmt.Fprintf(w, "Median:   %s\n", fmtValue(st.Median))
	if len(members) > 0 {
		_, _ = fmt.Fprintf(w, "Codes:    %s\n", strings.Join(members, ","))
	}
}

func institutionName(e *query.Engine, code model.InstitutionCode) string {
	reg := e.Generation().Registry
	if reg == nil {
		return ""
	}
	inst, _ := reg.Get(code)
	return inst.Name
}

func init() {
	for _, c := range []*cobra.Command{queryLookupCmd, queryTimeseriesCmd} {
		c.Flags().String("institution", "", "institution code (CNPJ root)")
		_ = c.MarkFlagRequired("institution")
	}
	for _, c := range []*cobra.Command{queryLookupCmd, queryPeersCmd} {
		c.Flags().String("period", "", "quarter, e.g. 2024Q3 (default: latest in the generation)")
	}
	for _, c := range []*cobra.Command{queryLookupCmd, queryTimeseriesCmd, queryPeersCmd} {
		c.Flags().String("metric", "", "metric reference, e.g. resumo.ativo_total or derived.roe")
		_ = c.MarkFlagRequired("metric")
	}

	queryTimeseriesCmd.Flags().String("from", "", "first quarter (default: earliest in the generation)")
	queryTimeseriesCmd.Flags().String("to", "", "last quarter (default: latest in the generation)")

	queryPeersCmd.Flags().String("segment", "", "prudential segment, e.g. S1")
	queryPeersCmd.Flags().String("control", "", "control type")
	queryPeersCmd.Flags().String("region", "", "region")
	queryPeersCmd.Flags().String("type", "", "institution type")
	queryPeersCmd.Flags().StringSlice("codes", nil, "explicit institution codes")

	queryCmd.AddCommand(queryLookupCmd, queryTimeseriesCmd, queryPeersCmd)
}
