// Package pivot reshapes normalized long-format observations into one wide
// table per report, keyed by (institution, period).
package pivot

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bancoinsights/bacen-etl/internal/model"
)

// Options configures a pivot run.
type Options struct {
	// Workers bounds the number of reports pivoted concurrently.
	Workers int
	// FillAcrossReports gives every report table a row for each
	// (institution, period) that reported anything in any report.
	FillAcrossReports bool
	// Previous holds the schemas of the last committed generation. Their
	// columns are kept so schemas only grow across quarters.
	Previous map[model.ReportID]*model.ReportSchema
}

// Engine pivots observations.
type Engine struct {
	opts Options
	log  *zap.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Engine{
		opts: opts,
		log:  zap.L().With(zap.String("component", "pivot.engine")),
	}
}

// Pivot partitions observations by report and builds the wide tables.
// Observations are applied in Seq order so that, for duplicate cells, the
// last one in input order wins.
func (e *Engine) Pivot(ctx context.Context, obs []model.Observation) (*Result, error) {
	parts := make(map[model.ReportID][]model.Observation)
	allKeys := make(map[model.Key]struct{})
	for _, o := range obs {
		parts[o.Report] = append(parts[o.Report], o)
		allKeys[o.Key()] = struct{}{}
	}

	reports := make([]model.ReportID, 0, len(parts))
	for r := range parts {
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i] < reports[j] })

	var fill []model.Key
	if e.opts.FillAcrossReports {
		fill = make([]model.Key, 0, len(allKeys))
		for k := range allKeys {
			fill = append(fill, k)
		}
	}

	tables := make([]*Table, len(reports))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for i, report := range reports {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return eris.Wrap(err, "pivot: context cancelled")
			}
			tables[i] = e.pivotReport(report, parts[report], e.opts.Previous[report], fill)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Tables: tables}
	for _, t := range tables {
		res.Duplicates += t.Duplicates
		res.Conflicts += t.Conflicts
	}

	e.log.Info("pivot complete",
		zap.Int("reports", len(tables)),
		zap.Int("observations", len(obs)),
		zap.Int("keys", len(allKeys)),
		zap.Int64("duplicates", res.Duplicates),
		zap.Int64("conflicts", res.Conflicts),
	)
	return res, nil
}

func (e *Engine) pivotReport(report model.ReportID, obs []model.Observation, prev *model.ReportSchema, fill []model.Key) *Table {
	log := e.log.With(zap.String("report", string(report)))

	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Seq < obs[j].Seq })

	metrics := make([]model.MetricID, 0, 64)
	if prev != nil {
		metrics = append(metrics, prev.Metrics...)
	}
	for _, o := range obs {
		metrics = append(metrics, o.Metric)
	}
	schema := model.NewReportSchema(report, metrics)
	width := schema.Len()

	type cell struct {
		values []model.Value
		set    []bool
	}
	rows := make(map[model.Key]*cell)
	observed := make(map[model.MetricID]int64)

	newCell := func() *cell {
		c := &cell{values: make([]model.Value, width), set: make([]bool, width)}
		for i := range c.values {
			c.values[i] = model.Missing
		}
		return c
	}

	var dups, conflicts int64
	for _, o := range obs {
		col, _ := schema.Index(o.Metric)
		key := o.Key()
		c, ok := rows[key]
		if !ok {
			c = newCell()
			rows[key] = c
		}
		observed[o.Metric]++

		if c.set[col] {
			if c.values[col].Equal(o.Value) {
				dups++
			} else {
				conflicts++
				log.Debug("conflicting duplicate observation",
					zap.String("institution", string(key.Institution)),
					zap.String("period", key.Period.String()),
					zap.String("metric", string(o.Metric)),
					zap.String("previous", c.values[col].String()),
					zap.String("value", o.Value.String()),
					zap.Int64("seq", o.Seq),
				)
			}
		}
		c.values[col] = o.Value
		c.set[col] = true
	}

	for _, k := range fill {
		if _, ok := rows[k]; !ok {
			rows[k] = newCell()
		}
	}

	out := make([]Row, 0, len(rows))
	for k, c := range rows {
		out = append(out, Row{Key: k, Values: c.values})
	}
	t := NewTable(schema, out)
	t.Observed = observed
	t.Duplicates = dups
	t.Conflicts = conflicts

	if dups > 0 || conflicts > 0 {
		log.Warn("duplicate observations",
			zap.Int64("duplicates", dups),
			zap.Int64("conflicts", conflicts),
		)
	}
	if prev != nil {
		if added := addedMetrics(prev, schema); len(added) > 0 {
			log.Info("schema expanded", zap.Int("added", len(added)), zap.Any("metrics", added))
		}
	}
	return t
}

func addedMetrics(prev, cur *model.ReportSchema) []model.MetricID {
	var out []model.MetricID
	for _, m := range cur.Metrics {
		if !prev.Has(m) {
			out = append(out, m)
		}
	}
	return out
}
