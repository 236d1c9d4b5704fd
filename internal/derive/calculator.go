// Package derive computes cross-period metrics (trailing sums, average
// balances, ratios, growth) per institution and cross-institution market
// aggregates per period.
package derive

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bancoinsights/bacen-etl/internal/catalog"
	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/pivot"
)

var one = decimal.NewFromInt(1)

// Options configures a Calculator.
type Options struct {
	// Workers bounds the number of institutions computed concurrently.
	Workers int
	// AllowPartialWindows substitutes incomplete trailing windows instead of
	// producing missing values. Off unless explicitly requested.
	AllowPartialWindows bool
}

// Stats counts derived cells by outcome.
type Stats struct {
	Cells                   int64 `json:"cells"`
	Missing                 int64 `json:"missing"`
	InsufficientHistory     int64 `json:"insufficient_history"`
	DivisionByZeroOrMissing int64 `json:"division_by_zero_or_missing"`
	MissingInput            int64 `json:"missing_input"`
	Partial                 int64 `json:"partial"`
}

func (s *Stats) add(o Stats) {
	s.Cells += o.Cells
	s.Missing += o.Missing
	s.InsufficientHistory += o.InsufficientHistory
	s.DivisionByZeroOrMissing += o.DivisionByZeroOrMissing
	s.MissingInput += o.MissingInput
	s.Partial += o.Partial
}

func (s *Stats) record(c Cell, o Outcome) {
	s.Cells++
	if c.Value.IsMissing() {
		s.Missing++
	}
	if c.Partial {
		s.Partial++
	}
	switch o {
	case InsufficientHistory:
		s.InsufficientHistory++
	case DivisionByZeroOrMissing:
		s.DivisionByZeroOrMissing++
	case MissingInput:
		s.MissingInput++
	}
}

// Calculator evaluates catalog definitions over wide tables.
type Calculator struct {
	cat  *catalog.Catalog
	opts Options
	log  *zap.Logger
}

// NewCalculator creates a Calculator.
func NewCalculator(cat *catalog.Catalog, opts Options) *Calculator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Calculator{
		cat:  cat,
		opts: opts,
		log:  zap.L().With(zap.String("component", "derive.calculator")),
	}
}

// Compute evaluates every definition for every (institution, period) present
// in any wide table. Institutions are independent partitions; within one
// institution periods are processed in ascending order and each value reads
// only its own and earlier periods.
func (c *Calculator) Compute(ctx context.Context, wide *pivot.Result) (*Table, Stats, error) {
	if err := c.checkRefs(wide); err != nil {
		return nil, Stats{}, err
	}

	periodsByInst := make(map[model.InstitutionCode]map[model.Period]bool)
	for _, t := range wide.Tables {
		for _, r := range t.Rows {
			ps, ok := periodsByInst[r.Key.Institution]
			if !ok {
				ps = make(map[model.Period]bool)
				periodsByInst[r.Key.Institution] = ps
			}
			ps[r.Key.Period] = true
		}
	}
	insts := make([]model.InstitutionCode, 0, len(periodsByInst))
	for inst := range periodsByInst {
		insts = append(insts, inst)
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i] < insts[j] })

	rows := make([][]Row, len(insts))
	stats := make([]Stats, len(insts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, inst := range insts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return eris.Wrap(err, "derive: context cancelled")
			}
			rows[i], stats[i] = c.computeInstitution(wide, inst, periodsByInst[inst])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, err
	}

	var all []Row
	var total Stats
	for i := range insts {
		all = append(all, rows[i]...)
		total.add(stats[i])
	}
	table := NewTable(c.cat.DerivedNames(), all)

	c.log.Info("derived metrics computed",
		zap.Int("institutions", len(insts)),
		zap.Int("rows", len(all)),
		zap.Int64("cells", total.Cells),
		zap.Int64("missing", total.Missing),
		zap.Int64("insufficient_history", total.InsufficientHistory),
		zap.Int64("division_by_zero_or_missing", total.DivisionByZeroOrMissing),
		zap.Int64("partial", total.Partial),
	)
	return table, total, nil
}

// checkRefs fails on references to unknown columns of loaded reports. A
// reference to a report absent from this run only yields missing values.
func (c *Calculator) checkRefs(wide *pivot.Result) error {
	for i := range c.cat.Derived {
		d := &c.cat.Derived[i]
		for _, ref := range d.Refs() {
			if ref.IsDerived() {
				continue
			}
			t, ok := wide.Table(ref.Report)
			if !ok {
				c.log.Warn("derived metric input report not loaded",
					zap.String("metric", string(d.Name)),
					zap.String("input", ref.String()),
				)
				continue
			}
			if err := t.Schema.Validate(ref.Metric); err != nil {
				return eris.Wrapf(err, "derive: %s", d.Name)
			}
		}
	}
	return nil
}

func (c *Calculator) computeInstitution(wide *pivot.Result, inst model.InstitutionCode, present map[model.Period]bool) ([]Row, Stats) {
	periods := make([]model.Period, 0, len(present))
	for p := range present {
		periods = append(periods, p)
	}
	sortPeriods(periods)

	// Wide inputs for this institution, read once.
	wideSeries := make(map[model.MetricRef]Series)
	for i := range c.cat.Derived {
		for _, ref := range c.cat.Derived[i].Refs() {
			if ref.IsDerived() {
				continue
			}
			if _, done := wideSeries[ref]; done {
				continue
			}
			s := make(Series)
			if t, ok := wide.Table(ref.Report); ok {
				col, _ := t.Schema.Index(ref.Metric)
				for _, p := range periods {
					if row, ok := t.Row(model.Key{Institution: inst, Period: p}); ok {
						s[p] = row.Values[col]
					}
				}
			}
			wideSeries[ref] = s
		}
	}

	derived := make(map[model.MetricID]map[model.Period]Cell, len(c.cat.Derived))
	for i := range c.cat.Derived {
		derived[c.cat.Derived[i].Name] = make(map[model.Period]Cell, len(periods))
	}

	series := func(ref model.MetricRef) Series {
		if !ref.IsDerived() {
			return wideSeries[ref]
		}
		s := make(Series, len(derived[ref.Metric]))
		for p, cell := range derived[ref.Metric] {
			s[p] = cell.Value
		}
		return s
	}
	cellAt := func(ref model.MetricRef, p model.Period) Cell {
		if ref.IsDerived() {
			if cell, ok := derived[ref.Metric][p]; ok {
				return cell
			}
			return Cell{Value: model.Missing}
		}
		return Cell{Value: wideSeries[ref][p], Inputs: []model.Period{p}}
	}

	var st Stats
	partial := c.opts.AllowPartialWindows
	for i := range c.cat.Derived {
		d := &c.cat.Derived[i]
		var in Series
		if d.Kind != catalog.KindRatio {
			in = series(d.InputRef)
		}
		for _, p := range periods {
			var (
				cell Cell
				out  Outcome
			)
			switch d.Kind {
			case catalog.KindTTMSum:
				cell, out = TrailingSum(in, p, d.Window, partial)
			case catalog.KindAvgBalance:
				cell, out = AverageBalance(in, p, d.Window, partial)
			case catalog.KindRatio:
				cell, out = Ratio(cellAt(d.NumeratorRef, p), cellAt(d.DenominatorRef, p), d.ScaleValue, d.PositiveDenominator)
			case catalog.KindGrowthYoY:
				cell, out = GrowthYoY(in, p, d.Window, d.ScaleValue)
			}
			if (d.Kind == catalog.KindTTMSum || d.Kind == catalog.KindAvgBalance) && !d.ScaleValue.Equal(one) {
				if v, ok := cell.Value.Decimal(); ok {
					cell.Value = model.Of(v.Mul(d.ScaleValue))
				}
			}
			derived[d.Name][p] = cell
			st.record(cell, out)
		}
	}

	rows := make([]Row, len(periods))
	for pi, p := range periods {
		cells := make([]Cell, len(c.cat.Derived))
		for di := range c.cat.Derived {
			cells[di] = derived[c.cat.Derived[di].Name][p]
		}
		rows[pi] = Row{Key: model.Key{Institution: inst, Period: p}, Cells: cells}
	}
	return rows, st
}
