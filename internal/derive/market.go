package derive

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/pivot"
)

var hundred = decimal.NewFromInt(100)

// Share is one institution's position in a market aggregate.
type Share struct {
	Institution model.InstitutionCode `json:"institution"`
	Value       model.Value           `json:"value"`
	// Share is the percentage of the period total; missing when Value is
	// missing or the total is not positive.
	Share model.Value `json:"share"`
	// Rank is the 1-based position by value descending, ties broken by
	// institution code ascending; 0 for institutions without a value.
	Rank int `json:"rank"`
}

// Aggregate summarizes one metric across institutions for one period.
type Aggregate struct {
	Period model.Period    `json:"period"`
	Metric model.MetricRef `json:"metric"`
	Total  model.Value     `json:"total"`
	// Count is the number of institutions with a non-missing value.
	Count int `json:"count"`
	// HHI is the sum of squared percentage shares (0 to 10000).
	HHI  model.Value `json:"hhi"`
	CR4  model.Value `json:"cr4"`
	CR10 model.Value `json:"cr10"`
	// Shares holds ranked institutions first, then those without a value by
	// code.
	Shares []Share `json:"shares"`
}

// ShareOf returns the share record of an institution.
func (a *Aggregate) ShareOf(inst model.InstitutionCode) (Share, bool) {
	for _, s := range a.Shares {
		if s.Institution == inst {
			return s, true
		}
	}
	return Share{}, false
}

type marketKey struct {
	Metric model.MetricRef
	Period model.Period
}

// Market holds the market aggregates of a run, ordered by metric then period.
type Market struct {
	Aggregates []Aggregate
	index      map[marketKey]int
}

// NewMarket indexes aggregates, sorting them by metric then period.
func NewMarket(aggs []Aggregate) *Market {
	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].Metric != aggs[j].Metric {
			return aggs[i].Metric.String() < aggs[j].Metric.String()
		}
		return aggs[i].Period.Before(aggs[j].Period)
	})
	m := &Market{Aggregates: aggs, index: make(map[marketKey]int, len(aggs))}
	for i, a := range aggs {
		m.index[marketKey{Metric: a.Metric, Period: a.Period}] = i
	}
	return m
}

// Get returns the aggregate of (metric, period).
func (m *Market) Get(metric model.MetricRef, p model.Period) (*Aggregate, bool) {
	i, ok := m.index[marketKey{Metric: metric, Period: p}]
	if !ok {
		return nil, false
	}
	return &m.Aggregates[i], true
}

// Observation is one (institution, value) pair fed to Aggregate.
type Observation struct {
	Institution model.InstitutionCode
	Value       model.Value
}

// ComputeAggregate builds the market aggregate of one (period, metric).
// Institutions with a missing value are excluded from both numerator and
// denominator. A total that is not positive leaves shares and concentration
// missing.
func ComputeAggregate(p model.Period, metric model.MetricRef, obs []Observation) Aggregate {
	agg := Aggregate{
		Period: p,
		Metric: metric,
		Total:  model.Missing,
		HHI:    model.Missing,
		CR4:    model.Missing,
		CR10:   model.Missing,
	}

	type reporter struct {
		inst model.InstitutionCode
		v    decimal.Decimal
	}
	var (
		reporters []reporter
		absent    []model.InstitutionCode
		total     = decimal.Zero
	)
	for _, o := range obs {
		d, ok := o.Value.Decimal()
		if !ok {
			absent = append(absent, o.Institution)
			continue
		}
		reporters = append(reporters, reporter{inst: o.Institution, v: d})
		total = total.Add(d)
	}

	sort.Slice(reporters, func(i, j int) bool {
		if c := reporters[i].v.Cmp(reporters[j].v); c != 0 {
			return c > 0
		}
		return reporters[i].inst < reporters[j].inst
	})
	sort.Slice(absent, func(i, j int) bool { return absent[i] < absent[j] })

	agg.Count = len(reporters)
	if agg.Count > 0 {
		agg.Total = model.Of(total)
	}
	positive := total.Sign() > 0

	hhi, cr4, cr10 := decimal.Zero, decimal.Zero, decimal.Zero
	agg.Shares = make([]Share, 0, len(reporters)+len(absent))
	for i, r := range reporters {
		s := Share{Institution: r.inst, Value: model.Of(r.v), Share: model.Missing, Rank: i + 1}
		if positive {
			pct := r.v.Mul(hundred).DivRound(total, Precision)
			s.Share = model.Of(pct)
			hhi = hhi.Add(pct.Mul(pct))
			if i < 4 {
				cr4 = cr4.Add(pct)
			}
			if i < 10 {
				cr10 = cr10.Add(pct)
			}
		}
		agg.Shares = append(agg.Shares, s)
	}
	for _, inst := range absent {
		agg.Shares = append(agg.Shares, Share{Institution: inst, Value: model.Missing, Share: model.Missing})
	}

	if positive {
		agg.HHI = model.Of(hhi.Round(Precision))
		agg.CR4 = model.Of(cr4)
		agg.CR10 = model.Of(cr10)
	}
	return agg
}

// ComputeMarket builds aggregates for every period and each metric in refs.
// References may address wide tables or the derived table.
func ComputeMarket(wide *pivot.Result, derived *Table, refs []model.MetricRef) (*Market, error) {
	log := zap.L().With(zap.String("component", "derive.market"))

	var aggs []Aggregate
	for _, ref := range refs {
		byPeriod := make(map[model.Period][]Observation)

		switch {
		case ref.IsDerived():
			if derived == nil || !derived.Has(ref.Metric) {
				return nil, eris.Wrapf(model.ErrUnknownMetric, "derive: market %s", ref)
			}
			for _, r := range derived.Rows {
				cell, _ := derived.Cell(r.Key, ref.Metric)
				byPeriod[r.Key.Period] = append(byPeriod[r.Key.Period], Observation{Institution: r.Key.Institution, Value: cell.Value})
			}
		default:
			t, ok := wide.Table(ref.Report)
			if !ok {
				log.Warn("market metric report not loaded", zap.String("metric", ref.String()))
				continue
			}
			col, ok := t.Schema.Index(ref.Metric)
			if !ok {
				return nil, eris.Wrapf(t.Schema.Validate(ref.Metric), "derive: market")
			}
			for _, r := range t.Rows {
				byPeriod[r.Key.Period] = append(byPeriod[r.Key.Period], Observation{Institution: r.Key.Institution, Value: r.Values[col]})
			}
		}

		for p, obs := range byPeriod {
			aggs = append(aggs, ComputeAggregate(p, ref, obs))
		}
	}

	m := NewMarket(aggs)
	log.Info("market aggregates computed", zap.Int("metrics", len(refs)), zap.Int("aggregates", len(m.Aggregates)))
	return m, nil
}
