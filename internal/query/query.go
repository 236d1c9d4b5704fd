// Package query is the read path over a committed generation: point lookups,
// rankings, time series, peer-group statistics and market concentration.
package query

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/bancoinsights/bacen-etl/internal/derive"
	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/pivot"
	"github.com/bancoinsights/bacen-etl/internal/store"
)

// ErrNotFound is returned when a period has no data at all.
var ErrNotFound = eris.New("query: not found")

// Engine answers queries over one generation. It holds no mutable state.
type Engine struct {
	gen  *store.Generation
	wide *pivot.Result
}

// New returns an Engine over gen.
func New(gen *store.Generation) *Engine {
	return &Engine{gen: gen, wide: gen.Wide()}
}

// Generation returns the generation being queried.
func (e *Engine) Generation() *store.Generation {
	return e.gen
}

// ParseMetric parses and validates a "report.metric" reference.
func (e *Engine) ParseMetric(s string) (model.MetricRef, error) {
	ref, err := model.ParseMetricRef(s)
	if err != nil {
		return model.MetricRef{}, err
	}
	return ref, e.check(ref)
}

func (e *Engine) check(ref model.MetricRef) error {
	if ref.IsDerived() {
		if e.gen.Derived == nil || !e.gen.Derived.Has(ref.Metric) {
			return eris.Wrapf(model.ErrUnknownMetric, "query: %s", ref)
		}
		return nil
	}
	t, ok := e.wide.Table(ref.Report)
	if !ok {
		return eris.Wrapf(model.ErrUnknownMetric, "query: %s: unknown report", ref)
	}
	return eris.Wrap(t.Schema.Validate(ref.Metric), "query")
}

func (e *Engine) value(ref model.MetricRef, key model.Key) model.Value {
	if ref.IsDerived() {
		c, _ := e.gen.Derived.Cell(key, ref.Metric)
		return c.Value
	}
	v, err := e.wide.Value(ref, key)
	if err != nil {
		return model.Missing
	}
	return v
}

// periodValues returns one observation per institution that has a row for
// period in the table ref addresses.
func (e *Engine) periodValues(ref model.MetricRef, p model.Period) []derive.Observation {
	var out []derive.Observation
	if ref.IsDerived() {
		for _, r := range e.gen.Derived.Rows {
			if r.Key.Period == p {
				c, _ := e.gen.Derived.Cell(r.Key, ref.Metric)
				out = append(out, derive.Observation{Institution: r.Key.Institution, Value: c.Value})
			}
		}
		return out
	}
	t, _ := e.wide.Table(ref.Report)
	col, _ := t.Schema.Index(ref.Metric)
	for _, r := range t.Rows {
		if r.Key.Period == p {
			out = append(out, derive.Observation{Institution: r.Key.Institution, Value: r.Values[col]})
		}
	}
	return out
}

func (e *Engine) name(code model.InstitutionCode) string {
	if e.gen.Registry == nil {
		return ""
	}
	inst, _ := e.gen.Registry.Get(code)
	return inst.Name
}

// Lookup returns the value of ref for (institution, period). Cells that were
// never reported are missing, not an error.
func (e *Engine) Lookup(inst model.InstitutionCode, p model.Period, ref model.MetricRef) (model.Value, error) {
	if err := e.check(ref); err != nil {
		return model.Missing, err
	}
	return e.value(ref, model.Key{Institution: inst, Period: p}), nil
}

// Entry is one ranked institution.
type Entry struct {
	Rank        int                   `json:"rank"`
	Institution model.InstitutionCode `json:"institution"`
	Name        string                `json:"name,omitempty"`
	Value       model.Value           `json:"value"`
	Share       model.Value           `json:"share"`
}

// Rank orders institutions with a value for (period, ref) by value
// descending, ties broken by institution code ascending. topN <= 0 returns
// every ranked institution.
func (e *Engine) Rank(p model.Period, ref model.MetricRef, topN int) ([]Entry, error) {
	agg, err := e.aggregate(p, ref)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, agg.Count)
	for _, s := range agg.Shares {
		if s.Rank == 0 {
			continue
		}
		if topN > 0 && len(out) == topN {
			break
		}
		out = append(out, Entry{
			Rank:        s.Rank,
			Institution: s.Institution,
			Name:        e.name(s.Institution),
			Value:       s.Value,
			Share:       s.Share,
		})
	}
	return out, nil
}

// Point is one period of a time series.
type Point struct {
	Period model.Period `json:"period"`
	Value  model.Value  `json:"value"`
}

// Timeseries returns one point per quarter from "from" to "to" inclusive,
// with gaps as missing values.
func (e *Engine) Timeseries(inst model.InstitutionCode, ref model.MetricRef, from, to model.Period) ([]Point, error) {
	if err := e.check(ref); err != nil {
		return nil, err
	}
	if !from.Valid() || !to.Valid() {
		return nil, eris.Errorf("query: invalid period range %s..%s", from, to)
	}
	periods := model.PeriodRange(from, to)
	out := make([]Point, len(periods))
	for i, p := range periods {
		out[i] = Point{Period: p, Value: e.value(ref, model.Key{Institution: inst, Period: p})}
	}
	return out, nil
}

// PeerFilter selects a peer group by registry attributes. Empty fields match
// everything; attribute matches are case-insensitive.
type PeerFilter struct {
	Segment string                  `json:"segment,omitempty"`
	Control string                  `json:"control,omitempty"`
	Region  string                  `json:"region,omitempty"`
	Type    string                  `json:"type,omitempty"`
	Codes   []model.InstitutionCode `json:"codes,omitempty"`
}

func (f PeerFilter) match(inst model.Institution) bool {
	if len(f.Codes) > 0 {
		found := false
		for _, c := range f.Codes {
			if c == inst.Code {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, pair := range [][2]string{
		{f.Segment, inst.Segment},
		{f.Control, inst.Control},
		{f.Region, inst.Region},
		{f.Type, inst.Type},
	} {
		if pair[0] != "" && !strings.EqualFold(strings.TrimSpace(pair[0]), strings.TrimSpace(pair[1])) {
			return false
		}
	}
	return true
}

// PeerStats summarizes a metric over a peer group for one period. Sum, Mean
// and Median are missing when no member reports a value.
type PeerStats struct {
	Period       model.Period            `json:"period"`
	Metric       model.MetricRef         `json:"metric"`
	Members      []model.InstitutionCode `json:"members"`
	Count        int                     `json:"count"`
	MissingCount int                     `json:"missing_count"`
	Sum          model.Value             `json:"sum"`
	Mean         model.Value             `json:"mean"`
	Median       model.Value             `json:"median"`
}

var two = decimal.NewFromInt(2)

// PeerAggregate computes sum, mean, median and count of ref over the
// institutions present in period p that match filter.
func (e *Engine) PeerAggregate(p model.Period, ref model.MetricRef, filter PeerFilter) (PeerStats, error) {
	st := PeerStats{Period: p, Metric: ref, Members: []model.InstitutionCode{}, Sum: model.Missing, Mean: model.Missing, Median: model.Missing}
	if err := e.check(ref); err != nil {
		return st, err
	}

	obs := e.periodValues(ref, p)
	if len(obs) == 0 {
		return st, eris.Wrapf(ErrNotFound, "query: no data for %s in %s", ref, p)
	}

	var vals []decimal.Decimal
	for _, o := range obs {
		inst := model.Institution{Code: o.Institution}
		if e.gen.Registry != nil {
			if reg, ok := e.gen.Registry.Get(o.Institution); ok {
				inst = reg
			}
		}
		if !filter.match(inst) {
			continue
		}
		st.Members = append(st.Members, o.Institution)
		d, ok := o.Value.Decimal()
		if !ok {
			st.MissingCount++
			continue
		}
		vals = append(vals, d)
	}
	sort.Slice(st.Members, func(i, j int) bool { return st.Members[i] < st.Members[j] })

	st.Count = len(vals)
	if st.Count == 0 {
		return st, nil
	}
	sum := decimal.Zero
	for _, v := range vals {
		sum = sum.Add(v)
	}
	st.Sum = model.Of(sum)
	st.Mean = model.Of(sum.DivRound(decimal.NewFromInt(int64(st.Count)), derive.Precision))

	sort.Slice(vals, func(i, j int) bool { return vals[i].LessThan(vals[j]) })
	mid := st.Count / 2
	if st.Count%2 == 1 {
		st.Median = model.Of(vals[mid])
	} else {
		st.Median = model.Of(vals[mid-1].Add(vals[mid]).DivRound(two, derive.Precision))
	}
	return st, nil
}

// aggregate returns the committed market aggregate of (period, ref), or
// computes one from the period's values when ref is not a market metric.
func (e *Engine) aggregate(p model.Period, ref model.MetricRef) (*derive.Aggregate, error) {
	if err := e.check(ref); err != nil {
		return nil, err
	}
	if e.gen.Market != nil {
		if agg, ok := e.gen.Market.Get(ref, p); ok {
			return agg, nil
		}
	}
	obs := e.periodValues(ref, p)
	if len(obs) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "query: no data for %s in %s", ref, p)
	}
	agg := derive.ComputeAggregate(p, ref, obs)
	return &agg, nil
}

// Share returns an institution's market share of ref in period p. An
// institution without a value gets a missing share and rank 0.
func (e *Engine) Share(inst model.InstitutionCode, p model.Period, ref model.MetricRef) (derive.Share, error) {
	agg, err := e.aggregate(p, ref)
	if err != nil {
		return derive.Share{}, err
	}
	if s, ok := agg.ShareOf(inst); ok {
		return s, nil
	}
	return derive.Share{Institution: inst, Value: model.Missing, Share: model.Missing}, nil
}

// Concentration summarizes market concentration of ref in period p.
type Concentration struct {
	Period model.Period    `json:"period"`
	Metric model.MetricRef `json:"metric"`
	Total  model.Value     `json:"total"`
	Count  int             `json:"count"`
	HHI    model.Value     `json:"hhi"`
	CR4    model.Value     `json:"cr4"`
	CR10   model.Value     `json:"cr10"`
}

// Concentration returns HHI, CR4, CR10 and the reporting count of ref in p.
func (e *Engine) Concentration(p model.Period, ref model.MetricRef) (Concentration, error) {
	agg, err := e.aggregate(p, ref)
	if err != nil {
		return Concentration{}, err
	}
	return Concentration{
		Period: agg.Period,
		Metric: agg.Metric,
		Total:  agg.Total,
		Count:  agg.Count,
		HHI:    agg.HHI,
		CR4:    agg.CR4,
		CR10:   agg.CR10,
	}, nil
}
