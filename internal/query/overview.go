package query

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/bancoinsights/bacen-etl/internal/catalog"
	"github.com/bancoinsights/bacen-etl/internal/derive"
	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/normalize"
)

var hundred = decimal.NewFromInt(100)

// LatestPeriod returns the most recent period with data in any report.
func (e *Engine) LatestPeriod() (model.Period, error) {
	ps := e.gen.Periods()
	if len(ps) == 0 {
		return model.Period{}, eris.Wrap(ErrNotFound, "query: generation has no periods")
	}
	return ps[len(ps)-1], nil
}

// Search returns registry institutions whose name contains q, ignoring case
// and accents, or whose code equals q. An empty q matches everything.
// Results are ordered by name then code; limit <= 0 returns all matches.
func (e *Engine) Search(q string, limit int) []model.Institution {
	if e.gen.Registry == nil {
		return []model.Institution{}
	}
	needle := normalize.Slug(q)
	code, codeErr := normalize.NormalizeCode(q)

	out := []model.Institution{}
	for _, inst := range e.gen.Registry.All() {
		switch {
		case strings.TrimSpace(q) == "":
		case codeErr == nil && inst.Code == code:
		case needle != "" && strings.Contains(normalize.Slug(inst.Name), needle):
		default:
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].Code < out[j].Code
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SegmentValue is one credit segment of a breakdown. Share is the percentage
// of the breakdown total; GrowthYoY compares with the same quarter a year
// earlier, in percent.
type SegmentValue struct {
	Name      string      `json:"name"`
	Value     model.Value `json:"value"`
	Share     model.Value `json:"share"`
	GrowthYoY model.Value `json:"growth_yoy"`
}

// SegmentBreakdown splits a credit portfolio into its catalog segments for
// one institution, or for the whole market when Institution is empty.
type SegmentBreakdown struct {
	Period      model.Period          `json:"period"`
	Institution model.InstitutionCode `json:"institution,omitempty"`
	Name        string                `json:"name,omitempty"`
	Total       model.Value           `json:"total"`
	Segments    []SegmentValue        `json:"segments"`
}

// Segments breaks the credit portfolio of inst down by set for period p. An
// empty inst sums every institution reporting in p. Columns of reports that
// are absent from the generation count as missing.
func (e *Engine) Segments(p model.Period, inst model.InstitutionCode, set catalog.SegmentSet) (SegmentBreakdown, error) {
	out := SegmentBreakdown{Period: p, Institution: inst, Name: e.name(inst), Total: model.Missing}
	if len(set.Segments) == 0 {
		return out, eris.New("query: no credit segments configured")
	}
	if !e.hasPeriod(p) {
		return out, eris.Wrapf(ErrNotFound, "query: no data in %s", p)
	}

	out.Total = e.sumRefs(set.TotalRefs, p, inst)
	out.Segments = make([]SegmentValue, 0, len(set.Segments))
	for _, seg := range set.Segments {
		cur := e.sumRefs(seg.Refs, p, inst)
		base := p.Add(-catalog.YoYLag)
		share, _ := derive.Ratio(derive.Cell{Value: cur}, derive.Cell{Value: out.Total}, hundred, true)
		growth, _ := derive.GrowthYoY(derive.Series{
			p:    cur,
			base: e.sumRefs(seg.Refs, base, inst),
		}, p, catalog.YoYLag, hundred)
		out.Segments = append(out.Segments, SegmentValue{
			Name:      seg.Name,
			Value:     cur,
			Share:     share.Value,
			GrowthYoY: growth.Value,
		})
	}
	return out, nil
}

func (e *Engine) hasPeriod(p model.Period) bool {
	for _, q := range e.gen.Periods() {
		if q == p {
			return true
		}
	}
	return false
}

// sumRefs adds the present values of refs for (inst, p), or over every row of
// p when inst is empty. The sum is missing when no value is present.
func (e *Engine) sumRefs(refs []model.MetricRef, p model.Period, inst model.InstitutionCode) model.Value {
	sum := decimal.Zero
	found := false
	for _, ref := range refs {
		t, ok := e.wide.Table(ref.Report)
		if !ok {
			continue
		}
		col, ok := t.Schema.Index(ref.Metric)
		if !ok {
			continue
		}
		for _, r := range t.Rows {
			if r.Key.Period != p || (inst != "" && r.Key.Institution != inst) {
				continue
			}
			if d, ok := r.Values[col].Decimal(); ok {
				sum = sum.Add(d)
				found = true
			}
		}
	}
	if !found {
		return model.Missing
	}
	return model.Of(sum)
}

// Snapshot is the market overview of one metric at the latest quarter.
type Snapshot struct {
	Period       model.Period    `json:"period"`
	Metric       model.MetricRef `json:"metric"`
	Total        model.Value     `json:"total"`
	Reporting    int             `json:"reporting"`
	Institutions int             `json:"institutions"`
	Top5Share    model.Value     `json:"top5_share"`
	HHI          model.Value     `json:"hhi"`
	Leaders      []Entry         `json:"leaders"`
}

// Snapshot summarizes ref at the latest period: market total, the five
// largest institutions and their combined share. Institutions counts every
// institution with a row in any report for that period.
func (e *Engine) Snapshot(ref model.MetricRef) (Snapshot, error) {
	p, err := e.LatestPeriod()
	if err != nil {
		return Snapshot{}, err
	}
	agg, err := e.aggregate(p, ref)
	if err != nil {
		return Snapshot{}, err
	}
	leaders, err := e.Rank(p, ref, 5)
	if err != nil {
		return Snapshot{}, err
	}

	top5 := model.Missing
	if len(leaders) > 0 {
		sum := decimal.Zero
		complete := true
		for _, l := range leaders {
			d, ok := l.Share.Decimal()
			if !ok {
				complete = false
				break
			}
			sum = sum.Add(d)
		}
		if complete {
			top5 = model.Of(sum)
		}
	}

	seen := make(map[model.InstitutionCode]bool)
	for _, t := range e.gen.Tables {
		for _, r := range t.Rows {
			if r.Key.Period == p {
				seen[r.Key.Institution] = true
			}
		}
	}

	return Snapshot{
		Period:       p,
		Metric:       ref,
		Total:        agg.Total,
		Reporting:    agg.Count,
		Institutions: len(seen),
		Top5Share:    top5,
		HHI:          agg.HHI,
		Leaders:      leaders,
	}, nil
}
