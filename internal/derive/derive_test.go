package derive

import (
	"context"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bancoinsights/bacen-etl/internal/catalog"
	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/pivot"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const testCatalog = `
version: test
derived:
  - name: ttm_ni
    kind: ttm_sum
    input: r.ni
  - name: avg_eq
    kind: avg_balance
    input: r.eq
  - name: roe
    kind: ratio
    numerator: derived.ttm_ni
    denominator: derived.avg_eq
  - name: eq_growth
    kind: growth_yoy
    input: r.eq
market:
  - r.assets
  - derived.roe
`

func mustCatalog(t *testing.T, src string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(src))
	require.NoError(t, err)
	return c
}

func series(start model.Period, vals ...string) Series {
	s := make(Series)
	for i, v := range vals {
		if v == "" {
			s[start.Add(i)] = model.Missing
			continue
		}
		s[start.Add(i)] = model.MustParse(v)
	}
	return s
}

var (
	p22q4 = model.NewPeriod(2022, 4)
	p23q1 = model.NewPeriod(2023, 1)
	p23q3 = model.NewPeriod(2023, 3)
	p23q4 = model.NewPeriod(2023, 4)
	p24q1 = model.NewPeriod(2024, 1)
)

func TestTrailingSum(t *testing.T) {
	s := series(p23q1, "10", "20", "30", "40", "50")

	cell, out := TrailingSum(s, p23q4, 4, false)
	assert.Equal(t, OK, out)
	assert.True(t, cell.Value.Equal(model.OfInt(100)))
	assert.Equal(t, model.Window(p23q4, 4), cell.Inputs)
	assert.False(t, cell.Partial)

	cell, _ = TrailingSum(s, p24q1, 4, false)
	assert.True(t, cell.Value.Equal(model.OfInt(140)))
}

func TestTrailingSum_ThreeQuartersIsMissing(t *testing.T) {
	s := series(p23q1, "10", "20", "30")

	cell, out := TrailingSum(s, p23q4, 4, false)
	assert.Equal(t, InsufficientHistory, out)
	assert.True(t, cell.Value.IsMissing())

	cell, out = TrailingSum(s, p23q3, 4, false)
	assert.Equal(t, InsufficientHistory, out)
	assert.True(t, cell.Value.IsMissing())
}

func TestTrailingSum_GapIsMissing(t *testing.T) {
	s := series(p23q1, "10", "", "30", "40")

	cell, out := TrailingSum(s, p23q4, 4, false)
	assert.Equal(t, InsufficientHistory, out)
	assert.True(t, cell.Value.IsMissing())
}

func TestTrailingSum_PartialOptIn(t *testing.T) {
	s := series(p23q1, "10", "20", "30")

	cell, out := TrailingSum(s, p23q3, 4, true)
	assert.Equal(t, OK, out)
	assert.True(t, cell.Partial)
	// (10+20+30) * 4/3
	assert.True(t, cell.Value.Equal(model.OfInt(80)))
	assert.Equal(t, []model.Period{p23q1, p23q1.Add(1), p23q3}, cell.Inputs)

	empty, out := TrailingSum(Series{}, p23q3, 4, true)
	assert.Equal(t, InsufficientHistory, out)
	assert.True(t, empty.Value.IsMissing())
}

func TestTrailingSum_NoLookAhead(t *testing.T) {
	s := series(p23q1, "10", "20", "30", "40")
	before, _ := TrailingSum(s, p23q4, 4, false)

	s[p24q1] = model.OfInt(1_000_000)
	s[p24q1.Add(1)] = model.OfInt(-5)
	after, _ := TrailingSum(s, p23q4, 4, false)

	assert.True(t, before.Value.Equal(after.Value))
	for _, p := range after.Inputs {
		assert.False(t, p.After(p23q4))
	}
}

func TestAverageBalance(t *testing.T) {
	s := series(p22q4, "100", "200", "300", "400", "500")

	cell, out := AverageBalance(s, p23q4, 5, false)
	assert.Equal(t, OK, out)
	assert.True(t, cell.Value.Equal(model.OfInt(300)))
	assert.Len(t, cell.Inputs, 5)

	cell, out = AverageBalance(s, p23q3, 5, false)
	assert.Equal(t, InsufficientHistory, out)
	assert.True(t, cell.Value.IsMissing())

	cell, out = AverageBalance(s, p23q3, 5, true)
	assert.Equal(t, OK, out)
	assert.True(t, cell.Partial)
	assert.True(t, cell.Value.Equal(model.OfInt(250)))
}

func TestRatio(t *testing.T) {
	scale := decimal.NewFromInt(100)
	num := Cell{Value: model.OfInt(40), Inputs: []model.Period{p23q4, p24q1}}

	t.Run("ok", func(t *testing.T) {
		den := Cell{Value: model.OfInt(200), Inputs: []model.Period{p23q1, p24q1}}
		cell, out := Ratio(num, den, scale, false)
		assert.Equal(t, OK, out)
		assert.True(t, cell.Value.Equal(model.OfInt(20)))
		assert.Equal(t, []model.Period{p23q1, p23q4, p24q1}, cell.Inputs)
	})

	t.Run("zero denominator", func(t *testing.T) {
		cell, out := Ratio(num, Cell{Value: model.OfInt(0)}, scale, false)
		assert.Equal(t, DivisionByZeroOrMissing, out)
		assert.True(t, cell.Value.IsMissing())
	})

	t.Run("negative denominator", func(t *testing.T) {
		cell, out := Ratio(num, Cell{Value: model.OfInt(-10)}, scale, false)
		assert.Equal(t, OK, out)
		assert.True(t, cell.Value.Equal(model.OfInt(-400)))
	})

	t.Run("negative denominator with positive flag", func(t *testing.T) {
		cell, out := Ratio(num, Cell{Value: model.OfInt(-10)}, scale, true)
		assert.Equal(t, DivisionByZeroOrMissing, out)
		assert.True(t, cell.Value.IsMissing())
	})

	t.Run("missing denominator", func(t *testing.T) {
		cell, out := Ratio(num, Cell{Value: model.Missing}, scale, false)
		assert.Equal(t, DivisionByZeroOrMissing, out)
		assert.True(t, cell.Value.IsMissing())
	})

	t.Run("missing numerator", func(t *testing.T) {
		cell, out := Ratio(Cell{Value: model.Missing}, Cell{Value: model.OfInt(10)}, scale, false)
		assert.Equal(t, MissingInput, out)
		assert.True(t, cell.Value.IsMissing())
	})

	t.Run("negative numerator", func(t *testing.T) {
		cell, out := Ratio(Cell{Value: model.OfInt(-5)}, Cell{Value: model.OfInt(50)}, scale, false)
		assert.Equal(t, OK, out)
		assert.True(t, cell.Value.Equal(model.OfInt(-10)))
	})
}

func TestGrowthYoY(t *testing.T) {
	scale := decimal.NewFromInt(100)
	s := series(p23q1, "100", "", "", "", "125")

	cell, out := GrowthYoY(s, p24q1, 4, scale)
	assert.Equal(t, OK, out)
	assert.True(t, cell.Value.Equal(model.OfInt(25)))
	assert.Equal(t, []model.Period{p23q1, p24q1}, cell.Inputs)

	cell, out = GrowthYoY(s, p23q4, 4, scale)
	assert.Equal(t, MissingInput, out)
	assert.True(t, cell.Value.IsMissing())

	cell, out = GrowthYoY(series(p24q1, "50"), p24q1, 4, scale)
	assert.Equal(t, InsufficientHistory, out)
	assert.True(t, cell.Value.IsMissing())

	zeroBase := series(p23q1, "0", "", "", "", "10")
	cell, out = GrowthYoY(zeroBase, p24q1, 4, scale)
	assert.Equal(t, DivisionByZeroOrMissing, out)
	assert.True(t, cell.Value.IsMissing())
}

type obsBuilder struct {
	seq int64
	out []model.Observation
}

func (b *obsBuilder) add(inst string, p model.Period, metric, value string) *obsBuilder {
	v := model.Missing
	if value != "" {
		v = model.MustParse(value)
	}
	b.out = append(b.out, model.Observation{
		Seq:         b.seq,
		Institution: model.InstitutionCode(inst),
		Period:      p,
		Report:      "r",
		Metric:      model.MetricID(metric),
		Value:       v,
	})
	b.seq++
	return b
}

func pivotObs(t *testing.T, obs []model.Observation) *pivot.Result {
	t.Helper()
	res, err := pivot.New(pivot.Options{}).Pivot(context.Background(), obs)
	require.NoError(t, err)
	return res
}

func key(inst string, p model.Period) model.Key {
	return model.Key{Institution: model.InstitutionCode(inst), Period: p}
}

// fiveQuarters builds 2023Q1..2024Q1 for one institution with constant equity
// and net income.
func fiveQuarters(b *obsBuilder, inst, ni, eq string) {
	for i := 0; i < 5; i++ {
		p := p23q1.Add(i)
		b.add(inst, p, "ni", ni).add(inst, p, "eq", eq).add(inst, p, "assets", "1000")
	}
}

func TestCalculator_ROE(t *testing.T) {
	b := &obsBuilder{}
	fiveQuarters(b, "00000001", "10", "200")
	b.add("00000001", model.NewPeriod(2022, 4), "eq", "200")

	cat := mustCatalog(t, testCatalog)
	tbl, stats, err := NewCalculator(cat, Options{Workers: 2}).Compute(context.Background(), pivotObs(t, b.out))
	require.NoError(t, err)

	roe, ok := tbl.Cell(key("00000001", p24q1), "roe")
	require.True(t, ok)
	// 40 / 200 * 100
	assert.True(t, roe.Value.Equal(model.OfInt(20)))
	assert.Equal(t, model.PeriodRange(p23q1, p24q1), roe.Inputs)

	roe, _ = tbl.Cell(key("00000001", p23q4), "roe")
	assert.True(t, roe.Value.Equal(model.OfInt(20)))

	// Only three quarters of income at 2023Q3.
	ttm, _ := tbl.Cell(key("00000001", p23q3), "ttm_ni")
	assert.True(t, ttm.Value.IsMissing())
	roe, _ = tbl.Cell(key("00000001", p23q3), "roe")
	assert.True(t, roe.Value.IsMissing())

	assert.Positive(t, stats.InsufficientHistory)
	assert.Positive(t, stats.MissingInput)
	assert.Zero(t, stats.Partial)
}

func TestCalculator_ZeroEquityIsMissing(t *testing.T) {
	b := &obsBuilder{}
	fiveQuarters(b, "00000001", "10", "0")
	cat := mustCatalog(t, testCatalog)

	tbl, stats, err := NewCalculator(cat, Options{}).Compute(context.Background(), pivotObs(t, b.out))
	require.NoError(t, err)

	roe, _ := tbl.Cell(key("00000001", p24q1), "roe")
	assert.True(t, roe.Value.IsMissing())
	assert.Positive(t, stats.DivisionByZeroOrMissing)
}

const ratioCatalog = `
version: ratios
derived:
  - name: ttm_ni
    kind: ttm_sum
    input: r.ni
  - name: avg_eq
    kind: avg_balance
    input: r.eq
  - name: avg_assets
    kind: avg_balance
    input: r.assets
  - name: roe
    kind: ratio
    numerator: derived.ttm_ni
    denominator: derived.avg_eq
  - name: roa
    kind: ratio
    numerator: derived.ttm_ni
    denominator: derived.avg_assets
    positive_denominator: true
  - name: eq_growth
    kind: growth_yoy
    input: r.eq
`

func TestCalculator_NegativeDenominatorFollowsDefinition(t *testing.T) {
	b := &obsBuilder{}
	for i := 0; i < 5; i++ {
		p := p23q1.Add(i)
		b.add("00000001", p, "ni", "10").add("00000001", p, "eq", "-200").add("00000001", p, "assets", "1000")
		b.add("00000002", p, "ni", "10").add("00000002", p, "eq", "200").add("00000002", p, "assets", "-1000")
	}
	cat := mustCatalog(t, ratioCatalog)

	tbl, stats, err := NewCalculator(cat, Options{}).Compute(context.Background(), pivotObs(t, b.out))
	require.NoError(t, err)

	// negative equity still yields a (negative) return on equity
	roe, _ := tbl.Cell(key("00000001", p24q1), "roe")
	assert.True(t, roe.Value.Equal(model.OfInt(-20)), "got %s", roe.Value)
	roa, _ := tbl.Cell(key("00000001", p24q1), "roa")
	assert.True(t, roa.Value.Equal(model.OfInt(4)), "got %s", roa.Value)

	// roa requires a positive asset base
	roa, _ = tbl.Cell(key("00000002", p24q1), "roa")
	assert.True(t, roa.Value.IsMissing())
	roe, _ = tbl.Cell(key("00000002", p24q1), "roe")
	assert.True(t, roe.Value.Equal(model.OfInt(20)), "got %s", roe.Value)
	assert.Positive(t, stats.DivisionByZeroOrMissing)
}

func TestCalculator_NoLookAhead(t *testing.T) {
	history := func(b *obsBuilder) {
		for i := 0; i < 6; i++ {
			p := p22q4.Add(i)
			b.add("00000001", p, "ni", fmt.Sprintf("%d", 10+i)).
				add("00000001", p, "eq", fmt.Sprintf("%d", 200+10*i)).
				add("00000001", p, "assets", fmt.Sprintf("%d", 1000+100*i))
		}
	}
	next := p24q1.Add(1)

	without := &obsBuilder{}
	history(without)

	withNext := &obsBuilder{}
	history(withNext)
	withNext.add("00000001", next, "ni", "500").add("00000001", next, "eq", "9000").add("00000001", next, "assets", "1")

	changedNext := &obsBuilder{}
	history(changedNext)
	changedNext.add("00000001", next, "ni", "-70").add("00000001", next, "eq", "").add("00000001", next, "assets", "123456")

	cat := mustCatalog(t, ratioCatalog)
	compute := func(b *obsBuilder) *Table {
		tbl, _, err := NewCalculator(cat, Options{}).Compute(context.Background(), pivotObs(t, b.out))
		require.NoError(t, err)
		return tbl
	}
	base := compute(without)
	variants := map[string]*Table{"next quarter added": compute(withNext), "next quarter changed": compute(changedNext)}

	for _, metric := range []model.MetricID{"roe", "roa", "eq_growth"} {
		want, ok := base.Cell(key("00000001", p24q1), metric)
		require.True(t, ok)
		require.False(t, want.Value.IsMissing(), metric)

		for name, tbl := range variants {
			got, ok := tbl.Cell(key("00000001", p24q1), metric)
			require.True(t, ok, name)
			assert.True(t, want.Value.Equal(got.Value), "%s %s: %s != %s", name, metric, want.Value, got.Value)
			assert.Equal(t, want.Inputs, got.Inputs, "%s %s", name, metric)
		}
	}
}

func TestCalculator_PartialWindows(t *testing.T) {
	b := &obsBuilder{}
	for i := 0; i < 3; i++ {
		b.add("00000001", p23q1.Add(i), "ni", "30").add("00000001", p23q1.Add(i), "eq", "100")
	}
	cat := mustCatalog(t, testCatalog)

	tbl, stats, err := NewCalculator(cat, Options{AllowPartialWindows: true}).Compute(context.Background(), pivotObs(t, b.out))
	require.NoError(t, err)

	ttm, _ := tbl.Cell(key("00000001", p23q3), "ttm_ni")
	assert.True(t, ttm.Partial)
	assert.True(t, ttm.Value.Equal(model.OfInt(120)))

	roe, _ := tbl.Cell(key("00000001", p23q3), "roe")
	assert.True(t, roe.Partial)
	assert.True(t, roe.Value.Equal(model.OfInt(120)))
	assert.Positive(t, stats.Partial)
}

func TestCalculator_DeterministicAcrossWorkers(t *testing.T) {
	b := &obsBuilder{}
	for _, inst := range []string{"00000009", "00000003", "00000005", "00000001"} {
		fiveQuarters(b, inst, "7", "70")
	}
	cat := mustCatalog(t, testCatalog)
	wide := pivotObs(t, b.out)

	one, _, err := NewCalculator(cat, Options{Workers: 1}).Compute(context.Background(), wide)
	require.NoError(t, err)
	many, _, err := NewCalculator(cat, Options{Workers: 8}).Compute(context.Background(), wide)
	require.NoError(t, err)

	require.Equal(t, len(one.Rows), len(many.Rows))
	for i := range one.Rows {
		assert.Equal(t, one.Rows[i].Key, many.Rows[i].Key)
		for j := range one.Rows[i].Cells {
			assert.True(t, one.Rows[i].Cells[j].Value.Equal(many.Rows[i].Cells[j].Value))
		}
	}
	assert.Equal(t, key("00000001", p23q1), many.Rows[0].Key)
	assert.Equal(t, []model.MetricID{"ttm_ni", "avg_eq", "roe", "eq_growth"}, many.Metrics)
}

func TestCalculator_UnknownMetricOfLoadedReport(t *testing.T) {
	b := &obsBuilder{}
	fiveQuarters(b, "00000001", "10", "200")
	cat := mustCatalog(t, `
version: test
derived:
  - name: bad
    kind: ttm_sum
    input: r.typo
`)
	_, _, err := NewCalculator(cat, Options{}).Compute(context.Background(), pivotObs(t, b.out))
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrUnknownMetric))
}

func TestCalculator_ReportNotLoadedYieldsMissing(t *testing.T) {
	b := &obsBuilder{}
	fiveQuarters(b, "00000001", "10", "200")
	cat := mustCatalog(t, `
version: test
derived:
  - name: ttm_other
    kind: ttm_sum
    input: other.x
`)
	tbl, _, err := NewCalculator(cat, Options{}).Compute(context.Background(), pivotObs(t, b.out))
	require.NoError(t, err)

	cell, ok := tbl.Cell(key("00000001", p24q1), "ttm_other")
	require.True(t, ok)
	assert.True(t, cell.Value.IsMissing())

	_, ok = tbl.Cell(key("00000001", p24q1), "nope")
	assert.False(t, ok)
}

func TestCalculator_CancelledContext(t *testing.T) {
	b := &obsBuilder{}
	fiveQuarters(b, "00000001", "10", "200")
	wide := pivotObs(t, b.out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewCalculator(mustCatalog(t, testCatalog), Options{}).Compute(ctx, wide)
	require.Error(t, err)
}

func TestComputeAggregate_MarketShareAndHHI(t *testing.T) {
	ref := model.MetricRef{Report: "r", Metric: "assets"}
	agg := ComputeAggregate(p24q1, ref, []Observation{
		{Institution: "A", Value: model.OfInt(100)},
		{Institution: "B", Value: model.OfInt(300)},
		{Institution: "C", Value: model.Missing},
	})

	assert.Equal(t, 2, agg.Count)
	assert.True(t, agg.Total.Equal(model.OfInt(400)))
	assert.True(t, agg.HHI.Equal(model.OfInt(6250)))
	assert.True(t, agg.CR4.Equal(model.OfInt(100)))

	a, ok := agg.ShareOf("A")
	require.True(t, ok)
	assert.True(t, a.Share.Equal(model.OfInt(25)))
	assert.Equal(t, 2, a.Rank)

	bb, _ := agg.ShareOf("B")
	assert.True(t, bb.Share.Equal(model.OfInt(75)))
	assert.Equal(t, 1, bb.Rank)

	c, ok := agg.ShareOf("C")
	require.True(t, ok)
	assert.True(t, c.Share.IsMissing())
	assert.Equal(t, 0, c.Rank)

	_, ok = agg.ShareOf("Z")
	assert.False(t, ok)
}

func TestComputeAggregate_SharesSumToHundred(t *testing.T) {
	var obs []Observation
	for i, v := range []int64{3, 7, 11, 13, 17, 19, 23} {
		obs = append(obs, Observation{Institution: model.InstitutionCode(rune('A' + i)), Value: model.OfInt(v)})
	}
	agg := ComputeAggregate(p24q1, model.MetricRef{Report: "r", Metric: "x"}, obs)

	sum := decimal.Zero
	for _, s := range agg.Shares {
		d, ok := s.Share.Decimal()
		require.True(t, ok)
		sum = sum.Add(d)
	}
	f, _ := sum.Float64()
	assert.InDelta(t, 100.0, f, 1e-9)

	hhi, _ := agg.HHI.Float()
	assert.LessOrEqual(t, hhi, 10000.0)
	assert.Positive(t, hhi)
}

func TestComputeAggregate_TiesRankByCode(t *testing.T) {
	agg := ComputeAggregate(p24q1, model.MetricRef{Report: "r", Metric: "x"}, []Observation{
		{Institution: "00000002", Value: model.OfInt(50)},
		{Institution: "00000001", Value: model.OfInt(50)},
		{Institution: "00000003", Value: model.OfInt(10)},
	})
	require.Len(t, agg.Shares, 3)
	assert.Equal(t, model.InstitutionCode("00000001"), agg.Shares[0].Institution)
	assert.Equal(t, 1, agg.Shares[0].Rank)
	assert.Equal(t, 2, agg.Shares[1].Rank)
	assert.Equal(t, 3, agg.Shares[2].Rank)
}

func TestComputeAggregate_NonPositiveTotal(t *testing.T) {
	agg := ComputeAggregate(p24q1, model.MetricRef{Report: "r", Metric: "x"}, []Observation{
		{Institution: "A", Value: model.OfInt(10)},
		{Institution: "B", Value: model.OfInt(-10)},
	})
	assert.True(t, agg.Total.Equal(model.OfInt(0)))
	assert.True(t, agg.HHI.IsMissing())
	assert.True(t, agg.CR4.IsMissing())
	for _, s := range agg.Shares {
		assert.True(t, s.Share.IsMissing())
	}

	empty := ComputeAggregate(p24q1, model.MetricRef{Report: "r", Metric: "x"}, []Observation{
		{Institution: "A", Value: model.Missing},
	})
	assert.Zero(t, empty.Count)
	assert.True(t, empty.Total.IsMissing())
}

func TestComputeMarket(t *testing.T) {
	b := &obsBuilder{}
	fiveQuarters(b, "00000001", "10", "200")
	fiveQuarters(b, "00000002", "30", "200")
	b.add("00000003", p24q1, "assets", "")

	cat := mustCatalog(t, testCatalog)
	wide := pivotObs(t, b.out)
	derived, _, err := NewCalculator(cat, Options{}).Compute(context.Background(), wide)
	require.NoError(t, err)

	m, err := ComputeMarket(wide, derived, cat.MarketRefs)
	require.NoError(t, err)

	assets := model.MetricRef{Report: "r", Metric: "assets"}
	agg, ok := m.Get(assets, p24q1)
	require.True(t, ok)
	assert.Equal(t, 2, agg.Count)
	assert.True(t, agg.HHI.Equal(model.OfInt(5000)))
	c, ok := agg.ShareOf("00000003")
	require.True(t, ok)
	assert.True(t, c.Share.IsMissing())

	roeRef := model.MetricRef{Report: model.DerivedSource, Metric: "roe"}
	roeAgg, ok := m.Get(roeRef, p24q1)
	require.True(t, ok)
	assert.Equal(t, model.InstitutionCode("00000002"), roeAgg.Shares[0].Institution)

	// Sorted by metric then period.
	for i := 1; i < len(m.Aggregates); i++ {
		prev, cur := m.Aggregates[i-1], m.Aggregates[i]
		if prev.Metric == cur.Metric {
			assert.True(t, prev.Period.Before(cur.Period))
		}
	}

	_, ok = m.Get(assets, model.NewPeriod(2010, 1))
	assert.False(t, ok)
}

func TestComputeMarket_UnknownColumn(t *testing.T) {
	b := &obsBuilder{}
	b.add("00000001", p24q1, "assets", "1")
	wide := pivotObs(t, b.out)

	_, err := ComputeMarket(wide, nil, []model.MetricRef{{Report: "r", Metric: "typo"}})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrUnknownMetric))

	_, err = ComputeMarket(wide, nil, []model.MetricRef{{Report: model.DerivedSource, Metric: "roe"}})
	assert.True(t, eris.Is(err, model.ErrUnknownMetric))

	m, err := ComputeMarket(wide, nil, []model.MetricRef{{Report: "absent", Metric: "x"}})
	require.NoError(t, err)
	assert.Empty(t, m.Aggregates)
}
