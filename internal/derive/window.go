package derive

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bancoinsights/bacen-etl/internal/model"
)

// Precision is the number of decimal places kept by divisions.
const Precision = 12

// Series is one institution's values of a metric by period.
type Series map[model.Period]model.Value

// Outcome classifies why a computation produced a missing value.
type Outcome int

// Outcomes.
const (
	OK Outcome = iota
	InsufficientHistory
	DivisionByZeroOrMissing
	MissingInput
)

// windowValues collects the window ending at p. complete is true when every
// period of the window is present and non-missing. Only p and earlier
// periods are read.
func windowValues(s Series, p model.Period, n int) (vals []decimal.Decimal, periods []model.Period, complete bool) {
	complete = true
	for _, wp := range model.Window(p, n) {
		d, ok := s[wp].Decimal()
		if !ok {
			complete = false
			continue
		}
		vals = append(vals, d)
		periods = append(periods, wp)
	}
	return vals, periods, complete
}

// TrailingSum sums the n consecutive quarters ending at p. An incomplete
// window is missing unless partial is set, in which case the available
// quarters are summed and annualized by n/available.
func TrailingSum(s Series, p model.Period, n int, partial bool) (Cell, Outcome) {
	vals, periods, complete := windowValues(s, p, n)
	if !complete && (!partial || len(vals) == 0) {
		return Cell{Value: model.Missing}, InsufficientHistory
	}
	sum := decimal.Zero
	for _, v := range vals {
		sum = sum.Add(v)
	}
	if !complete {
		sum = sum.Mul(decimal.NewFromInt(int64(n))).DivRound(decimal.NewFromInt(int64(len(vals))), Precision)
	}
	return Cell{Value: model.Of(sum), Inputs: periods, Partial: !complete}, OK
}

// AverageBalance is the arithmetic mean of the n consecutive period-end
// balances ending at p. An incomplete window is missing unless partial is
// set, in which case the available balances are averaged.
func AverageBalance(s Series, p model.Period, n int, partial bool) (Cell, Outcome) {
	vals, periods, complete := windowValues(s, p, n)
	if !complete && (!partial || len(vals) == 0) {
		return Cell{Value: model.Missing}, InsufficientHistory
	}
	sum := decimal.Zero
	for _, v := range vals {
		sum = sum.Add(v)
	}
	avg := sum.DivRound(decimal.NewFromInt(int64(len(vals))), Precision)
	return Cell{Value: model.Of(avg), Inputs: periods, Partial: !complete}, OK
}

// Ratio divides num by den and multiplies by scale. A missing numerator is
// missing input; a missing or zero denominator is missing as well, never an
// error or an infinity. With positiveDen set, a negative denominator is also
// missing.
func Ratio(num, den Cell, scale decimal.Decimal, positiveDen bool) (Cell, Outcome) {
	inputs := mergePeriods(num.Inputs, den.Inputs)
	n, ok := num.Value.Decimal()
	if !ok {
		return Cell{Value: model.Missing, Inputs: inputs}, MissingInput
	}
	d, ok := den.Value.Decimal()
	if !ok || d.IsZero() || (positiveDen && d.Sign() < 0) {
		return Cell{Value: model.Missing, Inputs: inputs}, DivisionByZeroOrMissing
	}
	v := n.Mul(scale).DivRound(d, Precision)
	return Cell{Value: model.Of(v), Inputs: inputs, Partial: num.Partial || den.Partial}, OK
}

// GrowthYoY is (value(p) / value(p-lag) - 1) * scale. A missing base period is
// insufficient history; a zero or negative base is missing.
func GrowthYoY(s Series, p model.Period, lag int, scale decimal.Decimal) (Cell, Outcome) {
	base := p.Add(-lag)
	inputs := []model.Period{base, p}
	cur, ok := s[p].Decimal()
	if !ok {
		return Cell{Value: model.Missing, Inputs: inputs}, MissingInput
	}
	prev, ok := s[base].Decimal()
	if !ok {
		return Cell{Value: model.Missing, Inputs: inputs}, InsufficientHistory
	}
	if prev.Sign() <= 0 {
		return Cell{Value: model.Missing, Inputs: inputs}, DivisionByZeroOrMissing
	}
	g := cur.Sub(prev).Mul(scale).DivRound(prev, Precision)
	return Cell{Value: model.Of(g), Inputs: inputs}, OK
}

func mergePeriods(a, b []model.Period) []model.Period {
	seen := make(map[model.Period]bool, len(a)+len(b))
	out := make([]model.Period, 0, len(a)+len(b))
	for _, p := range append(append([]model.Period{}, a...), b...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sortPeriods(out)
	return out
}

func sortPeriods(ps []model.Period) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Before(ps[j]) })
}
