// Package normalize canonicalizes the identifiers and numbers found in raw
// BACEN extracts: periods, institution codes, locale-formatted amounts and
// report/column labels.
package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/bancoinsights/bacen-etl/internal/model"
)

// ErrMalformedPeriod is returned when a period string matches none of the
// known layouts.
var ErrMalformedPeriod = eris.New("normalize: malformed period")

var (
	// 2024Q3, 2024-Q3, 2024/Q3, 2024 Q3, 2024T3 (pt-BR "trimestre")
	yearFirstRe = regexp.MustCompile(`^(\d{4})\s*[-/_ ]?\s*[QT](\d)$`)
	// Q32024, Q3-2024, Q3/2024, T3 2024
	quarterFirstRe = regexp.MustCompile(`^[QT](\d)\s*[-/_ ]?\s*(\d{4})$`)
	// 3Q2024, 3Q24 is rejected (two-digit years are ambiguous)
	ordinalRe = regexp.MustCompile(`^(\d)[QT]\s*[-/_ ]?\s*(\d{4})$`)
	// 202409 (BACEN AnoMes)
	yearMonthRe = regexp.MustCompile(`^(\d{4})(\d{2})$`)
	// 2024-09-30, 2024-09
	isoDateRe = regexp.MustCompile(`^(\d{4})-(\d{2})(?:-(\d{2}))?$`)
	// 30/09/2024
	brDateRe = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)
)

// ParsePeriod parses the period layouts found in BACEN extracts into a
// canonical (year, quarter). Month-based layouts must name a quarter-end month.
func ParsePeriod(raw string) (model.Period, error) {
	s := strings.ToUpper(strings.TrimSpace(trimQuotes(raw)))
	if s == "" {
		return model.Period{}, eris.Wrap(ErrMalformedPeriod, "empty period")
	}

	if m := yearFirstRe.FindStringSubmatch(s); m != nil {
		return quarterPeriod(raw, m[1], m[2])
	}
	if m := quarterFirstRe.FindStringSubmatch(s); m != nil {
		return quarterPeriod(raw, m[2], m[1])
	}
	if m := ordinalRe.FindStringSubmatch(s); m != nil {
		return quarterPeriod(raw, m[2], m[1])
	}
	if m := yearMonthRe.FindStringSubmatch(s); m != nil {
		return monthPeriod(raw, m[1], m[2])
	}
	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		return monthPeriod(raw, m[1], m[2])
	}
	if m := brDateRe.FindStringSubmatch(s); m != nil {
		return monthPeriod(raw, m[3], m[2])
	}

	return model.Period{}, eris.Wrapf(ErrMalformedPeriod, "%q", raw)
}

func quarterPeriod(raw, year, quarter string) (model.Period, error) {
	y, _ := strconv.Atoi(year)
	q, _ := strconv.Atoi(quarter)
	p := model.NewPeriod(y, q)
	if !p.Valid() {
		return model.Period{}, eris.Wrapf(ErrMalformedPeriod, "%q: quarter out of range", raw)
	}
	return p, nil
}

func monthPeriod(raw, year, month string) (model.Period, error) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	if m < 1 || m > 12 {
		return model.Period{}, eris.Wrapf(ErrMalformedPeriod, "%q: month out of range", raw)
	}
	if m%3 != 0 {
		return model.Period{}, eris.Wrapf(ErrMalformedPeriod, "%q: not a quarter-end month", raw)
	}
	p := model.NewPeriod(y, m/3)
	if !p.Valid() {
		return model.Period{}, eris.Wrapf(ErrMalformedPeriod, "%q", raw)
	}
	return p, nil
}

// trimQuotes removes surrounding double quotes from a CSV field.
func trimQuotes(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}
