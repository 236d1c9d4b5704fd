package normalize

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/bancoinsights/bacen-etl/internal/model"
)

// ErrUnparseableAmount is returned (alongside model.Missing) when a non-empty
// value cannot be read as a number.
var ErrUnparseableAmount = eris.New("normalize: unparseable amount")

// missingTokens are the placeholders BACEN and spreadsheet exports use for
// "not reported". They map to model.Missing without an error.
var missingTokens = map[string]bool{
	"":     true,
	"-":    true,
	"--":   true,
	"*":    true,
	"...":  true,
	"na":   true,
	"n/a":  true,
	"nd":   true,
	"n/d":  true,
	"nan":  true,
	"null": true,
	"none": true,
	"#n/d": true,
	"#n/a": true,
}

var (
	amountNoise = strings.NewReplacer("R$", "", "r$", "", "$", "", "%", "", " ", "", "\u00a0", "", "\t", "")
	// a single dot followed by exactly three digits is a pt-BR thousands group,
	// unless the leading group is zero
	ptThousandsRe = regexp.MustCompile(`^[+-]?[1-9]\d{0,2}\.\d{3}$`)
	plainNumberRe = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
)

// ParseAmount converts a locale-formatted amount into a model.Value.
//
// Both pt-BR ("1.234.567,89") and en ("1,234,567.89") grouping are accepted;
// when only commas appear, a single comma is the decimal separator. Currency
// symbols, percent signs and whitespace are ignored. Negative values may be
// written with a sign, in parentheses, or with a trailing minus.
//
// Placeholders such as "-" or "n/d" yield model.Missing with a nil error;
// anything else that does not parse yields model.Missing and
// ErrUnparseableAmount. A missing value is never coerced to zero.
func ParseAmount(raw string) (model.Value, error) {
	s := trimQuotes(raw)
	if missingTokens[strings.ToLower(strings.TrimSpace(s))] {
		return model.Missing, nil
	}

	s = amountNoise.Replace(s)

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	if len(s) > 1 && strings.HasSuffix(s, "-") && !strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSuffix(s, "-")
	}
	if missingTokens[strings.ToLower(s)] {
		return model.Missing, nil
	}

	s = canonicalSeparators(s)
	if !plainNumberRe.MatchString(s) {
		return model.Missing, eris.Wrapf(ErrUnparseableAmount, "%q", raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return model.Missing, eris.Wrapf(ErrUnparseableAmount, "%q", raw)
	}
	if neg {
		d = d.Neg()
	}
	return model.Of(d), nil
}

// canonicalSeparators rewrites grouping and decimal separators so that the
// result uses "." as the only decimal separator and no grouping.
func canonicalSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// pt-BR: 1.234,56
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		// en: 1,234.56
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || ptThousandsRe.MatchString(s) {
			return strings.ReplaceAll(s, ".", "")
		}
		return s
	default:
		return s
	}
}
