package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/bancoinsights/bacen-etl/internal/model"
)

// noGroupLabels are the placeholders BACEN extracts use for ungrouped columns.
var noGroupLabels = map[string]bool{
	"":          true,
	"-":         true,
	"nagroup":   true,
	"na":        true,
	"nan":       true,
	"sem grupo": true,
}

// IsNoGroup reports whether a raw group label means "no group".
func IsNoGroup(label string) bool {
	return noGroupLabels[strings.ToLower(strings.TrimSpace(trimQuotes(label)))]
}

// Slug folds accents, drops any formula annotation that follows a line break
// ("Ativo Total \n(k) = (i) - (j)" -> "ativo_total") and returns a lower
// snake_case identifier.
func Slug(label string) string {
	s := trimQuotes(label)
	if i := strings.Index(s, `\n`); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}

	// The transformer is stateful, so build one per call; slugs are computed
	// from parallel partitions.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	underscore := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// ReportIDFor returns the identifier of a raw report name, honouring catalog
// aliases keyed by the slug of the full name.
func ReportIDFor(name string, aliases map[string]model.ReportID) model.ReportID {
	slug := Slug(name)
	if alias, ok := aliases[slug]; ok {
		return alias
	}
	return model.ReportID(slug)
}

// MetricIDFor builds the column identifier from a raw group and column label.
// Grouped columns are namespaced as "group__column".
func MetricIDFor(group, column string) model.MetricID {
	col := Slug(column)
	if IsNoGroup(group) {
		return model.MetricID(col)
	}
	g := Slug(group)
	if g == "" {
		return model.MetricID(col)
	}
	return model.MetricID(g + "__" + col)
}
