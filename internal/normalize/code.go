package normalize

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/bancoinsights/bacen-etl/internal/model"
)

// ErrMalformedCode is returned when an institution code cannot be canonicalized.
var ErrMalformedCode = eris.New("normalize: malformed institution code")

var codeSeparators = strings.NewReplacer(".", "", "-", "", "/", "", " ", "", "\u00a0", "")

// NormalizeCode canonicalizes a raw institution code to model.CodeWidth
// characters. Purely numeric codes are left-padded with zeros. Conglomerate
// codes carry a single leading letter ("C0080099"), which is upper-cased and
// kept in front of the zero-padded digits.
func NormalizeCode(raw string) (model.InstitutionCode, error) {
	s := codeSeparators.Replace(trimQuotes(raw))
	if s == "" {
		return "", eris.Wrap(ErrMalformedCode, "empty code")
	}

	prefix := ""
	if r := rune(s[0]); unicode.IsLetter(r) && r < unicode.MaxASCII {
		prefix = strings.ToUpper(s[:1])
		s = s[1:]
	}
	if s == "" {
		return "", eris.Wrapf(ErrMalformedCode, "%q: no digits", raw)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", eris.Wrapf(ErrMalformedCode, "%q: unexpected character %q", raw, r)
		}
	}

	width := model.CodeWidth - len(prefix)
	if len(s) > width {
		// Accept over-padded numeric codes ("000000001234") as long as the
		// surplus is only leading zeros.
		trimmed := strings.TrimLeft(s, "0")
		if len(trimmed) > width {
			return "", eris.Wrapf(ErrMalformedCode, "%q: longer than %d digits", raw, width)
		}
		s = trimmed
	}

	return model.InstitutionCode(prefix + strings.Repeat("0", width-len(s)) + s), nil
}
