package model

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Period is a calendar quarter. The zero value is not a valid period.
type Period struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter"`
}

// NewPeriod returns the period for the given year and quarter.
func NewPeriod(year, quarter int) Period {
	return Period{Year: year, Quarter: quarter}
}

// PeriodFromIndex is the inverse of Period.Index.
func PeriodFromIndex(idx int) Period {
	return Period{Year: idx / 4, Quarter: idx%4 + 1}
}

// Valid reports whether the quarter is within 1..4 and the year is positive.
func (p Period) Valid() bool {
	return p.Year > 0 && p.Quarter >= 1 && p.Quarter <= 4
}

// Index returns a dense ordinal where consecutive quarters differ by one.
func (p Period) Index() int {
	return p.Year*4 + p.Quarter - 1
}

// Add returns the period n quarters after p (n may be negative).
func (p Period) Add(n int) Period {
	return PeriodFromIndex(p.Index() + n)
}

// Prev returns the previous quarter.
func (p Period) Prev() Period { return p.Add(-1) }

// Next returns the following quarter.
func (p Period) Next() Period { return p.Add(1) }

// Before reports whether p is strictly earlier than o.
func (p Period) Before(o Period) bool { return p.Index() < o.Index() }

// After reports whether p is strictly later than o.
func (p Period) After(o Period) bool { return p.Index() > o.Index() }

// Compare returns -1, 0 or 1.
func (p Period) Compare(o Period) int {
	switch {
	case p.Index() < o.Index():
		return -1
	case p.Index() > o.Index():
		return 1
	default:
		return 0
	}
}

// String renders the canonical "2024Q3" form.
func (p Period) String() string {
	return fmt.Sprintf("%04dQ%d", p.Year, p.Quarter)
}

// MarshalText renders the period as "2024Q3".
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses the canonical "2024Q3" form.
func (p *Period) UnmarshalText(b []byte) error {
	var year, quarter int
	if _, err := fmt.Sscanf(string(b), "%4dQ%1d", &year, &quarter); err != nil {
		return eris.Errorf("model: invalid period %q", b)
	}
	out := NewPeriod(year, quarter)
	if !out.Valid() {
		return eris.Errorf("model: invalid period %q", b)
	}
	*p = out
	return nil
}

// EndDate returns the last calendar day of the quarter (BACEN reference date).
func (p Period) EndDate() time.Time {
	return time.Date(p.Year, time.Month(p.Quarter*3)+1, 0, 0, 0, 0, 0, time.UTC)
}

// PeriodRange returns every quarter from "from" to "to" inclusive, ascending.
// An empty slice is returned when from is after to.
func PeriodRange(from, to Period) []Period {
	if from.After(to) {
		return nil
	}
	out := make([]Period, 0, to.Index()-from.Index()+1)
	for i := from.Index(); i <= to.Index(); i++ {
		out = append(out, PeriodFromIndex(i))
	}
	return out
}

// Window returns the n periods ending at and including p, ascending.
func Window(p Period, n int) []Period {
	if n <= 0 {
		return nil
	}
	return PeriodRange(p.Add(-(n - 1)), p)
}
