package model

import (
	"github.com/shopspring/decimal"
)

// Value is a numeric cell that can be explicitly missing. A missing Value is
// distinct from a reported zero and is excluded from every aggregation.
type Value struct {
	dec   decimal.Decimal
	valid bool
}

// Missing is the "no value reported" sentinel.
var Missing = Value{}

// Of wraps a reported decimal.
func Of(d decimal.Decimal) Value {
	return Value{dec: d, valid: true}
}

// OfInt wraps a reported integer.
func OfInt(i int64) Value {
	return Of(decimal.NewFromInt(i))
}

// OfFloat wraps a reported float.
func OfFloat(f float64) Value {
	return Of(decimal.NewFromFloat(f))
}

// MustParse parses a decimal string, panicking on error. Intended for tests and
// static tables only.
func MustParse(s string) Value {
	return Of(decimal.RequireFromString(s))
}

// IsMissing reports whether no value was reported.
func (v Value) IsMissing() bool { return !v.valid }

// Decimal returns the underlying decimal and whether it is present.
func (v Value) Decimal() (decimal.Decimal, bool) {
	return v.dec, v.valid
}

// Float returns the value as float64 and whether it is present.
func (v Value) Float() (float64, bool) {
	if !v.valid {
		return 0, false
	}
	return v.dec.InexactFloat64(), true
}

// Equal reports whether both values are missing or both hold equal decimals.
func (v Value) Equal(o Value) bool {
	if v.valid != o.valid {
		return false
	}
	return !v.valid || v.dec.Equal(o.dec)
}

// String renders the decimal, or the empty string when missing.
func (v Value) String() string {
	if !v.valid {
		return ""
	}
	return v.dec.String()
}

// Nullable returns a *string suitable for database NULL handling.
func (v Value) Nullable() *string {
	if !v.valid {
		return nil
	}
	s := v.dec.String()
	return &s
}

// ParseNullable is the inverse of Nullable.
func ParseNullable(s *string) (Value, error) {
	if s == nil {
		return Missing, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return Missing, err
	}
	return Of(d), nil
}

// MarshalJSON encodes missing values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.valid {
		return []byte("null"), nil
	}
	return v.dec.MarshalJSON()
}

// UnmarshalJSON accepts null for missing values.
func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Missing
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*v = Of(d)
	return nil
}
