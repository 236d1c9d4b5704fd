package model

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriod_Ordering(t *testing.T) {
	t.Parallel()

	q4 := NewPeriod(2023, 4)
	q1 := NewPeriod(2024, 1)

	assert.True(t, q4.Before(q1))
	assert.True(t, q1.After(q4))
	assert.Equal(t, q1, q4.Next())
	assert.Equal(t, q4, q1.Prev())
	assert.Equal(t, -1, q4.Compare(q1))
	assert.Equal(t, 0, q1.Compare(NewPeriod(2024, 1)))
	assert.Equal(t, NewPeriod(2023, 1), q1.Add(-4))
	assert.Equal(t, q1, PeriodFromIndex(q1.Index()))
}

func TestPeriod_StringAndEndDate(t *testing.T) {
	t.Parallel()

	p := NewPeriod(2024, 3)
	assert.Equal(t, "2024Q3", p.String())
	assert.Equal(t, time.Date(2024, time.September, 30, 0, 0, 0, 0, time.UTC), p.EndDate())
	assert.Equal(t, time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC), NewPeriod(2024, 4).EndDate())
}

func TestPeriod_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(struct {
		Period Period `json:"period"`
	}{NewPeriod(2024, 2)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"period":"2024Q2"}`, string(b))

	var p Period
	require.NoError(t, json.Unmarshal([]byte(`"2023Q4"`), &p))
	assert.Equal(t, NewPeriod(2023, 4), p)
	assert.Error(t, json.Unmarshal([]byte(`"2023Q7"`), &p))
	assert.Error(t, json.Unmarshal([]byte(`"junk"`), &p))
}

func TestPeriod_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, NewPeriod(2024, 1).Valid())
	assert.False(t, NewPeriod(2024, 0).Valid())
	assert.False(t, NewPeriod(2024, 5).Valid())
	assert.False(t, Period{}.Valid())
}

func TestPeriodRangeAndWindow(t *testing.T) {
	t.Parallel()

	r := PeriodRange(NewPeriod(2023, 3), NewPeriod(2024, 2))
	require.Len(t, r, 4)
	assert.Equal(t, "2023Q3", r[0].String())
	assert.Equal(t, "2024Q2", r[3].String())

	assert.Nil(t, PeriodRange(NewPeriod(2024, 2), NewPeriod(2023, 3)))

	w := Window(NewPeriod(2024, 1), 5)
	require.Len(t, w, 5)
	assert.Equal(t, "2023Q1", w[0].String())
	assert.Equal(t, "2024Q1", w[4].String())
}

func TestValue_MissingIsNotZero(t *testing.T) {
	t.Parallel()

	zero := OfInt(0)
	assert.False(t, zero.IsMissing())
	assert.True(t, Missing.IsMissing())
	assert.False(t, zero.Equal(Missing))
	assert.True(t, Missing.Equal(Value{}))

	_, ok := Missing.Float()
	assert.False(t, ok)
	f, ok := zero.Float()
	assert.True(t, ok)
	assert.Zero(t, f)
}

func TestValue_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal([]Value{MustParse("12.5"), Missing})
	require.NoError(t, err)
	assert.JSONEq(t, `["12.5", null]`, string(b))

	var out []Value
	require.NoError(t, json.Unmarshal(b, &out))
	require.Len(t, out, 2)
	assert.True(t, out[0].Equal(Of(decimal.RequireFromString("12.5"))))
	assert.True(t, out[1].IsMissing())
}

func TestValue_Nullable(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Missing.Nullable())

	s := MustParse("-3.25").Nullable()
	require.NotNil(t, s)
	assert.Equal(t, "-3.25", *s)

	v, err := ParseNullable(s)
	require.NoError(t, err)
	assert.Equal(t, "-3.25", v.String())

	v, err = ParseNullable(nil)
	require.NoError(t, err)
	assert.True(t, v.IsMissing())
}

func TestReportSchema_StableOrder(t *testing.T) {
	t.Parallel()

	s := NewReportSchema("resumo", []MetricID{"lucro_liquido", "ativo_total", "lucro_liquido", ""})
	assert.Equal(t, []MetricID{"ativo_total", "lucro_liquido"}, s.Metrics)

	i, ok := s.Index("lucro_liquido")
	assert.True(t, ok)
	assert.Equal(t, 1, i)

	require.NoError(t, s.Validate("ativo_total"))
	err := s.Validate("ativo_totl")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnknownMetric))
}

func TestParseMetricRef(t *testing.T) {
	t.Parallel()

	ref, err := ParseMetricRef("resumo.ativo_total")
	require.NoError(t, err)
	assert.Equal(t, ReportID("resumo"), ref.Report)
	assert.Equal(t, MetricID("ativo_total"), ref.Metric)
	assert.False(t, ref.IsDerived())
	assert.Equal(t, "resumo.ativo_total", ref.String())

	ref, err = ParseMetricRef("derived.roe")
	require.NoError(t, err)
	assert.True(t, ref.IsDerived())

	for _, bad := range []string{"", "resumo", ".x", "x."} {
		_, err := ParseMetricRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestRegistry_Enrich(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Institution{Code: "00000001", Name: "Banco do Brasil", Segment: "S1"})
	r.Enrich(Institution{Code: "00000001", Name: "BB extract name", Type: "b1"})
	r.Enrich(Institution{Code: "00416968", Name: "Bradesco"})

	bb, ok := r.Get("00000001")
	require.True(t, ok)
	assert.Equal(t, "Banco do Brasil", bb.Name)
	assert.Equal(t, "b1", bb.Type)
	assert.Equal(t, "S1", bb.Segment)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, InstitutionCode("00000001"), all[0].Code)
	assert.Equal(t, 2, r.Len())
}

func TestKey_Less(t *testing.T) {
	t.Parallel()

	a := Key{Institution: "00000001", Period: NewPeriod(2024, 2)}
	b := Key{Institution: "00000001", Period: NewPeriod(2024, 3)}
	c := Key{Institution: "00000002", Period: NewPeriod(2020, 1)}
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
}

func TestMetricRef_Text(t *testing.T) {
	ref := MetricRef{Report: "resumo", Metric: "ativo_total"}
	b, err := ref.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "resumo.ativo_total", string(b))

	var got MetricRef
	require.NoError(t, got.UnmarshalText(b))
	assert.Equal(t, ref, got)
	assert.Error(t, got.UnmarshalText([]byte("nodot")))
}
