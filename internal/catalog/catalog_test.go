package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bancoinsights/bacen-etl/internal/model"
)

func TestDefault(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.NotEmpty(t, c.Version)
	assert.Equal(t, []model.MetricID{
		"ttm_net_income", "ttm_financial_result", "avg_equity", "avg_assets", "avg_credit",
		"roe", "roa", "nim", "credit_growth_yoy",
	}, c.DerivedNames())

	roe, ok := c.Definition("roe")
	require.True(t, ok)
	assert.Equal(t, KindRatio, roe.Kind)
	assert.Equal(t, model.MetricRef{Report: "derived", Metric: "ttm_net_income"}, roe.NumeratorRef)
	assert.Equal(t, model.MetricRef{Report: "derived", Metric: "avg_equity"}, roe.DenominatorRef)
	assert.Equal(t, "100", roe.ScaleValue.String())
	assert.False(t, roe.PositiveDenominator, "negative equity still yields a return")

	roa, ok := c.Definition("roa")
	require.True(t, ok)
	assert.True(t, roa.PositiveDenominator)

	ttm, ok := c.Definition("ttm_net_income")
	require.True(t, ok)
	assert.Equal(t, TTMWindow, ttm.Window)
	assert.Equal(t, model.MetricRef{Report: "resumo", Metric: "lucro_liquido"}, ttm.InputRef)

	avg, ok := c.Definition("avg_equity")
	require.True(t, ok)
	assert.Equal(t, AverageWindow, avg.Window)
	assert.Equal(t, "1", avg.ScaleValue.String())

	assert.Contains(t, c.MarketRefs, model.MetricRef{Report: "resumo", Metric: "ativo_total"})
	assert.Equal(t, model.ReportID("dre"), c.ReportAliases()["demonstracao_de_resultado"])
	assert.Contains(t, c.RequiredMetrics("resumo"), model.MetricID("patrimonio_liquido"))
	assert.Empty(t, c.RequiredMetrics("passivo"))

	segs := c.CreditSegments
	require.Len(t, segs.Segments, 4)
	assert.Len(t, segs.TotalRefs, 2)
	assert.Equal(t, "rural", segs.Segments[3].Name)
	assert.Equal(t, []model.MetricRef{
		{Report: "credito_pf", Metric: "rural_e_agroindustrial__total"},
		{Report: "credito_pj_modalidade", Metric: "rural_e_agroindustrial__total"},
	}, segs.Segments[3].Refs)
}

func TestParse_ForwardReferenceRejected(t *testing.T) {
	_, err := Parse([]byte(`
derived:
  - name: roe
    kind: ratio
    numerator: derived.ttm_net_income
    denominator: resumo.patrimonio_liquido
  - name: ttm_net_income
    kind: ttm_sum
    input: resumo.lucro_liquido
`))
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrUnknownMetric))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown kind", "derived:\n  - name: x\n    kind: median\n    input: a.b\n"},
		{"missing name", "derived:\n  - kind: ttm_sum\n    input: a.b\n"},
		{"bad reference", "derived:\n  - name: x\n    kind: ttm_sum\n    input: lucro\n"},
		{"duplicate", "derived:\n  - name: x\n    kind: ttm_sum\n    input: a.b\n  - name: x\n    kind: ttm_sum\n    input: a.c\n"},
		{"bad scale", "derived:\n  - name: x\n    kind: ratio\n    numerator: a.b\n    denominator: a.c\n    scale: lots\n"},
		{"unknown derived market", "market:\n  - derived.nope\n"},
		{"positive denominator on sum", "derived:\n  - name: x\n    kind: ttm_sum\n    input: a.b\n    positive_denominator: true\n"},
		{"not yaml", "derived: [\n"},
		{"segments without total", "credit_segments:\n  segments:\n    - name: pf\n      columns: [a.b]\n"},
		{"segment without columns", "credit_segments:\n  total: [a.b]\n  segments:\n    - name: pf\n"},
		{"segment on derived", "credit_segments:\n  total: [a.b]\n  segments:\n    - name: pf\n      columns: [derived.roe]\n"},
		{"duplicate segment", "credit_segments:\n  total: [a.b]\n  segments:\n    - name: pf\n      columns: [a.b]\n    - name: pf\n      columns: [a.c]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_CustomWindowAndScale(t *testing.T) {
	c, err := Parse([]byte(`
derived:
  - name: semester_income
    kind: ttm_sum
    input: dre.lucro_liquido
    window: 2
  - name: leverage
    kind: ratio
    numerator: resumo.ativo_total
    denominator: resumo.patrimonio_liquido
    scale: 1
`))
	require.NoError(t, err)

	d, ok := c.Definition("semester_income")
	require.True(t, ok)
	assert.Equal(t, 2, d.Window)

	lev, ok := c.Definition("leverage")
	require.True(t, ok)
	assert.Equal(t, "1", lev.ScaleValue.String())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: test\nmarket:\n  - resumo.ativo_total\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", c.Version)
	assert.Len(t, c.MarketRefs, 1)

	def, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, def.Derived)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
