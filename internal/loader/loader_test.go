package loader

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/bancoinsights/bacen-etl/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const extractHeader = "TipoInstituicao;CodInst;NomeInstituicao;AnoMes_Q;NumeroRelatorio;NomeRelatorio;Grupo;NomeColuna;DescricaoColuna;Saldo\n"

func writeExtract(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(extractHeader+strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestLoad_NormalizesRows(t *testing.T) {
	dir := t.TempDir()
	path := writeExtract(t, dir, "2024Q3.csv",
		`1;208;BRB;2024Q3;1;Resumo;nagroup;Ativo Total \n(k) = (i) - (j);;1.234.567,89`,
		`1;00000208;BRB;2024-Q3;1;Resumo;nagroup;Patrimonio Liquido;;-`,
		`1;60.701.190;ITAU;202409;1;Resumo;Operacoes de Credito;Provisao;;(10,5)`,
	)

	res, err := New(Options{Encoding: "utf-8"}).Load(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, res.Observations, 3)

	first := res.Observations[0]
	assert.Equal(t, int64(0), first.Seq)
	assert.Equal(t, model.InstitutionCode("00000208"), first.Institution)
	assert.Equal(t, model.NewPeriod(2024, 3), first.Period)
	assert.Equal(t, model.ReportID("resumo"), first.Report)
	assert.Equal(t, model.MetricID("ativo_total"), first.Metric)
	assert.Empty(t, first.Group)
	assert.True(t, first.Value.Equal(model.MustParse("1234567.89")))

	assert.True(t, res.Observations[1].Value.IsMissing())
	assert.Equal(t, model.MetricID("operacoes_de_credito__provisao"), res.Observations[2].Metric)
	assert.True(t, res.Observations[2].Value.Equal(model.MustParse("-10.5")))

	assert.Equal(t, int64(3), res.Stats.Rows)
	assert.Equal(t, int64(3), res.Stats.Loaded)
	assert.Equal(t, int64(1), res.Stats.Missing)
	require.Len(t, res.Institutions, 2)
	assert.Equal(t, "BRB", res.Institutions[0].Name)
}

func TestLoad_UnparseableValueIsMissingNotDropped(t *testing.T) {
	dir := t.TempDir()
	path := writeExtract(t, dir, "a.csv", `1;1;A;2024Q1;1;Resumo;;Ativo Total;;abc`)

	res, err := New(Options{Encoding: "utf-8"}).Load(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, res.Observations, 1)
	assert.True(t, res.Observations[0].Value.IsMissing())
	assert.Equal(t, int64(1), res.Stats.Unparseable)
}

func TestLoad_SkipsMalformedBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	lines := make([]string, 0, 100)
	for i := range 99 {
		lines = append(lines, fmt.Sprintf("1;%d;X;2024Q1;1;Resumo;;Ativo Total;;%d", i+1, i))
	}
	lines = append(lines, "1;1;X;2024Q9;1;Resumo;;Ativo Total;;1")
	path := writeExtract(t, dir, "a.csv", lines...)

	res, err := New(Options{Encoding: "utf-8"}).Load(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Len(t, res.Observations, 99)
	assert.Equal(t, int64(1), res.Stats.Skipped[SkipMalformedPeriod])
	assert.InDelta(t, 0.01, res.Stats.SkipRate(), 1e-9)
}

func TestLoad_AbortsAboveThreshold(t *testing.T) {
	dir := t.TempDir()
	path := writeExtract(t, dir, "a.csv",
		"1;1;X;2024Q1;1;Resumo;;Ativo Total;;1",
		"1;ABC;X;2024Q1;1;Resumo;;Ativo Total;;1",
		"1;2;X;sometime;1;Resumo;;Ativo Total;;1",
	)

	res, err := New(Options{Encoding: "utf-8", SkipThreshold: Threshold(0.5)}).Load(context.Background(), []string{path})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrSkipThresholdExceeded))
	require.NotNil(t, res)
	assert.Equal(t, int64(1), res.Stats.Skipped[SkipMalformedCode])
	assert.Equal(t, int64(1), res.Stats.Skipped[SkipMalformedPeriod])
}

func TestLoad_ZeroThresholdAbortsOnAnySkip(t *testing.T) {
	dir := t.TempDir()
	lines := make([]string, 0, 40)
	for i := 1; i < 40; i++ {
		lines = append(lines, fmt.Sprintf("1;%d;X;2024Q1;1;Resumo;;Ativo Total;;1", i))
	}
	lines = append(lines, "1;40;X;sometime;1;Resumo;;Ativo Total;;1")
	path := writeExtract(t, dir, "a.csv", lines...)

	res, err := New(Options{Encoding: "utf-8", SkipThreshold: Threshold(0)}).Load(context.Background(), []string{path})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrSkipThresholdExceeded))
	require.NotNil(t, res)
	assert.Equal(t, int64(40), res.Stats.Rows)
	assert.Equal(t, int64(1), res.Stats.SkippedTotal())

	// the same batch passes under the default threshold
	_, err = New(Options{Encoding: "utf-8"}).Load(context.Background(), []string{path})
	require.NoError(t, err)
}

func TestLoad_ShortRowsAreSkipped(t *testing.T) {
	dir := t.TempDir()
	path := writeExtract(t, dir, "a.csv",
		"1;1;X;2024Q1;1;Resumo;;Ativo Total;;1",
		"1;2;X",
	)

	res, err := New(Options{Encoding: "utf-8", SkipThreshold: Threshold(0.9)}).Load(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Stats.Skipped[SkipShortRow])
	assert.Equal(t, int64(2), res.Stats.Rows)
}

func TestLoad_MissingRequiredHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("CodInst;NomeColuna;Saldo\n1;Ativo;1\n"), 0o644))

	_, err := New(Options{Encoding: "utf-8"}).Load(context.Background(), []string{path})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMissingColumn))
}

func TestLoad_HeaderAliases(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alt.csv")
	content := "Codigo;AnoMes;Relatorio;Coluna;Valor\n416968;202412;2;Captações;10\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	res, err := New(Options{Encoding: "utf-8"}).Load(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, res.Observations, 1)
	obs := res.Observations[0]
	assert.Equal(t, model.InstitutionCode("00416968"), obs.Institution)
	assert.Equal(t, model.NewPeriod(2024, 4), obs.Period)
	assert.Equal(t, model.ReportID("relatorio_2"), obs.Report)
	assert.Equal(t, model.MetricID("captacoes"), obs.Metric)
}

func TestLoad_ReportAliases(t *testing.T) {
	dir := t.TempDir()
	path := writeExtract(t, dir, "a.csv",
		"1;1;X;2024Q1;2;Demonstração de Resultado;;Lucro Líquido;;5",
	)

	res, err := New(Options{
		Encoding:      "utf-8",
		ReportAliases: map[string]model.ReportID{"demonstracao_de_resultado": "dre"},
	}).Load(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Equal(t, model.ReportID("dre"), res.Observations[0].Report)
	assert.Equal(t, model.MetricID("lucro_liquido"), res.Observations[0].Metric)
}

func TestLoad_Windows1252Default(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latin1.csv")
	body := extractHeader + "1;1;Banco S\xe3o Paulo;2024Q1;1;Resumo;;Capta\xe7\xf5es;;7\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	res, err := New(Options{}).Load(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, res.Observations, 1)
	assert.Equal(t, "Banco São Paulo", res.Observations[0].InstitutionName)
	assert.Equal(t, model.MetricID("captacoes"), res.Observations[0].Metric)
}

func TestLoad_FileOrderAndSequence(t *testing.T) {
	dir := t.TempDir()
	writeExtract(t, dir, "b.csv", "1;1;X;2024Q2;1;Resumo;;Ativo Total;;2")
	writeExtract(t, dir, "a.csv", "1;1;X;2024Q1;1;Resumo;;Ativo Total;;1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	res, err := New(Options{Encoding: "utf-8"}).Load(context.Background(), []string{dir})
	require.NoError(t, err)
	require.Len(t, res.Observations, 2)
	assert.Equal(t, model.NewPeriod(2024, 1), res.Observations[0].Period)
	assert.Equal(t, int64(0), res.Observations[0].Seq)
	assert.Equal(t, int64(1), res.Observations[1].Seq)
	assert.Equal(t, 2, res.Stats.Files)
}

func TestLoad_ZIPArchive(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "ifdata.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, line := range map[string]string{
		"2024Q1.csv": "1;1;X;2024Q1;1;Resumo;;Ativo Total;;1",
		"2024Q2.csv": "1;1;X;2024Q2;1;Resumo;;Ativo Total;;2",
	} {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(extractHeader + line + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	res, err := New(Options{Encoding: "utf-8"}).Load(context.Background(), []string{zipPath})
	require.NoError(t, err)
	require.Len(t, res.Observations, 2)
	assert.Equal(t, model.NewPeriod(2024, 1), res.Observations[0].Period)
	assert.Equal(t, model.NewPeriod(2024, 2), res.Observations[1].Period)
}

func TestLoad_NoInputs(t *testing.T) {
	_, err := New(Options{}).Load(context.Background(), []string{t.TempDir()})
	require.Error(t, err)
}

func TestLoadRegistry_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.csv")
	content := "code,name,segment,control,region,type\n208,BRB,S2,public,Centro-Oeste,1\nbad!,X,S1,,,\n60701190,ITAU,S1,private,Sudeste,1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	brb, ok := reg.Get("00000208")
	require.True(t, ok)
	assert.Equal(t, "BRB", brb.Name)
	assert.Equal(t, "S2", brb.Segment)
	assert.Equal(t, "public", brb.Control)
}

func TestLoadRegistry_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("registry")
	require.NoError(t, err)
	for _, rec := range [][]string{
		{"Code", "Name", "Segment"},
		{"416968", "Banco Inter", "S3"},
	} {
		row := sheet.AddRow()
		for _, v := range rec {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "registry.xlsx")
	require.NoError(t, f.Save(path))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	inst, ok := reg.Get("00416968")
	require.True(t, ok)
	assert.Equal(t, "Banco Inter", inst.Name)
	assert.Equal(t, "S3", inst.Segment)
}

func TestLoadRegistry_EmptyPath(t *testing.T) {
	reg, err := LoadRegistry("")
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
}
