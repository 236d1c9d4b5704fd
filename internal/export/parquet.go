package export

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/store"
)

// Cell sources.
const (
	SourceWide    = "wide"
	SourceDerived = "derived"
)

// Cell is one long-format row of the Parquet export. Value is nil for
// missing cells.
type Cell struct {
	Source      string   `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Report      string   `parquet:"name=report, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Institution string   `parquet:"name=institution, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Period      string   `parquet:"name=period, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Metric      string   `parquet:"name=metric, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Value       *float64 `parquet:"name=value, type=DOUBLE, repetitiontype=OPTIONAL"`
}

func newCell(source string, report model.ReportID, key model.Key, metric model.MetricID, v model.Value) *Cell {
	c := &Cell{
		Source:      source,
		Report:      string(report),
		Institution: string(key.Institution),
		Period:      key.Period.String(),
		Metric:      string(metric),
	}
	if f, ok := v.Float(); ok {
		c.Value = &f
	}
	return c
}

// WriteParquet writes every wide and derived cell of gen to path in long
// format, ordered by report, institution, period and metric. It returns the
// number of cells written.
func WriteParquet(gen *store.Generation, path string) (int, error) {
	log := zap.L().With(zap.String("component", "export.parquet"))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, eris.Wrapf(err, "export: create directory for %s", path)
	}
	fh, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, eris.Wrapf(err, "export: create %s", path)
	}
	defer fh.Close() //nolint:errcheck

	pw, err := writer.NewParquetWriter(fh, new(Cell), 4)
	if err != nil {
		return 0, eris.Wrap(err, "export: parquet writer")
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = parquet.CompressionCodec_ZSTD

	n := 0
	write := func(c *Cell) error {
		if err := pw.Write(c); err != nil {
			return eris.Wrapf(err, "export: write cell %s/%s/%s/%s", c.Report, c.Institution, c.Period, c.Metric)
		}
		n++
		return nil
	}

	for _, t := range gen.Tables {
		for _, r := range t.Rows {
			for i, m := range t.Schema.Metrics {
				if err := write(newCell(SourceWide, t.Report(), r.Key, m, r.Values[i])); err != nil {
					return n, err
				}
			}
		}
	}
	if gen.Derived != nil {
		for _, r := range gen.Derived.Rows {
			for i, m := range gen.Derived.Metrics {
				if err := write(newCell(SourceDerived, model.DerivedSource, r.Key, m, r.Cells[i].Value)); err != nil {
					return n, err
				}
			}
		}
	}

	if err := pw.WriteStop(); err != nil {
		return n, eris.Wrap(err, "export: finish parquet file")
	}
	log.Info("parquet written",
		zap.String("path", path),
		zap.String("generation", gen.ID),
		zap.Int("cells", n),
	)
	return n, nil
}
