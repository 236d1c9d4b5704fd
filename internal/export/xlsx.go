// Package export writes a committed generation to files for analysts: an
// XLSX workbook with one sheet per report and a Parquet file of long cells.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/store"
)

// DefaultMissingLabel is rendered in place of missing values.
const DefaultMissingLabel = "n/d"

// maxSheetName is the sheet name limit of the XLSX format.
const maxSheetName = 31

// Sheet names reserved for the non-report sheets.
const (
	SheetDerived       = "derived"
	SheetMarket        = "market"
	SheetConcentration = "concentration"
)

var sheetReplacer = strings.NewReplacer(
	":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "(", "]", ")",
)

// WorkbookOptions configures WriteWorkbook.
type WorkbookOptions struct {
	// MissingLabel replaces missing values; defaults to DefaultMissingLabel.
	MissingLabel string
}

// SheetName returns a valid sheet name for name not yet taken.
// Names are sanitized, truncated to 31 characters and suffixed with a
// counter on collision.
func SheetName(name string, used map[string]bool) string {
	base := sheetReplacer.Replace(strings.TrimSpace(name))
	if base == "" {
		base = "sheet"
	}
	base = truncate(base, maxSheetName)

	candidate := base
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		suffix := fmt.Sprintf("~%d", n)
		candidate = truncate(base, maxSheetName-len(suffix)) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type sheetWriter struct {
	sheet   *xlsx.Sheet
	missing string
}

func (w *sheetWriter) header(cols ...string) {
	row := w.sheet.AddRow()
	for _, c := range cols {
		row.AddCell().SetString(c)
	}
}

func (w *sheetWriter) row() *xlsx.Row {
	return w.sheet.AddRow()
}

func (w *sheetWriter) value(row *xlsx.Row, v model.Value) {
	cell := row.AddCell()
	f, ok := v.Float()
	if !ok {
		cell.SetString(w.missing)
		return
	}
	cell.SetFloat(f)
}

// WriteWorkbook writes gen to an XLSX workbook at path: one sheet per report
// in the wide layout, then the derived, market and concentration sheets.
func WriteWorkbook(gen *store.Generation, path string, opts WorkbookOptions) error {
	log := zap.L().With(zap.String("component", "export.xlsx"))
	if opts.MissingLabel == "" {
		opts.MissingLabel = DefaultMissingLabel
	}

	f := xlsx.NewFile()
	used := map[string]bool{
		SheetDerived:       true,
		SheetMarket:        true,
		SheetConcentration: true,
	}

	for _, t := range gen.Tables {
		name := SheetName(string(t.Report()), used)
		sheet, err := f.AddSheet(name)
		if err != nil {
			return eris.Wrapf(err, "export: add sheet %s", name)
		}
		w := &sheetWriter{sheet: sheet, missing: opts.MissingLabel}

		cols := []string{"institution", "name", "period"}
		for _, m := range t.Schema.Metrics {
			cols = append(cols, string(m))
		}
		w.header(cols...)
		for _, r := range t.Rows {
			row := w.row()
			row.AddCell().SetString(string(r.Key.Institution))
			row.AddCell().SetString(institutionName(gen, r.Key.Institution))
			row.AddCell().SetString(r.Key.Period.String())
			for _, v := range r.Values {
				w.value(row, v)
			}
		}
		log.Debug("wrote report sheet", zap.String("sheet", name), zap.Int("rows", len(t.Rows)))
	}

	if gen.Derived != nil {
		sheet, err := f.AddSheet(SheetDerived)
		if err != nil {
			return eris.Wrap(err, "export: add derived sheet")
		}
		w := &sheetWriter{sheet: sheet, missing: opts.MissingLabel}
		cols := []string{"institution", "name", "period"}
		for _, m := range gen.Derived.Metrics {
			cols = append(cols, string(m))
		}
		w.header(cols...)
		for _, r := range gen.Derived.Rows {
			row := w.row()
			row.AddCell().SetString(string(r.Key.Institution))
			row.AddCell().SetString(institutionName(gen, r.Key.Institution))
			row.AddCell().SetString(r.Key.Period.String())
			for _, c := range r.Cells {
				w.value(row, c.Value)
			}
		}
	}

	if gen.Market != nil {
		shares, err := f.AddSheet(SheetMarket)
		if err != nil {
			return eris.Wrap(err, "export: add market sheet")
		}
		conc, err := f.AddSheet(SheetConcentration)
		if err != nil {
			return eris.Wrap(err, "export: add concentration sheet")
		}
		sw := &sheetWriter{sheet: shares, missing: opts.MissingLabel}
		cw := &sheetWriter{sheet: conc, missing: opts.MissingLabel}
		sw.header("metric", "period", "rank", "institution", "name", "value", "share_pct")
		cw.header("metric", "period", "count", "total", "hhi", "cr4", "cr10")

		for _, a := range gen.Market.Aggregates {
			row := cw.row()
			row.AddCell().SetString(a.Metric.String())
			row.AddCell().SetString(a.Period.String())
			row.AddCell().SetInt(a.Count)
			cw.value(row, a.Total)
			cw.value(row, a.HHI)
			cw.value(row, a.CR4)
			cw.value(row, a.CR10)

			for _, s := range a.Shares {
				row := sw.row()
				row.AddCell().SetString(a.Metric.String())
				row.AddCell().SetString(a.Period.String())
				if s.Rank > 0 {
					row.AddCell().SetInt(s.Rank)
				} else {
					row.AddCell().SetString(opts.MissingLabel)
				}
				row.AddCell().SetString(string(s.Institution))
				row.AddCell().SetString(institutionName(gen, s.Institution))
				sw.value(row, s.Value)
				sw.value(row, s.Share)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "export: create directory for %s", path)
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save workbook %s", path)
	}
	log.Info("workbook written",
		zap.String("path", path),
		zap.String("generation", gen.ID),
		zap.Int("sheets", len(f.Sheets)),
	)
	return nil
}

func institutionName(gen *store.Generation, code model.InstitutionCode) string {
	inst, _ := gen.Registry.Get(code)
	return inst.Name
}
