package loader

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bancoinsights/bacen-etl/internal/fetcher"
	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/normalize"
)

// registryRow is one line of the institution registry side table.
type registryRow struct {
	Code    string `csv:"code"`
	Name    string `csv:"name"`
	Segment string `csv:"segment"`
	Control string `csv:"control"`
	Region  string `csv:"region"`
	Type    string `csv:"type"`
}

// LoadRegistry reads the institution registry from a CSV or XLSX file. Rows
// with a malformed code are skipped and logged; an empty path yields an empty
// registry.
func LoadRegistry(path string) (*model.Registry, error) {
	reg := model.NewRegistry()
	if path == "" {
		return reg, nil
	}
	log := zap.L().With(zap.String("component", "loader.registry"), zap.String("path", path))

	var (
		rows []*registryRow
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readRegistryXLSX(path)
	default:
		rows, err = readRegistryCSV(path)
	}
	if err != nil {
		return nil, err
	}

	skipped := 0
	for _, row := range rows {
		code, err := normalize.NormalizeCode(row.Code)
		if err != nil {
			skipped++
			log.Debug("skipping registry row", zap.String("code", row.Code), zap.Error(err))
			continue
		}
		reg.Put(model.Institution{
			Code:    code,
			Name:    strings.TrimSpace(row.Name),
			Segment: strings.TrimSpace(row.Segment),
			Control: strings.TrimSpace(row.Control),
			Region:  strings.TrimSpace(row.Region),
			Type:    strings.TrimSpace(row.Type),
		})
	}

	log.Info("registry loaded", zap.Int("institutions", reg.Len()), zap.Int("skipped", skipped))
	return reg, nil
}

func readRegistryCSV(path string) ([]*registryRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: read registry %s", path)
	}
	var rows []*registryRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, eris.Wrapf(err, "loader: parse registry %s", path)
	}
	return rows, nil
}

func readRegistryXLSX(path string) ([]*registryRow, error) {
	cells, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "loader: read registry %s", path)
	}
	if len(cells) == 0 {
		return nil, nil
	}

	idx := make(map[string]int, len(cells[0]))
	for i, h := range cells[0] {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["code"]; !ok {
		return nil, eris.Wrapf(ErrMissingColumn, "registry %s: code", path)
	}
	get := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	rows := make([]*registryRow, 0, len(cells)-1)
	for _, rec := range cells[1:] {
		rows = append(rows, &registryRow{
			Code:    get(rec, "code"),
			Name:    get(rec, "name"),
			Segment: get(rec, "segment"),
			Control: get(rec, "control"),
			Region:  get(rec, "region"),
			Type:    get(rec, "type"),
		})
	}
	return rows, nil
}
