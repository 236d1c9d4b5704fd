// Package loader reads raw BACEN long-format extracts into normalized
// observations and loads the institution registry.
package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bancoinsights/bacen-etl/internal/fetcher"
	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/normalize"
)

// ErrSkipThresholdExceeded aborts a batch whose share of skipped rows signals a
// systemic upstream format change.
var ErrSkipThresholdExceeded = eris.New("loader: skip threshold exceeded")

// DefaultSkipThreshold is the skipped/rows ratio above which a batch aborts.
const DefaultSkipThreshold = 0.05

// SkipReason classifies a dropped row.
type SkipReason string

// Skip reasons.
const (
	SkipMalformedPeriod SkipReason = "malformed_period"
	SkipMalformedCode   SkipReason = "malformed_code"
	SkipShortRow        SkipReason = "short_row"
	SkipNoMetric        SkipReason = "no_metric"
	SkipNoReport        SkipReason = "no_report"
)

// Threshold returns a skip threshold for Options.SkipThreshold.
func Threshold(v float64) *float64 { return &v }

// Options configures the extract loader.
type Options struct {
	Delimiter     rune    // default ';'
	Encoding      string  // default "windows-1252"
	SkipThreshold *float64 // nil means DefaultSkipThreshold; 0 aborts on any skip, 1 disables the check
	ReportAliases map[string]model.ReportID
}

// Stats summarizes a load.
type Stats struct {
	Files       int                  `json:"files"`
	Rows        int64                `json:"rows"`
	Loaded      int64                `json:"loaded"`
	Skipped     map[SkipReason]int64 `json:"skipped"`
	Missing     int64                `json:"missing"`
	Unparseable int64                `json:"unparseable"`
}

// SkippedTotal returns the number of rows dropped for any reason.
func (s Stats) SkippedTotal() int64 {
	var n int64
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

// SkipRate returns skipped/rows, or 0 for an empty batch.
func (s Stats) SkipRate() float64 {
	if s.Rows == 0 {
		return 0
	}
	return float64(s.SkippedTotal()) / float64(s.Rows)
}

// Result is the output of a load: observations in input order plus the
// institutions named by the extracts.
type Result struct {
	Observations []model.Observation
	Institutions []model.Institution
	Stats        Stats
}

// Loader reads extracts into observations.
type Loader struct {
	opts      Options
	threshold float64
	log       *zap.Logger
}

// New creates a Loader, filling unset options with defaults.
func New(opts Options) *Loader {
	if opts.Delimiter == 0 {
		opts.Delimiter = ';'
	}
	if opts.Encoding == "" {
		opts.Encoding = "windows-1252"
	}
	threshold := DefaultSkipThreshold
	if opts.SkipThreshold != nil {
		threshold = *opts.SkipThreshold
	}
	return &Loader{
		opts:      opts,
		threshold: threshold,
		log:       zap.L().With(zap.String("component", "loader.extract")),
	}
}

// Load reads every input path in lexicographic order. Paths may be CSV files,
// ZIP archives of CSV files, or directories containing either. Each
// observation gets a sequence number reflecting global input order.
func (l *Loader) Load(ctx context.Context, paths []string) (*Result, error) {
	files, err := expandInputs(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, eris.New("loader: no input files")
	}

	st := &state{
		res:   &Result{Stats: Stats{Skipped: make(map[SkipReason]int64)}},
		insts: make(map[model.InstitutionCode]model.Institution),
	}

	for _, path := range files {
		if err := l.loadFile(ctx, path, st); err != nil {
			return nil, err
		}
	}

	res := st.res
	res.Institutions = make([]model.Institution, 0, len(st.insts))
	for _, inst := range st.insts {
		res.Institutions = append(res.Institutions, inst)
	}
	sort.Slice(res.Institutions, func(i, j int) bool { return res.Institutions[i].Code < res.Institutions[j].Code })

	stats := res.Stats
	l.log.Info("extracts loaded",
		zap.Int("files", stats.Files),
		zap.Int64("rows", stats.Rows),
		zap.Int64("loaded", stats.Loaded),
		zap.Int64("skipped", stats.SkippedTotal()),
		zap.Int64("missing_values", stats.Missing),
		zap.Int64("unparseable_values", stats.Unparseable),
		zap.Int("institutions", len(res.Institutions)),
	)

	if rate := stats.SkipRate(); rate > l.threshold {
		l.log.Error("skip threshold exceeded",
			zap.Float64("skip_rate", rate),
			zap.Float64("threshold", l.threshold),
			zap.Any("skipped_by_reason", stats.Skipped),
		)
		return res, eris.Wrapf(ErrSkipThresholdExceeded, "%d of %d rows skipped (%.2f%% > %.2f%%)",
			stats.SkippedTotal(), stats.Rows, rate*100, l.threshold*100)
	}

	return res, nil
}

type state struct {
	res   *Result
	insts map[model.InstitutionCode]model.Institution
	seq   int64
}

func (l *Loader) loadFile(ctx context.Context, path string, st *state) error {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		entries, err := fetcher.ZIPEntries(path, ".csv", ".txt")
		if err != nil {
			return err
		}
		for _, name := range entries {
			rc, err := fetcher.OpenZIPEntry(path, name)
			if err != nil {
				return err
			}
			err = l.loadReader(ctx, path+"!"+name, rc, st)
			_ = rc.Close()
			if err != nil {
				return err
			}
		}
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "loader: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return l.loadReader(ctx, path, f, st)
}

func (l *Loader) loadReader(ctx context.Context, name string, r io.Reader, st *state) error {
	log := l.log.With(zap.String("file", name))
	st.res.Stats.Files++

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		Delimiter:  l.opts.Delimiter,
		Encoding:   l.opts.Encoding,
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
	})

	var (
		cols     columnMap
		colsErr  error
		resolved bool
		rows     int64
		skipped  int64
	)
	for record := range rowCh {
		if !resolved {
			resolved = true
			cols, colsErr = mapColumns(<-headerCh)
		}
		if colsErr != nil {
			continue
		}
		rows++
		if reason, ok := l.parseRow(record, cols, st); !ok {
			skipped++
			st.res.Stats.Skipped[reason]++
		}
	}
	for err := range errCh {
		if err != nil {
			return eris.Wrapf(err, "loader: read %s", name)
		}
	}
	if colsErr != nil {
		return eris.Wrapf(colsErr, "loader: %s", name)
	}
	if !resolved {
		// Header only (or empty): still validate the header when one exists.
		select {
		case header := <-headerCh:
			if _, err := mapColumns(header); err != nil {
				return eris.Wrapf(err, "loader: %s", name)
			}
		default:
		}
	}

	log.Debug("extract read", zap.Int64("rows", rows), zap.Int64("skipped", skipped))
	return nil
}

func (l *Loader) parseRow(record []string, cols columnMap, st *state) (SkipReason, bool) {
	st.res.Stats.Rows++
	if len(record) <= maxRequiredIndex(cols) {
		return SkipShortRow, false
	}

	code, err := normalize.NormalizeCode(cols.get(record, fieldCode))
	if err != nil {
		return SkipMalformedCode, false
	}
	period, err := normalize.ParsePeriod(cols.get(record, fieldPeriod))
	if err != nil {
		return SkipMalformedPeriod, false
	}

	reportName := cols.get(record, fieldReportName)
	if reportName == "" {
		if num := cols.get(record, fieldReportNumber); num != "" {
			reportName = fmt.Sprintf("relatorio %s", num)
		}
	}
	report := normalize.ReportIDFor(reportName, l.opts.ReportAliases)
	if report == "" {
		return SkipNoReport, false
	}

	group := cols.get(record, fieldGroup)
	if normalize.IsNoGroup(group) {
		group = ""
	}
	column := cols.get(record, fieldColumn)
	metric := normalize.MetricIDFor(group, column)
	if metric == "" {
		return SkipNoMetric, false
	}

	raw := cols.get(record, fieldValue)
	value, err := normalize.ParseAmount(raw)
	switch {
	case err != nil:
		st.res.Stats.Unparseable++
	case value.IsMissing():
		st.res.Stats.Missing++
	}

	obs := model.Observation{
		Seq:             st.seq,
		Institution:     code,
		InstitutionName: cols.get(record, fieldName),
		InstitutionType: cols.get(record, fieldType),
		Period:          period,
		Report:          report,
		ReportName:      reportName,
		Metric:          metric,
		Group:           group,
		Column:          column,
		Value:           value,
	}
	st.seq++
	st.res.Observations = append(st.res.Observations, obs)
	st.res.Stats.Loaded++

	if _, seen := st.insts[code]; !seen || obs.InstitutionName != "" {
		st.insts[code] = model.Institution{Code: code, Name: obs.InstitutionName, Type: obs.InstitutionType}
	}
	return "", true
}

// maxRequiredIndex is the largest header position a row must reach to carry
// every required field.
func maxRequiredIndex(cols columnMap) int {
	m := 0
	for _, f := range []field{fieldCode, fieldPeriod, fieldColumn, fieldValue} {
		if cols[f] > m {
			m = cols[f]
		}
	}
	return m
}

// expandInputs resolves directories to the CSV/ZIP files they contain and
// returns the de-duplicated list in lexicographic order.
func expandInputs(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, eris.Wrapf(err, "loader: stat %s", p)
		}
		if !info.IsDir() {
			if !seen[p] {
				seen[p] = true
				files = append(files, p)
			}
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, eris.Wrapf(err, "loader: read dir %s", p)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if ext != ".csv" && ext != ".zip" {
				continue
			}
			full := filepath.Join(p, e.Name())
			if !seen[full] {
				seen[full] = true
				files = append(files, full)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}
