package pivot

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/bancoinsights/bacen-etl/internal/model"
)

// Row is one (institution, period) record of a wide table. Values are
// aligned with the table schema's Metrics.
type Row struct {
	Key    model.Key
	Values []model.Value
}

// Table is the wide form of one report: rows keyed by (institution, period),
// one column per metric in Schema.
type Table struct {
	Schema *model.ReportSchema
	Rows   []Row

	// Observed counts observations per metric in this run.
	Observed map[model.MetricID]int64
	// Duplicates counts repeated observations carrying the same value.
	Duplicates int64
	// Conflicts counts repeated observations with a different value; the later
	// observation won.
	Conflicts int64

	index map[model.Key]int
}

// NewTable builds a table from rows, sorting them by key.
func NewTable(schema *model.ReportSchema, rows []Row) *Table {
	t := &Table{Schema: schema, Rows: rows, Observed: make(map[model.MetricID]int64)}
	sort.Slice(t.Rows, func(i, j int) bool { return t.Rows[i].Key.Less(t.Rows[j].Key) })
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[model.Key]int, len(t.Rows))
	for i, r := range t.Rows {
		t.index[r.Key] = i
	}
}

// Report returns the report identifier.
func (t *Table) Report() model.ReportID { return t.Schema.Report }

// Row returns the row for key.
func (t *Table) Row(key model.Key) (Row, bool) {
	if t.index == nil {
		t.reindex()
	}
	i, ok := t.index[key]
	if !ok {
		return Row{}, false
	}
	return t.Rows[i], true
}

// Value returns the cell at (key, metric). An absent row or a missing cell
// yields model.Missing; an unknown metric yields model.ErrUnknownMetric.
func (t *Table) Value(key model.Key, metric model.MetricID) (model.Value, error) {
	col, ok := t.Schema.Index(metric)
	if !ok {
		return model.Missing, t.Schema.Validate(metric)
	}
	row, ok := t.Row(key)
	if !ok {
		return model.Missing, nil
	}
	return row.Values[col], nil
}

// Keys returns the row keys in table order.
func (t *Table) Keys() []model.Key {
	keys := make([]model.Key, len(t.Rows))
	for i, r := range t.Rows {
		keys[i] = r.Key
	}
	return keys
}

// Periods returns the distinct periods present, ascending.
func (t *Table) Periods() []model.Period {
	seen := make(map[model.Period]bool)
	var out []model.Period
	for _, r := range t.Rows {
		if !seen[r.Key.Period] {
			seen[r.Key.Period] = true
			out = append(out, r.Key.Period)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Result is the output of a pivot run: one table per report, ordered by
// report identifier.
type Result struct {
	Tables     []*Table
	Duplicates int64
	Conflicts  int64
}

// Table returns the table of a report.
func (r *Result) Table(report model.ReportID) (*Table, bool) {
	for _, t := range r.Tables {
		if t.Report() == report {
			return t, true
		}
	}
	return nil, false
}

// Schemas returns the schema of every table keyed by report.
func (r *Result) Schemas() map[model.ReportID]*model.ReportSchema {
	out := make(map[model.ReportID]*model.ReportSchema, len(r.Tables))
	for _, t := range r.Tables {
		out[t.Report()] = t.Schema
	}
	return out
}

// Value resolves a wide-table reference for a key.
func (r *Result) Value(ref model.MetricRef, key model.Key) (model.Value, error) {
	t, ok := r.Table(ref.Report)
	if !ok {
		return model.Missing, eris.Wrapf(model.ErrUnknownMetric, "%s: report not loaded", ref)
	}
	return t.Value(key, ref.Metric)
}
