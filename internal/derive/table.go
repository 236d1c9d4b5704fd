package derive

import (
	"sort"

	"github.com/bancoinsights/bacen-etl/internal/model"
)

// Cell is one derived value together with the periods it was computed from.
type Cell struct {
	Value model.Value
	// Inputs lists the periods read to compute the value, ascending.
	Inputs []model.Period
	// Partial is set when the value came from an incomplete window under
	// an explicit opt-in.
	Partial bool
}

// Row holds the derived cells of one (institution, period), aligned with
// Table.Metrics.
type Row struct {
	Key   model.Key
	Cells []Cell
}

// Table is the derived-metric table: one row per (institution, period), one
// column per catalog definition.
type Table struct {
	Metrics []model.MetricID
	Rows    []Row

	col   map[model.MetricID]int
	index map[model.Key]int
}

// NewTable builds a derived table, sorting rows by key.
func NewTable(metrics []model.MetricID, rows []Row) *Table {
	t := &Table{Metrics: metrics, Rows: rows}
	sort.Slice(t.Rows, func(i, j int) bool { return t.Rows[i].Key.Less(t.Rows[j].Key) })
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.col = make(map[model.MetricID]int, len(t.Metrics))
	for i, m := range t.Metrics {
		t.col[m] = i
	}
	t.index = make(map[model.Key]int, len(t.Rows))
	for i, r := range t.Rows {
		t.index[r.Key] = i
	}
}

// Schema returns the derived table's column set.
func (t *Table) Schema() *model.ReportSchema {
	return &model.ReportSchema{Report: model.DerivedSource, Metrics: t.Metrics}
}

// Has reports whether metric is a derived column.
func (t *Table) Has(metric model.MetricID) bool {
	if t.col == nil {
		t.reindex()
	}
	_, ok := t.col[metric]
	return ok
}

// Cell returns the derived cell at (key, metric). The boolean is false when
// the metric is unknown; an absent row yields a missing cell.
func (t *Table) Cell(key model.Key, metric model.MetricID) (Cell, bool) {
	if t.col == nil {
		t.reindex()
	}
	c, ok := t.col[metric]
	if !ok {
		return Cell{Value: model.Missing}, false
	}
	i, ok := t.index[key]
	if !ok {
		return Cell{Value: model.Missing}, true
	}
	return t.Rows[i].Cells[c], true
}
