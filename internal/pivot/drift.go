package pivot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/bancoinsights/bacen-etl/internal/model"
)

// ErrSchemaDrift marks a run whose metric columns lost something a previous
// generation or the catalog relies on.
var ErrSchemaDrift = eris.New("pivot: schema drift")

// ReportDrift describes the drift of one report.
type ReportDrift struct {
	Report model.ReportID
	// Vanished lists metrics of the previous schema with no observation in
	// this run's full dataset.
	Vanished []model.MetricID
	// MissingRequired lists catalog-required metrics absent from the schema.
	MissingRequired []model.MetricID
}

// DriftError is returned by CheckDrift. It unwraps to ErrSchemaDrift.
type DriftError struct {
	Reports []ReportDrift
}

func (e *DriftError) Error() string {
	var b strings.Builder
	b.WriteString(ErrSchemaDrift.Error())
	for _, r := range e.Reports {
		fmt.Fprintf(&b, "; %s", r.Report)
		if len(r.Vanished) > 0 {
			fmt.Fprintf(&b, " vanished=%v", r.Vanished)
		}
		if len(r.MissingRequired) > 0 {
			fmt.Fprintf(&b, " missing_required=%v", r.MissingRequired)
		}
	}
	return b.String()
}

// Unwrap returns ErrSchemaDrift.
func (e *DriftError) Unwrap() error { return ErrSchemaDrift }

// Is matches ErrSchemaDrift.
func (e *DriftError) Is(target error) bool { return target == ErrSchemaDrift }

// CheckDrift compares a pivot result against the previous generation's
// schemas and the required metrics per report. It returns a *DriftError when
// a previously relied-upon metric has no observations in this run or a
// required metric is absent; added metrics are never drift.
func CheckDrift(res *Result, previous map[model.ReportID]*model.ReportSchema, required map[model.ReportID][]model.MetricID) error {
	reports := make(map[model.ReportID]bool)
	for r := range previous {
		reports[r] = true
	}
	for r := range required {
		reports[r] = true
	}
	ids := make([]model.ReportID, 0, len(reports))
	for r := range reports {
		ids = append(ids, r)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var drift []ReportDrift
	for _, id := range ids {
		t, ok := res.Table(id)
		d := ReportDrift{Report: id}

		if prev := previous[id]; prev != nil {
			for _, m := range prev.Metrics {
				if !ok || t.Observed[m] == 0 {
					d.Vanished = append(d.Vanished, m)
				}
			}
		}
		for _, m := range required[id] {
			if !ok || !t.Schema.Has(m) {
				d.MissingRequired = append(d.MissingRequired, m)
			}
		}
		if len(d.Vanished) > 0 || len(d.MissingRequired) > 0 {
			drift = append(drift, d)
		}
	}

	if len(drift) == 0 {
		return nil
	}
	return &DriftError{Reports: drift}
}
