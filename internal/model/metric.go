package model

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrUnknownMetric is returned when a metric identifier is not part of a
// report's enumerated schema.
var ErrUnknownMetric = eris.New("model: unknown metric")

// DerivedSource is the pseudo-report name used to address derived metrics.
const DerivedSource = "derived"

// ReportID is the normalized identifier of a BACEN report (e.g. "resumo").
type ReportID string

// MetricID is the normalized identifier of a column within a report
// (e.g. "ativo_total" or "operacoes_de_credito__provisao_sobre_operacoes_de_credito").
type MetricID string

// ReportSchema is the fixed, ordered set of metric columns of a report.
type ReportSchema struct {
	Report  ReportID   `json:"report"`
	Metrics []MetricID `json:"metrics"`
	index   map[MetricID]int
}

// NewReportSchema builds a schema from the given metrics. Duplicates are
// removed and the column order is lexicographic so that it is stable across runs.
func NewReportSchema(report ReportID, metrics []MetricID) *ReportSchema {
	seen := make(map[MetricID]bool, len(metrics))
	cols := make([]MetricID, 0, len(metrics))
	for _, m := range metrics {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		cols = append(cols, m)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i] < cols[j] })

	s := &ReportSchema{Report: report, Metrics: cols}
	s.reindex()
	return s
}

func (s *ReportSchema) reindex() {
	s.index = make(map[MetricID]int, len(s.Metrics))
	for i, m := range s.Metrics {
		s.index[m] = i
	}
}

// Index returns the column position of a metric.
func (s *ReportSchema) Index(m MetricID) (int, bool) {
	if s.index == nil {
		s.reindex()
	}
	i, ok := s.index[m]
	return i, ok
}

// Has reports whether the metric is part of the schema.
func (s *ReportSchema) Has(m MetricID) bool {
	_, ok := s.Index(m)
	return ok
}

// Validate returns ErrUnknownMetric when m is not enumerated for this report.
func (s *ReportSchema) Validate(m MetricID) error {
	if !s.Has(m) {
		return eris.Wrapf(ErrUnknownMetric, "%s.%s", s.Report, m)
	}
	return nil
}

// Len returns the number of columns.
func (s *ReportSchema) Len() int { return len(s.Metrics) }

// MetricRef addresses a metric in either a wide report table or the derived
// table ("derived.roe").
type MetricRef struct {
	Report ReportID
	Metric MetricID
}

// ParseMetricRef splits "report.metric". The metric part may itself contain
// dots only if the report part does not.
func ParseMetricRef(s string) (MetricRef, error) {
	s = strings.TrimSpace(s)
	report, metric, ok := strings.Cut(s, ".")
	if !ok || report == "" || metric == "" {
		return MetricRef{}, eris.Errorf("model: invalid metric reference %q (want report.metric)", s)
	}
	return MetricRef{Report: ReportID(report), Metric: MetricID(metric)}, nil
}

// IsDerived reports whether the reference points at the derived table.
func (r MetricRef) IsDerived() bool {
	return r.Report == DerivedSource
}

// String renders "report.metric".
func (r MetricRef) String() string {
	return string(r.Report) + "." + string(r.Metric)
}

// MarshalText renders the reference as "report.metric".
func (r MetricRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses "report.metric".
func (r *MetricRef) UnmarshalText(b []byte) error {
	ref, err := ParseMetricRef(string(b))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}
