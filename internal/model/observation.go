package model

// Observation is a single long-format fact from a raw BACEN extract, after
// normalization. Observations are immutable once loaded.
type Observation struct {
	Seq             int64           // global input order, used for last-write-wins
	Institution     InstitutionCode // canonical 8-char code
	InstitutionName string
	InstitutionType string
	Period          Period
	Report          ReportID
	ReportName      string // raw report label, kept for provenance
	Metric          MetricID
	Group           string // raw group label; empty when the column is ungrouped
	Column          string // raw column label
	Value           Value
}

// Key identifies the cell an observation scatters into.
type Key struct {
	Institution InstitutionCode
	Period      Period
}

// Less orders keys by institution code, then period.
func (k Key) Less(o Key) bool {
	if k.Institution != o.Institution {
		return k.Institution < o.Institution
	}
	return k.Period.Before(o.Period)
}

// Key returns the (institution, period) row key of the observation.
func (o Observation) Key() Key {
	return Key{Institution: o.Institution, Period: o.Period}
}
