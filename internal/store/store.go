// Package store holds the state of a pipeline run and persists committed
// generations.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/bancoinsights/bacen-etl/internal/derive"
	"github.com/bancoinsights/bacen-etl/internal/loader"
	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/pivot"
)

// ErrNoGeneration is returned when no generation has been committed yet.
var ErrNoGeneration = eris.New("store: no committed generation")

// DataStore is the explicit container of one pipeline run. Each stage
// fills its part; nothing is shared between runs.
type DataStore struct {
	Registry     *model.Registry
	Observations []model.Observation
	LoadStats    loader.Stats

	Wide        *pivot.Result
	Derived     *derive.Table
	DeriveStats derive.Stats
	Market      *derive.Market
}

// NewDataStore returns an empty DataStore.
func NewDataStore() *DataStore {
	return &DataStore{Registry: model.NewRegistry()}
}

// Generation is an immutable snapshot of a completed run. Readers only ever
// see whole generations.
type Generation struct {
	ID             string
	CreatedAt      time.Time
	CatalogVersion string
	Digest         string

	Registry    *model.Registry
	Tables      []*pivot.Table
	Derived     *derive.Table
	Market      *derive.Market
	LoadStats   loader.Stats
	DeriveStats derive.Stats
}

// NewGeneration snapshots a finished DataStore.
func NewGeneration(ds *DataStore, catalogVersion string) (*Generation, error) {
	if ds.Wide == nil || ds.Derived == nil || ds.Market == nil {
		return nil, eris.New("store: data store is incomplete")
	}
	gen := &Generation{
		ID:             uuid.New().String(),
		CreatedAt:      time.Now().UTC(),
		CatalogVersion: catalogVersion,
		Registry:       ds.Registry,
		Tables:         ds.Wide.Tables,
		Derived:        ds.Derived,
		Market:         ds.Market,
		LoadStats:      ds.LoadStats,
		DeriveStats:    ds.DeriveStats,
	}
	digest, err := gen.ComputeDigest()
	if err != nil {
		return nil, err
	}
	gen.Digest = digest
	return gen, nil
}

// Wide returns the generation's tables as a pivot result.
func (g *Generation) Wide() *pivot.Result {
	return &pivot.Result{Tables: g.Tables}
}

// Schemas returns the column set of every report.
func (g *Generation) Schemas() map[model.ReportID]*model.ReportSchema {
	return g.Wide().Schemas()
}

// Periods returns every period present in any table, ascending.
func (g *Generation) Periods() []model.Period {
	seen := make(map[model.Period]bool)
	var out []model.Period
	for _, t := range g.Tables {
		for _, p := range t.Periods() {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

type canonicalRow struct {
	Institution model.InstitutionCode `json:"i"`
	Period      string                `json:"p"`
	Values      []model.Value         `json:"v"`
}

type canonicalTable struct {
	Report  model.ReportID   `json:"report"`
	Metrics []model.MetricID `json:"metrics"`
	Rows    []canonicalRow   `json:"rows"`
}

type canonicalCell struct {
	Value   model.Value `json:"v"`
	Inputs  string      `json:"in"`
	Partial bool        `json:"pt"`
}

type canonicalDerivedRow struct {
	Institution model.InstitutionCode `json:"i"`
	Period      string                `json:"p"`
	Cells       []canonicalCell       `json:"c"`
}

type canonicalShare struct {
	Institution model.InstitutionCode `json:"i"`
	Value       model.Value           `json:"v"`
	Share       model.Value           `json:"s"`
	Rank        int                   `json:"r"`
}

type canonicalAggregate struct {
	Metric string           `json:"metric"`
	Period string           `json:"period"`
	Total  model.Value      `json:"total"`
	Count  int              `json:"count"`
	HHI    model.Value      `json:"hhi"`
	CR4    model.Value      `json:"cr4"`
	CR10   model.Value      `json:"cr10"`
	Shares []canonicalShare `json:"shares"`
}

type canonical struct {
	Catalog        string                `json:"catalog"`
	Institutions   []model.Institution   `json:"institutions"`
	Tables         []canonicalTable      `json:"tables"`
	DerivedMetrics []model.MetricID      `json:"derived_metrics"`
	Derived        []canonicalDerivedRow `json:"derived"`
	Market         []canonicalAggregate  `json:"market"`
}

// ComputeDigest hashes the generation's content, excluding its ID and
// creation time, so identical input yields an identical digest.
func (g *Generation) ComputeDigest() (string, error) {
	c := canonical{
		Catalog:        g.CatalogVersion,
		Institutions:   []model.Institution{},
		Tables:         make([]canonicalTable, 0, len(g.Tables)),
		DerivedMetrics: []model.MetricID{},
		Derived:        []canonicalDerivedRow{},
		Market:         []canonicalAggregate{},
	}
	if g.Registry != nil {
		c.Institutions = append(c.Institutions, g.Registry.All()...)
	}

	for _, t := range g.Tables {
		ct := canonicalTable{Report: t.Report(), Metrics: t.Schema.Metrics, Rows: make([]canonicalRow, len(t.Rows))}
		for i, r := range t.Rows {
			ct.Rows[i] = canonicalRow{Institution: r.Key.Institution, Period: r.Key.Period.String(), Values: r.Values}
		}
		c.Tables = append(c.Tables, ct)
	}

	if g.Derived != nil {
		c.DerivedMetrics = append(c.DerivedMetrics, g.Derived.Metrics...)
		for _, r := range g.Derived.Rows {
			row := canonicalDerivedRow{Institution: r.Key.Institution, Period: r.Key.Period.String(), Cells: make([]canonicalCell, len(r.Cells))}
			for i, cell := range r.Cells {
				row.Cells[i] = canonicalCell{Value: cell.Value, Inputs: joinPeriods(cell.Inputs), Partial: cell.Partial}
			}
			c.Derived = append(c.Derived, row)
		}
	}

	if g.Market != nil {
		for _, a := range g.Market.Aggregates {
			ca := canonicalAggregate{
				Metric: a.Metric.String(),
				Period: a.Period.String(),
				Total:  a.Total,
				Count:  a.Count,
				HHI:    a.HHI,
				CR4:    a.CR4,
				CR10:   a.CR10,
				Shares: make([]canonicalShare, len(a.Shares)),
			}
			for i, s := range a.Shares {
				ca.Shares[i] = canonicalShare{Institution: s.Institution, Value: s.Value, Share: s.Share, Rank: s.Rank}
			}
			c.Market = append(c.Market, ca)
		}
	}

	data, err := json.Marshal(c)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal canonical generation")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func joinPeriods(ps []model.Period) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}
