package etl

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bancoinsights/bacen-etl/internal/db"
	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/store"
)

// maxIdentifier is the Postgres identifier length limit.
const maxIdentifier = 63

// Published table names.
const (
	TableDerived = "derived_metrics"
	TableMarket  = "market_aggregates"
	TableShares  = "market_shares"
	widePrefix   = "wide_"
)

var (
	derivedColumns = []db.Column{
		{Name: "institution", Type: "TEXT NOT NULL"},
		{Name: "period", Type: "TEXT NOT NULL"},
		{Name: "period_end", Type: "DATE NOT NULL"},
		{Name: "metric", Type: "TEXT NOT NULL"},
		{Name: "value", Type: "NUMERIC"},
		{Name: "inputs", Type: "TEXT NOT NULL DEFAULT ''"},
		{Name: "partial", Type: "BOOLEAN NOT NULL DEFAULT false"},
	}
	marketColumns = []db.Column{
		{Name: "metric", Type: "TEXT NOT NULL"},
		{Name: "period", Type: "TEXT NOT NULL"},
		{Name: "period_end", Type: "DATE NOT NULL"},
		{Name: "total", Type: "NUMERIC"},
		{Name: "reporting", Type: "INTEGER NOT NULL DEFAULT 0"},
		{Name: "hhi", Type: "NUMERIC"},
		{Name: "cr4", Type: "NUMERIC"},
		{Name: "cr10", Type: "NUMERIC"},
	}
	shareColumns = []db.Column{
		{Name: "metric", Type: "TEXT NOT NULL"},
		{Name: "period", Type: "TEXT NOT NULL"},
		{Name: "institution", Type: "TEXT NOT NULL"},
		{Name: "value", Type: "NUMERIC"},
		{Name: "share", Type: "NUMERIC"},
		{Name: "rank", Type: "INTEGER NOT NULL DEFAULT 0"},
	}
	institutionColumns = []string{"code", "name", "segment", "control", "region", "type"}
)

// PublishStats counts what a publish wrote.
type PublishStats struct {
	Tables       []string `json:"tables"`
	Rows         int64    `json:"rows"`
	Institutions int64    `json:"institutions"`
}

// Publisher mirrors a committed generation into Postgres. Every table is
// loaded into a staging table first and all of them are swapped in a single
// transaction, so readers never see a partially published generation.
type Publisher struct {
	pool   db.Pool
	schema string
	log    *zap.Logger
}

// NewPublisher creates a Publisher writing into schema (default "bacen").
func NewPublisher(pool db.Pool, schema string) *Publisher {
	return &Publisher{
		pool:   pool,
		schema: schemaOrDefault(schema),
		log:    zap.L().With(zap.String("component", "etl.publisher")),
	}
}

type stagedTable struct {
	name    string
	cols    []db.Column
	pk      []string
	rows    [][]any
	columns []string
}

// Publish stages and swaps the wide, derived and market tables of gen, then
// upserts institutions and records the generation.
func (p *Publisher) Publish(ctx context.Context, gen *store.Generation) (*PublishStats, error) {
	tables := p.buildTables(gen)
	stats := &PublishStats{}

	for _, t := range tables {
		staging, err := db.CreateStaging(ctx, p.pool, p.schema, t.name, t.cols, t.pk)
		if err != nil {
			return nil, eris.Wrapf(err, "publish: stage %s", t.name)
		}
		n, err := db.CopyFromSchema(ctx, p.pool, p.schema, staging, t.columns, t.rows)
		if err != nil {
			return nil, eris.Wrapf(err, "publish: load %s", t.name)
		}
		stats.Rows += n
		stats.Tables = append(stats.Tables, t.name)
		p.log.Debug("staged table", zap.String("table", t.name), zap.Int64("rows", n))
	}

	retry := db.DefaultRetryConfig()
	retry.OnRetry = db.RetryLogger("swap")
	if err := db.Retry(ctx, retry, func(ctx context.Context) error {
		return db.SwapTables(ctx, p.pool, p.schema, stats.Tables)
	}); err != nil {
		return nil, eris.Wrap(err, "publish: swap")
	}

	if gen.Registry != nil {
		var rows [][]any
		for _, inst := range gen.Registry.All() {
			rows = append(rows, []any{
				string(inst.Code), inst.Name, inst.Segment, inst.Control, inst.Region, inst.Type,
			})
		}
		n, err := db.BulkUpsert(ctx, p.pool, db.UpsertConfig{
			Table:        p.schema + ".institutions",
			Columns:      institutionColumns,
			ConflictKeys: []string{"code"},
		}, rows)
		if err != nil {
			return nil, eris.Wrap(err, "publish: institutions")
		}
		stats.Institutions = n
	}

	if _, err := p.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s.generations (id, created_at, catalog_version, digest, published_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (id) DO UPDATE SET published_at = now()`, p.schema),
		gen.ID, gen.CreatedAt, gen.CatalogVersion, gen.Digest,
	); err != nil {
		return nil, eris.Wrap(err, "publish: record generation")
	}

	p.log.Info("generation published",
		zap.String("generation", gen.ID),
		zap.Int("tables", len(stats.Tables)),
		zap.Int64("rows", stats.Rows),
		zap.Int64("institutions", stats.Institutions),
	)
	return stats, nil
}

func (p *Publisher) buildTables(gen *store.Generation) []stagedTable {
	var out []stagedTable

	for _, t := range gen.Tables {
		st := stagedTable{
			name: WideTableName(t.Report()),
			cols: []db.Column{
				{Name: "institution", Type: "TEXT NOT NULL"},
				{Name: "period", Type: "TEXT NOT NULL"},
				{Name: "period_end", Type: "DATE NOT NULL"},
			},
			pk: []string{"institution", "period"},
		}
		for _, m := range t.Schema.Metrics {
			st.cols = append(st.cols, db.Column{Name: ColumnName(string(m)), Type: "NUMERIC"})
		}
		st.columns = columnNames(st.cols)
		for _, r := range t.Rows {
			row := make([]any, 0, len(st.cols))
			row = append(row, string(r.Key.Institution), r.Key.Period.String(), r.Key.Period.EndDate())
			for _, v := range r.Values {
				row = append(row, numeric(v))
			}
			st.rows = append(st.rows, row)
		}
		out = append(out, st)
	}

	if gen.Derived != nil {
		st := stagedTable{name: TableDerived, cols: derivedColumns, pk: []string{"institution", "period", "metric"}}
		st.columns = columnNames(st.cols)
		for _, r := range gen.Derived.Rows {
			for i, m := range gen.Derived.Metrics {
				c := r.Cells[i]
				st.rows = append(st.rows, []any{
					string(r.Key.Institution), r.Key.Period.String(), r.Key.Period.EndDate(),
					string(m), numeric(c.Value), joinPeriods(c.Inputs), c.Partial,
				})
			}
		}
		out = append(out, st)
	}

	if gen.Market != nil {
		agg := stagedTable{name: TableMarket, cols: marketColumns, pk: []string{"metric", "period"}}
		agg.columns = columnNames(agg.cols)
		shares := stagedTable{name: TableShares, cols: shareColumns, pk: []string{"metric", "period", "institution"}}
		shares.columns = columnNames(shares.cols)
		for _, a := range gen.Market.Aggregates {
			metric := a.Metric.String()
			agg.rows = append(agg.rows, []any{
				metric, a.Period.String(), a.Period.EndDate(),
				numeric(a.Total), int32(a.Count), numeric(a.HHI), numeric(a.CR4), numeric(a.CR10),
			})
			for _, s := range a.Shares {
				shares.rows = append(shares.rows, []any{
					metric, a.Period.String(), string(s.Institution),
					numeric(s.Value), numeric(s.Share), int32(s.Rank),
				})
			}
		}
		out = append(out, agg, shares)
	}

	return out
}

// WideTableName returns the Postgres table holding a report's wide rows.
// The name leaves room for the staging suffix.
func WideTableName(report model.ReportID) string {
	return fitIdentifier(widePrefix+string(report), maxIdentifier-len(db.StagingSuffix))
}

// ColumnName returns the Postgres column for a metric, shortened with a hash
// suffix when it exceeds the identifier limit.
func ColumnName(metric string) string {
	return fitIdentifier(metric, maxIdentifier)
}

func fitIdentifier(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	suffix := fmt.Sprintf("_%08x", h.Sum32())
	return s[:limit-len(suffix)] + suffix
}

func columnNames(cols []db.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// numeric converts a Value to an exact Postgres NUMERIC; missing becomes NULL.
func numeric(v model.Value) pgtype.Numeric {
	d, ok := v.Decimal()
	if !ok {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func joinPeriods(ps []model.Period) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}
