package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/bancoinsights/bacen-etl/internal/derive"
	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/normalize"
	"github.com/bancoinsights/bacen-etl/internal/pivot"
)

// CurrentFile is the name of the committed generation inside the store
// directory.
const CurrentFile = "current.db"

// Key columns of wide tables. Metric slugs never start with an underscore.
const (
	colInstitution = "_institution"
	colPeriod      = "_period"
)

// SQLiteStore keeps the committed generation as a single SQLite file that is
// replaced atomically on each successful run.
type SQLiteStore struct {
	dir string
	log *zap.Logger
}

// NewSQLite returns a store rooted at dir.
func NewSQLite(dir string) *SQLiteStore {
	return &SQLiteStore{
		dir: dir,
		log: zap.L().With(zap.String("component", "store.sqlite")),
	}
}

// Path returns the location of the committed generation.
func (s *SQLiteStore) Path() string {
	return filepath.Join(s.dir, CurrentFile)
}

func openSQLite(path string, pragmas ...string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range append([]string{"PRAGMA busy_timeout=5000"}, pragmas...) {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return db, nil
}

const sqliteSchema = `
CREATE TABLE manifest (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE institutions (
	code    TEXT PRIMARY KEY,
	name    TEXT NOT NULL,
	segment TEXT NOT NULL,
	control TEXT NOT NULL,
	region  TEXT NOT NULL,
	type    TEXT NOT NULL
);

CREATE TABLE schemas (
	report   TEXT NOT NULL,
	position INTEGER NOT NULL,
	metric   TEXT NOT NULL,
	PRIMARY KEY (report, position)
);

CREATE TABLE derived_cells (
	institution TEXT NOT NULL,
	period      TEXT NOT NULL,
	metric      TEXT NOT NULL,
	value       TEXT,
	inputs      TEXT NOT NULL,
	partial     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (institution, period, metric)
);

CREATE TABLE market_aggregates (
	metric TEXT NOT NULL,
	period TEXT NOT NULL,
	total  TEXT,
	count  INTEGER NOT NULL,
	hhi    TEXT,
	cr4    TEXT,
	cr10   TEXT,
	PRIMARY KEY (metric, period)
);

CREATE TABLE market_shares (
	metric      TEXT NOT NULL,
	period      TEXT NOT NULL,
	institution TEXT NOT NULL,
	value       TEXT,
	share       TEXT,
	rank        INTEGER NOT NULL,
	PRIMARY KEY (metric, period, institution)
);

CREATE INDEX idx_derived_cells_metric ON derived_cells(metric, period);
CREATE INDEX idx_market_shares_institution ON market_shares(institution);
`

// Commit writes gen to a temporary file and renames it over the current
// generation. On any error the temporary file is removed and the previous
// generation is left untouched.
func (s *SQLiteStore) Commit(ctx context.Context, gen *Generation) (err error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return eris.Wrapf(err, "sqlite: create store dir %s", s.dir)
	}
	tmp := s.Path() + ".tmp"
	removeDB(tmp)

	defer func() {
		if err != nil {
			removeDB(tmp)
		}
	}()

	db, err := openSQLite(tmp, "PRAGMA journal_mode=DELETE", "PRAGMA synchronous=FULL")
	if err != nil {
		return err
	}
	if err := writeGeneration(ctx, db, gen); err != nil {
		db.Close() //nolint:errcheck
		return err
	}
	if err := db.Close(); err != nil {
		return eris.Wrap(err, "sqlite: close temp generation")
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		return eris.Wrap(err, "sqlite: replace current generation")
	}

	s.log.Info("generation committed",
		zap.String("generation", gen.ID),
		zap.String("digest", gen.Digest),
		zap.String("path", s.Path()),
	)
	return nil
}

func removeDB(path string) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

func writeGeneration(ctx context.Context, db *sql.DB, gen *Generation) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, sqliteSchema); err != nil {
		return eris.Wrap(err, "sqlite: create schema")
	}
	if err := writeManifest(ctx, tx, gen); err != nil {
		return err
	}
	if err := writeInstitutions(ctx, tx, gen.Registry); err != nil {
		return err
	}
	for _, t := range gen.Tables {
		if err := writeWide(ctx, tx, t); err != nil {
			return err
		}
	}
	if err := writeDerived(ctx, tx, gen.Derived); err != nil {
		return err
	}
	if err := writeMarket(ctx, tx, gen.Market); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func writeManifest(ctx context.Context, tx *sql.Tx, gen *Generation) error {
	loadStats, err := json.Marshal(gen.LoadStats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal load stats")
	}
	deriveStats, err := json.Marshal(gen.DeriveStats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal derive stats")
	}
	var metrics []model.MetricID
	if gen.Derived != nil {
		metrics = gen.Derived.Metrics
	}
	derivedMetrics, err := json.Marshal(metrics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal derived metrics")
	}

	entries := [][2]string{
		{"id", gen.ID},
		{"created_at", gen.CreatedAt.UTC().Format(time.RFC3339Nano)},
		{"catalog_version", gen.CatalogVersion},
		{"digest", gen.Digest},
		{"load_stats", string(loadStats)},
		{"derive_stats", string(deriveStats)},
		{"derived_metrics", string(derivedMetrics)},
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO manifest (key, value) VALUES (?, ?)`, e[0], e[1]); err != nil {
			return eris.Wrapf(err, "sqlite: insert manifest %s", e[0])
		}
	}
	return nil
}

func writeInstitutions(ctx context.Context, tx *sql.Tx, reg *model.Registry) error {
	if reg == nil {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO institutions (code, name, segment, control, region, type) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare institutions")
	}
	defer stmt.Close() //nolint:errcheck

	for _, inst := range reg.All() {
		if _, err := stmt.ExecContext(ctx, string(inst.Code), inst.Name, inst.Segment, inst.Control, inst.Region, inst.Type); err != nil {
			return eris.Wrapf(err, "sqlite: insert institution %s", inst.Code)
		}
	}
	return nil
}

func wideTableName(report model.ReportID) string {
	return "wide_" + string(report)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func writeWide(ctx context.Context, tx *sql.Tx, t *pivot.Table) error {
	report := t.Report()
	for i, m := range t.Schema.Metrics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schemas (report, position, metric) VALUES (?, ?, ?)`,
			string(report), i, string(m)); err != nil {
			return eris.Wrapf(err, "sqlite: insert schema %s", report)
		}
	}

	cols := make([]string, 0, len(t.Schema.Metrics)+2)
	cols = append(cols, quoteIdent(colInstitution)+" TEXT NOT NULL", quoteIdent(colPeriod)+" TEXT NOT NULL")
	for _, m := range t.Schema.Metrics {
		cols = append(cols, quoteIdent(string(m))+" TEXT")
	}
	table := quoteIdent(wideTableName(report))
	ddl := fmt.Sprintf("CREATE TABLE %s (%s, PRIMARY KEY (%s, %s))",
		table, strings.Join(cols, ", "), quoteIdent(colInstitution), quoteIdent(colPeriod))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return eris.Wrapf(err, "sqlite: create %s", table)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.Schema.Metrics)+2), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, placeholders))
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare %s", table)
	}
	defer stmt.Close() //nolint:errcheck

	args := make([]any, len(t.Schema.Metrics)+2)
	for _, r := range t.Rows {
		args[0] = string(r.Key.Institution)
		args[1] = r.Key.Period.String()
		for i, v := range r.Values {
			args[i+2] = v.Nullable()
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s row %s/%s", table, r.Key.Institution, r.Key.Period)
		}
	}
	return nil
}

func writeDerived(ctx context.Context, tx *sql.Tx, t *derive.Table) error {
	if t == nil {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO derived_cells (institution, period, metric, value, inputs, partial) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare derived cells")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range t.Rows {
		for i, c := range r.Cells {
			if _, err := stmt.ExecContext(ctx,
				string(r.Key.Institution), r.Key.Period.String(), string(t.Metrics[i]),
				c.Value.Nullable(), joinPeriods(c.Inputs), boolInt(c.Partial),
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert derived %s/%s", r.Key.Institution, r.Key.Period)
			}
		}
	}
	return nil
}

func writeMarket(ctx context.Context, tx *sql.Tx, m *derive.Market) error {
	if m == nil {
		return nil
	}
	aggStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO market_aggregates (metric, period, total, count, hhi, cr4, cr10) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare market aggregates")
	}
	defer aggStmt.Close() //nolint:errcheck

	shareStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO market_shares (metric, period, institution, value, share, rank) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare market shares")
	}
	defer shareStmt.Close() //nolint:errcheck

	for _, a := range m.Aggregates {
		metric, period := a.Metric.String(), a.Period.String()
		if _, err := aggStmt.ExecContext(ctx, metric, period,
			a.Total.Nullable(), a.Count, a.HHI.Nullable(), a.CR4.Nullable(), a.CR10.Nullable()); err != nil {
			return eris.Wrapf(err, "sqlite: insert market %s/%s", metric, period)
		}
		for _, sh := range a.Shares {
			if _, err := shareStmt.ExecContext(ctx, metric, period, string(sh.Institution),
				sh.Value.Nullable(), sh.Share.Nullable(), sh.Rank); err != nil {
				return eris.Wrapf(err, "sqlite: insert share %s/%s/%s", metric, period, sh.Institution)
			}
		}
	}
	return nil
}

// open opens the committed generation for reading.
func (s *SQLiteStore) open() (*sql.DB, error) {
	if _, err := os.Stat(s.Path()); err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrNoGeneration, "%s", s.Path())
		}
		return nil, eris.Wrap(err, "sqlite: stat current generation")
	}
	return openSQLite(s.Path())
}

// Manifest is the summary of a committed generation.
type Manifest struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	CatalogVersion string    `json:"catalog_version"`
	Digest         string    `json:"digest"`
}

// Manifest reads the summary of the committed generation.
func (s *SQLiteStore) Manifest(ctx context.Context) (*Manifest, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck

	kv, err := readManifest(ctx, db)
	if err != nil {
		return nil, err
	}
	return manifestFrom(kv)
}

func readManifest(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM manifest`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read manifest")
	}
	defer rows.Close() //nolint:errcheck

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan manifest")
		}
		kv[k] = v
	}
	return kv, eris.Wrap(rows.Err(), "sqlite: read manifest iterate")
}

func manifestFrom(kv map[string]string) (*Manifest, error) {
	created, err := time.Parse(time.RFC3339Nano, kv["created_at"])
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse manifest created_at")
	}
	return &Manifest{
		ID:             kv["id"],
		CreatedAt:      created,
		CatalogVersion: kv["catalog_version"],
		Digest:         kv["digest"],
	}, nil
}

// LoadSchemas returns the per-report column sets of the committed generation.
// It returns an empty map when nothing has been committed yet.
func (s *SQLiteStore) LoadSchemas(ctx context.Context) (map[model.ReportID]*model.ReportSchema, error) {
	db, err := s.open()
	if eris.Is(err, ErrNoGeneration) {
		return map[model.ReportID]*model.ReportSchema{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck
	return readSchemas(ctx, db)
}

func readSchemas(ctx context.Context, db *sql.DB) (map[model.ReportID]*model.ReportSchema, error) {
	rows, err := db.QueryContext(ctx, `SELECT report, metric FROM schemas ORDER BY report, position`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read schemas")
	}
	defer rows.Close() //nolint:errcheck

	metrics := make(map[model.ReportID][]model.MetricID)
	for rows.Next() {
		var report, metric string
		if err := rows.Scan(&report, &metric); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan schema")
		}
		metrics[model.ReportID(report)] = append(metrics[model.ReportID(report)], model.MetricID(metric))
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: read schemas iterate")
	}

	out := make(map[model.ReportID]*model.ReportSchema, len(metrics))
	for r, ms := range metrics {
		out[r] = model.NewReportSchema(r, ms)
	}
	return out, nil
}

// Load re-hydrates the committed generation.
func (s *SQLiteStore) Load(ctx context.Context) (*Generation, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck

	kv, err := readManifest(ctx, db)
	if err != nil {
		return nil, err
	}
	man, err := manifestFrom(kv)
	if err != nil {
		return nil, err
	}
	gen := &Generation{
		ID:             man.ID,
		CreatedAt:      man.CreatedAt,
		CatalogVersion: man.CatalogVersion,
		Digest:         man.Digest,
	}
	if err := json.Unmarshal([]byte(kv["load_stats"]), &gen.LoadStats); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal load stats")
	}
	if err := json.Unmarshal([]byte(kv["derive_stats"]), &gen.DeriveStats); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal derive stats")
	}
	var derivedMetrics []model.MetricID
	if err := json.Unmarshal([]byte(kv["derived_metrics"]), &derivedMetrics); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal derived metrics")
	}

	if gen.Registry, err = readInstitutions(ctx, db); err != nil {
		return nil, err
	}
	schemas, err := readSchemas(ctx, db)
	if err != nil {
		return nil, err
	}
	reports := make([]model.ReportID, 0, len(schemas))
	for r := range schemas {
		reports = append(reports, r)
	}
	sortReports(reports)
	for _, r := range reports {
		t, err := readWide(ctx, db, schemas[r])
		if err != nil {
			return nil, err
		}
		gen.Tables = append(gen.Tables, t)
	}
	if gen.Derived, err = readDerived(ctx, db, derivedMetrics); err != nil {
		return nil, err
	}
	if gen.Market, err = readMarket(ctx, db); err != nil {
		return nil, err
	}

	s.log.Debug("generation loaded", zap.String("generation", gen.ID), zap.Int("reports", len(gen.Tables)))
	return gen, nil
}

func readInstitutions(ctx context.Context, db *sql.DB) (*model.Registry, error) {
	rows, err := db.QueryContext(ctx, `SELECT code, name, segment, control, region, type FROM institutions ORDER BY code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read institutions")
	}
	defer rows.Close() //nolint:errcheck

	reg := model.NewRegistry()
	for rows.Next() {
		var inst model.Institution
		var code string
		if err := rows.Scan(&code, &inst.Name, &inst.Segment, &inst.Control, &inst.Region, &inst.Type); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan institution")
		}
		inst.Code = model.InstitutionCode(code)
		reg.Put(inst)
	}
	return reg, eris.Wrap(rows.Err(), "sqlite: read institutions iterate")
}

func readWide(ctx context.Context, db *sql.DB, schema *model.ReportSchema) (*pivot.Table, error) {
	table := quoteIdent(wideTableName(schema.Report))
	cols := make([]string, 0, schema.Len()+2)
	cols = append(cols, quoteIdent(colInstitution), quoteIdent(colPeriod))
	for _, m := range schema.Metrics {
		cols = append(cols, quoteIdent(string(m)))
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read %s", table)
	}
	defer rows.Close() //nolint:errcheck

	var out []pivot.Row
	for rows.Next() {
		var inst, period string
		raw := make([]sql.NullString, schema.Len())
		dest := make([]any, 0, schema.Len()+2)
		dest = append(dest, &inst, &period)
		for i := range raw {
			dest = append(dest, &raw[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", table)
		}
		key, err := parseKey(inst, period)
		if err != nil {
			return nil, err
		}
		values := make([]model.Value, len(raw))
		for i, ns := range raw {
			if values[i], err = parseNullable(ns); err != nil {
				return nil, eris.Wrapf(err, "sqlite: %s %s", table, schema.Metrics[i])
			}
		}
		out = append(out, pivot.Row{Key: key, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: read %s iterate", table)
	}
	return pivot.NewTable(schema, out), nil
}

func readDerived(ctx context.Context, db *sql.DB, metrics []model.MetricID) (*derive.Table, error) {
	col := make(map[model.MetricID]int, len(metrics))
	for i, m := range metrics {
		col[m] = i
	}

	rows, err := db.QueryContext(ctx,
		`SELECT institution, period, metric, value, inputs, partial FROM derived_cells`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read derived cells")
	}
	defer rows.Close() //nolint:errcheck

	byKey := make(map[model.Key][]derive.Cell)
	for rows.Next() {
		var (
			inst, period, metric, inputs string
			value                        sql.NullString
			partial                      bool
		)
		if err := rows.Scan(&inst, &period, &metric, &value, &inputs, &partial); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan derived cell")
		}
		key, err := parseKey(inst, period)
		if err != nil {
			return nil, err
		}
		i, ok := col[model.MetricID(metric)]
		if !ok {
			return nil, eris.Wrapf(model.ErrUnknownMetric, "sqlite: derived cell %s", metric)
		}
		cells, ok := byKey[key]
		if !ok {
			cells = make([]derive.Cell, len(metrics))
			for j := range cells {
				cells[j].Value = model.Missing
			}
			byKey[key] = cells
		}
		v, err := parseNullable(value)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: derived %s", metric)
		}
		in, err := splitPeriods(inputs)
		if err != nil {
			return nil, err
		}
		cells[i] = derive.Cell{Value: v, Inputs: in, Partial: partial}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: read derived cells iterate")
	}

	out := make([]derive.Row, 0, len(byKey))
	for k, cells := range byKey {
		out = append(out, derive.Row{Key: k, Cells: cells})
	}
	return derive.NewTable(metrics, out), nil
}

func readMarket(ctx context.Context, db *sql.DB) (*derive.Market, error) {
	rows, err := db.QueryContext(ctx, `SELECT metric, period, total, count, hhi, cr4, cr10 FROM market_aggregates`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read market aggregates")
	}

	type aggKey struct{ metric, period string }
	index := make(map[aggKey]int)
	var aggs []derive.Aggregate
	for rows.Next() {
		var (
			metric, period        string
			total, hhi, cr4, cr10 sql.NullString
			a                     derive.Aggregate
		)
		if err := rows.Scan(&metric, &period, &total, &a.Count, &hhi, &cr4, &cr10); err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan market aggregate")
		}
		if a.Metric, err = model.ParseMetricRef(metric); err != nil {
			rows.Close() //nolint:errcheck
			return nil, err
		}
		if a.Period, err = normalize.ParsePeriod(period); err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: market period")
		}
		for _, f := range []struct {
			dst *model.Value
			src sql.NullString
		}{{&a.Total, total}, {&a.HHI, hhi}, {&a.CR4, cr4}, {&a.CR10, cr10}} {
			if *f.dst, err = parseNullable(f.src); err != nil {
				rows.Close() //nolint:errcheck
				return nil, eris.Wrapf(err, "sqlite: market %s/%s", metric, period)
			}
		}
		index[aggKey{metric, period}] = len(aggs)
		aggs = append(aggs, a)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: read market aggregates iterate")
	}

	// Ranked institutions first, then those without a value by code.
	srows, err := db.QueryContext(ctx, `
		SELECT metric, period, institution, value, share, rank FROM market_shares
		ORDER BY metric, period, CASE WHEN rank = 0 THEN 1 ELSE 0 END, rank, institution`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read market shares")
	}
	defer srows.Close() //nolint:errcheck

	for srows.Next() {
		var (
			metric, period, inst string
			value, share         sql.NullString
			sh                   derive.Share
		)
		if err := srows.Scan(&metric, &period, &inst, &value, &share, &sh.Rank); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan market share")
		}
		i, ok := index[aggKey{metric, period}]
		if !ok {
			return nil, eris.Errorf("sqlite: share without aggregate %s/%s", metric, period)
		}
		sh.Institution = model.InstitutionCode(inst)
		if sh.Value, err = parseNullable(value); err != nil {
			return nil, err
		}
		if sh.Share, err = parseNullable(share); err != nil {
			return nil, err
		}
		aggs[i].Shares = append(aggs[i].Shares, sh)
	}
	if err := srows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: read market shares iterate")
	}
	for i := range aggs {
		if aggs[i].Shares == nil {
			aggs[i].Shares = []derive.Share{}
		}
	}
	return derive.NewMarket(aggs), nil
}

func parseKey(inst, period string) (model.Key, error) {
	p, err := normalize.ParsePeriod(period)
	if err != nil {
		return model.Key{}, eris.Wrapf(err, "sqlite: row %s", inst)
	}
	return model.Key{Institution: model.InstitutionCode(inst), Period: p}, nil
}

func parseNullable(ns sql.NullString) (model.Value, error) {
	if !ns.Valid {
		return model.Missing, nil
	}
	return model.ParseNullable(&ns.String)
}

func splitPeriods(s string) ([]model.Period, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]model.Period, len(parts))
	for i, part := range parts {
		p, err := normalize.ParsePeriod(part)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: derived inputs")
		}
		out[i] = p
	}
	return out, nil
}

func sortReports(rs []model.ReportID) {
	sort.Slice(rs, func(i, j int) bool { return rs[i] < rs[j] })
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

