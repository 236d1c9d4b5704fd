// Package etl runs the quarterly pipeline end to end and publishes committed
// generations to Postgres.
package etl

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bancoinsights/bacen-etl/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Schema is the default Postgres schema for published tables and the run log.
const Schema = "bacen"

// schemaPlaceholder is replaced with the target schema in migration files.
const schemaPlaceholder = "{{schema}}"

var schemaNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidSchema reports whether name can be used unquoted as a Postgres schema.
func ValidSchema(name string) error {
	if !schemaNameRe.MatchString(name) {
		return eris.Errorf("etl: invalid schema name %q", name)
	}
	return nil
}

func schemaOrDefault(name string) string {
	if name == "" {
		return Schema
	}
	return name
}

const migrationLockKey = 20240331

// Migrate runs all pending SQL migrations in lexicographic order against
// schema (default "bacen"). It creates the schema and its schema_migrations
// tracking table if needed, then applies any .sql files not yet recorded.
func Migrate(ctx context.Context, pool db.Pool, schema string) error {
	schema = schemaOrDefault(schema)
	if err := ValidSchema(schema); err != nil {
		return err
	}
	log := zap.L().With(zap.String("component", "etl.migrate"), zap.String("schema", schema))

	// Serializes concurrent migration runs.
	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return eris.Wrap(err, "etl: acquire migration advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockKey); err != nil {
			log.Warn("etl: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if err := ensureMigrationTable(ctx, pool, schema); err != nil {
		return err
	}

	names, err := migrationNames()
	if err != nil {
		return err
	}

	applied, err := appliedMigrations(ctx, pool, schema)
	if err != nil {
		return err
	}

	for _, name := range names {
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "etl: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))

		if _, err := pool.Exec(ctx, renderMigration(data, schema)); err != nil {
			return eris.Wrapf(err, "etl: apply migration %s", name)
		}

		if _, err := pool.Exec(ctx,
			fmt.Sprintf("INSERT INTO %s.schema_migrations (filename, applied_at) VALUES ($1, now())", schema),
			name,
		); err != nil {
			return eris.Wrapf(err, "etl: record migration %s", name)
		}

		log.Info("migration applied", zap.String("file", name))
	}

	return nil
}

// migrationNames returns the embedded migration files sorted by name.
func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "etl: read migration dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// renderMigration substitutes the target schema into a migration file.
func renderMigration(data []byte, schema string) string {
	return strings.ReplaceAll(string(data), schemaPlaceholder, schema)
}

func ensureMigrationTable(ctx context.Context, pool db.Pool, schema string) error {
	sql := fmt.Sprintf(`
		CREATE SCHEMA IF NOT EXISTS %[1]s;
		CREATE TABLE IF NOT EXISTS %[1]s.schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, schema)
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "etl: ensure migration table")
	}
	return nil
}

func appliedMigrations(ctx context.Context, pool db.Pool, schema string) (map[string]bool, error) {
	rows, err := pool.Query(ctx, fmt.Sprintf("SELECT filename FROM %s.schema_migrations", schema))
	if err != nil {
		return nil, eris.Wrap(err, "etl: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "etl: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
