package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// StagingSuffix is appended to a table name to form its staging table.
const StagingSuffix = "__staging"

// Column describes one column of a staging table.
type Column struct {
	Name string
	Type string
}

// StagingName returns the staging table name for table.
func StagingName(table string) string {
	return table + StagingSuffix
}

// CreateStaging (re)creates schema.<table>__staging with the given columns
// and primary key and returns the staging table name.
func CreateStaging(ctx context.Context, pool Pool, schema, table string, cols []Column, primaryKey []string) (string, error) {
	if len(cols) == 0 {
		return "", eris.Errorf("db: staging %s: no columns", table)
	}
	staging := StagingName(table)
	ident := pgx.Identifier{schema, staging}.Sanitize()

	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		defs = append(defs, pgx.Identifier{c.Name}.Sanitize()+" "+c.Type)
	}
	if len(primaryKey) > 0 {
		defs = append(defs, "PRIMARY KEY ("+quoteAndJoin(primaryKey)+")")
	}

	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return "", eris.Wrapf(err, "db: drop stale staging %s.%s", schema, staging)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", ident, strings.Join(defs, ", "))
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return "", eris.Wrapf(err, "db: create staging %s.%s", schema, staging)
	}
	return staging, nil
}

// SwapTables replaces every schema.<table> with its staging table inside a
// single transaction, so readers see either all old or all new tables.
func SwapTables(ctx context.Context, pool Pool, schema string, tables []string) error {
	if len(tables) == 0 {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "db: swap: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, table := range tables {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{schema, table}.Sanitize()); err != nil {
			return eris.Wrapf(err, "db: swap: drop %s.%s", schema, table)
		}
		rename := fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
			pgx.Identifier{schema, StagingName(table)}.Sanitize(),
			pgx.Identifier{table}.Sanitize(),
		)
		if _, err := tx.Exec(ctx, rename); err != nil {
			return eris.Wrapf(err, "db: swap: rename staging %s.%s", schema, table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "db: swap: commit tx")
	}
	return nil
}
