package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/bancoinsights/bacen-etl/internal/db"
)

// RunStatus is the state of an ETL run.
type RunStatus string

// Run statuses.
const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// RunEntry represents a row in <schema>.etl_runs.
type RunEntry struct {
	ID             int64          `json:"id"`
	CatalogVersion string         `json:"catalog_version"`
	Status         RunStatus      `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	RowsLoaded     int64          `json:"rows_loaded"`
	RowsSkipped    int64          `json:"rows_skipped"`
	GenerationID   string         `json:"generation_id,omitempty"`
	Digest         string         `json:"digest,omitempty"`
	Error          string         `json:"error,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// RunResult holds the outcome of a run, passed to Complete.
type RunResult struct {
	RowsLoaded   int64          `json:"rows_loaded"`
	RowsSkipped  int64          `json:"rows_skipped"`
	GenerationID string         `json:"generation_id"`
	Digest       string         `json:"digest"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RunLog provides read/write access to the <schema>.etl_runs table.
type RunLog struct {
	pool  db.Pool
	table string
}

// NewRunLog creates a RunLog backed by the given connection pool, writing to
// schema (default "bacen").
func NewRunLog(pool db.Pool, schema string) *RunLog {
	return &RunLog{pool: pool, table: schemaOrDefault(schema) + ".etl_runs"}
}

// LastSuccess returns the started_at time of the most recent complete run,
// or nil if no run has completed yet.
func (r *RunLog) LastSuccess(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT started_at FROM %s
		 WHERE status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`, r.table),
	).Scan(&t)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "runlog: last success")
	}
	return &t, nil
}

// Start records the beginning of a run and returns its ID.
func (r *RunLog) Start(ctx context.Context, catalogVersion string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (catalog_version, status, started_at)
		 VALUES ($1, 'running', now()) RETURNING id`, r.table),
		catalogVersion,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "runlog: start run")
	}
	return id, nil
}

// Complete marks a run as successfully completed.
func (r *RunLog) Complete(ctx context.Context, runID int64, result *RunResult) error {
	if result == nil {
		result = &RunResult{}
	}
	var metaJSON []byte
	if result.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(result.Metadata)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
	}

	_, err := r.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s
		 SET status = 'complete', completed_at = now(), rows_loaded = $1, rows_skipped = $2,
		     generation_id = $3, digest = $4, metadata = $5
		 WHERE id = $6`, r.table),
		result.RowsLoaded, result.RowsSkipped, result.GenerationID, result.Digest, metaJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %d", runID)
	}
	return nil
}

// Fail marks a run as failed with an error message.
func (r *RunLog) Fail(ctx context.Context, runID int64, errMsg string) error {
	_, err := r.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`, r.table),
		errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %d", runID)
	}
	return nil
}

// List returns the most recent runs first. limit <= 0 returns every run.
func (r *RunLog) List(ctx context.Context, limit int) ([]RunEntry, error) {
	sql := fmt.Sprintf(`SELECT id, catalog_version, status, started_at, completed_at, rows_loaded, rows_skipped,
		        generation_id, digest, error, metadata
		 FROM %s ORDER BY started_at DESC`, r.table)
	var args []any
	if limit > 0 {
		sql += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var (
			e                     RunEntry
			status                string
			completedAt           *time.Time
			genID, digest, errStr *string
			metaJSON              []byte
		)
		if err := rows.Scan(&e.ID, &e.CatalogVersion, &status, &e.StartedAt, &completedAt,
			&e.RowsLoaded, &e.RowsSkipped, &genID, &digest, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		e.Status = RunStatus(status)
		e.CompletedAt = completedAt
		e.GenerationID = deref(genID)
		e.Digest = deref(digest)
		e.Error = deref(errStr)
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
