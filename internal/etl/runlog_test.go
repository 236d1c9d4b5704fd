package etl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLog_LastSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	when := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT started_at FROM bacen.etl_runs").
		WillReturnRows(pgxmock.NewRows([]string{"started_at"}).AddRow(when))

	got, err := NewRunLog(mock, "").LastSuccess(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, when.Equal(*got))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_LastSuccess_Never(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT started_at FROM bacen.etl_runs").
		WillReturnRows(pgxmock.NewRows([]string{"started_at"}))

	got, err := NewRunLog(mock, "").LastSuccess(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_LastSuccess_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT started_at").WillReturnError(fmt.Errorf("connection reset"))

	_, err = NewRunLog(mock, "").LastSuccess(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last success")
}

func TestRunLog_StartCompleteFail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	ctx := context.Background()
	rl := NewRunLog(mock, "")

	mock.ExpectQuery("INSERT INTO bacen.etl_runs").WithArgs("2024.1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("UPDATE bacen.etl_runs\\s+SET status = 'complete'").
		WithArgs(int64(120), int64(3), "gen-1", "abc", pgxmock.AnyArg(), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE bacen.etl_runs\\s+SET status = 'failed'").
		WithArgs("boom", int64(8)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	id, err := rl.Start(ctx, "2024.1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	require.NoError(t, rl.Complete(ctx, id, &RunResult{
		RowsLoaded: 120, RowsSkipped: 3, GenerationID: "gen-1", Digest: "abc",
		Metadata: map[string]any{"reports": 2},
	}))
	require.NoError(t, rl.Fail(ctx, 8, "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_CustomSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	ctx := context.Background()
	rl := NewRunLog(mock, "ledger")

	mock.ExpectQuery("SELECT started_at FROM ledger.etl_runs").
		WillReturnRows(pgxmock.NewRows([]string{"started_at"}))
	mock.ExpectQuery("INSERT INTO ledger.etl_runs").WithArgs("v1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec("UPDATE ledger.etl_runs\\s+SET status = 'failed'").
		WithArgs("boom", int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	last, err := rl.LastSuccess(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)
	id, err := rl.Start(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, rl.Fail(ctx, id, "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_CompleteNilResult(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE bacen.etl_runs").
		WithArgs(int64(0), int64(0), "", "", pgxmock.AnyArg(), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewRunLog(mock, "").Complete(context.Background(), 1, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_StartError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO bacen.etl_runs").WillReturnError(fmt.Errorf("relation does not exist"))

	_, err = NewRunLog(mock, "").Start(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start run")
}

func TestRunLog_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	started := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(5 * time.Minute)
	gen, digest, msg := "gen-1", "abc", "drift"

	cols := []string{"id", "catalog_version", "status", "started_at", "completed_at",
		"rows_loaded", "rows_skipped", "generation_id", "digest", "error", "metadata"}
	rows := pgxmock.NewRows(cols).
		AddRow(int64(2), "2024.1", "failed", started.Add(time.Hour), &completed, int64(0), int64(0), nil, nil, &msg, nil).
		AddRow(int64(1), "2024.1", "complete", started, &completed, int64(100), int64(2), &gen, &digest, nil, []byte(`{"reports":2}`))
	mock.ExpectQuery("SELECT id, catalog_version").WithArgs(10).WillReturnRows(rows)

	entries, err := NewRunLog(mock, "").List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, RunFailed, entries[0].Status)
	assert.Equal(t, "drift", entries[0].Error)
	assert.Empty(t, entries[0].GenerationID)
	assert.Nil(t, entries[0].Metadata)

	assert.Equal(t, RunComplete, entries[1].Status)
	assert.Equal(t, "gen-1", entries[1].GenerationID)
	assert.Equal(t, "abc", entries[1].Digest)
	require.NotNil(t, entries[1].CompletedAt)
	assert.True(t, completed.Equal(*entries[1].CompletedAt))
	assert.EqualValues(t, 2, entries[1].Metadata["reports"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_ListQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id, catalog_version").WillReturnError(fmt.Errorf("timeout"))

	_, err = NewRunLog(mock, "").List(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runlog: list")
}
