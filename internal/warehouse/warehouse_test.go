package warehouse

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tena-analytics/warehouse-cli/internal/model"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}

func TestMigrate_AppliesPendingMigrations(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS ops`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM ops\.schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS raw`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO ops\.schema_migrations`).
		WithArgs("0001_init.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	err := Migrate(context.Background(), mock)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_SkipsApplied(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS ops`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM ops\.schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("0001_init.sql"))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	err := Migrate(context.Background(), mock)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_StartAndTransitions(t *testing.T) {
	mock := newMockPool(t)
	rl := NewRunLog(mock)

	mock.ExpectExec(`INSERT INTO ops\.pipeline_runs`).
		WithArgs("run-1", "channel_warehouse", "pending").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE ops\.pipeline_runs SET state`).
		WithArgs("loaded", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, rl.Start(context.Background(), "run-1", "channel_warehouse"))
	require.NoError(t, rl.SetState(context.Background(), "run-1", model.RunStateLoaded))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_Fail_RecordsStage(t *testing.T) {
	mock := newMockPool(t)
	rl := NewRunLog(mock)

	mock.ExpectExec(`UPDATE ops\.pipeline_runs`).
		WithArgs("failed(enrich)", "detector unavailable", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := rl.Fail(context.Background(), "run-1", model.StageEnrich, "detector unavailable")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_List(t *testing.T) {
	mock := newMockPool(t)
	rl := NewRunLog(mock)

	started := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	completed := started.Add(2 * time.Minute)
	errStr := "store unavailable"

	mock.ExpectQuery(`SELECT id, pipeline, state, started_at, completed_at, error, summary`).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "pipeline", "state", "started_at", "completed_at", "error", "summary"}).
			AddRow("run-2", "channel_warehouse", "complete", started, &completed, (*string)(nil), []byte(`{"run_id":"run-2"}`)).
			AddRow("run-1", "channel_warehouse", "failed(load)", started, &completed, &errStr, []byte(nil)))

	entries, err := rl.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.RunStateComplete, entries[0].State)
	assert.Equal(t, "run-2", entries[0].Summary["run_id"])
	assert.Equal(t, "store unavailable", entries[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}
