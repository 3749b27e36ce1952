package etl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLog_Start(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	mock.ExpectQuery("INSERT INTO etl.job_runs").
		WithArgs(runID, "tenants", true).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := NewRunLog(mock).Start(context.Background(), runID, "tenants", true)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_Complete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE etl.job_runs").
		WithArgs(StatusSucceeded, pgxmock.AnyArg(), []byte(`{"created":3}`), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = NewRunLog(mock).Complete(context.Background(), 7, map[string]int{"created": 3})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_Fail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE etl.job_runs").
		WithArgs(StatusFailed, pgxmock.AnyArg(), pgxmock.AnyArg(), int64(9)).
		WillReturnError(errors.New("conn closed"))

	err = NewRunLog(mock).Fail(context.Background(), 9, "boom", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runlog: mark 9 failed")
}

func TestRunLog_Skip(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	mock.ExpectExec("INSERT INTO etl.job_runs").
		WithArgs(runID, "payroll_events", false, "dependency employees failed").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewRunLog(mock).Skip(context.Background(), runID, "payroll_events", "dependency employees failed", false)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	done := started.Add(90 * time.Second)
	msg := "pipeline: invoices: legacy: lookup 12: i/o timeout"

	cols := []string{"id", "run_id", "job", "status", "dry_run", "started_at", "completed_at", "error", "report"}
	mock.ExpectQuery("SELECT id, run_id, job").
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(2), runID, "invoices", StatusFailed, false, started, &done, &msg, []byte(`{"created":10}`)).
			AddRow(int64(1), runID, "tenants", StatusRunning, false, started, (*time.Time)(nil), (*string)(nil), []byte(nil)))

	entries, err := NewRunLog(mock).List(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "invoices", entries[0].Job)
	assert.Equal(t, msg, entries[0].Error)
	assert.Equal(t, 90*time.Second, entries[0].Elapsed())
	assert.InDelta(t, 10, entries[0].Report["created"], 0)
	assert.Zero(t, entries[1].Elapsed())
	assert.Empty(t, entries[1].Error)
	assert.Nil(t, entries[1].Report)
	assert.NoError(t, mock.ExpectationsWereMet())
}
