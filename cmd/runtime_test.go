package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestk/legacy-etl/internal/etl"
	"github.com/gestk/legacy-etl/internal/ownership"
	"github.com/gestk/legacy-etl/internal/resilience"
)

func TestPrepareSchema_DryRunNeverMigrates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Fresh store: a dry run must report the pending migrations and stop,
	// issuing no DDL and no advisory lock.
	mock.ExpectQuery("SELECT to_regclass").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	err = prepareSchema(context.Background(), mock, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, etl.ErrPendingMigrations)
	assert.Contains(t, err.Error(), "001_directory.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPrepareSchema_LoadMigrates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	names, err := etl.MigrationNames()
	require.NoError(t, err)
	applied := pgxmock.NewRows([]string{"filename"})
	for _, n := range names {
		applied.AddRow(n)
	}

	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS etl").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM etl.schema_migrations").WillReturnRows(applied)
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, prepareSchema(context.Background(), mock, false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRuntime_RunLoggerSkipsDryRuns(t *testing.T) {
	rt := &runtime{runLog: etl.NewRunLog(nil)}

	assert.Nil(t, rt.runLogger(true))
	assert.NotNil(t, rt.runLogger(false))
	assert.Nil(t, (&runtime{}).runLogger(false))
}

func TestPrintRunStats(t *testing.T) {
	var buf bytes.Buffer
	printRunStats(&buf,
		ownership.Stats{Resolved: 9, NoTenant: 1, MapHits: 9, MapMisses: 1},
		resilience.BreakerStats{Name: "legacy", State: "open", Trips: 2, Rejected: 14},
	)

	out := buf.String()
	assert.Contains(t, out, "Resolver: 9 resolved, 0 no document, 1 no tenant, cache hit rate 90.0%")
	assert.Contains(t, out, "Legacy source: breaker open, 2 trips, 14 rejected lookups")
}
