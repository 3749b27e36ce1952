package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountExisting_NoKeys(t *testing.T) {
	n, err := CountExisting(context.Background(), nil, "etl.invoices", []string{"id"}, nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestCountExisting_NoKeyColumns(t *testing.T) {
	_, err := CountExisting(context.Background(), nil, "etl.invoices", nil, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no key columns")
}

func TestCountExisting_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"tenant_id", "legacy_id"}
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("SELECT", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_keys_etl_invoices"}, cols).WillReturnResult(3)
	mock.ExpectQuery("SELECT count").WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectRollback()

	n, err := CountExisting(context.Background(), mock, "etl.invoices", cols,
		[][]any{{"t", "1"}, {"t", "2"}, {"t", "3"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountExisting_BeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("pool closed"))

	_, err = CountExisting(context.Background(), mock, "etl.invoices", []string{"id"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}
