package legacy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const testLookup = "SELECT cgce_emp FROM geempre WHERE codi_emp = ?"

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "legacy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	db.MustExec(`CREATE TABLE geempre (codi_emp INTEGER PRIMARY KEY, cgce_emp TEXT)`)
	db.MustExec(`INSERT INTO geempre VALUES (501, '12.345.678/0001-99'), (502, NULL), (503, '  ')`)
	db.MustExec(`CREATE TABLE ctlancto (
		codi_emp INTEGER, nume_lan INTEGER, data_lan TEXT, vlor_lan REAL, CHIS_LAN TEXT)`)
	for i := 1; i <= 7; i++ {
		db.MustExec(`INSERT INTO ctlancto VALUES (501, ?, ?, ?, 'hist')`,
			i, time.Date(2020, 1, i, 0, 0, 0, 0, time.UTC).Format(time.DateOnly), float64(i)*10.5)
	}
	return db
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "sqlite"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty dsn")
}

func TestOpen_Sqlite(t *testing.T) {
	src, err := Open(context.Background(), Options{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "legacy.db"),
		LookupQuery: testLookup,
	})
	require.NoError(t, err)
	assert.NoError(t, src.Close())
}

func TestLookupDocument(t *testing.T) {
	src := New(newTestDB(t), Options{LookupQuery: testLookup})
	ctx := context.Background()

	doc, found, err := src.LookupDocument(ctx, "501")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "12.345.678/0001-99", doc)

	for _, ref := range []string{"502", "503", "999"} {
		_, found, err = src.LookupDocument(ctx, ref)
		require.NoError(t, err, ref)
		assert.False(t, found, ref)
	}
}

func TestLookupDocument_QueryError(t *testing.T) {
	src := New(newTestDB(t), Options{LookupQuery: "SELECT nope FROM missing WHERE x = ?"})
	_, _, err := src.LookupDocument(context.Background(), "501")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "legacy: lookup 501")

	// A broken query is not a sick database: the breaker stays closed.
	h := src.Health()
	assert.Equal(t, "legacy", h.Name)
	assert.Equal(t, "closed", h.State)
	assert.Equal(t, 0, h.Failures)
}

func TestLookupDocument_RateLimitHonorsContext(t *testing.T) {
	src := New(newTestDB(t), Options{LookupQuery: testLookup, MaxQPS: 1})
	ctx := context.Background()

	_, _, err := src.LookupDocument(ctx, "501")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, _, err = src.LookupDocument(ctx, "501")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestStream_Batches(t *testing.T) {
	src := New(newTestDB(t), Options{LookupQuery: testLookup})

	var sizes []int
	var first Row
	err := src.Stream(context.Background(), Query{SQL: "SELECT * FROM ctlancto ORDER BY nume_lan"}, 3, 0,
		func(rows []Row) error {
			if first == nil {
				first = rows[0]
			}
			sizes = append(sizes, len(rows))
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, sizes)

	n, ok := first.Int64("nume_lan")
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, "hist", first.String("chis_lan"), "column names are lower-cased")
}

func TestStream_LimitAndArgs(t *testing.T) {
	src := New(newTestDB(t), Options{LookupQuery: testLookup})

	q := Query{
		SQL:  "SELECT * FROM ctlancto WHERE data_lan >= ? AND data_lan <= ? ORDER BY nume_lan",
		Args: []any{time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2020, 1, 6, 0, 0, 0, 0, time.UTC)},
	}

	var total int
	err := src.Stream(context.Background(), q, 2, 0, func(rows []Row) error {
		total += len(rows)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	total = 0
	err = src.Stream(context.Background(), q, 2, 3, func(rows []Row) error {
		total += len(rows)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestStream_CallbackErrorStops(t *testing.T) {
	src := New(newTestDB(t), Options{LookupQuery: testLookup})

	var calls int
	err := src.Stream(context.Background(), Query{SQL: "SELECT * FROM ctlancto"}, 2, 0, func([]Row) error {
		calls++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

func TestStream_InvalidBatchSize(t *testing.T) {
	src := New(newTestDB(t), Options{LookupQuery: testLookup})
	err := src.Stream(context.Background(), Query{SQL: "SELECT 1"}, 0, 0, func([]Row) error { return nil })
	require.Error(t, err)
}

func TestBindArgs(t *testing.T) {
	src := &SQLSource{driver: "sqlite"}
	args := src.bindArgs([]any{
		time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 3, 4, 10, 30, 0, 0, time.UTC),
		"x",
	})
	assert.Equal(t, []any{"2021-03-04", "2021-03-04 10:30:00", "x"}, args)

	pg := &SQLSource{driver: "pgx"}
	ts := time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []any{ts}, pg.bindArgs([]any{ts}))
}
