// Package legacy reads the read-only legacy accounting database. It answers
// two questions only: which document belongs to a legacy company code, and
// what the next batch of domain rows is.
package legacy

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	// Drivers selectable through legacy.driver.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/gestk/legacy-etl/internal/resilience"
)

// Source is the legacy database as seen by the resolver and the pipeline.
type Source interface {
	// LookupDocument returns the raw document registered for a legacy
	// company code. found is false when the code is unknown or has no document.
	LookupDocument(ctx context.Context, ref string) (doc string, found bool, err error)
	// Stream runs q and hands rows to fn in batches of batchSize. A positive
	// limit caps the number of rows read. fn errors stop the stream.
	Stream(ctx context.Context, q Query, batchSize, limit int, fn func([]Row) error) error
	Close() error
}

// Query is a parameterized extraction query using ? placeholders.
type Query struct {
	SQL  string
	Args []any
}

// Options configures a SQLSource.
type Options struct {
	Driver           string // "sqlite" or "pgx"
	DSN              string
	LookupQuery      string // one ? placeholder; returns a single document column
	MaxQPS           int    // lookups per second; 0 = unlimited
	ConnectAttempts  int
	BreakerThreshold int
	BreakerResetSecs int
}

// SQLSource implements Source over database/sql via sqlx.
type SQLSource struct {
	db        *sqlx.DB
	driver    string
	lookupSQL string
	limiter   *rate.Limiter
	breaker   *resilience.Breaker
}

// Open connects to the legacy database, retrying transient connection errors.
// The caller owns the returned source and must Close it.
func Open(ctx context.Context, opts Options) (*SQLSource, error) {
	if opts.DSN == "" {
		return nil, eris.New("legacy: open: empty dsn")
	}
	retry := resilience.FromConnectAttempts(opts.ConnectAttempts, "legacy")
	db, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*sqlx.DB, error) {
		return sqlx.ConnectContext(ctx, opts.Driver, opts.DSN)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "legacy: connect %s", opts.Driver)
	}
	zap.L().Info("legacy source connected", zap.String("driver", opts.Driver))
	return New(db, opts), nil
}

// New wraps an already open connection.
func New(db *sqlx.DB, opts Options) *SQLSource {
	limit := rate.Inf
	if opts.MaxQPS > 0 {
		limit = rate.Limit(opts.MaxQPS)
	}
	return &SQLSource{
		db:        db,
		driver:    db.DriverName(),
		lookupSQL: db.Rebind(opts.LookupQuery),
		limiter:   rate.NewLimiter(limit, max(opts.MaxQPS, 1)),
		breaker: resilience.NewBreaker("legacy",
			opts.BreakerThreshold, time.Duration(opts.BreakerResetSecs)*time.Second),
	}
}

// LookupDocument implements Source.
func (s *SQLSource) LookupDocument(ctx context.Context, ref string) (string, bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", false, eris.Wrap(err, "legacy: lookup: rate limit")
	}

	doc, err := resilience.Guard(ctx, s.breaker, func(ctx context.Context) (sql.NullString, error) {
		var doc sql.NullString
		err := s.db.QueryRowxContext(ctx, s.lookupSQL, ref).Scan(&doc)
		if errors.Is(err, sql.ErrNoRows) {
			return doc, nil
		}
		return doc, err
	})
	if err != nil {
		return "", false, eris.Wrapf(err, "legacy: lookup %s", ref)
	}
	if !doc.Valid || strings.TrimSpace(doc.String) == "" {
		return "", false, nil
	}
	return doc.String, true, nil
}

// Health reports the lookup breaker of the legacy connection.
func (s *SQLSource) Health() resilience.BreakerStats { return s.breaker.Stats() }

// Stream implements Source.
func (s *SQLSource) Stream(ctx context.Context, q Query, batchSize, limit int, fn func([]Row) error) error {
	if batchSize <= 0 {
		return eris.Errorf("legacy: stream: batch size must be positive, got %d", batchSize)
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(q.SQL), s.bindArgs(q.Args)...)
	if err != nil {
		return eris.Wrap(err, "legacy: stream: query")
	}
	defer rows.Close()

	batch := make([]Row, 0, batchSize)
	read := 0
	for rows.Next() {
		raw := make(map[string]any)
		if err := rows.MapScan(raw); err != nil {
			return eris.Wrap(err, "legacy: stream: scan")
		}
		batch = append(batch, normalizeRow(raw))
		read++

		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]Row, 0, batchSize)
		}
		if limit > 0 && read >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "legacy: stream: iterate")
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// Close releases the connection pool.
func (s *SQLSource) Close() error {
	if err := s.db.Close(); err != nil {
		return eris.Wrap(err, "legacy: close")
	}
	return nil
}

// bindArgs renders dates the way each driver compares them. SQLite stores
// dates as ISO text, so time values are passed as text too.
func (s *SQLSource) bindArgs(args []any) []any {
	if s.driver != "sqlite" {
		return args
	}
	out := make([]any, len(args))
	for i, a := range args {
		if t, ok := a.(time.Time); ok {
			if t.Equal(t.Truncate(24 * time.Hour)) {
				out[i] = t.Format(time.DateOnly)
			} else {
				out[i] = t.Format(time.DateTime)
			}
			continue
		}
		out[i] = a
	}
	return out
}

func normalizeRow(raw map[string]any) Row {
	row := make(Row, len(raw))
	for k, v := range raw {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		row[strings.ToLower(k)] = v
	}
	return row
}
