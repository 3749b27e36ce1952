// Package target writes tenant-scoped records into the Postgres target store.
package target

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/gestk/legacy-etl/internal/db"
)

// Table describes a target table and its natural idempotency key.
type Table struct {
	Name         string
	Columns      []string
	ConflictKeys []string
}

// Record is one target row. Key is the rendered idempotency key, used to
// collapse duplicates inside a batch.
type Record struct {
	Key    string
	Values map[string]any
}

// LoadResult counts what a Load did.
type LoadResult struct {
	Created int64
	Updated int64
}

// Sink is the target store interface used by the pipeline.
type Sink interface {
	// Load upserts recs atomically: either every record is written or none is.
	Load(ctx context.Context, t Table, recs []Record) (LoadResult, error)
	// CountExisting reports how many recs already exist, without writing.
	CountExisting(ctx context.Context, t Table, recs []Record) (int64, error)
}

// PostgresSink implements Sink with one transaction per Load.
type PostgresSink struct {
	pool db.Pool
}

// NewPostgresSink creates a sink backed by pool.
func NewPostgresSink(pool db.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Load implements Sink.
func (s *PostgresSink) Load(ctx context.Context, t Table, recs []Record) (LoadResult, error) {
	if len(recs) == 0 {
		return LoadResult{}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return LoadResult{}, eris.Wrapf(err, "target: begin %s", t.Name)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	res, err := db.BulkUpsert(ctx, tx, db.UpsertConfig{
		Table:        t.Name,
		Columns:      t.Columns,
		ConflictKeys: t.ConflictKeys,
	}, Rows(t.Columns, recs))
	if err != nil {
		return LoadResult{}, eris.Wrapf(err, "target: load %s", t.Name)
	}

	if err := tx.Commit(ctx); err != nil {
		return LoadResult{}, eris.Wrapf(err, "target: commit %s", t.Name)
	}
	return LoadResult{Created: res.Inserted, Updated: res.Updated}, nil
}

// CountExisting implements Sink.
func (s *PostgresSink) CountExisting(ctx context.Context, t Table, recs []Record) (int64, error) {
	n, err := db.CountExisting(ctx, s.pool, t.Name, t.ConflictKeys, Rows(t.ConflictKeys, recs))
	if err != nil {
		return 0, eris.Wrapf(err, "target: count existing %s", t.Name)
	}
	return n, nil
}

// Rows lays out recs as COPY rows in column order, converting values into
// types pgx encodes natively. Missing columns become NULL.
func Rows(cols []string, recs []Record) [][]any {
	rows := make([][]any, len(recs))
	for i, r := range recs {
		row := make([]any, len(cols))
		for j, c := range cols {
			row[j] = pgValue(r.Values[c])
		}
		rows[i] = row
	}
	return rows
}

func pgValue(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return pgtype.Numeric{Int: x.Coefficient(), Exp: x.Exponent(), Valid: true}
	case decimal.NullDecimal:
		if !x.Valid {
			return nil
		}
		return pgValue(x.Decimal)
	case uuid.UUID:
		return pgtype.UUID{Bytes: x, Valid: true}
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	default:
		return v
	}
}
