package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CountExisting reports how many of the given key tuples already exist in
// table. Keys are staged with COPY into a temp table and joined against the
// target, so large batches cost one round trip. The transaction is rolled
// back: nothing is written.
func CountExisting(ctx context.Context, pool Pool, table string, keyCols []string, keys [][]any) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	if len(keyCols) == 0 {
		return 0, eris.New("db: count existing: no key columns specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: count existing: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stage := fmt.Sprintf("_tmp_keys_%s", strings.ReplaceAll(table, ".", "_"))
	colDefs := make([]string, len(keyCols))
	for i, c := range keyCols {
		colDefs[i] = pgx.Identifier{c}.Sanitize()
	}
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s AS SELECT %s FROM %s WITH NO DATA",
		pgx.Identifier{stage}.Sanitize(),
		strings.Join(colDefs, ", "),
		sanitizeTable(table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: count existing: stage keys for %s", table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{stage}, keyCols, pgx.CopyFromRows(keys)); err != nil {
		return 0, eris.Wrapf(err, "db: count existing: COPY keys for %s", table)
	}

	joins := make([]string, len(keyCols))
	for i, c := range keyCols {
		id := pgx.Identifier{c}.Sanitize()
		joins[i] = fmt.Sprintf("t.%s = k.%s", id, id)
	}
	countSQL := fmt.Sprintf(
		"SELECT count(DISTINCT (%s)) FROM %s k JOIN %s t ON %s",
		prefixed("k", keyCols),
		pgx.Identifier{stage}.Sanitize(),
		sanitizeTable(table),
		strings.Join(joins, " AND "),
	)

	var n int64
	if err := tx.QueryRow(ctx, countSQL).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "db: count existing: query %s", table)
	}
	return n, nil
}

func prefixed(alias string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(out, ", ")
}
