package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table        string   // target table (e.g., "etl.ledger_entries")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

// UpsertResult splits affected rows into inserts and updates.
type UpsertResult struct {
	Inserted int64
	Updated  int64
}

// Validate checks the config before any SQL is issued.
func (cfg UpsertConfig) Validate() error {
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	cols := make(map[string]bool, len(cfg.Columns))
	for _, c := range cfg.Columns {
		cols[c] = true
	}
	for _, k := range cfg.ConflictKeys {
		if !cols[k] {
			return eris.Errorf("db: upsert: conflict key %q is not a column of %s", k, cfg.Table)
		}
	}
	return nil
}

func (cfg UpsertConfig) updateCols() []string {
	if cfg.UpdateCols != nil {
		return cfg.UpdateCols
	}
	conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		conflictSet[k] = true
	}
	var out []string
	for _, c := range cfg.Columns {
		if !conflictSet[c] {
			out = append(out, c)
		}
	}
	return out
}

// BulkUpsert upserts rows inside the caller's transaction:
//  1. Creates a temp table shaped like the target (dropped at commit)
//  2. COPY rows into the temp table
//  3. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO UPDATE SET ...
//     RETURNING whether each row was inserted or updated
//
// Rows must be unique on the conflict keys; Postgres rejects a statement that
// touches the same row twice. Commit and rollback belong to the caller.
func BulkUpsert(ctx context.Context, tx Tx, cfg UpsertConfig, rows [][]any) (UpsertResult, error) {
	if len(rows) == 0 {
		return UpsertResult{}, nil
	}
	if err := cfg.Validate(); err != nil {
		return UpsertResult{}, err
	}

	tempTable := TempTableName(cfg.Table)

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return UpsertResult{}, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return UpsertResult{}, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	rs, err := tx.Query(ctx, upsertSQL(cfg, tempTable))
	if err != nil {
		return UpsertResult{}, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	defer rs.Close()

	var res UpsertResult
	for rs.Next() {
		var inserted bool
		if err := rs.Scan(&inserted); err != nil {
			return UpsertResult{}, eris.Wrapf(err, "db: upsert: scan result for %s", cfg.Table)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	if err := rs.Err(); err != nil {
		return UpsertResult{}, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	return res, nil
}

// upsertSQL builds the INSERT ... ON CONFLICT statement. xmax is zero only for
// freshly inserted tuples, which is how inserts are told apart from updates.
func upsertSQL(cfg UpsertConfig, tempTable string) string {
	colList := quoteAndJoin(cfg.Columns)

	action := "DO NOTHING"
	if cols := cfg.updateCols(); len(cols) > 0 {
		setClauses := make([]string, len(cols))
		for i, col := range cols {
			id := pgx.Identifier{col}.Sanitize()
			setClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", id, id)
		}
		action = "DO UPDATE SET " + strings.Join(setClauses, ", ")
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s RETURNING (xmax = 0) AS inserted",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
		action,
	)
}

// TempTableName is the per-table staging table name used inside a transaction.
func TempTableName(table string) string {
	return fmt.Sprintf("_tmp_upsert_%s", strings.ReplaceAll(table, ".", "_"))
}

// sanitizeTable handles schema-qualified table names like "etl.ledger_entries".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
