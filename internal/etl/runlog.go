package etl

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/gestk/legacy-etl/internal/db"
)

// Job run statuses as stored in etl.job_runs.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// RunEntry is one row of etl.job_runs.
type RunEntry struct {
	ID          int64          `json:"id"`
	RunID       uuid.UUID      `json:"run_id"`
	Job         string         `json:"job"`
	Status      string         `json:"status"`
	DryRun      bool           `json:"dry_run"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Report      map[string]any `json:"report,omitempty"`
}

// Elapsed returns the run duration, or 0 while running.
func (e RunEntry) Elapsed() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// RunLog records job attempts in etl.job_runs.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a RunLog backed by pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Start records a running job attempt and returns its row ID.
func (l *RunLog) Start(ctx context.Context, runID uuid.UUID, job string, dryRun bool) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO etl.job_runs (run_id, job, status, dry_run, started_at)
		 VALUES ($1, $2, 'running', $3, now()) RETURNING id`,
		runID, job, dryRun,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start %s", job)
	}
	return id, nil
}

// Complete marks an attempt succeeded and stores its report.
func (l *RunLog) Complete(ctx context.Context, id int64, report any) error {
	return l.finish(ctx, id, StatusSucceeded, "", report)
}

// Fail marks an attempt failed.
func (l *RunLog) Fail(ctx context.Context, id int64, errMsg string, report any) error {
	return l.finish(ctx, id, StatusFailed, errMsg, report)
}

func (l *RunLog) finish(ctx context.Context, id int64, status, errMsg string, report any) error {
	reportJSON, err := marshalReport(report)
	if err != nil {
		return err
	}
	var errVal *string
	if errMsg != "" {
		errVal = &errMsg
	}
	if _, err := l.pool.Exec(ctx,
		`UPDATE etl.job_runs
		 SET status = $1, completed_at = now(), error = $2, report = $3
		 WHERE id = $4`,
		status, errVal, reportJSON, id,
	); err != nil {
		return eris.Wrapf(err, "runlog: mark %d %s", id, status)
	}
	return nil
}

// Skip records a job that never started.
func (l *RunLog) Skip(ctx context.Context, runID uuid.UUID, job, reason string, dryRun bool) error {
	if _, err := l.pool.Exec(ctx,
		`INSERT INTO etl.job_runs (run_id, job, status, dry_run, started_at, completed_at, error)
		 VALUES ($1, $2, 'skipped', $3, now(), now(), $4)`,
		runID, job, dryRun, reason,
	); err != nil {
		return eris.Wrapf(err, "runlog: skip %s", job)
	}
	return nil
}

// List returns the most recent attempts first. limit <= 0 returns all.
func (l *RunLog) List(ctx context.Context, limit int) ([]RunEntry, error) {
	sql := `SELECT id, run_id, job, status, dry_run, started_at, completed_at, error, report
		 FROM etl.job_runs ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		sql += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var (
			e          RunEntry
			errStr     *string
			reportJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Job, &e.Status, &e.DryRun,
			&e.StartedAt, &e.CompletedAt, &errStr, &reportJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if reportJSON != nil {
			_ = json.Unmarshal(reportJSON, &e.Report)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func marshalReport(report any) ([]byte, error) {
	if report == nil {
		return nil, nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: marshal report")
	}
	return data, nil
}
