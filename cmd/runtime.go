package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gestk/legacy-etl/internal/db"
	"github.com/gestk/legacy-etl/internal/directory"
	"github.com/gestk/legacy-etl/internal/etl"
	"github.com/gestk/legacy-etl/internal/jobs"
	"github.com/gestk/legacy-etl/internal/legacy"
	"github.com/gestk/legacy-etl/internal/orchestrator"
	"github.com/gestk/legacy-etl/internal/ownership"
	"github.com/gestk/legacy-etl/internal/pipeline"
	"github.com/gestk/legacy-etl/internal/resilience"
	"github.com/gestk/legacy-etl/internal/target"
)

// targetPool connects to the target store.
func targetPool(ctx context.Context) (*pgxpool.Pool, error) {
	if err := cfg.ValidateTarget(); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.Target.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "target: create connection pool")
	}

	retry := resilience.FromConnectAttempts(cfg.Legacy.ConnectAttempts, "target")
	if err := resilience.Do(ctx, retry, pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "target: ping database")
	}

	zap.L().Debug("connected to target store")
	return pool, nil
}

// newResolver builds the resolution context of one run.
func newResolver(contracts ownership.ContractSource, docs ownership.DocumentSource) *ownership.Resolver {
	return ownership.NewResolver(contracts, docs, ownership.Options{
		MapTTL:        cfg.Resolver.MapTTL(),
		LookupTTL:     cfg.Resolver.LookupTTL(),
		LookupTimeout: cfg.Legacy.QueryTimeout(),
	})
}

// runtime holds the connections of an import run. Close releases them.
type runtime struct {
	pool   *pgxpool.Pool
	source *legacy.SQLSource
	runLog *etl.RunLog
	env    *jobs.Env
}

// openRuntime connects both stores, brings the target schema up to date and
// wires the job environment. A dry run never migrates; it fails instead when
// migrations are pending.
func openRuntime(ctx context.Context, opts pipeline.Options) (*runtime, error) {
	if err := cfg.ValidateRun(); err != nil {
		return nil, err
	}

	pool, err := targetPool(ctx)
	if err != nil {
		return nil, err
	}
	if err := prepareSchema(ctx, pool, opts.DryRun); err != nil {
		pool.Close()
		return nil, err
	}

	src, err := legacy.Open(ctx, legacy.Options{
		Driver:           cfg.Legacy.Driver,
		DSN:              cfg.Legacy.DSN,
		LookupQuery:      cfg.Legacy.LookupQuery,
		MaxQPS:           cfg.Legacy.MaxQPS,
		ConnectAttempts:  cfg.Legacy.ConnectAttempts,
		BreakerThreshold: cfg.Legacy.BreakerThreshold,
		BreakerResetSecs: cfg.Legacy.BreakerResetSecs,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	dir := directory.New(pool)
	var metrics *pipeline.Metrics
	if cfg.Metrics.Textfile != "" {
		metrics = pipeline.NewMetrics()
	}

	return &runtime{
		pool:   pool,
		source: src,
		runLog: etl.NewRunLog(pool),
		env: &jobs.Env{
			Source:   src,
			Sink:     target.NewPostgresSink(pool),
			Tenants:  dir,
			Resolver: newResolver(dir, src),
			Pipeline: opts,
			Metrics:  metrics,
			GapDays:  cfg.Resolver.GapThresholdDays,
		},
	}, nil
}

// prepareSchema applies pending migrations, or in a dry run only checks
// that none are pending.
func prepareSchema(ctx context.Context, pool db.Pool, dryRun bool) error {
	if dryRun {
		if err := etl.RequireCurrent(ctx, pool); err != nil {
			return eris.Wrap(err, "check target schema")
		}
		return nil
	}
	if err := etl.Migrate(ctx, pool); err != nil {
		return eris.Wrap(err, "migrate target store")
	}
	return nil
}

// runLogger returns the run log for a load. Dry runs are not recorded.
func (r *runtime) runLogger(dryRun bool) orchestrator.RunLogger {
	if dryRun || r.runLog == nil {
		return nil
	}
	return r.runLog
}

// Close writes the metrics textfile, if enabled, and releases both stores.
func (r *runtime) Close() {
	if r.env.Metrics != nil {
		if err := r.env.Metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			zap.L().Warn("failed to write metrics textfile", zap.Error(err))
		}
	}
	if err := r.source.Close(); err != nil {
		zap.L().Warn("failed to close legacy source", zap.Error(err))
	}
	r.pool.Close()
}

// printRunStats prints the resolution cache summary and the health of the
// legacy connection.
func printRunStats(w io.Writer, s ownership.Stats, h resilience.BreakerStats) {
	fmt.Fprintf(w, "Resolver: %d resolved, %d no document, %d no tenant, cache hit rate %.1f%%\n",
		s.Resolved, s.NoDocument, s.NoTenant, s.HitRate()*100)
	fmt.Fprintf(w, "Legacy source: breaker %s, %d trips, %d rejected lookups\n",
		h.State, h.Trips, h.Rejected)
	if h.State != resilience.Closed.String() {
		zap.L().Warn("legacy source unhealthy at end of run",
			zap.String("breaker", h.State),
			zap.Int64("trips", h.Trips),
			zap.Int64("rejected", h.Rejected),
		)
	}
}
