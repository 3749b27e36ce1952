// Package pipeline is the extract, resolve, transform and load loop shared by
// every import job.
//
// Rows are streamed from the legacy source in fixed-size batches. Each row is
// resolved to its owning tenant, turned into a target record or a skip
// reason, and every batch is loaded in one transaction. A batch the target
// rejects is rolled back and counted as errored; the job moves on to the next
// batch. A failure of the legacy source while resolving fails the job.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gestk/legacy-etl/internal/legacy"
	"github.com/gestk/legacy-etl/internal/ownership"
	"github.com/gestk/legacy-etl/internal/target"
)

// Subject is what a row is resolved on: the legacy entity reference and the
// date the record occurred.
type Subject struct {
	Ref string
	At  time.Time
}

// Window bounds the extraction. Zero times mean unbounded.
type Window struct {
	From time.Time
	To   time.Time
}

// Job is one declarative import definition.
type Job interface {
	Name() string
	Table() target.Table
	// Query returns the extraction query for the window.
	Query(w Window) legacy.Query
	// Subject extracts the resolution inputs. ok=false marks the row invalid.
	Subject(row legacy.Row) (s Subject, ok bool)
	// Transform builds the target record for a resolved row.
	Transform(row legacy.Row, res ownership.Resolution) Result
}

// Resolver attributes a subject to a tenant.
type Resolver interface {
	Resolve(ctx context.Context, ref string, at time.Time) (ownership.Resolution, error)
}

// statser is implemented by resolvers that keep cache statistics.
type statser interface {
	Stats() ownership.Stats
}

// Options configures a Pipeline run.
type Options struct {
	BatchSize     int
	Workers       int // concurrent resolutions per batch
	Limit         int // max rows read; 0 = all
	DryRun        bool
	Window        Window
	ProgressEvery int // batches between progress logs; 0 = never
}

// Pipeline runs jobs against one legacy source and one target sink.
type Pipeline struct {
	src  legacy.Source
	sink target.Sink
	opts Options
	now  func() time.Time
}

// New creates a pipeline.
func New(src legacy.Source, sink target.Sink, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Pipeline{src: src, sink: sink, opts: opts, now: time.Now}
}

// Run executes job to completion and returns its report. The report is
// returned even on error, reflecting the batches that completed.
//
// Cancellation is honored between batches: a batch that has started is
// resolved and loaded to the end.
func (p *Pipeline) Run(ctx context.Context, job Job, resolver Resolver) (*Report, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("job", job.Name()))
	rep := &Report{Job: job.Name(), DryRun: p.opts.DryRun}
	start := p.now()

	var before ownership.Stats
	st, hasStats := resolver.(statser)
	if hasStats {
		before = st.Stats()
	}

	log.Info("job started",
		zap.Bool("dry_run", p.opts.DryRun),
		zap.Int("batch_size", p.opts.BatchSize),
		zap.Time("from", p.opts.Window.From),
		zap.Time("to", p.opts.Window.To),
	)

	err := p.src.Stream(ctx, job.Query(p.opts.Window), p.opts.BatchSize, p.opts.Limit, func(rows []legacy.Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.runBatch(context.WithoutCancel(ctx), job, resolver, rows, rep); err != nil {
			return err
		}
		if p.opts.ProgressEvery > 0 && rep.Batches%p.opts.ProgressEvery == 0 {
			log.Info("progress",
				zap.Int("batches", rep.Batches),
				zap.Int64("read", rep.Read),
				zap.Int64("loaded", rep.Loaded()),
				zap.Int64("skipped", rep.Skipped()),
				zap.Int64("errored", rep.Errored),
			)
		}
		return nil
	})

	if hasStats {
		rep.Resolver = st.Stats().Sub(before)
	}
	rep.Elapsed = p.now().Sub(start)

	if err != nil {
		log.Error("job failed", zap.Error(err), zap.Int("batches", rep.Batches))
		return rep, eris.Wrapf(err, "pipeline: %s", job.Name())
	}

	log.Info("job finished",
		zap.Int64("read", rep.Read),
		zap.Int64("created", rep.Created),
		zap.Int64("updated", rep.Updated),
		zap.Int64("skipped_no_document", rep.SkippedNoDocument),
		zap.Int64("skipped_no_tenant", rep.SkippedNoTenant),
		zap.Int64("skipped_invalid_row", rep.SkippedInvalidRow),
		zap.Int64("errored", rep.Errored),
		zap.Float64("cache_hit_rate", rep.CacheHitRate()),
		zap.Duration("elapsed", rep.Elapsed),
	)
	return rep, nil
}

func (p *Pipeline) runBatch(ctx context.Context, job Job, resolver Resolver, rows []legacy.Row, rep *Report) error {
	results, err := p.resolveBatch(ctx, job, resolver, rows)
	if err != nil {
		return err
	}

	rep.Read += int64(len(rows))
	rep.Batches++

	recs := make([]target.Record, 0, len(results))
	index := make(map[string]int, len(results))
	for _, r := range results {
		if r.Skip != Loaded {
			rep.skip(r.Skip)
			continue
		}
		// Later rows win; Postgres rejects touching one key twice per statement.
		if i, dup := index[r.Record.Key]; dup {
			recs[i] = r.Record
			rep.Duplicates++
			continue
		}
		index[r.Record.Key] = len(recs)
		recs = append(recs, r.Record)
	}
	if len(recs) == 0 {
		return nil
	}

	table := job.Table()
	if p.opts.DryRun {
		existing, err := p.sink.CountExisting(ctx, table, recs)
		if err != nil {
			p.failBatch(job, rep, len(recs), err)
			return nil
		}
		rep.Updated += existing
		rep.Created += int64(len(recs)) - existing
		return nil
	}

	res, err := p.sink.Load(ctx, table, recs)
	if err != nil {
		p.failBatch(job, rep, len(recs), err)
		return nil
	}
	rep.Created += res.Created
	rep.Updated += res.Updated
	return nil
}

// resolveBatch resolves and transforms every row concurrently. Results keep
// row order. Only resolver errors are returned; data problems become skips.
func (p *Pipeline) resolveBatch(ctx context.Context, job Job, resolver Resolver, rows []legacy.Row) ([]Result, error) {
	results := make([]Result, len(rows))
	now := p.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, row := range rows {
		g.Go(func() error {
			subj, ok := job.Subject(row)
			if !ok {
				results[i] = Invalid("missing entity reference or event date")
				return nil
			}
			if !subj.At.IsZero() && subj.At.After(now) {
				results[i] = Invalid("event date in the future")
				return nil
			}
			res, err := resolver.Resolve(gctx, subj.Ref, subj.At)
			if err != nil {
				return eris.Wrapf(err, "pipeline: resolve %s", subj.Ref)
			}
			if !res.Found() {
				results[i] = Skip(skipFor(res.Outcome), res.Outcome.String())
				return nil
			}
			results[i] = job.Transform(row, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) failBatch(job Job, rep *Report, n int, err error) {
	rep.Errored += int64(n)
	rep.FailedBatches++
	zap.L().Error("batch rolled back",
		zap.String("component", "pipeline"),
		zap.String("job", job.Name()),
		zap.Int("batch", rep.Batches),
		zap.Int("records", n),
		zap.Error(err),
	)
}
