// Package orchestrator sequences import jobs over a static dependency graph.
// Each job moves Pending -> Running -> {Succeeded, Failed, Skipped}. A job
// runs only when every dependency succeeded; a failed critical job halts
// everything not yet started.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrCriticalFailure is returned by Run when a critical job failed.
	ErrCriticalFailure = eris.New("orchestrator: critical job failed")
	// ErrPartialFailure is returned by Run when the run went to the end but
	// at least one non-critical job failed.
	ErrPartialFailure = eris.New("orchestrator: some jobs failed")
)

// State is the lifecycle position of a job within one run.
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
	Skipped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool { return s == Succeeded || s == Failed || s == Skipped }

// Task executes one job. The returned value is the job's report; it is
// recorded even when err is non-nil.
type Task func(ctx context.Context, dryRun bool) (any, error)

// RunLogger persists job outcomes. etl.RunLog satisfies it.
type RunLogger interface {
	Start(ctx context.Context, runID uuid.UUID, job string, dryRun bool) (int64, error)
	Complete(ctx context.Context, id int64, report any) error
	Fail(ctx context.Context, id int64, errMsg string, report any) error
	Skip(ctx context.Context, runID uuid.UUID, job, reason string, dryRun bool) error
}

// RunOpts selects which jobs run and how.
type RunOpts struct {
	DryRun bool
	// Skip lists job numbers or names to skip. Their dependents are skipped too.
	Skip []string
	// StartAt and StopAt bound the run by plan order (inclusive). Jobs
	// outside the range are not part of the run and are assumed loaded by
	// an earlier one.
	StartAt string
	StopAt  string
	// Parallelism is the number of independent jobs run at once (min 1).
	Parallelism int
}

// Orchestrator runs a Plan against a set of registered tasks.
type Orchestrator struct {
	plan   *Plan
	tasks  map[string]Task
	runLog RunLogger
	now    func() time.Time
}

// New binds tasks to the plan. Every plan step must have a task.
func New(plan *Plan, tasks map[string]Task, runLog RunLogger) (*Orchestrator, error) {
	for _, s := range plan.Steps {
		if tasks[s.Name] == nil {
			return nil, eris.Errorf("orchestrator: no task registered for job %s", s.Label())
		}
	}
	return &Orchestrator{plan: plan, tasks: tasks, runLog: runLog, now: time.Now}, nil
}

// Plan returns the job graph.
func (o *Orchestrator) Plan() *Plan { return o.plan }

type jobRun struct {
	step    Step
	state   State
	reason  string
	err     error
	report  any
	started time.Time
	elapsed time.Duration
	logID   int64
}

// Run executes the selected jobs. The returned report is always non-nil
// once selection succeeds; the error is ErrCriticalFailure (wrapped) when a
// critical job failed, the context error when the run was canceled, and
// ErrPartialFailure (wrapped) when only non-critical jobs failed.
func (o *Orchestrator) Run(ctx context.Context, opts RunOpts) (*Report, error) {
	log := zap.L().With(zap.String("component", "orchestrator"))

	runs, assumed, err := o.selectJobs(opts)
	if err != nil {
		return nil, err
	}

	par := opts.Parallelism
	if par < 1 {
		par = 1
	}

	report := &Report{RunID: uuid.New(), DryRun: opts.DryRun, Started: o.now()}
	log = log.With(zap.String("run_id", report.RunID.String()))
	log.Info("starting run",
		zap.Int("jobs", len(runs)),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("parallelism", par),
	)

	for _, r := range runs {
		if r.state == Skipped {
			o.logSkip(ctx, report.RunID, r, opts.DryRun)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	byName := make(map[string]*jobRun, len(runs))
	for _, r := range runs {
		byName[r.step.Name] = r
	}

	done := make(chan *jobRun)
	running := 0
	var halt *jobRun

	for {
		if halt == nil && ctx.Err() == nil {
			for _, r := range runs {
				if r.state != Pending || running >= par {
					continue
				}
				ready, blocker := depsReady(r, byName, assumed)
				if blocker != "" {
					r.state = Skipped
					r.reason = "dependency " + blocker + " did not succeed"
					o.logSkip(ctx, report.RunID, r, opts.DryRun)
					continue
				}
				if !ready {
					continue
				}
				r.state = Running
				running++
				go o.exec(runCtx, report.RunID, opts.DryRun, r, done)
			}
		}

		if running == 0 {
			break
		}

		r := <-done
		running--
		r.state = Succeeded
		if r.err != nil {
			r.state = Failed
			r.reason = r.err.Error()
			log.Error("job failed", zap.String("job", r.step.Label()),
				zap.Bool("critical", r.step.Critical), zap.Error(r.err))
			if r.step.Critical && halt == nil {
				halt = r
				cancel()
			}
			continue
		}
		log.Info("job succeeded", zap.String("job", r.step.Label()),
			zap.Duration("elapsed", r.elapsed))
	}

	for _, r := range runs {
		if r.state != Pending {
			continue
		}
		r.state = Skipped
		switch {
		case halt != nil:
			r.reason = "halted after critical failure of " + halt.step.Name
		case ctx.Err() != nil:
			r.reason = "run canceled"
		}
		o.logSkip(ctx, report.RunID, r, opts.DryRun)
	}

	report.Elapsed = o.now().Sub(report.Started)
	for _, r := range runs {
		report.Jobs = append(report.Jobs, JobResult{
			Number:   r.step.Number,
			Name:     r.step.Name,
			Critical: r.step.Critical,
			State:    r.state,
			Reason:   r.reason,
			Err:      r.err,
			Report:   r.report,
			Elapsed:  r.elapsed,
		})
	}

	log.Info("run complete",
		zap.Int("succeeded", report.Count(Succeeded)),
		zap.Int("failed", report.Count(Failed)),
		zap.Int("skipped", report.Count(Skipped)),
		zap.Duration("elapsed", report.Elapsed),
	)

	switch {
	case halt != nil:
		return report, eris.Wrapf(ErrCriticalFailure, "job %s", halt.step.Label())
	case ctx.Err() != nil:
		return report, eris.Wrap(ctx.Err(), "orchestrator: run canceled")
	case report.Count(Failed) > 0:
		return report, eris.Wrapf(ErrPartialFailure, "%d of %d jobs", report.Count(Failed), len(report.Jobs))
	}
	return report, nil
}

func (o *Orchestrator) exec(ctx context.Context, runID uuid.UUID, dryRun bool, r *jobRun, done chan<- *jobRun) {
	log := zap.L().With(zap.String("component", "orchestrator"), zap.String("job", r.step.Label()))
	log.Info("starting job", zap.String("description", r.step.Description))

	if o.runLog != nil {
		id, err := o.runLog.Start(ctx, runID, r.step.Name, dryRun)
		if err != nil {
			log.Warn("failed to record job start", zap.Error(err))
		}
		r.logID = id
	}

	r.started = o.now()
	rep, err := o.runTask(ctx, r.step.Name, dryRun)
	r.elapsed = o.now().Sub(r.started)
	r.report = rep
	r.err = err

	if o.runLog != nil && r.logID != 0 {
		// The run log must record the outcome even when the run was canceled.
		logCtx := context.WithoutCancel(ctx)
		var lerr error
		if err != nil {
			lerr = o.runLog.Fail(logCtx, r.logID, err.Error(), rep)
		} else {
			lerr = o.runLog.Complete(logCtx, r.logID, rep)
		}
		if lerr != nil {
			log.Warn("failed to record job outcome", zap.Error(lerr))
		}
	}
	done <- r
}

func (o *Orchestrator) runTask(ctx context.Context, name string, dryRun bool) (rep any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = eris.Errorf("orchestrator: job %s panicked: %v", name, p)
		}
	}()
	return o.tasks[name](ctx, dryRun)
}

func (o *Orchestrator) logSkip(ctx context.Context, runID uuid.UUID, r *jobRun, dryRun bool) {
	zap.L().Warn("job skipped",
		zap.String("component", "orchestrator"),
		zap.String("job", r.step.Label()),
		zap.String("reason", r.reason),
	)
	if o.runLog == nil {
		return
	}
	if err := o.runLog.Skip(context.WithoutCancel(ctx), runID, r.step.Name, r.reason, dryRun); err != nil {
		zap.L().Warn("failed to record job skip", zap.String("job", r.step.Name), zap.Error(err))
	}
}

// depsReady reports whether all dependencies of r succeeded. blocker names
// the first dependency that ended without success.
func depsReady(r *jobRun, byName map[string]*jobRun, assumed map[string]bool) (ready bool, blocker string) {
	ready = true
	for _, d := range r.step.DependsOn {
		if assumed[d] {
			continue
		}
		dep := byName[d]
		switch dep.state {
		case Succeeded:
		case Failed, Skipped:
			return false, d
		default:
			ready = false
		}
	}
	return ready, ""
}

// selectJobs applies the range and skip options to the plan order. Jobs
// outside the range are returned in assumed; they count as satisfied.
func (o *Orchestrator) selectJobs(opts RunOpts) ([]*jobRun, map[string]bool, error) {
	order := o.plan.Order()

	lo, hi := 0, len(order)-1
	if opts.StartAt != "" {
		i, err := o.position(order, opts.StartAt)
		if err != nil {
			return nil, nil, err
		}
		lo = i
	}
	if opts.StopAt != "" {
		i, err := o.position(order, opts.StopAt)
		if err != nil {
			return nil, nil, err
		}
		hi = i
	}
	if lo > hi {
		return nil, nil, eris.Errorf("orchestrator: start %q comes after stop %q", opts.StartAt, opts.StopAt)
	}

	skip := make(map[string]bool, len(opts.Skip))
	for _, ref := range opts.Skip {
		if strings.TrimSpace(ref) == "" {
			continue
		}
		s, ok := o.plan.Find(ref)
		if !ok {
			return nil, nil, eris.Wrapf(ErrUnknownJob, "skip %q", ref)
		}
		skip[s.Name] = true
	}

	assumed := make(map[string]bool)
	var runs []*jobRun
	for i, s := range order {
		if i < lo || i > hi {
			assumed[s.Name] = true
			continue
		}
		r := &jobRun{step: s, state: Pending}
		if skip[s.Name] {
			r.state = Skipped
			r.reason = "skipped by request"
		}
		runs = append(runs, r)
	}
	return runs, assumed, nil
}

func (o *Orchestrator) position(order []Step, ref string) (int, error) {
	s, ok := o.plan.Find(ref)
	if !ok {
		return 0, eris.Wrapf(ErrUnknownJob, "%q", ref)
	}
	for i := range order {
		if order[i].Name == s.Name {
			return i, nil
		}
	}
	return 0, eris.Wrapf(ErrUnknownJob, "%q", ref)
}
