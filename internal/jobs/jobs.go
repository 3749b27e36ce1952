// Package jobs defines the concrete gestk imports and binds them to the
// orchestrator plan.
package jobs

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gestk/legacy-etl/internal/legacy"
	"github.com/gestk/legacy-etl/internal/orchestrator"
	"github.com/gestk/legacy-etl/internal/ownership"
	"github.com/gestk/legacy-etl/internal/pipeline"
	"github.com/gestk/legacy-etl/internal/target"
)

//go:embed plan.yaml
var planYAML []byte

// DefaultPlan returns the built-in import plan.
func DefaultPlan() (*orchestrator.Plan, error) {
	return orchestrator.ParsePlan(planYAML)
}

// LoadPlan returns the plan at path, or the built-in one when path is empty.
func LoadPlan(path string) (*orchestrator.Plan, error) {
	if path == "" {
		return DefaultPlan()
	}
	return orchestrator.LoadPlan(path)
}

// TenantSource lists tenants by legacy firm code.
type TenantSource interface {
	Tenants(ctx context.Context) (map[string]ownership.Tenant, error)
}

// Env is everything the jobs of one orchestration run share.
type Env struct {
	Source   legacy.Source
	Sink     target.Sink
	Tenants  TenantSource
	Resolver *ownership.Resolver
	Pipeline pipeline.Options
	Metrics  *pipeline.Metrics // nil disables metrics
	GapDays  int
}

// Pipelines returns every pipeline job by name.
func Pipelines() map[string]pipeline.Job {
	all := []pipeline.Job{
		tenantsJob{},
		legalEntitiesJob{},
		contractsJob{},
		ledgerJob{},
		invoicesJob{},
		employeesJob{},
		payrollJob{},
		activityJob{},
	}
	out := make(map[string]pipeline.Job, len(all))
	for _, j := range all {
		out[j.Name()] = j
	}
	return out
}

// Tasks binds every plan job to its implementation.
func (e *Env) Tasks() map[string]orchestrator.Task {
	tasks := make(map[string]orchestrator.Task)
	for name, job := range Pipelines() {
		tasks[name] = e.pipelineTask(job)
	}
	tasks[auditJobName] = e.auditTask
	return tasks
}

// RunJob runs one pipeline job outside the orchestrator.
func (e *Env) RunJob(ctx context.Context, name string, dryRun bool) (*pipeline.Report, error) {
	job, ok := Pipelines()[name]
	if !ok {
		return nil, eris.Wrapf(orchestrator.ErrUnknownJob, "%q", name)
	}
	return e.run(ctx, job, dryRun)
}

func (e *Env) pipelineTask(job pipeline.Job) orchestrator.Task {
	return func(ctx context.Context, dryRun bool) (any, error) {
		return e.run(ctx, job, dryRun)
	}
}

func (e *Env) run(ctx context.Context, job pipeline.Job, dryRun bool) (*pipeline.Report, error) {
	opts := e.Pipeline
	opts.DryRun = dryRun

	rep, err := pipeline.New(e.Source, e.Sink, opts).Run(ctx, job, e.resolverFor(job))
	if e.Metrics != nil && rep != nil {
		e.Metrics.Observe(rep)
	}
	if err == nil && !dryRun && e.Resolver != nil {
		if inv, ok := job.(invalidator); ok && inv.InvalidatesMap() {
			zap.L().Info("contract directory changed, invalidating ownership map",
				zap.String("component", "jobs"), zap.String("job", job.Name()))
			e.Resolver.Invalidate()
		}
	}
	return rep, err
}

// invalidator marks jobs that change the contract directory.
type invalidator interface {
	InvalidatesMap() bool
}

func (e *Env) resolverFor(job pipeline.Job) pipeline.Resolver {
	switch job.(type) {
	case tenantsJob:
		return selfResolver{}
	case legalEntitiesJob:
		return documentResolver{}
	case contractsJob:
		return newFirmResolver(e.Tenants)
	default:
		return e.Resolver
	}
}

// windowed appends date bounds on col to a query whose SQL already has a
// WHERE clause, then the tail (GROUP BY / ORDER BY).
func windowed(sql, col string, w pipeline.Window, tail string) legacy.Query {
	var b strings.Builder
	b.WriteString(sql)
	var args []any
	if !w.From.IsZero() {
		b.WriteString(" AND " + col + " >= ?")
		args = append(args, w.From)
	}
	if !w.To.IsZero() {
		b.WriteString(" AND " + col + " <= ?")
		args = append(args, w.To)
	}
	if tail != "" {
		b.WriteString("\n" + tail)
	}
	return legacy.Query{SQL: b.String(), Args: args}
}

// nullable maps empty strings to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// optionalTime maps a missing date to NULL.
func optionalTime(t time.Time, ok bool) any {
	if !ok {
		return nil
	}
	return t
}

func key(parts ...string) string { return strings.Join(parts, "|") }
