package main

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gestk/legacy-etl/internal/config"
	"github.com/gestk/legacy-etl/internal/orchestrator"
	"github.com/gestk/legacy-etl/internal/pipeline"
)

// addPipelineFlags registers the per-job flags shared by run and job.
func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("dry-run", false, "resolve and count without writing to the target store")
	cmd.Flags().Int("limit", 0, "max legacy rows read per job (0 = all)")
	cmd.Flags().Int("batch-size", 0, "rows per batch transaction (default from config)")
	cmd.Flags().String("date-from", "", "first event date to import, YYYY-MM-DD (default: import floor)")
	cmd.Flags().String("date-to", "", "last event date to import, YYYY-MM-DD")
}

// parsePipelineOpts merges the per-job flags over the pipeline config.
func parsePipelineOpts(cmd *cobra.Command, pc config.PipelineConfig) (pipeline.Options, error) {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	limit, _ := cmd.Flags().GetInt("limit")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	fromStr, _ := cmd.Flags().GetString("date-from")
	toStr, _ := cmd.Flags().GetString("date-to")

	if limit < 0 {
		return pipeline.Options{}, eris.Errorf("--limit must not be negative, got %d", limit)
	}
	if batchSize < 0 {
		return pipeline.Options{}, eris.Errorf("--batch-size must not be negative, got %d", batchSize)
	}
	if batchSize == 0 {
		batchSize = pc.BatchSize
	}

	opts := pipeline.Options{
		BatchSize:     batchSize,
		Workers:       pc.ResolveWorkers,
		Limit:         limit,
		DryRun:        dryRun,
		ProgressEvery: pc.ProgressEvery,
	}

	from, err := parseDate("date-from", fromStr)
	if err != nil {
		return pipeline.Options{}, err
	}
	if from.IsZero() {
		if from, err = pc.Floor(); err != nil {
			return pipeline.Options{}, err
		}
	}
	to, err := parseDate("date-to", toStr)
	if err != nil {
		return pipeline.Options{}, err
	}
	if !to.IsZero() && to.Before(from) {
		return pipeline.Options{}, eris.Errorf("--date-to %s is before --date-from %s",
			to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	opts.Window = pipeline.Window{From: from, To: to}

	return opts, nil
}

func parseDate(flag, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "--%s: want YYYY-MM-DD", flag)
	}
	return t, nil
}

// parseRunOpts extracts the orchestrator flags.
func parseRunOpts(cmd *cobra.Command, oc config.OrchestratorConfig) orchestrator.RunOpts {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	skipStr, _ := cmd.Flags().GetString("skip-jobs")
	startAt, _ := cmd.Flags().GetString("start-at")
	stopAt, _ := cmd.Flags().GetString("stop-at")
	parallelism, _ := cmd.Flags().GetInt("parallelism")
	if parallelism <= 0 {
		parallelism = oc.Parallelism
	}

	opts := orchestrator.RunOpts{
		DryRun:      dryRun,
		StartAt:     strings.TrimSpace(startAt),
		StopAt:      strings.TrimSpace(stopAt),
		Parallelism: parallelism,
	}
	if skipStr != "" {
		for _, s := range strings.Split(skipStr, ",") {
			if s = strings.TrimSpace(s); s != "" {
				opts.Skip = append(opts.Skip, s)
			}
		}
	}
	return opts
}
