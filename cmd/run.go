package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gestk/legacy-etl/internal/jobs"
	"github.com/gestk/legacy-etl/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full import plan",
	Long: `Runs every job of the import plan in dependency order.

A job runs only when all of its dependencies succeeded in this run; jobs
outside --start-at/--stop-at are assumed loaded by an earlier run. A failed
critical job stops every job not yet started.

Exit status is 0 when every selected job succeeded or was skipped, 2 when a
critical job failed, and 3 when the run finished with non-critical failures.
Re-running is always safe: loads are idempotent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "run"))

		popts, err := parsePipelineOpts(cmd, cfg.Pipeline)
		if err != nil {
			return err
		}
		ropts := parseRunOpts(cmd, cfg.Orchestrator)

		plan, err := jobs.LoadPlan(cfg.Orchestrator.PlanFile)
		if err != nil {
			return err
		}

		rt, err := openRuntime(ctx, popts)
		if err != nil {
			return err
		}
		defer rt.Close()

		o, err := orchestrator.New(plan, rt.env.Tasks(), rt.runLogger(ropts.DryRun))
		if err != nil {
			return err
		}

		log.Info("starting import",
			zap.Bool("dry_run", ropts.DryRun),
			zap.Strings("skip", ropts.Skip),
			zap.String("start_at", ropts.StartAt),
			zap.String("stop_at", ropts.StopAt),
			zap.Time("from", popts.Window.From),
		)

		rep, err := o.Run(ctx, ropts)
		if rep != nil {
			rep.Print(os.Stdout)
			printRunStats(os.Stdout, rt.env.Resolver.Stats(), rt.source.Health())
		}
		if err != nil {
			return eris.Wrap(err, "run")
		}
		return nil
	},
}

func init() {
	addPipelineFlags(runCmd)
	runCmd.Flags().String("skip-jobs", "", "comma-separated job numbers or names to skip")
	runCmd.Flags().String("start-at", "", "first job to run (number or name)")
	runCmd.Flags().String("stop-at", "", "last job to run (number or name)")
	runCmd.Flags().Int("parallelism", 0, "independent jobs run at once (default from config)")
	rootCmd.AddCommand(runCmd)
}
