package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job <name>",
	Short: "Run a single import job",
	Long:  "Runs one pipeline job by name or plan number, ignoring dependencies. See 'jobs' for the list.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		popts, err := parsePipelineOpts(cmd, cfg.Pipeline)
		if err != nil {
			return err
		}
		name, err := resolveJobName(args[0])
		if err != nil {
			return err
		}

		rt, err := openRuntime(ctx, popts)
		if err != nil {
			return err
		}
		defer rt.Close()

		rep, err := rt.env.RunJob(ctx, name, popts.DryRun)
		if rep != nil {
			rep.Print(os.Stdout)
		}
		printRunStats(os.Stdout, rt.env.Resolver.Stats(), rt.source.Health())
		if err != nil {
			return eris.Wrapf(err, "job %s", name)
		}
		return nil
	},
}

// resolveJobName maps a plan number or name to the job name.
func resolveJobName(ref string) (string, error) {
	plan, err := loadPlan()
	if err != nil {
		return "", err
	}
	s, ok := plan.Find(ref)
	if !ok {
		return "", eris.Errorf("unknown job %q", ref)
	}
	return s.Name, nil
}

func init() {
	addPipelineFlags(jobCmd)
	rootCmd.AddCommand(jobCmd)
}
