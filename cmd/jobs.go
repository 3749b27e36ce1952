package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gestk/legacy-etl/internal/jobs"
	"github.com/gestk/legacy-etl/internal/orchestrator"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List the import plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		plan, err := loadPlan()
		if err != nil {
			return err
		}
		formatPlan(os.Stdout, plan)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func loadPlan() (*orchestrator.Plan, error) {
	return jobs.LoadPlan(cfg.Orchestrator.PlanFile)
}

// formatPlan prints the plan in execution order.
func formatPlan(out io.Writer, plan *orchestrator.Plan) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tJOB\tCRITICAL\tDEPENDS ON\tDESCRIPTION")
	for _, s := range plan.Order() {
		crit := ""
		if s.Critical {
			crit = "yes"
		}
		deps := strings.Join(s.DependsOn, ", ")
		if deps == "" {
			deps = "-"
		}
		_, _ = fmt.Fprintf(w, "%02d\t%s\t%s\t%s\t%s\n", s.Number, s.Name, crit, deps, s.Description)
	}
	_ = w.Flush()
}
