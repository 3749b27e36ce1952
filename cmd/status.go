package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gestk/legacy-etl/internal/etl"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job run history",
	Long:  "Displays the most recent job runs recorded in etl.job_runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		pool, err := targetPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		entries, err := etl.NewRunLog(pool).List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if len(entries) == 0 {
			zap.L().Info("no job runs found, run 'gestk-etl run' to start an import")
			return nil
		}

		formatStatusEntries(os.Stdout, entries)
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("limit", 50, "number of runs to show")
	rootCmd.AddCommand(statusCmd)
}

// formatStatusEntries writes a tabular representation of job runs to out.
func formatStatusEntries(out io.Writer, entries []etl.RunEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRUN\tJOB\tSTATUS\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t---\t---\t------\t-------\t--------\t-----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.Elapsed().Round(time.Second).String()
		}
		status := e.Status
		if e.DryRun {
			status += " (dry-run)"
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.RunID.String()[:8],
			e.Job,
			status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
