package orchestrator

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
)

// JobResult is the outcome of one job within a run.
type JobResult struct {
	Number   int
	Name     string
	Critical bool
	State    State
	Reason   string
	Err      error
	Report   any
	Elapsed  time.Duration
}

// Report aggregates a whole orchestration run.
type Report struct {
	RunID   uuid.UUID
	DryRun  bool
	Started time.Time
	Elapsed time.Duration
	Jobs    []JobResult
}

// Count returns the number of jobs that ended in state s.
func (r *Report) Count(s State) int {
	n := 0
	for _, j := range r.Jobs {
		if j.State == s {
			n++
		}
	}
	return n
}

// Job returns the result for the named job.
func (r *Report) Job(name string) (JobResult, bool) {
	for _, j := range r.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobResult{}, false
}

// CriticalFailed reports whether any critical job failed.
func (r *Report) CriticalFailed() bool {
	for _, j := range r.Jobs {
		if j.Critical && j.State == Failed {
			return true
		}
	}
	return false
}

// Print writes the run summary.
func (r *Report) Print(w io.Writer) {
	mode := "load"
	if r.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(w, "Run %s (%s)\n", r.RunID, mode)
	fmt.Fprintf(w, "Started:  %s\n", r.Started.Format(time.DateTime))
	fmt.Fprintf(w, "Finished: %s\n", r.Started.Add(r.Elapsed).Format(time.DateTime))
	fmt.Fprintf(w, "Elapsed:  %s\n\n", r.Elapsed.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tJOB\tSTATE\tCRITICAL\tELAPSED\tDETAIL")
	for _, j := range r.Jobs {
		crit := ""
		if j.Critical {
			crit = "yes"
		}
		elapsed := "-"
		if j.State == Succeeded || j.State == Failed {
			elapsed = j.Elapsed.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%02d\t%s\t%s\t%s\t%s\t%s\n", j.Number, j.Name, j.State, crit, elapsed, j.Reason)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\nSucceeded: %d  Failed: %d  Skipped: %d  Total: %d\n",
		r.Count(Succeeded), r.Count(Failed), r.Count(Skipped), len(r.Jobs))
}
