package pipeline

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/gestk/legacy-etl/internal/ownership"
)

// Report is the end-of-job summary. In dry-run, Created and Updated are
// what a real run would have done.
type Report struct {
	Job               string          `json:"job"`
	DryRun            bool            `json:"dry_run"`
	Read              int64           `json:"read"`
	Created           int64           `json:"created"`
	Updated           int64           `json:"updated"`
	SkippedNoDocument int64           `json:"skipped_no_document"`
	SkippedNoTenant   int64           `json:"skipped_no_tenant"`
	SkippedInvalidRow int64           `json:"skipped_invalid_row"`
	Duplicates        int64           `json:"duplicates"`
	Errored           int64           `json:"errored"`
	Batches           int             `json:"batches"`
	FailedBatches     int             `json:"failed_batches"`
	Resolver          ownership.Stats `json:"resolver"`
	Elapsed           time.Duration   `json:"elapsed_ns"`
}

// Loaded returns created plus updated.
func (r *Report) Loaded() int64 { return r.Created + r.Updated }

// Skipped returns the total across all skip reasons.
func (r *Report) Skipped() int64 {
	return r.SkippedNoDocument + r.SkippedNoTenant + r.SkippedInvalidRow
}

// CacheHitRate is the resolver cache hit ratio observed during this job.
func (r *Report) CacheHitRate() float64 { return r.Resolver.HitRate() }

func (r *Report) skip(reason SkipReason) {
	switch reason {
	case SkipNoDocument:
		r.SkippedNoDocument++
	case SkipNoTenant:
		r.SkippedNoTenant++
	case SkipInvalidRow:
		r.SkippedInvalidRow++
	}
}

// Print writes the human-readable summary.
func (r *Report) Print(out io.Writer) {
	created, updated := "Created", "Updated"
	if r.DryRun {
		created, updated = "Would create", "Would update"
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Job:\t%s\n", r.Job)
	if r.DryRun {
		_, _ = fmt.Fprintf(w, "Mode:\tdry-run\n")
	}
	_, _ = fmt.Fprintf(w, "Read:\t%d\n", r.Read)
	_, _ = fmt.Fprintf(w, "%s:\t%d\n", created, r.Created)
	_, _ = fmt.Fprintf(w, "%s:\t%d\n", updated, r.Updated)
	_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", r.Skipped())
	_, _ = fmt.Fprintf(w, "  No document:\t%d\n", r.SkippedNoDocument)
	_, _ = fmt.Fprintf(w, "  No tenant:\t%d\n", r.SkippedNoTenant)
	_, _ = fmt.Fprintf(w, "  Invalid row:\t%d\n", r.SkippedInvalidRow)
	if r.Duplicates > 0 {
		_, _ = fmt.Fprintf(w, "Duplicates collapsed:\t%d\n", r.Duplicates)
	}
	_, _ = fmt.Fprintf(w, "Errored:\t%d\n", r.Errored)
	_, _ = fmt.Fprintf(w, "Batches:\t%d (%d failed)\n", r.Batches, r.FailedBatches)
	_, _ = fmt.Fprintf(w, "Cache hit rate:\t%.1f%%\n", r.CacheHitRate()*100)
	_, _ = fmt.Fprintf(w, "Elapsed:\t%s\n", r.Elapsed.Round(time.Millisecond))
	_ = w.Flush()
}
