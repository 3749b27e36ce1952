package jobs

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gestk/legacy-etl/internal/ownership"
)

const auditJobName = "integrity_audit"

// AuditReport summarizes an integrity pass over the ownership map.
type AuditReport struct {
	Documents int                 `json:"documents"`
	Contracts int                 `json:"contracts"`
	Dropped   int                 `json:"dropped"`
	Overlaps  int                 `json:"overlaps"`
	Gaps      int                 `json:"gaps"`
	GapDays   int                 `json:"gap_days"`
	Findings  []ownership.Finding `json:"-"`
}

// Audit builds (or reuses) the ownership map and validates it. Findings are
// data, never an error.
func Audit(ctx context.Context, r *ownership.Resolver, gapDays int) (*AuditReport, error) {
	if gapDays <= 0 {
		gapDays = ownership.DefaultGapDays
	}
	m, err := r.Map(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: build ownership map")
	}

	rep := &AuditReport{
		Documents: m.Len(),
		Contracts: m.Contracts(),
		Dropped:   m.Dropped(),
		GapDays:   gapDays,
		Findings:  ownership.Validate(m, gapDays),
	}
	for _, f := range rep.Findings {
		switch f.Kind {
		case ownership.FindingOverlap:
			rep.Overlaps++
		case ownership.FindingGap:
			rep.Gaps++
		}
	}
	return rep, nil
}

func (e *Env) auditTask(ctx context.Context, _ bool) (any, error) {
	rep, err := Audit(ctx, e.Resolver, e.GapDays)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "jobs"), zap.String("job", auditJobName))
	for _, f := range rep.Findings {
		log.Warn("integrity finding", zap.String("kind", f.Kind.String()), zap.String("detail", f.String()))
	}
	log.Info("integrity audit complete",
		zap.Int("documents", rep.Documents),
		zap.Int("overlaps", rep.Overlaps),
		zap.Int("gaps", rep.Gaps),
	)
	return rep, nil
}

// Print writes the audit summary followed by every finding.
func (r *AuditReport) Print(w io.Writer) {
	fmt.Fprintf(w, "Documents:  %d\n", r.Documents)
	fmt.Fprintf(w, "Contracts:  %d (%d dropped)\n", r.Contracts, r.Dropped)
	fmt.Fprintf(w, "Overlaps:   %d\n", r.Overlaps)
	fmt.Fprintf(w, "Gaps > %dd: %d\n", r.GapDays, r.Gaps)
	if len(r.Findings) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, f := range r.Findings {
		fmt.Fprintln(w, f.String())
	}
}
