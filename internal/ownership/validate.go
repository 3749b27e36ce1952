package ownership

import (
	"fmt"
	"time"
)

// DefaultGapDays is the uncovered span, in days, above which a gap is reported.
const DefaultGapDays = 30

// FindingKind distinguishes the integrity findings.
type FindingKind int

const (
	FindingOverlap FindingKind = iota + 1
	FindingGap
)

// String returns the finding kind name.
func (k FindingKind) String() string {
	switch k {
	case FindingOverlap:
		return "overlap"
	case FindingGap:
		return "gap"
	default:
		return "unknown"
	}
}

// Finding is one integrity observation about a document's coverage.
// For a gap, Days counts the uncovered days between First.End and Second.Start.
type Finding struct {
	Kind     FindingKind
	Document string
	First    Interval
	Second   Interval
	Days     int
}

// String renders the finding for logs and console output.
func (f Finding) String() string {
	switch f.Kind {
	case FindingOverlap:
		return fmt.Sprintf("overlap on %s: %s %s..%s (%s) and %s %s..%s (%s)",
			f.Document,
			f.First.ContractID, fmtDay(f.First.Start), fmtDay(f.First.End), f.First.Tenant.LegacyCode,
			f.Second.ContractID, fmtDay(f.Second.Start), fmtDay(f.Second.End), f.Second.Tenant.LegacyCode)
	case FindingGap:
		return fmt.Sprintf("gap on %s: %d uncovered days between %s and %s",
			f.Document, f.Days, fmtDay(f.First.End), fmtDay(f.Second.Start))
	default:
		return "unknown finding"
	}
}

func fmtDay(t time.Time) string {
	if t.Equal(OpenEnd) {
		return "open"
	}
	return t.Format("2006-01-02")
}

// Validate audits the map. It reports every pair of intervals that share a day
// but belong to different tenants, and every uncovered span between
// chronologically adjacent intervals longer than gapDays. It does not modify m.
func Validate(m *Map, gapDays int) []Finding {
	if m == nil {
		return nil
	}
	if gapDays < 0 {
		gapDays = DefaultGapDays
	}

	var findings []Finding
	for _, doc := range m.Documents() {
		ivs := m.byDoc[doc]
		findings = append(findings, overlaps(doc, ivs)...)
		findings = append(findings, gaps(doc, ivs, gapDays)...)
	}
	return findings
}

// overlaps relies on ivs being sorted by start: once a later start passes the
// current end no further interval can overlap it.
func overlaps(doc string, ivs []Interval) []Finding {
	var out []Finding
	for i := 0; i < len(ivs); i++ {
		for j := i + 1; j < len(ivs); j++ {
			if ivs[j].Start.After(ivs[i].End) {
				break
			}
			if ivs[i].Tenant.ID == ivs[j].Tenant.ID {
				continue
			}
			out = append(out, Finding{Kind: FindingOverlap, Document: doc, First: ivs[i], Second: ivs[j]})
		}
	}
	return out
}

// gaps tracks the furthest end seen so far, so an interval nested inside a
// longer one does not produce a spurious gap.
func gaps(doc string, ivs []Interval, gapDays int) []Finding {
	if len(ivs) < 2 {
		return nil
	}
	var out []Finding
	reach := ivs[0]
	for _, next := range ivs[1:] {
		if reach.Open() {
			break
		}
		uncovered := int(next.Start.Sub(reach.End).Hours()/24) - 1
		if uncovered > gapDays {
			out = append(out, Finding{Kind: FindingGap, Document: doc, First: reach, Second: next, Days: uncovered})
		}
		if next.End.After(reach.End) {
			reach = next
		}
	}
	return out
}
