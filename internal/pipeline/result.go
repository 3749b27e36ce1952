package pipeline

import (
	"github.com/gestk/legacy-etl/internal/ownership"
	"github.com/gestk/legacy-etl/internal/target"
)

// SkipReason says why a row produced no target record.
type SkipReason int

const (
	// Loaded means the row was not skipped.
	Loaded SkipReason = iota
	// SkipNoDocument means the entity reference had no valid document.
	SkipNoDocument
	// SkipNoTenant means no contract covered the event date.
	SkipNoTenant
	// SkipInvalidRow means required business fields were missing or malformed.
	SkipInvalidRow
)

func (r SkipReason) String() string {
	switch r {
	case Loaded:
		return "loaded"
	case SkipNoDocument:
		return "no_document"
	case SkipNoTenant:
		return "no_tenant"
	case SkipInvalidRow:
		return "invalid_row"
	default:
		return "unknown"
	}
}

// Result is the per-row outcome: a record to load, or a skip reason.
type Result struct {
	Record target.Record
	Skip   SkipReason
	Detail string
}

// Load wraps a record ready for loading.
func Load(rec target.Record) Result { return Result{Record: rec} }

// Skip records why a row was dropped.
func Skip(reason SkipReason, detail string) Result {
	return Result{Skip: reason, Detail: detail}
}

// Invalid is shorthand for Skip(SkipInvalidRow, detail).
func Invalid(detail string) Result { return Skip(SkipInvalidRow, detail) }

func skipFor(o ownership.Outcome) SkipReason {
	switch o {
	case ownership.NoDocument:
		return SkipNoDocument
	case ownership.NoTenant:
		return SkipNoTenant
	default:
		return Loaded
	}
}
