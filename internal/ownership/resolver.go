package ownership

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gestk/legacy-etl/internal/document"
)

// Outcome classifies a resolution. Only source failures are errors; every
// data-quality miss is an Outcome.
type Outcome int

const (
	Resolved Outcome = iota
	NoDocument
	NoTenant
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case NoDocument:
		return "no_document"
	case NoTenant:
		return "no_tenant"
	default:
		return "unknown"
	}
}

// Resolution is the answer to "who owned ref at date".
type Resolution struct {
	Outcome  Outcome
	Tenant   Tenant
	Interval Interval
	Document document.Document
}

// Found reports whether a tenant was resolved.
func (r Resolution) Found() bool { return r.Outcome == Resolved }

// Stats is a snapshot of the resolution context counters.
type Stats struct {
	MapHits      int64 `json:"map_hits"`
	MapMisses    int64 `json:"map_misses"`
	MapBuilds    int64 `json:"map_builds"`
	LookupHits   int64 `json:"lookup_hits"`
	LookupMisses int64 `json:"lookup_misses"`
	Resolved     int64 `json:"resolved"`
	NoDocument   int64 `json:"no_document"`
	NoTenant     int64 `json:"no_tenant"`
}

// Sub returns the counters accumulated since an earlier snapshot.
func (s Stats) Sub(earlier Stats) Stats {
	return Stats{
		MapHits:      s.MapHits - earlier.MapHits,
		MapMisses:    s.MapMisses - earlier.MapMisses,
		MapBuilds:    s.MapBuilds - earlier.MapBuilds,
		LookupHits:   s.LookupHits - earlier.LookupHits,
		LookupMisses: s.LookupMisses - earlier.LookupMisses,
		Resolved:     s.Resolved - earlier.Resolved,
		NoDocument:   s.NoDocument - earlier.NoDocument,
		NoTenant:     s.NoTenant - earlier.NoTenant,
	}
}

// HitRate returns the combined cache hit ratio in [0, 1].
func (s Stats) HitRate() float64 {
	hits := s.MapHits + s.LookupHits
	total := hits + s.MapMisses + s.LookupMisses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Resolver applies the Golden Rule: a legacy record belongs to the tenant that
// owned the issuing entity on the record's event date. A Resolver is the
// resolution context of one job run; it is safe for concurrent use.
type Resolver struct {
	maps   *MapCache
	lookup *Lookup

	resolved   atomic.Int64
	noDocument atomic.Int64
	noTenant   atomic.Int64
}

// Options configures a Resolver.
type Options struct {
	MapTTL        time.Duration
	LookupTTL     time.Duration
	LookupTimeout time.Duration
}

// NewResolver wires the contract directory and the legacy document source.
func NewResolver(contracts ContractSource, docs DocumentSource, opts Options) *Resolver {
	return &Resolver{
		maps:   NewMapCache(contracts, opts.MapTTL),
		lookup: NewLookup(docs, opts.LookupTTL, opts.LookupTimeout),
	}
}

// Resolve returns the tenant owning ref's entity on day at. An empty ref or a
// zero date is a miss, never an error.
func (r *Resolver) Resolve(ctx context.Context, ref string, at time.Time) (Resolution, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		r.noDocument.Add(1)
		return Resolution{Outcome: NoDocument}, nil
	}

	raw, found, err := r.lookup.Get(ctx, ref)
	if err != nil {
		return Resolution{}, err
	}
	doc, ok := document.Normalize(raw)
	if !found || !ok {
		r.noDocument.Add(1)
		return Resolution{Outcome: NoDocument}, nil
	}

	return r.ResolveDocument(ctx, doc, at)
}

// ResolveDocument skips the legacy lookup for callers that already hold the document.
func (r *Resolver) ResolveDocument(ctx context.Context, doc document.Document, at time.Time) (Resolution, error) {
	if !doc.Valid() {
		r.noDocument.Add(1)
		return Resolution{Outcome: NoDocument}, nil
	}
	m, err := r.maps.Get(ctx)
	if err != nil {
		return Resolution{}, err
	}
	iv, ok := m.TenantAt(doc, at)
	if !ok {
		r.noTenant.Add(1)
		return Resolution{Outcome: NoTenant, Document: doc}, nil
	}
	r.resolved.Add(1)
	return Resolution{Outcome: Resolved, Tenant: iv.Tenant, Interval: iv, Document: doc}, nil
}

// Map returns the current ownership map, building it if needed.
func (r *Resolver) Map(ctx context.Context) (*Map, error) { return r.maps.Get(ctx) }

// Invalidate forces the next resolution to rebuild the map and re-query
// entity documents.
func (r *Resolver) Invalidate() {
	r.maps.Invalidate()
	r.lookup.Invalidate()
}

// Stats returns a snapshot of the cache and outcome counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		MapHits:      r.maps.hits.Load(),
		MapMisses:    r.maps.misses.Load(),
		MapBuilds:    r.maps.builds.Load(),
		LookupHits:   r.lookup.hits.Load(),
		LookupMisses: r.lookup.misses.Load(),
		Resolved:     r.resolved.Load(),
		NoDocument:   r.noDocument.Load(),
		NoTenant:     r.noTenant.Load(),
	}
}
