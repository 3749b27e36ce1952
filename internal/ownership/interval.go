// Package ownership answers "which tenant owned this legal entity on that date".
//
// The contract directory is laid out as an in-memory interval map keyed by
// normalized document. The Resolver composes that map with a cached
// entity-reference lookup against the legacy source, and Validate audits the
// map for overlapping or gapped coverage.
package ownership

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/gestk/legacy-etl/internal/document"
)

// OpenEnd stands in for a missing contract end date in interval math.
var OpenEnd = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// tenantNamespace seeds tenant IDs derived from legacy firm codes.
var tenantNamespace = uuid.MustParse("0f3c0a43-95c4-4b8e-8a0e-2a4d2c9b7e51")

// Tenant is an accounting firm. Tenants are immutable once created.
type Tenant struct {
	ID         uuid.UUID `json:"id"`
	LegacyCode string    `json:"legacy_code"`
	Name       string    `json:"name"`
}

// TenantID derives the stable tenant identifier for a legacy firm code.
func TenantID(legacyCode string) uuid.UUID {
	return uuid.NewSHA1(tenantNamespace, []byte(strings.TrimSpace(legacyCode)))
}

// NewTenant builds a Tenant whose ID is derived from its legacy code.
func NewTenant(legacyCode, name string) Tenant {
	code := strings.TrimSpace(legacyCode)
	return Tenant{ID: TenantID(code), LegacyCode: code, Name: strings.TrimSpace(name)}
}

// Contract is a dated ownership interval of one legal entity by one tenant.
type Contract struct {
	LegacyID string
	Tenant   Tenant
	Entity   document.LegalEntity
	Start    time.Time
	End      *time.Time // nil = open
	Active   bool
}

// Interval is one entry of the map: [Start, End] inclusive, at day precision.
type Interval struct {
	Start      time.Time
	End        time.Time
	Tenant     Tenant
	ContractID string
}

// Open reports whether the interval has no end date.
func (iv Interval) Open() bool { return iv.End.Equal(OpenEnd) }

// Contains reports whether day t falls inside the interval.
func (iv Interval) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(iv.Start) && !d.After(iv.End)
}

// Overlaps reports whether two intervals share at least one day.
func (iv Interval) Overlaps(o Interval) bool {
	return !iv.Start.After(o.End) && !o.Start.After(iv.End)
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var eventDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02/01/2006",
}

// ParseEventDate parses a legacy date string. Malformed dates such as
// "2020-12-32" are errors, never a default.
func ParseEventDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("ownership: empty event date")
	}
	var lastErr error
	for _, layout := range eventDateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return Day(t), nil
		}
		lastErr = err
	}
	return time.Time{}, eris.Wrapf(lastErr, "ownership: parse event date %q", s)
}

// Map indexes contract intervals by normalized document, each list sorted by
// start ascending. It is derived data and never persisted.
type Map struct {
	byDoc     map[string][]Interval
	builtAt   time.Time
	contracts int
	dropped   int
}

// Build lays out the contract directory as a Map. It never fails on dirty data:
// contracts without a valid document or start date are dropped and counted,
// and overlaps are left for Validate to report.
func Build(contracts []Contract) *Map {
	m := &Map{byDoc: make(map[string][]Interval), builtAt: time.Now()}

	for _, c := range contracts {
		key := c.Entity.Doc.Key()
		if key == "" || c.Start.IsZero() {
			m.dropped++
			continue
		}
		end := OpenEnd
		if c.End != nil && !c.End.IsZero() {
			end = Day(*c.End)
		}
		m.byDoc[key] = append(m.byDoc[key], Interval{
			Start:      Day(c.Start),
			End:        end,
			Tenant:     c.Tenant,
			ContractID: c.LegacyID,
		})
		m.contracts++
	}

	for _, ivs := range m.byDoc {
		sortIntervals(ivs)
	}
	return m
}

// sortIntervals orders by start, then end, then contract id so that the
// earliest-starting match is deterministic whatever the directory order was.
func sortIntervals(ivs []Interval) {
	sort.SliceStable(ivs, func(i, j int) bool {
		a, b := ivs[i], ivs[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		return a.ContractID < b.ContractID
	})
}

// Intervals returns the sorted intervals for a document (nil when absent).
func (m *Map) Intervals(doc document.Document) []Interval {
	if m == nil {
		return nil
	}
	return m.byDoc[doc.Key()]
}

// TenantAt scans the document's intervals in start order and returns the
// first one covering day t. With overlapping contracts the earliest start wins.
func (m *Map) TenantAt(doc document.Document, t time.Time) (Interval, bool) {
	if t.IsZero() {
		return Interval{}, false
	}
	for _, iv := range m.Intervals(doc) {
		if iv.Contains(t) {
			return iv, true
		}
	}
	return Interval{}, false
}

// Documents returns the indexed document keys in ascending order.
func (m *Map) Documents() []string {
	keys := make([]string, 0, len(m.byDoc))
	for k := range m.byDoc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of distinct documents.
func (m *Map) Len() int { return len(m.byDoc) }

// Contracts returns how many contracts were laid out.
func (m *Map) Contracts() int { return m.contracts }

// Dropped returns how many contracts were ignored for lacking a document or start date.
func (m *Map) Dropped() int { return m.dropped }

// BuiltAt returns when the map was built.
func (m *Map) BuiltAt() time.Time { return m.builtAt }
