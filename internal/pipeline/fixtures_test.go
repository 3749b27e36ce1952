package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gestk/legacy-etl/internal/document"
	"github.com/gestk/legacy-etl/internal/legacy"
	"github.com/gestk/legacy-etl/internal/ownership"
	"github.com/gestk/legacy-etl/internal/target"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	tenantA  = ownership.NewTenant("10", "Escritorio Alfa")
	tenantB  = ownership.NewTenant("20", "Escritorio Beta")
	fixedNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// sliceSource serves in-memory rows.
type sliceSource struct {
	rows    []legacy.Row
	streams int
	after   func(batch int) // hook run after each batch is handed out
}

func (s *sliceSource) LookupDocument(context.Context, string) (string, bool, error) {
	return "", false, errors.New("not used")
}

func (s *sliceSource) Stream(ctx context.Context, _ legacy.Query, batchSize, limit int, fn func([]legacy.Row) error) error {
	s.streams++
	rows := s.rows
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	for i, b := 0, 0; i < len(rows); i, b = i+batchSize, b+1 {
		end := min(i+batchSize, len(rows))
		if err := fn(rows[i:end]); err != nil {
			return err
		}
		if s.after != nil {
			s.after(b)
		}
	}
	return nil
}

func (s *sliceSource) Close() error { return nil }

// memSink is an atomic in-memory target keyed by record key.
type memSink struct {
	mu     sync.Mutex
	data   map[string]map[string]any
	loads  int
	counts int
	failOn map[int]bool // 1-based Load call numbers that fail
}

func newMemSink() *memSink {
	return &memSink{data: make(map[string]map[string]any), failOn: make(map[int]bool)}
}

func (s *memSink) Load(_ context.Context, _ target.Table, recs []target.Record) (target.LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.failOn[s.loads] {
		return target.LoadResult{}, errors.New("duplicate key value violates unique constraint")
	}
	var res target.LoadResult
	for _, r := range recs {
		if _, ok := s.data[r.Key]; ok {
			res.Updated++
		} else {
			res.Created++
		}
		s.data[r.Key] = r.Values
	}
	return res, nil
}

func (s *memSink) CountExisting(_ context.Context, _ target.Table, recs []target.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts++
	var n int64
	for _, r := range recs {
		if _, ok := s.data[r.Key]; ok {
			n++
		}
	}
	return n, nil
}

func (s *memSink) snapshot() map[string]map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// ledgerJob is a minimal ledger import.
type ledgerJob struct{}

func (ledgerJob) Name() string { return "ledger" }

func (ledgerJob) Table() target.Table {
	return target.Table{
		Name:         "etl.ledger_entries",
		Columns:      []string{"tenant_id", "entry", "amount"},
		ConflictKeys: []string{"tenant_id", "entry"},
	}
}

func (ledgerJob) Query(Window) legacy.Query { return legacy.Query{SQL: "SELECT * FROM ctlancto"} }

func (ledgerJob) Subject(row legacy.Row) (Subject, bool) {
	at, ok := row.Time("data_lan")
	ref := row.String("codi_emp")
	return Subject{Ref: ref, At: at}, ok && ref != ""
}

func (ledgerJob) Transform(row legacy.Row, res ownership.Resolution) Result {
	amount, ok := row.Decimal("vlor_lan")
	if !ok {
		return Invalid("amount")
	}
	entry := row.String("nume_lan")
	return Load(target.Record{
		Key: res.Tenant.ID.String() + "|" + entry,
		Values: map[string]any{
			"tenant_id": res.Tenant.ID,
			"entry":     entry,
			"amount":    amount,
		},
	})
}

func ledgerRow(ref string, entry int, at string, amount string) legacy.Row {
	return legacy.Row{
		"codi_emp": ref,
		"nume_lan": fmt.Sprint(entry),
		"data_lan": at,
		"vlor_lan": amount,
	}
}

// staticContracts and staticDocs back a real ownership.Resolver.
type staticContracts []ownership.Contract

func (c staticContracts) Contracts(context.Context) ([]ownership.Contract, error) { return c, nil }

type staticDocs map[string]string

func (d staticDocs) LookupDocument(_ context.Context, ref string) (string, bool, error) {
	doc, ok := d[ref]
	return doc, ok, nil
}

// goldenRuleResolver: entity 501 belonged to A through 2020, then to B.
func goldenRuleResolver() *ownership.Resolver {
	end := day(2020, 12, 31)
	entity := document.LegalEntity{Doc: document.MustParse("12345678000199"), LegacyID: "501"}
	contracts := staticContracts{
		{LegacyID: "10-1", Tenant: tenantA, Entity: entity, Start: day(2019, 1, 1), End: &end},
		{LegacyID: "20-1", Tenant: tenantB, Entity: entity, Start: day(2021, 1, 1)},
	}
	return ownership.NewResolver(contracts, staticDocs{"501": "12.345.678/0001-99"}, ownership.Options{})
}

type errResolver struct{ err error }

func (r errResolver) Resolve(context.Context, string, time.Time) (ownership.Resolution, error) {
	return ownership.Resolution{}, r.err
}

func newTestPipeline(src legacy.Source, sink target.Sink, opts Options) *Pipeline {
	p := New(src, sink, opts)
	p.now = func() time.Time { return fixedNow }
	return p
}
