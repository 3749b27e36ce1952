package jobs

import (
	"context"
	"errors"
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

const (
	clientDoc = "12345678000199"
	firmAlfa  = "10"
	firmBeta  = "20"
)

var (
	tenantAlfa = ownership.NewTenant(firmAlfa, "Escritorio Alfa")
	tenantBeta = ownership.NewTenant(firmBeta, "Escritorio Beta")
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// rowSource streams fixed rows regardless of the query, recording each query.
type rowSource struct {
	rows    []legacy.Row
	docs    map[string]string
	queries []legacy.Query
}

func (s *rowSource) LookupDocument(_ context.Context, ref string) (string, bool, error) {
	d, ok := s.docs[ref]
	return d, ok, nil
}

func (s *rowSource) Stream(_ context.Context, q legacy.Query, batchSize, limit int, fn func([]legacy.Row) error) error {
	s.queries = append(s.queries, q)
	rows := s.rows
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	for i := 0; i < len(rows); i += batchSize {
		if err := fn(rows[i:min(i+batchSize, len(rows))]); err != nil {
			return err
		}
	}
	return nil
}

func (s *rowSource) Close() error { return nil }

// memSink keeps loaded records per table.
type memSink struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]any
}

func newMemSink() *memSink {
	return &memSink{tables: make(map[string]map[string]map[string]any)}
}

func (s *memSink) Load(_ context.Context, t target.Table, recs []target.Record) (target.LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl := s.tables[t.Name]
	if tbl == nil {
		tbl = make(map[string]map[string]any)
		s.tables[t.Name] = tbl
	}
	var res target.LoadResult
	for _, r := range recs {
		if _, ok := tbl[r.Key]; ok {
			res.Updated++
		} else {
			res.Created++
		}
		tbl[r.Key] = r.Values
	}
	return res, nil
}

func (s *memSink) CountExisting(_ context.Context, t target.Table, recs []target.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range recs {
		if _, ok := s.tables[t.Name][r.Key]; ok {
			n++
		}
	}
	return n, nil
}

func (s *memSink) table(name string) map[string]map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[name] == nil {
		return nil
	}
	out := make(map[string]map[string]any, len(s.tables[name]))
	for k, v := range s.tables[name] {
		out[k] = v
	}
	return out
}

type staticContracts struct {
	contracts []ownership.Contract
	calls     int
}

func (s *staticContracts) Contracts(context.Context) ([]ownership.Contract, error) {
	s.calls++
	return s.contracts, nil
}

type staticTenants struct {
	tenants map[string]ownership.Tenant
	err     error
	calls   int
}

func (s *staticTenants) Tenants(context.Context) (map[string]ownership.Tenant, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.tenants, nil
}

var errTenantsDown = errors.New("connection refused")

func contract(id string, t ownership.Tenant, start time.Time, end *time.Time) ownership.Contract {
	e, err := document.NewLegalEntity(clientDoc, "500", "Cliente Exemplo Ltda")
	if err != nil {
		panic(err)
	}
	return ownership.Contract{LegacyID: id, Tenant: t, Entity: e, Start: start, End: end, Active: end == nil}
}

func ptr(t time.Time) *time.Time { return &t }

// goldenRuleContracts: Alfa owns the client through 2020, Beta from 2021.
func goldenRuleContracts() *staticContracts {
	return &staticContracts{contracts: []ownership.Contract{
		contract("10-1", tenantAlfa, day(2019, 1, 1), ptr(day(2020, 12, 31))),
		contract("20-7", tenantBeta, day(2021, 1, 1), nil),
	}}
}
