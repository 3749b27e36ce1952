package ownership

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gestk/legacy-etl/internal/document"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dayPtr(s string) *time.Time {
	t := day(s)
	return &t
}

func contract(t *testing.T, id, tenant, doc, start string, end *time.Time) Contract {
	t.Helper()
	e, err := document.NewLegalEntity(doc, "ent-"+doc, "Entity "+doc)
	require.NoError(t, err)
	return Contract{
		LegacyID: id,
		Tenant:   NewTenant(tenant, "Firm "+tenant),
		Entity:   e,
		Start:    day(start),
		End:      end,
		Active:   true,
	}
}

type fakeContracts struct {
	mu        sync.Mutex
	contracts []Contract
	calls     atomic.Int64
	err       error
	gate      chan struct{}
}

func (f *fakeContracts) Contracts(ctx context.Context) ([]Contract, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Contract, len(f.contracts))
	copy(out, f.contracts)
	return out, nil
}

func (f *fakeContracts) set(cs []Contract) {
	f.mu.Lock()
	f.contracts = cs
	f.mu.Unlock()
}

type fakeDocs struct {
	docs  map[string]string
	calls atomic.Int64
	err   error
	delay time.Duration
	// gate, when set, holds every call until closed; entered is signalled
	// on each call that reaches the gate.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeDocs) LookupDocument(ctx context.Context, ref string) (string, bool, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		<-f.gate
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
	if f.err != nil {
		return "", false, f.err
	}
	d, ok := f.docs[ref]
	return d, ok, nil
}
