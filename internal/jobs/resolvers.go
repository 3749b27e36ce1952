package jobs

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gestk/legacy-etl/internal/document"
	"github.com/gestk/legacy-etl/internal/ownership"
)

// selfResolver attributes a firm to itself: ref is the firm's legacy code.
type selfResolver struct{}

func (selfResolver) Resolve(_ context.Context, ref string, _ time.Time) (ownership.Resolution, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ownership.Resolution{Outcome: ownership.NoTenant}, nil
	}
	return ownership.Resolution{Outcome: ownership.Resolved, Tenant: ownership.NewTenant(ref, "")}, nil
}

// documentResolver resolves global rows, which have no tenant: ref is a raw
// document and resolution only checks that it normalizes.
type documentResolver struct{}

func (documentResolver) Resolve(_ context.Context, ref string, _ time.Time) (ownership.Resolution, error) {
	doc, ok := document.Normalize(ref)
	if !ok {
		return ownership.Resolution{Outcome: ownership.NoDocument}, nil
	}
	return ownership.Resolution{Outcome: ownership.Resolved, Document: doc}, nil
}

// firmResolver maps a contract's firm code to the tenant already loaded for
// it. The tenant directory is read once per job run.
type firmResolver struct {
	src TenantSource

	once    sync.Once
	tenants map[string]ownership.Tenant
	err     error
}

func newFirmResolver(src TenantSource) *firmResolver {
	return &firmResolver{src: src}
}

func (r *firmResolver) Resolve(ctx context.Context, ref string, _ time.Time) (ownership.Resolution, error) {
	r.once.Do(func() {
		r.tenants, r.err = r.src.Tenants(ctx)
		if r.err != nil {
			r.err = eris.Wrap(r.err, "jobs: load tenant directory")
		}
	})
	if r.err != nil {
		return ownership.Resolution{}, r.err
	}
	t, ok := r.tenants[strings.TrimSpace(ref)]
	if !ok {
		return ownership.Resolution{Outcome: ownership.NoTenant}, nil
	}
	return ownership.Resolution{Outcome: ownership.Resolved, Tenant: t}, nil
}
