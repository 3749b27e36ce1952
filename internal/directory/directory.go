// Package directory reads tenants and contracts back from the target store.
// It is the contract directory the ownership map is built from.
package directory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gestk/legacy-etl/internal/db"
	"github.com/gestk/legacy-etl/internal/document"
	"github.com/gestk/legacy-etl/internal/ownership"
)

const contractsSQL = `SELECT c.legacy_id, c.start_date, c.end_date, c.active,
	t.id, t.legacy_code, t.name,
	e.document, e.legacy_id, e.name
FROM etl.contracts c
JOIN etl.tenants t ON t.id = c.tenant_id
JOIN etl.legal_entities e ON e.id = c.entity_id
ORDER BY e.document, c.start_date, c.legacy_id`

const tenantsSQL = `SELECT id, legacy_code, name FROM etl.tenants ORDER BY legacy_code`

// Postgres implements ownership.ContractSource over the etl schema.
type Postgres struct {
	pool db.Pool
}

// New creates a directory reader.
func New(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Contracts returns every contract with its tenant and legal entity. Rows
// whose stored document no longer normalizes are logged and left out.
func (d *Postgres) Contracts(ctx context.Context) ([]ownership.Contract, error) {
	rows, err := d.pool.Query(ctx, contractsSQL)
	if err != nil {
		return nil, eris.Wrap(err, "directory: query contracts")
	}
	defer rows.Close()

	var out []ownership.Contract
	var invalid int
	for rows.Next() {
		var (
			c        ownership.Contract
			end      *time.Time
			rawDoc   string
			entityID string
			entity   string
		)
		if err := rows.Scan(&c.LegacyID, &c.Start, &end, &c.Active,
			&c.Tenant.ID, &c.Tenant.LegacyCode, &c.Tenant.Name,
			&rawDoc, &entityID, &entity); err != nil {
			return nil, eris.Wrap(err, "directory: scan contract")
		}
		le, err := document.NewLegalEntity(rawDoc, entityID, entity)
		if err != nil {
			invalid++
			continue
		}
		c.Entity = le
		c.End = end
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "directory: iterate contracts")
	}
	if invalid > 0 {
		zap.L().Warn("directory: contracts with invalid documents ignored", zap.Int("count", invalid))
	}
	return out, nil
}

// Tenants returns all tenants keyed by legacy firm code.
func (d *Postgres) Tenants(ctx context.Context) (map[string]ownership.Tenant, error) {
	rows, err := d.pool.Query(ctx, tenantsSQL)
	if err != nil {
		return nil, eris.Wrap(err, "directory: query tenants")
	}
	defer rows.Close()

	out := make(map[string]ownership.Tenant)
	for rows.Next() {
		var (
			t  ownership.Tenant
			id uuid.UUID
		)
		if err := rows.Scan(&id, &t.LegacyCode, &t.Name); err != nil {
			return nil, eris.Wrap(err, "directory: scan tenant")
		}
		t.ID = id
		out[t.LegacyCode] = t
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "directory: iterate tenants")
	}
	return out, nil
}
