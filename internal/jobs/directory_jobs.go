package jobs

import (
	"time"

	"github.com/gestk/legacy-etl/internal/document"
	"github.com/gestk/legacy-etl/internal/legacy"
	"github.com/gestk/legacy-etl/internal/ownership"
	"github.com/gestk/legacy-etl/internal/pipeline"
	"github.com/gestk/legacy-etl/internal/target"
)

// Model companies are templates inside the legacy system, not clients.
const (
	modelCompanyFirst = 9997
	modelCompanyLast  = 10001
)

// tenantsJob imports the accounting firms: legacy companies that hold at
// least one contract.
type tenantsJob struct{}

func (tenantsJob) Name() string { return "tenants" }

func (tenantsJob) Table() target.Table {
	return target.Table{
		Name:         "etl.tenants",
		Columns:      []string{"id", "legacy_code", "name", "trade_name", "document"},
		ConflictKeys: []string{"id"},
	}
}

func (tenantsJob) Query(pipeline.Window) legacy.Query {
	return legacy.Query{SQL: `SELECT ge.codi_emp, ge.nome_emp, ge.fantasia_emp, ge.cgce_emp
FROM bethadba.geempre ge
WHERE ge.codi_emp IN (SELECT DISTINCT codi_emp FROM bethadba.hrcontrato)
ORDER BY ge.codi_emp`}
}

func (tenantsJob) Subject(row legacy.Row) (pipeline.Subject, bool) {
	code := row.String("codi_emp")
	return pipeline.Subject{Ref: code}, code != ""
}

func (tenantsJob) Transform(row legacy.Row, res ownership.Resolution) pipeline.Result {
	name := row.String("nome_emp")
	if name == "" {
		return pipeline.Invalid("firm without name")
	}
	t := ownership.NewTenant(res.Tenant.LegacyCode, name)
	var doc any
	if d, ok := document.Normalize(row.String("cgce_emp")); ok {
		doc = d.Key()
	}
	return pipeline.Load(target.Record{
		Key: t.LegacyCode,
		Values: map[string]any{
			"id":          t.ID,
			"legacy_code": t.LegacyCode,
			"name":        t.Name,
			"trade_name":  nullable(row.String("fantasia_emp")),
			"document":    doc,
		},
	})
}

// legalEntitiesJob imports every legacy company with a usable document.
// Entities are global; the same document under several codes collapses to
// one entity.
type legalEntitiesJob struct{}

func (legalEntitiesJob) Name() string { return "legal_entities" }

func (legalEntitiesJob) Table() target.Table {
	return target.Table{
		Name:         "etl.legal_entities",
		Columns:      []string{"id", "kind", "document", "legacy_id", "name", "search_name", "trade_name"},
		ConflictKeys: []string{"id"},
	}
}

func (legalEntitiesJob) Query(pipeline.Window) legacy.Query {
	return legacy.Query{SQL: `SELECT ge.codi_emp, ge.nome_emp, ge.fantasia_emp, ge.cgce_emp
FROM bethadba.geempre ge
ORDER BY ge.codi_emp`}
}

func (legalEntitiesJob) Subject(row legacy.Row) (pipeline.Subject, bool) {
	return pipeline.Subject{Ref: row.String("cgce_emp")}, row.String("codi_emp") != ""
}

func (legalEntitiesJob) Transform(row legacy.Row, res ownership.Resolution) pipeline.Result {
	name := firstNonEmpty(row.String("nome_emp"), row.String("fantasia_emp"), res.Document.Key())
	e := document.LegalEntity{Doc: res.Document, LegacyID: row.String("codi_emp"), Name: name}
	return pipeline.Load(target.Record{
		Key: e.Doc.Key(),
		Values: map[string]any{
			"id":          e.ID(),
			"kind":        e.Kind().String(),
			"document":    e.Doc.Key(),
			"legacy_id":   e.LegacyID,
			"name":        e.Name,
			"search_name": e.SearchName(),
			"trade_name":  nullable(row.String("fantasia_emp")),
		},
	})
}

// contractsJob imports the dated links between firms and client entities.
// The tenant comes from the firm code, not from the ownership map the
// contracts themselves build.
type contractsJob struct{}

func (contractsJob) Name() string { return "contracts" }

func (contractsJob) InvalidatesMap() bool { return true }

func (contractsJob) Table() target.Table {
	return target.Table{
		Name: "etl.contracts",
		Columns: []string{"legacy_id", "tenant_id", "entity_id", "start_date", "end_date",
			"active", "monthly_fee", "due_day"},
		ConflictKeys: []string{"legacy_id"},
	}
}

func (contractsJob) Query(pipeline.Window) legacy.Query {
	return legacy.Query{
		SQL: `SELECT hc.codi_emp AS firm_code, hc.i_contrato AS contract_id,
	ge.codi_emp AS client_code, ge.cgce_emp AS client_document,
	hc.data_inicio_faturamento AS start_date, hc.data_termino AS end_date,
	hc.dia_vencimento AS due_day, hc.valor_contrato AS monthly_fee
FROM bethadba.hrcontrato hc
JOIN bethadba.hrvcliente hvc ON hc.i_cliente = hvc.i_cliente AND hc.codi_emp = hvc.codigo_escritorio
JOIN bethadba.geempre ge ON hvc.i_cliente_fixo = ge.codi_emp
WHERE ge.codi_emp NOT BETWEEN ? AND ?
ORDER BY hc.codi_emp, hc.i_contrato`,
		Args: []any{modelCompanyFirst, modelCompanyLast},
	}
}

func (contractsJob) Subject(row legacy.Row) (pipeline.Subject, bool) {
	firm := row.String("firm_code")
	return pipeline.Subject{Ref: firm}, firm != "" && row.String("contract_id") != ""
}

func (contractsJob) Transform(row legacy.Row, res ownership.Resolution) pipeline.Result {
	doc, ok := document.Normalize(row.String("client_document"))
	if !ok {
		return pipeline.Skip(pipeline.SkipNoDocument, "client "+row.String("client_code"))
	}
	start, ok := row.Time("start_date")
	if !ok {
		return pipeline.Invalid("contract without start date")
	}
	start = ownership.Day(start)

	var endDate any
	active := true
	if end, ok := row.Time("end_date"); ok {
		end = ownership.Day(end)
		if end.Before(start) {
			return pipeline.Invalid("contract ends before it starts")
		}
		endDate = end
		active = !end.Before(ownership.Day(time.Now()))
	}

	var fee any
	if d, ok := row.Decimal("monthly_fee"); ok {
		fee = d.Round(2)
	}
	var dueDay any
	if n, ok := row.Int64("due_day"); ok && n >= 1 && n <= 31 {
		dueDay = n
	}

	id := res.Tenant.LegacyCode + "-" + row.String("contract_id")
	return pipeline.Load(target.Record{
		Key: id,
		Values: map[string]any{
			"legacy_id":   id,
			"tenant_id":   res.Tenant.ID,
			"entity_id":   document.LegalEntity{Doc: doc}.ID(),
			"start_date":  start,
			"end_date":    endDate,
			"active":      active,
			"monthly_fee": fee,
			"due_day":     dueDay,
		},
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
