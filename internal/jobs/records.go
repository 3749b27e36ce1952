package jobs

import (
	"strconv"
	"strings"
	"time"

	"github.com/gestk/legacy-etl/internal/document"
	"github.com/gestk/legacy-etl/internal/legacy"
	"github.com/gestk/legacy-etl/internal/ownership"
	"github.com/gestk/legacy-etl/internal/pipeline"
	"github.com/gestk/legacy-etl/internal/target"
)

// The record jobs below attribute every row to the tenant that owned the
// issuing company on the row's own date. Subject.Ref is always the legacy
// company code; the resolver turns it into a document.

// ledgerJob imports accounting entries (CTLANCTO).
type ledgerJob struct{}

func (ledgerJob) Name() string { return "ledger_entries" }

func (ledgerJob) Table() target.Table {
	return target.Table{
		Name: "etl.ledger_entries",
		Columns: []string{"tenant_id", "company_code", "entry_number", "entry_date", "amount",
			"debit_account", "credit_account", "history"},
		ConflictKeys: []string{"tenant_id", "company_code", "entry_number"},
	}
}

func (ledgerJob) Query(w pipeline.Window) legacy.Query {
	return windowed(`SELECT l.codi_emp, l.nume_lan, l.data_lan, l.vlor_lan,
	l.cdeb_lan, l.ccre_lan, l.chis_lan
FROM bethadba.ctlancto l
WHERE l.vlor_lan > 0`, "l.data_lan", w, "ORDER BY l.codi_emp, l.nume_lan")
}

func (ledgerJob) Subject(row legacy.Row) (pipeline.Subject, bool) {
	return companySubject(row, "data_lan")
}

func (ledgerJob) Transform(row legacy.Row, res ownership.Resolution) pipeline.Result {
	number, ok := row.Int64("nume_lan")
	if !ok {
		return pipeline.Invalid("entry without number")
	}
	amount, ok := row.Decimal("vlor_lan")
	if !ok {
		return pipeline.Invalid("entry without amount")
	}
	at, _ := row.Time("data_lan")
	company := row.String("codi_emp")
	return pipeline.Load(target.Record{
		Key: key(res.Tenant.ID.String(), company, strconv.FormatInt(number, 10)),
		Values: map[string]any{
			"tenant_id":      res.Tenant.ID,
			"company_code":   company,
			"entry_number":   number,
			"entry_date":     ownership.Day(at),
			"amount":         amount.Round(2),
			"debit_account":  nullable(row.String("cdeb_lan")),
			"credit_account": nullable(row.String("ccre_lan")),
			"history":        nullable(row.String("chis_lan")),
		},
	})
}

// invoicesJob imports fiscal document headers: entries (EFENTRADAS), exits
// (EFSAIDAS) and services (EFSERVICOS).
type invoicesJob struct{}

var invoiceKinds = map[string]bool{"entry": true, "exit": true, "service": true}

func (invoicesJob) Name() string { return "invoices" }

func (invoicesJob) Table() target.Table {
	return target.Table{
		Name: "etl.invoices",
		Columns: []string{"tenant_id", "company_code", "doc_kind", "series", "number",
			"issue_date", "movement_date", "access_key", "partner_document", "partner_name",
			"total", "status"},
		ConflictKeys: []string{"tenant_id", "company_code", "doc_kind", "series", "number"},
	}
}

func (invoicesJob) Query(w pipeline.Window) legacy.Query {
	return windowed(`SELECT * FROM (
	SELECT 'entry' AS doc_kind, e.codi_emp, e.nume_ent AS number, e.seri_ent AS series,
		e.chave_nfe_ent AS access_key, e.dent_ent AS issue_date, e.data_entrada AS movement_date,
		f.cgce_for AS partner_document, f.nome_for AS partner_name,
		e.vcon_ent AS total, e.situacao_ent AS status
	FROM bethadba.efentradas e
	LEFT JOIN bethadba.effornece f ON f.codi_emp = e.codi_emp AND f.codi_for = e.codi_for
	UNION ALL
	SELECT 'exit', s.codi_emp, s.nume_sai, s.seri_sai,
		s.chave_nfe_sai, s.dsai_sai, s.data_saida,
		c.cgce_cli, c.nome_cli,
		s.vcon_sai, s.situacao_sai
	FROM bethadba.efsaidas s
	LEFT JOIN bethadba.efclientes c ON c.codi_emp = s.codi_emp AND c.codi_cli = s.codi_cli
	UNION ALL
	SELECT 'service', v.codi_emp, v.nume_ns, v.seri_ns,
		v.chave_nfe_ns, v.dtem_ns, v.dtpr_ns,
		t.cgce_tom, t.nome_tom,
		v.vtot_ns, v.situacao_ns
	FROM bethadba.efservicos v
	LEFT JOIN bethadba.eftomadores t ON t.codi_emp = v.codi_emp AND t.codi_tom = v.codi_tom
) d
WHERE d.total IS NOT NULL`, "d.issue_date", w, "ORDER BY d.codi_emp, d.doc_kind, d.number")
}

func (invoicesJob) Subject(row legacy.Row) (pipeline.Subject, bool) {
	return companySubject(row, "issue_date")
}

func (invoicesJob) Transform(row legacy.Row, res ownership.Resolution) pipeline.Result {
	kind := row.String("doc_kind")
	if !invoiceKinds[kind] {
		return pipeline.Invalid("unknown document kind " + kind)
	}
	number, ok := row.Int64("number")
	if !ok {
		return pipeline.Invalid("invoice without number")
	}
	total, ok := row.Decimal("total")
	if !ok {
		return pipeline.Invalid("invoice without total")
	}
	issued, _ := row.Time("issue_date")
	moved, hasMoved := row.Time("movement_date")
	if hasMoved {
		moved = ownership.Day(moved)
	}

	var partnerDoc any
	if d, ok := document.Normalize(row.String("partner_document")); ok {
		partnerDoc = d.Key()
	}

	company := row.String("codi_emp")
	series := strings.ToUpper(row.String("series"))
	return pipeline.Load(target.Record{
		Key: key(res.Tenant.ID.String(), company, kind, series, strconv.FormatInt(number, 10)),
		Values: map[string]any{
			"tenant_id":        res.Tenant.ID,
			"company_code":     company,
			"doc_kind":         kind,
			"series":           series,
			"number":           number,
			"issue_date":       ownership.Day(issued),
			"movement_date":    optionalTime(moved, hasMoved),
			"access_key":       nullable(row.String("access_key")),
			"partner_document": partnerDoc,
			"partner_name":     nullable(document.FoldName(row.String("partner_name"))),
			"total":            total.Round(2),
			"status":           nullable(row.String("status")),
		},
	})
}

// employeesJob imports the employee registry (FOEMPREGADOS). The registry is
// not windowed: an employee belongs to whoever owned the company on the
// admission date, however long ago that was.
type employeesJob struct{}

func (employeesJob) Name() string { return "employees" }

func (employeesJob) Table() target.Table {
	return target.Table{
		Name: "etl.employees",
		Columns: []string{"tenant_id", "legacy_id", "name", "cpf", "birth_date",
			"admission_date", "registration", "salary"},
		ConflictKeys: []string{"tenant_id", "legacy_id"},
	}
}

func (employeesJob) Query(pipeline.Window) legacy.Query {
	return legacy.Query{SQL: `SELECT e.codi_emp, e.i_empregados, e.nome, e.cpf, e.data_nascimento,
	e.admissao, e.matricula, e.salario
FROM bethadba.foempregados e
ORDER BY e.codi_emp, e.i_empregados`}
}

func (employeesJob) Subject(row legacy.Row) (pipeline.Subject, bool) {
	return companySubject(row, "admissao")
}

func (employeesJob) Transform(row legacy.Row, res ownership.Resolution) pipeline.Result {
	empID := row.String("i_empregados")
	name := document.FoldName(row.String("nome"))
	if empID == "" || name == "" {
		return pipeline.Invalid("employee without id or name")
	}
	admitted, _ := row.Time("admissao")
	born, hasBirth := row.Time("data_nascimento")
	if hasBirth {
		born = ownership.Day(born)
	}

	var cpf any
	if d, ok := document.Normalize(row.String("cpf")); ok && d.Kind() == document.KindIndividual {
		cpf = d.Key()
	}
	var salary any
	if d, ok := row.Decimal("salario"); ok {
		salary = d.Round(2)
	}

	id := employeeID(row)
	return pipeline.Load(target.Record{
		Key: key(res.Tenant.ID.String(), id),
		Values: map[string]any{
			"tenant_id":      res.Tenant.ID,
			"legacy_id":      id,
			"name":           name,
			"cpf":            cpf,
			"birth_date":     optionalTime(born, hasBirth),
			"admission_date": ownership.Day(admitted),
			"registration":   nullable(row.String("matricula")),
			"salary":         salary,
		},
	})
}

// payrollJob imports payroll amounts (FOMOVTOSERV), summed per employee,
// competence and rubric.
type payrollJob struct{}

func (payrollJob) Name() string { return "payroll_events" }

func (payrollJob) Table() target.Table {
	return target.Table{
		Name:         "etl.payroll_events",
		Columns:      []string{"tenant_id", "company_code", "employee_code", "competence", "rubric", "amount"},
		ConflictKeys: []string{"tenant_id", "company_code", "employee_code", "competence", "rubric"},
	}
}

func (payrollJob) Query(w pipeline.Window) legacy.Query {
	return windowed(`SELECT m.codi_emp, m.i_empregados, m.data AS competence,
	m.i_eventos AS rubric, SUM(m.valor_cal) AS amount
FROM bethadba.fomovtoserv m
WHERE m.valor_cal <> 0`, "m.data", w, `GROUP BY m.codi_emp, m.i_empregados, m.data, m.i_eventos
HAVING SUM(m.valor_cal) <> 0
ORDER BY m.codi_emp, m.i_empregados, m.data, m.i_eventos`)
}

func (payrollJob) Subject(row legacy.Row) (pipeline.Subject, bool) {
	return companySubject(row, "competence")
}

func (payrollJob) Transform(row legacy.Row, res ownership.Resolution) pipeline.Result {
	rubric, ok := row.Int64("rubric")
	if !ok {
		return pipeline.Invalid("payroll event without rubric")
	}
	amount, ok := row.Decimal("amount")
	if !ok {
		return pipeline.Invalid("payroll event without amount")
	}
	if row.String("i_empregados") == "" {
		return pipeline.Invalid("payroll event without employee")
	}
	competence, _ := row.Time("competence")
	competence = ownership.Day(competence)

	company := row.String("codi_emp")
	employee := employeeID(row)
	return pipeline.Load(target.Record{
		Key: key(res.Tenant.ID.String(), company, employee, competence.Format(time.DateOnly), strconv.FormatInt(rubric, 10)),
		Values: map[string]any{
			"tenant_id":     res.Tenant.ID,
			"company_code":  company,
			"employee_code": employee,
			"competence":    competence,
			"rubric":        rubric,
			"amount":        amount.Round(2),
		},
	})
}

// activityJob imports legacy user sessions (GELOGUSER).
type activityJob struct{}

func (activityJob) Name() string { return "activity_logs" }

func (activityJob) Table() target.Table {
	return target.Table{
		Name:         "etl.activity_logs",
		Columns:      []string{"tenant_id", "company_code", "user_name", "started_at", "system", "finished_at"},
		ConflictKeys: []string{"tenant_id", "company_code", "user_name", "started_at", "system"},
	}
}

func (activityJob) Query(w pipeline.Window) legacy.Query {
	return windowed(`SELECT g.codi_emp, g.usua_log, g.data_log, g.tini_log,
	g.dfim_log, g.tfim_log, g.sist_log
FROM bethadba.geloguser g
WHERE g.usua_log IS NOT NULL`, "g.data_log", w, "ORDER BY g.codi_emp, g.data_log, g.tini_log")
}

func (activityJob) Subject(row legacy.Row) (pipeline.Subject, bool) {
	return companySubject(row, "data_log")
}

func (activityJob) Transform(row legacy.Row, res ownership.Resolution) pipeline.Result {
	user := strings.ToUpper(row.String("usua_log"))
	system := row.String("sist_log")
	if user == "" || system == "" {
		return pipeline.Invalid("session without user or system")
	}
	day, _ := row.Time("data_log")
	started, ok := atClock(day, clockOf(row, "tini_log"))
	if !ok {
		return pipeline.Invalid("session without start time")
	}

	var finished any
	if endDay, ok := row.Time("dfim_log"); ok {
		if t, ok := atClock(endDay, clockOf(row, "tfim_log")); ok && !t.Before(started) {
			finished = t
		}
	}

	company := row.String("codi_emp")
	return pipeline.Load(target.Record{
		Key: key(res.Tenant.ID.String(), company, user, started.Format(time.DateTime), system),
		Values: map[string]any{
			"tenant_id":    res.Tenant.ID,
			"company_code": company,
			"user_name":    user,
			"started_at":   started,
			"system":       system,
			"finished_at":  finished,
		},
	})
}

// companySubject resolves on the company code and the date in dateCol.
func companySubject(row legacy.Row, dateCol string) (pipeline.Subject, bool) {
	code := row.String("codi_emp")
	at, ok := row.Time(dateCol)
	return pipeline.Subject{Ref: code, At: at}, ok && code != ""
}

// employeeID is the legacy employee identity, unique across companies.
func employeeID(row legacy.Row) string {
	return row.String("codi_emp") + "-" + row.String("i_empregados")
}

// clockOf returns the time-of-day text of col. Drivers hand TIME columns
// back either as text or as a time.Time on some arbitrary date.
func clockOf(row legacy.Row, col string) string {
	if t, ok := row[col].(time.Time); ok {
		return t.Format(time.TimeOnly)
	}
	return row.String(col)
}

var clockLayouts = []string{time.TimeOnly, "15:04", "2006-01-02 15:04:05", time.RFC3339}

// atClock places the wall-clock part of clock on day. An empty clock means
// midnight.
func atClock(day time.Time, clock string) (time.Time, bool) {
	d := ownership.Day(day)
	if clock == "" {
		return d, true
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, clock); err == nil {
			return d.Add(time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second), true
		}
	}
	return time.Time{}, false
}
