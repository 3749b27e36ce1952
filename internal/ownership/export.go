package ownership

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

var findingHeader = []string{
	"kind", "document", "days",
	"first_contract", "first_tenant", "first_start", "first_end",
	"second_contract", "second_tenant", "second_start", "second_end",
}

// WriteFindingsXLSX saves findings as a one-sheet workbook for operator review.
func WriteFindingsXLSX(path string, findings []Finding) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("findings")
	if err != nil {
		return eris.Wrap(err, "ownership: add findings sheet")
	}

	addRow(sheet, findingHeader)
	for _, fd := range findings {
		days := ""
		if fd.Kind == FindingGap {
			days = strconv.Itoa(fd.Days)
		}
		addRow(sheet, []string{
			fd.Kind.String(), fd.Document, days,
			fd.First.ContractID, fd.First.Tenant.LegacyCode, fmtDay(fd.First.Start), fmtDay(fd.First.End),
			fd.Second.ContractID, fd.Second.Tenant.LegacyCode, fmtDay(fd.Second.Start), fmtDay(fd.Second.End),
		})
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "ownership: save findings to %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}
