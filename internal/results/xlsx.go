package results

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/apexsales/leadscore/internal/model"
)

// WriteXLSX writes the set as a single-sheet workbook with the same
// columns as the CSV export.
func WriteXLSX(w io.Writer, set Set) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Scored Leads")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range exportHeader {
		header.AddCell().SetString(col)
	}

	for _, id := range set.IDs() {
		sl := set[id]
		row := sheet.AddRow()
		row.AddCell().SetInt(sl.ID)
		row.AddCell().SetString(sl.Name)
		row.AddCell().SetInt(sl.AIScore)
		row.AddCell().SetString(sl.AIReason)
		row.AddCell().SetString(sl.PipelineName())
		row.AddCell().SetString(sl.StatusName())
		row.AddCell().SetString(sl.Phone.Join(""))
		row.AddCell().SetString(sl.Email.Join(""))
		row.AddCell().SetString(model.FormatDate(sl.CreatedAt))
		row.AddCell().SetString(model.FormatDate(sl.UpdatedAt))
	}

	return eris.Wrap(file.Write(w), "xlsx: write workbook")
}
