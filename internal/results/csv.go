package results

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/apexsales/leadscore/internal/model"
)

var exportHeader = []string{
	"ID", "Name", "AI Score", "AI Reason",
	"Pipeline", "Status", "Phone", "Email",
	"Created At", "Updated At",
}

func exportRow(sl model.ScoredLead) []string {
	return []string{
		strconv.Itoa(sl.ID),
		sl.Name,
		strconv.Itoa(sl.AIScore),
		sl.AIReason,
		sl.PipelineName(),
		sl.StatusName(),
		sl.Phone.Join(""),
		sl.Email.Join(""),
		model.FormatDate(sl.CreatedAt),
		model.FormatDate(sl.UpdatedAt),
	}
}

// WriteCSV writes the set to w in ascending lead ID order.
func WriteCSV(w io.Writer, set Set) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return eris.Wrap(err, "csv: write header")
	}
	for _, id := range set.IDs() {
		if err := cw.Write(exportRow(set[id])); err != nil {
			return eris.Wrapf(err, "csv: write lead %d", id)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}

// ReadCSV parses an export back into dst. The header row and rows with
// fewer than six fields are skipped, and an ID already in dst is never
// overwritten: imports backfill, live scores win.
func ReadCSV(r io.Reader, dst Set) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	imported := 0
	first := true
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return imported, nil
		}
		if err != nil {
			return imported, eris.Wrap(err, "csv: read row")
		}
		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(row[0]), "ID") {
				continue
			}
		}
		if len(row) < 6 {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil || id == 0 {
			continue
		}
		if _, exists := dst[id]; exists {
			continue
		}

		score, err := strconv.Atoi(strings.TrimSpace(row[2]))
		if err != nil {
			score = model.NeutralScore
		}

		sl := model.ScoredLead{
			Lead: model.Lead{
				ID:       id,
				Name:     row[1],
				Pipeline: &model.PipelineRef{Name: row[4]},
				Status:   &model.StatusRef{Name: row[5]},
			},
			AIScore:  score,
			AIReason: row[3],
		}
		if len(row) > 6 && row[6] != "" {
			sl.Phone = model.ContactList{{Value: row[6]}}
		}
		if len(row) > 7 && row[7] != "" {
			sl.Email = model.ContactList{{Value: row[7]}}
		}
		dst[id] = sl
		imported++
	}
}
