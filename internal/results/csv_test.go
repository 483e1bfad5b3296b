package results

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexsales/leadscore/internal/model"
)

func exportLead(id int, name string, score int, reason string) model.ScoredLead {
	return model.ScoredLead{
		Lead: model.Lead{
			ID:        id,
			Name:      name,
			Pipeline:  &model.PipelineRef{ID: 7, Name: "Sales"},
			Status:    &model.StatusRef{ID: 70, Name: "Qualified"},
			Phone:     model.ContactList{{Value: "+1 555 0100"}},
			Email:     model.ContactList{{Value: "jo@acme.com"}},
			CreatedAt: 1700000000,
			UpdatedAt: 1700000100,
		},
		AIScore:  score,
		AIReason: reason,
	}
}

func TestWriteCSV_ColumnsAndOrder(t *testing.T) {
	t.Parallel()

	set := Set{}
	Merge(set, exportLead(2, "Beta", 4, "some interest"), exportLead(1, "Alpha", 9, "ready, budget set"))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, set))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID,Name,AI Score,AI Reason,Pipeline,Status,Phone,Email,Created At,Updated At", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1,Alpha,9,"))
	assert.True(t, strings.HasPrefix(lines[2], "2,Beta,4,"))
	assert.Contains(t, lines[1], `"ready, budget set"`)
	assert.Contains(t, lines[1], "2023-11-14")
}

func TestCSV_RoundTrip(t *testing.T) {
	t.Parallel()

	orig := Set{}
	Merge(orig, exportLead(1, "Alpha", 9, "strong"), exportLead(2, "Beta", 4, "weak"))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, orig))

	back := Set{}
	imported, err := ReadCSV(&buf, back)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	require.Len(t, back, 2)

	assert.Equal(t, 9, back[1].AIScore)
	assert.Equal(t, "strong", back[1].AIReason)
	assert.Equal(t, "Alpha", back[1].Name)
	assert.Equal(t, "Sales", back[1].PipelineName())
	assert.Equal(t, "Qualified", back[1].StatusName())
}

func TestReadCSV_NeverOverwritesExisting(t *testing.T) {
	t.Parallel()

	set := Set{}
	Merge(set, exportLead(1, "Alpha", 9, "live score"))

	in := "ID,Name,AI Score,AI Reason,Pipeline,Status\n" +
		"1,Alpha,2,stale import,Sales,New\n" +
		"2,Beta,6,fresh,Sales,New\n"

	imported, err := ReadCSV(strings.NewReader(in), set)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)

	assert.Equal(t, 9, set[1].AIScore)
	assert.Equal(t, "live score", set[1].AIReason)
	assert.Equal(t, 6, set[2].AIScore)
}

func TestReadCSV_SkipsShortAndMalformedRows(t *testing.T) {
	t.Parallel()

	in := "ID,Name,AI Score,AI Reason,Pipeline,Status\n" +
		"5,Short,7\n" +
		"not-a-number,Bad,7,why,Sales,New\n" +
		"3,Good,8,solid,Sales,New\n"

	set := Set{}
	imported, err := ReadCSV(strings.NewReader(in), set)

	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	require.Len(t, set, 1)
	assert.Equal(t, 8, set[3].AIScore)
}
