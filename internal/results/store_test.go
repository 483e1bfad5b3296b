package results

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexsales/leadscore/internal/model"
)

func scored(id int, score int, reason string) model.ScoredLead {
	return model.ScoredLead{
		Lead:     model.Lead{ID: id, Name: "Lead"},
		AIScore:  score,
		AIReason: reason,
	}
}

func closedScored(id int, score int) model.ScoredLead {
	closedAt := int64(1700000000)
	sl := scored(id, score, "closed")
	sl.ClosedAt = &closedAt
	return sl
}

func TestMerge_LastWriteWins(t *testing.T) {
	t.Parallel()

	set := Set{}
	Merge(set, scored(1, 4, "first"))
	Merge(set, scored(1, 8, "second"))

	require.Len(t, set, 1)
	assert.Equal(t, 8, set[1].AIScore)
	assert.Equal(t, "second", set[1].AIReason)
}

func TestMerge_DropsClosedLeads(t *testing.T) {
	t.Parallel()

	set := Set{}
	Merge(set, scored(1, 7, "open"), closedScored(2, 9))

	require.Len(t, set, 1)
	_, ok := set[2]
	assert.False(t, ok)

	// A lead that closes after being scored is evicted on the next merge.
	Merge(set, closedScored(1, 7))
	assert.Empty(t, set)
}

func TestMerge_Idempotent(t *testing.T) {
	t.Parallel()

	items := []model.ScoredLead{scored(1, 7, "a"), scored(2, 3, "b")}

	once := Set{}
	Merge(once, items...)
	twice := Set{}
	Merge(twice, items...)
	Merge(twice, items...)

	assert.Equal(t, once, twice)
}

func TestSet_IDsSorted(t *testing.T) {
	t.Parallel()

	set := Set{}
	Merge(set, scored(30, 5, "c"), scored(10, 5, "a"), scored(20, 5, "b"))

	assert.Equal(t, []int{10, 20, 30}, set.IDs())
}

func TestSet_SortedByScoreDescending(t *testing.T) {
	t.Parallel()

	set := Set{}
	Merge(set, scored(1, 3, "low"), scored(2, 9, "high"), scored(3, 9, "high tie"))

	sorted := set.Sorted()
	require.Len(t, sorted, 3)
	assert.Equal(t, 2, sorted[0].ID)
	assert.Equal(t, 3, sorted[1].ID)
	assert.Equal(t, 1, sorted[2].ID)
}
