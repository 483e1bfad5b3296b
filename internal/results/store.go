// Package results holds scored leads: the in-memory set, the merge
// rules, persistent storage backends, and file export/import.
package results

import (
	"context"
	"sort"

	"github.com/apexsales/leadscore/internal/model"
)

// Set maps lead ID to its scored lead. The zero value is not usable;
// make one with Set{} or make(Set).
type Set map[int]model.ScoredLead

// Merge folds scored leads into dst. Later entries for the same ID win,
// and closed leads are dropped so the set never accumulates leads that
// have left the funnel. Merging the same items twice is a no-op.
func Merge(dst Set, items ...model.ScoredLead) {
	for _, item := range items {
		if item.IsClosed() {
			delete(dst, item.ID)
			continue
		}
		dst[item.ID] = item
	}
}

// IDs returns the set's lead IDs in ascending order.
func (s Set) IDs() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Sorted returns the scored leads ordered by descending score, ties
// broken by ascending ID.
func (s Set) Sorted() []model.ScoredLead {
	out := make([]model.ScoredLead, 0, len(s))
	for _, sl := range s {
		out = append(out, sl)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AIScore != out[j].AIScore {
			return out[i].AIScore > out[j].AIScore
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Storage persists a Set between runs.
type Storage interface {
	// Load returns the persisted set. A missing or empty store returns
	// an empty, non-nil Set.
	Load(ctx context.Context) (Set, error)
	// Save replaces the persisted set with the given one.
	Save(ctx context.Context, s Set) error
	// Delete removes one lead's score. Deleting an absent ID is a no-op.
	Delete(ctx context.Context, leadID int) error
	// Clear removes all persisted scores.
	Clear(ctx context.Context) error
	Close() error
}
