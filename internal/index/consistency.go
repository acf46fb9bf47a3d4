package index

import (
	"context"
	"sort"
	"time"

	"github.com/aman-cerp/hybridsearch/internal/collection"
	"github.com/aman-cerp/hybridsearch/internal/corelog"
)

// ConsistencyReport lists chunks that violate the chunk-atomic invariant:
// a committed chunk must be present in both the vector repository and the
// lexical index, or in neither.
type ConsistencyReport struct {
	VectorOnly  []string  // chunk ids with a vector but no lexical posting
	LexicalOnly []string  // chunk ids with a posting but no vector
	CheckedAt   time.Time
}

// Consistent reports whether no orphans were found.
func (r *ConsistencyReport) Consistent() bool {
	return len(r.VectorOnly) == 0 && len(r.LexicalOnly) == 0
}

// CheckConsistency compares the id sets of a collection's vector
// repository and lexical index. Orphans on either side indicate a crash
// between the two halves of a chunk commit (or a failed compensating
// delete).
func CheckConsistency(h *collection.Handle) (*ConsistencyReport, error) {
	vectorIDs := h.Vector.AllIDs()
	lexicalIDs, err := h.Lexical.AllIDs()
	if err != nil {
		return nil, err
	}

	inLexical := make(map[string]struct{}, len(lexicalIDs))
	for _, id := range lexicalIDs {
		inLexical[id] = struct{}{}
	}
	inVector := make(map[string]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		inVector[id] = struct{}{}
	}

	report := &ConsistencyReport{CheckedAt: time.Now()}
	for _, id := range vectorIDs {
		if _, ok := inLexical[id]; !ok {
			report.VectorOnly = append(report.VectorOnly, id)
		}
	}
	for _, id := range lexicalIDs {
		if _, ok := inVector[id]; !ok {
			report.LexicalOnly = append(report.LexicalOnly, id)
		}
	}
	sort.Strings(report.VectorOnly)
	sort.Strings(report.LexicalOnly)
	return report, nil
}

// RepairConsistency removes every orphaned half-chunk named in the
// report, restoring the invariant by making the chunk fully invisible.
// Re-indexing the source recreates repaired chunks under identical ids.
func RepairConsistency(ctx context.Context, h *collection.Handle, report *ConsistencyReport) error {
	log := corelog.Component("index.consistency")

	if len(report.VectorOnly) > 0 {
		if err := h.Vector.Delete(ctx, report.VectorOnly); err != nil {
			return err
		}
		_ = h.Chunks.Remove(report.VectorOnly)
		log.Info("removed orphaned vectors", "collection", h.Name, "count", len(report.VectorOnly))
	}
	if len(report.LexicalOnly) > 0 {
		if err := h.Lexical.Delete(ctx, report.LexicalOnly); err != nil {
			return err
		}
		_ = h.Chunks.Remove(report.LexicalOnly)
		log.Info("removed orphaned postings", "collection", h.Name, "count", len(report.LexicalOnly))
	}
	return nil
}
