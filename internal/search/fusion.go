package search

import (
	"github.com/aman-cerp/hybridsearch/internal/store"
)

// DefaultRRFConstant is the reciprocal-rank smoothing constant k. 60 is
// the widely used default; larger values flatten rank differences.
const DefaultRRFConstant = 60

// FusedResult is one candidate after score fusion: the combined score plus
// both sides' raw scores and ranks, preserved for re-ranking and
// tie-breaking downstream.
type FusedResult struct {
	ChunkID      string   // Chunk identifier
	RRFScore     float64  // Combined fused score, scaled so a positive top score is 1.0 (z_score can go below 0)
	BM25Score    float64  // Raw BM25 score (preserved)
	BM25Rank     int      // Position in the BM25 list (1-indexed, 0 if absent)
	VecScore     float64  // Raw vector similarity (preserved)
	VecRank      int      // Position in the vector list (1-indexed, 0 if absent)
	InBothLists  bool     // Candidate appeared in both lists
	MatchedTerms []string // BM25 matched terms (for highlighting)
}

// RRFFusion combines BM25 and vector candidate lists by weighted
// Reciprocal Rank Fusion:
//
//	score(c) = Σ over lists containing c of weight_list / (k + rank_list(c))
//
// Rank-only fusion sidesteps the incompatible scales of raw BM25 values
// and cosine similarities; a candidate absent from one list simply gets no
// contribution from it. Candidates are deduplicated by chunk id, never
// double-counted.
type RRFFusion struct {
	k int
}

// NewRRFFusion creates an RRF fusion with the default constant.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{k: DefaultRRFConstant}
}

// NewRRFFusionWithK creates an RRF fusion with a custom constant. Values
// below 1 fall back to the default.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k < 1 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{k: k}
}

// Fuse merges the two candidate lists into one deduplicated, sorted,
// max-normalized list. Zero-valued weights mean unweighted RRF.
func (f *RRFFusion) Fuse(bm25 []*store.BM25Result, vec []*store.VectorResult, weights Weights) []*FusedResult {
	if len(bm25) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}

	wLex, wVec := weights.BM25, weights.Semantic
	if wLex == 0 && wVec == 0 {
		wLex, wVec = 1, 1
	}

	acc := buildAccumulators(bm25, vec)
	combined := make(map[string]float64, len(acc))
	for id, c := range acc {
		var score float64
		if c.bm25Rank > 0 {
			score += wLex / float64(f.k+c.bm25Rank)
		}
		if c.vecRank > 0 {
			score += wVec / float64(f.k+c.vecRank)
		}
		combined[id] = score
	}
	return finalizeFused(acc, combined)
}
