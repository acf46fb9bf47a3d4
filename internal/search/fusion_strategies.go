package search

import (
	"math"
	"sort"

	"github.com/aman-cerp/hybridsearch/internal/store"
)

// FusionStrategyName identifies a score-fusion strategy.
type FusionStrategyName string

const (
	FusionRRF         FusionStrategyName = "rrf"
	FusionWeightedSum FusionStrategyName = "weighted_sum"
	FusionZScore      FusionStrategyName = "z_score"
	FusionMax         FusionStrategyName = "max"
)

// FusionStrategy combines a BM25 candidate list and a vector candidate list
// into one deduplicated, scored, sorted list. Candidates are keyed by
// chunk_id; an id present in both lists has its score combined per the
// strategy, never double-counted.
type FusionStrategy interface {
	Name() FusionStrategyName
	Fuse(bm25 []*store.BM25Result, vec []*store.VectorResult, weights Weights) []*FusedResult
}

// NewFusionStrategy resolves a strategy by name, defaulting to RRF (the
// hybrid_default profile's strategy) for an unknown or empty name.
func NewFusionStrategy(name FusionStrategyName) FusionStrategy {
	switch name {
	case FusionWeightedSum:
		return &weightedSumFusion{}
	case FusionZScore:
		return &zScoreFusion{}
	case FusionMax:
		return &maxFusion{}
	default:
		return &rrfStrategyAdapter{inner: NewRRFFusion()}
	}
}

// rrfStrategyAdapter exposes the existing RRFFusion under the
// FusionStrategy interface so all four strategies share one call site.
type rrfStrategyAdapter struct {
	inner *RRFFusion
}

func (a *rrfStrategyAdapter) Name() FusionStrategyName { return FusionRRF }

func (a *rrfStrategyAdapter) Fuse(bm25 []*store.BM25Result, vec []*store.VectorResult, weights Weights) []*FusedResult {
	return a.inner.Fuse(bm25, vec, weights)
}

// candidateAccumulator tracks per-candidate raw and normalized scores
// shared by the non-RRF strategies.
type candidateAccumulator struct {
	chunkID      string
	bm25Score    float64
	bm25Rank     int
	bm25Norm     float64
	vecScore     float64
	vecRank      int
	vecNorm      float64
	inBoth       bool
	matchedTerms []string
}

func buildAccumulators(bm25 []*store.BM25Result, vec []*store.VectorResult) map[string]*candidateAccumulator {
	acc := make(map[string]*candidateAccumulator, len(bm25)+len(vec))
	get := func(id string) *candidateAccumulator {
		if c, ok := acc[id]; ok {
			return c
		}
		c := &candidateAccumulator{chunkID: id}
		acc[id] = c
		return c
	}
	for rank, r := range bm25 {
		c := get(r.DocID)
		c.bm25Score = r.Score
		c.bm25Rank = rank + 1
		c.matchedTerms = r.MatchedTerms
	}
	for rank, r := range vec {
		c := get(r.ID)
		c.vecScore = float64(r.Score)
		c.vecRank = rank + 1
		if c.bm25Rank > 0 {
			c.inBoth = true
		}
	}
	return acc
}

// maxScale divides every value by the maximum in the set (max-scaling to
// [0,1]); a zero max leaves the set at zero rather than dividing by zero.
func maxScale(values map[string]float64) map[string]float64 {
	var max float64
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	out := make(map[string]float64, len(values))
	if max == 0 {
		for k := range values {
			out[k] = 0
		}
		return out
	}
	for k, v := range values {
		out[k] = v / max
	}
	return out
}

// zStandardize standardizes values to zero mean / unit variance. A
// degenerate (zero-variance) set maps every value to 0.
func zStandardize(values map[string]float64) map[string]float64 {
	n := float64(len(values))
	out := make(map[string]float64, len(values))
	if n == 0 {
		return out
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n
	var sqSum float64
	for _, v := range values {
		d := v - mean
		sqSum += d * d
	}
	stddev := math.Sqrt(sqSum / n)
	if stddev == 0 {
		for k := range values {
			out[k] = 0
		}
		return out
	}
	for k, v := range values {
		out[k] = (v - mean) / stddev
	}
	return out
}

func rawScores(acc map[string]*candidateAccumulator, bm25 bool) map[string]float64 {
	out := make(map[string]float64, len(acc))
	for id, c := range acc {
		if bm25 {
			out[id] = c.bm25Score
		} else {
			out[id] = c.vecScore
		}
	}
	return out
}

// compareFused orders by fused score, then raw vector similarity, then
// BM25 score, then chunk_id ascending, so identical inputs always produce
// identical orderings.
func compareFused(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.VecScore != b.VecScore {
		return a.VecScore > b.VecScore
	}
	if a.BM25Score != b.BM25Score {
		return a.BM25Score > b.BM25Score
	}
	return a.ChunkID < b.ChunkID
}

func finalizeFused(acc map[string]*candidateAccumulator, combined map[string]float64) []*FusedResult {
	results := make([]*FusedResult, 0, len(acc))
	for id, c := range acc {
		results = append(results, &FusedResult{
			ChunkID:      id,
			RRFScore:     combined[id],
			BM25Score:    c.bm25Score,
			BM25Rank:     c.bm25Rank,
			VecScore:     c.vecScore,
			VecRank:      c.vecRank,
			InBothLists:  c.inBoth,
			MatchedTerms: c.matchedTerms,
		})
	}
	sort.Slice(results, func(i, j int) bool { return compareFused(results[i], results[j]) })

	if len(results) > 0 && results[0].RRFScore > 0 {
		max := results[0].RRFScore
		for _, r := range results {
			r.RRFScore = r.RRFScore / max
		}
	}
	return results
}

// weightedSumFusion normalizes each side to [0,1] by max-scaling, then
// computes w_v*v + w_l*l.
type weightedSumFusion struct{}

func (weightedSumFusion) Name() FusionStrategyName { return FusionWeightedSum }

func (weightedSumFusion) Fuse(bm25 []*store.BM25Result, vec []*store.VectorResult, weights Weights) []*FusedResult {
	if len(bm25) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}
	acc := buildAccumulators(bm25, vec)
	bm25Norm := maxScale(rawScores(acc, true))
	vecNorm := maxScale(rawScores(acc, false))

	combined := make(map[string]float64, len(acc))
	for id := range acc {
		combined[id] = weights.Semantic*vecNorm[id] + weights.BM25*bm25Norm[id]
	}
	return finalizeFused(acc, combined)
}

// zScoreFusion standardizes each side to zero mean/unit variance over the
// candidate set, then applies the same weighted sum.
type zScoreFusion struct{}

func (zScoreFusion) Name() FusionStrategyName { return FusionZScore }

func (zScoreFusion) Fuse(bm25 []*store.BM25Result, vec []*store.VectorResult, weights Weights) []*FusedResult {
	if len(bm25) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}
	acc := buildAccumulators(bm25, vec)
	bm25Z := zStandardize(rawScores(acc, true))
	vecZ := zStandardize(rawScores(acc, false))

	combined := make(map[string]float64, len(acc))
	for id := range acc {
		combined[id] = weights.Semantic*vecZ[id] + weights.BM25*bm25Z[id]
	}
	return finalizeFused(acc, combined)
}

// maxFusion takes the maximum of the two normalized, weighted sides,
// useful when one modality is clearly authoritative for a given query. A
// zero weight silences its side entirely, which is how the pure-lexical
// and pure-vector profiles are built.
type maxFusion struct{}

func (maxFusion) Name() FusionStrategyName { return FusionMax }

func (maxFusion) Fuse(bm25 []*store.BM25Result, vec []*store.VectorResult, weights Weights) []*FusedResult {
	if len(bm25) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}
	acc := buildAccumulators(bm25, vec)
	bm25Norm := maxScale(rawScores(acc, true))
	vecNorm := maxScale(rawScores(acc, false))

	combined := make(map[string]float64, len(acc))
	for id := range acc {
		combined[id] = math.Max(weights.Semantic*vecNorm[id], weights.BM25*bm25Norm[id])
	}
	return finalizeFused(acc, combined)
}
