package search

import (
	"sort"
)

// SubQueryResult pairs one sub-query with its (already hybrid-fused)
// result list, ready for cross-sub-query fusion.
type SubQueryResult struct {
	SubQuery SubQuery
	Results  []*FusedResult
}

// MultiFusedResult is a FusedResult annotated with how many sub-queries
// surfaced it. Appearing under several phrasings of the same question is a
// consensus signal no single result list carries.
type MultiFusedResult struct {
	FusedResult

	// SubQueryHits counts the sub-queries this chunk appeared in.
	SubQueryHits int
}

// Multi-query fusion defaults.
const (
	// defaultConsensusBoost is the score multiplier gained per additional
	// sub-query hit: 2 hits → 1.1x, 3 hits → 1.2x.
	defaultConsensusBoost = 0.1
)

// MultiRRFFusion fuses several sub-query result sets with weighted RRF
// plus a consensus boost:
//
//	score(c) = (Σ_i weight_i / (k + rank_i(c))) * (1 + boost*(hits-1))
//
// where i ranges over the sub-queries whose results contain c.
type MultiRRFFusion struct {
	K              int     // RRF smoothing constant
	ConsensusBoost float64 // boost per additional sub-query hit
}

// NewMultiRRFFusion creates a multi-query fusion with default parameters.
func NewMultiRRFFusion() *MultiRRFFusion {
	return NewMultiRRFFusionWithParams(DefaultRRFConstant, defaultConsensusBoost)
}

// NewMultiRRFFusionWithParams creates a multi-query fusion with custom
// parameters; out-of-range values fall back to the defaults.
func NewMultiRRFFusionWithParams(k int, consensusBoost float64) *MultiRRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if consensusBoost < 0 {
		consensusBoost = defaultConsensusBoost
	}
	return &MultiRRFFusion{K: k, ConsensusBoost: consensusBoost}
}

// FuseMultiQuery merges the sub-query result sets into one deduplicated
// list: accumulate weighted RRF contributions per chunk, boost consensus,
// sort deterministically, then max-normalize into [0, 1].
func (f *MultiRRFFusion) FuseMultiQuery(subResults []SubQueryResult) []*MultiFusedResult {
	if len(subResults) == 0 {
		return []*MultiFusedResult{}
	}

	byID := make(map[string]*MultiFusedResult)
	for _, sr := range subResults {
		weight := sr.SubQuery.Weight
		if weight <= 0 {
			weight = 1.0
		}
		for rank, result := range sr.Results {
			mr, ok := byID[result.ChunkID]
			if !ok {
				mr = &MultiFusedResult{FusedResult: FusedResult{ChunkID: result.ChunkID}}
				byID[result.ChunkID] = mr
			}
			mr.RRFScore += weight / float64(f.K+rank+1)
			mr.SubQueryHits++
			mr.absorb(result)
		}
	}

	results := make([]*MultiFusedResult, 0, len(byID))
	for _, mr := range byID {
		if mr.SubQueryHits > 1 {
			mr.RRFScore *= 1 + f.ConsensusBoost*float64(mr.SubQueryHits-1)
		}
		results = append(results, mr)
	}

	sort.Slice(results, func(i, j int) bool {
		return lessMultiFused(results[i], results[j])
	})

	if len(results) > 0 && results[0].RRFScore > 0 {
		max := results[0].RRFScore
		for _, r := range results {
			r.RRFScore /= max
		}
	}
	return results
}

// absorb merges one sub-query occurrence's raw signals into the
// accumulated result, keeping each side's best score and rank.
func (mr *MultiFusedResult) absorb(r *FusedResult) {
	if r.BM25Score > mr.BM25Score {
		mr.BM25Score = r.BM25Score
		mr.MatchedTerms = r.MatchedTerms
	}
	if r.VecScore > mr.VecScore {
		mr.VecScore = r.VecScore
	}
	if r.InBothLists {
		mr.InBothLists = true
	}
	if r.BM25Rank > 0 && (mr.BM25Rank == 0 || r.BM25Rank < mr.BM25Rank) {
		mr.BM25Rank = r.BM25Rank
	}
	if r.VecRank > 0 && (mr.VecRank == 0 || r.VecRank < mr.VecRank) {
		mr.VecRank = r.VecRank
	}
}

// lessMultiFused orders by fused score, then consensus, then
// both-list presence, then BM25 score, then chunk id — a strict total
// order, so identical inputs always produce identical output.
func lessMultiFused(a, b *MultiFusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.SubQueryHits != b.SubQueryHits {
		return a.SubQueryHits > b.SubQueryHits
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.BM25Score != b.BM25Score {
		return a.BM25Score > b.BM25Score
	}
	return a.ChunkID < b.ChunkID
}
