package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRRFFuseCombinesBothSides(t *testing.T) {
	f := NewRRFFusion()
	results := f.Fuse(
		bm25List("setup-doc", 7.2, "faq-doc", 3.1),
		vecList("setup-doc", 0.91, "intro-doc", 0.62),
		Weights{BM25: 0.5, Semantic: 0.5},
	)

	require.Len(t, results, 3)
	// Present in both lists at rank 1 each: setup-doc must win.
	assert.Equal(t, "setup-doc", results[0].ChunkID)
	assert.True(t, results[0].InBothLists)
	assert.InDelta(t, 1.0, results[0].RRFScore, 1e-9)

	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].RRFScore, results[i-1].RRFScore)
		assert.False(t, results[i].InBothLists)
	}
}

func TestRRFFuseAbsentSideContributesNothing(t *testing.T) {
	f := NewRRFFusionWithK(60)

	// Same rank on each side, equal weights: lexical-only and
	// vector-only candidates score identically.
	results := f.Fuse(
		bm25List("lex-only", 5.0),
		vecList("vec-only", 0.9),
		Weights{BM25: 0.5, Semantic: 0.5},
	)
	require.Len(t, results, 2)
	assert.InDelta(t, results[0].RRFScore, results[1].RRFScore, 1e-9)
	// Equal scores break on raw vector similarity.
	assert.Equal(t, "vec-only", results[0].ChunkID)
}

func TestRRFFuseWeightsShiftRanking(t *testing.T) {
	bm25 := bm25List("lex-doc", 9.0)
	vec := vecList("vec-doc", 0.95)

	lexHeavy := NewRRFFusion().Fuse(bm25, vec, Weights{BM25: 0.9, Semantic: 0.1})
	assert.Equal(t, "lex-doc", lexHeavy[0].ChunkID)

	vecHeavy := NewRRFFusion().Fuse(bm25, vec, Weights{BM25: 0.1, Semantic: 0.9})
	assert.Equal(t, "vec-doc", vecHeavy[0].ChunkID)
}

func TestRRFFuseZeroWeightsMeanUnweighted(t *testing.T) {
	f := NewRRFFusion()
	results := f.Fuse(
		bm25List("a", 4.0, "b", 2.0),
		nil,
		Weights{},
	)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Positive(t, results[1].RRFScore)
}

func TestRRFFusePreservesRawScoresAndRanks(t *testing.T) {
	f := NewRRFFusion()
	results := f.Fuse(
		bm25List("doc", 6.5),
		vecList("doc", 0.84),
		Weights{BM25: 0.4, Semantic: 0.6},
	)

	require.Len(t, results, 1)
	r := results[0]
	assert.InDelta(t, 6.5, r.BM25Score, 1e-9)
	assert.Equal(t, 1, r.BM25Rank)
	assert.InDelta(t, 0.84, r.VecScore, 1e-6)
	assert.Equal(t, 1, r.VecRank)
}

func TestRRFFuseDeterministicTieBreak(t *testing.T) {
	// Equal BM25 scores: list rank sets the RRF order, which must be reproducible.
	f := NewRRFFusion()
	first := f.Fuse(bm25List("zzz", 3.0, "aaa", 3.0), nil, Weights{BM25: 1})
	second := f.Fuse(bm25List("zzz", 3.0, "aaa", 3.0), nil, Weights{BM25: 1})

	require.Len(t, first, 2)
	assert.Equal(t, first[0].ChunkID, second[0].ChunkID)
	// Rank 1 beats rank 2; with equal BM25 scores the input order decides
	// ranks, so the sort must still be reproducible across calls.
	for i := range first {
		assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
		assert.Equal(t, first[i].RRFScore, second[i].RRFScore)
	}
}

func TestRRFFuseEmptyInputs(t *testing.T) {
	f := NewRRFFusion()
	results := f.Fuse(nil, nil, DefaultWeights())
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestNewRRFFusionWithKFallsBack(t *testing.T) {
	assert.Equal(t, DefaultRRFConstant, NewRRFFusionWithK(0).k)
	assert.Equal(t, 10, NewRRFFusionWithK(10).k)
}
