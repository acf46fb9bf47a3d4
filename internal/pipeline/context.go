// Package pipeline implements the composable search pipeline: an ordered
// list of Steps sharing a mutable SearchContext, cancellation-aware via a
// DeadlineToken passed at construction.
package pipeline

import (
	"time"

	"github.com/aman-cerp/hybridsearch/internal/search"
	"github.com/aman-cerp/hybridsearch/internal/store"
)

// Query is the pipeline's input.
type Query struct {
	RawText             string
	Collection          string
	Limit               int
	SimilarityThreshold float64
	RankingProfile      string
	IncludeContent      bool
}

// Analytics records per-step latency and decision breadcrumbs, including
// the degraded-mode counters (which side timed out, whether the response
// is partial) that make fallback behavior observable.
type Analytics struct {
	StepLatency     map[string]time.Duration
	FusionStrategy  search.FusionStrategyName
	TopScore        float64
	CandidateCounts map[string]int
	VectorTimedOut  bool
	BM25TimedOut    bool
	Partial         bool
	ShortCircuited  bool
}

// SearchContext is the mutable bag threaded through pipeline steps. It is
// single-owner: only the running pipeline mutates it, and no step may hold
// a reference to it across a suspension point.
type SearchContext struct {
	Query          Query
	EnhancedTerms  []string
	EnhancedText   string
	BM25Candidates []*store.BM25Result
	VectorCandidates []*store.VectorResult
	FusedResults   []*search.FusedResult
	FinalResults   []search.Ranked
	Analytics      Analytics

	// Chunk lookups populated by HybridRetrievalStep for RankingStep's use,
	// keyed by chunk_id.
	ChunkText         map[string]string
	ChunkTitle        map[string]string
	ChunkHeadingPath  map[string]string
	ChunkIndex        map[string]int
	ChunkLastModified map[string]time.Time
	ChunkTags         map[string][]string
	ChunkAuthor       map[string]string
}

// NewSearchContext creates a context for the given query.
func NewSearchContext(q Query) *SearchContext {
	return &SearchContext{
		Query: q,
		Analytics: Analytics{
			StepLatency:     make(map[string]time.Duration),
			CandidateCounts: make(map[string]int),
		},
		ChunkText:         make(map[string]string),
		ChunkTitle:        make(map[string]string),
		ChunkHeadingPath:  make(map[string]string),
		ChunkIndex:        make(map[string]int),
		ChunkLastModified: make(map[string]time.Time),
		ChunkTags:         make(map[string][]string),
		ChunkAuthor:       make(map[string]string),
	}
}
