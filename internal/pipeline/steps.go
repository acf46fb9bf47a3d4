package pipeline

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aman-cerp/hybridsearch/internal/collection"
	"github.com/aman-cerp/hybridsearch/internal/corelog"
	"github.com/aman-cerp/hybridsearch/internal/embed"
	"github.com/aman-cerp/hybridsearch/internal/search"
	"github.com/aman-cerp/hybridsearch/internal/store"
)

// maxExpansionTerms bounds query expansion to 8 additional terms.
const maxExpansionTerms = 8

// kMultiplier and maxCandidates bound the per-side retrieval width:
// k' = min(limit * kMultiplier, maxCandidates).
const (
	kMultiplier   = 4
	maxCandidates = 200
)

// QueryEnhancementStep expands the raw query with synonym/technical-term
// mappings. A no-op if expansion yields nothing new.
type QueryEnhancementStep struct {
	Expander *search.QueryExpander
	Enabled  bool
}

func (s *QueryEnhancementStep) Name() string { return "query_enhancement" }

func (s *QueryEnhancementStep) Execute(_ DeadlineToken, sc *SearchContext) error {
	if !s.Enabled || s.Expander == nil {
		return nil
	}
	terms := s.Expander.ExpandToTerms(sc.Query.RawText)
	raw := strings.Fields(strings.ToLower(sc.Query.RawText))
	rawSet := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		rawSet[t] = struct{}{}
	}

	var extra []string
	for _, t := range terms {
		lower := strings.ToLower(t)
		if _, ok := rawSet[lower]; ok {
			continue
		}
		extra = append(extra, t)
		if len(extra) >= maxExpansionTerms {
			break
		}
	}
	sc.EnhancedTerms = extra
	if len(extra) > 0 {
		sc.EnhancedText = sc.Query.RawText + " " + strings.Join(extra, " ")
	}
	return nil
}

// HybridRetrievalStep runs BM25 and vector retrieval in parallel over the
// query's collection and fuses the two candidate sets. With MultiQuery
// enabled, generic queries are decomposed into sub-queries whose hybrid
// result sets are fused with a consensus boost.
type HybridRetrievalStep struct {
	Collections *collection.Manager
	Embedder    embed.Embedder
	Fusion      search.FusionStrategy
	Weights     search.Weights

	// MultiQuery enables multi-query fan-out fusion; Decomposer defaults
	// to the pattern decomposer when nil.
	MultiQuery bool
	Decomposer search.QueryDecomposer
}

func (s *HybridRetrievalStep) Name() string { return "hybrid_retrieval" }

func (s *HybridRetrievalStep) Execute(deadline DeadlineToken, sc *SearchContext) error {
	handle, ok := s.Collections.Get(sc.Query.Collection)
	if !ok {
		// A missing collection yields an empty result, not an error.
		sc.FusedResults = []*search.FusedResult{}
		return nil
	}

	limit := sc.Query.Limit
	if limit <= 0 {
		return nil
	}
	kPrime := limit * kMultiplier
	if kPrime > maxCandidates {
		kPrime = maxCandidates
	}

	queryText := sc.Query.RawText
	if sc.EnhancedText != "" {
		queryText = sc.EnhancedText
	}

	fusion := s.Fusion
	if fusion == nil {
		fusion = search.NewFusionStrategy(search.FusionRRF)
	}

	if s.MultiQuery {
		decomposer := s.Decomposer
		if decomposer == nil {
			decomposer = search.NewPatternDecomposer()
		}
		mq := search.NewMultiQuerySearcher(decomposer,
			func(ctx context.Context, q string, opts search.SearchOptions) ([]*search.FusedResult, error) {
				bm25, vec := s.retrieve(ctx, handle, q, opts.Limit, sc)
				return fusion.Fuse(bm25, vec, s.Weights), nil
			})
		multi, err := mq.Search(deadline.Context(), queryText, search.SearchOptions{Limit: kPrime})
		if err != nil {
			return err
		}
		fused := make([]*search.FusedResult, 0, len(multi))
		for _, m := range multi {
			f := m.FusedResult
			fused = append(fused, &f)
		}
		sc.FusedResults = fused
	} else {
		bm25Results, vecResults := s.retrieve(deadline.Context(), handle, queryText, kPrime, sc)
		sc.BM25Candidates = bm25Results
		sc.VectorCandidates = vecResults
		sc.FusedResults = fusion.Fuse(bm25Results, vecResults, s.Weights)
	}

	sc.Analytics.CandidateCounts["bm25"] = len(sc.BM25Candidates)
	sc.Analytics.CandidateCounts["vector"] = len(sc.VectorCandidates)
	sc.Analytics.FusionStrategy = fusion.Name()

	s.hydrateChunkMetadata(handle, sc)
	return nil
}

// retrieve fans out the BM25 and vector sub-tasks and joins them before
// fusion. A side that fails or misses the deadline contributes an empty
// candidate set; the join itself never fails the step.
func (s *HybridRetrievalStep) retrieve(ctx context.Context, handle *collection.Handle, queryText string, k int, sc *SearchContext) ([]*store.BM25Result, []*store.VectorResult) {
	log := corelog.Component("pipeline.hybrid_retrieval")

	g, gctx := errgroup.WithContext(ctx)
	var bm25Results []*store.BM25Result
	var vecResults []*store.VectorResult

	g.Go(func() error {
		res, err := handle.Lexical.Search(gctx, queryText, k)
		if err != nil {
			log.Warn("bm25 search degraded", "error", err)
			sc.Analytics.BM25TimedOut = true
			return nil
		}
		bm25Results = res
		return nil
	})

	g.Go(func() error {
		vec, err := s.Embedder.Embed(gctx, sc.Query.RawText)
		if err != nil {
			log.Warn("vector search degraded: embed failed", "error", err)
			sc.Analytics.VectorTimedOut = true
			return nil
		}
		res, err := handle.Vector.Search(gctx, vec, k)
		if err != nil {
			log.Warn("vector search degraded", "error", err)
			sc.Analytics.VectorTimedOut = true
			return nil
		}
		vecResults = res
		return nil
	})

	_ = g.Wait()

	if threshold := sc.Query.SimilarityThreshold; threshold > 0 {
		kept := vecResults[:0]
		for _, r := range vecResults {
			if float64(r.Score) >= threshold {
				kept = append(kept, r)
			}
		}
		vecResults = kept
	}
	return bm25Results, vecResults
}

// LexicalShortCircuitStep aborts the remaining steps when the classifier
// marks the query clearly lexical and BM25 alone already produced enough
// candidates. The BM25-dominated fused list is materialized into final
// results directly, skipping multi-factor ranking.
type LexicalShortCircuitStep struct {
	Classifier search.Classifier
}

func (s *LexicalShortCircuitStep) Name() string { return "lexical_short_circuit" }

func (s *LexicalShortCircuitStep) Execute(deadline DeadlineToken, sc *SearchContext) error {
	if s.Classifier == nil {
		return nil
	}
	qt, _, err := s.Classifier.Classify(deadline.Context(), sc.Query.RawText)
	if err != nil || qt != search.QueryTypeLexical {
		return nil
	}
	if sc.Query.Limit <= 0 || len(sc.BM25Candidates) < sc.Query.Limit {
		return nil
	}

	top := sc.FusedResults
	if len(top) > sc.Query.Limit {
		top = top[:sc.Query.Limit]
	}

	var maxBM25 float64
	for _, c := range top {
		if c.BM25Score > maxBM25 {
			maxBM25 = c.BM25Score
		}
	}

	final := make([]search.Ranked, 0, len(top))
	for _, c := range top {
		lexical := 0.0
		if maxBM25 > 0 {
			lexical = c.BM25Score / maxBM25
		}
		final = append(final, search.Ranked{
			Rankable: search.Rankable{
				ChunkID:    c.ChunkID,
				ChunkIndex: sc.ChunkIndex[c.ChunkID],
				VecScore:   c.VecScore,
				BM25Score:  c.BM25Score,
			},
			Score:     lexical,
			Breakdown: search.ScoreBreakdown{Vector: c.VecScore, Lexical: lexical},
		})
	}
	sc.FinalResults = final
	if len(final) > 0 {
		sc.Analytics.TopScore = final[0].Score
	}
	sc.Analytics.ShortCircuited = true
	return PipelineAbort
}

// hydrateChunkMetadata populates the per-chunk lookups RankingStep needs
// from the collection's chunk registry.
func (s *HybridRetrievalStep) hydrateChunkMetadata(h *collection.Handle, sc *SearchContext) {
	for _, r := range sc.FusedResults {
		rec, ok := h.Chunks.Get(r.ChunkID)
		if !ok {
			continue
		}
		sc.ChunkText[r.ChunkID] = rec.Text
		sc.ChunkTitle[r.ChunkID] = rec.Title
		sc.ChunkHeadingPath[r.ChunkID] = rec.HeadingPath
		sc.ChunkIndex[r.ChunkID] = rec.ChunkIndex
		sc.ChunkLastModified[r.ChunkID] = rec.LastModified
		sc.ChunkTags[r.ChunkID] = rec.Tags
		sc.ChunkAuthor[r.ChunkID] = rec.Author
	}
}

// RankingStep applies multi-factor re-scoring over the top
// min(fused.size, limit*2) fused candidates.
type RankingStep struct {
	Weights search.RankWeights
	Now     func() time.Time
}

func (s *RankingStep) Name() string { return "result_ranking" }

func (s *RankingStep) Execute(_ DeadlineToken, sc *SearchContext) error {
	if len(sc.FusedResults) == 0 {
		sc.FinalResults = []search.Ranked{}
		return nil
	}

	window := sc.Query.Limit * 2
	if window <= 0 || window > len(sc.FusedResults) {
		window = len(sc.FusedResults)
	}
	candidates := sc.FusedResults[:window]

	query := search.RankQuery{
		ExactPhrase: sc.Query.RawText,
	}
	query.Terms = append(query.Terms, strings.Fields(strings.ToLower(sc.Query.RawText))...)
	query.Terms = append(query.Terms, sc.EnhancedTerms...)

	rankables := make([]search.Rankable, 0, len(candidates))
	for _, c := range candidates {
		rankables = append(rankables, search.Rankable{
			ChunkID:      c.ChunkID,
			ChunkIndex:   sc.ChunkIndex[c.ChunkID],
			Text:         sc.ChunkText[c.ChunkID],
			Title:        sc.ChunkTitle[c.ChunkID],
			HeadingPath:  sc.ChunkHeadingPath[c.ChunkID],
			LastModified: sc.ChunkLastModified[c.ChunkID],
			Tags:         sc.ChunkTags[c.ChunkID],
			Author:       sc.ChunkAuthor[c.ChunkID],
			VecScore:     c.VecScore,
			BM25Score:    c.BM25Score,
		})
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	weights := s.Weights
	if weights == (search.RankWeights{}) {
		weights = search.DefaultRankWeights()
	}

	ranked := search.Rank(rankables, query, weights, now())
	if len(ranked) > sc.Query.Limit && sc.Query.Limit > 0 {
		ranked = ranked[:sc.Query.Limit]
	}
	sc.FinalResults = ranked
	if len(ranked) > 0 {
		sc.Analytics.TopScore = ranked[0].Score
	}
	return nil
}

// AnalyticsStep finalizes per-step breadcrumbs. Step latency is recorded
// by Pipeline.Run itself and candidate counts by HybridRetrievalStep; this
// step adds the final result count and exists as the named fourth stage so
// profiles can place additional bookkeeping after ranking.
type AnalyticsStep struct{}

func (s *AnalyticsStep) Name() string { return "analytics" }

func (s *AnalyticsStep) Execute(_ DeadlineToken, sc *SearchContext) error {
	sc.Analytics.CandidateCounts["final"] = len(sc.FinalResults)
	return nil
}
