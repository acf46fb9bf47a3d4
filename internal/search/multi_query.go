package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// SearchFunc executes one hybrid search for a single query string. The
// abstraction keeps MultiQuerySearcher testable without a full pipeline:
// in production it is a closure over the hybrid retrieval fan-out.
type SearchFunc func(ctx context.Context, query string, opts SearchOptions) ([]*FusedResult, error)

// Multi-query defaults.
const (
	defaultMaxSubQueries = 6
	defaultParallelism   = 4

	// minSubQueryLimit widens each sub-query's candidate pool so fusion
	// sees enough overlap to measure consensus; the caller's limit is
	// applied after fusion, not per sub-query.
	minSubQueryLimit = 50
)

// MultiQuerySearcher orchestrates multi-query search for generic
// documentation queries: decompose into genre-targeted reformulations,
// search them concurrently, and fuse with a consensus boost so chunks that
// answer several phrasings surface above single-phrasing matches.
//
// Specific queries (identifiers, paths, quoted phrases — anything the
// decomposer declines) pass straight through to a single search.
type MultiQuerySearcher struct {
	decomposer QueryDecomposer
	search     SearchFunc
	fusion     *MultiRRFFusion

	maxSubQueries int
	parallelism   int
}

// MultiQueryOption configures the MultiQuerySearcher.
type MultiQueryOption func(*MultiQuerySearcher)

// WithMaxSubQueries caps how many reformulations run per query.
func WithMaxSubQueries(n int) MultiQueryOption {
	return func(m *MultiQuerySearcher) {
		if n > 0 {
			m.maxSubQueries = n
		}
	}
}

// WithParallelism caps concurrent sub-query searches.
func WithParallelism(n int) MultiQueryOption {
	return func(m *MultiQuerySearcher) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

// NewMultiQuerySearcher creates a multi-query orchestrator over the given
// decomposer and per-query search function.
func NewMultiQuerySearcher(decomposer QueryDecomposer, search SearchFunc, opts ...MultiQueryOption) *MultiQuerySearcher {
	m := &MultiQuerySearcher{
		decomposer:    decomposer,
		search:        search,
		fusion:        NewMultiRRFFusion(),
		maxSubQueries: defaultMaxSubQueries,
		parallelism:   defaultParallelism,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Search runs the query through decomposition, concurrent sub-search, and
// consensus fusion. A failing sub-query contributes an empty result set
// rather than failing the whole search; only context cancellation aborts.
func (m *MultiQuerySearcher) Search(ctx context.Context, query string, opts SearchOptions) ([]*MultiFusedResult, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if !m.decomposer.ShouldDecompose(query) {
		results, err := m.search(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		return passThrough(results), nil
	}

	subQueries := m.decomposer.Decompose(query)
	if len(subQueries) > m.maxSubQueries {
		subQueries = subQueries[:m.maxSubQueries]
	}

	slog.Debug("multi_query_decomposed",
		slog.String("query", query),
		slog.Int("sub_queries", len(subQueries)))

	subResults, err := m.runSubQueries(ctx, subQueries, opts)
	if err != nil {
		return nil, err
	}

	fused := m.fusion.FuseMultiQuery(subResults)
	if limit := opts.Limit; limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}

	slog.Debug("multi_query_complete",
		slog.String("query", query),
		slog.Int("results", len(fused)),
		slog.Duration("elapsed", time.Since(start)))
	return fused, nil
}

// runSubQueries executes the reformulations concurrently, bounded by the
// parallelism cap, and collects per-sub-query result sets in input order.
func (m *MultiQuerySearcher) runSubQueries(ctx context.Context, subQueries []SubQuery, opts SearchOptions) ([]SubQueryResult, error) {
	results := make([]SubQueryResult, len(subQueries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallelism)

	var warnOnce sync.Once
	for i, sq := range subQueries {
		i, sq := i, sq
		results[i] = SubQueryResult{SubQuery: sq, Results: []*FusedResult{}}

		g.Go(func() error {
			subOpts := opts
			// A reformulation's genre hint narrows the content-type
			// filter unless the caller already set one.
			if sq.Hint != "" && (subOpts.Filter == "" || subOpts.Filter == "all") {
				subOpts.Filter = sq.Hint
			}
			if subOpts.Limit < minSubQueryLimit {
				subOpts.Limit = minSubQueryLimit
			}

			found, err := m.search(gctx, sq.Query, subOpts)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				warnOnce.Do(func() {
					slog.Warn("sub-query failed, fusing without it",
						slog.String("sub_query", sq.Query),
						slog.String("error", err.Error()))
				})
				return nil
			}
			results[i].Results = found
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// passThrough wraps single-search results for callers that always consume
// MultiFusedResult.
func passThrough(results []*FusedResult) []*MultiFusedResult {
	multi := make([]*MultiFusedResult, len(results))
	for i, r := range results {
		multi[i] = &MultiFusedResult{FusedResult: *r, SubQueryHits: 1}
	}
	return multi
}
