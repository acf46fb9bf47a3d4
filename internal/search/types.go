// Package search implements the retrieval half of the hybrid core: score
// fusion over BM25 and vector candidate sets, multi-factor re-ranking,
// rule-based query expansion and classification, and the ranking-profile
// registry the pipeline is configured from.
package search

import (
	"context"
)

// SearchOptions tunes a single retrieval invocation.
type SearchOptions struct {
	// Limit is the maximum number of results to return.
	Limit int

	// Filter restricts results by content type: "all", "code", "docs".
	Filter string

	// Threshold is the advisory similarity floor for the vector side.
	Threshold float64

	// Weights overrides the default BM25/semantic weights.
	Weights *Weights
}

// Weights configures the relative importance of BM25 vs semantic search.
type Weights struct {
	// BM25 is the weight for keyword search (0-1, default: 0.35).
	BM25 float64

	// Semantic is the weight for vector search (0-1, default: 0.65).
	Semantic float64
}

// DefaultWeights returns the default search weights optimized for mixed queries.
func DefaultWeights() Weights {
	return Weights{
		BM25:     0.35,
		Semantic: 0.65,
	}
}

// QueryType classifies how a query should be searched.
type QueryType string

const (
	// QueryTypeLexical indicates the query needs exact/keyword matching.
	// Used for: error codes, identifiers, quoted phrases, file paths.
	QueryTypeLexical QueryType = "LEXICAL"

	// QueryTypeSemantic indicates the query is natural language seeking meaning.
	// Used for: questions, conceptual queries, explanations.
	QueryTypeSemantic QueryType = "SEMANTIC"

	// QueryTypeMixed indicates the query benefits from both approaches.
	// Used for: multi-word technical queries, default fallback.
	QueryTypeMixed QueryType = "MIXED"
)

// Classifier determines optimal search weights for a query.
// Implementations may use pattern matching or richer models.
type Classifier interface {
	// Classify analyzes a query and returns its type and optimal weights.
	// On error, implementations should return (QueryTypeMixed, DefaultWeights(), err).
	Classify(ctx context.Context, query string) (QueryType, Weights, error)
}

// WeightsForQueryType returns the predefined weights for a query type.
func WeightsForQueryType(qt QueryType) Weights {
	switch qt {
	case QueryTypeLexical:
		return Weights{BM25: 0.85, Semantic: 0.15}
	case QueryTypeSemantic:
		return Weights{BM25: 0.20, Semantic: 0.80}
	default:
		return Weights{BM25: 0.35, Semantic: 0.65}
	}
}
