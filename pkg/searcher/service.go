package searcher

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aman-cerp/hybridsearch/internal/collection"
	"github.com/aman-cerp/hybridsearch/internal/corelog"
	"github.com/aman-cerp/hybridsearch/internal/embed"
	coreerrors "github.com/aman-cerp/hybridsearch/internal/errors"
	"github.com/aman-cerp/hybridsearch/internal/pipeline"
	"github.com/aman-cerp/hybridsearch/internal/search"
)

// MinQueryLength is the shortest accepted query, in runes.
const MinQueryLength = 2

// previewLength caps content previews on results.
const previewLength = 240

// Options tunes the service.
type Options struct {
	// DefaultCollection is searched when a query names none.
	DefaultCollection string

	// MaxLimit is the hard cap on a query's limit (default 100).
	MaxLimit int

	// DefaultThreshold is applied when a query carries none.
	DefaultThreshold float64

	// Timeout is the search pipeline's global deadline (default 2s).
	Timeout time.Duration

	// EnableQueryExpansion toggles the query enhancement step.
	EnableQueryExpansion bool
}

// Service implements Searcher over a collection manager, an embedder,
// and a ranking-profile registry.
type Service struct {
	collections *collection.Manager
	embedder    embed.Embedder
	profiles    *search.ProfileRegistry
	expander    *search.QueryExpander
	classifier  search.Classifier
	opts        Options
}

var _ Searcher = (*Service)(nil)

// New creates the search service. A nil profiles registry gets the
// built-in defaults.
func New(collections *collection.Manager, embedder embed.Embedder, profiles *search.ProfileRegistry, opts Options) *Service {
	if profiles == nil {
		profiles = search.NewProfileRegistry()
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &Service{
		collections: collections,
		embedder:    embedder,
		profiles:    profiles,
		expander:    search.NewQueryExpander(),
		classifier:  search.NewPatternClassifier(),
		opts:        opts,
	}
}

// Profiles exposes the registry so the embedding process can hot-swap
// profile sets (copy-on-write; in-flight searches keep their snapshot).
func (s *Service) Profiles() *search.ProfileRegistry { return s.profiles }

// Search executes one query through the pipeline.
func (s *Service) Search(ctx context.Context, q Query) (*Response, error) {
	log := corelog.Component("searcher")
	start := time.Now()

	text := strings.TrimSpace(q.Text)
	if utf8.RuneCountInString(text) < MinQueryLength {
		return nil, coreerrors.New(coreerrors.ErrCodeQueryEmpty,
			fmt.Sprintf("query must be at least %d characters", MinQueryLength), nil)
	}
	if q.Limit < 0 {
		return nil, coreerrors.ValidationError(fmt.Sprintf("negative limit %d", q.Limit), nil)
	}
	if q.SimilarityThreshold < 0 || q.SimilarityThreshold > 1 {
		return nil, coreerrors.ValidationError(
			fmt.Sprintf("similarity threshold %g outside [0, 1]", q.SimilarityThreshold), nil)
	}

	profileName := q.RankingProfile
	if profileName == "" {
		profileName = search.DefaultProfileName
	}
	profile, ok := s.profiles.Get(profileName)
	if !ok {
		return nil, coreerrors.ValidationError(fmt.Sprintf("unknown ranking profile %q", profileName), nil).
			WithDetail("profile", profileName)
	}

	collectionName := q.Collection
	if collectionName == "" {
		collectionName = s.opts.DefaultCollection
	}

	resp := &Response{
		Query:          text,
		Results:        []Result{},
		RankingProfile: profileName,
	}

	// limit=0 short-circuits before any index is touched.
	if q.Limit == 0 {
		resp.AppliedLimit = 0
		resp.ElapsedMS = time.Since(start).Milliseconds()
		return resp, nil
	}

	limit := q.Limit
	if limit > s.opts.MaxLimit {
		limit = s.opts.MaxLimit
	}
	resp.AppliedLimit = limit

	threshold := q.SimilarityThreshold
	if threshold == 0 {
		threshold = s.opts.DefaultThreshold
	}

	sc := pipeline.NewSearchContext(pipeline.Query{
		RawText:             text,
		Collection:          collectionName,
		Limit:               limit,
		SimilarityThreshold: threshold,
		RankingProfile:      profileName,
		IncludeContent:      q.IncludeContent,
	})

	deadline, cancel := pipeline.NewDeadlineToken(ctx, s.opts.Timeout)
	defer cancel()

	if err := s.buildPipeline(profile).Run(deadline, sc); err != nil {
		if coreerrors.IsRetryable(err) {
			// Dependency failure with nothing produced: surface with a
			// retry hint rather than an empty success.
			if len(sc.FinalResults) == 0 {
				return nil, err
			}
		} else if !coreerrors.IsDeadlineExceeded(err) {
			return nil, err
		}
		sc.Analytics.Partial = true
	}

	// A deadline that stops the pipeline before ranking leaves only the
	// fused candidates; surface them in fused order with their raw signals.
	if len(sc.FinalResults) == 0 && sc.Analytics.Partial {
		for _, f := range sc.FusedResults {
			if len(sc.FinalResults) == limit {
				break
			}
			sc.FinalResults = append(sc.FinalResults, search.Ranked{
				Rankable:  search.Rankable{ChunkID: f.ChunkID, VecScore: f.VecScore, BM25Score: f.BM25Score},
				Score:     f.RRFScore,
				Breakdown: search.ScoreBreakdown{Vector: f.VecScore, Lexical: f.BM25Score},
			})
		}
	}

	handle, hasCollection := s.collections.Get(collectionName)
	for i, r := range sc.FinalResults {
		res := Result{
			ChunkID:    r.ChunkID,
			Collection: collectionName,
			Score:      r.Score,
			Rank:       i + 1,
			Breakdown: ScoreBreakdown{
				Vector:   r.Breakdown.Vector,
				Lexical:  r.Breakdown.Lexical,
				Title:    r.Breakdown.Title,
				Recency:  r.Breakdown.Recency,
				Metadata: r.Breakdown.Metadata,
			},
		}
		if hasCollection {
			if rec, found := handle.Chunks.Get(r.ChunkID); found {
				res.DocID = rec.DocID
				res.Title = rec.Title
				res.Path = rec.Path
				res.ContentPreview = preview(rec.Text)
				if q.IncludeContent {
					res.Content = rec.Text
				}
			}
		}
		resp.Results = append(resp.Results, res)
	}

	resp.TotalHits = len(sc.FusedResults)
	if sc.Analytics.ShortCircuited {
		resp.TotalHits = len(sc.BM25Candidates)
	}
	if len(sc.EnhancedTerms) > 0 {
		resp.EnhancedQuery = sc.EnhancedText
	}
	resp.Partial = sc.Analytics.Partial || sc.Analytics.VectorTimedOut || sc.Analytics.BM25TimedOut
	resp.ElapsedMS = time.Since(start).Milliseconds()

	log.Debug("search complete",
		"collection", collectionName,
		"profile", profileName,
		"results", len(resp.Results),
		"partial", resp.Partial,
		"elapsed_ms", resp.ElapsedMS)
	return resp, nil
}

// buildPipeline assembles the step sequence the profile enables.
func (s *Service) buildPipeline(profile search.Profile) *pipeline.Pipeline {
	var steps []pipeline.Step

	if s.opts.EnableQueryExpansion && profile.StepEnabled("query_enhancement") {
		steps = append(steps, &pipeline.QueryEnhancementStep{Expander: s.expander, Enabled: true})
	}
	steps = append(steps, &pipeline.HybridRetrievalStep{
		Collections: s.collections,
		Embedder:    s.embedder,
		Fusion:      search.NewFusionStrategy(profile.Fusion),
		Weights:     profile.FusionWeights,
		MultiQuery:  profile.MultiQuery,
	})
	if profile.StepEnabled("lexical_short_circuit") && profile.Fusion != search.FusionMax {
		steps = append(steps, &pipeline.LexicalShortCircuitStep{Classifier: s.classifier})
	}
	if profile.StepEnabled("result_ranking") {
		steps = append(steps, &pipeline.RankingStep{Weights: profile.RankWeights})
	}
	if profile.StepEnabled("analytics") {
		steps = append(steps, &pipeline.AnalyticsStep{})
	}
	return pipeline.New(steps...)
}

func preview(text string) string {
	if len(text) <= previewLength {
		return text
	}
	cut := text[:previewLength]
	if idx := strings.LastIndexByte(cut, ' '); idx > previewLength/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}

// ListCollections returns every collection's accounting snapshot.
func (s *Service) ListCollections() []collection.Collection {
	return s.collections.ListCollections()
}

// DescribeCollection returns one collection's accounting snapshot.
func (s *Service) DescribeCollection(name string) (collection.Collection, error) {
	col, ok := s.collections.DescribeCollection(name)
	if !ok {
		return collection.Collection{}, coreerrors.NotFoundError(coreerrors.ErrCodeCollectionNotFound,
			fmt.Sprintf("collection %q not found", name))
	}
	return col, nil
}

// Health reports component availability: the collection stores are local
// and always reachable once open; the embedder may be remote.
func (s *Service) Health(ctx context.Context) Health {
	components := map[string]HealthStatus{
		"vector_repo": HealthOK,
		"lexical":     HealthOK,
		"embedder":    HealthOK,
	}
	status := HealthOK

	if s.collections == nil {
		components["vector_repo"] = HealthDown
		components["lexical"] = HealthDown
		status = HealthDown
	}
	if s.embedder == nil || !s.embedder.Available(ctx) {
		components["embedder"] = HealthDown
		if status == HealthOK {
			// BM25-only search still works without the embedder.
			status = HealthDegraded
		}
	}
	return Health{Status: status, Components: components}
}
