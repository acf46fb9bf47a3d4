package search

import (
	"math"
	"sort"
	"strings"
	"time"
)

// RankWeights holds the multi-factor ranking signal weights. They are
// expected to sum to 1.0 and are configurable per ranking profile.
type RankWeights struct {
	VectorSimilarity  float64
	ContentRelevance  float64
	TitleBoost        float64
	Recency           float64
	MetadataRelevance float64
}

// DefaultRankWeights returns the default multi-factor weights.
func DefaultRankWeights() RankWeights {
	return RankWeights{
		VectorSimilarity:  0.40,
		ContentRelevance:  0.25,
		TitleBoost:        0.20,
		Recency:           0.10,
		MetadataRelevance: 0.05,
	}
}

// recencyHalfLife is the exponential decay half-life for the recency signal.
const recencyHalfLife = 180 * 24 * time.Hour

// titleBoostCap is the multiplicative cap on the title_boost signal.
const titleBoostCap = 1.3

// ScoreBreakdown retains each signal's contribution on a ranked result,
// for debuggability.
type ScoreBreakdown struct {
	Vector   float64
	Lexical  float64
	Title    float64
	Recency  float64
	Metadata float64
}

// Rankable is everything the multi-factor ranking step needs about one
// fused candidate, independent of how the candidate was fused.
type Rankable struct {
	ChunkID      string
	ChunkIndex   int
	Text         string
	Title        string
	HeadingPath  string
	LastModified time.Time
	Tags         []string
	Author       string
	VecScore     float64 // raw cosine similarity, 0..1
	BM25Score    float64 // raw BM25 score, unbounded
}

// Ranked is a Rankable after scoring, carrying the final normalized score
// and its signal breakdown.
type Ranked struct {
	Rankable
	Score     float64
	Breakdown ScoreBreakdown
}

// RankQuery carries the terms the ranking step scores content against.
type RankQuery struct {
	Terms       []string // raw + expanded terms, lowercased
	ExactPhrase string   // the original query text, for the exact-phrase bonus
	QueryTags   []string
	QueryAuthor string
}

// Rank applies multi-factor re-scoring to candidates, then
// min-max normalizes the final score into [0,1] so rank=1 has score=1.0.
// Ties are broken per the global rule: vector similarity desc, then BM25
// desc, then chunk_index asc, then chunk_id asc.
func Rank(candidates []Rankable, q RankQuery, w RankWeights, now time.Time) []Ranked {
	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		b := ScoreBreakdown{
			Vector:   c.VecScore,
			Lexical:  contentRelevance(c.Text, q),
			Title:    titleBoost(c.Title, c.HeadingPath, q),
			Recency:  recencyScore(c.LastModified, now),
			Metadata: metadataRelevance(c.Tags, c.Author, q),
		}
		raw := w.VectorSimilarity*b.Vector +
			w.ContentRelevance*b.Lexical +
			w.TitleBoost*b.Title +
			w.Recency*b.Recency +
			w.MetadataRelevance*b.Metadata

		ranked = append(ranked, Ranked{Rankable: c, Score: raw, Breakdown: b})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.VecScore != b.VecScore {
			return a.VecScore > b.VecScore
		}
		if a.BM25Score != b.BM25Score {
			return a.BM25Score > b.BM25Score
		}
		if a.ChunkIndex != b.ChunkIndex {
			return a.ChunkIndex < b.ChunkIndex
		}
		return a.ChunkID < b.ChunkID
	})

	if len(ranked) == 0 {
		return ranked
	}
	max := ranked[0].Score
	min := ranked[len(ranked)-1].Score
	spread := max - min
	for i := range ranked {
		if spread == 0 {
			ranked[i].Score = 1.0
			continue
		}
		ranked[i].Score = (ranked[i].Score - min) / spread
	}
	return ranked
}

// contentRelevance measures keyword density of query terms (including
// expansions) in the chunk text, with a bonus if the exact phrase appears
// verbatim.
func contentRelevance(text string, q RankQuery) float64 {
	if text == "" || len(q.Terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	words := strings.Fields(lower)
	if len(words) == 0 {
		return 0
	}

	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[strings.Trim(w, ".,;:!?()[]{}\"'")]++
	}

	var hits int
	for _, term := range q.Terms {
		hits += counts[strings.ToLower(term)]
	}
	density := float64(hits) / float64(len(words))
	// Density is scaled into [0, 0.95] so the exact-phrase bonus always counts.
	score := math.Min(1.0-0.05, density*10)

	if q.ExactPhrase != "" && strings.Contains(lower, strings.ToLower(q.ExactPhrase)) {
		score += 0.05
	}
	return math.Min(1.0, score)
}

// titleBoost matches query terms against the document title / heading
// path, producing a multiplicative boost capped at titleBoostCap and
// normalized back into [0,1].
func titleBoost(title, headingPath string, q RankQuery) float64 {
	if title == "" && headingPath == "" {
		return 0
	}
	haystack := strings.ToLower(title + " " + headingPath)
	if haystack == "" || len(q.Terms) == 0 {
		return 0
	}

	var matches int
	for _, term := range q.Terms {
		if strings.Contains(haystack, strings.ToLower(term)) {
			matches++
		}
	}
	if matches == 0 {
		return 0
	}
	ratio := float64(matches) / float64(len(q.Terms))
	boost := math.Min(titleBoostCap, 1.0+ratio*(titleBoostCap-1.0))
	return (boost - 1.0) / (titleBoostCap - 1.0)
}

// recencyScore applies exponential decay on the document's last_modified
// timestamp with a 180-day half-life.
func recencyScore(lastModified, now time.Time) float64 {
	if lastModified.IsZero() {
		return 0
	}
	age := now.Sub(lastModified)
	if age < 0 {
		age = 0
	}
	halfLives := age.Seconds() / recencyHalfLife.Seconds()
	return math.Pow(0.5, halfLives)
}

// metadataRelevance measures tag/author overlap between the query and the
// candidate's metadata.
func metadataRelevance(tags []string, author string, q RankQuery) float64 {
	if len(q.QueryTags) == 0 && q.QueryAuthor == "" {
		return 0
	}

	var score float64
	if len(q.QueryTags) > 0 && len(tags) > 0 {
		tagSet := make(map[string]struct{}, len(tags))
		for _, t := range tags {
			tagSet[strings.ToLower(t)] = struct{}{}
		}
		var overlap int
		for _, t := range q.QueryTags {
			if _, ok := tagSet[strings.ToLower(t)]; ok {
				overlap++
			}
		}
		score += float64(overlap) / float64(len(q.QueryTags))
	}
	if q.QueryAuthor != "" && strings.EqualFold(q.QueryAuthor, author) {
		score += 1.0
	}
	return math.Min(1.0, score)
}
