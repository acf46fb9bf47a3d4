package search

import (
	"sort"
	"sync/atomic"
)

// Profile is a named bundle of fusion strategy, fusion weights,
// multi-factor ranking weights, and enabled pipeline steps.
type Profile struct {
	Name          string
	Fusion        FusionStrategyName
	FusionWeights Weights
	RankWeights   RankWeights

	// EnabledSteps lists active pipeline step names; empty enables all.
	EnabledSteps []string

	// MultiQuery turns on multi-query fan-out fusion for this profile.
	MultiQuery bool
}

// StepEnabled reports whether the named pipeline step is active.
func (p Profile) StepEnabled(name string) bool {
	if len(p.EnabledSteps) == 0 {
		return true
	}
	for _, s := range p.EnabledSteps {
		if s == name {
			return true
		}
	}
	return false
}

// DefaultProfileName is used when a query names no ranking profile.
const DefaultProfileName = "hybrid_default_v1"

// DefaultProfiles returns the built-in ranking profiles: the RRF hybrid
// default plus pure-lexical and pure-vector variants.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:          DefaultProfileName,
			Fusion:        FusionRRF,
			FusionWeights: Weights{BM25: 0.4, Semantic: 0.6},
			RankWeights:   DefaultRankWeights(),
		},
		{
			Name:          "bm25",
			Fusion:        FusionMax,
			FusionWeights: Weights{BM25: 1.0, Semantic: 0.0},
			RankWeights: RankWeights{
				VectorSimilarity:  0.0,
				ContentRelevance:  0.55,
				TitleBoost:        0.25,
				Recency:           0.15,
				MetadataRelevance: 0.05,
			},
		},
		{
			Name:          "vector",
			Fusion:        FusionMax,
			FusionWeights: Weights{BM25: 0.0, Semantic: 1.0},
			RankWeights: RankWeights{
				VectorSimilarity:  0.70,
				ContentRelevance:  0.10,
				TitleBoost:        0.10,
				Recency:           0.05,
				MetadataRelevance: 0.05,
			},
		},
	}
}

// ProfileRegistry is the read-mostly ranking-profile store. Reads take an
// immutable snapshot without locking; hot reload replaces the whole
// snapshot behind the atomic pointer.
type ProfileRegistry struct {
	snapshot atomic.Pointer[map[string]Profile]
}

// NewProfileRegistry builds a registry from the given profiles, falling
// back to DefaultProfiles when none are given.
func NewProfileRegistry(profiles ...Profile) *ProfileRegistry {
	r := &ProfileRegistry{}
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	r.Replace(profiles)
	return r
}

// Get returns the named profile.
func (r *ProfileRegistry) Get(name string) (Profile, bool) {
	snap := *r.snapshot.Load()
	p, ok := snap[name]
	return p, ok
}

// Names returns every registered profile name, sorted.
func (r *ProfileRegistry) Names() []string {
	snap := *r.snapshot.Load()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replace swaps in a full new profile set. In-flight requests keep the
// snapshot they already loaded.
func (r *ProfileRegistry) Replace(profiles []Profile) {
	snap := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		snap[p.Name] = p
	}
	r.snapshot.Store(&snap)
}
