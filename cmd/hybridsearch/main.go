// Command hybridsearch is a thin smoke-test shell over the core search and
// index services. Production transports (REST, JSON-RPC) live outside this
// repository and wire the same pkg/searcher and pkg/indexer contracts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aman-cerp/hybridsearch/internal/chunk"
	"github.com/aman-cerp/hybridsearch/internal/collection"
	"github.com/aman-cerp/hybridsearch/internal/config"
	"github.com/aman-cerp/hybridsearch/internal/corelog"
	"github.com/aman-cerp/hybridsearch/internal/embed"
	"github.com/aman-cerp/hybridsearch/internal/index"
	"github.com/aman-cerp/hybridsearch/internal/search"
	"github.com/aman-cerp/hybridsearch/pkg/indexer"
	"github.com/aman-cerp/hybridsearch/pkg/searcher"
)

func main() {
	var (
		dataDir    = flag.String("data", defaultDataDir(), "data directory holding collections")
		coll       = flag.String("collection", "", "collection name (defaults to config)")
		dimension  = flag.Int("dim", 0, "vector dimension when creating a collection (defaults to embedder)")
		indexPath  = flag.String("index", "", "index the given path into -collection")
		query      = flag.String("query", "", "search -collection for the given query")
		limit      = flag.Int("limit", 10, "maximum results")
		profile    = flag.String("profile", "", "ranking profile name")
		listCols   = flag.Bool("collections", false, "list collections")
		healthOnly = flag.Bool("health", false, "print component health")
	)
	flag.Parse()

	if err := run(*dataDir, *coll, *dimension, *indexPath, *query, *limit, *profile, *listCols, *healthOnly); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(dataDir, coll string, dimension int, indexPath, query string, limit int, profile string, listCols, healthOnly bool) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	corelog.Setup(os.Stderr, corelog.ParseLevel(cfg.LogLevel))

	ctx := context.Background()
	embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(cfg.Embeddings.Provider), cfg.Embeddings.Model)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	collections, err := collection.NewManager(dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = collections.Close() }()

	handlers, err := chunk.NewSizedRegistry(cfg.Chunking.TargetTokens, cfg.Chunking.OverlapRatio)
	if err != nil {
		return err
	}
	runner := index.NewRunner(handlers, embedder, index.RunnerConfig{
		Workers:      cfg.Indexing.WorkerPoolSize,
		EmbedTimeout: time.Duration(cfg.Embeddings.TimeoutMS) * time.Millisecond,
	})
	core, err := index.NewService(collections, runner)
	if err != nil {
		return err
	}
	idx := indexer.New(collections, core)

	profiles := search.NewProfileRegistry(profilesFromConfig(cfg)...)
	searchSvc := searcher.New(collections, embedder, profiles, searcher.Options{
		DefaultCollection:    cfg.Search.DefaultCollection,
		MaxLimit:             cfg.Search.MaxLimit,
		DefaultThreshold:     cfg.Search.DefaultThreshold,
		Timeout:              time.Duration(cfg.Search.TimeoutMS) * time.Millisecond,
		EnableQueryExpansion: cfg.Search.EnableQueryExpansion,
	})

	if coll == "" {
		coll = cfg.Search.DefaultCollection
	}

	switch {
	case healthOnly:
		return printJSON(searchSvc.Health(ctx))

	case listCols:
		return printJSON(searchSvc.ListCollections())

	case indexPath != "":
		dim := dimension
		if dim <= 0 {
			dim = embedder.Dimensions()
		}
		if err := idx.CreateCollection(coll, dim); err != nil {
			return err
		}
		op, err := idx.IndexPath(indexer.IndexRequest{
			Path:       indexPath,
			Collection: coll,
			Recursive:  true,
			BatchSize:  cfg.Embeddings.BatchSize,
		})
		if err != nil {
			return err
		}
		final, err := idx.WaitOperation(ctx, op.ID)
		if err != nil {
			return err
		}
		return printJSON(final)

	case query != "":
		resp, err := searchSvc.Search(ctx, searcher.Query{
			Text:           query,
			Collection:     coll,
			Limit:          limit,
			RankingProfile: profile,
		})
		if err != nil {
			return err
		}
		return printJSON(resp)

	default:
		flag.Usage()
		return nil
	}
}

// profilesFromConfig converts configured ranking profiles into the search
// package's profile values.
func profilesFromConfig(cfg *config.Config) []search.Profile {
	out := make([]search.Profile, 0, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		profile := search.Profile{
			Name:          p.Name,
			Fusion:        search.FusionStrategyName(p.Fusion),
			FusionWeights: search.Weights{BM25: p.LexicalWeight, Semantic: p.VectorWeight},
			EnabledSteps:  p.EnabledSteps,
			MultiQuery:    p.MultiQuery,
		}
		if sum := p.RankVector + p.RankContent + p.RankTitle + p.RankRecency + p.RankMetadata; sum > 0 {
			profile.RankWeights = search.RankWeights{
				VectorSimilarity:  p.RankVector,
				ContentRelevance:  p.RankContent,
				TitleBoost:        p.RankTitle,
				Recency:           p.RankRecency,
				MetadataRelevance: p.RankMetadata,
			}
		} else {
			profile.RankWeights = search.DefaultRankWeights()
		}
		out = append(out, profile)
	}
	return out
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hybridsearch-data"
	}
	return filepath.Join(home, ".hybridsearch", "collections")
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
