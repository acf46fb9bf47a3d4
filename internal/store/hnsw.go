package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore is the embedded on-disk vector repository: a pure-Go HNSW
// graph for approximate nearest-neighbor search, with string chunk ids
// mapped onto the graph's integer keys.
//
// Deletion is lazy. Removing a node can corrupt the underlying graph's
// entry point, so deletes only drop the id mapping; the orphaned node
// stays in the graph, invisible to results, until Compact rebuilds.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig
	keys   keyspace
	closed bool
}

var _ VectorStore = (*HNSWStore)(nil)

// keyspace maintains the bidirectional chunk-id <-> graph-key mapping.
// Keys are never reused within a graph's lifetime; reuse would resurrect
// a lazily deleted node under a new id.
type keyspace struct {
	byID  map[string]uint64
	byKey map[uint64]string
	next  uint64
}

func newKeyspace() keyspace {
	return keyspace{
		byID:  make(map[string]uint64),
		byKey: make(map[uint64]string),
	}
}

// assign maps id to a fresh key, orphaning any key the id held before.
func (k *keyspace) assign(id string) uint64 {
	if old, exists := k.byID[id]; exists {
		delete(k.byKey, old)
	}
	key := k.next
	k.next++
	k.byID[id] = key
	k.byKey[key] = id
	return key
}

// drop orphans id's key. Unknown ids are no-ops.
func (k *keyspace) drop(id string) {
	if key, exists := k.byID[id]; exists {
		delete(k.byKey, key)
		delete(k.byID, id)
	}
}

// hnswMetadata is the gob-persisted sidecar: the id mapping plus the
// config the graph was built with.
type hnswMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorStoreConfig
}

// NewHNSWStore creates an empty store for the given configuration.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	return &HNSWStore{
		graph:  newGraph(cfg),
		config: cfg,
		keys:   newKeyspace(),
	}, nil
}

// newGraph builds a coder/hnsw graph wired for the config's metric.
func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25 // level generation factor, ~1/ln(M)
	return graph
}

// Add inserts vectors with their IDs. An existing ID is replaced: its old
// node is orphaned and the new vector enters under a fresh key.
func (s *HNSWStore) Add(_ context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}
		s.graph.Add(hnsw.MakeNode(s.keys.assign(id), vec))
	}
	return nil
}

// Search finds up to k nearest neighbors, descending by similarity, ties
// broken by chunk id ascending. Orphaned nodes never surface: their keys
// no longer resolve to an id.
func (s *HNSWStore) Search(_ context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(q)
	}

	results := make([]*VectorResult, 0, k)
	for _, node := range s.graph.Search(q, k) {
		id, live := s.keys.byKey[node.Key]
		if !live {
			continue
		}
		distance := s.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// Delete removes vectors by ID, lazily (see the type comment).
func (s *HNSWStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, id := range ids {
		s.keys.drop(id)
	}
	return nil
}

// AllIDs returns all live vector IDs, for consistency checks.
func (s *HNSWStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	ids := make([]string, 0, len(s.keys.byID))
	for id := range s.keys.byID {
		ids = append(ids, id)
	}
	return ids
}

// Contains checks if ID exists.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, exists := s.keys.byID[id]
	return exists
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.keys.byID)
}

// HNSWStats exposes the live/orphan split that drives compaction.
type HNSWStats struct {
	ValidIDs   int // live id mappings
	GraphNodes int // total graph nodes, orphans included
	Orphans    int // GraphNodes - ValidIDs
}

// Stats returns the store's live/orphan accounting.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return HNSWStats{}
	}

	live := len(s.keys.byID)
	nodes := s.graph.Len()
	return HNSWStats{ValidIDs: live, GraphNodes: nodes, Orphans: nodes - live}
}

// OrphanRatio reports the fraction of graph nodes orphaned by lazy
// deletion, the signal for deciding when Compact is worth its cost.
func (s *HNSWStore) OrphanRatio() float64 {
	stats := s.Stats()
	if stats.GraphNodes == 0 {
		return 0
	}
	return float64(stats.Orphans) / float64(stats.GraphNodes)
}

// Compact rebuilds the graph from live vectors, dropping the orphaned
// nodes lazy deletion leaves behind. Never scheduled automatically; the
// embedding process calls it when OrphanRatio crosses its threshold.
func (s *HNSWStore) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rebuilt := newGraph(s.config)
	fresh := newKeyspace()
	for id, key := range s.keys.byID {
		vec, ok := s.graph.Lookup(key)
		if !ok {
			continue
		}
		rebuilt.Add(hnsw.MakeNode(fresh.assign(id), vec))
	}

	dropped := s.graph.Len() - rebuilt.Len()
	s.graph = rebuilt
	s.keys = fresh

	slog.Debug("hnsw compaction complete",
		slog.Int("live", rebuilt.Len()),
		slog.Int("dropped", dropped))
	return nil
}

// Save persists the graph and its id-mapping sidecar, each written to a
// temp file and renamed into place so a crash never leaves a torn file.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := atomicWrite(path, func(f *os.File) error {
		return s.graph.Export(f)
	}); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}

	meta := hnswMetadata{
		IDMap:   s.keys.byID,
		NextKey: s.keys.next,
		Config:  s.config,
	}
	if err := atomicWrite(path+".meta", func(f *os.File) error {
		return gob.NewEncoder(f).Encode(meta)
	}); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// atomicWrite streams write into path via a temp file plus rename.
func atomicWrite(path string, write func(*os.File) error) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Load restores the graph and id mapping saved by Save.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	meta, err := readHNSWMetadata(path + ".meta")
	if err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	s.config = meta.Config
	s.keys = keyspace{
		byID:  meta.IDMap,
		byKey: make(map[uint64]string, len(meta.IDMap)),
		next:  meta.NextKey,
	}
	for id, key := range meta.IDMap {
		s.keys.byKey[key] = id
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer f.Close()

	// Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

func readHNSWMetadata(path string) (hnswMetadata, error) {
	var meta hnswMetadata

	f, err := os.Open(path)
	if err != nil {
		return meta, err
	}
	defer func() { _ = f.Close() }()

	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return meta, fmt.Errorf("decode hnsw metadata: %w", err)
	}
	return meta, nil
}

// Close releases resources.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// ReadHNSWStoreDimensions reads the dimension a saved store was built
// with. Returns 0 when no metadata exists yet (fresh collection). The
// path is the vector store path, not the sidecar path.
func ReadHNSWStoreDimensions(vectorPath string) (int, error) {
	meta, err := readHNSWMetadata(vectorPath + ".meta")
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read hnsw metadata: %w", err)
	}
	return meta.Config.Dimensions, nil
}

// normalizeVectorInPlace scales a vector to unit length in place; the
// zero vector is left untouched.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps a distance to a 0-1 similarity: cosine distance
// spans [0, 2], so score = 1 - d/2; L2 is unbounded, so score decays as
// 1/(1+d).
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
