package collection

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	coreerrors "github.com/aman-cerp/hybridsearch/internal/errors"
	"github.com/aman-cerp/hybridsearch/internal/store"
)

// Handle bundles the per-collection storage triad: vector repository,
// lexical index, and document registry. Vectors and postings owned by a
// Handle never leak into another collection's Handle.
type Handle struct {
	Name     string
	Dim      int
	Vector   store.VectorStore
	Lexical  store.BM25Index
	Docs     *DocRegistry
	Chunks   *ChunkRegistry
	dir      string
	writeMu  *flock.Flock
	createdAt time.Time
}

// Dir returns the collection's on-disk directory.
func (h *Handle) Dir() string { return h.dir }

// writeLock acquires the collection's single-writer file lock, enforcing
// that on-disk write operations are strictly sequential per collection.
func (h *Handle) writeLock() (func(), error) {
	if err := h.writeMu.Lock(); err != nil {
		return nil, coreerrors.InternalError("failed to acquire collection write lock", err)
	}
	return func() { _ = h.writeMu.Unlock() }, nil
}

// Manager owns the set of open collection handles, the only process-wide
// mutable state the core holds (per the DESIGN NOTES "Global mutable
// state" guidance). It is initialized at startup and drained at shutdown.
type Manager struct {
	mu       sync.RWMutex
	baseDir  string
	bm25Backend string
	handles  map[string]*Handle
}

// NewManager creates a collection manager rooted at baseDir. Each
// collection gets its own subdirectory under baseDir.
func NewManager(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	m := &Manager{
		baseDir:     baseDir,
		bm25Backend: string(store.BM25BackendBleve),
		handles:     make(map[string]*Handle),
	}
	if err := m.recoverAll(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) collectionDir(name string) string {
	return filepath.Join(m.baseDir, name)
}

// recoverAll re-opens every collection directory found under baseDir on
// startup, reconstructing in-memory handles from durable artifacts.
func (m *Manager) recoverAll() error {
	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := m.collectionDir(e.Name())
		mf, ok, err := readManifest(dir)
		if err != nil || !ok {
			continue
		}
		h, err := m.openHandle(mf.Name, mf.Dimension, mf.Metric, mf.CreatedAt)
		if err != nil {
			return fmt.Errorf("recovering collection %q: %w", mf.Name, err)
		}
		m.handles[mf.Name] = h
	}
	return nil
}

func (m *Manager) openHandle(name string, dim int, metric string, createdAt time.Time) (*Handle, error) {
	dir := m.collectionDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	vecCfg := store.DefaultVectorStoreConfig(dim)
	if metric != "" {
		vecCfg.Metric = metric
	}
	vec, err := store.NewHNSWStore(vecCfg)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	vectorsDir := filepath.Join(dir, "vectors")
	if err := os.MkdirAll(vectorsDir, 0o755); err != nil {
		return nil, err
	}
	vectorsFile := filepath.Join(vectorsDir, "index.hnsw")
	if _, statErr := os.Stat(vectorsFile); statErr == nil {
		if err := vec.Load(vectorsFile); err != nil {
			return nil, fmt.Errorf("loading vector store: %w", err)
		}
	}

	lexicalDir := filepath.Join(dir, "lexical")
	if err := os.MkdirAll(lexicalDir, 0o755); err != nil {
		return nil, err
	}
	lex, err := store.NewBM25IndexWithBackend(filepath.Join(lexicalDir, "bm25"), store.DefaultBM25Config(), m.bm25Backend)
	if err != nil {
		return nil, fmt.Errorf("opening lexical index: %w", err)
	}

	docs, err := LoadDocRegistry(dir)
	if err != nil {
		return nil, fmt.Errorf("loading document registry: %w", err)
	}

	chunks, err := LoadChunkRegistry(dir)
	if err != nil {
		return nil, fmt.Errorf("loading chunk registry: %w", err)
	}

	return &Handle{
		Name:      name,
		Dim:       dim,
		Vector:    vec,
		Lexical:   lex,
		Docs:      docs,
		Chunks:    chunks,
		dir:       dir,
		writeMu:   flock.New(filepath.Join(dir, ".write.lock")),
		createdAt: createdAt,
	}, nil
}

// CreateCollection creates name with the given vector dimension, or
// validates an existing one. Idempotent: re-creating with the same
// dimension succeeds; a different dimension fails with Conflict.
func (m *Manager) CreateCollection(name string, dim int) (*Handle, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if dim <= 0 {
		return nil, coreerrors.ValidationError(fmt.Sprintf("invalid dimension %d", dim), nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handles[name]; ok {
		if h.Dim != dim {
			return nil, coreerrors.ConflictError(coreerrors.ErrCodeCollectionExists,
				fmt.Sprintf("collection %q exists with dimension %d, requested %d", name, h.Dim, dim))
		}
		return h, nil
	}

	dir := m.collectionDir(name)
	createdAt := time.Now()
	if mf, ok, err := readManifest(dir); err == nil && ok {
		if mf.Dimension != dim {
			return nil, coreerrors.ConflictError(coreerrors.ErrCodeCollectionExists,
				fmt.Sprintf("collection %q exists with dimension %d, requested %d", name, mf.Dimension, dim))
		}
		createdAt = mf.CreatedAt
	}

	if err := writeManifest(dir, manifestFile{Name: name, Dimension: dim, Metric: "cos", CreatedAt: createdAt}); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	h, err := m.openHandle(name, dim, "cos", createdAt)
	if err != nil {
		return nil, err
	}
	m.handles[name] = h
	return h, nil
}

// Get returns the handle for name. ok is false if the collection does not
// exist; callers must treat that as "empty result", not an error, per the
// search contract.
func (m *Manager) Get(name string) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[name]
	return h, ok
}

// DeleteCollection removes all records and artifacts for name.
// Deletion is non-transactional: it drains in-flight commits for the
// collection first (via the write lock), then removes the directory.
// A search racing a delete may observe a transient not-found rather than
// a torn view.
func (m *Manager) DeleteCollection(name string) error {
	m.mu.Lock()
	h, ok := m.handles[name]
	if !ok {
		m.mu.Unlock()
		return coreerrors.NotFoundError(coreerrors.ErrCodeCollectionNotFound,
			fmt.Sprintf("collection %q not found", name))
	}
	delete(m.handles, name)
	m.mu.Unlock()

	unlock, err := h.writeLock()
	if err == nil {
		defer unlock()
	}

	_ = h.Vector.Close()
	_ = h.Lexical.Close()

	return os.RemoveAll(h.dir)
}

// ListCollections returns a snapshot of every open collection's accounting.
func (m *Manager) ListCollections() []Collection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Collection, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, describeHandle(h))
	}
	return out
}

// DescribeCollection returns the accounting snapshot for name.
func (m *Manager) DescribeCollection(name string) (Collection, bool) {
	m.mu.RLock()
	h, ok := m.handles[name]
	m.mu.RUnlock()
	if !ok {
		return Collection{}, false
	}
	return describeHandle(h), true
}

func describeHandle(h *Handle) Collection {
	var size int64
	_ = filepath.Walk(h.dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return Collection{
		Name:          h.Name,
		CreatedAt:     h.createdAt,
		Dimension:     h.Dim,
		Metric:        "cos",
		DocumentCount: h.Docs.Len(),
		VectorCount:   h.Vector.Count(),
		SizeBytes:     size,
	}
}

// Close drains and closes every open collection handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, h := range m.handles {
		vectorsFile := filepath.Join(h.dir, "vectors", "index.hnsw")
		if err := h.Vector.Save(vectorsFile); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("saving vectors for %q: %w", name, err)
		}
		if err := h.Vector.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := h.Lexical.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.handles = make(map[string]*Handle)
	return firstErr
}
