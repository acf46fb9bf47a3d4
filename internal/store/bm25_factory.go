package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// BM25Backend represents the BM25 index backend type.
type BM25Backend string

const (
	// BM25BackendSQLite uses SQLite FTS5 for BM25 search. WAL mode
	// allows concurrent multi-process access to one collection.
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve uses Bleve v2 for BM25 search. Exclusive file
	// locking via BoltDB makes it single-process.
	BM25BackendBleve BM25Backend = "bleve"
)

// backendExtension maps a backend to the suffix its artifact carries on
// disk: a single .db file for SQLite, a .bleve directory for Bleve.
func backendExtension(backend BM25Backend) string {
	if backend == BM25BackendBleve {
		return ".bleve"
	}
	return ".db"
}

// NewBM25IndexWithBackend creates a BM25Index for basePath using the named
// backend; the artifact extension is appended per backend. An empty
// basePath creates an in-memory index for tests.
//
// backend options:
//   - "sqlite" (the factory default): SQLite FTS5 with WAL mode
//   - "bleve": Bleve v2 with BoltDB, single-process
//
// The collection manager always passes its configured backend explicitly;
// the empty-string default only matters for direct factory callers.
func NewBM25IndexWithBackend(basePath string, config BM25Config, backend string) (BM25Index, error) {
	withExt := func(b BM25Backend) string {
		if basePath == "" {
			return ""
		}
		return basePath + backendExtension(b)
	}

	switch backend {
	case string(BM25BackendSQLite), "":
		return NewSQLiteBM25Index(withExt(BM25BackendSQLite), config)
	case string(BM25BackendBleve):
		return NewBleveBM25Index(withExt(BM25BackendBleve), config)
	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectBM25Backend reports which backend's artifact already exists at
// basePath, so an existing collection reopens with the engine that wrote
// it regardless of the current configuration. Returns "" when no index
// exists yet.
func DetectBM25Backend(basePath string) BM25Backend {
	if fileExists(basePath + backendExtension(BM25BackendSQLite)) {
		return BM25BackendSQLite
	}
	if dirExists(basePath + backendExtension(BM25BackendBleve)) {
		return BM25BackendBleve
	}
	return ""
}

// GetBM25IndexPath returns the artifact path for a backend inside dataDir.
func GetBM25IndexPath(dataDir string, backend string) string {
	basePath := filepath.Join(dataDir, "bm25")
	if backend == string(BM25BackendBleve) {
		return basePath + backendExtension(BM25BackendBleve)
	}
	return basePath + backendExtension(BM25BackendSQLite)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
