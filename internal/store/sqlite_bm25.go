package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO
)

// SQLiteBM25Index is the FTS5-backed lexical index. Unlike the bleve
// backend it tolerates concurrent multi-process access: WAL mode lets
// readers proceed while a writer commits. Text is pre-tokenized with the
// shared TokenizeCode rules before it reaches FTS5, so both backends see
// identical terms at index and query time.
type SQLiteBM25Index struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	config    BM25Config
	closed    bool
	stopWords map[string]struct{}
}

var _ BM25Index = (*SQLiteBM25Index)(nil)

// sqliteDSN appends the connection options every open uses: WAL for
// concurrency, NORMAL sync as the durability/speed balance, and a busy
// timeout so lock contention waits instead of failing.
func sqliteDSN(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

// NewSQLiteBM25Index opens (or creates) the index database at path; an
// empty path creates an in-memory index. A database that fails its
// integrity check is cleared and recreated — like the bleve backend, the
// lexical side is always rebuildable by reindexing.
func NewSQLiteBM25Index(path string, config BM25Config) (*SQLiteBM25Index, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := clearIfCorrupted(path); err != nil {
			return nil, err
		}
		dsn = sqliteDSN(path)
	}

	db, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}

	idx := &SQLiteBM25Index{
		db:        db,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

// openSQLite opens a connection with the pool and pragma settings every
// index handle uses. One writer connection avoids SQLite lock thrash; the
// pragmas repeat the DSN options because modernc.org/sqlite ignores some
// DSN parameters.
func openSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536", // 64MB page cache
		"PRAGMA temp_store = MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	return db, nil
}

// clearIfCorrupted validates an existing database and removes it (with
// its WAL/SHM siblings) when corrupt. A missing file is fine.
func clearIfCorrupted(path string) error {
	validErr := validateSQLiteIntegrity(path)
	if validErr == nil {
		return nil
	}

	slog.Warn("sqlite lexical index corrupted, clearing",
		slog.String("path", path),
		slog.String("error", validErr.Error()))

	if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
	}
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
	return nil
}

// validateSQLiteIntegrity opens the database read-only and runs the
// integrity pragma plus a schema probe for the FTS table.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name='fts_content'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table 'fts_content' missing")
	}
	return nil
}

// initSchema creates the FTS5 virtual table plus the doc-id tracking
// table. FTS5 does not expose its rowids reliably enough for AllIDs, so
// ids are tracked alongside.
func (s *SQLiteBM25Index) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- doc_id is stored but unindexed; content arrives pre-tokenized, so
	-- the builtin unicode61 tokenizer only has to split on spaces.
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS doc_ids (
		doc_id TEXT PRIMARY KEY
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ftsTerms applies the shared tokenization and stop-word filtering, the
// same transformation at index and query time.
func (s *SQLiteBM25Index) ftsTerms(text string) []string {
	return FilterStopWords(TokenizeCode(text), s.stopWords)
}

// Index upserts documents in one transaction. FTS5 virtual tables have no
// REPLACE, so each id is deleted before its fresh insert.
func (s *SQLiteBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_content WHERE doc_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `INSERT INTO fts_content(doc_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare FTS statement: %w", err)
	}
	defer insertStmt.Close()

	idStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO doc_ids(doc_id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare ID statement: %w", err)
	}
	defer idStmt.Close()

	for _, doc := range docs {
		content := strings.Join(s.ftsTerms(doc.Content), " ")

		if _, err := deleteStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to delete existing document %s: %w", doc.ID, err)
		}
		if _, err := insertStmt.ExecContext(ctx, doc.ID, content); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
		if _, err := idStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to track document ID %s: %w", doc.ID, err)
		}
	}

	return tx.Commit()
}

// Search returns up to limit documents matching the query, scored by
// FTS5's bm25() and negated so higher means better, matching the bleve
// backend's orientation.
func (s *SQLiteBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*BM25Result{}, nil
	}

	terms := s.ftsTerms(queryStr)
	if len(terms) == 0 {
		return []*BM25Result{}, nil
	}

	// Space-separated terms are AND-matched by FTS5; bm25() returns
	// negative values with lower meaning better, hence ORDER BY score;
	// equal scores fall back to doc_id ascending.
	const query = `
		SELECT doc_id, bm25(fts_content) as score
		FROM fts_content
		WHERE content MATCH ?
		ORDER BY score, doc_id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, strings.Join(terms, " "), limit)
	if err != nil {
		// An unparsable MATCH expression means no results, not a failure.
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*BM25Result{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []*BM25Result
	for rows.Next() {
		var docID string
		var score float64
		if err := rows.Scan(&docID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, &BM25Result{
			DocID:        docID,
			Score:        -score,
			MatchedTerms: terms,
		})
	}
	return results, rows.Err()
}

// Delete removes documents in one transaction. Unknown IDs are no-ops.
func (s *SQLiteBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(docIDs))
	args := make([]any, len(docIDs))
	for i, id := range docIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM fts_content WHERE doc_id IN (%s)", inClause), args...); err != nil {
		return fmt.Errorf("failed to delete from FTS: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM doc_ids WHERE doc_id IN (%s)", inClause), args...); err != nil {
		return fmt.Errorf("failed to delete from doc_ids: %w", err)
	}

	return tx.Commit()
}

// AllIDs returns all document IDs in the index, for consistency checks.
func (s *SQLiteBM25Index) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	rows, err := s.db.Query(`SELECT doc_id FROM doc_ids ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns index statistics. FTS5 keeps term statistics internal;
// only the document count is exposed.
func (s *SQLiteBM25Index) Stats() *IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &IndexStats{}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM doc_ids`).Scan(&count); err != nil {
		return &IndexStats{}
	}
	return &IndexStats{DocumentCount: count}
}

// Save forces a WAL checkpoint so every committed write is in the main
// database file.
func (s *SQLiteBM25Index) Save(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Load replaces the open database with one at path.
func (s *SQLiteBM25Index) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil && !s.closed {
		_ = s.db.Close()
	}

	db, err := openSQLite(sqliteDSN(path))
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	s.db = db
	s.path = path
	s.closed = false
	return nil
}

// Close checkpoints and closes the database. Safe to call more than once.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
