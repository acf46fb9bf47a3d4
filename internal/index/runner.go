// Package index materializes documents from a source path into a
// collection's vector repository and lexical index. Enumeration and
// processing are decoupled by a bounded queue; a fixed worker pool commits
// chunks so that each chunk is either fully visible (vector + lexical) or
// not visible at all.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aman-cerp/hybridsearch/internal/async"
	"github.com/aman-cerp/hybridsearch/internal/chunk"
	"github.com/aman-cerp/hybridsearch/internal/collection"
	"github.com/aman-cerp/hybridsearch/internal/corelog"
	"github.com/aman-cerp/hybridsearch/internal/embed"
	coreerrors "github.com/aman-cerp/hybridsearch/internal/errors"
	"github.com/aman-cerp/hybridsearch/internal/scanner"
	"github.com/aman-cerp/hybridsearch/internal/store"
)

const (
	// DefaultBatchSize is the embedding batch size when the request does
	// not specify one.
	DefaultBatchSize = 64

	// DefaultEmbedTimeout bounds a single embedding call.
	DefaultEmbedTimeout = 30 * time.Second

	// maxWorkers caps the processing pool regardless of CPU count.
	maxWorkers = 8
)

// Request describes one index_path invocation.
type Request struct {
	Path              string
	Collection        string
	Recursive         bool
	IncludeExtensions []string
	ExcludePatterns   []string
	BatchSize         int
	Overwrite         bool
}

// FileError records a per-file failure. File errors accumulate in the
// summary; they never abort the batch.
type FileError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Summary is the outcome of a completed (or cancelled) index run.
type Summary struct {
	Processed  int
	Added      int
	Updated    int
	Skipped    int
	Errors     []FileError
	DurationMS int64
}

// RunnerConfig tunes the worker pool and embedding calls.
type RunnerConfig struct {
	// Workers is the processing pool size (0 = min(NumCPU, 8)).
	Workers int

	// EmbedTimeout bounds each embedding call (0 = DefaultEmbedTimeout).
	EmbedTimeout time.Duration
}

// Runner executes index requests synchronously against a collection.
type Runner struct {
	handlers *chunk.Registry
	embedder embed.Embedder
	scan     *scanner.Scanner
	cfg      RunnerConfig
}

// NewRunner creates a Runner over the given content-handler registry and
// embedding service.
func NewRunner(handlers *chunk.Registry, embedder embed.Embedder, cfg RunnerConfig) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
		if cfg.Workers > maxWorkers {
			cfg.Workers = maxWorkers
		}
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	return &Runner{
		handlers: handlers,
		embedder: embedder,
		scan:     scanner.New(),
		cfg:      cfg,
	}
}

// fileOutcome classifies one processed file for summary accounting.
type fileOutcome int

const (
	outcomeAdded fileOutcome = iota
	outcomeUpdated
	outcomeSkipped
	outcomeFailed
)

// Run walks req.Path and indexes every accepted file into h. Cancellation
// completes in-flight files, then stops; the partial commits it leaves
// behind are chunk-atomic and safe to re-index. Run returns ctx.Err() when
// cancelled and a non-nil error only for non-recoverable failures (e.g. a
// dimension mismatch between the embedder and the collection).
func (r *Runner) Run(ctx context.Context, h *collection.Handle, req Request, progress *async.IndexProgress) (*Summary, error) {
	log := corelog.Component("index.runner")
	start := time.Now()

	if dim := r.embedder.Dimensions(); dim != h.Dim {
		return nil, coreerrors.New(coreerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("embedder produces %d-dimensional vectors, collection %q expects %d", dim, h.Name, h.Dim), nil)
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	results, err := r.scan.Scan(ctx, &scanner.ScanOptions{
		RootDir:           req.Path,
		Recursive:         req.Recursive,
		IncludeExtensions: req.IncludeExtensions,
		ExcludePatterns:   req.ExcludePatterns,
	})
	if err != nil {
		return nil, coreerrors.IOError(fmt.Sprintf("enumerating %s", req.Path), err)
	}

	opLog, err := OpenOpLog(h.Dir())
	if err != nil {
		return nil, err
	}
	defer func() { _ = opLog.Close() }()

	summary := &Summary{}
	var mu sync.Mutex
	record := func(outcome fileOutcome, path string, ferr error) {
		mu.Lock()
		defer mu.Unlock()
		summary.Processed++
		switch outcome {
		case outcomeAdded:
			summary.Added++
		case outcomeUpdated:
			summary.Updated++
		case outcomeSkipped:
			summary.Skipped++
		case outcomeFailed:
			summary.Errors = append(summary.Errors, FileError{Path: path, Message: ferr.Error()})
		}
		if progress != nil {
			progress.UpdateFiles(summary.Processed)
		}
	}

	if progress != nil {
		progress.SetStage(async.StageScanning, 0)
	}

	// The bounded queue decouples enumeration from processing; when it
	// fills, enumeration blocks cooperatively until a worker drains it.
	queue := make(chan *scanner.FileInfo, batchSize*4)
	go func() {
		defer close(queue)
		for res := range results {
			if res.Error != nil {
				record(outcomeFailed, "", res.Error)
				continue
			}
			select {
			case queue <- res.File:
			case <-ctx.Done():
				// Drain the scanner so its goroutine can exit.
				for range results {
				}
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fi := range queue {
				if ctx.Err() != nil {
					return
				}
				// A file already started runs to completion even if ctx
				// is cancelled meanwhile; ctx is checked before the next.
				outcome, ferr := r.processFile(context.WithoutCancel(ctx), h, opLog, fi, req, batchSize)
				record(outcome, fi.Path, ferr)
			}
		}()
	}
	wg.Wait()

	summary.DurationMS = time.Since(start).Milliseconds()
	log.Info("index run finished",
		"collection", h.Name,
		"processed", summary.Processed,
		"added", summary.Added,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"errors", len(summary.Errors),
		"duration_ms", summary.DurationMS)

	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

// processFile runs the per-file pipeline: content handler dispatch,
// chunking, batched embedding, then a per-chunk atomic commit.
func (r *Runner) processFile(ctx context.Context, h *collection.Handle, opLog *OpLog, fi *scanner.FileInfo, req Request, batchSize int) (fileOutcome, error) {
	log := corelog.Component("index.runner")

	docID, prev, exists := h.Docs.FindByPath(fi.Path)
	if exists && !req.Overwrite && prev.LastModified.Equal(fi.ModTime) {
		return outcomeSkipped, nil
	}
	if !exists {
		docID = uuid.NewString()
	}

	content, err := os.ReadFile(fi.AbsPath)
	if err != nil {
		return outcomeFailed, coreerrors.IOError(fmt.Sprintf("reading %s", fi.Path), err)
	}

	chunker := r.handlers.For(filepath.Ext(fi.Path))
	chunks, err := chunker.Chunk(ctx, &chunk.FileInput{
		DocID:    docID,
		Path:     fi.Path,
		Content:  content,
		Language: fi.Language,
	})
	if err != nil {
		return outcomeFailed, coreerrors.New(coreerrors.ErrCodeChunkingFailed, fmt.Sprintf("chunking %s", fi.Path), err)
	}
	if len(chunks) == 0 {
		return outcomeSkipped, nil
	}

	vectors, embedErrs := r.embedChunks(ctx, chunks, batchSize)

	// Commit per chunk, in chunk order: vector first, then lexical. If the
	// lexical insert fails, the vector is deleted again so the chunk never
	// becomes half-visible.
	title := documentTitle(fi.Path, chunks)
	committed := make(map[string]collection.ChunkRecord, len(chunks))
	committedIDs := make([]string, 0, len(chunks))
	var firstErr error
	for i, c := range chunks {
		if embedErrs[i] != nil {
			if firstErr == nil {
				firstErr = embedErrs[i]
			}
			continue
		}
		if err := h.Vector.Add(ctx, []string{c.ID}, [][]float32{vectors[i]}); err != nil {
			log.Warn("vector insert failed", "chunk", c.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := h.Lexical.Index(ctx, []*store.Document{{ID: c.ID, Content: c.Content}}); err != nil {
			log.Warn("lexical insert failed, rolling back vector", "chunk", c.ID, "error", err)
			_ = h.Vector.Delete(ctx, []string{c.ID})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		committed[c.ID] = chunkRecord(docID, fi, title, c)
		committedIDs = append(committedIDs, c.ID)
	}

	if len(committed) == 0 {
		if firstErr == nil {
			firstErr = fmt.Errorf("no chunks committed for %s", fi.Path)
		}
		return outcomeFailed, firstErr
	}

	if err := h.Chunks.PutMany(committed); err != nil {
		return outcomeFailed, coreerrors.IOError("persisting chunk registry", err)
	}

	// Replacing a document removes chunks whose text no longer exists;
	// unchanged chunk positions keep their ids, so only genuinely stale
	// ids are deleted here.
	if exists {
		newIDs := make(map[string]struct{}, len(committedIDs))
		for _, id := range committedIDs {
			newIDs[id] = struct{}{}
		}
		var stale []string
		for _, id := range prev.ChunkIDs {
			if _, ok := newIDs[id]; !ok {
				stale = append(stale, id)
			}
		}
		if len(stale) > 0 {
			_ = h.Vector.Delete(ctx, stale)
			_ = h.Lexical.Delete(ctx, stale)
			_ = h.Chunks.Remove(stale)
		}
	}

	entry := collection.DocEntry{
		Path:         fi.Path,
		LastModified: fi.ModTime,
		ChunkCount:   len(committedIDs),
		ChunkIDs:     committedIDs,
	}
	if err := h.Docs.Put(docID, entry); err != nil {
		return outcomeFailed, coreerrors.IOError("persisting document registry", err)
	}
	_ = opLog.Append(OpEntry{Op: OpCommitDoc, DocID: docID, Path: fi.Path, ChunkIDs: committedIDs, At: time.Now().UTC()})

	if firstErr != nil {
		// The document landed, but some chunks failed; surface the first
		// failure so it reaches the operation's error list.
		return outcomeFailed, fmt.Errorf("%s: %d of %d chunks failed: %w", fi.Path, len(chunks)-len(committedIDs), len(chunks), firstErr)
	}
	if exists {
		return outcomeUpdated, nil
	}
	return outcomeAdded, nil
}

// embedChunks embeds chunk content in batches of batchSize, retrying
// transient failures per batch. The returned slices are parallel to
// chunks: a nil error means vectors[i] is valid.
func (r *Runner) embedChunks(ctx context.Context, chunks []*chunk.Chunk, batchSize int) ([][]float32, []error) {
	vectors := make([][]float32, len(chunks))
	errs := make([]error, len(chunks))

	retryCfg := coreerrors.RetryConfig{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	for lo := 0; lo < len(chunks); lo += batchSize {
		hi := lo + batchSize
		if hi > len(chunks) {
			hi = len(chunks)
		}
		texts := make([]string, 0, hi-lo)
		for _, c := range chunks[lo:hi] {
			texts = append(texts, c.Content)
		}

		batch, err := coreerrors.RetryWithResult(ctx, retryCfg, func() ([][]float32, error) {
			embedCtx, cancel := context.WithTimeout(ctx, r.cfg.EmbedTimeout)
			defer cancel()
			return r.embedder.EmbedBatch(embedCtx, texts)
		})
		for i := lo; i < hi; i++ {
			if err != nil {
				errs[i] = coreerrors.New(coreerrors.ErrCodeEmbeddingFailed, "embedding batch failed", err)
				continue
			}
			vectors[i] = batch[i-lo]
		}
	}
	return vectors, errs
}

// chunkRecord builds the payload stored alongside a committed chunk.
func chunkRecord(docID string, fi *scanner.FileInfo, title string, c *chunk.Chunk) collection.ChunkRecord {
	rec := collection.ChunkRecord{
		DocID:        docID,
		ChunkIndex:   c.ChunkIndex,
		Text:         c.Content,
		Title:        title,
		Path:         fi.Path,
		HeadingPath:  c.HeadingPath,
		ContentType:  string(c.ContentType),
		LastModified: fi.ModTime,
	}
	if c.Metadata != nil {
		if tags, ok := c.Metadata["tags"]; ok && tags != "" {
			rec.Tags = strings.Split(tags, ",")
		}
		rec.Author = c.Metadata["author"]
	}
	return rec
}

// documentTitle derives a display title: the first chunk's top-level
// heading when present, the file's base name otherwise.
func documentTitle(path string, chunks []*chunk.Chunk) string {
	for _, c := range chunks {
		if c.HeadingPath != "" {
			if head, _, found := strings.Cut(c.HeadingPath, " > "); found {
				return head
			}
			return c.HeadingPath
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
