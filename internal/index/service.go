package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aman-cerp/hybridsearch/internal/async"
	"github.com/aman-cerp/hybridsearch/internal/collection"
	"github.com/aman-cerp/hybridsearch/internal/corelog"
	coreerrors "github.com/aman-cerp/hybridsearch/internal/errors"
)

// Service is the index-side core contract: asynchronous index_path with a
// queryable operation handle, document deletion, and reindexing from a
// collection's tracked source.
type Service struct {
	collections *collection.Manager
	runner      *Runner
	ops         *async.OperationRegistry

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewService builds a Service. Each recovered collection has its document
// registry reconciled against the operations ledger first.
func NewService(collections *collection.Manager, runner *Runner) (*Service, error) {
	ops, err := async.NewOperationRegistry(0)
	if err != nil {
		return nil, err
	}
	s := &Service{
		collections: collections,
		runner:      runner,
		ops:         ops,
		cancels:     make(map[string]context.CancelFunc),
	}
	for _, col := range collections.ListCollections() {
		if h, ok := collections.Get(col.Name); ok {
			if err := RecoverRegistry(h); err != nil {
				return nil, fmt.Errorf("recovering collection %q: %w", col.Name, err)
			}
		}
	}
	return s, nil
}

// IndexPath starts an asynchronous index run and returns its operation
// handle immediately. The run is detached from the caller's context; use
// CancelOperation to stop it.
func (s *Service) IndexPath(req Request) (async.OperationSnapshot, error) {
	h, ok := s.collections.Get(req.Collection)
	if !ok {
		return async.OperationSnapshot{}, coreerrors.NotFoundError(coreerrors.ErrCodeCollectionNotFound,
			fmt.Sprintf("collection %q not found", req.Collection))
	}
	if req.Path == "" {
		return async.OperationSnapshot{}, coreerrors.ValidationError("index request needs a path", nil)
	}

	op := async.NewIndexOperation(uuid.NewString(), req.Collection)
	s.ops.Put(op)

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[op.ID] = cancel
	s.mu.Unlock()

	go s.run(runCtx, op, h, req)
	return op.Snapshot(), nil
}

func (s *Service) run(ctx context.Context, op *async.IndexOperation, h *collection.Handle, req Request) {
	log := corelog.Component("index.service")
	defer func() {
		s.mu.Lock()
		delete(s.cancels, op.ID)
		s.mu.Unlock()
	}()

	op.Start()
	summary, err := s.runner.Run(ctx, h, req, op.Progress)

	opSummary := async.OperationSummary{}
	if summary != nil {
		opSummary = async.OperationSummary{
			Processed:  summary.Processed,
			Added:      summary.Added,
			Updated:    summary.Updated,
			Skipped:    summary.Skipped,
			DurationMS: summary.DurationMS,
		}
		for _, fe := range summary.Errors {
			opSummary.Errors = append(opSummary.Errors, fmt.Sprintf("%s: %s", fe.Path, fe.Message))
		}
	}

	switch {
	case ctx.Err() != nil:
		op.Cancel(opSummary)
		log.Info("index operation cancelled", "operation", op.ID, "processed", opSummary.Processed)
	case err != nil:
		op.Fail(err.Error(), opSummary)
		log.Error("index operation failed", "operation", op.ID, "error", err)
	default:
		op.Complete(opSummary)
		if err := s.saveSource(h, req); err != nil {
			log.Warn("failed to persist source tracking", "collection", h.Name, "error", err)
		}
	}
}

// OperationStatus returns the state of a current or recent operation.
func (s *Service) OperationStatus(id string) (async.OperationSnapshot, error) {
	op, ok := s.ops.Get(id)
	if !ok {
		return async.OperationSnapshot{}, coreerrors.NotFoundError(coreerrors.ErrCodeOperationNotFound,
			fmt.Sprintf("operation %q not found", id))
	}
	return op.Snapshot(), nil
}

// CancelOperation requests cancellation. In-flight files finish; pending
// files are dropped. Cancelling a terminal operation is a no-op.
func (s *Service) CancelOperation(id string) error {
	if _, ok := s.ops.Get(id); !ok {
		return coreerrors.NotFoundError(coreerrors.ErrCodeOperationNotFound,
			fmt.Sprintf("operation %q not found", id))
	}
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// WaitOperation blocks until the operation reaches a terminal state or ctx
// expires. Intended for tests and synchronous callers.
func (s *Service) WaitOperation(ctx context.Context, id string) (async.OperationSnapshot, error) {
	for {
		snap, err := s.OperationStatus(id)
		if err != nil {
			return async.OperationSnapshot{}, err
		}
		switch snap.State {
		case async.OperationCompleted, async.OperationFailed, async.OperationCancelled:
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// DeleteDocument removes a document and every chunk it owns from the
// vector repository, the lexical index, and the registries.
func (s *Service) DeleteDocument(ctx context.Context, collectionName, docID string) error {
	h, ok := s.collections.Get(collectionName)
	if !ok {
		return coreerrors.NotFoundError(coreerrors.ErrCodeCollectionNotFound,
			fmt.Sprintf("collection %q not found", collectionName))
	}

	entry, found, err := h.Docs.Delete(docID)
	if err != nil {
		return coreerrors.IOError("updating document registry", err)
	}
	if !found {
		return coreerrors.NotFoundError(coreerrors.ErrCodeDocumentNotFound,
			fmt.Sprintf("document %q not found in collection %q", docID, collectionName))
	}

	if len(entry.ChunkIDs) > 0 {
		if err := h.Vector.Delete(ctx, entry.ChunkIDs); err != nil {
			return coreerrors.IOError("deleting vectors", err)
		}
		if err := h.Lexical.Delete(ctx, entry.ChunkIDs); err != nil {
			return coreerrors.IOError("deleting lexical postings", err)
		}
	}
	if _, err := h.Chunks.DeleteByDoc(docID); err != nil {
		return coreerrors.IOError("updating chunk registry", err)
	}

	if opLog, logErr := OpenOpLog(h.Dir()); logErr == nil {
		_ = opLog.Append(OpEntry{Op: OpDeleteDoc, DocID: docID, At: time.Now().UTC()})
		_ = opLog.Close()
	}
	return nil
}

// Reindex re-walks the collection's tracked source path and replays the
// indexing pipeline. The source is the most recent successfully completed
// IndexPath request for the collection.
func (s *Service) Reindex(collectionName string) (async.OperationSnapshot, error) {
	h, ok := s.collections.Get(collectionName)
	if !ok {
		return async.OperationSnapshot{}, coreerrors.NotFoundError(coreerrors.ErrCodeCollectionNotFound,
			fmt.Sprintf("collection %q not found", collectionName))
	}
	req, ok, err := s.loadSource(h)
	if err != nil {
		return async.OperationSnapshot{}, err
	}
	if !ok {
		return async.OperationSnapshot{}, coreerrors.NotFoundError(coreerrors.ErrCodeCollectionNotFound,
			fmt.Sprintf("collection %q has no tracked source to reindex", collectionName))
	}
	return s.IndexPath(req)
}

// sourceFile tracks the last completed index request per collection so
// reindex can re-walk the same source with the same filters.
const sourceFile = "source.json"

func (s *Service) saveSource(h *collection.Handle, req Request) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(h.Dir(), sourceFile), data, 0o644)
}

func (s *Service) loadSource(h *collection.Handle) (Request, bool, error) {
	data, err := os.ReadFile(filepath.Join(h.Dir(), sourceFile))
	if os.IsNotExist(err) {
		return Request{}, false, nil
	}
	if err != nil {
		return Request{}, false, coreerrors.IOError("reading tracked source", err)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, false, coreerrors.IOError("decoding tracked source", err)
	}
	return req, true, nil
}
