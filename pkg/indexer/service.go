package indexer

import (
	"context"

	"github.com/aman-cerp/hybridsearch/internal/async"
	"github.com/aman-cerp/hybridsearch/internal/collection"
	"github.com/aman-cerp/hybridsearch/internal/index"
)

// Service implements Indexer over the collection manager and the core
// index service.
type Service struct {
	collections *collection.Manager
	core        *index.Service
}

var _ Indexer = (*Service)(nil)

// New creates the index service facade.
func New(collections *collection.Manager, core *index.Service) *Service {
	return &Service{collections: collections, core: core}
}

func toOperation(snap async.OperationSnapshot) Operation {
	return Operation{
		ID:         snap.ID,
		Collection: snap.Collection,
		State:      OperationState(snap.State),
		Summary: OperationSummary{
			Processed:  snap.Summary.Processed,
			Added:      snap.Summary.Added,
			Updated:    snap.Summary.Updated,
			Skipped:    snap.Summary.Skipped,
			Errors:     snap.Summary.Errors,
			DurationMS: snap.Summary.DurationMS,
		},
		FailReason: snap.FailReason,
		QueuedAt:   snap.QueuedAt,
		StartedAt:  snap.StartedAt,
		EndedAt:    snap.EndedAt,
	}
}

// IndexPath starts an asynchronous index run.
func (s *Service) IndexPath(req IndexRequest) (Operation, error) {
	snap, err := s.core.IndexPath(index.Request{
		Path:              req.Path,
		Collection:        req.Collection,
		Recursive:         req.Recursive,
		IncludeExtensions: req.IncludeExtensions,
		ExcludePatterns:   req.ExcludePatterns,
		BatchSize:         req.BatchSize,
		Overwrite:         req.Overwrite,
	})
	if err != nil {
		return Operation{}, err
	}
	return toOperation(snap), nil
}

// OperationStatus returns the state of a current or recent operation.
func (s *Service) OperationStatus(operationID string) (Operation, error) {
	snap, err := s.core.OperationStatus(operationID)
	if err != nil {
		return Operation{}, err
	}
	return toOperation(snap), nil
}

// CancelOperation requests cancellation of a running operation.
func (s *Service) CancelOperation(operationID string) error {
	return s.core.CancelOperation(operationID)
}

// WaitOperation blocks until the operation reaches a terminal state or
// ctx expires. A convenience for synchronous callers and tests; the wire
// contract is the polling OperationStatus.
func (s *Service) WaitOperation(ctx context.Context, operationID string) (Operation, error) {
	snap, err := s.core.WaitOperation(ctx, operationID)
	if err != nil {
		return Operation{}, err
	}
	return toOperation(snap), nil
}

// DeleteDocument removes a document and all its chunks.
func (s *Service) DeleteDocument(ctx context.Context, collectionName, docID string) error {
	return s.core.DeleteDocument(ctx, collectionName, docID)
}

// CreateCollection creates or idempotently re-validates a collection.
func (s *Service) CreateCollection(name string, dimension int) error {
	_, err := s.collections.CreateCollection(name, dimension)
	return err
}

// DeleteCollection removes the collection and everything it owns.
func (s *Service) DeleteCollection(name string) error {
	return s.collections.DeleteCollection(name)
}

// Reindex re-walks the collection's tracked source.
func (s *Service) Reindex(collectionName string) (Operation, error) {
	snap, err := s.core.Reindex(collectionName)
	if err != nil {
		return Operation{}, err
	}
	return toOperation(snap), nil
}
