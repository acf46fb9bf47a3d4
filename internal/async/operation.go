package async

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// OperationState is one state of an indexing operation's lifecycle:
// Queued -> Running -> (Completed | Failed | Cancelled).
type OperationState string

const (
	OperationQueued    OperationState = "queued"
	OperationRunning   OperationState = "running"
	OperationCompleted OperationState = "completed"
	OperationFailed    OperationState = "failed"
	OperationCancelled OperationState = "cancelled"
)

// OperationSummary is the terminal outcome of an indexing operation.
type OperationSummary struct {
	Processed int
	Added     int
	Updated   int
	Skipped   int
	Errors    []string
	DurationMS int64
}

// IndexOperation tracks one index_path/reindex invocation through its
// state machine. File-level errors accumulate in the summary; they never
// move the operation to Failed — only non-recoverable infrastructure
// failure does that.
type IndexOperation struct {
	mu sync.RWMutex

	ID         string
	Collection string

	// Progress tracks live stage/counter detail while the operation is
	// Running. It is set once before Start and never replaced.
	Progress *IndexProgress

	state      OperationState
	queuedAt   time.Time
	startedAt  time.Time
	endedAt    time.Time
	summary    OperationSummary
	failReason string
}

// NewIndexOperation creates an operation in the Queued state.
func NewIndexOperation(id, collection string) *IndexOperation {
	return &IndexOperation{
		ID:         id,
		Collection: collection,
		Progress:   NewIndexProgress(),
		state:      OperationQueued,
		queuedAt:   time.Now(),
	}
}

// Start transitions Queued -> Running on worker pickup. It is a no-op if
// the operation is not in the Queued state.
func (op *IndexOperation) Start() {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state != OperationQueued {
		return
	}
	op.state = OperationRunning
	op.startedAt = time.Now()
}

// Complete transitions Running -> Completed with the final summary.
func (op *IndexOperation) Complete(summary OperationSummary) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state != OperationRunning {
		return
	}
	op.state = OperationCompleted
	op.summary = summary
	op.endedAt = time.Now()
}

// Cancel transitions Queued or Running -> Cancelled. Pending files are
// dropped; the index runner lets in-flight files finish before this state
// is recorded, so partial commits stay chunk-atomic.
func (op *IndexOperation) Cancel(summary OperationSummary) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state != OperationRunning && op.state != OperationQueued {
		return
	}
	op.state = OperationCancelled
	op.summary = summary
	op.endedAt = time.Now()
}

// Fail transitions Queued or Running -> Failed. Reserved for non-recoverable
// infrastructure failure (e.g. the vector repository is permanently
// down) — file-level errors must go through Complete's summary instead.
func (op *IndexOperation) Fail(reason string, summary OperationSummary) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state != OperationRunning && op.state != OperationQueued {
		return
	}
	op.state = OperationFailed
	op.failReason = reason
	op.summary = summary
	op.endedAt = time.Now()
}

// State returns the operation's current state.
func (op *IndexOperation) State() OperationState {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return op.state
}

// Terminal reports whether the operation has reached Completed, Failed,
// or Cancelled.
func (op *IndexOperation) Terminal() bool {
	switch op.State() {
	case OperationCompleted, OperationFailed, OperationCancelled:
		return true
	default:
		return false
	}
}

// OperationSnapshot is an immutable view of an operation for status
// queries.
type OperationSnapshot struct {
	ID         string
	Collection string
	State      OperationState
	Summary    OperationSummary
	Progress   IndexProgressSnapshot
	FailReason string
	QueuedAt   time.Time
	StartedAt  time.Time
	EndedAt    time.Time
}

// Snapshot returns a point-in-time copy of the operation.
func (op *IndexOperation) Snapshot() OperationSnapshot {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return OperationSnapshot{
		ID:         op.ID,
		Collection: op.Collection,
		State:      op.state,
		Summary:    op.summary,
		Progress:   op.Progress.Snapshot(),
		FailReason: op.failReason,
		QueuedAt:   op.queuedAt,
		StartedAt:  op.startedAt,
		EndedAt:    op.endedAt,
	}
}

// DefaultOperationRetention is the default window an operation stays
// queryable after reaching a terminal state.
const DefaultOperationRetention = 24 * time.Hour

// OperationRegistry is the queryable set of recent index operations,
// backed by an LRU cache sized generously above the expected retention
// window (terminal entries are also pruned by age on access).
type OperationRegistry struct {
	cache     *lru.Cache[string, *IndexOperation]
	retention time.Duration
}

// NewOperationRegistry creates a registry holding up to capacity
// operations, evicting the least-recently-used entry beyond that bound.
func NewOperationRegistry(capacity int) (*OperationRegistry, error) {
	if capacity <= 0 {
		capacity = 4096
	}
	cache, err := lru.New[string, *IndexOperation](capacity)
	if err != nil {
		return nil, err
	}
	return &OperationRegistry{cache: cache, retention: DefaultOperationRetention}, nil
}

// Put registers an operation.
func (r *OperationRegistry) Put(op *IndexOperation) {
	r.cache.Add(op.ID, op)
}

// Get returns the operation for id, if it exists and is still within the
// retention window (terminal operations older than the window are
// treated as not found).
func (r *OperationRegistry) Get(id string) (*IndexOperation, bool) {
	op, ok := r.cache.Get(id)
	if !ok {
		return nil, false
	}
	if op.Terminal() {
		snap := op.Snapshot()
		if time.Since(snap.EndedAt) > r.retention {
			r.cache.Remove(id)
			return nil, false
		}
	}
	return op, true
}
