package async

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationLifecycle(t *testing.T) {
	op := NewIndexOperation("op-1", "docs")
	assert.Equal(t, OperationQueued, op.State())
	assert.False(t, op.Terminal())

	op.Start()
	assert.Equal(t, OperationRunning, op.State())

	op.Complete(OperationSummary{Processed: 3, Added: 3})
	assert.Equal(t, OperationCompleted, op.State())
	assert.True(t, op.Terminal())

	snap := op.Snapshot()
	assert.Equal(t, "op-1", snap.ID)
	assert.Equal(t, "docs", snap.Collection)
	assert.Equal(t, 3, snap.Summary.Added)
	assert.False(t, snap.EndedAt.IsZero())
}

func TestOperationTerminalStatesAreSticky(t *testing.T) {
	op := NewIndexOperation("op-2", "docs")
	op.Start()
	op.Cancel(OperationSummary{Processed: 1})
	assert.Equal(t, OperationCancelled, op.State())

	// Later transitions are ignored.
	op.Complete(OperationSummary{Processed: 9})
	op.Fail("too late", OperationSummary{})
	assert.Equal(t, OperationCancelled, op.State())
	assert.Equal(t, 1, op.Snapshot().Summary.Processed)
}

func TestOperationStartOnlyFromQueued(t *testing.T) {
	op := NewIndexOperation("op-3", "docs")
	op.Start()
	first := op.Snapshot().StartedAt
	op.Start()
	assert.Equal(t, first, op.Snapshot().StartedAt)
}

func TestOperationFailFromQueued(t *testing.T) {
	// A queued operation can fail before pickup (e.g. the repository is
	// already known to be down).
	op := NewIndexOperation("op-4", "docs")
	op.Fail("vector repository down", OperationSummary{})
	assert.Equal(t, OperationFailed, op.State())
	assert.Equal(t, "vector repository down", op.Snapshot().FailReason)
}

func TestOperationRegistryPutGet(t *testing.T) {
	r, err := NewOperationRegistry(4)
	require.NoError(t, err)

	op := NewIndexOperation("op-5", "docs")
	r.Put(op)

	got, ok := r.Get("op-5")
	require.True(t, ok)
	assert.Same(t, op, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestOperationRegistryRetentionWindow(t *testing.T) {
	r, err := NewOperationRegistry(4)
	require.NoError(t, err)
	r.retention = 10 * time.Millisecond

	op := NewIndexOperation("op-6", "docs")
	op.Start()
	op.Complete(OperationSummary{})
	r.Put(op)

	_, ok := r.Get("op-6")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = r.Get("op-6")
	assert.False(t, ok)
}

func TestOperationRegistryEvictsBeyondCapacity(t *testing.T) {
	r, err := NewOperationRegistry(2)
	require.NoError(t, err)

	r.Put(NewIndexOperation("a", "docs"))
	r.Put(NewIndexOperation("b", "docs"))
	r.Put(NewIndexOperation("c", "docs"))

	_, okA := r.Get("a")
	_, okC := r.Get("c")
	assert.False(t, okA)
	assert.True(t, okC)
}

func TestOperationProgressVisibleInSnapshot(t *testing.T) {
	op := NewIndexOperation("op-7", "docs")
	op.Start()
	op.Progress.SetStage(StageChunking, 10)
	op.Progress.UpdateFiles(4)

	snap := op.Snapshot()
	assert.Equal(t, string(StageChunking), snap.Progress.Stage)
	assert.Equal(t, 4, snap.Progress.FilesProcessed)
}
