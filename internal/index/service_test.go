package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/hybridsearch/internal/async"
	"github.com/aman-cerp/hybridsearch/internal/chunk"
	"github.com/aman-cerp/hybridsearch/internal/collection"
	"github.com/aman-cerp/hybridsearch/internal/embed"
	coreerrors "github.com/aman-cerp/hybridsearch/internal/errors"
)

func newTestService(t *testing.T) (*Service, *collection.Manager) {
	t.Helper()
	mgr, err := collection.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	handlers, err := chunk.NewDefaultRegistry()
	require.NoError(t, err)
	runner := NewRunner(handlers, embed.NewStaticEmbedder(), RunnerConfig{Workers: 2})

	svc, err := NewService(mgr, runner)
	require.NoError(t, err)
	return svc, mgr
}

func TestIndexPathReturnsHandleImmediately(t *testing.T) {
	svc, mgr := newTestService(t)
	_, err := mgr.CreateCollection("docs", embed.StaticDimensions)
	require.NoError(t, err)

	src := t.TempDir()
	writeFixture(t, src, "a.md", "alpha body")

	snap, err := svc.IndexPath(Request{Path: src, Collection: "docs", Recursive: true})
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	final, err := svc.WaitOperation(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, async.OperationCompleted, final.State)
	assert.Equal(t, 1, final.Summary.Added)
}

func TestIndexPathUnknownCollection(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.IndexPath(Request{Path: t.TempDir(), Collection: "ghost"})
	require.Error(t, err)
	assert.True(t, coreerrors.IsNotFound(err))
}

func TestOperationStatusUnknownID(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.OperationStatus("nope")
	require.Error(t, err)
	assert.True(t, coreerrors.IsNotFound(err))
}

func TestDeleteDocumentPropagates(t *testing.T) {
	svc, mgr := newTestService(t)
	h, err := mgr.CreateCollection("del", embed.StaticDimensions)
	require.NoError(t, err)

	src := t.TempDir()
	// Two sections force at least two chunks when each stands alone.
	writeFixture(t, src, "twochunk.md", "# First\n\nalpha section body\n\n# Second\n\nbeta section body")
	writeFixture(t, src, "other.md", "unrelated survivor document")

	snap, err := svc.IndexPath(Request{Path: src, Collection: "del", Recursive: true})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = svc.WaitOperation(ctx, snap.ID)
	require.NoError(t, err)

	docID, entry, ok := h.Docs.FindByPath("twochunk.md")
	require.True(t, ok)
	chunkCount := entry.ChunkCount
	before := h.Vector.Count()

	require.NoError(t, svc.DeleteDocument(context.Background(), "del", docID))

	assert.Equal(t, before-chunkCount, h.Vector.Count())
	_, _, ok = h.Docs.FindByPath("twochunk.md")
	assert.False(t, ok)
	for _, id := range entry.ChunkIDs {
		assert.False(t, h.Vector.Contains(id))
		_, found := h.Chunks.Get(id)
		assert.False(t, found)
	}

	report, err := CheckConsistency(h)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func TestDeleteDocumentNotFound(t *testing.T) {
	svc, mgr := newTestService(t)
	_, err := mgr.CreateCollection("del2", embed.StaticDimensions)
	require.NoError(t, err)

	err = svc.DeleteDocument(context.Background(), "del2", "no-such-doc")
	require.Error(t, err)
	assert.True(t, coreerrors.IsNotFound(err))
}

func TestReindexUsesTrackedSource(t *testing.T) {
	svc, mgr := newTestService(t)
	_, err := mgr.CreateCollection("re", embed.StaticDimensions)
	require.NoError(t, err)

	src := t.TempDir()
	writeFixture(t, src, "a.md", "original body")

	snap, err := svc.IndexPath(Request{Path: src, Collection: "re", Recursive: true})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = svc.WaitOperation(ctx, snap.ID)
	require.NoError(t, err)

	// A new file appears; reindex picks it up from the tracked source.
	writeFixture(t, src, "b.md", "later addition")

	snap2, err := svc.Reindex("re")
	require.NoError(t, err)
	final, err := svc.WaitOperation(ctx, snap2.ID)
	require.NoError(t, err)
	assert.Equal(t, async.OperationCompleted, final.State)
	assert.Equal(t, 1, final.Summary.Added)
	assert.Equal(t, 1, final.Summary.Skipped)
}

func TestReindexWithoutTrackedSource(t *testing.T) {
	svc, mgr := newTestService(t)
	_, err := mgr.CreateCollection("untracked", embed.StaticDimensions)
	require.NoError(t, err)

	_, err = svc.Reindex("untracked")
	require.Error(t, err)
	assert.True(t, coreerrors.IsNotFound(err))
}

func TestCancelOperation(t *testing.T) {
	mgr, err := collection.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	handlers, err := chunk.NewDefaultRegistry()
	require.NoError(t, err)
	slow := &slowEmbedder{Embedder: embed.NewStaticEmbedder(), delay: 5 * time.Millisecond}
	svc, err := NewService(mgr, NewRunner(handlers, slow, RunnerConfig{Workers: 2}))
	require.NoError(t, err)

	_, err = mgr.CreateCollection("cancelop", embed.StaticDimensions)
	require.NoError(t, err)

	src := t.TempDir()
	for i := 0; i < 100; i++ {
		writeFixture(t, src, filepath.Join("d", string(rune('a'+i%26))+string(rune('a'+i/26))+".md"), "body text")
	}

	snap, err := svc.IndexPath(Request{Path: src, Collection: "cancelop", Recursive: true})
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, svc.CancelOperation(snap.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	final, err := svc.WaitOperation(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, async.OperationCancelled, final.State)
}

func TestOpLogReplayAndRecovery(t *testing.T) {
	svc, mgr := newTestService(t)
	h, err := mgr.CreateCollection("recov", embed.StaticDimensions)
	require.NoError(t, err)

	src := t.TempDir()
	writeFixture(t, src, "keep.md", "kept document")
	writeFixture(t, src, "drop.md", "dropped document")

	snap, err := svc.IndexPath(Request{Path: src, Collection: "recov", Recursive: true})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = svc.WaitOperation(ctx, snap.ID)
	require.NoError(t, err)

	dropID, _, ok := h.Docs.FindByPath("drop.md")
	require.True(t, ok)
	require.NoError(t, svc.DeleteDocument(context.Background(), "recov", dropID))

	// Simulate a lost registry: wipe docs.json, then recover from the ledger.
	require.NoError(t, os.Remove(filepath.Join(h.Dir(), "docs.json")))
	fresh, err := collection.LoadDocRegistry(h.Dir())
	require.NoError(t, err)
	h.Docs = fresh

	require.NoError(t, RecoverRegistry(h))
	assert.Equal(t, 1, h.Docs.Len())
	_, _, ok = h.Docs.FindByPath("keep.md")
	assert.True(t, ok)
	_, _, ok = h.Docs.FindByPath("drop.md")
	assert.False(t, ok)
}

func TestConsistencyRepair(t *testing.T) {
	svc, mgr := newTestService(t)
	h, err := mgr.CreateCollection("repair", embed.StaticDimensions)
	require.NoError(t, err)

	src := t.TempDir()
	writeFixture(t, src, "doc.md", "document body")
	snap, err := svc.IndexPath(Request{Path: src, Collection: "repair", Recursive: true})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = svc.WaitOperation(ctx, snap.ID)
	require.NoError(t, err)

	// Manufacture a vector-only orphan.
	orphanVec := make([]float32, embed.StaticDimensions)
	orphanVec[0] = 1
	require.NoError(t, h.Vector.Add(context.Background(), []string{"orphan-id"}, [][]float32{orphanVec}))

	report, err := CheckConsistency(h)
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan-id"}, report.VectorOnly)
	assert.False(t, report.Consistent())

	require.NoError(t, RepairConsistency(context.Background(), h, report))

	report, err = CheckConsistency(h)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}
