package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/hybridsearch/internal/chunk"
	"github.com/aman-cerp/hybridsearch/internal/collection"
	"github.com/aman-cerp/hybridsearch/internal/embed"
	coreerrors "github.com/aman-cerp/hybridsearch/internal/errors"
	"github.com/aman-cerp/hybridsearch/internal/index"
)

func newService(t *testing.T) (*Service, *collection.Manager) {
	t.Helper()
	mgr, err := collection.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	handlers, err := chunk.NewDefaultRegistry()
	require.NoError(t, err)
	runner := index.NewRunner(handlers, embed.NewStaticEmbedder(), index.RunnerConfig{Workers: 2})
	core, err := index.NewService(mgr, runner)
	require.NoError(t, err)

	return New(mgr, core), mgr
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func waitDone(t *testing.T, svc *Service, id string) Operation {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	op, err := svc.WaitOperation(ctx, id)
	require.NoError(t, err)
	return op
}

func TestCreateCollectionIdempotence(t *testing.T) {
	svc, _ := newService(t)

	require.NoError(t, svc.CreateCollection("laws", 256))
	// Same dimension: succeeds.
	require.NoError(t, svc.CreateCollection("laws", 256))
	// Different dimension: conflict.
	err := svc.CreateCollection("laws", 512)
	require.Error(t, err)
	assert.True(t, coreerrors.IsConflict(err))
}

func TestCreateCollectionValidatesName(t *testing.T) {
	svc, _ := newService(t)

	require.Error(t, svc.CreateCollection("", 256))
	require.Error(t, svc.CreateCollection("-leading-dash", 256))
	require.Error(t, svc.CreateCollection("has space", 256))
	require.NoError(t, svc.CreateCollection("ok_name-1", 256))
}

func TestDeleteCollectionRemovesFromList(t *testing.T) {
	svc, mgr := newService(t)
	require.NoError(t, svc.CreateCollection("gone", 256))

	require.NoError(t, svc.DeleteCollection("gone"))
	for _, col := range mgr.ListCollections() {
		assert.NotEqual(t, "gone", col.Name)
	}

	err := svc.DeleteCollection("gone")
	require.Error(t, err)
	assert.True(t, coreerrors.IsNotFound(err))
}

func TestIndexPathIdempotentSecondRunSkips(t *testing.T) {
	svc, mgr := newService(t)
	require.NoError(t, svc.CreateCollection("idem", embed.StaticDimensions))

	src := t.TempDir()
	writeFixture(t, src, "one.md", "first fixture document")
	writeFixture(t, src, "two.md", "second fixture document")
	writeFixture(t, src, "three.md", "third fixture document")

	req := IndexRequest{Path: src, Collection: "idem", Recursive: true}

	op, err := svc.IndexPath(req)
	require.NoError(t, err)
	first := waitDone(t, svc, op.ID)
	assert.Equal(t, OperationCompleted, first.State)
	assert.Equal(t, 3, first.Summary.Added)

	h, ok := mgr.Get("idem")
	require.True(t, ok)
	countBetween := h.Vector.Count()

	op, err = svc.IndexPath(req)
	require.NoError(t, err)
	second := waitDone(t, svc, op.ID)
	assert.Equal(t, OperationCompleted, second.State)
	assert.Zero(t, second.Summary.Added)
	assert.Equal(t, 3, second.Summary.Skipped)
	assert.Equal(t, countBetween, h.Vector.Count())
}

func TestIndexPathUnknownCollection(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.IndexPath(IndexRequest{Path: t.TempDir(), Collection: "nope"})
	require.Error(t, err)
	assert.True(t, coreerrors.IsNotFound(err))
}

func TestOperationStatusLifecycle(t *testing.T) {
	svc, _ := newService(t)
	require.NoError(t, svc.CreateCollection("ops", embed.StaticDimensions))

	src := t.TempDir()
	writeFixture(t, src, "a.md", "operation lifecycle fixture")

	op, err := svc.IndexPath(IndexRequest{Path: src, Collection: "ops", Recursive: true})
	require.NoError(t, err)
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, "ops", op.Collection)

	final := waitDone(t, svc, op.ID)
	assert.True(t, final.Terminal())
	assert.Equal(t, OperationCompleted, final.State)
	assert.Equal(t, 1, final.Summary.Processed)
	assert.GreaterOrEqual(t, final.Summary.DurationMS, int64(0))

	// Terminal operations stay queryable.
	again, err := svc.OperationStatus(op.ID)
	require.NoError(t, err)
	assert.Equal(t, final.State, again.State)

	_, err = svc.OperationStatus("missing-op")
	require.Error(t, err)
	assert.True(t, coreerrors.IsNotFound(err))
}

func TestDeleteDocumentDecreasesCount(t *testing.T) {
	svc, mgr := newService(t)
	require.NoError(t, svc.CreateCollection("deldoc", embed.StaticDimensions))

	src := t.TempDir()
	writeFixture(t, src, "doomed.md", "# First\n\nalpha section body\n\n# Second\n\nbeta section body")

	op, err := svc.IndexPath(IndexRequest{Path: src, Collection: "deldoc", Recursive: true})
	require.NoError(t, err)
	waitDone(t, svc, op.ID)

	h, ok := mgr.Get("deldoc")
	require.True(t, ok)
	docID, entry, found := h.Docs.FindByPath("doomed.md")
	require.True(t, found)
	before := h.Vector.Count()

	require.NoError(t, svc.DeleteDocument(context.Background(), "deldoc", docID))
	assert.Equal(t, before-entry.ChunkCount, h.Vector.Count())

	err = svc.DeleteDocument(context.Background(), "deldoc", docID)
	require.Error(t, err)
	assert.True(t, coreerrors.IsNotFound(err))
}

func TestReindexPicksUpNewFiles(t *testing.T) {
	svc, _ := newService(t)
	require.NoError(t, svc.CreateCollection("rere", embed.StaticDimensions))

	src := t.TempDir()
	writeFixture(t, src, "a.md", "original document")

	op, err := svc.IndexPath(IndexRequest{Path: src, Collection: "rere", Recursive: true})
	require.NoError(t, err)
	waitDone(t, svc, op.ID)

	writeFixture(t, src, "b.md", "added later")

	op, err = svc.Reindex("rere")
	require.NoError(t, err)
	final := waitDone(t, svc, op.ID)
	assert.Equal(t, OperationCompleted, final.State)
	assert.Equal(t, 1, final.Summary.Added)
	assert.Equal(t, 1, final.Summary.Skipped)
}
