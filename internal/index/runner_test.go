package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/hybridsearch/internal/chunk"
	"github.com/aman-cerp/hybridsearch/internal/collection"
	"github.com/aman-cerp/hybridsearch/internal/embed"
)

func newTestRunner(t *testing.T) (*Runner, *collection.Manager) {
	t.Helper()
	mgr, err := collection.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	handlers, err := chunk.NewDefaultRegistry()
	require.NoError(t, err)

	return NewRunner(handlers, embed.NewStaticEmbedder(), RunnerConfig{Workers: 2}), mgr
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunIndexesDocuments(t *testing.T) {
	runner, mgr := newTestRunner(t)
	h, err := mgr.CreateCollection("docs", embed.StaticDimensions)
	require.NoError(t, err)

	src := t.TempDir()
	writeFixture(t, src, "a.md", "# Tracing\n\ntracing initialization example")
	writeFixture(t, src, "b.md", "# Config\n\nhow to configure distributed systems")
	writeFixture(t, src, "c.txt", "unrelated marketing copy")

	summary, err := runner.Run(context.Background(), h, Request{
		Path: src, Collection: "docs", Recursive: true,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, summary.Added)
	assert.Zero(t, summary.Skipped)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 3, h.Docs.Len())
	assert.Positive(t, h.Vector.Count())

	// Every committed chunk is visible on both sides.
	report, err := CheckConsistency(h)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func TestRunIdempotentByLastModified(t *testing.T) {
	runner, mgr := newTestRunner(t)
	h, err := mgr.CreateCollection("idem", embed.StaticDimensions)
	require.NoError(t, err)

	src := t.TempDir()
	writeFixture(t, src, "one.md", "first document body")
	writeFixture(t, src, "two.md", "second document body")
	writeFixture(t, src, "three.md", "third document body")

	req := Request{Path: src, Collection: "idem", Recursive: true, Overwrite: false}

	first, err := runner.Run(context.Background(), h, req, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Added)

	countAfterFirst := h.Vector.Count()

	second, err := runner.Run(context.Background(), h, req, nil)
	require.NoError(t, err)
	assert.Zero(t, second.Added)
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, countAfterFirst, h.Vector.Count())
}

func TestRunReindexPreservesChunkIDs(t *testing.T) {
	runner, mgr := newTestRunner(t)
	h, err := mgr.CreateCollection("stable", embed.StaticDimensions)
	require.NoError(t, err)

	src := t.TempDir()
	writeFixture(t, src, "doc.md", "stable content that does not change")

	req := Request{Path: src, Collection: "stable", Recursive: true}
	_, err = runner.Run(context.Background(), h, req, nil)
	require.NoError(t, err)

	docID, entry, ok := h.Docs.FindByPath("doc.md")
	require.True(t, ok)
	firstIDs := append([]string(nil), entry.ChunkIDs...)

	// Overwrite re-runs the pipeline; unchanged text keeps its ids.
	req.Overwrite = true
	_, err = runner.Run(context.Background(), h, req, nil)
	require.NoError(t, err)

	sameID, entry2, ok := h.Docs.FindByPath("doc.md")
	require.True(t, ok)
	assert.Equal(t, docID, sameID)
	assert.Equal(t, firstIDs, entry2.ChunkIDs)
	assert.Equal(t, len(firstIDs), h.Vector.Count())
}

func TestRunOverwriteRemovesStaleChunks(t *testing.T) {
	runner, mgr := newTestRunner(t)
	h, err := mgr.CreateCollection("shrink", embed.StaticDimensions)
	require.NoError(t, err)

	src := t.TempDir()
	long := "# One\n\nfirst section body with enough words to stand alone\n\n# Two\n\nsecond section body that will disappear later"
	writeFixture(t, src, "doc.md", long)

	req := Request{Path: src, Collection: "shrink", Recursive: true}
	_, err = runner.Run(context.Background(), h, req, nil)
	require.NoError(t, err)
	_, before, _ := h.Docs.FindByPath("doc.md")

	// Rewrite the document with only the first section.
	writeFixture(t, src, "doc.md", "# One\n\nfirst section body with enough words to stand alone")
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(src, "doc.md"), future, future))

	req.Overwrite = true
	_, err = runner.Run(context.Background(), h, req, nil)
	require.NoError(t, err)

	_, after, ok := h.Docs.FindByPath("doc.md")
	require.True(t, ok)
	assert.Less(t, after.ChunkCount, before.ChunkCount)
	assert.Equal(t, after.ChunkCount, h.Vector.Count())

	report, err := CheckConsistency(h)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func TestRunDimensionMismatch(t *testing.T) {
	runner, mgr := newTestRunner(t)
	h, err := mgr.CreateCollection("wrongdim", embed.StaticDimensions*2)
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), h, Request{Path: t.TempDir(), Collection: "wrongdim"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestRunAccumulatesPerFileErrors(t *testing.T) {
	runner, mgr := newTestRunner(t)
	h, err := mgr.CreateCollection("mixed", embed.StaticDimensions)
	require.NoError(t, err)

	src := t.TempDir()
	writeFixture(t, src, "good.md", "perfectly fine content")
	writeFixture(t, src, "bad.json", "{not valid json at all")

	summary, err := runner.Run(context.Background(), h, Request{Path: src, Collection: "mixed", Recursive: true}, nil)
	require.NoError(t, err)

	// The bad file fails alone; the good one still lands.
	assert.Equal(t, 1, summary.Added)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "bad.json", summary.Errors[0].Path)
}

func TestRunCancellationLeavesConsistentState(t *testing.T) {
	mgr, err := collection.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	handlers, err := chunk.NewDefaultRegistry()
	require.NoError(t, err)

	slow := &slowEmbedder{Embedder: embed.NewStaticEmbedder(), delay: 5 * time.Millisecond}
	runner := NewRunner(handlers, slow, RunnerConfig{Workers: 2})

	h, err := mgr.CreateCollection("cancel", embed.StaticDimensions)
	require.NoError(t, err)

	src := t.TempDir()
	for i := 0; i < 200; i++ {
		writeFixture(t, src, fmt.Sprintf("f%03d.md", i), fmt.Sprintf("document number %d body", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()

	summary, err := runner.Run(ctx, h, Request{Path: src, Collection: "cancel", Recursive: true}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.GreaterOrEqual(t, summary.Processed, 1)
	assert.Less(t, summary.Processed, 200)

	// Everything that committed is chunk-atomic.
	report, cerr := CheckConsistency(h)
	require.NoError(t, cerr)
	assert.True(t, report.Consistent())
	assert.Equal(t, h.Vector.Count(), h.Chunks.Len())
}

// slowEmbedder delays each batch to make cancellation windows reliable.
type slowEmbedder struct {
	embed.Embedder
	delay time.Duration
}

func (s *slowEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
	}
	return s.Embedder.EmbedBatch(ctx, texts)
}
