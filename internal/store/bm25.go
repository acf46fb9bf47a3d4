package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

// Bleve registry names for the chunk analyzer: the shared TokenizeCode
// rules wrapped as a bleve tokenizer, plus the stop-word filter. Both are
// registered once at package init; bleve resolves them by name when an
// index mapping references them.
const (
	chunkTokenizerName  = "chunk_tokenizer"
	chunkStopFilterName = "chunk_stop"
	chunkAnalyzerName   = "chunk_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(chunkTokenizerName, newChunkTokenizer)
	_ = registry.RegisterTokenFilter(chunkStopFilterName, newChunkStopFilter)
}

// BleveBM25Index is the Bleve-backed lexical index: one posting per chunk,
// BM25 scoring, and the same tokenization at index and query time.
type BleveBM25Index struct {
	mu        sync.RWMutex
	index     bleve.Index
	path      string
	config    BM25Config
	closed    bool
	stopWords map[string]struct{}
}

var _ BM25Index = (*BleveBM25Index)(nil)

// chunkPosting is the shape bleve indexes per chunk.
type chunkPosting struct {
	Content string `json:"content"`
}

// NewBleveBM25Index opens (or creates) the index at path; an empty path
// creates an in-memory index for tests and ephemeral collections. A
// corrupted on-disk index is cleared and recreated rather than failing
// startup — the lexical side is always rebuildable by reindexing.
func NewBleveBM25Index(path string, config BM25Config) (*BleveBM25Index, error) {
	indexMapping, err := chunkIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		idx, err = openOrRecover(path, indexMapping)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveBM25Index{
		index:     idx,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}, nil
}

// openOrRecover opens the on-disk index, clearing and recreating it when
// integrity checks or bleve itself report corruption.
func openOrRecover(path string, indexMapping *mapping.IndexMappingImpl) (bleve.Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if validErr := validateIndexIntegrity(path); validErr != nil {
		slog.Warn("lexical index corrupted, clearing",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
		}
	}

	idx, err := bleve.Open(path)
	switch {
	case err == bleve.ErrorIndexPathDoesNotExist:
		return bleve.New(path, indexMapping)
	case err != nil && isCorruptionError(err):
		slog.Warn("lexical index open failed, clearing",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, fmt.Errorf("lexical index corrupted, cannot clear: %w (original: %v)", removeErr, err)
		}
		return bleve.New(path, indexMapping)
	default:
		return idx, err
	}
}

// validateIndexIntegrity checks a bleve index directory before opening:
// a missing, empty, or unparsable index_meta.json marks the index
// corrupt. A missing directory is fine — the index will be created.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isCorruptionError recognizes bleve failure modes that mean "rebuild me"
// rather than "report me".
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"unexpected end of JSON",
		"error parsing mapping JSON",
		"failed to load segment",
		"error opening bolt",
		"no such file or directory",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// chunkIndexMapping builds the index mapping: every field runs through
// the chunk analyzer (chunk tokenizer, lowercase, stop filter).
func chunkIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(chunkAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": chunkTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			chunkStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = chunkAnalyzerName
	return indexMapping, nil
}

// Index adds documents in one batch. Duplicate IDs overwrite.
func (b *BleveBM25Index) Index(_ context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, chunkPosting{Content: doc.Content}); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search returns up to limit chunks matching the query, scored by BM25.
func (b *BleveBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*BM25Result{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit
	req.IncludeLocations = true // exposes matched terms for highlighting
	req.SortBy([]string{"-_score", "_id"})

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*BM25Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &BM25Result{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return results, nil
}

// Delete removes documents in one batch. Unknown IDs are no-ops.
func (b *BleveBM25Index) Delete(_ context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// AllIDs returns all document IDs in the index, for consistency checks.
func (b *BleveBM25Index) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	docCount, _ := b.index.DocCount()
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(docCount)
	req.Fields = []string{} // only IDs are needed

	result, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for all IDs: %w", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Stats returns index statistics. Bleve exposes only the document count
// directly; term-level statistics stay internal to its segments.
func (b *BleveBM25Index) Stats() *IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return &IndexStats{}
	}

	docCount, _ := b.index.DocCount()
	return &IndexStats{DocumentCount: int(docCount)}
}

// Save is a no-op: a disk-backed bleve index persists every batch.
func (b *BleveBM25Index) Save(string) error {
	return nil
}

// Load replaces the open index with one at path.
func (b *BleveBM25Index) Load(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.index != nil && !b.closed {
		_ = b.index.Close()
	}

	idx, err := bleve.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	b.index = idx
	b.path = path
	b.closed = false
	return nil
}

// Close closes the index. Safe to call more than once.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// matchedTerms collects the query terms that matched in the content field.
func matchedTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "content" {
			continue
		}
		for term := range locations {
			seen[term] = struct{}{}
		}
	}

	result := make([]string, 0, len(seen))
	for term := range seen {
		result = append(result, term)
	}
	return result
}

// chunkTokenizer adapts TokenizeCode to bleve's tokenizer contract,
// reconstructing byte offsets by scanning forward through the input.
type chunkTokenizer struct{}

func newChunkTokenizer(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
	return &chunkTokenizer{}, nil
}

func (t *chunkTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lowerText := strings.ToLower(text)
	tokens := TokenizeCode(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for pos, token := range tokens {
		start := strings.Index(lowerText[offset:], token)
		if start < 0 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		stream = append(stream, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos + 1,
			Type:     analysis.AlphaNumeric,
		})
		if end <= len(text) {
			offset = end
		}
	}
	return stream
}

// chunkStopFilter drops the configured stop words from a token stream.
type chunkStopFilter struct {
	stopWords map[string]struct{}
}

func newChunkStopFilter(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
	return &chunkStopFilter{stopWords: BuildStopWordMap(DefaultCodeStopWords)}, nil
}

func (f *chunkStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
