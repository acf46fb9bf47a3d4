// Package async tracks long-running index operations: their lifecycle
// state machine, live progress counters, and the registry that keeps
// terminal operations queryable for a retention window.
package async

import (
	"sync"
	"time"
)

// IndexingStatus is the coarse answer to "can I search yet".
type IndexingStatus string

const (
	// StatusIndexing indicates indexing is in progress.
	StatusIndexing IndexingStatus = "indexing"
	// StatusReady indicates indexing is complete and search is available.
	StatusReady IndexingStatus = "ready"
	// StatusError indicates indexing failed with an error.
	StatusError IndexingStatus = "error"
)

// IndexingStage names the pipeline stage an operation is currently in.
// Stages advance monotonically during a run: enumeration, then chunking,
// then embedding, then the per-chunk index commit.
type IndexingStage string

const (
	// StageScanning is the file discovery phase.
	StageScanning IndexingStage = "scanning"
	// StageChunking is the content-handler chunking phase.
	StageChunking IndexingStage = "chunking"
	// StageEmbedding is the embedding generation phase.
	StageEmbedding IndexingStage = "embedding"
	// StageIndexing is the index commit phase.
	StageIndexing IndexingStage = "indexing"
	// StageCommitting is the registry/bookkeeping flush at the end of a
	// document's commit.
	StageCommitting IndexingStage = "committing"
)

// IndexProgressSnapshot is an immutable view of indexing progress, the
// shape status queries serialize.
type IndexProgressSnapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage"`
	FilesTotal     int     `json:"files_total"`
	FilesProcessed int     `json:"files_processed"`
	ChunksTotal    int     `json:"chunks_total"`
	ChunksIndexed  int     `json:"chunks_indexed"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// IndexProgress is the thread-safe live counter set one index operation
// updates as it runs. Readers only ever see point-in-time snapshots.
type IndexProgress struct {
	mu sync.RWMutex

	status         IndexingStatus
	stage          IndexingStage
	filesTotal     int
	filesProcessed int
	chunksTotal    int
	chunksIndexed  int
	startTime      time.Time
	errorMessage   string
}

// NewIndexProgress creates a progress tracker at the scanning stage.
func NewIndexProgress() *IndexProgress {
	return &IndexProgress{
		status:    StatusIndexing,
		stage:     StageScanning,
		startTime: time.Now(),
	}
}

// set applies one mutation under the write lock.
func (p *IndexProgress) set(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

// SetStage advances to a new stage, resetting that stage's total.
func (p *IndexProgress) SetStage(stage IndexingStage, total int) {
	p.set(func() {
		p.stage = stage
		p.filesTotal = total
	})
}

// UpdateFiles records how many files have been processed so far.
func (p *IndexProgress) UpdateFiles(processed int) {
	p.set(func() { p.filesProcessed = processed })
}

// SetChunksTotal sets the total number of chunks to process.
func (p *IndexProgress) SetChunksTotal(total int) {
	p.set(func() { p.chunksTotal = total })
}

// UpdateChunks records how many chunks have been committed so far.
func (p *IndexProgress) UpdateChunks(indexed int) {
	p.set(func() { p.chunksIndexed = indexed })
}

// SetError marks the run failed. The message is what status queries
// surface; counters keep whatever they reached.
func (p *IndexProgress) SetError(message string) {
	p.set(func() {
		p.status = StatusError
		p.errorMessage = message
	})
}

// SetReady marks the run complete and the collection searchable.
func (p *IndexProgress) SetReady() {
	p.set(func() { p.status = StatusReady })
}

// IsIndexing reports whether the run is still in progress.
func (p *IndexProgress) IsIndexing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == StatusIndexing
}

// Snapshot returns an immutable copy of the current progress state.
func (p *IndexProgress) Snapshot() IndexProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return IndexProgressSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		FilesTotal:     p.filesTotal,
		FilesProcessed: p.filesProcessed,
		ChunksTotal:    p.chunksTotal,
		ChunksIndexed:  p.chunksIndexed,
		ProgressPct:    percentage(p.filesProcessed, p.filesTotal),
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}

// percentage avoids the zero-total division; an unknown total reads as 0%.
func percentage(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total) * 100.0
}
