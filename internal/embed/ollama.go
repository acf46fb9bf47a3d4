package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	coreerrors "github.com/aman-cerp/hybridsearch/internal/errors"
)

// OllamaEmbedder is the remote embedding provider: a thin client over
// Ollama's HTTP API with model discovery, warm/cold timeout detection,
// and sustained-load pacing for long indexing runs.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      int

	mu           sync.RWMutex
	closed       bool
	lastCall     time.Time // drives warm/cold timeout selection
	batchIndex   int       // drives the timeout progression
	isFinalBatch bool      // final batch gets the largest allowance
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to the configured Ollama host, resolves a
// usable embedding model (the configured one or a fallback), and detects
// the embedding dimension unless the config pins it.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	applyOllamaDefaults(&cfg)

	// Timeouts ride on per-request contexts, never on http.Client, so
	// the warm/cold and progression logic can vary them per call. The
	// short idle timeout releases sockets promptly after interactive
	// runs end.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		// Cold model loads can take the better part of a minute; the
		// probe shares the cold budget rather than the 5s connect one.
		probeCtx, cancel := context.WithTimeout(ctx, DefaultColdTimeout)
		defer cancel()

		model, err := e.resolveModel(probeCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("failed to connect to Ollama or find model: %w", err)
		}
		e.modelName = model

		if e.dims == 0 {
			dims, err := e.detectDimensions(probeCtx)
			if err != nil {
				transport.CloseIdleConnections()
				return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
			}
			e.dims = dims
		}
	}
	if e.dims == 0 {
		e.dims = DefaultDimensions
	}

	return e, nil
}

func applyOllamaDefaults(cfg *OllamaConfig) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = FallbackOllamaModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = OllamaConnectTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = OllamaPoolSize
	}
}

// listModels fetches the host's installed models.
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]OllamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result OllamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Models, nil
}

// resolveModel picks the configured model if installed, else the first
// installed fallback. Matching tolerates tag differences: "name" matches
// "name:0.6b".
func (e *OllamaEmbedder) resolveModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	installed := make(map[string]string, len(models)*2)
	for _, m := range models {
		name := strings.ToLower(m.Name)
		installed[name] = m.Name
		if base := strings.Split(name, ":")[0]; installed[base] == "" {
			installed[base] = m.Name
		}
	}

	lookup := func(want string) (string, bool) {
		want = strings.ToLower(want)
		if actual, ok := installed[want]; ok {
			return actual, true
		}
		actual, ok := installed[strings.Split(want, ":")[0]]
		return actual, ok
	}

	if actual, ok := lookup(e.config.Model); ok {
		return actual, nil
	}
	for _, fallback := range e.config.FallbackModels {
		if actual, ok := lookup(fallback); ok {
			slog.Info("configured embedding model missing, using fallback",
				slog.String("configured", e.config.Model),
				slog.String("fallback", actual))
			return actual, nil
		}
	}
	return "", fmt.Errorf("no embedding model available (tried %s and %v)", e.config.Model, e.config.FallbackModels)
}

// detectDimensions embeds a probe string and measures the vector.
func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	embeddings, err := e.requestEmbeddings(ctx, []string{"dimension detection"})
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(embeddings[0]), nil
}

// Embed generates the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.ensureOpen(); err != nil {
		return nil, err
	}

	// Empty input is a caller bug, not a zero vector.
	if strings.TrimSpace(text) == "" {
		return nil, coreerrors.New(coreerrors.ErrCodeInvalidInput, "cannot embed empty text", nil)
	}

	embeddings, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch embeds texts in config-sized sub-batches, preserving input
// order. Whitespace-only members map to zero vectors so a sparse batch
// never aborts a long run; truly empty single inputs go through Embed,
// which rejects them.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.ensureOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))

	// Partition out empty members once, so sub-batch boundaries always
	// land on real inputs.
	type pending struct {
		idx  int
		text string
	}
	var todo []pending
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
			continue
		}
		todo = append(todo, pending{i, text})
	}

	for start := 0; start < len(todo); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + e.config.BatchSize
		if end > len(todo) {
			end = len(todo)
		}
		batch := todo[start:end]

		batchTexts := make([]string, len(batch))
		for i, p := range batch {
			batchTexts[i] = p.text
		}

		embeddings, err := e.embedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}

		e.mu.Lock()
		e.batchIndex++
		e.mu.Unlock()

		if e.config.ProgressFunc != nil {
			e.config.ProgressFunc(end, len(todo))
		}
		if e.config.InterBatchDelay > 0 && end < len(todo) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.config.InterBatchDelay):
			}
		}
	}

	return results, nil
}

func (e *OllamaEmbedder) ensureOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// requestTimeout computes the budget for one attempt: the warm/cold base,
// stretched by how deep into a long run we are, the retry attempt, and
// whether this is the final (thermally worst) batch.
func (e *OllamaEmbedder) requestTimeout(attempt int) time.Duration {
	e.mu.RLock()
	lastCall := e.lastCall
	batchIdx := e.batchIndex
	isFinal := e.isFinalBatch
	e.mu.RUnlock()

	base := DefaultWarmTimeout
	if lastCall.IsZero() || time.Since(lastCall) > ModelUnloadThreshold {
		base = DefaultColdTimeout
	}

	factor := 1.0
	if e.config.TimeoutProgression > 1.0 {
		// Grows with chunks processed so far: at 1600 chunks and
		// progression 1.5, the budget is 1.8x base. Capped so late
		// batches never wait unboundedly.
		progress := float64(batchIdx*e.config.BatchSize) / 1000.0
		factor = 1.0 + progress*(e.config.TimeoutProgression-1.0)
		if factor > MaxTimeoutProgression {
			factor = MaxTimeoutProgression
		}
	}
	if e.config.RetryTimeoutMultiplier > 1.0 && attempt > 0 {
		retryFactor := math.Pow(e.config.RetryTimeoutMultiplier, float64(attempt))
		if retryFactor > MaxRetryTimeoutMultiplier {
			retryFactor = MaxRetryTimeoutMultiplier
		}
		factor *= retryFactor
	}
	if isFinal {
		factor *= 1.5
	}

	return time.Duration(float64(base) * factor)
}

// embedWithRetry runs one logical embedding request through the retry
// budget, with exponential backoff and per-attempt timeouts.
func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		timeout := e.requestTimeout(attempt)
		slog.Debug("embedding attempt",
			slog.Int("attempt", attempt+1),
			slog.Duration("timeout", timeout),
			slog.Int("texts", len(texts)))

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		embeddings, err := e.requestEmbeddings(attemptCtx, texts)
		cancel()

		if err == nil {
			e.mu.Lock()
			e.lastCall = time.Now()
			e.mu.Unlock()
			return embeddings, nil
		}
		lastErr = err

		slog.Debug("embedding attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", e.config.MaxRetries, lastErr)
}

// requestEmbeddings performs one /api/embed call. The HTTP exchange runs
// in its own goroutine so cancellation can force-close connections and
// return promptly instead of waiting out the HTTP timeout.
func (e *OllamaEmbedder) requestEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(OllamaEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	type outcome struct {
		embeddings [][]float32
		err        error
	}
	done := make(chan outcome, 1)

	go func() {
		resp, err := e.client.Do(req)
		if err != nil {
			done <- outcome{nil, err}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			done <- outcome{nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))}
			return
		}

		var apiResult OllamaEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
			done <- outcome{nil, fmt.Errorf("failed to decode response: %w", err)}
			return
		}

		embeddings := make([][]float32, len(apiResult.Embeddings))
		for i, emb := range apiResult.Embeddings {
			vec := make([]float32, len(emb))
			for j, v := range emb {
				vec[j] = float32(v)
			}
			embeddings[i] = normalizeVector(vec)
		}
		done <- outcome{embeddings, nil}
	}()

	select {
	case <-ctx.Done():
		e.forceCloseConnections()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
		return nil, ctx.Err()
	case r := <-done:
		return r.embeddings, r.err
	}
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

// ModelName returns the resolved model identifier.
func (e *OllamaEmbedder) ModelName() string { return e.modelName }

// Available reports whether Ollama is reachable and still serves a model
// compatible with the resolved name.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.ensureOpen() != nil {
		return false
	}
	models, err := e.listModels(ctx)
	if err != nil {
		return false
	}

	want := strings.ToLower(e.modelName)
	for _, m := range models {
		have := strings.ToLower(m.Name)
		if strings.Contains(have, want) || strings.Contains(want, have) {
			return true
		}
	}
	return false
}

// SetProgressFunc installs a (completed, total) callback invoked after
// each sub-batch.
func (e *OllamaEmbedder) SetProgressFunc(fn func(completed, total int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.ProgressFunc = fn
}

// SetBatchIndex positions the timeout progression, e.g. when a run
// resumes partway through instead of starting from batch zero.
func (e *OllamaEmbedder) SetBatchIndex(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchIndex = idx
}

// SetFinalBatch marks the final batch, granting it the run's largest
// timeout allowance.
func (e *OllamaEmbedder) SetFinalBatch(isFinal bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isFinalBatch = isFinal
}

// Close releases connection resources. Safe to call more than once.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	return nil
}

// forceCloseConnections interrupts in-flight requests by replacing the
// transport; goroutines reading old connections get an error instead of
// blocking until their HTTP timeout.
func (e *OllamaEmbedder) forceCloseConnections() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.transport == nil {
		return
	}
	e.transport.CloseIdleConnections()
	e.transport = &http.Transport{
		MaxIdleConns:        e.config.PoolSize,
		MaxIdleConnsPerHost: e.config.PoolSize,
		MaxConnsPerHost:     e.config.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
		DisableKeepAlives:   true,
	}
	e.client.Transport = e.transport
}
