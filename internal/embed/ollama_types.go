package embed

import "time"

// Ollama API constants.
const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model for mixed
	// document and code collections. The 0.6b variant keeps memory use
	// modest while embedding quality stays close to the larger tags.
	DefaultOllamaModel = "qwen3-embedding:0.6b"

	// OllamaConnectTimeout is the default OllamaConfig.ConnectTimeout. The
	// startup reachability probe does not use it; the probe runs under
	// DefaultColdTimeout.
	OllamaConnectTimeout = 5 * time.Second

	// OllamaPoolSize sizes the HTTP connection pool.
	OllamaPoolSize = 4
)

// FallbackOllamaModels are tried in order when the configured model is
// not installed, so a host with any reasonable embedding model still
// comes up rather than failing on an exact name.
var FallbackOllamaModels = []string{
	"embeddinggemma",    // small, strong on mixed prose and code
	"mxbai-embed-large", // general-purpose prose embeddings
}

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string

	// Model is the embedding model to request.
	Model string

	// FallbackModels are tried in order if Model is unavailable.
	FallbackModels []string

	// Dimensions overrides auto-detection when non-zero. The detected
	// or configured value must match the target collection's dimension.
	Dimensions int

	// BatchSize for batch embedding requests.
	BatchSize int

	// Timeout is kept on the config (default DefaultTimeout) but no request
	// reads it: each attempt's budget comes from the warm/cold bases in
	// requestTimeout.
	Timeout time.Duration

	// ConnectTimeout is kept on the config but not read: the startup
	// reachability probe runs under DefaultColdTimeout.
	ConnectTimeout time.Duration

	// MaxRetries is the transient-failure retry budget per request.
	MaxRetries int

	// PoolSize sizes the HTTP connection pool.
	PoolSize int

	// SkipHealthCheck skips the startup probe (tests only).
	SkipHealthCheck bool

	// ProgressFunc, when set, receives (completed, total) after each
	// batch so long runs can report embedding progress.
	ProgressFunc func(completed, total int)

	// Sustained-load pacing; see the package constants for semantics.
	InterBatchDelay        time.Duration
	TimeoutProgression     float64
	RetryTimeoutMultiplier float64
}

// DefaultOllamaConfig returns sensible defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		Dimensions:     0, // auto-detect from the first embedding
		BatchSize:      DefaultBatchSize,
		Timeout:        DefaultTimeout,
		ConnectTimeout: OllamaConnectTimeout,
		MaxRetries:     DefaultMaxRetries,
		PoolSize:       OllamaPoolSize,

		InterBatchDelay:        DefaultInterBatchDelay,
		TimeoutProgression:     DefaultTimeoutProgression,
		RetryTimeoutMultiplier: DefaultRetryTimeoutMultiplier,
	}
}

// OllamaEmbedRequest is the Ollama /api/embed request body.
type OllamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string, or []string for batches
}

// OllamaEmbedResponse is the Ollama /api/embed response body.
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaModelListResponse is the Ollama /api/tags response body.
type OllamaModelListResponse struct {
	Models []OllamaModelInfo `json:"models"`
}

// OllamaModelInfo describes one installed model.
type OllamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
