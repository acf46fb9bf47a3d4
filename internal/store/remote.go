package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	coreerrors "github.com/aman-cerp/hybridsearch/internal/errors"
)

// RemoteVectorStoreConfig configures the remote vector service adapter.
type RemoteVectorStoreConfig struct {
	// BaseURL is the vector service endpoint, e.g. "http://localhost:6333".
	BaseURL string

	// Namespace scopes this store's vectors on the remote service
	// (typically the collection name).
	Namespace string

	// Dimensions is the expected vector dimension.
	Dimensions int

	// Timeout bounds a single request (default: 10s).
	Timeout time.Duration
}

// RemoteVectorStore is a thin adapter over an external vector database's
// HTTP API. Transient failures are retried with exponential backoff,
// capped at 3 attempts with 100ms-1s jittered delays. Persistence is the
// remote service's concern: Save and Load are no-ops.
type RemoteVectorStore struct {
	cfg    RemoteVectorStoreConfig
	client *http.Client
}

var _ VectorStore = (*RemoteVectorStore)(nil)

// remoteRetryConfig matches the documented retry budget for the remote
// variant: 3 attempts, 100ms initial delay, 1s cap, jittered.
func remoteRetryConfig() coreerrors.RetryConfig {
	return coreerrors.RetryConfig{
		MaxRetries:   2, // 3 attempts total
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// NewRemoteVectorStore creates the adapter. It performs no I/O; the first
// request discovers whether the service is reachable.
func NewRemoteVectorStore(cfg RemoteVectorStoreConfig) (*RemoteVectorStore, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote vector store needs a base URL")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("remote vector store needs a namespace")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RemoteVectorStore{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}, nil
}

func (s *RemoteVectorStore) url(op string) string {
	return fmt.Sprintf("%s/v1/vectors/%s/%s", s.cfg.BaseURL, s.cfg.Namespace, op)
}

// post sends a JSON request with the retry budget and decodes the JSON
// response into out (when out is non-nil). 4xx responses are not retried.
func (s *RemoteVectorStore) post(ctx context.Context, op string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	// Retry retries every error it sees; permanent (4xx) failures are
	// captured out-of-band so they stop the loop on the first attempt.
	var permErr error
	err = coreerrors.Retry(ctx, remoteRetryConfig(), func() error {
		reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.url(op), bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return coreerrors.UnavailableError(coreerrors.ErrCodeRepoUnavailable, "vector service unreachable", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return coreerrors.UnavailableError(coreerrors.ErrCodeRepoUnavailable,
				fmt.Sprintf("vector service returned %d", resp.StatusCode), nil)
		}
		if resp.StatusCode >= 400 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			permErr = coreerrors.New(coreerrors.ErrCodeInvalidInput,
				fmt.Sprintf("vector service rejected %s: %s", op, string(msg)), nil)
			return nil
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
	if err != nil {
		return err
	}
	return permErr
}

type remoteUpsertRequest struct {
	IDs     []string    `json:"ids"`
	Vectors [][]float32 `json:"vectors"`
}

// Add upserts vectors on the remote service.
func (s *RemoteVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != s.cfg.Dimensions {
			return ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(v)}
		}
	}
	return s.post(ctx, "upsert", remoteUpsertRequest{IDs: ids, Vectors: vectors}, nil)
}

type remoteSearchRequest struct {
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
}

type remoteSearchResponse struct {
	Results []struct {
		ID    string  `json:"id"`
		Score float32 `json:"score"`
	} `json:"results"`
}

// Search runs k-NN on the remote service.
func (s *RemoteVectorStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != s.cfg.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(query)}
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}
	var resp remoteSearchResponse
	if err := s.post(ctx, "search", remoteSearchRequest{Vector: query, K: k}, &resp); err != nil {
		return nil, err
	}
	results := make([]*VectorResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, &VectorResult{ID: r.ID, Score: r.Score, Distance: 1 - r.Score})
	}
	return results, nil
}

type remoteDeleteRequest struct {
	IDs []string `json:"ids"`
}

// Delete removes vectors by ID on the remote service.
func (s *RemoteVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.post(ctx, "delete", remoteDeleteRequest{IDs: ids}, nil)
}

type remoteIDsResponse struct {
	IDs []string `json:"ids"`
}

// AllIDs lists every vector ID in the namespace. Errors degrade to an
// empty list; callers needing strict behavior should health-check first.
func (s *RemoteVectorStore) AllIDs() []string {
	var resp remoteIDsResponse
	if err := s.post(context.Background(), "ids", struct{}{}, &resp); err != nil {
		return nil
	}
	return resp.IDs
}

// Contains checks existence via a single-ID lookup.
func (s *RemoteVectorStore) Contains(id string) bool {
	var resp remoteIDsResponse
	if err := s.post(context.Background(), "contains", remoteDeleteRequest{IDs: []string{id}}, &resp); err != nil {
		return false
	}
	return len(resp.IDs) > 0
}

type remoteCountResponse struct {
	Count int `json:"count"`
}

// Count returns the namespace's vector count, or 0 when unreachable.
func (s *RemoteVectorStore) Count() int {
	var resp remoteCountResponse
	if err := s.post(context.Background(), "count", struct{}{}, &resp); err != nil {
		return 0
	}
	return resp.Count
}

// Save is a no-op: the remote service owns durability.
func (s *RemoteVectorStore) Save(string) error { return nil }

// Load is a no-op: the remote service owns durability.
func (s *RemoteVectorStore) Load(string) error { return nil }

// Close releases idle connections.
func (s *RemoteVectorStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
