package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/aman-cerp/hybridsearch/internal/errors"
)

// fakeVectorService is a minimal in-process stand-in for a remote vector
// database, backed by the in-memory store.
func fakeVectorService(t *testing.T, dims int) (*httptest.Server, *MemoryVectorStore) {
	t.Helper()
	backing := NewMemoryVectorStore(DefaultVectorStoreConfig(dims))

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/vectors/test/upsert", func(w http.ResponseWriter, r *http.Request) {
		var req remoteUpsertRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if err := backing.Add(r.Context(), req.IDs, req.Vectors); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/vectors/test/search", func(w http.ResponseWriter, r *http.Request) {
		var req remoteSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		results, err := backing.Search(r.Context(), req.Vector, req.K)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := remoteSearchResponse{}
		for _, res := range results {
			resp.Results = append(resp.Results, struct {
				ID    string  `json:"id"`
				Score float32 `json:"score"`
			}{ID: res.ID, Score: res.Score})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/v1/vectors/test/delete", func(w http.ResponseWriter, r *http.Request) {
		var req remoteDeleteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = backing.Delete(r.Context(), req.IDs)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/vectors/test/ids", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(remoteIDsResponse{IDs: backing.AllIDs()})
	})
	mux.HandleFunc("/v1/vectors/test/count", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(remoteCountResponse{Count: backing.Count()})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, backing
}

func TestRemoteVectorStore_RoundTrip(t *testing.T) {
	srv, _ := fakeVectorService(t, 4)
	s, err := NewRemoteVectorStore(RemoteVectorStoreConfig{
		BaseURL: srv.URL, Namespace: "test", Dimensions: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{memVec(4, 0), memVec(4, 1)}))
	assert.Equal(t, 2, s.Count())

	results, err := s.Search(ctx, memVec(4, 0), 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].ID)

	require.NoError(t, s.Delete(ctx, []string{"a"}))
	assert.Equal(t, []string{"b"}, s.AllIDs())
}

func TestRemoteVectorStore_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	s, err := NewRemoteVectorStore(RemoteVectorStoreConfig{
		BaseURL: srv.URL, Namespace: "test", Dimensions: 4,
	})
	require.NoError(t, err)

	// Two 503s, then success: inside the 3-attempt budget.
	require.NoError(t, s.Add(context.Background(), []string{"a"}, [][]float32{memVec(4, 0)}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRemoteVectorStore_SurfacesPersistentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	s, err := NewRemoteVectorStore(RemoteVectorStoreConfig{
		BaseURL: srv.URL, Namespace: "test", Dimensions: 4,
	})
	require.NoError(t, err)

	err = s.Add(context.Background(), []string{"a"}, [][]float32{memVec(4, 0)})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRemoteVectorStore_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	s, err := NewRemoteVectorStore(RemoteVectorStoreConfig{
		BaseURL: srv.URL, Namespace: "test", Dimensions: 4,
	})
	require.NoError(t, err)

	err = s.Add(context.Background(), []string{"a"}, [][]float32{memVec(4, 0)})
	require.Error(t, err)
	assert.False(t, coreerrors.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRemoteVectorStore_DimensionCheckIsLocal(t *testing.T) {
	s, err := NewRemoteVectorStore(RemoteVectorStoreConfig{
		BaseURL: "http://localhost:1", Namespace: "test", Dimensions: 4,
	})
	require.NoError(t, err)

	err = s.Add(context.Background(), []string{"a"}, [][]float32{make([]float32, 2)})
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})
}

func TestRemoteVectorStore_ConfigValidation(t *testing.T) {
	_, err := NewRemoteVectorStore(RemoteVectorStoreConfig{Namespace: "x"})
	require.Error(t, err)
	_, err = NewRemoteVectorStore(RemoteVectorStoreConfig{BaseURL: "http://x"})
	require.Error(t, err)
}
