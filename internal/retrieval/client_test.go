package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSearchServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, searchPath, r.URL.Path)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"results": []map[string]any{
			{"document": "doc for " + req.Query, "metadata": map[string]any{"source": "guidelines"}, "score": 0.92},
		}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestClientSearch(t *testing.T) {
	var hits atomic.Int64
	srv := newSearchServer(t, &hits)
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	docs, err := c.Search(context.Background(), "metformin contraindications", 3)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc for metformin contraindications", docs[0].Document)
	assert.Equal(t, 0.92, docs[0].Score)
	assert.Equal(t, "guidelines", docs[0].Metadata["source"])
}

func TestClientSearchCaches(t *testing.T) {
	var hits atomic.Int64
	srv := newSearchServer(t, &hits)
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "insulin interactions", 3)
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "insulin interactions", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load(), "second identical search must be served from cache")

	_, err = c.Search(context.Background(), "insulin interactions", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load(), "different top_k is a different cache key")
}

func TestClientSearchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "anything", 3)
	assert.ErrorContains(t, err, "status code: 500")
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
