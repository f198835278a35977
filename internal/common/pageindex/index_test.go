package pageindex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type fakeCluster struct {
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(r *http.Request, body string) (int, string)
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(raw)})
	f.mu.Unlock()

	status, body := f.respond(r, string(raw))
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func createTestIndex(t *testing.T, respond func(r *http.Request, body string) (int, string)) (*Index, *fakeCluster) {
	cluster := &fakeCluster{respond: respond}
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return New(client, "pages-test"), cluster
}

// ==========================
// Index Operations
// ==========================

func TestPut(t *testing.T) {
	idx, cluster := createTestIndex(t, func(r *http.Request, body string) (int, string) {
		return http.StatusCreated, `{"result":"created"}`
	})

	err := idx.Put(context.Background(), Document{PageID: 42, Email: "ada@example.com", Slug: "ada"})
	require.NoError(t, err)

	require.Len(t, cluster.requests, 1)
	assert.Equal(t, http.MethodPut, cluster.requests[0].Method)
	assert.Equal(t, "/pages-test/_doc/42", cluster.requests[0].Path)

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(cluster.requests[0].Body), &doc))
	assert.Equal(t, "ada@example.com", doc.Email)
}

func TestPut_ClusterError(t *testing.T) {
	idx, _ := createTestIndex(t, func(r *http.Request, body string) (int, string) {
		return http.StatusInternalServerError, `{"error":"boom"}`
	})

	err := idx.Put(context.Background(), Document{PageID: 1})
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

func TestFindByEmail(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		wantFound bool
		wantID    int64
	}{
		{
			name:      "hit",
			response:  `{"hits":{"hits":[{"_source":{"pageId":7,"email":"ada@example.com","slug":"ada"}}]}}`,
			wantFound: true,
			wantID:    7,
		},
		{
			name:     "no hits",
			response: `{"hits":{"hits":[]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, cluster := createTestIndex(t, func(r *http.Request, body string) (int, string) {
				return http.StatusOK, tt.response
			})

			doc, found, err := idx.FindByEmail(context.Background(), "ada@example.com")
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, found)
			if tt.wantFound {
				assert.Equal(t, tt.wantID, doc.PageID)
			}

			require.Len(t, cluster.requests, 1)
			assert.Equal(t, "/pages-test/_search", cluster.requests[0].Path)
			assert.Contains(t, cluster.requests[0].Body, `"term":{"email":"ada@example.com"}`)
		})
	}
}

func TestFindByEmail_SearchError(t *testing.T) {
	idx, _ := createTestIndex(t, func(r *http.Request, body string) (int, string) {
		return http.StatusBadRequest, `{"error":"bad query"}`
	})

	_, _, err := idx.FindByEmail(context.Background(), "ada@example.com")
	assert.ErrorIs(t, err, ErrSearchFailed)
}

func TestDelete_MissingIsNotAnError(t *testing.T) {
	idx, _ := createTestIndex(t, func(r *http.Request, body string) (int, string) {
		return http.StatusNotFound, `{"result":"not_found"}`
	})
	assert.NoError(t, idx.Delete(context.Background(), 42))
}

func TestEnsureIndex(t *testing.T) {
	t.Run("existing index", func(t *testing.T) {
		idx, cluster := createTestIndex(t, func(r *http.Request, body string) (int, string) {
			return http.StatusOK, `{}`
		})
		require.NoError(t, idx.EnsureIndex(context.Background()))
		assert.Len(t, cluster.requests, 1)
		assert.Equal(t, http.MethodHead, cluster.requests[0].Method)
	})

	t.Run("creates with mapping", func(t *testing.T) {
		idx, cluster := createTestIndex(t, func(r *http.Request, body string) (int, string) {
			if r.Method == http.MethodHead {
				return http.StatusNotFound, ``
			}
			return http.StatusOK, `{"acknowledged":true}`
		})
		require.NoError(t, idx.EnsureIndex(context.Background()))
		require.Len(t, cluster.requests, 2)
		assert.Equal(t, http.MethodPut, cluster.requests[1].Method)
		assert.True(t, strings.Contains(cluster.requests[1].Body, `"email":     {"type": "keyword"}`))
	})
}
