package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidewater/ragchat/internal/config"
	"github.com/tidewater/ragchat/internal/log"
)

func newTestReranker(endpoint string) *Reranker {
	return New(&config.Config{
		RerankEndpoint: endpoint,
		RerankAPIKey:   "test-key",
		RerankModel:    "rerank-english-v3.0",
	}, log.NewNop())
}

func TestRerank_RemoteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Query != "opening hours" || len(req.Documents) != 3 || req.TopN != 2 {
			t.Errorf("request = %+v", req)
		}

		// Remote ranks the last document highest.
		fmt.Fprint(w, `{"results": [
			{"index": 2, "relevance_score": 0.95},
			{"index": 0, "relevance_score": 0.40}
		]}`)
	}))
	defer srv.Close()

	r := newTestReranker(srv.URL)
	results := r.Rerank(context.Background(), "opening hours", []string{"a", "b", "c"}, 2)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Index != 2 || results[0].Score != 0.95 {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Index != 0 || results[1].Score != 0.40 {
		t.Errorf("results[1] = %+v", results[1])
	}
}

func TestRerank_FallbackWhenEndpointUnset(t *testing.T) {
	r := newTestReranker("")

	results := r.Rerank(context.Background(), "q", []string{"a", "b", "c", "d"}, 3)

	want := []Result{{0, 1.0}, {1, 0.9}, {2, 0.8}}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i, res := range results {
		if res != want[i] {
			t.Errorf("results[%d] = %+v, want %+v", i, res, want[i])
		}
	}
}

func TestRerank_FallbackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newTestReranker(srv.URL)
	results := r.Rerank(context.Background(), "q", []string{"a", "b"}, 2)

	if len(results) != 2 {
		t.Fatalf("got %d results, want fallback of 2", len(results))
	}
	if results[0] != (Result{0, 1.0}) || results[1] != (Result{1, 0.9}) {
		t.Errorf("fallback results = %+v", results)
	}
}

func TestRerank_FallbackOnMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"results": [`},
		{"empty results", `{"results": []}`},
		{"out of range index", `{"results": [{"index": 9, "relevance_score": 0.5}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			r := newTestReranker(srv.URL)
			results := r.Rerank(context.Background(), "q", []string{"a", "b"}, 2)
			if len(results) != 2 || results[0] != (Result{0, 1.0}) {
				t.Errorf("expected fallback, got %+v", results)
			}
		})
	}
}

func TestRerank_TopNClampedToDocumentCount(t *testing.T) {
	r := newTestReranker("")

	results := r.Rerank(context.Background(), "q", []string{"only"}, 3)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0] != (Result{0, 1.0}) {
		t.Errorf("results[0] = %+v", results[0])
	}
}

func TestRerank_EmptyDocuments(t *testing.T) {
	r := newTestReranker("")

	if results := r.Rerank(context.Background(), "q", nil, 3); results != nil {
		t.Errorf("Rerank with no documents = %+v, want nil", results)
	}
}
