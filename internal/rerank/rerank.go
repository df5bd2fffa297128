// Package rerank reorders retrieved chunks by cross-encoder relevance.
//
// The remote reranker is strictly optional: when the endpoint is unset,
// the call fails, or the response is unusable, Rerank falls back to a
// deterministic positional scoring and never returns an error. A flaky
// reranker must not break chat.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidewater/ragchat/internal/config"
	"github.com/tidewater/ragchat/internal/log"
)

// requestTimeout bounds one rerank call.
const requestTimeout = 10 * time.Second

// Result is one document after reranking. Index refers to the position in
// the input slice; Score is relevance, higher is better.
type Result struct {
	Index int
	Score float64
}

// Reranker calls a Cohere-compatible rerank endpoint.
type Reranker struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	logger   log.Logger
}

// New creates a reranker from configuration. An empty endpoint produces a
// reranker that always takes the fallback path.
func New(cfg *config.Config, logger log.Logger) *Reranker {
	return &Reranker{
		endpoint: cfg.RerankEndpoint,
		apiKey:   cfg.RerankAPIKey,
		model:    cfg.RerankModel,
		client:   &http.Client{Timeout: requestTimeout},
		logger:   logger.With("component", "rerank"),
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank returns up to topN documents ordered by relevance to the query.
// It never fails: any problem with the remote call degrades to fallback
// positional scores.
func (r *Reranker) Rerank(ctx context.Context, query string, documents []string, topN int) []Result {
	if len(documents) == 0 || topN <= 0 {
		return nil
	}
	if topN > len(documents) {
		topN = len(documents)
	}

	if r.endpoint == "" {
		return fallback(len(documents), topN)
	}

	results, err := r.call(ctx, query, documents, topN)
	if err != nil {
		r.logger.Warn("rerank failed, using fallback scores", "error", err)
		return fallback(len(documents), topN)
	}
	return results
}

func (r *Reranker) call(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	body, err := json.Marshal(rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling reranker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("reranker returned status %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return nil, fmt.Errorf("reranker returned no results")
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(documents) {
			return nil, fmt.Errorf("reranker returned out-of-range index %d", res.Index)
		}
		results = append(results, Result{Index: res.Index, Score: res.RelevanceScore})
	}
	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

// fallback keeps the retrieval order and assigns synthetic descending
// scores: 1.0, 0.9, 0.8, ... so downstream confidence math still works.
func fallback(docCount, topN int) []Result {
	if topN > docCount {
		topN = docCount
	}
	results := make([]Result, topN)
	for i := range results {
		results[i] = Result{Index: i, Score: 1.0 - 0.1*float64(i)}
	}
	return results
}
