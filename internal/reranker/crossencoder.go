package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPConfig holds the settings for constructing an HTTPCrossEncoder.
type HTTPConfig struct {
	// BaseURL is the reranking API base (e.g. a Cohere-compatible endpoint).
	BaseURL string
	// APIKey is the Bearer token, if required.
	APIKey string
	// Model is the reranker model name.
	Model string
}

// HTTPCrossEncoder implements Scorer against a remote HTTP rerank endpoint
// using the teacher embedder package's no-SDK HTTP idiom: plain net/http,
// no third-party client library.
type HTTPCrossEncoder struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPCrossEncoder constructs an HTTPCrossEncoder from cfg.
func NewHTTPCrossEncoder(cfg HTTPConfig) *HTTPCrossEncoder {
	return &HTTPCrossEncoder{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Score calls the rerank endpoint for (query, candidates) and returns a
// slice of scores parallel to candidates.
func (e *HTTPCrossEncoder) Score(ctx context.Context, query string, candidates []string) ([]float64, error) {
	body := rerankRequest{Model: e.model, Query: query, Documents: candidates}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("cross-encoder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("cross-encoder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cross-encoder: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("cross-encoder: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, fmt.Errorf("cross-encoder: %s", msg)
	}

	if len(result.Results) != len(candidates) {
		return nil, fmt.Errorf("cross-encoder: expected %d scores, got %d", len(candidates), len(result.Results))
	}

	scores := make([]float64, len(candidates))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			return nil, fmt.Errorf("cross-encoder: index %d out of range [0, %d)", r.Index, len(candidates))
		}
		scores[r.Index] = r.RelevanceScore
	}
	return scores, nil
}
