package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPConfig configures HTTPCrossEncoder, a client for a TEI-style rerank
// endpoint (`{"query": ..., "texts": [...]}` -> `[{"index": i, "score": s}]`).
type HTTPConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
	APIKey   string
}

// DefaultHTTPConfig returns defaults pointing at a local rerank service.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Endpoint: "http://localhost:8081/rerank",
		Timeout:  20 * time.Second,
	}
}

// HTTPCrossEncoder scores pairs over HTTP.
type HTTPCrossEncoder struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPCrossEncoder creates a cross-encoder client for cfg.Endpoint.
func NewHTTPCrossEncoder(cfg HTTPConfig) *HTTPCrossEncoder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &HTTPCrossEncoder{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type rerankResponseItem struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (h *HTTPCrossEncoder) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Texts: passages, Model: h.config.Model})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.config.APIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, string(msg))
	}

	var items []rerankResponseItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(items) != len(passages) {
		return nil, fmt.Errorf("rerank endpoint returned %d scores for %d passages", len(items), len(passages))
	}

	scores := make([]float64, len(passages))
	for _, item := range items {
		if item.Index < 0 || item.Index >= len(scores) {
			return nil, fmt.Errorf("rerank endpoint returned out-of-range index %d", item.Index)
		}
		scores[item.Index] = item.Score
	}
	return scores, nil
}

func (h *HTTPCrossEncoder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.config.Endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func (h *HTTPCrossEncoder) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

var _ CrossEncoder = (*HTTPCrossEncoder)(nil)
