package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPConfig configures HTTPEmbedder, a generic client for an external
// embedding API. The wire shape below
// (`{"input": [...]}` -> `{"embeddings": [[...]]}`) matches the common
// OpenAI-style embeddings endpoint shape; swap Endpoint to point at any
// compatible provider.
type HTTPConfig struct {
	Endpoint   string
	Model      string
	Dimensions int
	Timeout    time.Duration
	APIKey     string
	Retry      RetryConfig
}

// DefaultHTTPConfig returns sane defaults for an HTTPEmbedder.
func DefaultHTTPConfig(dimensions int) HTTPConfig {
	return HTTPConfig{
		Endpoint:   "http://localhost:8080/v1/embeddings",
		Model:      "default",
		Dimensions: dimensions,
		Timeout:    30 * time.Second,
		Retry:      DefaultRetryConfig(),
	}
}

// HTTPEmbedder calls an external embedding HTTP API. Failures are returned
// as-is; callers wrap them as domain.KindEmbedError.
type HTTPEmbedder struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPEmbedder constructs an HTTPEmbedder from cfg.
func NewHTTPEmbedder(cfg HTTPConfig) *HTTPEmbedder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPEmbedder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed: empty response")
	}
	return vecs[0], nil
}

func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var result [][]float32
	err := WithRetry(ctx, e.cfg.Retry, func() error {
		vecs, err := e.doEmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		result = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *HTTPEmbedder) doEmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Input: texts, Model: e.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embed request failed: status %d: %s", resp.StatusCode, string(data))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed response count mismatch: got %d, want %d", len(parsed.Embeddings), len(texts))
	}
	return parsed.Embeddings, nil
}

func (e *HTTPEmbedder) Dimensions() int { return e.cfg.Dimensions }
func (e *HTTPEmbedder) ModelName() string { return e.cfg.Model }

func (e *HTTPEmbedder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (e *HTTPEmbedder) Close() error { return nil }

var _ Embedder = (*HTTPEmbedder)(nil)
