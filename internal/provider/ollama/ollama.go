// Package ollama implements the embedding adapter for a local Ollama
// server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"semlink/internal/provider"
)

const (
	defaultEndpoint = "http://localhost:11434"
	defaultModel    = "embeddinggemma"
	// embeddinggemma produces 768-dimensional vectors.
	defaultDims = 768
)

func init() {
	provider.Register("ollama", func(cfg provider.Config) (provider.Adapter, error) {
		return New(cfg.Host, cfg.Model, cfg.Dims)
	})
}

// Adapter generates embeddings using a local Ollama server.
type Adapter struct {
	endpoint string
	model    string
	dims     int
	client   *http.Client
}

// New creates an Ollama adapter. Empty arguments fall back to defaults.
func New(endpoint, model string, dims int) (*Adapter, error) {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if model == "" {
		model = defaultModel
	}
	if dims <= 0 {
		dims = defaultDims
	}
	return &Adapter{
		endpoint: endpoint,
		model:    model,
		dims:     dims,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// embed generates an embedding for a single text.
func (a *Adapter) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: a.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Embedding, nil
}

// EmbedBatch generates embeddings for multiple inputs. Ollama has no
// native batch API, so inputs are embedded sequentially; any failure fails
// the whole batch so the pipeline's batch retry can take over.
func (a *Adapter) EmbedBatch(ctx context.Context, inputs []provider.Input) ([]provider.Result, error) {
	results := make([]provider.Result, len(inputs))
	for i, in := range inputs {
		vec, err := a.embed(ctx, in.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed input %d (%s): %w", i, in.Key, err)
		}
		results[i] = provider.Result{Vector: vec, TokenCount: a.CountTokens(in.Text)}
	}
	return results, nil
}

// CountTokens estimates tokens at roughly four characters per token.
func (a *Adapter) CountTokens(text string) int {
	return (len(text) + 3) / 4
}

func (a *Adapter) Dims() int        { return a.dims }
func (a *Adapter) ModelKey() string { return a.model }
func (a *Adapter) Name() string     { return "ollama" }

// HealthCheck verifies the Ollama server is reachable.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", a.endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned status %d", resp.StatusCode)
	}
	return nil
}
