// Package genai implements the embedding adapter for Google's Gemini API.
package genai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"semlink/internal/provider"
)

const (
	defaultModel = "gemini-embedding-001"
	// gemini-embedding-001 produces 768-dimensional vectors.
	defaultDims = 768
)

func init() {
	provider.Register("genai", func(cfg provider.Config) (provider.Adapter, error) {
		return New(cfg.APIKey, cfg.Model, cfg.Dims)
	})
}

// Adapter generates embeddings using Google's Gemini API.
type Adapter struct {
	client *genai.Client
	model  string
	dims   int
}

// New creates a GenAI adapter. The API key is required.
func New(apiKey, model string, dims int) (*Adapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = defaultModel
	}
	if dims <= 0 {
		dims = defaultDims
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Adapter{client: client, model: model, dims: dims}, nil
}

// EmbedBatch generates embeddings for multiple inputs. GenAI has native
// batch support.
func (a *Adapter) EmbedBatch(ctx context.Context, inputs []provider.Input) ([]provider.Result, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(inputs))
	for i, in := range inputs {
		contents[i] = genai.NewContentFromText(in.Text, genai.RoleUser)
	}

	result, err := a.client.Models.EmbedContent(ctx,
		a.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType: "SEMANTIC_SIMILARITY",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI batch embed failed: %w", err)
	}
	if len(result.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("GenAI returned %d embeddings for %d inputs", len(result.Embeddings), len(inputs))
	}

	results := make([]provider.Result, len(inputs))
	for i, emb := range result.Embeddings {
		results[i] = provider.Result{
			Vector:     emb.Values,
			TokenCount: a.CountTokens(inputs[i].Text),
		}
	}
	return results, nil
}

// CountTokens estimates tokens at roughly four characters per token.
func (a *Adapter) CountTokens(text string) int {
	return (len(text) + 3) / 4
}

func (a *Adapter) Dims() int        { return a.dims }
func (a *Adapter) ModelKey() string { return a.model }
func (a *Adapter) Name() string     { return "genai" }

// Close closes the GenAI client. The underlying client holds no
// resources that require explicit cleanup.
func (a *Adapter) Close() error {
	return nil
}
