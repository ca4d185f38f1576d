// Package provider defines the model adapter capability interface the
// embedding pipeline consumes, and the registry that selects an
// implementation by configuration. One implementation per provider lives
// in a subpackage (ollama, genai, mock).
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"semlink/internal/logging"
)

// Input is one text to embed. Key is optional and used only for
// diagnostics.
type Input struct {
	Text string
	Key  string
}

// Result is one embedding outcome, in input order. Err marks a per-item
// failure inside an otherwise successful batch.
type Result struct {
	Vector     []float32
	TokenCount int
	Err        error
}

// Adapter generates embeddings for batches of inputs. Implementations must
// tolerate 1..batchSize inputs and return results in input order.
type Adapter interface {
	EmbedBatch(ctx context.Context, inputs []Input) ([]Result, error)

	// CountTokens estimates the token count of a text.
	CountTokens(text string) int

	// Dims returns the dimensionality of produced vectors.
	Dims() int

	// ModelKey returns the model identifier vectors are stored under.
	ModelKey() string

	// Name returns the provider/adapter name.
	Name() string
}

// HealthChecker is an optional interface for adapters that can verify the
// backing service is reachable before a batch run.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config selects and parameterizes an adapter.
type Config struct {
	// Provider: "ollama", "genai" or "mock".
	Provider string `yaml:"provider" json:"provider"`

	// Model is the provider-specific model key.
	Model string `yaml:"model" json:"model"`

	// Host is the endpoint for local/self-hosted providers.
	Host string `yaml:"host" json:"host"`

	// APIKey authenticates cloud providers.
	APIKey string `yaml:"api_key" json:"api_key"`

	// Dims overrides the model's declared dimensionality when non-zero.
	Dims int `yaml:"dims" json:"dims"`
}

// Factory builds an adapter from config.
type Factory func(cfg Config) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register installs a factory under the provider name. Called from the
// implementations' init functions.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Names returns the registered provider names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates an adapter for the configured provider.
func New(cfg Config) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Provider]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported embedding provider: %s (registered: %v)", cfg.Provider, Names())
	}

	logging.Embedding("creating adapter provider=%s model=%s", cfg.Provider, cfg.Model)
	adapter, err := factory(cfg)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("adapter creation failed: %v", err)
		return nil, err
	}
	logging.Embedding("adapter ready: name=%s model=%s dims=%d", adapter.Name(), adapter.ModelKey(), adapter.Dims())
	return adapter, nil
}
