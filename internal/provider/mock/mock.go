// Package mock provides a scriptable in-memory embedding adapter for tests
// and offline development.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"sync/atomic"

	"semlink/internal/provider"
)

func init() {
	provider.Register("mock", func(cfg provider.Config) (provider.Adapter, error) {
		dims := cfg.Dims
		if dims <= 0 {
			dims = 8
		}
		model := cfg.Model
		if model == "" {
			model = "mock-embed"
		}
		return &Adapter{dims: dims, model: model}, nil
	})
}

// Adapter deterministically derives vectors from input text. EmbedFunc and
// FailFirst make failure scenarios scriptable.
type Adapter struct {
	dims  int
	model string

	// EmbedFunc, when set, replaces the default deterministic embedding.
	EmbedFunc func(ctx context.Context, inputs []provider.Input) ([]provider.Result, error)

	// FailFirst makes the first N EmbedBatch calls fail with FailErr.
	FailFirst int32
	FailErr   error

	calls int32
}

// New creates a mock adapter with the given dimensionality.
func New(dims int, model string) *Adapter {
	if dims <= 0 {
		dims = 8
	}
	if model == "" {
		model = "mock-embed"
	}
	return &Adapter{dims: dims, model: model}
}

// Calls returns how many times EmbedBatch was invoked.
func (a *Adapter) Calls() int {
	return int(atomic.LoadInt32(&a.calls))
}

func (a *Adapter) EmbedBatch(ctx context.Context, inputs []provider.Input) ([]provider.Result, error) {
	call := atomic.AddInt32(&a.calls, 1)
	if call <= atomic.LoadInt32(&a.FailFirst) && a.FailErr != nil {
		return nil, a.FailErr
	}
	if a.EmbedFunc != nil {
		return a.EmbedFunc(ctx, inputs)
	}

	results := make([]provider.Result, len(inputs))
	for i, in := range inputs {
		results[i] = provider.Result{
			Vector:     a.vectorFor(in.Text),
			TokenCount: a.CountTokens(in.Text),
		}
	}
	return results, nil
}

// vectorFor hashes the text into a stable pseudo-embedding.
func (a *Adapter) vectorFor(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, a.dims)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(sum[(i*4)%28:])
		vec[i] = float32(bits%2000)/1000 - 1
	}
	return vec
}

func (a *Adapter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

func (a *Adapter) Dims() int        { return a.dims }
func (a *Adapter) ModelKey() string { return a.model }
func (a *Adapter) Name() string     { return "mock" }

// HealthCheck always succeeds.
func (a *Adapter) HealthCheck(ctx context.Context) error { return nil }
