// Package pipeline turns queued stale entities into embedding vectors: it
// batches them, calls the model adapter, retries failed batches with
// backoff, checkpoints periodically and supports cooperative halting at
// batch boundaries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"semlink/internal/entity"
	"semlink/internal/logging"
	"semlink/internal/provider"
)

// ErrAlreadyProcessing is returned when Process is invoked while a run is
// active. Callers should treat it as "retry later", not a fatal condition.
var ErrAlreadyProcessing = errors.New("pipeline: already processing")

// ErrAdapterFailure wraps a batch that exhausted its retries against the
// adapter. Callers can errors.Is against it to classify run failures.
var ErrAdapterFailure = errors.New("pipeline: adapter failure")

// Defaults.
const (
	DefaultBatchSize    = 10
	DefaultMaxRetries   = 3
	DefaultSaveInterval = 50 // batches between checkpoints
)

// SleepFunc waits for d or until ctx is cancelled. Injected so tests run
// on virtual/instant time instead of wall-clock sleep.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Options configures one Process call.
type Options struct {
	// Model is the active model descriptor vectors are recorded under.
	Model entity.Model

	// BatchSize is the number of entities per adapter call.
	BatchSize int

	// MaxRetries bounds whole-batch retries after the initial attempt.
	MaxRetries int

	// SaveInterval is the number of batches between checkpoints.
	SaveInterval int

	// HaltOnError stops the run when a batch exhausts its retries instead
	// of continuing with the next batch.
	HaltOnError bool

	// Sleep overrides the backoff sleep. Nil means real time.
	Sleep SleepFunc

	// OnSave is the idempotent persistence checkpoint. It is awaited; it
	// must be safe to call from a background context.
	OnSave func(ctx context.Context) error

	// OnProgress receives the cumulative processed count and the total
	// after every batch.
	OnProgress func(processed, total int, current *entity.Entity)
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.SaveInterval <= 0 {
		o.SaveInterval = DefaultSaveInterval
	}
	if o.Sleep == nil {
		o.Sleep = sleepWithContext
	}
}

// Stats summarizes a Process call.
type Stats struct {
	Total    int
	Success  int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// Processor runs embedding batches against one adapter. A Processor
// defends itself against concurrent runs independently of the run state
// machine that schedules it.
type Processor struct {
	adapter provider.Adapter
	active  atomic.Bool
	halted  atomic.Bool
}

// New creates a processor bound to the adapter.
func New(adapter provider.Adapter) *Processor {
	return &Processor{adapter: adapter}
}

// Halt requests a cooperative stop. The flag is checked between batches,
// not inside one: the in-flight adapter call is never aborted mid-flight,
// and vectors from completed batches are retained. The flag outlives the
// run it parks — a later Process call still sees it, so a halted run that
// had not started yet cannot slip through. ClearHalt re-arms the
// processor.
func (p *Processor) Halt() {
	p.halted.Store(true)
}

// ClearHalt consumes a pending halt. Callers clear it when deliberately
// starting a new run, never inside Process itself.
func (p *Processor) ClearHalt() {
	p.halted.Store(false)
}

// IsActive reports whether a run is in progress.
func (p *Processor) IsActive() bool {
	return p.active.Load()
}

// Process embeds all entities flagged for embedding. Entities whose embed
// input cannot be materialized are counted skipped. A batch that exhausts
// its retries is counted failed in full; unless HaltOnError is set,
// processing continues with the next batch.
func (p *Processor) Process(ctx context.Context, entities []*entity.Entity, opts Options) (Stats, error) {
	if !p.active.CompareAndSwap(false, true) {
		return Stats{}, ErrAlreadyProcessing
	}
	defer p.active.Store(false)

	opts.applyDefaults()
	start := time.Now()

	queued := make([]*entity.Entity, 0, len(entities))
	for _, e := range entities {
		if e.QueuedForEmbedding {
			queued = append(queued, e)
		}
	}

	stats := Stats{Total: len(queued)}
	if len(queued) == 0 {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	logging.Pipeline("starting run: total=%d batchSize=%d model=%s", stats.Total, opts.BatchSize, opts.Model.ModelKey)

	batchesSinceSave := 0
	checkpoint := func() error {
		if opts.OnSave == nil || batchesSinceSave == 0 {
			return nil
		}
		batchesSinceSave = 0
		if err := opts.OnSave(ctx); err != nil {
			return fmt.Errorf("checkpoint save failed: %w", err)
		}
		return nil
	}

	for offset := 0; offset < len(queued); offset += opts.BatchSize {
		// Cooperative cancellation at batch boundaries only.
		if p.halted.Load() || ctx.Err() != nil {
			stats.Skipped += len(queued) - offset
			logging.Pipeline("halted: processed=%d skipped=%d", offset, stats.Skipped)
			break
		}

		end := offset + opts.BatchSize
		if end > len(queued) {
			end = len(queued)
		}
		batch := queued[offset:end]

		inputs := make([]provider.Input, 0, len(batch))
		members := make([]*entity.Entity, 0, len(batch))
		for _, e := range batch {
			text, err := e.EmbedInput()
			if err != nil {
				logging.PipelineDebug("skipping %s: %v", e.Key, err)
				stats.Skipped++
				continue
			}
			inputs = append(inputs, provider.Input{Text: text, Key: e.Key})
			members = append(members, e)
		}

		batchesSinceSave++

		if len(inputs) > 0 {
			results, err := p.embedWithRetry(ctx, inputs, opts)
			if err != nil {
				stats.Failed += len(members)
				logging.Get(logging.CategoryPipeline).Error("batch failed after retries: %v", err)
				if opts.HaltOnError {
					stats.Skipped += len(queued) - end
					stats.Duration = time.Since(start)
					if saveErr := checkpoint(); saveErr != nil {
						logging.Get(logging.CategoryPipeline).Error("%v", saveErr)
					}
					return stats, err
				}
			} else {
				for i, res := range results {
					if i >= len(members) {
						break
					}
					if res.Err != nil || len(res.Vector) == 0 {
						stats.Failed++
						continue
					}
					members[i].RecordEmbedding(opts.Model, res.Vector, res.TokenCount)
					stats.Success++
				}
			}
		}

		processed := stats.Success + stats.Failed + stats.Skipped
		if opts.OnProgress != nil {
			var current *entity.Entity
			if len(batch) > 0 {
				current = batch[len(batch)-1]
			}
			opts.OnProgress(processed, stats.Total, current)
		}

		if batchesSinceSave >= opts.SaveInterval {
			if err := checkpoint(); err != nil {
				stats.Duration = time.Since(start)
				return stats, err
			}
		}
	}

	// Trailing checkpoint for any batches since the last one.
	if err := checkpoint(); err != nil {
		stats.Duration = time.Since(start)
		return stats, err
	}

	stats.Duration = time.Since(start)
	logging.Pipeline("run complete: total=%d success=%d failed=%d skipped=%d in %v",
		stats.Total, stats.Success, stats.Failed, stats.Skipped, stats.Duration)
	return stats, nil
}

// embedWithRetry calls the adapter, retrying the whole batch with
// exponential backoff (2^attempt seconds) until MaxRetries is exhausted.
func (p *Processor) embedWithRetry(ctx context.Context, inputs []provider.Input, opts Options) ([]provider.Result, error) {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 2 * time.Second
			logging.PipelineDebug("retry %d/%d after %v", attempt, opts.MaxRetries, backoff)
			if err := opts.Sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}
		results, err := p.adapter.EmbedBatch(ctx, inputs)
		if err == nil {
			if len(results) != len(inputs) {
				return nil, fmt.Errorf("adapter returned %d results for %d inputs", len(results), len(inputs))
			}
			return results, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: batch failed after %d retries: %v", ErrAdapterFailure, opts.MaxRetries, lastErr)
}
