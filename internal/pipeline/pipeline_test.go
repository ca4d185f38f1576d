package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semlink/internal/entity"
	"semlink/internal/provider"
	"semlink/internal/provider/mock"
)

var pipeModel = entity.Model{Adapter: "mock", ModelKey: "mock-embed", Dims: 8}

func queuedEntities(n int) []*entity.Entity {
	out := make([]*entity.Entity, n)
	for i := range out {
		e := entity.New(fmt.Sprintf("note-%02d.md", i))
		e.Text = fmt.Sprintf("content of note %d with enough text", i)
		e.LastRead = entity.Fingerprint{Hash: fmt.Sprintf("h%d", i)}
		e.QueuedForEmbedding = true
		out[i] = e
	}
	return out
}

// instantSleep makes backoff virtual.
func instantSleep(ctx context.Context, d time.Duration) error { return nil }

func TestProcess_AllSucceedSingleTrailingSave(t *testing.T) {
	adapter := mock.New(8, "mock-embed")
	p := New(adapter)
	entities := queuedEntities(25)

	saves := 0
	stats, err := p.Process(context.Background(), entities, Options{
		Model: pipeModel,
		OnSave: func(ctx context.Context) error {
			saves++
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 25, stats.Total)
	assert.Equal(t, 25, stats.Success)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.Skipped)
	assert.Equal(t, 1, saves, "25 entities in 3 batches is below the save interval; one trailing checkpoint")
	assert.Equal(t, 3, adapter.Calls())

	for _, e := range entities {
		assert.False(t, e.QueuedForEmbedding)
		assert.False(t, e.IsUnembedded(pipeModel))
	}
}

func TestProcess_EmptyInputIsInert(t *testing.T) {
	adapter := mock.New(8, "mock-embed")
	p := New(adapter)

	unqueued := entity.New("a.md")
	unqueued.Text = "text"

	stats, err := p.Process(context.Background(), []*entity.Entity{unqueued}, Options{
		Model: pipeModel,
		OnSave: func(ctx context.Context) error {
			t.Error("no batches ran; onSave must not be called")
			return nil
		},
	})
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.Success)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.Skipped)
	assert.Zero(t, adapter.Calls())
}

func TestProcess_ReentrancyGuard(t *testing.T) {
	adapter := mock.New(8, "mock-embed")
	started := make(chan struct{})
	finish := make(chan struct{})
	adapter.EmbedFunc = func(ctx context.Context, inputs []provider.Input) ([]provider.Result, error) {
		close(started)
		<-finish
		return make([]provider.Result, len(inputs)), nil
	}
	p := New(adapter)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = p.Process(context.Background(), queuedEntities(1), Options{Model: pipeModel})
	}()

	<-started
	_, err := p.Process(context.Background(), queuedEntities(1), Options{Model: pipeModel})
	assert.ErrorIs(t, err, ErrAlreadyProcessing)

	close(finish)
	wg.Wait()
}

func TestProcess_RetryThenSucceed(t *testing.T) {
	adapter := mock.New(8, "mock-embed")
	adapter.FailFirst = 2
	adapter.FailErr = errors.New("transient network error")
	p := New(adapter)

	var slept []time.Duration
	stats, err := p.Process(context.Background(), queuedEntities(5), Options{
		Model: pipeModel,
		Sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Success)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, slept, "backoff doubles per attempt")
}

func TestProcess_RetriesExhaustedBatchFails(t *testing.T) {
	adapter := mock.New(8, "mock-embed")
	adapter.EmbedFunc = func(ctx context.Context, inputs []provider.Input) ([]provider.Result, error) {
		return nil, errors.New("model unavailable")
	}
	p := New(adapter)

	stats, err := p.Process(context.Background(), queuedEntities(15), Options{
		Model:      pipeModel,
		MaxRetries: 2,
		Sleep:      instantSleep,
	})
	require.NoError(t, err, "without HaltOnError exhausted batches do not fail the run")

	assert.Equal(t, 15, stats.Failed)
	assert.Zero(t, stats.Success)
	// 2 batches, each attempted 1 + 2 retries.
	assert.Equal(t, 6, adapter.Calls())
}

func TestProcess_HaltOnErrorPropagates(t *testing.T) {
	adapter := mock.New(8, "mock-embed")
	adapter.EmbedFunc = func(ctx context.Context, inputs []provider.Input) ([]provider.Result, error) {
		return nil, errors.New("model unavailable")
	}
	p := New(adapter)

	stats, err := p.Process(context.Background(), queuedEntities(25), Options{
		Model:       pipeModel,
		MaxRetries:  1,
		Sleep:       instantSleep,
		HaltOnError: true,
	})
	require.Error(t, err)
	assert.Equal(t, 10, stats.Failed, "only the first batch was attempted")
	assert.Equal(t, 15, stats.Skipped)
}

func TestProcess_HaltBetweenBatches(t *testing.T) {
	adapter := mock.New(8, "mock-embed")
	p := New(adapter)

	var progress []int
	stats, err := p.Process(context.Background(), queuedEntities(25), Options{
		Model: pipeModel,
		OnProgress: func(processed, total int, current *entity.Entity) {
			progress = append(progress, processed)
			require.Equal(t, 25, total)
			if processed == 10 {
				p.Halt()
			}
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 10, stats.Success)
	assert.Equal(t, 15, stats.Skipped, "remaining entities are skipped, not failed")
	assert.Zero(t, stats.Failed)
	assert.Equal(t, []int{10}, progress, "halt is honored at the next batch boundary")
	assert.Equal(t, 1, adapter.Calls(), "no rollback: the completed batch keeps its vectors")
}

func TestProcess_HaltPersistsUntilCleared(t *testing.T) {
	adapter := mock.New(8, "mock-embed")
	p := New(adapter)

	// A halt raised before the run starts parks it at the first boundary:
	// the flag belongs to the caller, not to the Process call.
	p.Halt()
	stats, err := p.Process(context.Background(), queuedEntities(5), Options{Model: pipeModel})
	require.NoError(t, err)
	assert.Zero(t, stats.Success)
	assert.Equal(t, 5, stats.Skipped)
	assert.Zero(t, adapter.Calls(), "the adapter is never reached")

	p.ClearHalt()
	stats, err = p.Process(context.Background(), queuedEntities(5), Options{Model: pipeModel})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Success)
}

func TestProcess_UnusableInputCountsSkipped(t *testing.T) {
	adapter := mock.New(8, "mock-embed")
	p := New(adapter)

	entities := queuedEntities(3)
	entities[1].Text = ""
	entities[1].SetInputFunc(func() (string, error) {
		return "", errors.New("source file vanished")
	})

	stats, err := p.Process(context.Background(), entities, Options{Model: pipeModel})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Success)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Failed)
}

func TestProcess_PerItemErrorCountsFailed(t *testing.T) {
	adapter := mock.New(8, "mock-embed")
	adapter.EmbedFunc = func(ctx context.Context, inputs []provider.Input) ([]provider.Result, error) {
		results := make([]provider.Result, len(inputs))
		for i := range inputs {
			if i == 0 {
				results[i] = provider.Result{Err: errors.New("content rejected")}
				continue
			}
			results[i] = provider.Result{Vector: make([]float32, 8), TokenCount: 1}
		}
		return results, nil
	}
	p := New(adapter)

	stats, err := p.Process(context.Background(), queuedEntities(4), Options{Model: pipeModel})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Success)
	assert.Equal(t, 1, stats.Failed)
}

func TestProcess_SaveIntervalCheckpoints(t *testing.T) {
	adapter := mock.New(8, "mock-embed")
	p := New(adapter)

	saves := 0
	_, err := p.Process(context.Background(), queuedEntities(50), Options{
		Model:        pipeModel,
		BatchSize:    10,
		SaveInterval: 2,
		OnSave: func(ctx context.Context) error {
			saves++
			return nil
		},
	})
	require.NoError(t, err)
	// 5 batches with a checkpoint every 2, plus one trailing for the odd batch.
	assert.Equal(t, 3, saves)
}

func TestProcess_ContextCancelSkipsRemainder(t *testing.T) {
	adapter := mock.New(8, "mock-embed")
	p := New(adapter)

	ctx, cancel := context.WithCancel(context.Background())
	stats, err := p.Process(ctx, queuedEntities(25), Options{
		Model: pipeModel,
		OnProgress: func(processed, total int, current *entity.Entity) {
			if processed == 10 {
				cancel()
			}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Success)
	assert.Equal(t, 15, stats.Skipped)
}
