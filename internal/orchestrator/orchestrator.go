// Package orchestrator wires the kernel store, the job queue, the entity
// collections and the embedding pipeline into the operations hosts call:
// model switches, embedding runs, stop/resume, reimport and refresh.
// Operations go through the queue and execute one at a time in priority
// order; only Stop acts from the side, since the queue worker may be busy
// with the run being stopped.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"semlink/internal/entity"
	"semlink/internal/jobqueue"
	"semlink/internal/kernel"
	"semlink/internal/logging"
	"semlink/internal/pipeline"
	"semlink/internal/provider"
	"semlink/internal/search"
)

// Job priorities. Lower runs sooner; a model switch overtakes pending runs.
const (
	PriorityModelSwitch = 10
	PriorityResume      = 20
	PriorityReimport    = 30
	PriorityRun         = 40
	PriorityRefresh     = 50
)

// Job keys double as dedup identities: racing callers share one ticket.
const (
	keyModelSwitch = "model-switch"
	keyRun         = "run"
	keyResume      = "resume"
	keyReimport    = "reimport"
	keyRefresh     = "refresh"
)

var (
	// ErrNoModel rejects operations that need an installed model.
	ErrNoModel = errors.New("orchestrator: no model installed")

	// ErrStopTimeout reports a stop that could not be confirmed in time.
	ErrStopTimeout = errors.New("orchestrator: stop not confirmed before timeout")

	// ErrUnknownEntity rejects lookups for keys in neither collection.
	ErrUnknownEntity = errors.New("orchestrator: unknown entity key")
)

// DefaultStopTimeout bounds how long a stop waits for the in-flight batch.
const DefaultStopTimeout = 30 * time.Second

const stopPollInterval = 25 * time.Millisecond

// Options configures an Orchestrator.
type Options struct {
	// MinChars gates which entities are worth embedding.
	MinChars int

	// BatchSize, MaxRetries, SaveInterval and HaltOnError are forwarded to
	// the pipeline; zero values take the pipeline defaults.
	BatchSize    int
	MaxRetries   int
	SaveInterval int
	HaltOnError  bool

	// Save is the idempotent persistence checkpoint invoked by the
	// pipeline and after state-changing operations. Optional.
	Save func(ctx context.Context) error

	// Ingest re-reads content into the collections. Invoked by reimport
	// and refresh before queueing work. Optional.
	Ingest func(ctx context.Context) error

	// Sleep overrides the pipeline's backoff sleep in tests.
	Sleep pipeline.SleepFunc
}

// Orchestrator owns the serialized operations over one pair of collections.
type Orchestrator struct {
	store   *kernel.Store
	queue   *jobqueue.Queue
	sources *entity.Collection
	blocks  *entity.Collection
	opts    Options

	mu      sync.Mutex
	adapter provider.Adapter
	proc    *pipeline.Processor
	model   *entity.Model

	runSeq      atomic.Int64
	activeRunID atomic.Int64

	stopFlight singleflight.Group
}

// New creates an orchestrator over the given store, queue and collections.
func New(store *kernel.Store, queue *jobqueue.Queue, sources, blocks *entity.Collection, opts Options) *Orchestrator {
	return &Orchestrator{
		store:   store,
		queue:   queue,
		sources: sources,
		blocks:  blocks,
		opts:    opts,
	}
}

// Boot moves the kernel out of booting once collaborators are constructed.
func (o *Orchestrator) Boot() {
	o.store.Dispatch(kernel.Event{Type: kernel.EventCoreReady})
}

// Model returns the active model descriptor, or false if none is installed.
func (o *Orchestrator) Model() (entity.Model, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.model == nil {
		return entity.Model{}, false
	}
	return *o.model, true
}

// SwitchModel loads the configured adapter and installs it as the active
// model. If the new model has the same key as the previous one but a
// different fingerprint, every entity is force-marked stale so the old
// vectors cannot masquerade as fresh.
func (o *Orchestrator) SwitchModel(cfg provider.Config) *jobqueue.Ticket {
	return o.queue.Enqueue(jobqueue.Job{
		Type:     "model_switch",
		Key:      keyModelSwitch,
		Priority: PriorityModelSwitch,
		Run: func(ctx context.Context) (interface{}, error) {
			return o.doSwitchModel(ctx, cfg)
		},
	})
}

func (o *Orchestrator) doSwitchModel(ctx context.Context, cfg provider.Config) (interface{}, error) {
	o.store.Dispatch(kernel.Event{Type: kernel.EventModelSwitchRequested})

	adapter, err := provider.New(cfg)
	if err == nil {
		if hc, ok := adapter.(provider.HealthChecker); ok {
			err = hc.HealthCheck(ctx)
		}
	}
	if err != nil {
		o.store.Dispatch(kernel.Event{
			Type: kernel.EventModelSwitchFailed,
			Err:  &kernel.ErrorInfo{Code: kernel.CodeModelSwitchFailed, Message: err.Error()},
		})
		return nil, err
	}

	next := entity.Model{
		Adapter:     adapter.Name(),
		ModelKey:    adapter.ModelKey(),
		Host:        cfg.Host,
		Dims:        adapter.Dims(),
		Fingerprint: fmt.Sprintf("%s:%s:%d", adapter.Name(), adapter.ModelKey(), adapter.Dims()),
	}

	o.mu.Lock()
	prev := o.model
	o.adapter = adapter
	o.proc = pipeline.New(adapter)
	o.model = &next
	o.mu.Unlock()

	// Same storage key, different model identity: the stored vectors are
	// unusable and must not pass the freshness check.
	if prev != nil && prev.ModelKey == next.ModelKey && !prev.Same(next) {
		marked := o.sources.MarkAllStale(next.ModelKey) + o.blocks.MarkAllStale(next.ModelKey)
		logging.Kernel("model identity changed under key %s: marked %d entities stale", next.ModelKey, marked)
	}

	o.store.Dispatch(kernel.Event{Type: kernel.EventModelSwitchSucceeded, Model: &next})
	o.publishQueueSnapshot()
	o.save(ctx)
	return next, nil
}

// RunEmbed queues all stale embeddable entities and runs the pipeline over
// them. Callers racing to start a run share the same ticket. The ticket
// value is the run's pipeline.Stats.
func (o *Orchestrator) RunEmbed(reason string) *jobqueue.Ticket {
	return o.queue.Enqueue(jobqueue.Job{
		Type:     "run",
		Key:      keyRun,
		Priority: PriorityRun,
		Run: func(ctx context.Context) (interface{}, error) {
			return o.doRun(ctx, reason)
		},
	})
}

func (o *Orchestrator) doRun(ctx context.Context, reason string) (interface{}, error) {
	o.mu.Lock()
	proc := o.proc
	model := o.model
	o.mu.Unlock()
	if model == nil || proc == nil {
		return nil, ErrNoModel
	}

	// A stop that landed while this run was still queued wins: the run
	// must not start, and its leftovers wait for an explicit resume.
	state := o.store.GetState()
	if state.Flags.StopRequested || state.Phase == kernel.PhasePaused {
		if state.Flags.StopRequested {
			o.store.Dispatch(kernel.Event{Type: kernel.EventStopCompleted})
		}
		o.publishQueueSnapshot()
		logging.Kernel("run %q refused: stopped before start", reason)
		return pipeline.Stats{}, nil
	}
	if proc.IsActive() {
		// Never announce a run the pipeline will refuse.
		return pipeline.Stats{}, pipeline.ErrAlreadyProcessing
	}
	proc.ClearHalt()

	var sourceTotal, blockTotal int
	for _, e := range o.sources.Stale(*model) {
		if e.QueueEmbed(o.opts.MinChars) {
			sourceTotal++
		}
	}
	for _, e := range o.blocks.Stale(*model) {
		if e.QueueEmbed(o.opts.MinChars) {
			blockTotal++
		}
	}
	// Entities queued out of band (e.g. by the watcher) count too.
	entities := append(o.sources.All(), o.blocks.All()...)
	total := 0
	for _, e := range entities {
		if e.QueuedForEmbedding {
			total++
		}
	}

	runID := o.runSeq.Add(1)
	o.activeRunID.Store(runID)
	o.store.Dispatch(kernel.Event{Type: kernel.EventRunStarted, Run: &kernel.Run{
		RunID:       runID,
		Reason:      reason,
		Total:       total,
		SourceTotal: sourceTotal,
		BlockTotal:  blockTotal,
		StartedAt:   time.Now(),
	}})

	stats, err := proc.Process(ctx, entities, pipeline.Options{
		Model:        *model,
		BatchSize:    o.opts.BatchSize,
		MaxRetries:   o.opts.MaxRetries,
		SaveInterval: o.opts.SaveInterval,
		HaltOnError:  o.opts.HaltOnError,
		Sleep:        o.opts.Sleep,
		OnSave:       o.opts.Save,
		OnProgress: func(processed, total int, current *entity.Entity) {
			if o.activeRunID.Load() != runID {
				return
			}
			progress := kernel.Progress{Current: processed, Total: total}
			if current != nil {
				progress.CurrentEntityKey = current.Key
				progress.CurrentSourcePath = current.SourcePath()
			}
			o.store.Dispatch(kernel.Event{Type: kernel.EventRunProgress, Progress: &progress})
		},
	})

	// A stop that timed out has already invalidated this run; its late
	// completion must not disturb the kernel.
	if !o.activeRunID.CompareAndSwap(runID, 0) {
		logging.Kernel("run %d completed after invalidation; result discarded", runID)
		return stats, err
	}

	if errors.Is(err, pipeline.ErrAlreadyProcessing) {
		// Not a run failure: the pipeline was busy, retry later. The
		// announced run never started, so retire it without recording one.
		o.store.Dispatch(kernel.Event{Type: kernel.EventRunFinished})
		return stats, err
	}
	if err != nil {
		o.store.Dispatch(kernel.Event{
			Type: kernel.EventRunFailed,
			Err:  &kernel.ErrorInfo{Code: classifyRunError(err), Message: err.Error()},
		})
	} else {
		o.store.Dispatch(kernel.Event{Type: kernel.EventRunFinished})
	}
	o.publishQueueSnapshot()
	return stats, err
}

func classifyRunError(err error) string {
	if errors.Is(err, pipeline.ErrAdapterFailure) {
		return kernel.CodeAdapterFailure
	}
	return kernel.CodeRunFailed
}

// Stop requests a cooperative stop of the in-flight run and blocks until
// it is confirmed stopped (or the timeout elapsed, which is fatal).
// timeout <= 0 means DefaultStopTimeout. Stops bypass the job queue: the
// queue worker may be occupied by the very run being stopped, so the
// confirmation has to wait it out from the side. Concurrent callers share
// a single confirmation.
//
// The in-flight batch is never aborted mid-flight: the pipeline parks at
// the next batch boundary, so completed vectors are retained.
func (o *Orchestrator) Stop(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	_, err, _ := o.stopFlight.Do("stop", func() (interface{}, error) {
		o.store.Dispatch(kernel.Event{Type: kernel.EventStopRequested})
		o.mu.Lock()
		proc := o.proc
		o.mu.Unlock()
		if proc != nil {
			proc.Halt()
		}
		return nil, o.confirmStop(ctx, timeout)
	})
	return err
}

// confirmStop waits for the stopped run to retire, polling the kernel
// until its terminal event lands or the timeout elapses. The kernel's run
// record, not raw pipeline activity, is the authority: the processor is
// inactive both before a queued run starts and in the gap between the
// pipeline returning and the terminal event being dispatched, and
// confirming in either window would let the "stopped" run execute or
// land idle afterwards.
func (o *Orchestrator) confirmStop(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for o.store.GetState().Run != nil {
		if time.Now().After(deadline) {
			o.activeRunID.Store(-1)
			o.store.Dispatch(kernel.Event{
				Type: kernel.EventStopTimeout,
				Err:  &kernel.ErrorInfo{Code: kernel.CodeStopTimeout, Message: fmt.Sprintf("run still active after %v", timeout)},
			})
			return ErrStopTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(stopPollInterval):
		}
	}
	o.store.Dispatch(kernel.Event{Type: kernel.EventStopCompleted})
	o.publishQueueSnapshot()
	return nil
}

// Resume leaves the paused phase and starts a new run picking up the
// remaining stale entities.
func (o *Orchestrator) Resume() *jobqueue.Ticket {
	return o.queue.Enqueue(jobqueue.Job{
		Type:     "resume",
		Key:      keyResume,
		Priority: PriorityResume,
		Run: func(ctx context.Context) (interface{}, error) {
			o.store.Dispatch(kernel.Event{Type: kernel.EventResumeRequested})
			return o.doRun(ctx, "resume")
		},
	})
}

// Reimport re-ingests all content, force-marks every entity stale for the
// active model and re-embeds everything.
func (o *Orchestrator) Reimport() *jobqueue.Ticket {
	return o.queue.Enqueue(jobqueue.Job{
		Type:     "reimport",
		Key:      keyReimport,
		Priority: PriorityReimport,
		Run: func(ctx context.Context) (interface{}, error) {
			o.mu.Lock()
			model := o.model
			o.mu.Unlock()
			if model == nil {
				return nil, ErrNoModel
			}
			if err := o.ingest(ctx); err != nil {
				return nil, err
			}
			marked := o.sources.MarkAllStale(model.ModelKey) + o.blocks.MarkAllStale(model.ModelKey)
			logging.Kernel("reimport: marked %d entities stale", marked)
			return o.doRun(ctx, "reimport")
		},
	})
}

// Refresh re-ingests content and embeds whatever became stale, without
// forcing entities whose vectors are still fresh.
func (o *Orchestrator) Refresh() *jobqueue.Ticket {
	return o.queue.Enqueue(jobqueue.Job{
		Type:     "refresh",
		Key:      keyRefresh,
		Priority: PriorityRefresh,
		Run: func(ctx context.Context) (interface{}, error) {
			if err := o.ingest(ctx); err != nil {
				return nil, err
			}
			o.publishQueueSnapshot()
			return o.doRun(ctx, "refresh")
		},
	})
}

// Connections finds the merged nearest-neighbor list for the entity with
// the given key, looked up in either collection.
func (o *Orchestrator) Connections(key string, opts search.ConnectionOptions) ([]search.Result, error) {
	o.mu.Lock()
	model := o.model
	o.mu.Unlock()
	if model == nil {
		return nil, ErrNoModel
	}
	ref := o.sources.Get(key)
	if ref == nil {
		ref = o.blocks.Get(key)
	}
	if ref == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, key)
	}
	return search.FindConnections(ref, o.sources.All(), o.blocks.All(), *model, opts)
}

// EmbedQuery embeds ad-hoc query text with the active adapter. Read-only
// with respect to kernel state, so it bypasses the queue.
func (o *Orchestrator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	o.mu.Lock()
	adapter := o.adapter
	o.mu.Unlock()
	if adapter == nil {
		return nil, ErrNoModel
	}
	results, err := adapter.EmbedBatch(ctx, []provider.Input{{Text: text, Key: "query"}})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || results[0].Err != nil || len(results[0].Vector) == 0 {
		return nil, fmt.Errorf("query embedding failed")
	}
	return results[0].Vector, nil
}

// Nearest runs a raw vector query over both collections.
func (o *Orchestrator) Nearest(query []float32, f search.Filter) ([]search.Result, error) {
	o.mu.Lock()
	model := o.model
	o.mu.Unlock()
	if model == nil {
		return nil, ErrNoModel
	}
	entities := append(o.sources.All(), o.blocks.All()...)
	if len(query) == 0 {
		return nil, search.ErrInvalidInput
	}
	return search.FindNearest(query, entities, *model, f), nil
}

// publishQueueSnapshot recomputes the staleness counters and dispatches
// them to the kernel.
func (o *Orchestrator) publishQueueSnapshot() {
	o.mu.Lock()
	model := o.model
	o.mu.Unlock()
	if model == nil {
		return
	}
	snap := kernel.ComputeQueueSnapshot(
		[]*entity.Collection{o.sources, o.blocks}, *model, o.opts.MinChars, o.queue.Size())
	o.store.Dispatch(kernel.Event{Type: kernel.EventQueueUpdated, Queue: &snap})
}

func (o *Orchestrator) ingest(ctx context.Context) error {
	if o.opts.Ingest == nil {
		return nil
	}
	return o.opts.Ingest(ctx)
}

func (o *Orchestrator) save(ctx context.Context) {
	if o.opts.Save == nil {
		return
	}
	if err := o.opts.Save(ctx); err != nil {
		logging.Get(logging.CategoryStore).Error("checkpoint save failed: %v", err)
	}
}
