// Package jobqueue provides the single-worker priority queue that
// serializes all kernel-mutating operations. Exactly one job executes at a
// time; the single-worker discipline is the concurrency-correctness
// mechanism for kernel state, substituting for locks around it.
package jobqueue

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"

	"semlink/internal/logging"
)

// Job is a unit of serialized work. Key is the job's identity for
// deduplication; Priority orders the pending set (lower runs sooner).
type Job struct {
	Type     string
	Key      string
	Priority int
	Run      func(ctx context.Context) (interface{}, error)
}

// Ticket is the shared future for a job. Callers racing to enqueue the
// same key all hold the same ticket.
type Ticket struct {
	done chan struct{}
	val  interface{}
	err  error
}

// Done is closed when the job has completed (or was rejected).
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the job completes or ctx is cancelled.
func (t *Ticket) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Ticket) resolve(val interface{}, err error) {
	t.val = val
	t.err = err
	close(t.done)
}

// ClearedError rejects pending jobs removed by Clear.
type ClearedError struct {
	Reason string
}

func (e *ClearedError) Error() string {
	return fmt.Sprintf("job cleared from queue: %s", e.Reason)
}

type pendingEntry struct {
	job    Job
	ticket *Ticket
	id     string // correlation id for logs
	seq    int64  // FIFO tie-break within equal priority
}

// Queue is the single-concurrency, deduplicated priority queue.
type Queue struct {
	mu         sync.Mutex
	pending    []*pendingEntry
	byKey      map[string]*Ticket // pending plus in-flight
	seq        int64
	processing bool
	inFlight   bool
	baseCtx    context.Context
}

// New creates an empty queue. Jobs receive ctx as their run context.
func New(ctx context.Context) *Queue {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Queue{byKey: make(map[string]*Ticket), baseCtx: ctx}
}

// Enqueue schedules the job and returns its ticket. If a job with the same
// key is already pending or in flight, the existing ticket is returned and
// nothing new is scheduled.
func (q *Queue) Enqueue(job Job) *Ticket {
	q.mu.Lock()
	if t, ok := q.byKey[job.Key]; ok {
		q.mu.Unlock()
		logging.QueueDebug("dedup hit: key=%s type=%s", job.Key, job.Type)
		return t
	}

	t := &Ticket{done: make(chan struct{})}
	q.byKey[job.Key] = t
	q.seq++
	entry := &pendingEntry{job: job, ticket: t, id: uuid.NewString(), seq: q.seq}
	q.pending = append(q.pending, entry)
	sort.SliceStable(q.pending, func(i, j int) bool {
		if q.pending[i].job.Priority != q.pending[j].job.Priority {
			return q.pending[i].job.Priority < q.pending[j].job.Priority
		}
		return q.pending[i].seq < q.pending[j].seq
	})

	start := !q.processing
	if start {
		q.processing = true
	}
	q.mu.Unlock()

	logging.Queue("enqueued job=%s type=%s key=%s priority=%d", entry.id, job.Type, job.Key, job.Priority)
	if start {
		go q.drain()
	}
	return t
}

// drain runs pending jobs one at a time until the pending set is empty,
// then exits. Enqueue restarts it as needed.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		entry := q.pending[0]
		q.pending = q.pending[1:]
		q.inFlight = true
		q.mu.Unlock()

		val, err := runJob(q.baseCtx, entry.job)

		q.mu.Lock()
		delete(q.byKey, entry.job.Key)
		q.inFlight = false
		q.mu.Unlock()

		if err != nil {
			logging.Queue("job=%s key=%s failed: %v", entry.id, entry.job.Key, err)
		} else {
			logging.QueueDebug("job=%s key=%s completed", entry.id, entry.job.Key)
		}
		// One job's failure never halts the queue; its rejection is
		// isolated to its own ticket.
		entry.ticket.resolve(val, err)

		// Yield between jobs so timers and other goroutines interleave.
		runtime.Gosched()
	}
}

func runJob(ctx context.Context, job Job) (val interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Key, r)
		}
	}()
	if job.Run == nil {
		return nil, fmt.Errorf("job %s has no run function", job.Key)
	}
	return job.Run(ctx)
}

// Size returns the number of pending (not in-flight) jobs.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsRunning reports whether a job is currently executing.
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Clear rejects all pending jobs with a ClearedError carrying reason. The
// in-flight job, if any, is left to finish. Safe to call during teardown.
func (q *Queue) Clear(reason string) {
	q.mu.Lock()
	cleared := q.pending
	q.pending = nil
	for _, entry := range cleared {
		delete(q.byKey, entry.job.Key)
	}
	q.mu.Unlock()

	if len(cleared) > 0 {
		logging.Queue("cleared %d pending job(s): %s", len(cleared), reason)
	}
	for _, entry := range cleared {
		entry.ticket.resolve(nil, &ClearedError{Reason: reason})
	}
}
