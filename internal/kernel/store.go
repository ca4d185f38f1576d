package kernel

import (
	"sort"
	"sync"

	"semlink/internal/logging"
)

// Listener observes state transitions. It receives the new state, the
// previous state and the event that caused the transition.
type Listener func(state, prev State, ev Event)

// Store holds the kernel state and applies events through the reducer.
// Constructed once per process/session and passed by reference to all
// collaborators; there are no ambient globals.
type Store struct {
	mu      sync.Mutex
	state   State
	subs    map[int]Listener
	nextSub int
}

// NewStore creates a store in the initial booting state.
func NewStore() *Store {
	return &Store{state: NewState(), subs: make(map[int]Listener)}
}

// GetState returns the current state.
func (s *Store) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies the event and notifies subscribers in subscription
// order. Events are applied in the exact order dispatched; since all
// kernel-mutating work is serialized by the job queue, subscribers always
// observe a monotonically consistent state sequence.
func (s *Store) Dispatch(ev Event) State {
	s.mu.Lock()
	prev := s.state
	next := Reduce(prev, ev)
	s.state = next

	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.subs[id])
	}
	s.mu.Unlock()

	if prev.Phase != next.Phase {
		logging.Kernel("phase %s -> %s (%s)", prev.Phase, next.Phase, ev.Type)
	} else {
		logging.KernelDebug("event %s (phase %s)", ev.Type, next.Phase)
	}

	for _, fn := range listeners {
		fn(next, prev, ev)
	}
	return next
}

// Subscribe registers a listener and returns its unsubscribe function.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
