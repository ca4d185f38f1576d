// Package kernel holds the embedding run/model lifecycle state machine: a
// single state value mutated only through a pure reducer, with an event bus
// for observers. Side effects (logging, notices, persistence) belong to
// subscribers, never to the reducer.
package kernel

import (
	"time"

	"semlink/internal/entity"
)

// Phase is the kernel lifecycle phase.
type Phase string

const (
	PhaseBooting      Phase = "booting"
	PhaseLoadingModel Phase = "loading_model"
	PhaseIdle         Phase = "idle"
	PhaseRunning      Phase = "running"
	PhaseStopping     Phase = "stopping"
	PhasePaused       Phase = "paused"
	PhaseError        Phase = "error"
)

// Machine-readable error codes recorded on LastError.
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeAdapterFailure    = "ADAPTER_FAILURE"
	CodeAlreadyProcessing = "ALREADY_PROCESSING"
	CodeStopTimeout       = "STOP_TIMEOUT"
	CodeModelSwitchFailed = "MODEL_SWITCH_FAILED"
	CodeRunFailed         = "RUN_FAILED"
)

// Run describes an active embedding run.
type Run struct {
	RunID             int64
	Reason            string
	Current           int
	Total             int
	SourceTotal       int
	BlockTotal        int
	StartedAt         time.Time
	CurrentEntityKey  string
	CurrentSourcePath string
}

// Progress patches the active run's counters.
type Progress struct {
	Current           int
	Total             int
	CurrentEntityKey  string
	CurrentSourcePath string
}

// QueueSnapshot carries the derived queue/staleness counters.
type QueueSnapshot struct {
	PendingJobs          int
	StaleTotal           int
	StaleEmbeddableTotal int
	QueuedTotal          int
}

// ErrorInfo is the machine-readable record of the last failure.
type ErrorInfo struct {
	Code    string
	Message string
	At      time.Time
	Context string
}

// Flags holds transient control bits.
type Flags struct {
	StopRequested bool
}

// State is the full kernel state. It is a value; the store hands out
// copies and subscribers must treat nested pointers as read-only.
type State struct {
	Phase     Phase
	Model     *entity.Model
	Run       *Run
	Queue     QueueSnapshot
	Flags     Flags
	LastError *ErrorInfo
}

// NewState returns the initial booting state.
func NewState() State {
	return State{Phase: PhaseBooting}
}

// EventType enumerates kernel events.
type EventType string

const (
	EventCoreReady            EventType = "CORE_READY"
	EventModelSwitchRequested EventType = "MODEL_SWITCH_REQUESTED"
	EventModelSwitchSucceeded EventType = "MODEL_SWITCH_SUCCEEDED"
	EventModelSwitchFailed    EventType = "MODEL_SWITCH_FAILED"
	EventRunStarted           EventType = "RUN_STARTED"
	EventRunProgress          EventType = "RUN_PROGRESS"
	EventRunFinished          EventType = "RUN_FINISHED"
	EventRunFailed            EventType = "RUN_FAILED"
	EventResumeRequested      EventType = "RESUME_REQUESTED"
	EventStopRequested        EventType = "STOP_REQUESTED"
	EventStopCompleted        EventType = "STOP_COMPLETED"
	EventStopTimeout          EventType = "STOP_TIMEOUT"
	EventQueueUpdated         EventType = "QUEUE_UPDATED"
)

// Event is a kernel event with an optional payload per type.
type Event struct {
	Type     EventType
	Model    *entity.Model
	Run      *Run
	Progress *Progress
	Err      *ErrorInfo
	Queue    *QueueSnapshot
}
