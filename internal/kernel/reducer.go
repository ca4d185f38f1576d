package kernel

import "time"

// Reduce applies an event to a state and returns the next state. Pure:
// no side effects, no mutation of prev's nested values. Unrecognized
// events return prev unchanged.
func Reduce(prev State, ev Event) State {
	next := prev

	switch ev.Type {
	case EventCoreReady:
		if prev.Phase == PhaseBooting {
			next.Phase = PhaseIdle
		}

	case EventModelSwitchRequested:
		next.Phase = PhaseLoadingModel
		next.Flags.StopRequested = false
		next.LastError = nil

	case EventModelSwitchSucceeded:
		next.Phase = PhaseIdle
		next.Model = ev.Model
		next.Run = nil

	case EventModelSwitchFailed:
		next.Phase = PhaseError
		next.LastError = errInfo(ev.Err, CodeModelSwitchFailed)

	case EventRunStarted:
		next.Phase = PhaseRunning
		next.Run = cloneRun(ev.Run)

	case EventRunProgress:
		if prev.Run == nil || ev.Progress == nil {
			return prev
		}
		run := *prev.Run
		run.Current = ev.Progress.Current
		if ev.Progress.Total > 0 {
			run.Total = ev.Progress.Total
		}
		if ev.Progress.CurrentEntityKey != "" {
			run.CurrentEntityKey = ev.Progress.CurrentEntityKey
			run.CurrentSourcePath = ev.Progress.CurrentSourcePath
		}
		next.Run = &run

	case EventResumeRequested:
		if prev.Phase != PhasePaused {
			return prev
		}
		next.Phase = PhaseIdle
		next.Flags.StopRequested = false

	case EventStopRequested:
		next.Flags.StopRequested = true
		if prev.Phase == PhaseRunning {
			next.Phase = PhaseStopping
		}

	case EventStopCompleted:
		next.Phase = PhasePaused
		next.Run = nil
		next.Flags.StopRequested = false

	case EventStopTimeout:
		// Fatal: the run could not be confirmed stopped.
		next.Phase = PhaseError
		next.LastError = errInfo(ev.Err, CodeStopTimeout)

	case EventRunFinished:
		next.Run = nil
		if prev.Flags.StopRequested {
			// A stop that raced with natural completion still lands in
			// paused, not idle.
			next.Phase = PhasePaused
			next.Flags.StopRequested = false
		} else {
			next.Phase = PhaseIdle
		}

	case EventRunFailed:
		next.Run = nil
		if prev.Flags.StopRequested {
			// A failure caused by a user-requested stop is not a fault.
			next.Phase = PhasePaused
			next.Flags.StopRequested = false
		} else {
			next.Phase = PhaseError
			next.LastError = errInfo(ev.Err, CodeRunFailed)
		}

	case EventQueueUpdated:
		if ev.Queue == nil {
			return prev
		}
		next.Queue = *ev.Queue

	default:
		return prev
	}

	return next
}

func cloneRun(r *Run) *Run {
	if r == nil {
		return nil
	}
	run := *r
	return &run
}

func errInfo(err *ErrorInfo, defaultCode string) *ErrorInfo {
	info := ErrorInfo{Code: defaultCode, At: time.Now()}
	if err != nil {
		info = *err
		if info.Code == "" {
			info.Code = defaultCode
		}
		if info.At.IsZero() {
			info.At = time.Now()
		}
	}
	return &info
}
