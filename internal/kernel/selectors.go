package kernel

import "semlink/internal/entity"

// LegacyStatus derives the coarse UI-facing status string older hosts
// expect from the kernel phase.
func LegacyStatus(s State) string {
	switch s.Phase {
	case PhaseBooting:
		return "booting"
	case PhaseLoadingModel:
		return "loading"
	case PhaseIdle:
		return "ready"
	case PhaseRunning:
		return "embedding"
	case PhaseStopping:
		return "stopping"
	case PhasePaused:
		return "paused"
	case PhaseError:
		return "error"
	default:
		return string(s.Phase)
	}
}

// Ready reports whether the kernel can serve embedding work: a model is
// installed and the kernel is neither booting, loading nor errored.
func Ready(s State) bool {
	if s.Model == nil {
		return false
	}
	switch s.Phase {
	case PhaseBooting, PhaseLoadingModel, PhaseError:
		return false
	}
	return true
}

// ComputeQueueSnapshot derives the staleness counters for the collections
// against the active model. PendingJobs is supplied by the caller from the
// job queue.
func ComputeQueueSnapshot(collections []*entity.Collection, m entity.Model, minChars, pendingJobs int) QueueSnapshot {
	snap := QueueSnapshot{PendingJobs: pendingJobs}
	for _, c := range collections {
		for _, e := range c.All() {
			if e.QueuedForEmbedding {
				snap.QueuedTotal++
			}
			if e.IsUnembedded(m) {
				snap.StaleTotal++
				if e.ShouldEmbed(minChars) {
					snap.StaleEmbeddableTotal++
				}
			}
		}
	}
	return snap
}
