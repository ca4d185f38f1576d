package search

import (
	"sort"

	"semlink/internal/entity"
	"semlink/internal/logging"
)

// DefaultConnectionLimit bounds merged connection lists.
const DefaultConnectionLimit = 30

// ConnectionOptions tunes a cross-collection connections query.
type ConnectionOptions struct {
	// Limit bounds the merged result count. <= 0 means DefaultConnectionLimit.
	Limit int
	// ExcludeSameSource drops block candidates that share the reference
	// entity's source path.
	ExcludeSameSource bool
	// MinScore drops candidates below the threshold in both pools.
	MinScore float64
}

// DefaultConnectionOptions returns the standard query settings.
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{Limit: DefaultConnectionLimit, ExcludeSameSource: true}
}

// FindConnections runs nearest-neighbor queries independently against the
// source and block pools, then merges them into one deduplicated ranked
// list. Both pools are over-fetched at twice the limit so deduplication
// cannot starve the final list. Candidates are grouped by source path and
// only the highest-scoring representative per source survives, so a
// document and its own sub-blocks never both occupy result slots.
func FindConnections(ref *entity.Entity, sources, blocks []*entity.Entity, m entity.Model, opts ConnectionOptions) ([]Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultConnectionLimit
	}
	overFetch := 2 * limit

	sourceResults, err := FindNearestToEntity(ref, sources, m, Filter{
		Limit:    overFetch,
		MinScore: opts.MinScore,
	})
	if err != nil {
		return nil, err
	}

	blockFilter := Filter{
		Limit:    overFetch,
		MinScore: opts.MinScore,
	}
	if opts.ExcludeSameSource {
		refSource := ref.SourcePath()
		blockFilter.Predicate = func(e *entity.Entity) bool {
			return e.SourcePath() != refSource
		}
	}
	blockResults, err := FindNearestToEntity(ref, blocks, m, blockFilter)
	if err != nil {
		return nil, err
	}

	// Best representative per source path wins.
	bestBySource := make(map[string]Result)
	order := make([]string, 0, len(sourceResults)+len(blockResults))
	for _, r := range append(sourceResults, blockResults...) {
		source := r.Entity.SourcePath()
		if best, ok := bestBySource[source]; ok {
			if r.Score > best.Score {
				bestBySource[source] = r
			}
			continue
		}
		bestBySource[source] = r
		order = append(order, source)
	}

	merged := make([]Result, 0, len(order))
	for _, source := range order {
		merged = append(merged, bestBySource[source])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}

	logging.SearchDebug("FindConnections: ref=%s merged=%d (sources=%d, blocks=%d)",
		ref.Key, len(merged), len(sourceResults), len(blockResults))
	return merged, nil
}
