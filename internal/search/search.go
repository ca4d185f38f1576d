// Package search answers read-only nearest/furthest-neighbor queries over
// entity collections using cosine similarity, and merges cross-collection
// results into ranked connection lists. All functions are pure: candidates
// are filtered, never mutated.
package search

import (
	"fmt"
	"math"
	"sort"

	"semlink/internal/entity"
	"semlink/internal/logging"
)

// ErrInvalidInput is returned when a query cannot be evaluated at all,
// e.g. a reference entity without a vector. Expected filter conditions
// (missing vectors, dims mismatch, staleness) are skipped silently instead.
var ErrInvalidInput = fmt.Errorf("search: invalid input")

// DefaultLimit bounds result sets when the filter does not set one.
const DefaultLimit = 50

// Filter narrows the candidate set for a search.
type Filter struct {
	// Limit bounds the result count. <= 0 means DefaultLimit.
	Limit int
	// MinScore drops results below the threshold. Nearest only.
	MinScore float64
	// Exclude drops candidates with these exact keys.
	Exclude []string
	// Include, when non-empty, keeps only candidates with these exact keys.
	Include []string
	// KeyStartsWith keeps only candidates whose key has the prefix.
	KeyStartsWith string
	// KeyDoesNotStartWith drops candidates whose key has the prefix.
	KeyDoesNotStartWith string
	// Predicate, when set, must return true for a candidate to be kept.
	Predicate func(*entity.Entity) bool
}

// Result is one scored candidate.
type Result struct {
	Key    string
	Score  float64
	Entity *entity.Entity
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors. Zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}
	var dot, amag, bmag float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		amag += float64(a[i]) * float64(a[i])
		bmag += float64(b[i]) * float64(b[i])
	}
	if amag == 0 || bmag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(amag) * math.Sqrt(bmag)), nil
}

func (f Filter) passes(e *entity.Entity) bool {
	if len(f.Include) > 0 {
		found := false
		for _, k := range f.Include {
			if e.Key == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, k := range f.Exclude {
		if e.Key == k {
			return false
		}
	}
	if f.KeyStartsWith != "" && !hasPrefix(e.Key, f.KeyStartsWith) {
		return false
	}
	if f.KeyDoesNotStartWith != "" && hasPrefix(e.Key, f.KeyDoesNotStartWith) {
		return false
	}
	if f.Predicate != nil && !f.Predicate(e) {
		return false
	}
	return true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// FindNearest scores eligible entities against the query vector and keeps
// the top results. Candidates without a vector for the model, with a
// dimensionality different from the query, or stale for the model are
// skipped silently.
func FindNearest(query []float32, entities []*entity.Entity, m entity.Model, f Filter) []Result {
	timer := logging.StartTimer(logging.CategorySearch, "FindNearest")
	defer timer.Stop()

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	acc := newAccumulator(limit, false)
	for _, e := range entities {
		vec := e.Vector(m.ModelKey)
		if len(vec) == 0 {
			continue
		}
		if len(vec) != len(query) {
			continue
		}
		if e.IsUnembedded(m) {
			continue
		}
		if !f.passes(e) {
			continue
		}
		score, err := CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		if score < f.MinScore {
			continue
		}
		acc.add(Result{Key: e.Key, Score: score, Entity: e})
	}

	results := acc.results
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	logging.SearchDebug("FindNearest: %d results (limit=%d, candidates=%d)", len(results), limit, len(entities))
	return results
}

// FindFurthest is the symmetric counterpart of FindNearest: it keeps the
// lowest-scoring eligible candidates and sorts ascending. MinScore does not
// apply.
func FindFurthest(query []float32, entities []*entity.Entity, m entity.Model, f Filter) []Result {
	timer := logging.StartTimer(logging.CategorySearch, "FindFurthest")
	defer timer.Stop()

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	acc := newAccumulator(limit, true)
	for _, e := range entities {
		vec := e.Vector(m.ModelKey)
		if len(vec) == 0 {
			continue
		}
		if len(vec) != len(query) {
			continue
		}
		if e.IsUnembedded(m) {
			continue
		}
		if !f.passes(e) {
			continue
		}
		score, err := CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		acc.add(Result{Key: e.Key, Score: score, Entity: e})
	}

	results := acc.results
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score < results[j].Score
	})
	return results
}

// FindNearestToEntity searches for neighbors of an existing entity. The
// reference must carry a vector for the model; its own key is excluded
// from the results.
func FindNearestToEntity(ref *entity.Entity, entities []*entity.Entity, m entity.Model, f Filter) ([]Result, error) {
	if ref == nil {
		return nil, fmt.Errorf("%w: nil reference entity", ErrInvalidInput)
	}
	vec := ref.Vector(m.ModelKey)
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: entity %s has no vector for model %s", ErrInvalidInput, ref.Key, m.ModelKey)
	}
	f.Exclude = append(append([]string(nil), f.Exclude...), ref.Key)
	return FindNearest(vec, entities, m, f), nil
}

// accumulator keeps a bounded result set. When full, a better score evicts
// the tracked worst element; equal scores keep the incumbent so earlier
// candidates win ties.
type accumulator struct {
	limit    int
	furthest bool // true: keep lowest scores, evict current max
	results  []Result
	worst    int // index of the evictable element
}

func newAccumulator(limit int, furthest bool) *accumulator {
	return &accumulator{limit: limit, furthest: furthest, results: make([]Result, 0, limit)}
}

func (a *accumulator) better(score, than float64) bool {
	if a.furthest {
		return score < than
	}
	return score > than
}

func (a *accumulator) add(r Result) {
	if len(a.results) < a.limit {
		a.results = append(a.results, r)
		if len(a.results) == 1 || a.better(a.results[a.worst].Score, r.Score) {
			a.worst = len(a.results) - 1
		}
		return
	}
	if !a.better(r.Score, a.results[a.worst].Score) {
		return
	}
	a.results[a.worst] = r
	// Re-scan for the new evictable element.
	a.worst = 0
	for i := 1; i < len(a.results); i++ {
		if a.better(a.results[a.worst].Score, a.results[i].Score) {
			a.worst = i
		}
	}
}
