package search

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semlink/internal/entity"
)

var model3 = entity.Model{Adapter: "mock", ModelKey: "mock-3d", Dims: 3}

func embedded(key string, vec []float32) *entity.Entity {
	e := entity.New(key)
	e.Text = "content of " + key
	e.LastRead = entity.Fingerprint{Hash: "h-" + key}
	e.RecordEmbedding(entity.Model{Adapter: model3.Adapter, ModelKey: model3.ModelKey, Dims: len(vec)}, vec, 0)
	return e
}

func keys(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Key
	}
	return out
}

func TestFindNearest_RankingAndScores(t *testing.T) {
	// 3 entities; query matches "a" exactly, "b" closely, "c" not at all.
	pool := []*entity.Entity{
		embedded("a", []float32{1, 0, 0}),
		embedded("b", []float32{0.9, 0.1, 0}),
		embedded("c", []float32{0, 1, 0}),
	}

	results := FindNearest([]float32{1, 0, 0}, pool, model3, Filter{Limit: 2})

	require.Len(t, results, 2)
	assert.Equal(t, []string{"a", "b"}, keys(results))
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.InDelta(t, 0.9/math.Sqrt(0.82), results[1].Score, 1e-9)
}

func TestFindNearest_ReturnsMinOfLimitAndEligible(t *testing.T) {
	var pool []*entity.Entity
	for i := 0; i < 20; i++ {
		pool = append(pool, embedded(fmt.Sprintf("e%02d", i), []float32{1, float32(i) / 20, 0}))
	}

	assert.Len(t, FindNearest([]float32{1, 0, 0}, pool, model3, Filter{Limit: 5}), 5)
	assert.Len(t, FindNearest([]float32{1, 0, 0}, pool, model3, Filter{Limit: 100}), 20)
}

func TestFindNearest_TopKBeatsEvicted(t *testing.T) {
	// Every kept result must score at least as high as every excluded one.
	var pool []*entity.Entity
	for i := 0; i < 50; i++ {
		angle := float64(i) / 50 * math.Pi / 2
		pool = append(pool, embedded(fmt.Sprintf("e%02d", i),
			[]float32{float32(math.Cos(angle)), float32(math.Sin(angle)), 0}))
	}

	k := 7
	results := FindNearest([]float32{1, 0, 0}, pool, model3, Filter{Limit: k})
	require.Len(t, results, k)

	kept := make(map[string]bool)
	floor := results[len(results)-1].Score
	for _, r := range results {
		kept[r.Key] = true
	}
	all := FindNearest([]float32{1, 0, 0}, pool, model3, Filter{Limit: len(pool)})
	for _, r := range all {
		if !kept[r.Key] {
			assert.LessOrEqual(t, r.Score, floor)
		}
	}
}

func TestFindNearest_TiesKeepIterationOrder(t *testing.T) {
	// Identical vectors tie exactly; earlier candidates must stay first.
	pool := []*entity.Entity{
		embedded("zeta", []float32{1, 0, 0}),
		embedded("alpha", []float32{1, 0, 0}),
		embedded("mid", []float32{1, 0, 0}),
	}

	results := FindNearest([]float32{1, 0, 0}, pool, model3, Filter{Limit: 3})
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, keys(results))
}

func TestFindNearest_SkipsSilently(t *testing.T) {
	noVec := entity.New("novec")
	noVec.LastRead = entity.Fingerprint{Hash: "h"}

	wrongDims := embedded("wrongdims", []float32{1, 0})

	stale := embedded("stale", []float32{1, 0, 0})
	stale.LastRead = entity.Fingerprint{Hash: "changed"}

	fresh := embedded("fresh", []float32{1, 0, 0})

	pool := []*entity.Entity{noVec, wrongDims, stale, fresh}
	results := FindNearest([]float32{1, 0, 0}, pool, model3, Filter{})

	assert.Equal(t, []string{"fresh"}, keys(results))
	// Read-only contract: skipped candidates are untouched.
	assert.Equal(t, []float32{1, 0}, wrongDims.Vector(model3.ModelKey))
}

func TestFindNearest_FilterFields(t *testing.T) {
	pool := []*entity.Entity{
		embedded("notes/a.md", []float32{1, 0, 0}),
		embedded("notes/b.md", []float32{1, 0, 0}),
		embedded("journal/c.md", []float32{1, 0, 0}),
	}
	q := []float32{1, 0, 0}

	assert.Equal(t, []string{"notes/b.md", "journal/c.md"},
		keys(FindNearest(q, pool, model3, Filter{Exclude: []string{"notes/a.md"}})))
	assert.Equal(t, []string{"notes/b.md"},
		keys(FindNearest(q, pool, model3, Filter{Include: []string{"notes/b.md"}})))
	assert.Equal(t, []string{"notes/a.md", "notes/b.md"},
		keys(FindNearest(q, pool, model3, Filter{KeyStartsWith: "notes/"})))
	assert.Equal(t, []string{"journal/c.md"},
		keys(FindNearest(q, pool, model3, Filter{KeyDoesNotStartWith: "notes/"})))
	assert.Equal(t, []string{"journal/c.md"},
		keys(FindNearest(q, pool, model3, Filter{Predicate: func(e *entity.Entity) bool {
			return e.SourcePath() == "journal/c.md"
		}})))
}

func TestFindNearest_MinScore(t *testing.T) {
	pool := []*entity.Entity{
		embedded("close", []float32{1, 0, 0}),
		embedded("far", []float32{0, 1, 0}),
	}
	results := FindNearest([]float32{1, 0, 0}, pool, model3, Filter{MinScore: 0.5})
	assert.Equal(t, []string{"close"}, keys(results))
}

func TestFindFurthest_AscendingNoMinScore(t *testing.T) {
	pool := []*entity.Entity{
		embedded("close", []float32{1, 0, 0}),
		embedded("mid", []float32{0.5, 0.5, 0}),
		embedded("far", []float32{0, 1, 0}),
	}
	results := FindFurthest([]float32{1, 0, 0}, pool, model3, Filter{Limit: 2})

	require.Len(t, results, 2)
	assert.Equal(t, []string{"far", "mid"}, keys(results))
	assert.LessOrEqual(t, results[0].Score, results[1].Score)
}

func TestFindNearestToEntity(t *testing.T) {
	ref := embedded("ref", []float32{1, 0, 0})
	pool := []*entity.Entity{
		ref,
		embedded("other", []float32{0.9, 0.1, 0}),
	}

	results, err := FindNearestToEntity(ref, pool, model3, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, keys(results), "reference excludes itself")
}

func TestFindNearestToEntity_NoVector(t *testing.T) {
	ref := entity.New("bare")
	_, err := FindNearestToEntity(ref, nil, model3, Filter{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = FindNearestToEntity(nil, nil, model3, Filter{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCosineSimilarity(t *testing.T) {
	got, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0, got, 1e-9)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 0})
	assert.Error(t, err)

	got, err = CosineSimilarity([]float32{0, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.Zero(t, got)
}
