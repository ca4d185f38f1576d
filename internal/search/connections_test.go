package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semlink/internal/entity"
)

func TestFindConnections_BestRepresentativePerSource(t *testing.T) {
	ref := embedded("ref.md", []float32{1, 0, 0})

	sources := []*entity.Entity{
		embedded("alpha.md", []float32{0.8, 0.2, 0}),
		embedded("beta.md", []float32{0.2, 0.8, 0}),
	}
	blocks := []*entity.Entity{
		// Better than its own document: must replace alpha.md in the list.
		embedded("alpha.md#Intro", []float32{0.95, 0.05, 0}),
		embedded("beta.md#Detail", []float32{0.1, 0.9, 0}),
	}

	results, err := FindConnections(ref, sources, blocks, model3, DefaultConnectionOptions())
	require.NoError(t, err)

	require.Len(t, results, 2, "one representative per source path")
	assert.Equal(t, "alpha.md#Intro", results[0].Key)
	assert.Equal(t, "beta.md", results[1].Key)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestFindConnections_ExcludeSameSource(t *testing.T) {
	ref := embedded("ref.md", []float32{1, 0, 0})
	blocks := []*entity.Entity{
		embedded("ref.md#Self", []float32{1, 0, 0}),
		embedded("other.md#B", []float32{0.9, 0.1, 0}),
	}

	results, err := FindConnections(ref, nil, blocks, model3, DefaultConnectionOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"other.md#B"}, keys(results))

	// With the exclusion disabled the own-source block is eligible again.
	opts := DefaultConnectionOptions()
	opts.ExcludeSameSource = false
	results, err = FindConnections(ref, nil, blocks, model3, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"ref.md#Self", "other.md#B"}, keys(results))
}

func TestFindConnections_LimitTruncates(t *testing.T) {
	ref := embedded("ref.md", []float32{1, 0, 0})
	var sources []*entity.Entity
	for i := 0; i < 10; i++ {
		sources = append(sources, embedded(
			string(rune('a'+i))+".md",
			[]float32{1, float32(i) * 0.01, 0},
		))
	}

	opts := ConnectionOptions{Limit: 3, ExcludeSameSource: true}
	results, err := FindConnections(ref, sources, nil, model3, opts)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestFindConnections_RefWithoutVector(t *testing.T) {
	ref := entity.New("bare.md")
	_, err := FindConnections(ref, nil, nil, model3, DefaultConnectionOptions())
	assert.ErrorIs(t, err, ErrInvalidInput)
}
