package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testModel = Model{Adapter: "ollama", ModelKey: "embeddinggemma", Dims: 3}

func TestIsUnembedded_EmptyEmbeddings(t *testing.T) {
	e := New("notes/a.md")
	e.LastRead = Fingerprint{Hash: "h1"}

	assert.True(t, e.IsUnembedded(testModel), "entity with no vector must be stale")
}

func TestIsUnembedded_FreshAfterRecord(t *testing.T) {
	e := New("notes/a.md")
	e.Text = "some content"
	e.LastRead = Fingerprint{Hash: "h1", Size: 12}

	e.RecordEmbedding(testModel, []float32{1, 0, 0}, 4)

	assert.False(t, e.IsUnembedded(testModel))
	assert.False(t, e.QueuedForEmbedding)
	assert.True(t, e.QueuedForSave)
	assert.Equal(t, "h1", e.EmbeddingMeta[testModel.ModelKey].Hash)
}

func TestIsUnembedded_DimsMismatch(t *testing.T) {
	e := New("notes/a.md")
	e.LastRead = Fingerprint{Hash: "h1"}
	e.RecordEmbedding(testModel, []float32{1, 0, 0}, 0)

	wider := Model{Adapter: "ollama", ModelKey: "embeddinggemma", Dims: 4}
	assert.True(t, e.IsUnembedded(wider), "dims mismatch must read as stale")
}

func TestIsUnembedded_HashDrift(t *testing.T) {
	e := New("notes/a.md")
	e.LastRead = Fingerprint{Hash: "h1"}
	e.RecordEmbedding(testModel, []float32{1, 0, 0}, 0)

	// Content changes after embedding.
	e.LastRead = Fingerprint{Hash: "h2"}
	assert.True(t, e.IsUnembedded(testModel))
}

func TestIsUnembedded_LegacyFingerprintIsNotFreshness(t *testing.T) {
	// A vector present under the active key with a matching legacy
	// LastEmbed hash but no per-model meta entry stays stale. Safe mode:
	// the coarse fingerprint cannot prove the active model produced it.
	e := New("notes/a.md")
	e.LastRead = Fingerprint{Hash: "h1"}
	e.LastEmbed = Fingerprint{Hash: "h1"}
	e.Embeddings[testModel.ModelKey] = Embedding{Vector: []float32{1, 0, 0}}

	assert.True(t, e.IsUnembedded(testModel))
}

func TestMarkStale_ForcesReembed(t *testing.T) {
	e := New("notes/a.md")
	e.LastRead = Fingerprint{Hash: "h1"}
	e.RecordEmbedding(testModel, []float32{1, 0, 0}, 0)
	require.False(t, e.IsUnembedded(testModel))

	e.MarkStale(testModel.ModelKey)
	assert.True(t, e.IsUnembedded(testModel))
	// Vector itself is retained; only the meta hash is invalidated.
	assert.NotEmpty(t, e.Vector(testModel.ModelKey))
}

func TestSetVector_NilClearsOnlyThatModel(t *testing.T) {
	e := New("notes/a.md")
	e.SetVector("model-a", []float32{1, 2}, 0)
	e.SetVector("model-b", []float32{3, 4}, 0)

	e.SetVector("model-a", nil, 0)

	assert.Nil(t, e.Vector("model-a"))
	assert.Equal(t, []float32{3, 4}, e.Vector("model-b"))
	assert.True(t, e.QueuedForSave)
}

func TestQueueEmbed_MinCharsGate(t *testing.T) {
	e := New("notes/a.md")
	e.Text = "short"

	assert.False(t, e.QueueEmbed(100))
	assert.False(t, e.QueuedForEmbedding)

	assert.True(t, e.QueueEmbed(3))
	assert.True(t, e.QueuedForEmbedding)
}

func TestEmbedInput_LazyAndCached(t *testing.T) {
	e := New("notes/a.md")
	calls := 0
	e.SetInputFunc(func() (string, error) {
		calls++
		return "materialized", nil
	})

	for i := 0; i < 3; i++ {
		input, err := e.EmbedInput()
		require.NoError(t, err)
		assert.Equal(t, "materialized", input)
	}
	assert.Equal(t, 1, calls)
}

func TestEmbedInput_NoSource(t *testing.T) {
	e := New("notes/a.md")
	_, err := e.EmbedInput()
	assert.Error(t, err)
}

func TestRemoveEmbeddings(t *testing.T) {
	e := New("notes/a.md")
	e.LastRead = Fingerprint{Hash: "h1"}
	e.RecordEmbedding(testModel, []float32{1, 0, 0}, 0)

	e.RemoveEmbeddings()

	assert.Empty(t, e.Embeddings)
	assert.Empty(t, e.EmbeddingMeta)
	assert.True(t, e.IsUnembedded(testModel))
}

func TestSourcePath(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"notes/a.md", "notes/a.md"},
		{"notes/a.md#Intro", "notes/a.md"},
		{"notes/a.md#Intro#Details", "notes/a.md"},
	}
	for _, tc := range cases {
		e := New(tc.key)
		assert.Equal(t, tc.want, e.SourcePath(), tc.key)
	}
	assert.False(t, New("notes/a.md").IsBlock())
	assert.True(t, New("notes/a.md#Intro").IsBlock())
}

func TestCollection_InsertionOrderAndDelete(t *testing.T) {
	c := NewCollection()
	for _, k := range []string{"c.md", "a.md", "b.md"} {
		c.Put(New(k))
	}

	var keys []string
	for _, e := range c.All() {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"c.md", "a.md", "b.md"}, keys)

	require.True(t, c.Delete("a.md"))
	assert.False(t, c.Delete("a.md"))
	assert.Equal(t, 2, c.Len())
	assert.Nil(t, c.Get("a.md"))
}

func TestCollection_StaleAndMarkAllStale(t *testing.T) {
	c := NewCollection()
	fresh := New("fresh.md")
	fresh.LastRead = Fingerprint{Hash: "h1"}
	fresh.RecordEmbedding(testModel, []float32{1, 0, 0}, 0)
	stale := New("stale.md")
	stale.LastRead = Fingerprint{Hash: "h2"}
	c.Put(fresh)
	c.Put(stale)

	require.Len(t, c.Stale(testModel), 1)

	assert.Equal(t, 2, c.MarkAllStale(testModel.ModelKey))
	assert.Len(t, c.Stale(testModel), 2)
}
