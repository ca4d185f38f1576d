// Package entity models the keyed content units (note sources and
// heading-split blocks) whose embedding vectors the rest of the system
// computes and maintains. An entity carries one vector per embedding model;
// vectors for inactive models are retained as cheap cache for future model
// switches back.
package entity

import (
	"fmt"
	"strings"
	"time"
)

// StaleHash is the sentinel written into a model's meta entry to force an
// entity stale, e.g. during model-switch reconciliation. It can never equal
// a real content hash.
const StaleHash = "__stale__"

// Fingerprint captures content identity at a point in time.
type Fingerprint struct {
	Hash  string `json:"hash"`
	Size  int64  `json:"size,omitempty"`
	Mtime int64  `json:"mtime,omitempty"`
}

// Embedding is one model's stored vector for an entity.
type Embedding struct {
	Vector     []float32 `json:"vec"`
	TokenCount int       `json:"tokens,omitempty"`
}

// Meta is the freshness fingerprint captured at the moment a vector was
// computed for a model. Its Hash is compared against LastRead.Hash to decide
// whether the stored vector still corresponds to current content.
type Meta struct {
	Hash      string `json:"hash"`
	Size      int64  `json:"size,omitempty"`
	Mtime     int64  `json:"mtime,omitempty"`
	Dims      int    `json:"dims,omitempty"`
	Adapter   string `json:"adapter,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// Model is the normalized descriptor of an embedding model. ModelKey is the
// map key under which vectors and meta are stored.
type Model struct {
	Adapter     string `json:"adapter"`
	ModelKey    string `json:"model_key"`
	Host        string `json:"host,omitempty"`
	Dims        int    `json:"dims"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Same reports whether two model descriptors identify the same model.
func (m Model) Same(other Model) bool {
	return m.Adapter == other.Adapter && m.ModelKey == other.ModelKey && m.Dims == other.Dims
}

// InputFunc lazily materializes the text an entity should be embedded with.
// It may fail per-entity (e.g. the source file vanished); such entities are
// skipped, not failed, by the pipeline.
type InputFunc func() (string, error)

// Entity is a keyed content unit with per-model embedding state.
type Entity struct {
	Key string `json:"key"`

	// Embeddings maps model key -> stored vector. Entries for inactive
	// models are never eagerly purged.
	Embeddings map[string]Embedding `json:"embeddings,omitempty"`

	// EmbeddingMeta maps model key -> freshness fingerprint.
	EmbeddingMeta map[string]Meta `json:"embedding_meta,omitempty"`

	// LastRead fingerprints the most recently read content, independent of
	// any model.
	LastRead Fingerprint `json:"last_read"`

	// LastEmbed is the legacy coarse fingerprint. Kept for backward
	// compatibility; never sufficient on its own to prove freshness.
	LastEmbed Fingerprint `json:"last_embed,omitempty"`

	// Text is the current content as last read. Not persisted.
	Text string `json:"-"`

	// QueuedForEmbedding marks the entity for the next embedding run.
	QueuedForEmbedding bool `json:"-"`
	// QueuedForSave marks the entity dirty for the next checkpoint.
	QueuedForSave bool `json:"-"`

	// inputFn overrides the default embed input (Text) when set.
	inputFn    InputFunc
	embedInput *string
}

// New creates an entity with empty embedding state.
func New(key string) *Entity {
	return &Entity{
		Key:           key,
		Embeddings:    make(map[string]Embedding),
		EmbeddingMeta: make(map[string]Meta),
	}
}

// SourcePath returns the owning source path: for block entities the key
// prefix before the first '#', for source entities the key itself.
func (e *Entity) SourcePath() string {
	if i := strings.IndexByte(e.Key, '#'); i >= 0 {
		return e.Key[:i]
	}
	return e.Key
}

// IsBlock reports whether the entity is a sub-document block.
func (e *Entity) IsBlock() bool {
	return strings.IndexByte(e.Key, '#') >= 0
}

// SetInputFunc installs a lazy embed-input materializer and drops any
// cached input.
func (e *Entity) SetInputFunc(fn InputFunc) {
	e.inputFn = fn
	e.embedInput = nil
}

// EmbedInput returns the text to embed, materializing and caching it on
// first use. Entities with neither Text nor an input func yield an error.
func (e *Entity) EmbedInput() (string, error) {
	if e.embedInput != nil {
		return *e.embedInput, nil
	}
	if e.inputFn != nil {
		input, err := e.inputFn()
		if err != nil {
			return "", err
		}
		e.embedInput = &input
		return input, nil
	}
	if e.Text == "" {
		return "", fmt.Errorf("entity %s: no embed input available", e.Key)
	}
	e.embedInput = &e.Text
	return e.Text, nil
}

// ClearEmbedInput drops the cached embed input (e.g. after content changed).
func (e *Entity) ClearEmbedInput() {
	e.embedInput = nil
}

// ShouldEmbed reports whether the entity carries enough content to be worth
// embedding. minChars <= 0 disables the gate.
func (e *Entity) ShouldEmbed(minChars int) bool {
	if minChars <= 0 {
		return len(e.Text) > 0
	}
	return len(e.Text) > minChars
}

// QueueEmbed flags the entity for the next run, but only if it passes the
// minimum-size gate. Returns whether the entity was queued.
func (e *Entity) QueueEmbed(minChars int) bool {
	if !e.ShouldEmbed(minChars) {
		return false
	}
	e.QueuedForEmbedding = true
	return true
}

// Vector returns the stored vector for the given model key, or nil.
func (e *Entity) Vector(modelKey string) []float32 {
	if e.Embeddings == nil {
		return nil
	}
	return e.Embeddings[modelKey].Vector
}

// SetVector stores or clears the vector under the given model key. A non-nil
// write installs the vector, clears QueuedForEmbedding and marks the entity
// for save. A nil write removes only that model's vector entry (other
// models' entries are untouched) and marks the entity for save.
func (e *Entity) SetVector(modelKey string, vec []float32, tokenCount int) {
	if vec == nil {
		if e.Embeddings != nil {
			delete(e.Embeddings, modelKey)
		}
		e.QueuedForSave = true
		return
	}
	if e.Embeddings == nil {
		e.Embeddings = make(map[string]Embedding)
	}
	e.Embeddings[modelKey] = Embedding{Vector: vec, TokenCount: tokenCount}
	e.QueuedForEmbedding = false
	e.QueuedForSave = true
}

// RecordEmbedding installs a freshly computed vector for the model and
// captures the freshness fingerprint from LastRead. This is the write path
// the pipeline uses after a successful batch.
func (e *Entity) RecordEmbedding(m Model, vec []float32, tokenCount int) {
	e.SetVector(m.ModelKey, vec, tokenCount)
	if e.EmbeddingMeta == nil {
		e.EmbeddingMeta = make(map[string]Meta)
	}
	e.EmbeddingMeta[m.ModelKey] = Meta{
		Hash:      e.LastRead.Hash,
		Size:      e.LastRead.Size,
		Mtime:     e.LastRead.Mtime,
		Dims:      len(vec),
		Adapter:   m.Adapter,
		UpdatedAt: time.Now().UnixMilli(),
	}
	e.LastEmbed = e.LastRead
}

// MarkStale forces the entity stale for the given model key by writing the
// sentinel hash into its meta entry. Used by model-switch reconciliation.
func (e *Entity) MarkStale(modelKey string) {
	if e.EmbeddingMeta == nil {
		e.EmbeddingMeta = make(map[string]Meta)
	}
	meta := e.EmbeddingMeta[modelKey]
	meta.Hash = StaleHash
	e.EmbeddingMeta[modelKey] = meta
	e.QueuedForSave = true
}

// IsUnembedded evaluates the safe-freshness invariant for the active model.
// The entity is stale unless it has a non-empty vector under the model key,
// the vector's dimensionality matches the model's declared dimensionality,
// and the meta hash equals LastRead.Hash.
//
// A legacy entry whose LastEmbed.Hash matches LastRead.Hash but has no
// per-model meta entry is still stale: after a silent model switch the
// coarse fingerprint can claim freshness for a vector the active model
// never produced. Pure; safe in hot filtering loops.
func (e *Entity) IsUnembedded(m Model) bool {
	vec := e.Vector(m.ModelKey)
	if len(vec) == 0 {
		return true
	}
	if m.Dims > 0 && len(vec) != m.Dims {
		return true
	}
	meta, ok := e.EmbeddingMeta[m.ModelKey]
	if !ok {
		return true
	}
	return meta.Hash == "" || meta.Hash != e.LastRead.Hash
}

// RemoveEmbeddings clears all models' vectors and meta. Full reset; not a
// general staleness mechanism.
func (e *Entity) RemoveEmbeddings() {
	e.Embeddings = make(map[string]Embedding)
	e.EmbeddingMeta = make(map[string]Meta)
	e.LastEmbed = Fingerprint{}
	e.QueuedForSave = true
}
