package entity

import "sync"

// Collection is an insertion-ordered set of entities keyed by entity key.
// Iteration order is deterministic (insertion order), which downstream
// search relies on for stable tie-breaking.
type Collection struct {
	mu    sync.RWMutex
	byKey map[string]*Entity
	keys  []string
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{byKey: make(map[string]*Entity)}
}

// Get returns the entity for key, or nil.
func (c *Collection) Get(key string) *Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byKey[key]
}

// Put inserts the entity, or replaces an existing one in place (its
// insertion position is preserved).
func (c *Collection) Put(e *Entity) {
	if e == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byKey[e.Key]; !exists {
		c.keys = append(c.keys, e.Key)
	}
	c.byKey[e.Key] = e
}

// Delete evicts the entity for key. Returns whether anything was removed.
func (c *Collection) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byKey[key]; !exists {
		return false
	}
	delete(c.byKey, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
	return true
}

// All returns the entities in insertion order. The returned slice is a
// fresh copy; the entities themselves are shared.
func (c *Collection) All() []*Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entity, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, c.byKey[k])
	}
	return out
}

// Len returns the number of entities.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

// Stale returns entities that are unembedded for the given model, in
// insertion order.
func (c *Collection) Stale(m Model) []*Entity {
	var out []*Entity
	for _, e := range c.All() {
		if e.IsUnembedded(m) {
			out = append(out, e)
		}
	}
	return out
}

// Queued returns entities currently flagged for embedding.
func (c *Collection) Queued() []*Entity {
	var out []*Entity
	for _, e := range c.All() {
		if e.QueuedForEmbedding {
			out = append(out, e)
		}
	}
	return out
}

// MarkAllStale writes the stale sentinel for the given model key across the
// whole collection. Used when a model switch invalidates every vector.
func (c *Collection) MarkAllStale(modelKey string) int {
	n := 0
	for _, e := range c.All() {
		e.MarkStale(modelKey)
		n++
	}
	return n
}
