//go:build !sqlite_vec || !cgo

package store

import (
	"context"

	"semlink/internal/entity"
)

// VecIndexAvailable reports whether this build carries the sqlite-vec
// accelerated index.
const VecIndexAvailable = false

// RebuildVectorIndex is a no-op without the sqlite_vec build tag.
func (s *Store) RebuildVectorIndex(ctx context.Context, m entity.Model, collections ...*entity.Collection) error {
	return nil
}

// NearestKeys is unavailable without the sqlite_vec build tag.
func (s *Store) NearestKeys(ctx context.Context, query []float32, k int) ([]string, error) {
	return nil, ErrVecIndexUnavailable
}
