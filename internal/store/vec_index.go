//go:build sqlite_vec && cgo

package store

import (
	"context"
	"database/sql"
	"fmt"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"semlink/internal/entity"
	"semlink/internal/logging"
)

func init() {
	// Register sqlite-vec as an auto-loadable extension with the
	// mattn/go-sqlite3 driver.
	vec.Auto()
}

// VecIndexAvailable reports whether this build carries the sqlite-vec
// accelerated index.
const VecIndexAvailable = true

// RebuildVectorIndex repopulates the vec0 table from the collections'
// vectors for the active model. The index lives in a sidecar database next
// to the main store: vec0 tables need the cgo driver, and the sidecar is
// fully derived state that can be rebuilt at any time.
func (s *Store) RebuildVectorIndex(ctx context.Context, m entity.Model, collections ...*entity.Collection) error {
	db, err := sql.Open("sqlite3", s.dbPath+".vec")
	if err != nil {
		return fmt.Errorf("failed to open vector index: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS vec_entities`); err != nil {
		return err
	}
	schema := fmt.Sprintf(`CREATE VIRTUAL TABLE vec_entities USING vec0(
		key TEXT,
		embedding float[%d]
	)`, m.Dims)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create vec0 table: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, `INSERT INTO vec_entities (key, embedding) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	inserted := 0
	for _, c := range collections {
		for _, e := range c.All() {
			if e.IsUnembedded(m) {
				continue
			}
			blob, err := vec.SerializeFloat32(e.Vector(m.ModelKey))
			if err != nil {
				return fmt.Errorf("failed to serialize vector for %s: %w", e.Key, err)
			}
			if _, err := stmt.ExecContext(ctx, e.Key, blob); err != nil {
				return fmt.Errorf("failed to index %s: %w", e.Key, err)
			}
			inserted++
		}
	}
	logging.Store("vector index rebuilt: %d entries", inserted)
	return nil
}

// NearestKeys queries the vec0 index for the k closest keys to query.
func (s *Store) NearestKeys(ctx context.Context, query []float32, k int) ([]string, error) {
	db, err := sql.Open("sqlite3", s.dbPath+".vec")
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	defer db.Close()

	blob, err := vec.SerializeFloat32(query)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT key FROM vec_entities WHERE embedding MATCH ? ORDER BY distance LIMIT ?`, blob, k)
	if err != nil {
		return nil, fmt.Errorf("vector index query failed: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
