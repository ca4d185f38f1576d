// Package store persists entity embedding state in SQLite. Vectors, meta
// and fingerprints survive restarts; content text does not and is re-read
// at ingest. Checkpoints are idempotent: only dirty entities are written,
// and a checkpoint with nothing dirty is a no-op.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"semlink/internal/entity"
	"semlink/internal/logging"
)

const (
	kindSource = "source"
	kindBlock  = "block"
)

// ErrVecIndexUnavailable is returned by vector index operations in builds
// without the sqlite_vec tag. Callers fall back to the in-memory scan.
var ErrVecIndexUnavailable = errors.New("store: vector index not compiled in (build with -tags sqlite_vec)")

// Store is the SQLite-backed persistence layer for the collections.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// New opens (or creates) the database at path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("opened %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		key        TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		data       TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// SaveSnapshot writes all dirty entities and removes rows whose keys are no
// longer present in either collection. Safe to call repeatedly; entities
// are only re-written while flagged dirty.
func (s *Store) SaveSnapshot(ctx context.Context, sources, blocks *entity.Collection) (saved, pruned int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.existingKeys(ctx, tx)
	if err != nil {
		return 0, 0, err
	}

	var written []*entity.Entity
	upsert := func(kind string, c *entity.Collection) error {
		for _, e := range c.All() {
			delete(existing, e.Key)
			if !e.QueuedForSave {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal %s: %w", e.Key, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO entities (key, kind, data, updated_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT(key) DO UPDATE SET kind=excluded.kind, data=excluded.data, updated_at=excluded.updated_at`,
				e.Key, kind, string(data), time.Now().UTC()); err != nil {
				return fmt.Errorf("failed to upsert %s: %w", e.Key, err)
			}
			written = append(written, e)
		}
		return nil
	}
	if err := upsert(kindSource, sources); err != nil {
		return 0, 0, err
	}
	if err := upsert(kindBlock, blocks); err != nil {
		return 0, 0, err
	}

	for key := range existing {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE key = ?`, key); err != nil {
			return 0, 0, fmt.Errorf("failed to prune %s: %w", key, err)
		}
		pruned++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit: %w", err)
	}

	// Dirty flags clear only after the commit landed.
	for _, e := range written {
		e.QueuedForSave = false
	}
	saved = len(written)
	if saved > 0 || pruned > 0 {
		logging.Store("checkpoint: saved=%d pruned=%d", saved, pruned)
	}
	return saved, pruned, nil
}

func (s *Store) existingKeys(ctx context.Context, tx *sql.Tx) (map[string]struct{}, error) {
	rows, err := tx.QueryContext(ctx, `SELECT key FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys[key] = struct{}{}
	}
	return keys, rows.Err()
}

// LoadInto restores persisted entities into the collections. Returned
// entities carry vectors, meta and fingerprints but no content text; the
// ingest pass re-reads content and decides staleness against LastRead.
func (s *Store) LoadInto(ctx context.Context, sources, blocks *entity.Collection) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT key, kind, data FROM entities ORDER BY rowid`)
	if err != nil {
		return 0, fmt.Errorf("failed to load entities: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var key, kind, data string
		if err := rows.Scan(&key, &kind, &data); err != nil {
			return loaded, err
		}
		e := entity.New(key)
		if err := json.Unmarshal([]byte(data), e); err != nil {
			logging.Get(logging.CategoryStore).Warn("skipping corrupt row %s: %v", key, err)
			continue
		}
		switch kind {
		case kindBlock:
			blocks.Put(e)
		default:
			sources.Put(e)
		}
		loaded++
	}
	if err := rows.Err(); err != nil {
		return loaded, err
	}
	logging.Store("loaded %d entities", loaded)
	return loaded, nil
}
