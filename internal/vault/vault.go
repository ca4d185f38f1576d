// Package vault ingests content files into the entity collections. A scan
// walks the root, reads changed files, and maintains one source entity per
// file plus one block entity per markdown section. Entities whose backing
// file or section vanished are removed; staleness of the survivors is
// decided by the freshness model, not here.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"semlink/internal/entity"
	"semlink/internal/logging"
)

// Options configures a Vault.
type Options struct {
	// Extensions lists ingestable file extensions (with dot).
	Extensions []string

	// ExcludeDirs lists directory names skipped during walks.
	ExcludeDirs []string

	// MinChars gates which entities get queued for embedding.
	MinChars int
}

// ScanResult summarizes one scan.
type ScanResult struct {
	Files    int
	Changed  int
	Removed  int
	Duration time.Duration
}

// Vault scans one root directory into a pair of collections.
type Vault struct {
	root    string
	sources *entity.Collection
	blocks  *entity.Collection
	opts    Options
}

// New creates a vault over root feeding the given collections.
func New(root string, sources, blocks *entity.Collection, opts Options) *Vault {
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".md", ".txt"}
	}
	if len(opts.ExcludeDirs) == 0 {
		opts.ExcludeDirs = []string{".git", ".semlink", "node_modules"}
	}
	return &Vault{root: root, sources: sources, blocks: blocks, opts: opts}
}

// Root returns the scanned directory.
func (v *Vault) Root() string { return v.root }

// Scan walks the root, ingests new and changed files and removes entities
// whose backing content vanished. Unchanged files are not re-read beyond
// their size/mtime probe.
func (v *Vault) Scan(ctx context.Context) (ScanResult, error) {
	start := time.Now()
	logging.Vault("scanning %s", v.root)

	type candidate struct {
		rel  string
		path string
		info fs.FileInfo
	}
	var candidates []candidate

	err := filepath.WalkDir(v.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != v.root && (strings.HasPrefix(name, ".") || v.excluded(name)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !v.ingestable(name) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(v.root, path)
		if err != nil {
			return nil
		}
		candidates = append(candidates, candidate{rel: filepath.ToSlash(rel), path: path, info: info})
		return nil
	})
	if err != nil {
		return ScanResult{}, err
	}

	seen := make(map[string]bool, len(candidates))
	var mu sync.Mutex
	changed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, c := range candidates {
		seen[c.rel] = true
		prev := v.sources.Get(c.rel)
		if prev != nil && prev.LastRead.Size == c.info.Size() && prev.LastRead.Mtime == c.info.ModTime().UnixMilli() {
			continue
		}
		c := c
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			data, err := os.ReadFile(c.path)
			if err != nil {
				logging.Get(logging.CategoryVault).Warn("unreadable %s: %v", c.rel, err)
				return nil
			}
			mu.Lock()
			if v.ingestFile(c.rel, string(data), c.info) {
				changed++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ScanResult{}, err
	}

	removed := v.reconcileDeletions(seen)

	result := ScanResult{
		Files:    len(candidates),
		Changed:  changed,
		Removed:  removed,
		Duration: time.Since(start),
	}
	logging.Vault("scan complete: files=%d changed=%d removed=%d in %v",
		result.Files, result.Changed, result.Removed, result.Duration)
	return result, nil
}

// ingestFile updates the source entity and its blocks from content.
// Returns whether anything changed.
func (v *Vault) ingestFile(rel, content string, info fs.FileInfo) bool {
	sum := sha256.Sum256([]byte(content))
	fp := entity.Fingerprint{
		Hash:  hex.EncodeToString(sum[:]),
		Size:  info.Size(),
		Mtime: info.ModTime().UnixMilli(),
	}

	src := v.sources.Get(rel)
	fresh := src != nil && src.LastRead.Hash == fp.Hash
	if src == nil {
		src = entity.New(rel)
		v.sources.Put(src)
	}
	src.Text = content
	src.LastRead = fp
	if fresh {
		return false
	}
	src.QueuedForSave = true
	src.ClearEmbedInput()
	src.QueueEmbed(v.opts.MinChars)

	// Section blocks. Each block is fingerprinted by its own text, so
	// editing one section leaves its siblings' vectors fresh.
	current := make(map[string]bool)
	for _, sec := range splitSections(content) {
		key := rel + sec.anchor
		current[key] = true
		blk := v.blocks.Get(key)
		if blk == nil {
			blk = entity.New(key)
			v.blocks.Put(blk)
		}
		secFP := entity.Fingerprint{Hash: hashText(sec.text), Size: int64(len(sec.text)), Mtime: fp.Mtime}
		if blk.LastRead.Hash != secFP.Hash {
			blk.QueuedForSave = true
			blk.ClearEmbedInput()
			blk.Text = sec.text
			blk.LastRead = secFP
			blk.QueueEmbed(v.opts.MinChars)
			continue
		}
		blk.Text = sec.text
		blk.LastRead = secFP
	}

	// Blocks whose section no longer exists in this file.
	for _, b := range v.blocks.All() {
		if b.SourcePath() == rel && !current[b.Key] {
			v.blocks.Delete(b.Key)
		}
	}
	return true
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// reconcileDeletions removes entities whose backing file vanished.
func (v *Vault) reconcileDeletions(seen map[string]bool) int {
	removed := 0
	for _, e := range v.sources.All() {
		if !seen[e.Key] {
			v.sources.Delete(e.Key)
			removed++
		}
	}
	for _, b := range v.blocks.All() {
		if !seen[b.SourcePath()] {
			v.blocks.Delete(b.Key)
			removed++
		}
	}
	if removed > 0 {
		logging.Vault("removed %d entities for deleted files", removed)
	}
	return removed
}

func (v *Vault) ingestable(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range v.opts.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (v *Vault) excluded(dir string) bool {
	for _, d := range v.opts.ExcludeDirs {
		if dir == d {
			return true
		}
	}
	return false
}
