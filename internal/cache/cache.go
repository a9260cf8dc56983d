// Package cache implements C5: the bounded, in-memory {fqcn -> class}
// mapping the daemon serves, updated atomically per batch under a
// single-writer/multi-reader discipline (spec §4.5).
package cache

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ppiankov/discoveryd/internal/metadata"
)

// Cache is the daemon's bounded class-metadata store. The zero value is
// not usable; construct with New.
type Cache struct {
	mu      sync.RWMutex
	byFQCN  map[string]metadata.Class
	maxSize int
	log     zerolog.Logger
}

// New returns an empty Cache bounded at maxEntries (spec §6
// max_cache_entries).
func New(maxEntries int, log zerolog.Logger) *Cache {
	return &Cache{
		byFQCN:  map[string]metadata.Class{},
		maxSize: maxEntries,
		log:     log,
	}
}

// Snapshot returns every cached class, sorted by fqcn, safe for the
// caller to retain (spec §4.5 snapshot()).
func (c *Cache) Snapshot() []metadata.Class {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]metadata.Class, 0, len(c.byFQCN))
	for _, cls := range c.byFQCN {
		out = append(out, cls.Clone())
	}
	sortByFQCN(out)
	return out
}

// Len returns the current entry count (spec §4.5 len()).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byFQCN)
}

// Get returns the cached class for fqcn, if present.
func (c *Cache) Get(fqcn string) (metadata.Class, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cls, ok := c.byFQCN[fqcn]
	return cls, ok
}

// ApplyBatch implements spec §4.5's apply-batch semantics under a
// single write-lock critical section:
//  1. For each removed file, delete every entry whose File matches.
//  2. For each rescanned file, delete every entry whose File matches,
//     then insert the freshly parsed entries.
//  3. Once maxSize is reached, further inserts in the same batch are
//     dropped and logged at warn; the limit is never exceeded.
func (c *Cache) ApplyBatch(removedFiles []string, rescanned []metadata.Class) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range removedFiles {
		c.deleteByFileLocked(f)
	}

	touched := make(map[string]bool)
	for _, cls := range rescanned {
		if !touched[cls.File] {
			c.deleteByFileLocked(cls.File)
			touched[cls.File] = true
		}
	}

	for _, cls := range rescanned {
		if c.maxSize > 0 && len(c.byFQCN) >= c.maxSize {
			if _, exists := c.byFQCN[cls.FQCN]; !exists {
				c.log.Warn().Str("fqcn", cls.FQCN).Int("max_cache_entries", c.maxSize).
					Msg("cache at capacity, dropping entry")
				continue
			}
		}
		c.byFQCN[cls.FQCN] = cls.Clone()
	}
}

func (c *Cache) deleteByFileLocked(file string) {
	for fqcn, cls := range c.byFQCN {
		if cls.File == file {
			delete(c.byFQCN, fqcn)
		}
	}
}

func sortByFQCN(classes []metadata.Class) {
	sort.Slice(classes, func(i, j int) bool { return classes[i].FQCN < classes[j].FQCN })
}
