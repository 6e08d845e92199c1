// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package resolution holds the durable mapping from normalized internal
// category paths to external taxonomy ids. The map grows by insert or
// overwrite; there is at most one entry per normalized key. Entries are
// removed only by Delete for an explicit key set, or by Purge, which requires
// a confirmation token.
package resolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-enricher/internal/cachestore"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// PurgeConfirmation must be passed to Purge to clear every entry.
const PurgeConfirmation = "purge-all-resolutions"

// ErrPurgeNotConfirmed is returned by Purge without the confirmation token.
var ErrPurgeNotConfirmed = errors.New("purge requires explicit confirmation")

// CorruptError reports a persisted cache that could not be decoded. The
// cache starts empty instead.
type CorruptError struct {
	Name string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("resolution cache %s is corrupt: %v", e.Name, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// record is the persisted form of one entry.
type record struct {
	ExternalID   *string             `json:"external_id"`
	Confidence   types.Confidence    `json:"confidence"`
	Strategy     string              `json:"strategy"`
	ResolvedAt   time.Time           `json:"resolved_at"`
	Path         *types.CategoryPath `json:"path,omitempty"`
	ExternalName string              `json:"external_name,omitempty"`
}

// Cache is the in-memory resolution map with its persisted copy. All methods
// are safe for concurrent use; writes are serialized by one mutex.
type Cache struct {
	store cachestore.Store
	name  string
	log   *zap.Logger

	mu      sync.RWMutex
	entries map[string]types.ResolutionEntry
	dirty   bool
}

// Open reads the persisted cache. A missing object yields an empty cache. A
// corrupt one also yields an empty cache, returned together with a
// *CorruptError so the caller can report it; the next Flush overwrites it.
func Open(ctx context.Context, store cachestore.Store, name string, log *zap.Logger) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cache{
		store:   store,
		name:    name,
		log:     log,
		entries: make(map[string]types.ResolutionEntry),
	}

	data, err := store.Read(ctx, name)
	if err != nil {
		if errors.Is(err, cachestore.ErrNotFound) {
			return c, nil
		}
		return nil, fmt.Errorf("reading resolution cache: %w", err)
	}

	var raw map[string]record
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn("resolution cache corrupt, starting empty", zap.String("name", name), zap.Error(err))
		return c, &CorruptError{Name: name, Err: err}
	}
	for key, r := range raw {
		e := types.ResolutionEntry{
			ExternalID:   r.ExternalID,
			ExternalName: r.ExternalName,
			Confidence:   r.Confidence,
			Strategy:     r.Strategy,
			ResolvedAt:   r.ResolvedAt,
		}
		if r.Path != nil {
			e.Path = *r.Path
		} else {
			e.Path = types.ParseCategoryPath(key)
		}
		c.entries[e.Path.Key()] = e
	}
	log.Debug("resolution cache loaded", zap.Int("entries", len(c.entries)))
	return c, nil
}

// Get returns the entry for the normalized form of key.
func (c *Cache) Get(key string) (types.ResolutionEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[types.NormalizeKey(key)]
	return e, ok
}

// Put inserts or overwrites the entry under e.Path.Key().
func (c *Cache) Put(e types.ResolutionEntry) {
	key := e.Path.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	c.dirty = true
}

// Delete removes exactly the given keys and returns how many existed.
func (c *Cache) Delete(keys ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range keys {
		k = types.NormalizeKey(k)
		if _, ok := c.entries[k]; ok {
			delete(c.entries, k)
			n++
		}
	}
	if n > 0 {
		c.dirty = true
	}
	return n
}

// Purge removes every entry. It is the only whole-table operation and needs
// confirm == PurgeConfirmation.
func (c *Cache) Purge(confirm string) (int, error) {
	if confirm != PurgeConfirmation {
		return 0, ErrPurgeNotConfirmed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]types.ResolutionEntry)
	c.dirty = true
	c.log.Warn("resolution cache purged", zap.Int("entries", n))
	return n, nil
}

// Keys returns the normalized keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of all entries keyed by normalized path.
func (c *Cache) Snapshot() map[string]types.ResolutionEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]types.ResolutionEntry, len(c.entries))
	for k, e := range c.entries {
		out[k] = e
	}
	return out
}

// Flush persists the cache if it changed since the last flush.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	raw := make(map[string]record, len(c.entries))
	for k, e := range c.entries {
		path := e.Path
		raw[k] = record{
			ExternalID:   e.ExternalID,
			Confidence:   e.Confidence,
			Strategy:     e.Strategy,
			ResolvedAt:   e.ResolvedAt.UTC(),
			Path:         &path,
			ExternalName: e.ExternalName,
		}
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding resolution cache: %w", err)
	}
	if err := c.store.Write(ctx, c.name, data); err != nil {
		return fmt.Errorf("persisting resolution cache: %w", err)
	}
	c.dirty = false
	c.log.Debug("resolution cache flushed", zap.Int("entries", len(c.entries)))
	return nil
}
