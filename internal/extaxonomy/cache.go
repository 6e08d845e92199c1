// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extaxonomy maintains a durable, time-bounded snapshot of the
// external taxonomy tree. A snapshot older than the freshness window is stale
// and is refetched before it is trusted for new resolutions. Fetch failures
// never touch the persisted snapshot: a new one replaces it only after a
// complete fetch has been parsed and validated.
package extaxonomy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-enricher/internal/cachestore"
)

// DefaultFreshnessWindow is the age at which a snapshot becomes stale.
const DefaultFreshnessWindow = 30 * 24 * time.Hour

// ErrStale is returned by Peek when the persisted snapshot is past the
// freshness window. It is recoverable: Load refetches.
var ErrStale = errors.New("taxonomy snapshot is stale")

// CorruptError reports a persisted snapshot that could not be decoded or
// failed validation. The snapshot is ignored and rebuilt from source.
type CorruptError struct {
	Name string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("taxonomy snapshot %s is corrupt: %v", e.Name, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// FetchError reports a failed download or parse of the source tree. It is
// retryable; the previously persisted snapshot is left in place.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching taxonomy from %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsStale reports whether snap is at or past the freshness window at now.
// A snapshot exactly window old is stale.
func IsStale(snap *Snapshot, now time.Time, window time.Duration) bool {
	if snap == nil {
		return true
	}
	return snap.Age(now) >= window
}

// Cache loads, refreshes, and persists the taxonomy snapshot.
type Cache struct {
	store   cachestore.Store
	name    string
	fetcher Fetcher
	window  time.Duration
	now     func() time.Time
	log     *zap.Logger

	mu      sync.Mutex
	current *Snapshot
}

// Option configures a Cache.
type Option func(*Cache)

// WithWindow overrides the freshness window.
func WithWindow(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCache returns a cache persisting the snapshot as name in store.
func NewCache(store cachestore.Store, name string, fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		name:    name,
		fetcher: fetcher,
		window:  DefaultFreshnessWindow,
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsStale reports whether snap is stale under this cache's window and clock.
func (c *Cache) IsStale(snap *Snapshot) bool {
	return IsStale(snap, c.now(), c.window)
}

// Peek returns the persisted snapshot without fetching. It returns
// cachestore.ErrNotFound when none exists, a *CorruptError when it cannot be
// decoded, and the snapshot together with ErrStale when it is stale.
func (c *Cache) Peek(ctx context.Context) (*Snapshot, error) {
	data, err := c.store.Read(ctx, c.name)
	if err != nil {
		return nil, err
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, &CorruptError{Name: c.name, Err: err}
	}
	if c.IsStale(snap) {
		return snap, ErrStale
	}
	return snap, nil
}

// Load returns a fresh snapshot. The persisted one is used when present and
// fresh; otherwise the tree is fetched and persisted with a new timestamp.
//
// When a stale snapshot exists and the refetch fails, Load returns the stale
// snapshot together with a *FetchError so the caller can decide whether to
// serve already-resolved entries from it. With no usable snapshot at all it
// returns nil and the error.
func (c *Cache) Load(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && !c.IsStale(c.current) {
		return c.current, nil
	}

	snap, err := c.Peek(ctx)
	switch {
	case err == nil:
		c.log.Debug("taxonomy snapshot loaded",
			zap.Int("nodes", snap.Len()), zap.Time("cached_at", snap.CachedAt))
		c.current = snap
		return snap, nil

	case errors.Is(err, ErrStale):
		c.log.Info("taxonomy snapshot stale, refetching",
			zap.Time("cached_at", snap.CachedAt), zap.Duration("window", c.window))

	case errors.Is(err, cachestore.ErrNotFound):
		c.log.Info("no taxonomy snapshot, fetching")

	default:
		var corrupt *CorruptError
		if !errors.As(err, &corrupt) {
			return nil, fmt.Errorf("reading taxonomy snapshot: %w", err)
		}
		c.log.Warn("taxonomy snapshot corrupt, rebuilding", zap.Error(err))
		snap = nil
	}

	fresh, ferr := c.refresh(ctx)
	if ferr != nil {
		if snap != nil {
			c.current = snap
			return snap, ferr
		}
		return nil, ferr
	}
	return fresh, nil
}

// ForceRefresh refetches the tree regardless of the persisted snapshot's age.
func (c *Cache) ForceRefresh(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refresh(ctx)
}

// refresh fetches, validates, and persists a new snapshot. The persisted
// object is replaced only after the new one is complete.
func (c *Cache) refresh(ctx context.Context) (*Snapshot, error) {
	nodes, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return nil, &FetchError{Source: c.fetcher.Source(), Err: err}
	}
	snap, err := NewSnapshot(nodes, c.now(), c.fetcher.Source())
	if err != nil {
		return nil, &FetchError{Source: c.fetcher.Source(), Err: fmt.Errorf("validating: %w", err)}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding taxonomy snapshot: %w", err)
	}
	if err := c.store.Write(ctx, c.name, data); err != nil {
		return nil, fmt.Errorf("persisting taxonomy snapshot: %w", err)
	}

	c.log.Info("taxonomy snapshot refreshed",
		zap.Int("nodes", snap.Len()), zap.String("source", snap.Source))
	c.current = snap
	return snap, nil
}
