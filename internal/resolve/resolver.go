// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package resolve maps internal category paths onto external taxonomy ids.
//
// A path already present in the resolution cache is returned as stored.
// Otherwise candidate nodes are collected from the taxonomy snapshot (exact
// leaf name, then leaf term contained in a node name, then keyword overlap
// with the whole path) and handed to an AI validator that judges them against
// the full path. A verdict that names an unknown id or falls below the
// minimum confidence becomes an "unresolved" entry. Every outcome is written
// to the resolution cache so a category is resolved at most once.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pdiddy/catalog-enricher/internal/extaxonomy"
	"github.com/pdiddy/catalog-enricher/internal/provider"
	"github.com/pdiddy/catalog-enricher/internal/resolution"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// ErrFullRefreshRejected is returned by Refresh for a request shaped as
// "refresh everything". A full rebuild goes through resolution.Cache.Purge.
var ErrFullRefreshRejected = errors.New("refresh must name the categories of the current batch; full rebuild requires purge")

// ErrTaxonomyUnavailable is returned by Refresh when no usable snapshot is loaded.
var ErrTaxonomyUnavailable = errors.New("external taxonomy unavailable")

// ErrEmptyPath is returned for a path with no segments.
var ErrEmptyPath = errors.New("empty category path")

const (
	defaultMaxCandidates = 25
	defaultMemoSize      = 512
)

// Resolver resolves category paths against one taxonomy snapshot. It is safe
// for concurrent use; concurrent resolutions of the same path share one
// validator call.
type Resolver struct {
	cache     *resolution.Cache
	snap      *extaxonomy.Snapshot
	validator provider.Validator
	matchers  []Matcher

	minConfidence types.Confidence
	maxCandidates int
	memo          *lru.Cache[string, []types.TaxonomyNode]
	group         singleflight.Group

	// refresh makes the first resolution of each path bypass the cache.
	refresh   bool
	mu        sync.Mutex
	refreshed map[string]bool

	now func() time.Time
	log *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock overrides the time source used for ResolvedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithRefresh makes the resolver recompute each path the first time it is
// resolved and overwrite its cached entry; later resolutions of the path are
// served from the cache. It has no effect on a degraded resolver.
func WithRefresh() Option {
	return func(r *Resolver) {
		r.refresh = true
		r.refreshed = make(map[string]bool)
	}
}

// New builds a resolver. snap may be nil, in which case the resolver serves
// cached entries only and reports new paths as taxonomy_unavailable without
// persisting them.
func New(cache *resolution.Cache, snap *extaxonomy.Snapshot, v provider.Validator, cfg types.ResolverConfig, opts ...Option) (*Resolver, error) {
	if cache == nil {
		return nil, errors.New("resolve: resolution cache is required")
	}
	if v == nil && snap != nil {
		return nil, errors.New("resolve: validator is required")
	}
	r := &Resolver{
		cache:         cache,
		snap:          snap,
		validator:     v,
		minConfidence: cfg.MinConfidence,
		maxCandidates: cfg.MaxCandidates,
		now:           time.Now,
		log:           zap.NewNop(),
	}
	if r.minConfidence == "" {
		r.minConfidence = types.ConfidenceLow
	}
	if r.maxCandidates <= 0 {
		r.maxCandidates = defaultMaxCandidates
	}
	size := cfg.MemoSize
	if size <= 0 {
		size = defaultMemoSize
	}
	memo, err := lru.New[string, []types.TaxonomyNode](size)
	if err != nil {
		return nil, fmt.Errorf("resolve: creating memo: %w", err)
	}
	r.memo = memo
	for _, o := range opts {
		o(r)
	}
	r.matchers = []Matcher{
		leafMatcher{r},
		containsMatcher{r},
		keywordMatcher{r},
		semanticMatcher{r},
		fallbackMatcher{},
	}
	return r, nil
}

// Degraded reports whether the resolver runs without a taxonomy snapshot.
func (r *Resolver) Degraded() bool { return r.snap == nil }

// Resolve returns the entry for path, computing and caching it on a miss.
// Only transient validator failures return an error; they are not cached.
func (r *Resolver) Resolve(ctx context.Context, path types.CategoryPath) (types.ResolutionEntry, error) {
	if path.IsZero() {
		return types.ResolutionEntry{}, ErrEmptyPath
	}
	key := path.Key()
	if e, ok := r.cached(key); ok {
		return e, nil
	}
	if r.snap == nil {
		return types.ResolutionEntry{
			Path:       path,
			Confidence: types.ConfidenceLow,
			Strategy:   StrategyUnavailable,
			ResolvedAt: r.now().UTC(),
		}, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if e, ok := r.cached(key); ok {
			return e, nil
		}
		e, err := r.compute(ctx, path)
		if err != nil {
			return nil, err
		}
		r.cache.Put(e)
		r.markRefreshed(key)
		return e, nil
	})
	if err != nil {
		return types.ResolutionEntry{}, err
	}
	return v.(types.ResolutionEntry), nil
}

// cached returns the cache entry for key unless the path is still due for a
// refresh.
func (r *Resolver) cached(key string) (types.ResolutionEntry, bool) {
	if r.refresh && r.snap != nil {
		r.mu.Lock()
		done := r.refreshed[key]
		r.mu.Unlock()
		if !done {
			return types.ResolutionEntry{}, false
		}
	}
	return r.cache.Get(key)
}

func (r *Resolver) markRefreshed(key string) {
	if !r.refresh {
		return
	}
	r.mu.Lock()
	r.refreshed[key] = true
	r.mu.Unlock()
}

// Refresh recomputes exactly the given paths and overwrites their cache
// entries. Entries for other paths are never touched. An empty set, or one
// containing a wildcard such as "*" or "all", is rejected with
// ErrFullRefreshRejected. A path whose recomputation fails keeps its old
// entry; the failures are joined into the returned error.
func (r *Resolver) Refresh(ctx context.Context, paths []types.CategoryPath) ([]types.ResolutionEntry, error) {
	if len(paths) == 0 {
		return nil, ErrFullRefreshRejected
	}
	for _, p := range paths {
		if isWildcard(p) {
			return nil, ErrFullRefreshRejected
		}
	}
	if r.snap == nil {
		return nil, ErrTaxonomyUnavailable
	}

	seen := make(map[string]bool, len(paths))
	var out []types.ResolutionEntry
	var errs []error
	for _, p := range paths {
		if p.IsZero() {
			continue
		}
		key := p.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		e, err := r.compute(ctx, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.cache.Put(e)
		r.markRefreshed(key)
		out = append(out, e)
		r.log.Info("resolution refreshed",
			zap.String("path", p.String()),
			zap.String("external_id", e.ID()),
			zap.String("strategy", e.Strategy))
	}
	return out, errors.Join(errs...)
}

// TryMatch runs the matcher chain for path without reading or writing the
// cache.
func (r *Resolver) TryMatch(ctx context.Context, path types.CategoryPath) (types.ResolutionEntry, error) {
	if r.snap == nil {
		return types.ResolutionEntry{}, ErrTaxonomyUnavailable
	}
	return r.compute(ctx, path)
}

func (r *Resolver) compute(ctx context.Context, path types.CategoryPath) (types.ResolutionEntry, error) {
	req := &Request{Path: path}
	for _, m := range r.matchers {
		e, err := m.TryMatch(ctx, req)
		if err != nil {
			return types.ResolutionEntry{}, err
		}
		if e != nil {
			e.ResolvedAt = r.now().UTC()
			r.log.Debug("resolved",
				zap.String("path", path.String()),
				zap.String("matcher", m.Name()),
				zap.String("external_id", e.ID()),
				zap.String("confidence", string(e.Confidence)),
				zap.Int("candidates", len(req.Candidates)))
			return *e, nil
		}
	}
	// The chain ends in fallbackMatcher, so this is unreachable.
	return types.ResolutionEntry{}, fmt.Errorf("no matcher decided %q", path.String())
}

// scan memoizes a candidate scan over the snapshot.
func (r *Resolver) scan(kind, term string, fn func(string) []types.TaxonomyNode) []types.TaxonomyNode {
	key := kind + "|" + types.NormalizeKey(term)
	if c, ok := r.memo.Get(key); ok {
		return c
	}
	c := r.cap(fn(term))
	r.memo.Add(key, c)
	return c
}

func (r *Resolver) cap(c []types.TaxonomyNode) []types.TaxonomyNode {
	if len(c) > r.maxCandidates {
		return c[:r.maxCandidates]
	}
	return c
}

func isWildcard(p types.CategoryPath) bool {
	switch strings.ToLower(strings.TrimSpace(p.String())) {
	case "*", "all", "everything":
		return true
	}
	return false
}
