// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/catalog-enricher/internal/cachestore"
	"github.com/pdiddy/catalog-enricher/internal/extaxonomy"
	"github.com/pdiddy/catalog-enricher/internal/provider"
	"github.com/pdiddy/catalog-enricher/internal/resolution"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

const (
	idMachinery = "gid://shopify/TaxonomyCategory/bi-12-5"
	idOutdoor   = "gid://shopify/TaxonomyCategory/hg-4-7"
	idDogFood   = "gid://shopify/TaxonomyCategory/ap-2-1-3"
	idBirdSeed  = "gid://shopify/TaxonomyCategory/ap-2-3-1"
)

func node(id string, path ...string) types.TaxonomyNode {
	return types.TaxonomyNode{ID: id, Name: path[len(path)-1], Path: path}
}

func testSnapshot(t *testing.T) *extaxonomy.Snapshot {
	t.Helper()
	snap, err := extaxonomy.NewSnapshot([]types.TaxonomyNode{
		node("gid://shopify/TaxonomyCategory/bi", "Business & Industrial"),
		node("gid://shopify/TaxonomyCategory/bi-12", "Business & Industrial", "Heavy Machinery"),
		node(idMachinery, "Business & Industrial", "Heavy Machinery", "Pavers"),
		node("gid://shopify/TaxonomyCategory/hg", "Home & Garden"),
		node("gid://shopify/TaxonomyCategory/hg-4", "Home & Garden", "Outdoor Living"),
		node(idOutdoor, "Home & Garden", "Outdoor Living", "Pavers"),
		node("gid://shopify/TaxonomyCategory/ap", "Animals & Pet Supplies"),
		node("gid://shopify/TaxonomyCategory/ap-2", "Animals & Pet Supplies", "Pet Supplies"),
		node("gid://shopify/TaxonomyCategory/ap-2-1", "Animals & Pet Supplies", "Pet Supplies", "Dog Supplies"),
		node(idDogFood, "Animals & Pet Supplies", "Pet Supplies", "Dog Supplies", "Dog Food"),
		node("gid://shopify/TaxonomyCategory/ap-2-3", "Animals & Pet Supplies", "Pet Supplies", "Bird Supplies"),
		node(idBirdSeed, "Animals & Pet Supplies", "Pet Supplies", "Bird Supplies", "Bird Food"),
	}, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), "test")
	require.NoError(t, err)
	return snap
}

// fakeValidator answers with a scripted function and counts calls.
type fakeValidator struct {
	mu    sync.Mutex
	calls []provider.ValidationRequest
	fn    func(provider.ValidationRequest) (provider.ValidationResult, error)
}

func (f *fakeValidator) Validate(_ context.Context, req provider.ValidationRequest) (provider.ValidationResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeValidator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// contextValidator prefers candidates whose path shares the internal
// path's context, the way the real validator is prompted to.
func contextValidator() *fakeValidator {
	return &fakeValidator{fn: func(req provider.ValidationRequest) (provider.ValidationResult, error) {
		for _, c := range req.Candidates {
			full := c.FullName()
			switch {
			case strings.Contains(req.Path.String(), "Landscape") && strings.Contains(full, "Outdoor Living"):
				return provider.ValidationResult{ExternalID: c.ID, Confidence: types.ConfidenceHigh}, nil
			case strings.Contains(req.Path.String(), "Pet") && strings.Contains(full, "Pet Supplies"):
				return provider.ValidationResult{ExternalID: c.ID, Confidence: types.ConfidenceMedium}, nil
			}
		}
		return provider.ValidationResult{}, nil
	}}
}

func openCache(t *testing.T, dir string) *resolution.Cache {
	t.Helper()
	c, err := resolution.Open(context.Background(), cachestore.NewFileStore(dir), "resolution_cache.json", nil)
	require.NoError(t, err)
	return c
}

func newResolver(t *testing.T, cache *resolution.Cache, v provider.Validator, cfg types.ResolverConfig) *Resolver {
	t.Helper()
	fixed := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	r, err := New(cache, testSnapshot(t), v, cfg, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	return r
}

var paversPath = types.CategoryPath{
	Department:  "Landscape and Construction",
	Category:    "Pavers and Hardscaping",
	Subcategory: "Pavers",
}

func TestResolve_PaversPicksOutdoorLiving(t *testing.T) {
	v := contextValidator()
	r := newResolver(t, openCache(t, t.TempDir()), v, types.ResolverConfig{})

	e, err := r.Resolve(context.Background(), paversPath)
	require.NoError(t, err)

	assert.Equal(t, idOutdoor, e.ID())
	assert.NotEqual(t, idMachinery, e.ID())
	assert.True(t, e.Confidence.AtLeast(types.ConfidenceMedium))
	assert.Equal(t, StrategyLeafExact, e.Strategy)
	assert.Equal(t, "Home & Garden > Outdoor Living > Pavers", e.ExternalName)

	require.Equal(t, 1, v.count())
	assert.Len(t, v.calls[0].Candidates, 2, "both literal Pavers nodes go to validation")
}

func TestResolve_CachedPathSkipsValidator(t *testing.T) {
	dir := t.TempDir()
	v := contextValidator()
	cache := openCache(t, dir)
	r := newResolver(t, cache, v, types.ResolverConfig{})

	first, err := r.Resolve(context.Background(), paversPath)
	require.NoError(t, err)

	variant := types.CategoryPath{Department: "landscape  and construction", Category: "PAVERS AND HARDSCAPING", Subcategory: "pavers"}
	second, err := r.Resolve(context.Background(), variant)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, v.count())

	require.NoError(t, cache.Flush(context.Background()))
	reopened := newResolver(t, openCache(t, dir), v, types.ResolverConfig{})
	third, err := reopened.Resolve(context.Background(), paversPath)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), third.ID())
	assert.Equal(t, first.Confidence, third.Confidence)
	assert.Equal(t, 1, v.count(), "persisted entry serves the next run")
}

func TestResolve_ConcurrentSamePathSharesCall(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	v := &fakeValidator{fn: func(req provider.ValidationRequest) (provider.ValidationResult, error) {
		calls.Add(1)
		<-release
		return provider.ValidationResult{ExternalID: idOutdoor, Confidence: types.ConfidenceHigh}, nil
	}}
	r := newResolver(t, openCache(t, t.TempDir()), v, types.ResolverConfig{})

	var wg sync.WaitGroup
	results := make([]types.ResolutionEntry, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := r.Resolve(context.Background(), paversPath)
			assert.NoError(t, err)
			results[i] = e
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2))
	for _, e := range results {
		assert.Equal(t, idOutdoor, e.ID())
	}
}

func TestResolve_HallucinatedIDRejected(t *testing.T) {
	v := &fakeValidator{fn: func(provider.ValidationRequest) (provider.ValidationResult, error) {
		return provider.ValidationResult{ExternalID: "gid://shopify/TaxonomyCategory/zz-99", Confidence: types.ConfidenceHigh}, nil
	}}
	r := newResolver(t, openCache(t, t.TempDir()), v, types.ResolverConfig{})

	e, err := r.Resolve(context.Background(), paversPath)
	require.NoError(t, err)
	assert.False(t, e.Resolved())
	assert.Equal(t, StrategyUnresolved, e.Strategy)
	assert.Equal(t, types.ConfidenceLow, e.Confidence)
}

func TestResolve_IDOutsideCandidatesRejected(t *testing.T) {
	v := &fakeValidator{fn: func(provider.ValidationRequest) (provider.ValidationResult, error) {
		return provider.ValidationResult{ExternalID: idDogFood, Confidence: types.ConfidenceHigh}, nil
	}}
	r := newResolver(t, openCache(t, t.TempDir()), v, types.ResolverConfig{})

	e, err := r.Resolve(context.Background(), paversPath)
	require.NoError(t, err)
	assert.False(t, e.Resolved())
}

func TestResolve_MinConfidence(t *testing.T) {
	v := &fakeValidator{fn: func(provider.ValidationRequest) (provider.ValidationResult, error) {
		return provider.ValidationResult{ExternalID: idOutdoor, Confidence: types.ConfidenceLow}, nil
	}}
	r := newResolver(t, openCache(t, t.TempDir()), v, types.ResolverConfig{MinConfidence: types.ConfidenceMedium})

	e, err := r.Resolve(context.Background(), paversPath)
	require.NoError(t, err)
	assert.Equal(t, StrategyUnresolved, e.Strategy)
}

func TestResolve_CandidateStrategies(t *testing.T) {
	tests := []struct {
		name     string
		path     types.CategoryPath
		strategy string
		first    string
	}{
		{
			name:     "leaf term contained in node name",
			path:     types.CategoryPath{Department: "Pet Supplies", Category: "Birds", Subcategory: "Bird"},
			strategy: StrategyContains,
			first:    "Bird Supplies",
		},
		{
			name:     "keyword overlap across the whole path",
			path:     types.CategoryPath{Department: "Pet Supplies", Category: "Dogs", Subcategory: "Kibble for Dog"},
			strategy: StrategyKeyword,
			first:    "Dog Supplies",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &fakeValidator{fn: func(req provider.ValidationRequest) (provider.ValidationResult, error) {
				require.NotEmpty(t, req.Candidates)
				return provider.ValidationResult{ExternalID: req.Candidates[0].ID, Confidence: types.ConfidenceMedium}, nil
			}}
			r := newResolver(t, openCache(t, t.TempDir()), v, types.ResolverConfig{})

			e, err := r.Resolve(context.Background(), tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, e.Strategy)
			assert.Equal(t, tt.first, v.calls[0].Candidates[0].Name)
		})
	}
}

func TestResolve_NoCandidatesAsksValidatorByName(t *testing.T) {
	v := &fakeValidator{fn: func(req provider.ValidationRequest) (provider.ValidationResult, error) {
		assert.Empty(t, req.Candidates)
		return provider.ValidationResult{ExternalID: idOutdoor, Confidence: types.ConfidenceMedium}, nil
	}}
	r := newResolver(t, openCache(t, t.TempDir()), v, types.ResolverConfig{})

	e, err := r.Resolve(context.Background(), types.CategoryPath{Department: "Zzyzx", Category: "Qwerty"})
	require.NoError(t, err)
	assert.Equal(t, StrategySemantic, e.Strategy)
	assert.Equal(t, idOutdoor, e.ID())
}

func TestResolve_MaxCandidates(t *testing.T) {
	v := &fakeValidator{fn: func(req provider.ValidationRequest) (provider.ValidationResult, error) {
		return provider.ValidationResult{}, nil
	}}
	r := newResolver(t, openCache(t, t.TempDir()), v, types.ResolverConfig{MaxCandidates: 1})

	_, err := r.Resolve(context.Background(), paversPath)
	require.NoError(t, err)
	assert.Len(t, v.calls[0].Candidates, 1)
}

func TestResolve_TransientErrorNotCached(t *testing.T) {
	fail := true
	v := &fakeValidator{fn: func(provider.ValidationRequest) (provider.ValidationResult, error) {
		if fail {
			return provider.ValidationResult{}, provider.Transient("validate", errors.New("overloaded"))
		}
		return provider.ValidationResult{ExternalID: idOutdoor, Confidence: types.ConfidenceHigh}, nil
	}}
	cache := openCache(t, t.TempDir())
	r := newResolver(t, cache, v, types.ResolverConfig{})

	_, err := r.Resolve(context.Background(), paversPath)
	require.Error(t, err)
	assert.True(t, provider.IsTransient(err))
	_, ok := cache.Get(paversPath.Key())
	assert.False(t, ok)

	fail = false
	e, err := r.Resolve(context.Background(), paversPath)
	require.NoError(t, err)
	assert.Equal(t, idOutdoor, e.ID())
}

func TestResolve_FatalValidatorResponseIsNoMatch(t *testing.T) {
	v := &fakeValidator{fn: func(provider.ValidationRequest) (provider.ValidationResult, error) {
		return provider.ValidationResult{}, provider.Fatal("parse validation", errors.New("malformed"))
	}}
	r := newResolver(t, openCache(t, t.TempDir()), v, types.ResolverConfig{})

	e, err := r.Resolve(context.Background(), paversPath)
	require.NoError(t, err)
	assert.Equal(t, StrategyUnresolved, e.Strategy)
}

func TestResolve_EmptyPath(t *testing.T) {
	r := newResolver(t, openCache(t, t.TempDir()), contextValidator(), types.ResolverConfig{})
	_, err := r.Resolve(context.Background(), types.CategoryPath{})
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestRefresh_Containment(t *testing.T) {
	v := contextValidator()
	cache := openCache(t, t.TempDir())
	r := newResolver(t, cache, v, types.ResolverConfig{})

	dogFood := types.CategoryPath{Department: "Pet Supplies", Category: "Dogs", Subcategory: "Dog Food"}
	other := types.CategoryPath{Department: "Hardware", Category: "Fasteners"}
	stale := "gid://shopify/TaxonomyCategory/old"
	cache.Put(types.ResolutionEntry{Path: other, ExternalID: &stale, Confidence: types.ConfidenceLow, Strategy: "manual"})
	cache.Put(types.ResolutionEntry{Path: paversPath, ExternalID: &stale, Confidence: types.ConfidenceLow, Strategy: "manual"})

	before, _ := cache.Get(other.Key())

	entries, err := r.Refresh(context.Background(), []types.CategoryPath{paversPath, dogFood, paversPath})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	got, ok := cache.Get(paversPath.Key())
	require.True(t, ok)
	assert.Equal(t, idOutdoor, got.ID())

	got, ok = cache.Get(dogFood.Key())
	require.True(t, ok)
	assert.Equal(t, idDogFood, got.ID())

	after, ok := cache.Get(other.Key())
	require.True(t, ok)
	assert.Equal(t, before, after, "entries outside the batch are untouched")
	assert.Equal(t, 3, cache.Len())
}

func TestRefresh_RejectsFullRefresh(t *testing.T) {
	r := newResolver(t, openCache(t, t.TempDir()), contextValidator(), types.ResolverConfig{})

	_, err := r.Refresh(context.Background(), nil)
	assert.ErrorIs(t, err, ErrFullRefreshRejected)

	_, err = r.Refresh(context.Background(), []types.CategoryPath{types.ParseCategoryPath("*")})
	assert.ErrorIs(t, err, ErrFullRefreshRejected)

	_, err = r.Refresh(context.Background(), []types.CategoryPath{paversPath, types.ParseCategoryPath("ALL")})
	assert.ErrorIs(t, err, ErrFullRefreshRejected)
}

func TestRefresh_FailureKeepsOldEntry(t *testing.T) {
	v := &fakeValidator{fn: func(provider.ValidationRequest) (provider.ValidationResult, error) {
		return provider.ValidationResult{}, provider.Transient("validate", errors.New("timeout"))
	}}
	cache := openCache(t, t.TempDir())
	r := newResolver(t, cache, v, types.ResolverConfig{})
	old := idOutdoor
	cache.Put(types.ResolutionEntry{Path: paversPath, ExternalID: &old, Confidence: types.ConfidenceHigh, Strategy: StrategyLeafExact})

	_, err := r.Refresh(context.Background(), []types.CategoryPath{paversPath})
	require.Error(t, err)
	got, _ := cache.Get(paversPath.Key())
	assert.Equal(t, idOutdoor, got.ID())
}

func TestResolve_Degraded(t *testing.T) {
	cache := openCache(t, t.TempDir())
	known := idDogFood
	dogFood := types.CategoryPath{Department: "Pet Supplies", Category: "Dogs", Subcategory: "Dog Food"}
	cache.Put(types.ResolutionEntry{Path: dogFood, ExternalID: &known, Confidence: types.ConfidenceHigh, Strategy: StrategyLeafExact})

	r, err := New(cache, nil, nil, types.ResolverConfig{})
	require.NoError(t, err)
	assert.True(t, r.Degraded())

	e, err := r.Resolve(context.Background(), dogFood)
	require.NoError(t, err)
	assert.Equal(t, idDogFood, e.ID())

	e, err = r.Resolve(context.Background(), paversPath)
	require.NoError(t, err)
	assert.Equal(t, StrategyUnavailable, e.Strategy)
	assert.False(t, e.Resolved())
	_, ok := cache.Get(paversPath.Key())
	assert.False(t, ok, "degraded outcomes are not persisted")

	_, err = r.Refresh(context.Background(), []types.CategoryPath{paversPath})
	assert.ErrorIs(t, err, ErrTaxonomyUnavailable)
}

func TestNew_RequiresValidatorWithSnapshot(t *testing.T) {
	_, err := New(openCache(t, t.TempDir()), testSnapshot(t), nil, types.ResolverConfig{})
	assert.Error(t, err)
}

func TestResolve_WithRefreshRecomputesOncePerRun(t *testing.T) {
	cache := openCache(t, t.TempDir())
	stale := idMachinery
	cache.Put(types.ResolutionEntry{Path: paversPath, ExternalID: &stale, Confidence: types.ConfidenceLow, Strategy: StrategyLeafExact})
	other := idBirdSeed
	birdPath := types.CategoryPath{Department: "Pet Supplies", Category: "Birds", Subcategory: "Bird Food"}
	cache.Put(types.ResolutionEntry{Path: birdPath, ExternalID: &other, Confidence: types.ConfidenceHigh, Strategy: StrategyLeafExact})

	v := contextValidator()
	fixed := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	r, err := New(cache, testSnapshot(t), v, types.ResolverConfig{}, WithRefresh(), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	for range 3 {
		e, err := r.Resolve(context.Background(), paversPath)
		require.NoError(t, err)
		assert.Equal(t, idOutdoor, e.ID())
	}
	assert.Equal(t, 1, v.count(), "a path is recomputed once per resolver")

	stored, ok := cache.Get(paversPath.Key())
	require.True(t, ok)
	assert.Equal(t, idOutdoor, stored.ID())

	untouched, ok := cache.Get(birdPath.Key())
	require.True(t, ok)
	assert.Equal(t, idBirdSeed, untouched.ID(), "paths not resolved in the run keep their entries")
}

func TestResolve_WithRefreshDegradedServesCache(t *testing.T) {
	cache := openCache(t, t.TempDir())
	known := idOutdoor
	cache.Put(types.ResolutionEntry{Path: paversPath, ExternalID: &known, Confidence: types.ConfidenceHigh, Strategy: StrategyLeafExact})

	r, err := New(cache, nil, nil, types.ResolverConfig{}, WithRefresh())
	require.NoError(t, err)
	e, err := r.Resolve(context.Background(), paversPath)
	require.NoError(t, err)
	assert.Equal(t, idOutdoor, e.ID())
}
