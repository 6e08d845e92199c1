// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolution

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/catalog-enricher/internal/cachestore"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

func strPtr(s string) *string { return &s }

func entry(dept, cat, sub, id string) types.ResolutionEntry {
	e := types.ResolutionEntry{
		Path:       types.CategoryPath{Department: dept, Category: cat, Subcategory: sub},
		Confidence: types.ConfidenceHigh,
		Strategy:   "semantic",
		ResolvedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
	if id != "" {
		e.ExternalID = strPtr(id)
	}
	return e
}

func openFileCache(t *testing.T, dir string) *Cache {
	t.Helper()
	store, err := cachestore.NewFileStore(dir)
	require.NoError(t, err)
	c, err := Open(context.Background(), store, "resolution_cache.json", nil)
	require.NoError(t, err)
	return c
}

func TestCache_PutGetNormalizesKeys(t *testing.T) {
	c := openFileCache(t, t.TempDir())

	c.Put(entry("Pet Supplies", "Dog", "Food", "gid://1"))
	c.Put(entry("  PET   supplies", "dog ", "FOOD", "gid://2"))

	assert.Equal(t, 1, c.Len(), "one entry per normalized key")
	got, ok := c.Get("pet supplies > dog > food")
	require.True(t, ok)
	assert.Equal(t, "gid://2", got.ID())
}

func TestCache_FlushAndReopen(t *testing.T) {
	dir := t.TempDir()
	c := openFileCache(t, dir)
	c.Put(entry("Pet Supplies", "Dog", "Food", "gid://1"))
	c.Put(entry("Tools", "Hand Tools", "Widgets", ""))
	require.NoError(t, c.Flush(context.Background()))

	reopened := openFileCache(t, dir)
	assert.Equal(t, c.Snapshot(), reopened.Snapshot())

	unresolved, ok := reopened.Get("tools > hand tools > widgets")
	require.True(t, ok)
	assert.Nil(t, unresolved.ExternalID)
}

func TestCache_PersistedFormat(t *testing.T) {
	dir := t.TempDir()
	c := openFileCache(t, dir)
	c.Put(entry("Pet Supplies", "Dog", "Food", "gid://1"))
	require.NoError(t, c.Flush(context.Background()))

	store, err := cachestore.NewFileStore(dir)
	require.NoError(t, err)
	data, err := store.Read(context.Background(), "resolution_cache.json")
	require.NoError(t, err)

	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	rec := raw["pet supplies > dog > food"]
	require.NotNil(t, rec)
	assert.Equal(t, "gid://1", rec["external_id"])
	assert.Equal(t, "high", rec["confidence"])
	assert.Equal(t, "semantic", rec["strategy"])
	assert.Equal(t, "2026-10-01T00:00:00Z", rec["resolved_at"])
}

func TestCache_ReadsMinimalRecords(t *testing.T) {
	store, err := cachestore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), "r.json", []byte(`{
		"Garden > Soil > Mulch": {"external_id": null, "confidence": "low", "strategy": "unresolved", "resolved_at": "2026-09-01T00:00:00Z"}
	}`)))

	c, err := Open(context.Background(), store, "r.json", nil)
	require.NoError(t, err)
	e, ok := c.Get("garden > soil > mulch")
	require.True(t, ok)
	assert.Equal(t, "Mulch", e.Path.Subcategory)
	assert.False(t, e.Resolved())
}

func TestCache_CorruptStartsEmpty(t *testing.T) {
	store, err := cachestore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), "r.json", []byte(`{"broken":`)))

	c, err := Open(context.Background(), store, "r.json", nil)
	var ce *CorruptError
	require.ErrorAs(t, err, &ce)
	require.NotNil(t, c)
	assert.Equal(t, 0, c.Len())

	c.Put(entry("A", "B", "C", "gid://9"))
	require.NoError(t, c.Flush(context.Background()))
	reopened, err := Open(context.Background(), store, "r.json", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
}

func TestCache_DeleteOnlyGivenKeys(t *testing.T) {
	c := openFileCache(t, t.TempDir())
	c.Put(entry("A", "B", "C", "gid://1"))
	c.Put(entry("D", "E", "F", "gid://2"))
	c.Put(entry("G", "H", "I", "gid://3"))

	n := c.Delete("a > b > c", "x > y > z")
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"d > e > f", "g > h > i"}, c.Keys())
}

func TestCache_PurgeRequiresConfirmation(t *testing.T) {
	c := openFileCache(t, t.TempDir())
	c.Put(entry("A", "B", "C", "gid://1"))

	_, err := c.Purge("yes")
	assert.ErrorIs(t, err, ErrPurgeNotConfirmed)
	assert.Equal(t, 1, c.Len())

	n, err := c.Purge(PurgeConfirmation)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, c.Len())
}

func TestCache_FlushSkipsWhenClean(t *testing.T) {
	dir := t.TempDir()
	c := openFileCache(t, dir)
	require.NoError(t, c.Flush(context.Background()))

	store, err := cachestore.NewFileStore(dir)
	require.NoError(t, err)
	_, err = store.Read(context.Background(), "resolution_cache.json")
	assert.ErrorIs(t, err, cachestore.ErrNotFound, "nothing written for an unchanged cache")
}

func TestCache_PathsDifferingByLevelPositionStaySeparate(t *testing.T) {
	dir := t.TempDir()
	c := openFileCache(t, dir)

	gap := entry("Garden", "", "Tools", "gid://gap")
	short := entry("Garden", "Tools", "", "gid://short")
	c.Put(gap)
	c.Put(short)
	require.NoError(t, c.Flush(context.Background()))

	reopened := openFileCache(t, dir)
	for _, want := range []types.ResolutionEntry{gap, short} {
		got, ok := reopened.Get(want.Path.Key())
		require.True(t, ok, want.Path.Key())
		assert.Equal(t, want.ID(), got.ID())
	}
}
