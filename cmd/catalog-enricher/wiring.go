// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-enricher/internal/cachestore"
	"github.com/pdiddy/catalog-enricher/internal/extaxonomy"
	"github.com/pdiddy/catalog-enricher/internal/provider"
	"github.com/pdiddy/catalog-enricher/internal/provider/anthropic"
	"github.com/pdiddy/catalog-enricher/internal/provider/gemini"
	"github.com/pdiddy/catalog-enricher/internal/resolution"
	"github.com/pdiddy/catalog-enricher/internal/resolve"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// runLockName is the lock serializing runs that share the caches.
const runLockName = "catalog-enricher"

// session holds the opened caches of one command.
type session struct {
	cfg      types.PipelineConfig
	backend  *cachestore.Backend
	taxonomy *extaxonomy.Cache
	cache    *resolution.Cache
	unlock   func(context.Context) error
}

// openSession opens the storage backend and the resolution cache. With
// lock set it also takes the run lock.
func openSession(ctx context.Context, cfg types.PipelineConfig, lock bool) (*session, error) {
	backend, err := cachestore.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening cache storage: %w", err)
	}
	s := &session{cfg: cfg, backend: backend}

	if lock {
		unlock, err := backend.Locker.Lock(ctx, runLockName)
		if err != nil {
			backend.Close()
			return nil, err
		}
		s.unlock = unlock
	}

	s.taxonomy = extaxonomy.NewCache(backend.Store, cfg.Taxonomy.CacheName, extaxonomy.NewHTTPFetcher(cfg.Taxonomy),
		extaxonomy.WithWindow(cfg.Taxonomy.FreshnessWindow),
		extaxonomy.WithLogger(logger.Named("taxonomy")))

	s.cache, err = resolution.Open(ctx, backend.Store, cfg.Resolver.CacheName, logger.Named("resolution"))
	if err != nil {
		var corrupt *resolution.CorruptError
		if !errors.As(err, &corrupt) {
			s.Close(ctx)
			return nil, err
		}
		logger.Warn("resolution cache was corrupt and starts empty", zap.Error(err))
	}
	logger.Debug("cache storage opened", zap.String("backend", backend.Name))
	return s, nil
}

// Close releases the lock and the backend.
func (s *session) Close(ctx context.Context) {
	if s.unlock != nil {
		if err := s.unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("releasing run lock", zap.Error(err))
		}
	}
	if err := s.backend.Close(); err != nil {
		logger.Warn("closing cache storage", zap.Error(err))
	}
}

// snapshot loads the external taxonomy. A failed fetch yields a nil snapshot
// so the resolver runs from cached resolutions only.
func (s *session) snapshot(ctx context.Context) (*extaxonomy.Snapshot, error) {
	snap, err := s.taxonomy.Load(ctx)
	if err == nil {
		return snap, nil
	}
	var fetchErr *extaxonomy.FetchError
	if errors.As(err, &fetchErr) {
		logger.Warn("external taxonomy unavailable, serving cached resolutions only", zap.Error(err))
		return nil, nil
	}
	return nil, err
}

// resolver builds a resolver over the session's caches.
func (s *session) resolver(ctx context.Context, v provider.Validator, opts ...resolve.Option) (*resolve.Resolver, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	opts = append([]resolve.Option{resolve.WithLogger(logger.Named("resolve"))}, opts...)
	return resolve.New(s.cache, snap, v, s.cfg.Resolver, opts...)
}

// newProvider builds the configured AI provider. The batch provider is nil
// for backends without a batch API.
func newProvider(ctx context.Context, cfg types.AIConfig) (*provider.Service, provider.BatchProvider, error) {
	log := logger.Named("provider")
	switch cfg.Provider {
	case types.ProviderGemini:
		c, err := gemini.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return provider.NewService(c, log), nil, nil
	case types.ProviderAnthropic, "":
		c, err := anthropic.NewClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		return provider.NewService(c, log), c, nil
	}
	return nil, nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
}
