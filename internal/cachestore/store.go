// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cachestore persists the pipeline's JSON caches. A Store reads and
// writes whole named objects; every Write replaces the object atomically, so a
// reader sees either the previous or the new content, never a partial one.
//
// Three backends are provided: a local directory, an S3-compatible bucket, and
// a Redis server. Open selects one from types.StorageConfig and pairs it with a
// Locker that serializes runs sharing the same caches.
package cachestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// ErrNotFound is returned by Read when the named object does not exist.
var ErrNotFound = errors.New("cache object not found")

// ErrLocked is returned by Lock when another run holds the lock.
var ErrLocked = errors.New("cache is locked by another run")

// Store reads and writes named cache objects.
type Store interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
}

// Locker grants a run exclusive use of the caches.
type Locker interface {
	// Lock acquires the named lock or returns ErrLocked. The returned
	// function releases it.
	Lock(ctx context.Context, name string) (unlock func(context.Context) error, err error)
}

// Backend is an opened Store with its matching Locker.
type Backend struct {
	Store  Store
	Locker Locker
	Name   string

	closer func() error
}

// Close releases backend connections.
func (b *Backend) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	return b.closer()
}

// Open builds the backend selected by cfg.Backend. The S3 backend has no
// native lock, so runs are serialized with a lock file under cfg.Dir.
func Open(ctx context.Context, cfg types.StorageConfig) (*Backend, error) {
	switch cfg.Backend {
	case types.StorageFile, "":
		fs, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: fs, Locker: NewFileLocker(cfg.Dir), Name: "file:" + cfg.Dir}, nil

	case types.StorageS3:
		s3, err := NewS3Store(cfg.S3)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s3, Locker: NewFileLocker(cfg.Dir), Name: "s3:" + cfg.S3.Bucket}, nil

	case types.StorageRedis:
		rdb, err := dialRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Store:  NewRedisStore(rdb, cfg.Redis.KeyPrefix),
			Locker: NewRedisLocker(rdb, cfg.Redis.KeyPrefix, cfg.LockTTL),
			Name:   "redis:" + cfg.Redis.Addr,
			closer: rdb.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
