// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cachestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileStore keeps each object as a file in one directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the store's directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid cache object name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Read returns the content of the named file, or ErrNotFound.
func (s *FileStore) Read(_ context.Context, name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return data, nil
}

// Write replaces the named file by writing a temp file in the same
// directory and renaming it over the target.
func (s *FileStore) Write(_ context.Context, name string, data []byte) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	return WriteFileAtomic(p, data)
}

// WriteFileAtomic writes data to path through a temp file and rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// FileLocker holds run locks as exclusively created files.
type FileLocker struct {
	dir string
}

// NewFileLocker returns a locker that creates lock files in dir.
func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{dir: dir}
}

// Lock creates dir/name.lock. It fails with ErrLocked if the file exists.
// A crashed run leaves the file behind; remove it by hand after checking
// that no run is active.
func (l *FileLocker) Lock(_ context.Context, name string) (func(context.Context) error, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	p := filepath.Join(l.dir, name+".lock")
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			holder, _ := os.ReadFile(p)
			return nil, fmt.Errorf("%w (%s: %s)", ErrLocked, p, strings.TrimSpace(string(holder)))
		}
		return nil, fmt.Errorf("creating lock file: %w", err)
	}
	fmt.Fprintf(f, "pid %s since %s\n", strconv.Itoa(os.Getpid()), time.Now().UTC().Format(time.RFC3339))
	f.Close()

	return func(context.Context) error {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing lock file: %w", err)
		}
		return nil
	}, nil
}
