package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// File stores each key as a JSON file inside a directory.
// Suitable for a single local instance.
type File struct {
	mu  sync.RWMutex
	dir string
}

// NewFile creates a file-backed store rooted at dir. The directory is created
// on first write.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".json")
}

func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (f *File) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	// Write atomically using temp file + rename
	target := f.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close is a no-op for the file store.
func (f *File) Close() error { return nil }
