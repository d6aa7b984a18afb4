// Package store provides the durable key/value storage the response cache
// persists into. It plays the role of browser local storage: a small number
// of keys, each holding a JSON document, last write wins.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("store: key not found")

// Store is a durable key/value store.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set replaces the value for key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases any resources held by the store.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config selects and configures a Store backend.
type Config struct {
	Driver string `yaml:"driver"`
	// Path is a directory for the file driver and a database path for sqlite.
	Path string `yaml:"path"`
	// URL is the redis connection URL.
	URL string `yaml:"url"`
	// Prefix namespaces redis keys.
	Prefix string `yaml:"prefix"`
}

// Open creates the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFile, "":
		return NewFile(cfg.Path), nil
	case DriverSQLite:
		return NewSQLite(cfg.Path)
	case DriverRedis:
		return NewRedis(ctx, cfg.URL, cfg.Prefix)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
