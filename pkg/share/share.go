// Package share persists code snippets behind short share links.
package share

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
	"github.com/kidcode-ai/kidcode/pkg/models"
)

// ErrNotFound is returned by Get for unknown or malformed ids.
var ErrNotFound = errors.New("share: snippet not found")

// Store saves and loads shared snippets.
type Store interface {
	Create(ctx context.Context, code, language string) (models.Snippet, error)
	Get(ctx context.Context, id string) (models.Snippet, error)
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSupabase = "supabase"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects and configures a share backend.
type Config struct {
	Driver          string        `yaml:"driver"`
	SupabaseURL     string        `yaml:"supabase_url"`
	SupabaseAnonKey string        `yaml:"supabase_anon_key"`
	PostgresURL     string        `yaml:"postgres_url"`
	DBPath          string        `yaml:"db_path"`
	Origin          string        `yaml:"origin"`
	MemoTTL         time.Duration `yaml:"memo_ttl"`
}

// Open creates the backend described by cfg, wrapped in a read-through memo.
func Open(ctx context.Context, cfg Config, client *http.Client) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		s, err = NewSQLite(cfg.DBPath)
	case DriverSupabase:
		s, err = NewSupabase(cfg.SupabaseURL, cfg.SupabaseAnonKey, client)
	case DriverPostgres:
		s, err = NewPostgres(ctx, cfg.PostgresURL)
	default:
		return nil, apperr.Configuration(fmt.Sprintf("unknown share driver %q", cfg.Driver))
	}
	if err != nil {
		return nil, err
	}
	return NewMemo(s, cfg.MemoTTL), nil
}

// URL returns the public link for a snippet.
func URL(origin, id string) string {
	return strings.TrimRight(origin, "/") + "/share/" + url.PathEscape(id)
}
