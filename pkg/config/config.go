package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/kidcode-ai/kidcode/pkg/cache"
	"github.com/kidcode-ai/kidcode/pkg/models"
	"github.com/kidcode-ai/kidcode/pkg/provider"
	"github.com/kidcode-ai/kidcode/pkg/share"
	"github.com/kidcode-ai/kidcode/pkg/store"
)

// Config holds all kidcode configuration.
type Config struct {
	Listen     string             `yaml:"listen"`
	Logging    LoggingConfig      `yaml:"logging"`
	Providers  provider.Config    `yaml:"providers"`
	Storage    store.Config       `yaml:"storage"`
	Cache      CacheConfig        `yaml:"cache"`
	RateLimit  RateLimitConfig    `yaml:"rate_limit"`
	Share      share.Config       `yaml:"share"`
	Audit      models.AuditConfig `yaml:"audit"`
	Workspaces WorkspaceConfig    `yaml:"workspaces"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr or file
	File   struct {
		Path       string `yaml:"path"`
		MaxSize    int    `yaml:"max_size"` // megabytes
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
	} `yaml:"file"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	MaxAge     time.Duration `yaml:"max_age"`
	MaxEntries int           `yaml:"max_entries"`
}

// RateLimitConfig bounds upstream calls.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// WorkspaceConfig bounds the HTTP server's per-session workspaces.
type WorkspaceConfig struct {
	// IdleTTL is how long an unused workspace is kept before its chat and
	// editor state are dropped.
	IdleTTL time.Duration `yaml:"idle_ttl"`
	// Max caps the number of live workspaces; new sessions beyond it are
	// refused.
	Max int `yaml:"max"`
}

// Workspace defaults.
const (
	DefaultWorkspaceIdleTTL = 30 * time.Minute
	DefaultMaxWorkspaces    = 1000
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	cfg := &Config{
		Listen: ":8080",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Providers: provider.Config{
			Preferred: provider.OpenAI,
		},
		Storage: store.Config{
			Driver: store.DriverFile,
			Path:   "kidcode-data",
			Prefix: store.DefaultRedisPrefix,
		},
		Cache: CacheConfig{
			MaxAge:     cache.DefaultMaxAge,
			MaxEntries: cache.DefaultMaxEntries,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: provider.DefaultRequestsPerMinute,
			Burst:             5,
		},
		Share: share.Config{
			Driver:  share.DriverSQLite,
			DBPath:  "kidcode-share.db",
			Origin:  "http://localhost:8080",
			MemoTTL: share.DefaultMemoTTL,
		},
		Audit: models.AuditConfig{
			Enabled:       false,
			DBPath:        "kidcode-audit.db",
			RetentionDays: 30,
			MaxErrorSize:  2048,
		},
		Workspaces: WorkspaceConfig{
			IdleTTL: DefaultWorkspaceIdleTTL,
			Max:     DefaultMaxWorkspaces,
		},
	}
	cfg.Logging.File.Path = "logs/kidcode.log"
	cfg.Logging.File.MaxSize = 100
	cfg.Logging.File.MaxBackups = 3
	cfg.Logging.File.MaxAge = 28
	return cfg
}

// Load reads a YAML config file, expands environment variables and applies
// environment overrides. An empty path or a missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		c.Providers.Preferred = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("HUGGINGFACE_API_KEY"); v != "" {
		c.Providers.HuggingFace.APIKey = v
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		c.Share.SupabaseURL = v
	}
	if v := os.Getenv("SUPABASE_ANON_KEY"); v != "" {
		c.Share.SupabaseAnonKey = v
	}
}

// Validate checks the settings that do not depend on external services.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if _, err := provider.Resolve(c.Providers); err != nil {
		errs = append(errs, fmt.Errorf("providers.preferred: %w", err))
	}
	switch c.Storage.Driver {
	case store.DriverFile, store.DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for the %s driver", c.Storage.Driver))
		}
	case store.DriverRedis:
		if c.Storage.URL == "" {
			errs = append(errs, errors.New("storage.url is required for the redis driver"))
		}
	case store.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Cache.MaxAge <= 0 {
		errs = append(errs, errors.New("cache.max_age must be positive"))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache.max_entries must be positive"))
	}
	switch c.Share.Driver {
	case share.DriverSQLite, share.DriverSupabase, share.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown share driver %q", c.Share.Driver))
	}
	if c.Audit.Enabled && c.Audit.DBPath == "" {
		errs = append(errs, errors.New("audit.db_path is required when audit is enabled"))
	}
	if c.Workspaces.IdleTTL <= 0 {
		errs = append(errs, errors.New("workspaces.idle_ttl must be positive"))
	}
	if c.Workspaces.Max <= 0 {
		errs = append(errs, errors.New("workspaces.max must be positive"))
	}
	return errors.Join(errs...)
}
