// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	GitHub GitHubConfig
	Cache  CacheConfig

	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Orgs served by GET /repos without an org query and warmed by the worker
	Orgs         []string      `env:"EXPLORER_ORGS" envDefault:"algorand,algorandfoundation" envSeparator:","`
	WarmInterval time.Duration `env:"WARM_INTERVAL" envDefault:"0s"`

	// AdminToken guards DELETE /cache; empty disables the endpoint
	AdminToken string `env:"ADMIN_TOKEN"`
}

// GitHubConfig holds GitHub API configuration
type GitHubConfig struct {
	BaseURL string `env:"GITHUB_API_URL" envDefault:"https://api.github.com"`
	Token   string `env:"GITHUB_TOKEN"`
}

// CacheConfig selects and configures the cache store
type CacheConfig struct {
	Backend   string `env:"CACHE_BACKEND" envDefault:"file"`
	Dir       string `env:"CACHE_DIR"`
	Namespace string `env:"CACHE_NAMESPACE" envDefault:"github"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	cfg.Orgs = normalizeOrgs(cfg.Orgs)
	return &cfg, nil
}

func normalizeOrgs(orgs []string) []string {
	out := make([]string, 0, len(orgs))
	for _, o := range orgs {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate checks the combinations env parsing cannot
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendFile, BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("CACHE_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}
	if c.WarmInterval < 0 {
		return fmt.Errorf("WARM_INTERVAL must not be negative, got %s", c.WarmInterval)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return nil
}

// Logger builds the process logger at the configured level
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
