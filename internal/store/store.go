// Package store opens the cache backend selected by configuration and wires
// the cached GitHub service on top of it.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/repoexplorer/cache"
	"github.com/briangreenhill/repoexplorer/githubapi"
	"github.com/briangreenhill/repoexplorer/internal/config"
	"github.com/briangreenhill/repoexplorer/repos"
)

// Handle owns an opened backend. Close releases any connection the backend holds.
type Handle struct {
	Store   cache.Store
	Backend string
	closers []func() error
}

func (h *Handle) Close() error {
	var first error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	h.closers = nil
	return first
}

// Open connects the configured backend. Redis and Postgres are pinged so a
// bad address fails at startup rather than on the first request.
func Open(ctx context.Context, cfg *config.Config) (*Handle, error) {
	h := &Handle{Backend: cfg.Cache.Backend}

	switch cfg.Cache.Backend {
	case config.BackendFile, "":
		fs, err := cache.NewFileStore(cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("open file cache: %w", err)
		}
		h.Store = fs
		h.Backend = config.BackendFile

	case config.BackendMemory:
		ms, err := cache.NewMemoryStore()
		if err != nil {
			return nil, fmt.Errorf("open memory cache: %w", err)
		}
		h.Store = ms

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		h.Store = cache.NewRedisStore(rdb, cache.DefaultRedisPrefix)
		h.closers = append(h.closers, rdb.Close)

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		ps, err := cache.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		h.Store = ps
		h.closers = append(h.closers, func() error { pool.Close(); return nil })

	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q", cfg.Cache.Backend)
	}
	return h, nil
}

// NewService builds the GitHub client, the expiring cache over h.Store and
// the repository service that ties them together.
func NewService(cfg *config.Config, h *Handle, logger zerolog.Logger) *repos.Service {
	client := githubapi.New(
		githubapi.WithBaseURL(cfg.GitHub.BaseURL),
		githubapi.WithToken(cfg.GitHub.Token),
		githubapi.WithLogger(logger.With().Str("component", "githubapi").Logger()),
	)
	c := cache.NewExpiring(h.Store, cache.WithLogger(logger.With().Str("component", "cache").Logger()))
	return repos.NewService(c, client,
		repos.WithNamespace(cfg.Cache.Namespace),
		repos.WithLogger(logger.With().Str("component", "repos").Logger()),
	)
}
