package store

import (
	"context"
	"fmt"
	"log/slog"

	"taxdesk/internal/platform/config"
	"taxdesk/internal/platform/postgres"
	platformredis "taxdesk/internal/platform/redis"
)

// PolicyFromConfig builds the search match policy.
func PolicyFromConfig(cfg config.SearchConfig) (MatchPolicy, error) {
	mode, err := ParseMatchMode(cfg.MatchMode)
	if err != nil {
		return MatchPolicy{}, err
	}
	policy := MatchPolicy{Mode: mode, CaseSensitive: cfg.CaseSensitive}
	return policy, policy.Validate()
}

// Open builds the configured backend. close releases its connections and is
// never nil.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Backend, func(), error) {
	noop := func() {}
	policy, err := PolicyFromConfig(cfg.Search)
	if err != nil {
		return nil, noop, err
	}

	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, noop, err
		}
		backend, err := NewPostgres(pool, policy)
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		if err := backend.Migrate(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("migrate taxpayers: %w", err)
		}
		logger.InfoContext(ctx, "record store backend ready", "backend", cfg.Backend, "match", policy.String())
		return backend, pool.Close, nil

	case config.BackendRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, noop, err
		}
		backend, err := NewRedis(client.Client, cfg.Redis.KeyPrefix, policy)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		logger.InfoContext(ctx, "record store backend ready", "backend", cfg.Backend, "match", policy.String())
		return backend, func() { _ = client.Close() }, nil

	case config.BackendMemory, "":
		backend, err := NewMemory(policy)
		if err != nil {
			return nil, noop, err
		}
		logger.InfoContext(ctx, "record store backend ready", "backend", config.BackendMemory, "match", policy.String())
		return backend, noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown record store backend %q", cfg.Backend)
	}
}
