package device

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/c8y"
	"github.com/rs/zerolog"
)

// Registry resolves device external ids to managed objects for one tenant.
// It is safe for concurrent use by all of the tenant's pipeline workers.
type Registry struct {
	head   Fetcher
	logger zerolog.Logger
}

// NewRegistry assembles the per-tenant fetch chain: LRU in front, Redis when
// configured, the platform identity API at the end. An unreachable Redis is
// skipped with a warning so the registry still works, it just shares nothing
// across service instances.
func NewRegistry(ctx context.Context, tenantID string, client *c8y.Client, cfg Config, redisCfg *RedisConfig, logger zerolog.Logger) (*Registry, error) {
	logger = logger.With().Str("component", "DeviceRegistry").Str("tenant", tenantID).Logger()

	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}

	var chain Fetcher = newPlatformSource(client, cfg, logger)

	if redisCfg != nil && redisCfg.Addr != "" {
		if redisCfg.CacheTTL <= 0 {
			redisCfg.CacheTTL = cfg.CacheTTL
		}
		keyPrefix := fmt.Sprintf("pulsarmapper:device:%s:", tenantID)
		redisLayer, err := newRedisCache(ctx, redisCfg, keyPrefix, chain, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis device cache unavailable, continuing without it.")
		} else {
			chain = redisLayer
		}
	}

	lru, err := newLRUCache(cfg.CacheSize, chain)
	if err != nil {
		return nil, fmt.Errorf("creating device cache: %w", err)
	}

	return &Registry{head: lru, logger: logger}, nil
}

// Resolve returns the managed object reference for a device external id,
// creating the device first when auto-provisioning is on.
func (r *Registry) Resolve(ctx context.Context, externalID string) (*c8y.ManagedObjectRef, error) {
	if externalID == "" {
		return nil, fmt.Errorf("empty device external id")
	}
	return r.head.Fetch(ctx, externalID)
}

// Close releases all cache layers.
func (r *Registry) Close() error {
	r.logger.Debug().Msg("Closing device registry.")
	return r.head.Close()
}
