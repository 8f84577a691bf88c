package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/c8y"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the connection settings for the shared device cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// redisCache shares device resolutions across service instances. Keys are
// tenant-scoped through the prefix so tenants never see each other's
// entries. Redis problems degrade to the fallback; they never fail a fetch.
type redisCache struct {
	redisClient *redis.Client
	keyPrefix   string
	ttl         time.Duration
	fallback    Fetcher
	logger      zerolog.Logger
}

func newRedisCache(ctx context.Context, cfg *RedisConfig, keyPrefix string, fallback Fetcher, logger zerolog.Logger) (*redisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	logger = logger.With().Str("component", "RedisDeviceCache").Logger()
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &redisCache{
		redisClient: rdb,
		keyPrefix:   keyPrefix,
		ttl:         ttl,
		fallback:    fallback,
		logger:      logger,
	}, nil
}

// Fetch checks Redis first. On a miss it fetches from the fallback, writes
// the result back in the background and returns the value.
func (c *redisCache) Fetch(ctx context.Context, key string) (*c8y.ManagedObjectRef, error) {
	ref, err := c.fetchFromRedis(ctx, key)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, redis.Nil) {
		// A broken or unreachable cache must not block submission.
		c.logger.Warn().Err(err).Str("key", c.keyPrefix+key).Msg("Redis fetch failed, falling back to source.")
	}

	if c.fallback == nil {
		return nil, fmt.Errorf("device %q not cached and no fallback is configured", key)
	}

	ref, err = c.fallback.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	// Write back off the request path.
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if writeErr := c.write(writeCtx, key, ref); writeErr != nil {
			c.logger.Error().Err(writeErr).Str("key", c.keyPrefix+key).Msg("Failed to write device to cache in background.")
		}
	}()

	return ref, nil
}

func (c *redisCache) fetchFromRedis(ctx context.Context, key string) (*c8y.ManagedObjectRef, error) {
	cached, err := c.redisClient.Get(ctx, c.keyPrefix+key).Result()
	if err != nil {
		return nil, err
	}

	var ref c8y.ManagedObjectRef
	if err := json.Unmarshal([]byte(cached), &ref); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached device: %w", err)
	}
	c.logger.Debug().Str("key", c.keyPrefix+key).Msg("Redis device cache hit.")
	return &ref, nil
}

func (c *redisCache) write(ctx context.Context, key string, ref *c8y.ManagedObjectRef) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}
	if err := c.redisClient.Set(ctx, c.keyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set device in redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection and the rest of the chain.
func (c *redisCache) Close() error {
	closeErr := c.redisClient.Close()
	if c.fallback != nil {
		if err := c.fallback.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}
