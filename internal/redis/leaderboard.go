package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowfc-progression/internal/config"
	"github.com/flowfc-progression/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const generationKey = "leaderboard:generation"

// LeaderboardCache keeps ranked leaderboard views in Redis.
//
// Views live under the generation counter that was current when their
// computation started. Invalidate increments the counter, which makes every
// older view unreachable; old keys expire through their TTL.
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewLeaderboardCache connects to Redis and creates a leaderboard cache
func NewLeaderboardCache(ctx context.Context, cfg *config.RedisConfig, ttl time.Duration, logger *slog.Logger) (*LeaderboardCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewLeaderboardCacheWithClient(client, ttl, logger), nil
}

// NewLeaderboardCacheWithClient wraps an existing client
func NewLeaderboardCacheWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *LeaderboardCache) Close() error {
	return c.client.Close()
}

// Client returns the underlying Redis client
func (c *LeaderboardCache) Client() *redis.Client {
	return c.client
}

// Ping checks the Redis connection
func (c *LeaderboardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// viewKey returns the Redis key for one metric's view in a generation
func (c *LeaderboardCache) viewKey(generation int64, metric domain.Metric) string {
	return fmt.Sprintf("leaderboard:view:%d:%s", generation, metric)
}

// Generation returns the current generation, 0 before the first invalidation
func (c *LeaderboardCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("getting generation: %w", err)
	}
	return gen, nil
}

// Get returns the cached view for metric in the current generation. On a
// miss the generation is still returned so the caller can store its result
// under it.
func (c *LeaderboardCache) Get(ctx context.Context, metric domain.Metric) ([]domain.LeaderboardEntry, int64, bool, error) {
	gen, err := c.Generation(ctx)
	if err != nil {
		return nil, 0, false, err
	}

	data, err := c.client.Get(ctx, c.viewKey(gen, metric)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, fmt.Errorf("getting %s view: %w", metric, err)
	}

	var entries []domain.LeaderboardEntry
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		// A corrupt view is treated as a miss and overwritten by the caller.
		c.logger.Warn("discarding undecodable leaderboard view",
			"metric", metric,
			"generation", gen,
			"error", err,
		)
		return nil, gen, false, nil
	}
	return entries, gen, true, nil
}

// Set stores a computed view under generation
func (c *LeaderboardCache) Set(ctx context.Context, metric domain.Metric, generation int64, entries []domain.LeaderboardEntry) error {
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	data, err := msgpack.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding %s view: %w", metric, err)
	}
	if err := c.client.Set(ctx, c.viewKey(generation, metric), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("setting %s view: %w", metric, err)
	}
	return nil
}

// Invalidate advances the generation so no cached view survives a new
// stat record
func (c *LeaderboardCache) Invalidate(ctx context.Context, playerID string) error {
	gen, err := c.client.Incr(ctx, generationKey).Result()
	if err != nil {
		return fmt.Errorf("advancing generation: %w", err)
	}
	c.logger.Debug("leaderboard cache invalidated",
		"player_id", playerID,
		"generation", gen,
	)
	return nil
}
