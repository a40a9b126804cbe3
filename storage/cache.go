package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

// ConfigCache wraps a ConfigStore with Redis-backed caching for configuration reads.
type ConfigCache struct {
	base  ConfigStore
	redis *redis.Client
	ttl   time.Duration
}

// NewConfigCache creates a caching ConfigStore using the provided Redis client and TTL.
func NewConfigCache(base ConfigStore, client *redis.Client, ttl time.Duration) *ConfigCache {
	if base == nil {
		panic("storage.NewConfigCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &ConfigCache{base: base, redis: client, ttl: ttl}
}

func (c *ConfigCache) GetConfig(ctx context.Context, appID string) (*domain.AppConfig, error) {
	if cfg, ok := c.loadConfig(ctx, appID); ok {
		return cfg, nil
	}
	cfg, err := c.base.GetConfig(ctx, appID)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		c.storeConfig(ctx, appID, *cfg)
	}
	return cfg, nil
}

func (c *ConfigCache) PutConfig(ctx context.Context, appID string, cfg domain.AppConfig) error {
	if err := c.base.PutConfig(ctx, appID, cfg); err != nil {
		return err
	}
	c.evict(ctx, configCacheKey(appID))
	return nil
}

// GetUserApps is not cached; the admin index is read rarely.
func (c *ConfigCache) GetUserApps(ctx context.Context, userID string) ([]string, error) {
	return c.base.GetUserApps(ctx, userID)
}

func (c *ConfigCache) PutUserApps(ctx context.Context, userID string, appIDs []string) error {
	return c.base.PutUserApps(ctx, userID, appIDs)
}

func (c *ConfigCache) loadConfig(ctx context.Context, appID string) (*domain.AppConfig, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, configCacheKey(appID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, configCacheKey(appID)).Err()
		}
		return nil, false
	}
	var cfg domain.AppConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		_ = c.redis.Del(ctx, configCacheKey(appID)).Err()
		return nil, false
	}
	return &cfg, true
}

func (c *ConfigCache) storeConfig(ctx context.Context, appID string, cfg domain.AppConfig) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(cfg)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, configCacheKey(appID), data, c.ttl).Err()
}

func (c *ConfigCache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func configCacheKey(appID string) string {
	return "config:" + appID
}
