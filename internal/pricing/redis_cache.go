package pricing

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the shared price cache.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string // default "price:"
}

// RedisCache shares prices between processes through Redis.
// Read and write failures degrade to cache misses.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisCache connects and pings Redis.
func NewRedisCache(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "price:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", cfg.Address)
	}

	return &RedisCache{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: logger.Named("price_cache"),
	}, nil
}

// NewCache returns a RedisCache when cfg.Address is set and reachable,
// otherwise a MemoryCache.
func NewCache(ctx context.Context, cfg RedisConfig, logger *zap.Logger) Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Address == "" {
		return NewMemoryCache()
	}
	rc, err := NewRedisCache(ctx, cfg, logger)
	if err != nil {
		logger.Warn("redis price cache unavailable, using memory cache", zap.Error(err))
		return NewMemoryCache()
	}
	return rc
}

func (c *RedisCache) key(assetID string) string {
	return c.prefix + assetID
}

// Get returns the cached price.
func (c *RedisCache) Get(ctx context.Context, assetID string) (float64, bool) {
	val, err := c.client.Get(ctx, c.key(assetID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("redis get failed", zap.String("asset", assetID), zap.Error(err))
		}
		return 0, false
	}
	price, err := strconv.ParseFloat(val, 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

// Set stores price for ttl.
func (c *RedisCache) Set(ctx context.Context, assetID string, price float64, ttl time.Duration) {
	val := strconv.FormatFloat(price, 'g', -1, 64)
	if err := c.client.Set(ctx, c.key(assetID), val, ttl).Err(); err != nil {
		c.logger.Debug("redis set failed", zap.String("asset", assetID), zap.Error(err))
	}
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
