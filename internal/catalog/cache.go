package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"
)

// CacheConfig holds read-through cache configuration
type CacheConfig struct {
	Enabled  bool          `envconfig:"REDIS_ENABLED" default:"false"`
	Addr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string        `envconfig:"REDIS_PASSWORD"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	TTL      time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"5m"`
}

// CacheBackend stores opaque values with a TTL
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a CacheBackend on go-redis
type RedisCache struct {
	client *redis.Client
}

// NewRedisClient connects and pings Redis
func NewRedisClient(ctx context.Context, cfg CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// NewRedisCache wraps a connected client
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get implements CacheBackend
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set implements CacheBackend
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Cached decorates a Catalog with a read-through cache. Concurrent misses
// for the same key share one backing lookup. Not-found results are not cached.
type Cached struct {
	next    Catalog
	backend CacheBackend
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

// NewCached wraps next
func NewCached(next Catalog, backend CacheBackend, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{next: next, backend: backend, ttl: ttl, logger: logger}
}

func readThrough[T any](ctx context.Context, c *Cached, key string, load func() (T, error)) (T, error) {
	var zero T
	if raw, ok, err := c.backend.Get(ctx, key); err != nil {
		c.logger.Warn("catalog cache read failed", "key", key, "error", err)
	} else if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		c.logger.Warn("catalog cache entry unreadable", "key", key)
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A previous flight may have filled the key since our miss.
		if raw, ok, err := c.backend.Get(ctx, key); err == nil && ok {
			var cachedValue T
			if err := json.Unmarshal(raw, &cachedValue); err == nil {
				return cachedValue, nil
			}
		}
		loaded, err := load()
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(loaded); err == nil {
			if err := c.backend.Set(ctx, key, raw, c.ttl); err != nil {
				c.logger.Warn("catalog cache write failed", "key", key, "error", err)
			}
		}
		return loaded, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// Property implements Catalog
func (c *Cached) Property(ctx context.Context, id string) (*Property, error) {
	return readThrough(ctx, c, "catalog:property:"+id, func() (*Property, error) {
		return c.next.Property(ctx, id)
	})
}

// Room implements Catalog
func (c *Cached) Room(ctx context.Context, id string) (*Room, error) {
	return readThrough(ctx, c, "catalog:room:"+id, func() (*Room, error) {
		return c.next.Room(ctx, id)
	})
}

// RoomType implements Catalog
func (c *Cached) RoomType(ctx context.Context, id string) (*RoomType, error) {
	return readThrough(ctx, c, "catalog:room_type:"+id, func() (*RoomType, error) {
		return c.next.RoomType(ctx, id)
	})
}

// RatePlan implements Catalog
func (c *Cached) RatePlan(ctx context.Context, id string) (*RatePlan, error) {
	return readThrough(ctx, c, "catalog:rate_plan:"+id, func() (*RatePlan, error) {
		return c.next.RatePlan(ctx, id)
	})
}

// RoomsByProperty implements Catalog
func (c *Cached) RoomsByProperty(ctx context.Context, propertyID string) ([]*Room, error) {
	return readThrough(ctx, c, "catalog:rooms:"+propertyID, func() ([]*Room, error) {
		return c.next.RoomsByProperty(ctx, propertyID)
	})
}
