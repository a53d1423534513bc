package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/model"
)

const backpackCacheKey = "pubg:backpackinfo"

// Cache stores provider responses for a short time.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a Cache backed by a redis server.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the server at url and pings it.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

type memoryItem struct {
	value   []byte
	expires time.Time
}

// MemoryCache is an in-process Cache with per-entry expiry.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(item.expires) {
		delete(m.items, key)
		return nil, false, nil
	}
	return item.value, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryItem{value: value, expires: m.now().Add(ttl)}
	return nil
}

// FallbackCache uses primary and switches to secondary for any operation the
// primary fails.
type FallbackCache struct {
	primary   Cache
	secondary Cache
	logger    *zap.Logger
}

func NewFallbackCache(primary, secondary Cache, logger *zap.Logger) *FallbackCache {
	return &FallbackCache{primary: primary, secondary: secondary, logger: logger}
}

func (f *FallbackCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok, err := f.primary.Get(ctx, key)
	if err == nil {
		return val, ok, nil
	}
	f.logger.Warn("cache get failed, using memory", zap.String("key", key), zap.Error(err))
	return f.secondary.Get(ctx, key)
}

func (f *FallbackCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.primary.Set(ctx, key, value, ttl); err != nil {
		f.logger.Warn("cache set failed, using memory", zap.String("key", key), zap.Error(err))
		return f.secondary.Set(ctx, key, value, ttl)
	}
	return nil
}

// CachedSource serves backpack lists from cache for ttl before asking the
// provider again. Players and circle always go to the provider.
type CachedSource struct {
	Source
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedSource(src Source, cache Cache, ttl time.Duration, logger *zap.Logger) *CachedSource {
	return &CachedSource{Source: src, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedSource) Backpacks(ctx context.Context) ([]model.BackpackItem, error) {
	if c.ttl <= 0 {
		return c.Source.Backpacks(ctx)
	}

	if raw, ok, err := c.cache.Get(ctx, backpackCacheKey); err != nil {
		c.logger.Warn("backpack cache read failed", zap.Error(err))
	} else if ok {
		var items []model.BackpackItem
		if err := json.Unmarshal(raw, &items); err == nil {
			return items, nil
		}
		c.logger.Warn("discarding unreadable cached backpack list")
	}

	items, err := c.Source.Backpacks(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(items)
	if err == nil {
		err = c.cache.Set(ctx, backpackCacheKey, raw, c.ttl)
	}
	if err != nil {
		c.logger.Warn("backpack cache write failed", zap.Error(err))
	}
	return items, nil
}
