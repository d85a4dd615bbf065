package projectioncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	// DefaultTTL bounds how stale a cached projection can get without an invalidation.
	DefaultTTL      = 5 * time.Second
	keyPrefix       = "parkwise:projection:"
	versionKey      = keyPrefix + "version"
	defaultVersion  = "0"
	KeySpots        = "spots"
	KeyDashboard    = "dashboard"
	spotsKeyPattern = KeySpots + ":%d:%s"
)

// Cache stores read projections (spot listings, dashboard counts) in redis.
// Keys are namespaced by a version counter; Invalidate bumps it so every
// existing entry is skipped at once. A nil *Cache is a valid, disabled cache.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New returns a cache over client.
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// SpotsKey names the cached listing for a floor/block filter.
func SpotsKey(floorNumber int32, blockName string) string {
	return fmt.Sprintf(spotsKeyPattern, floorNumber, blockName)
}

// Get decodes the cached value for name into target and reports whether it was present.
func (cache *Cache) Get(ctx context.Context, name string, target any) (bool, error) {
	key, err := cache.versionedKey(ctx, name)
	if err != nil {
		return false, err
	}
	raw, err := cache.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under name for the configured TTL.
func (cache *Cache) Set(ctx context.Context, name string, value any) error {
	key, err := cache.versionedKey(ctx, name)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := cache.client.Set(ctx, key, raw, cache.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Invalidate retires every cached projection.
func (cache *Cache) Invalidate(ctx context.Context) error {
	if cache == nil {
		return nil
	}
	if err := cache.client.Incr(ctx, versionKey).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

func (cache *Cache) versionedKey(ctx context.Context, name string) (string, error) {
	version, err := cache.client.Get(ctx, versionKey).Result()
	if errors.Is(err, redis.Nil) {
		version = defaultVersion
	} else if err != nil {
		return "", fmt.Errorf("cache version: %w", err)
	}
	if _, parseErr := strconv.ParseInt(version, 10, 64); parseErr != nil {
		version = defaultVersion
	}
	return keyPrefix + "v" + version + ":" + name, nil
}

// Load returns the cached value for name, or calls load and caches its result.
// Cache failures are logged and fall through to load.
func Load[T any](ctx context.Context, cache *Cache, name string, load func(ctx context.Context) (T, error)) (T, error) {
	if cache == nil {
		return load(ctx)
	}
	var cached T
	found, err := cache.Get(ctx, name, &cached)
	if err != nil {
		cache.logger.Warn("projection cache read failed", zap.String("key", name), zap.Error(err))
	}
	if found {
		return cached, nil
	}
	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if err := cache.Set(ctx, name, value); err != nil {
		cache.logger.Warn("projection cache write failed", zap.String("key", name), zap.Error(err))
	}
	return value, nil
}
