package valuation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrCacheMiss is returned by Cache implementations when no entry exists.
var ErrCacheMiss = errors.New("valuation: cache miss")

// Cache stores serialised results by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache stores results in Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "valuation:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("valuation: redis get: %w", err)
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("valuation: redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error { return c.client.Close() }

// MemoryCache is the in-process fallback used when Redis is unreachable.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = memoryEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

// NewCache pings Redis and falls back to a MemoryCache when it is down.
func NewCache(ctx context.Context, opts *redis.Options, logger *zap.Logger) Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts == nil || opts.Addr == "" {
		logger.Info("valuation cache: redis not configured, using memory")
		return NewMemoryCache()
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("valuation cache: redis unreachable, using memory", zap.String("addr", opts.Addr), zap.Error(err))
		_ = client.Close()
		return NewMemoryCache()
	}
	logger.Info("valuation cache: redis ready", zap.String("addr", opts.Addr))
	return NewRedisCache(client)
}

// CachedEngine memoises Engine results. Cache failures degrade to the
// fallback cache and never fail a valuation.
type CachedEngine struct {
	engine   *Engine
	cache    Cache
	fallback *MemoryCache
	ttl      time.Duration
	logger   *zap.Logger
}

func NewCachedEngine(engine *Engine, cache Cache, ttl time.Duration, logger *zap.Logger) *CachedEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	fallback := NewMemoryCache()
	if cache == nil {
		cache = fallback
	}
	return &CachedEngine{engine: engine, cache: cache, fallback: fallback, ttl: ttl, logger: logger}
}

func (c *CachedEngine) Valuate(ctx context.Context, attrs Attributes, signals MarketSignals) (Result, error) {
	if !attrs.Condition.Valid() {
		return c.engine.Valuate(attrs, signals)
	}
	key, err := CacheKey(attrs, signals)
	if err != nil {
		return Result{}, err
	}

	if raw, err := c.get(ctx, key); err == nil {
		var res Result
		if err := json.Unmarshal(raw, &res); err == nil {
			return res, nil
		}
		c.logger.Warn("valuation cache: corrupt entry", zap.String("key", key))
	}

	res, err := c.engine.Valuate(attrs, signals)
	if err != nil {
		return Result{}, err
	}
	if raw, err := json.Marshal(res); err == nil {
		c.set(ctx, key, raw)
	}
	return res, nil
}

func (c *CachedEngine) get(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.cache.Get(ctx, key)
	if err == nil || errors.Is(err, ErrCacheMiss) {
		return raw, err
	}
	c.logger.Warn("valuation cache: get failed", zap.Error(err))
	return c.fallback.Get(ctx, key)
}

func (c *CachedEngine) set(ctx context.Context, key string, raw []byte) {
	if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn("valuation cache: set failed", zap.Error(err))
		_ = c.fallback.Set(ctx, key, raw, c.ttl)
	}
}

// CacheKey hashes the canonical form of the inputs.
func CacheKey(attrs Attributes, signals MarketSignals) (string, error) {
	attrs.Category = strings.ToLower(strings.TrimSpace(attrs.Category))
	raw, err := json.Marshal(struct {
		A Attributes    `json:"a"`
		S MarketSignals `json:"s"`
	}{attrs, signals})
	if err != nil {
		return "", fmt.Errorf("valuation: cache key: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
