package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pricealerts/internal/metrics"
	"pricealerts/internal/models"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	backendRedis = "redis"
	scanCount    = 1000

	// generationTTL keeps idle owners' counters from piling up. It only has to
	// outlive a single in-flight fetch.
	generationTTL = 24 * time.Hour
)

// putIfCurrent writes the page only while the owner's generation still
// matches the one read before the store query.
var putIfCurrent = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if (current or "0") ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// RedisCache keeps rendered query results in Redis with a per-entry TTL.
type RedisCache struct {
	client   *redis.Client
	ttl      time.Duration
	instance string
	log      *zap.Logger
}

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache)

// WithTTL sets the freshness window.
func WithTTL(ttl time.Duration) RedisOption {
	return func(c *RedisCache) {
		c.ttl = ttl
	}
}

// WithInstance sets the instance label used in metrics and logs.
func WithInstance(instance string) RedisOption {
	return func(c *RedisCache) {
		c.instance = instance
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) RedisOption {
	return func(c *RedisCache) {
		c.log = log
	}
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisCache creates a Redis-backed query cache with a 60s default TTL.
func NewRedisCache(client *redis.Client, opts ...RedisOption) *RedisCache {
	c := &RedisCache{
		client:   client,
		ttl:      60 * time.Second,
		instance: "default",
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached page for key. Expired entries are gone from Redis
// and read as a miss.
func (c *RedisCache) Get(ctx context.Context, key Key) (*models.AlertPage, bool, error) {
	val, err := c.client.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheLookup(backendRedis, c.instance, false)
		return nil, false, nil
	}
	if err != nil {
		metrics.RecordCacheError(backendRedis, "get")
		return nil, false, err
	}

	var page models.AlertPage
	if err := json.Unmarshal(val, &page); err != nil {
		metrics.RecordCacheError(backendRedis, "decode")
		return nil, false, fmt.Errorf("failed to decode cached page: %w", err)
	}

	metrics.RecordCacheLookup(backendRedis, c.instance, true)
	return &page, true, nil
}

// Generation returns the owner's invalidation counter; a missing counter
// reads as zero.
func (c *RedisCache) Generation(ctx context.Context, ownerID string) (uint64, error) {
	val, err := c.client.Get(ctx, GenerationKey(ownerID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		metrics.RecordCacheError(backendRedis, "generation")
		return 0, err
	}
	gen, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		metrics.RecordCacheError(backendRedis, "generation")
		return 0, fmt.Errorf("failed to parse cache generation: %w", err)
	}
	return gen, nil
}

// Put stores page under key unless the owner was invalidated after
// generation was read.
func (c *RedisCache) Put(ctx context.Context, key Key, generation uint64, page *models.AlertPage) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to encode page: %w", err)
	}

	ttl := c.ttl.Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	stored, err := putIfCurrent.Run(ctx, c.client,
		[]string{GenerationKey(key.OwnerID), key.String()},
		strconv.FormatUint(generation, 10), data, ttl,
	).Int()
	if err != nil {
		metrics.RecordCacheError(backendRedis, "put")
		return err
	}
	if stored == 0 {
		metrics.RecordStalePut(backendRedis, c.instance)
	}
	return nil
}

// Invalidate deletes every entry of ownerID.
func (c *RedisCache) Invalidate(ctx context.Context, ownerID string) error {
	ctx, span := tracer.Start(ctx, "RedisCache.Invalidate")
	defer span.End()

	prefix := OwnerPrefix(ownerID)
	span.SetAttributes(attribute.String("cache.prefix", prefix))

	// Bump first so a fetch that read the store before this write cannot
	// repopulate after the delete.
	genKey := GenerationKey(ownerID)
	if _, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		return nil
	}); err != nil {
		metrics.RecordCacheError(backendRedis, "invalidate")
		span.RecordError(err)
		return fmt.Errorf("failed to bump cache generation: %w", err)
	}

	keys, err := c.scanKeys(ctx, prefix)
	if err != nil {
		metrics.RecordCacheError(backendRedis, "invalidate")
		span.RecordError(err)
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	removed := 0
	if len(keys) > 0 {
		n, err := c.client.Del(ctx, keys...).Result()
		if err != nil {
			metrics.RecordCacheError(backendRedis, "invalidate")
			span.RecordError(err)
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
		removed = int(n)
	}

	metrics.RecordInvalidation(backendRedis, c.instance, removed)
	c.log.Debug("Cache invalidation completed",
		zap.String("prefix", prefix),
		zap.String("instance", c.instance),
		zap.Int("invalidated_keys", removed),
	)
	return nil
}

// scanKeys collects all keys matching prefix with SCAN.
func (c *RedisCache) scanKeys(ctx context.Context, prefix string) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		found, next, err := c.client.Scan(ctx, cursor, prefix+"*", scanCount).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, found...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
