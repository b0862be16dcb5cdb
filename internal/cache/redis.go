package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EmbeddingCache handles Redis-based caching of sentence embeddings
type EmbeddingCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	stats  *cacheStats
}

// cacheStats tracks cache performance metrics
type cacheStats struct {
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewEmbeddingCache creates a new Redis-based embedding cache
func NewEmbeddingCache(config *Config, logger *zap.Logger) (*EmbeddingCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	cache := NewEmbeddingCacheFromClient(redis.NewClient(opts), config, logger)

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := cache.Ping(ctx); err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	cache.logger.Info("Embedding cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// NewEmbeddingCacheFromClient wraps an existing client.
func NewEmbeddingCacheFromClient(client *redis.Client, config *Config, logger *zap.Logger) *EmbeddingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingCache{
		client: client,
		config: config,
		logger: logger,
		stats:  &cacheStats{},
	}
}

// Ping tests the Redis connection
func (ec *EmbeddingCache) Ping(ctx context.Context) error {
	_, err := ec.client.Ping(ctx).Result()
	return err
}

// Get returns the cached embedding for text, or nil on a miss.
func (ec *EmbeddingCache) Get(ctx context.Context, model, text string) ([]float32, error) {
	out, err := ec.GetMany(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// GetMany fetches embeddings for texts with a single MGET. Misses are nil.
func (ec *EmbeddingCache) GetMany(ctx context.Context, model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = ec.Key(model, t)
	}

	values, err := ec.client.MGet(ctx, keys...).Result()
	if err != nil {
		ec.stats.errors.Add(1)
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}

	var hits, misses int64
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			misses++
			continue
		}
		var entry CachedEmbedding
		if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Model != model {
			ec.logger.Warn("Dropping corrupted cache entry", zap.String("key", keys[i]), zap.Error(err))
			ec.client.Del(ctx, keys[i])
			misses++
			continue
		}
		out[i] = entry.Embedding
		hits++
	}
	ec.stats.hits.Add(hits)
	ec.stats.misses.Add(misses)

	ec.logger.Debug("Cache lookup",
		zap.String("model", model),
		zap.Int64("hits", hits),
		zap.Int64("misses", misses))
	return out, nil
}

// Set caches one embedding.
func (ec *EmbeddingCache) Set(ctx context.Context, model, text string, embedding []float32) error {
	return ec.SetMany(ctx, model, []string{text}, [][]float32{embedding})
}

// SetMany caches embeddings efficiently using a Redis pipeline
func (ec *EmbeddingCache) SetMany(ctx context.Context, model string, texts []string, embeddings [][]float32) error {
	if len(texts) != len(embeddings) {
		return fmt.Errorf("texts and embeddings length mismatch: %d != %d", len(texts), len(embeddings))
	}
	if len(texts) == 0 {
		return nil
	}

	now := time.Now()
	pipe := ec.client.Pipeline()
	for i, text := range texts {
		data, err := json.Marshal(CachedEmbedding{Model: model, Embedding: embeddings[i], CachedAt: now})
		if err != nil {
			ec.logger.Error("Failed to marshal embedding for caching", zap.Error(err))
			continue
		}
		pipe.Set(ctx, ec.Key(model, text), data, ec.config.DefaultTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		ec.stats.errors.Add(1)
		ec.logger.Error("Batch cache operation failed", zap.Error(err))
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	ec.logger.Debug("Batch cache operation completed", zap.Int("cached_embeddings", len(texts)))
	return nil
}

// GetStats returns cache performance statistics
func (ec *EmbeddingCache) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := ec.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   ec.stats.hits.Load(),
		Misses: ec.stats.misses.Load(),
		Errors: ec.stats.errors.Load(),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok && memStr != "" {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := ec.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached embeddings under the key prefix
func (ec *EmbeddingCache) Clear(ctx context.Context) error {
	pattern := ec.config.KeyPrefix + ":*"

	iter := ec.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := ec.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			ec.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	ec.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (ec *EmbeddingCache) Close() error {
	if ec.client != nil {
		return ec.client.Close()
	}
	return nil
}

// Key builds the cache key for a sentence under a model.
func (ec *EmbeddingCache) Key(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])
	return fmt.Sprintf("%s:%s:%s", ec.config.KeyPrefix, model, hash[:32])
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
