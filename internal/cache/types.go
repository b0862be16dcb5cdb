package cache

import (
	"time"
)

// CachedEmbedding is the value stored per sentence
type CachedEmbedding struct {
	Model     string    `json:"model"`
	Embedding []float32 `json:"embedding"`
	CachedAt  time.Time `json:"cached_at"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Errors      int64   `json:"errors"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// Config contains cache configuration
type Config struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

// DefaultConfig returns cache defaults
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		RedisURL:       "redis://localhost:6379/0",
		MaxConnections: 10,
		MinIdleConns:   2,
		DefaultTTL:     6 * time.Hour,
		KeyPrefix:      "sentence-encoder",
		ConnectTimeout: 5 * time.Second,
	}
}
