package config

import (
	"time"

	"github.com/raaihank/sentence-encoder/internal/cache"
	"github.com/raaihank/sentence-encoder/internal/embeddings"
	"github.com/raaihank/sentence-encoder/internal/etl"
	"github.com/raaihank/sentence-encoder/internal/vector"
)

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig           `yaml:"server" mapstructure:"server"`
	Model     embeddings.ModelConfig `yaml:"model" mapstructure:"model"`
	Cache     cache.Config           `yaml:"cache" mapstructure:"cache"`
	Vector    vector.Config          `yaml:"vector" mapstructure:"vector"`
	ETL       etl.Config             `yaml:"etl" mapstructure:"etl"`
	Logging   LoggingConfig          `yaml:"logging" mapstructure:"logging"`
	RateLimit RateLimitConfig        `yaml:"rate_limit" mapstructure:"rate_limit"`
	WebSocket WebSocketConfig        `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxSentences int           `yaml:"max_sentences" mapstructure:"max_sentences"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string            `yaml:"level" mapstructure:"level"`
	Format string            `yaml:"format" mapstructure:"format"` // json or console
	File   LoggingFileConfig `yaml:"file" mapstructure:"file"`
}

// LoggingFileConfig contains rotated file output configuration
type LoggingFileConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	Path       string `yaml:"path" mapstructure:"path"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// RateLimitConfig contains per-client request limits
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Auth            struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Username string `yaml:"username" mapstructure:"username"`
		Password string `yaml:"password" mapstructure:"password"`
	} `yaml:"auth" mapstructure:"auth"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxSentences: 1024,
			MaxBodyBytes: 8 << 20,
		},
		Model:  embeddings.DefaultModelConfig(),
		Cache:  cache.DefaultConfig(),
		Vector: vector.DefaultConfig(),
		ETL:    etl.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File: LoggingFileConfig{
				Enabled:    false,
				Path:       "logs/sentence-encoder.log",
				MaxSize:    100, // MB
				MaxAge:     30,  // days
				MaxBackups: 5,
				Compress:   true,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
			CleanupInterval:   time.Minute,
			IdleTimeout:       10 * time.Minute,
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    54 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  512,
			AllowedOrigins:  []string{"*"},
		},
	}
	return cfg
}
