package embeddings

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/sentence-encoder/internal/cache"
)

// ServiceConfig contains configuration for building an embedding service
type ServiceConfig struct {
	Model ModelConfig  `yaml:"model" mapstructure:"model"`
	Cache cache.Config `yaml:"cache" mapstructure:"cache"`
}

// Factory creates embedding services based on configuration
type Factory struct {
	logger *zap.Logger
}

// NewFactory creates a new embedding service factory
func NewFactory(logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		logger: logger,
	}
}

// CreateService loads the model and, when enabled, wraps it with a Redis cache.
// An unreachable Redis disables caching instead of failing.
func (f *Factory) CreateService(config ServiceConfig) (EmbeddingService, error) {
	if err := ValidateServiceConfig(config); err != nil {
		return nil, err
	}

	model, err := New(config.Model, f.logger)
	if err != nil {
		return nil, err
	}

	if !config.Cache.Enabled {
		f.logger.Info("Created sentence encoder service", zap.Bool("cache", false))
		return model, nil
	}

	redisCache, err := cache.NewEmbeddingCache(&config.Cache, f.logger)
	if err != nil {
		f.logger.Warn("Redis connection failed, disabling cache", zap.Error(err))
		return model, nil
	}
	f.logger.Info("Created sentence encoder service", zap.Bool("cache", true))
	return NewCachedService(model, redisCache, f.logger), nil
}

// ValidateServiceConfig validates the embedding service configuration
func ValidateServiceConfig(config ServiceConfig) error {
	if config.Model.ModelName == "" {
		return fmt.Errorf("%w: model name is required", ErrConfigError)
	}
	if config.Model.ModelDir == "" {
		return fmt.Errorf("%w: model_dir is required", ErrConfigError)
	}
	if config.Model.MaxSeqLength < 0 {
		return fmt.Errorf("%w: max_seq_length must not be negative", ErrConfigError)
	}
	if config.Model.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive", ErrConfigError)
	}
	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("%w: redis_url is required when cache is enabled", ErrConfigError)
	}
	return nil
}
