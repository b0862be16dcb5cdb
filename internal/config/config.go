package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. ENCODER_SERVER_PORT.
const EnvPrefix = "ENCODER"

// Loader reads configuration from defaults, a YAML file and the environment
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader. configPath may be empty to search the default locations.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/sentence-encoder/")
	v.AddConfigPath("$HOME/.sentence-encoder/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Load reads and validates the configuration
func (l *Loader) Load() (*Config, error) {
	// Register every default key so environment overrides resolve and
	// survive file reloads.
	raw, err := yaml.Marshal(GetDefaults())
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}
	var defaults map[string]interface{}
	if err := yaml.Unmarshal(raw, &defaults); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	setDefaults(l.v, "", defaults)

	if err := l.v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return l.decode()
}

func setDefaults(v *viper.Viper, prefix string, values map[string]interface{}) {
	for key, value := range values {
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, value)
	}
}

func (l *Loader) decode() (*Config, error) {
	config := GetDefaults()
	if err := l.v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// ConfigFile returns the file in use, if any.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.MaxSentences <= 0 {
		return fmt.Errorf("server.max_sentences must be positive")
	}

	if config.Model.BatchSize <= 0 {
		return fmt.Errorf("model.batch_size must be positive")
	}

	if config.Model.MaxSeqLength < 0 {
		return fmt.Errorf("model.max_seq_length must not be negative")
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required when cache is enabled")
	}

	if config.Vector.Enabled && config.Vector.DatabaseURL == "" {
		return fmt.Errorf("vector.database_url is required when vector storage is enabled")
	}

	if config.ETL.BatchSize <= 0 || config.ETL.EncodeBatchSize <= 0 {
		return fmt.Errorf("etl.batch_size and etl.encode_batch_size must be positive")
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit.requests_per_second and rate_limit.burst must be positive")
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the configuration file for changes. Invalid edits are
// reported to onError and the previous configuration stays in effect.
func (l *Loader) Watch(callback func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		callback(newConfig)
	})
	l.v.WatchConfig()
}
