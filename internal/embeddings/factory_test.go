package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raaihank/sentence-encoder/internal/cache"
)

func TestValidateServiceConfig(t *testing.T) {
	valid := func() ServiceConfig {
		return ServiceConfig{Model: DefaultModelConfig(), Cache: cache.DefaultConfig()}
	}
	assert.NoError(t, ValidateServiceConfig(valid()))

	tests := []struct {
		name   string
		mutate func(*ServiceConfig)
	}{
		{"no model name", func(c *ServiceConfig) { c.Model.ModelName = "" }},
		{"no model dir", func(c *ServiceConfig) { c.Model.ModelDir = "" }},
		{"negative max seq length", func(c *ServiceConfig) { c.Model.MaxSeqLength = -1 }},
		{"zero batch size", func(c *ServiceConfig) { c.Model.BatchSize = 0 }},
		{"cache without url", func(c *ServiceConfig) {
			c.Cache.Enabled = true
			c.Cache.RedisURL = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.ErrorIs(t, ValidateServiceConfig(cfg), ErrConfigError)
		})
	}
}

func TestFactoryRejectsInvalidConfig(t *testing.T) {
	_, err := NewFactory(nil).CreateService(ServiceConfig{})
	assert.ErrorIs(t, err, ErrConfigError)
}
