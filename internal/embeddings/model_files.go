package embeddings

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	bertConfigFile    = "config.json"
	vocabFile         = "vocab.txt"
	poolingConfigFile = "config.json"
)

// BertConfig is the subset of the encoder's config.json the pipeline needs.
type BertConfig struct {
	HiddenSize            int `mapstructure:"hidden_size"`
	NumHiddenLayers       int `mapstructure:"num_hidden_layers"`
	NumAttentionHeads     int `mapstructure:"num_attention_heads"`
	VocabSize             int `mapstructure:"vocab_size"`
	MaxPositionEmbeddings int `mapstructure:"max_position_embeddings"`
}

// ModelFiles holds resolved paths of a sentence-transformers model directory.
type ModelFiles struct {
	BertConfig    string
	Vocab         string
	Weights       string
	PoolingConfig string
}

// ResolveModelFiles maps cfg onto <model_dir>/<encoder_dir> and <model_dir>/<pooling_dir>
// and checks every file exists.
func ResolveModelFiles(cfg ModelConfig) (*ModelFiles, error) {
	if cfg.ModelDir == "" {
		return nil, fmt.Errorf("%w: model_dir is required", ErrConfigError)
	}
	encoderDir := cfg.EncoderDir
	if encoderDir == "" {
		encoderDir = "0_BERT"
	}
	poolingDir := cfg.PoolingDir
	if poolingDir == "" {
		poolingDir = "1_Pooling"
	}
	weights := cfg.OnnxFile
	if weights == "" {
		weights = "model.onnx"
	}

	files := &ModelFiles{
		BertConfig:    filepath.Join(cfg.ModelDir, encoderDir, bertConfigFile),
		Vocab:         filepath.Join(cfg.ModelDir, encoderDir, vocabFile),
		Weights:       filepath.Join(cfg.ModelDir, encoderDir, weights),
		PoolingConfig: filepath.Join(cfg.ModelDir, poolingDir, poolingConfigFile),
	}
	for _, p := range []string{files.BertConfig, files.Vocab, files.Weights, files.PoolingConfig} {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("%w: model file %s: %v", ErrConfigError, p, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%w: model file %s is a directory", ErrConfigError, p)
		}
	}
	return files, nil
}

func readJSON(path string, out interface{}) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrConfigError, path, err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrConfigError, path, err)
	}
	return nil
}

// LoadBertConfig reads the encoder config.json.
func LoadBertConfig(path string) (*BertConfig, error) {
	var cfg BertConfig
	if err := readJSON(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.HiddenSize <= 0 {
		return nil, fmt.Errorf("%w: %s: hidden_size must be positive", ErrConfigError, path)
	}
	return &cfg, nil
}

// LoadPoolingConfig reads 1_Pooling/config.json.
func LoadPoolingConfig(path string) (*PoolingConfig, error) {
	var cfg PoolingConfig
	if err := readJSON(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
