package embeddings

import (
	"time"
)

// ModelConfig contains sentence encoder model configuration
type ModelConfig struct {
	ModelName        string        `yaml:"model_name" mapstructure:"model_name"`               // "all-MiniLM-L6-v2"
	ModelDir         string        `yaml:"model_dir" mapstructure:"model_dir"`                 // "./models/all-MiniLM-L6-v2"
	EncoderDir       string        `yaml:"encoder_dir" mapstructure:"encoder_dir"`             // "0_BERT"
	PoolingDir       string        `yaml:"pooling_dir" mapstructure:"pooling_dir"`             // "1_Pooling"
	OnnxFile         string        `yaml:"onnx_file" mapstructure:"onnx_file"`                 // "model.onnx"
	RuntimeLibrary   string        `yaml:"runtime_library" mapstructure:"runtime_library"`     // onnxruntime shared library
	MaxSeqLength     int           `yaml:"max_seq_length" mapstructure:"max_seq_length"`       // 128
	DoLowerCase      bool          `yaml:"do_lower_case" mapstructure:"do_lower_case"`         // true
	BatchSize        int           `yaml:"batch_size" mapstructure:"batch_size"`               // 32
	TokenizerWorkers int           `yaml:"tokenizer_workers" mapstructure:"tokenizer_workers"` // 0 = GOMAXPROCS
	IntraOpThreads   int           `yaml:"intra_op_threads" mapstructure:"intra_op_threads"`   // 0 = runtime default
	InterOpThreads   int           `yaml:"inter_op_threads" mapstructure:"inter_op_threads"`   // 0 = runtime default
	ModelTimeout     time.Duration `yaml:"model_timeout" mapstructure:"model_timeout"`         // 30s
}

// DefaultModelConfig returns the configuration of the standard sentence-transformers layout
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		ModelName:    "all-MiniLM-L6-v2",
		ModelDir:     "./models/all-MiniLM-L6-v2",
		EncoderDir:   "0_BERT",
		PoolingDir:   "1_Pooling",
		OnnxFile:     "model.onnx",
		MaxSeqLength: DefaultMaxSeqLength,
		DoLowerCase:  true,
		BatchSize:    32,
		ModelTimeout: 30 * time.Second,
	}
}

// Sentence is one input text together with its position in the caller's list.
type Sentence struct {
	Index int
	Text  string
}

// TokenSequence holds token ids for one sentence, without special tokens.
type TokenSequence struct {
	Index int
	IDs   []int64
}

// ModelStats represents encoder performance statistics
type ModelStats struct {
	ModelName         string        `json:"model_name"`
	Dimension         int           `json:"dimension"`
	TotalEncodes      int64         `json:"total_encodes"`
	TotalSentences    int64         `json:"total_sentences"`
	TotalBatches      int64         `json:"total_batches"`
	TotalTokens       int64         `json:"total_tokens"`
	PaddingTokens     int64         `json:"padding_tokens"`
	TruncatedInputs   int64         `json:"truncated_inputs"`
	SuccessfulRuns    int64         `json:"successful_runs"`
	FailedRuns        int64         `json:"failed_runs"`
	AvgEncodeTime     time.Duration `json:"avg_encode_time"`
	AvgTokensPerText  float64       `json:"avg_tokens_per_text"`
	ModelLoadTime     time.Duration `json:"model_load_time"`
	LastInferenceTime time.Time     `json:"last_inference_time"`
	CacheHits         int64         `json:"cache_hits"`
	CacheMisses       int64         `json:"cache_misses"`
	CacheHitRatio     float64       `json:"cache_hit_ratio"`
	ErrorRate         float64       `json:"error_rate"`
	StartTime         time.Time     `json:"start_time"`
}

// EmbeddingErrors define custom error types
type EmbeddingError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *EmbeddingError) Error() string {
	return e.Message
}

// Common error types
var (
	ErrInvalidInput       = &EmbeddingError{Type: "invalid_input", Message: "invalid input", Code: 1001}
	ErrModelNotLoaded     = &EmbeddingError{Type: "model_not_loaded", Message: "model not loaded", Code: 1002}
	ErrInferenceFailed    = &EmbeddingError{Type: "inference_failed", Message: "inference failed", Code: 1003}
	ErrCacheError         = &EmbeddingError{Type: "cache_error", Message: "cache operation failed", Code: 1004}
	ErrConfigError        = &EmbeddingError{Type: "config_error", Message: "configuration error", Code: 1005}
	ErrTimeoutError       = &EmbeddingError{Type: "timeout_error", Message: "operation timed out", Code: 1007}
	ErrTokenizationFailed = &EmbeddingError{Type: "tokenization_failed", Message: "tokenization failed", Code: 1008}
)
