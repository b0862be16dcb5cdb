package etl

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/sentence-encoder/internal/vector"
)

// maxTextBytes bounds the size of a single input sentence.
const maxTextBytes = 10000

// DataRecord represents a single record from the input dataset
type DataRecord struct {
	Text   string `csv:"text" parquet:"text" json:"text"`
	Source string `csv:"source" parquet:"source,optional" json:"source"`
}

// ExportRecord is one row of a Parquet embedding export
type ExportRecord struct {
	Text      string    `parquet:"text"`
	Source    string    `parquet:"source"`
	Model     string    `parquet:"model"`
	Embedding []float32 `parquet:"embedding"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64         `json:"total_records"`
	InvalidRecords  int64         `json:"invalid_records"`
	ProcessedOK     int64         `json:"processed_ok"`
	ProcessedFailed int64         `json:"processed_failed"`
	Duplicates      int64         `json:"duplicates"`
	Exported        int64         `json:"exported"`
	Duration        time.Duration `json:"duration"`
	EmbeddingTime   time.Duration `json:"embedding_time"`
	DatabaseTime    time.Duration `json:"database_time"`
	Errors          []string      `json:"errors,omitempty"`
}

// Config contains ETL pipeline configuration
type Config struct {
	BatchSize       int    `yaml:"batch_size" mapstructure:"batch_size"`               // 1000
	EncodeBatchSize int    `yaml:"encode_batch_size" mapstructure:"encode_batch_size"` // 32
	TextColumn      string `yaml:"text_column" mapstructure:"text_column"`             // "text"
	SourceColumn    string `yaml:"source_column" mapstructure:"source_column"`         // "source"
	ValidateData    bool   `yaml:"validate_data" mapstructure:"validate_data"`         // true
	CreateIndex     bool   `yaml:"create_index" mapstructure:"create_index"`           // true
	DryRun          bool   `yaml:"dry_run" mapstructure:"dry_run"`                     // false
	ExportPath      string `yaml:"export_path" mapstructure:"export_path"`             // "" = no export
	ProgressReport  int    `yaml:"progress_report" mapstructure:"progress_report"`     // 1000
}

// DefaultConfig returns ETL defaults
func DefaultConfig() Config {
	return Config{
		BatchSize:       1000,
		EncodeBatchSize: 32,
		TextColumn:      "text",
		SourceColumn:    "source",
		ValidateData:    true,
		CreateIndex:     true,
		ProgressReport:  1000,
	}
}

// VectorWriter persists encoded sentences
type VectorWriter interface {
	EnsureSchema(ctx context.Context, dim int) error
	BatchInsert(ctx context.Context, vectors []*vector.SentenceVector) (*vector.BatchInsertResult, error)
	CreateIndex(ctx context.Context) error
}

var _ VectorWriter = (*vector.Store)(nil)

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsValid   int64     `json:"records_valid"`
	RecordsInvalid int64     `json:"records_invalid"`
	EmbeddingsGen  int64     `json:"embeddings_generated"`
	DatabaseWrites int64     `json:"database_writes"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}
