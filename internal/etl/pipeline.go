package etl

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/sentence-encoder/internal/embeddings"
	"github.com/raaihank/sentence-encoder/internal/vector"
)

// Pipeline reads sentence datasets, encodes them and stores the embeddings
type Pipeline struct {
	store            VectorWriter
	embeddingService embeddings.EmbeddingService
	config           *Config
	logger           *zap.Logger
	stats            *ProcessingStats
	mu               sync.RWMutex
}

// NewPipeline creates a new ETL pipeline. store may be nil in dry-run mode.
func NewPipeline(
	store VectorWriter,
	embeddingService embeddings.EmbeddingService,
	config *Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:            store,
		embeddingService: embeddingService,
		config:           config,
		logger:           logger,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
}

// ProcessFile processes a dataset file (CSV, Parquet, or JSON lines)
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*ProcessingResult, error) {
	if p.config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive")
	}
	if p.store == nil && !p.config.DryRun {
		return nil, fmt.Errorf("vector store is required unless dry_run is set")
	}

	p.logger.Info("Starting ETL pipeline",
		zap.String("file", filePath),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("encode_batch_size", p.config.EncodeBatchSize),
		zap.Bool("dry_run", p.config.DryRun))

	start := time.Now()
	result := &ProcessingResult{}
	p.resetStats()

	if !p.config.DryRun {
		if err := p.store.EnsureSchema(ctx, p.embeddingService.Dimension()); err != nil {
			return result, err
		}
	}

	var exporter *Exporter
	if p.config.ExportPath != "" {
		var err error
		exporter, err = NewExporter(p.config.ExportPath, p.embeddingService.Name())
		if err != nil {
			return result, err
		}
	}

	format := DetectFileFormat(filePath)
	p.logger.Info("Detected file format", zap.String("format", string(format)))

	var err error
	switch format {
	case FormatCSV:
		err = p.processCSV(ctx, filePath, exporter, result)
	case FormatParquet:
		err = p.processParquet(ctx, filePath, exporter, result)
	case FormatJSON:
		err = p.processJSON(ctx, filePath, exporter, result)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}

	if exporter != nil {
		if cerr := exporter.Close(); cerr != nil && err == nil {
			err = cerr
		}
		result.Exported = exporter.Written()
	}
	result.Duration = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}

	if p.config.CreateIndex && !p.config.DryRun && result.ProcessedOK > 0 {
		indexStart := time.Now()
		if err := p.store.CreateIndex(ctx); err != nil {
			p.logger.Warn("Failed to create vector index", zap.Error(err))
		} else {
			p.logger.Info("Vector index checked", zap.Duration("duration", time.Since(indexStart)))
		}
	}

	p.logger.Info("ETL pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("invalid_records", result.InvalidRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("duplicates", result.Duplicates),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("embedding_time", result.EmbeddingTime),
		zap.Duration("database_time", result.DatabaseTime))

	return result, nil
}

// processCSV processes CSV files with a header row
func (p *Pipeline) processCSV(ctx context.Context, filePath string, exporter *Exporter, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	return p.processCSVReader(ctx, file, exporter, result)
}

// processCSVReader reads CSV with a header row from r. Malformed rows are
// skipped; any other read error stops the run.
func (p *Pipeline) processCSVReader(ctx context.Context, r io.Reader, exporter *Exporter, result *ProcessingResult) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	textCol, sourceCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case p.config.TextColumn:
			textCol = i
		case p.config.SourceColumn:
			sourceCol = i
		}
	}
	if textCol < 0 {
		return fmt.Errorf("CSV header %v has no %q column", header, p.config.TextColumn)
	}
	p.logger.Info("CSV header detected", zap.Strings("columns", header))

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord
		for len(batch) < p.config.BatchSize {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				p.logger.Warn("Skipping malformed CSV record", zap.Error(err))
				result.InvalidRecords++
				continue
			}
			if err != nil {
				return batch, err
			}
			if textCol >= len(record) {
				p.logger.Warn("Invalid CSV record length", zap.Int("length", len(record)))
				result.InvalidRecords++
				continue
			}

			dataRecord := &DataRecord{Text: strings.TrimSpace(record[textCol])}
			if sourceCol >= 0 && sourceCol < len(record) {
				dataRecord.Source = strings.TrimSpace(record[sourceCol])
			}
			if p.validateRecord(dataRecord) {
				batch = append(batch, dataRecord)
			} else {
				result.InvalidRecords++
			}
		}
		return batch, nil
	}, exporter, result)
}

// processParquet processes Parquet files
func (p *Pipeline) processParquet(ctx context.Context, filePath string, exporter *Exporter, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord
		for len(batch) < p.config.BatchSize {
			var record DataRecord
			err := reader.Read(&record)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return batch, fmt.Errorf("failed to read Parquet record: %w", err)
			}
			if p.validateRecord(&record) {
				batch = append(batch, &record)
			} else {
				result.InvalidRecords++
			}
		}
		return batch, nil
	}, exporter, result)
}

// processJSON processes JSON files (one JSON object per line)
func (p *Pipeline) processJSON(ctx context.Context, filePath string, exporter *Exporter, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord
		for len(batch) < p.config.BatchSize {
			var record DataRecord
			err := decoder.Decode(&record)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return batch, fmt.Errorf("failed to decode JSON record: %w", err)
			}
			if p.validateRecord(&record) {
				batch = append(batch, &record)
			} else {
				result.InvalidRecords++
			}
		}
		return batch, nil
	}, exporter, result)
}

// processBatches processes data in batches using the provided reader function
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]*DataRecord, error), exporter *Exporter, result *ProcessingResult) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, readErr := readBatch()
		if len(batch) > 0 {
			result.TotalRecords += int64(len(batch))
			p.mu.Lock()
			p.stats.RecordsRead += int64(len(batch))
			p.stats.CurrentBatch++
			p.mu.Unlock()

			if err := p.processBatch(ctx, batch, exporter, result); err != nil {
				if ctx.Err() != nil {
					return err
				}
				p.logger.Error("Batch processing failed", zap.Error(err))
				result.ProcessedFailed += int64(len(batch))
				result.Errors = append(result.Errors, err.Error())
			} else {
				result.ProcessedOK += int64(len(batch))
			}

			if p.config.ProgressReport > 0 && result.TotalRecords%int64(p.config.ProgressReport) == 0 {
				p.reportProgress(result)
			}
		}
		if readErr != nil {
			return fmt.Errorf("failed to read batch: %w", readErr)
		}
		if len(batch) == 0 {
			return nil
		}
	}
}

// processBatch encodes one batch of records and writes it out
func (p *Pipeline) processBatch(ctx context.Context, batch []*DataRecord, exporter *Exporter, result *ProcessingResult) error {
	texts := make([]string, len(batch))
	for i, record := range batch {
		texts[i] = record.Text
	}

	encodeBatch := p.config.EncodeBatchSize
	if encodeBatch <= 0 {
		encodeBatch = 32
	}

	embeddingStart := time.Now()
	embs, err := p.embeddingService.Encode(ctx, texts, encodeBatch)
	if err != nil {
		return fmt.Errorf("batch embedding generation failed: %w", err)
	}
	result.EmbeddingTime += time.Since(embeddingStart)
	if len(embs) != len(batch) {
		return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embs), len(batch))
	}

	p.mu.Lock()
	p.stats.EmbeddingsGen += int64(len(embs))
	p.mu.Unlock()

	model := p.embeddingService.Name()
	if exporter != nil {
		if err := exporter.Write(batch, embs); err != nil {
			return err
		}
	}

	if p.config.DryRun {
		p.logger.Debug("Dry run, skipping database write", zap.Int("batch_size", len(batch)))
		return nil
	}

	vectors := make([]*vector.SentenceVector, len(batch))
	for i, record := range batch {
		vectors[i] = &vector.SentenceVector{
			Text:      record.Text,
			TextHash:  embeddings.TextHash(record.Text),
			Model:     model,
			Source:    record.Source,
			Embedding: embs[i],
		}
	}

	dbStart := time.Now()
	batchResult, err := p.store.BatchInsert(ctx, vectors)
	if err != nil {
		return fmt.Errorf("database batch insert failed: %w", err)
	}
	result.DatabaseTime += time.Since(dbStart)
	result.Duplicates += batchResult.Duplicates

	p.mu.Lock()
	p.stats.DatabaseWrites += batchResult.Inserted
	p.mu.Unlock()

	p.logger.Debug("Batch processed successfully",
		zap.Int("batch_size", len(batch)),
		zap.Int64("inserted", batchResult.Inserted),
		zap.Int64("duplicates", batchResult.Duplicates),
		zap.Duration("database_time", time.Since(dbStart)))
	return nil
}

// validateRecord validates a data record
func (p *Pipeline) validateRecord(record *DataRecord) bool {
	valid := true
	switch {
	case !p.config.ValidateData:
	case strings.TrimSpace(record.Text) == "":
		p.logger.Debug("Invalid record: empty text")
		valid = false
	case len(record.Text) > maxTextBytes:
		p.logger.Debug("Invalid record: text too long", zap.Int("length", len(record.Text)))
		valid = false
	}

	p.mu.Lock()
	if valid {
		p.stats.RecordsValid++
	} else {
		p.stats.RecordsInvalid++
	}
	p.mu.Unlock()
	return valid
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	p.mu.Lock()
	elapsed := time.Since(p.stats.StartTime)
	rate := float64(result.TotalRecords) / elapsed.Seconds()
	p.stats.ProcessingRate = rate
	p.mu.Unlock()

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}
