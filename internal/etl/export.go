package etl

import (
	"fmt"
	"os"

	"github.com/segmentio/parquet-go"
)

// Exporter writes encoded records to a Parquet file
type Exporter struct {
	file    *os.File
	writer  *parquet.GenericWriter[ExportRecord]
	model   string
	written int64
}

// NewExporter creates path and prepares a Parquet writer for it.
func NewExporter(path, model string) (*Exporter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	return &Exporter{
		file:   file,
		writer: parquet.NewGenericWriter[ExportRecord](file),
		model:  model,
	}, nil
}

// Write appends one batch. records and embeddings are parallel slices.
func (e *Exporter) Write(records []*DataRecord, embeddings [][]float32) error {
	rows := make([]ExportRecord, len(records))
	for i, r := range records {
		rows[i] = ExportRecord{
			Text:      r.Text,
			Source:    r.Source,
			Model:     e.model,
			Embedding: embeddings[i],
		}
	}
	n, err := e.writer.Write(rows)
	e.written += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write export rows: %w", err)
	}
	return nil
}

// Written returns the number of rows written so far.
func (e *Exporter) Written() int64 {
	return e.written
}

// Close flushes the Parquet footer and closes the file.
func (e *Exporter) Close() error {
	if err := e.writer.Close(); err != nil {
		_ = e.file.Close()
		return fmt.Errorf("failed to finalize export: %w", err)
	}
	return e.file.Close()
}

// ReadExport loads every row of a Parquet export.
func ReadExport(path string) ([]ExportRecord, error) {
	rows, err := parquet.ReadFile[ExportRecord](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	return rows, nil
}
