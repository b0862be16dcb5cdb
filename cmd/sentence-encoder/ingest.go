package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/sentence-encoder/internal/etl"
	"github.com/raaihank/sentence-encoder/internal/vector"
)

var (
	ingestBatchSize int
	ingestDryRun    bool
	ingestSkipIndex bool
	ingestExport    string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Encode a dataset (CSV, Parquet, JSON lines) into the vector store",
	Long: `Ingest reads records with a text column (and optional source column), encodes
them and stores the embeddings in Postgres with pgvector.

Examples:
  sentence-encoder ingest dataset.csv --batch-size 500
  sentence-encoder ingest dataset.parquet --export embeddings.parquet --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "records per chunk (overrides etl.batch_size)")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "encode without writing to the database")
	ingestCmd.Flags().BoolVar(&ingestSkipIndex, "skip-index", false, "skip creating the vector index")
	ingestCmd.Flags().StringVar(&ingestExport, "export", "", "also write embeddings to this Parquet file")
}

func runIngest(cmd *cobra.Command, args []string) error {
	inputFile := args[0]
	if _, err := os.Stat(inputFile); err != nil {
		return fmt.Errorf("input file: %w", err)
	}

	rt, err := newApp()
	if err != nil {
		return err
	}
	log := rt.log
	defer log.Sync()

	etlConfig := rt.cfg.ETL
	if ingestBatchSize > 0 {
		etlConfig.BatchSize = ingestBatchSize
	}
	if ingestDryRun {
		etlConfig.DryRun = true
	}
	if ingestSkipIndex {
		etlConfig.CreateIndex = false
	}
	if ingestExport != "" {
		etlConfig.ExportPath = ingestExport
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := rt.embeddingService()
	if err != nil {
		return err
	}
	defer svc.Close()

	var writer etl.VectorWriter
	if !etlConfig.DryRun {
		store, err := vector.NewStore(&rt.cfg.Vector, log.WithComponent("vector").Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize vector store: %w", err)
		}
		defer store.Close()
		writer = store
	}

	log.Info("Processing dataset",
		zap.String("file", inputFile),
		zap.String("format", string(etl.DetectFileFormat(inputFile))),
		zap.Bool("dry_run", etlConfig.DryRun),
		zap.String("export", etlConfig.ExportPath),
	)

	pipeline := etl.NewPipeline(writer, svc, &etlConfig, log.WithComponent("etl").Logger)
	result, err := pipeline.ProcessFile(ctx, inputFile)
	if err != nil {
		return fmt.Errorf("pipeline processing failed: %w", err)
	}

	rate := 0.0
	if secs := result.Duration.Seconds(); secs > 0 {
		rate = float64(result.TotalRecords) / secs
	}
	log.Info("Dataset processing completed",
		zap.String("file", inputFile),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("invalid_records", result.InvalidRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("duplicates", result.Duplicates),
		zap.Int64("exported", result.Exported),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("embedding_time", result.EmbeddingTime),
		zap.Duration("database_time", result.DatabaseTime),
		zap.Float64("records_per_second", rate),
	)
	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}
	return nil
}
