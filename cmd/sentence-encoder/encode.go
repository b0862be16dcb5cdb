package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/sentence-encoder/internal/embeddings"
)

var (
	encodeBatchSize int
	encodeNormalize bool
	encodeJSONL     bool
)

var encodeCmd = &cobra.Command{
	Use:   "encode [file]",
	Short: "Encode sentences, one per line, from a file or stdin",
	Long: `Encode reads one sentence per line from the given file (or stdin when no file
is given or the file is "-") and writes the embeddings as JSON to stdout, in
input order.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEncode,
}

func init() {
	encodeCmd.Flags().IntVarP(&encodeBatchSize, "batch-size", "b", 0, "sentences per forward pass (overrides model.batch_size)")
	encodeCmd.Flags().BoolVar(&encodeNormalize, "normalize", false, "L2-normalise each embedding")
	encodeCmd.Flags().BoolVar(&encodeJSONL, "jsonl", false, "write one JSON object per line instead of a single document")
}

// encodedLine is one output record in --jsonl mode
type encodedLine struct {
	Index     int       `json:"index"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

func runEncode(cmd *cobra.Command, args []string) error {
	rt, err := newApp()
	if err != nil {
		return err
	}
	log := rt.log
	defer log.Sync()

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	sentences, err := readLines(in)
	if err != nil {
		return err
	}

	batchSize := encodeBatchSize
	if batchSize == 0 {
		batchSize = rt.cfg.Model.BatchSize
	}

	svc, err := rt.embeddingService()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	vectors, err := svc.Encode(ctx, sentences, batchSize)
	if err != nil {
		return fmt.Errorf("encode failed: %w", err)
	}
	if encodeNormalize {
		for i := range vectors {
			vectors[i] = embeddings.NormalizeEmbedding(vectors[i])
		}
	}
	log.Info("Encoded sentences",
		zap.Int("sentences", len(sentences)),
		zap.Int("batch_size", batchSize),
		zap.Int("dimension", svc.Dimension()),
		zap.Duration("duration", time.Since(start)),
	)

	out := bufio.NewWriter(cmd.OutOrStdout())
	defer out.Flush()
	enc := json.NewEncoder(out)

	if encodeJSONL {
		for i, v := range vectors {
			if err := enc.Encode(encodedLine{Index: i, Text: sentences[i], Embedding: v}); err != nil {
				return err
			}
		}
		return nil
	}
	return enc.Encode(map[string]interface{}{
		"model":      svc.Name(),
		"dimension":  svc.Dimension(),
		"embeddings": vectors,
	})
}

// readLines returns every line of r without trailing newlines
func readLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	lines := []string{}
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return lines, nil
}
