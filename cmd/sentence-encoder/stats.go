package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/sentence-encoder/internal/cache"
	"github.com/raaihank/sentence-encoder/internal/vector"
)

var clearCache bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show vector store and embedding cache statistics",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&clearCache, "clear-cache", false, "delete every cached embedding after printing stats")
}

func runStats(cmd *cobra.Command, args []string) error {
	rt, err := newApp()
	if err != nil {
		return err
	}
	log := rt.log
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()
	shown := false

	if rt.cfg.Vector.Enabled {
		store, err := vector.NewStore(&rt.cfg.Vector, log.WithComponent("vector").Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize vector store: %w", err)
		}
		defer store.Close()

		stats, err := store.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get database stats: %w", err)
		}
		printVectorStats(out, stats)
		shown = true
	}

	if rt.cfg.Cache.Enabled {
		ec, err := cache.NewEmbeddingCache(&rt.cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to cache: %w", err)
		}
		defer ec.Close()

		stats, err := ec.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get cache stats: %w", err)
		}
		fmt.Fprintf(out, "\n=== Embedding Cache Statistics ===\n")
		fmt.Fprintf(out, "Total Keys:         %d\n", stats.TotalKeys)
		fmt.Fprintf(out, "Memory Usage:       %.2f MB\n", float64(stats.MemoryUsage)/1024/1024)

		if clearCache {
			if err := ec.Clear(ctx); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			log.Info("Embedding cache cleared", zap.String("prefix", rt.cfg.Cache.KeyPrefix))
		}
		shown = true
	}

	if !shown {
		fmt.Fprintln(out, "Neither vector.enabled nor cache.enabled is set; nothing to report.")
	}
	return nil
}

func printVectorStats(out io.Writer, stats *vector.VectorStats) {
	fmt.Fprintf(out, "\n=== Vector Store Statistics ===\n")
	fmt.Fprintf(out, "Total Vectors:      %d\n", stats.TotalVectors)
	fmt.Fprintf(out, "Sources:            %d\n", stats.Sources)

	models := make([]string, 0, len(stats.ByModel))
	for m := range stats.ByModel {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		fmt.Fprintf(out, "  %-32s %d\n", m, stats.ByModel[m])
	}
}
