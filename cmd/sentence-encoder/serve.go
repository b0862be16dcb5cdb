package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/sentence-encoder/internal/config"
	"github.com/raaihank/sentence-encoder/internal/server"
	"github.com/raaihank/sentence-encoder/internal/vector"
)

var (
	servePort  int
	watchCfg   bool
	shutdownIn time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP encoding server",
	Long: `Start the HTTP API.

Endpoints:
  GET  /health          health of the encoder
  GET  /info            model name, dimension, pooling modes
  POST /v1/encode       {"sentences": [...], "batch_size": n, "normalize": bool}
  POST /v1/similarity   {"a": "...", "b": "..."}
  POST /v1/search       nearest stored sentences (vector store enabled)
  GET  /v1/stats        encoder statistics
  GET  /ws              encode events over WebSocket`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides server.port)")
	serveCmd.Flags().BoolVar(&watchCfg, "watch", true, "reload the log level when the config file changes")
	serveCmd.Flags().DurationVar(&shutdownIn, "shutdown-timeout", 30*time.Second, "grace period for in-flight requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newApp()
	if err != nil {
		return err
	}
	log := rt.log
	defer log.Sync()

	if servePort > 0 {
		rt.cfg.Server.Port = servePort
	}

	log.Info("Starting sentence-encoder",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", rt.cfg.Server.Port),
	)

	svc, err := rt.embeddingService()
	if err != nil {
		return err
	}
	defer svc.Close()

	var searcher server.Searcher
	if rt.cfg.Vector.Enabled {
		store, err := vector.NewStore(&rt.cfg.Vector, log.WithComponent("vector").Logger)
		if err != nil {
			log.Warn("Vector store unavailable, search disabled", zap.Error(err))
		} else {
			defer store.Close()
			searcher = store
		}
	}

	srv, err := server.New(rt.cfg, svc, searcher, log)
	if err != nil {
		return err
	}

	if watchCfg && rt.loader.ConfigFile() != "" {
		rt.loader.Watch(func(next *config.Config) {
			if err := log.SetLevel(next.Logging.Level); err != nil {
				log.Warn("Ignoring invalid log level", zap.String("level", next.Logging.Level))
				return
			}
			log.Info("Configuration reloaded", zap.String("log_level", log.LevelName()))
		}, func(err error) {
			log.Warn("Configuration reload rejected", zap.Error(err))
		})
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", rt.cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
		}
		return err
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownIn)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			return err
		}
		log.Info("Server shutdown complete")
	}
	return nil
}
