package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/sentence-encoder/internal/config"
	"github.com/raaihank/sentence-encoder/internal/embeddings"
	"github.com/raaihank/sentence-encoder/internal/logger"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

var (
	cfgFile string
	envFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sentence-encoder",
	Short: "Encode sentences into fixed-size embeddings",
	Long: `sentence-encoder runs a sentence-transformers model (BERT encoder plus pooling)
over batches of sentences. It can serve an HTTP API, encode files from the
command line and ingest datasets into a pgvector store.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "sentence-encoder %s (commit: %s, built: %s)\n", version, commit, date)
		return nil
	},
}

func init() {
	cobra.OnInitialize(loadEnv)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (searches ./config.yaml, ./configs, /etc/sentence-encoder)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with ENCODER_* overrides")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statsCmd)
}

// loadEnv reads the dotenv file so ENCODER_* variables reach viper. A missing file is fine.
func loadEnv() {
	if envFile == "" {
		return
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", envFile, err)
	}
}

// app bundles what every subcommand needs
type app struct {
	loader *config.Loader
	cfg    *config.Config
	log    *logger.Logger
}

func newApp() (*app, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:    cfg.Logging.File.Enabled,
			Path:       cfg.Logging.File.Path,
			MaxSize:    cfg.Logging.File.MaxSize,
			MaxAge:     cfg.Logging.File.MaxAge,
			MaxBackups: cfg.Logging.File.MaxBackups,
			Compress:   cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &app{loader: loader, cfg: cfg, log: log}, nil
}

func (rt *app) embeddingService() (embeddings.EmbeddingService, error) {
	factory := embeddings.NewFactory(rt.log.WithComponent("embeddings").Logger)
	svc, err := factory.CreateService(embeddings.ServiceConfig{
		Model: rt.cfg.Model,
		Cache: rt.cfg.Cache,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentence encoder: %w", err)
	}
	info := embeddings.Describe(svc)
	rt.log.Info("Sentence encoder ready",
		zap.String("model", info.Name),
		zap.Int("dimension", info.Dimension),
		zap.Int("max_seq_length", info.MaxSeqLength),
		zap.Bool("cache", info.Cached),
	)
	return svc, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
