package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ProgressFunc is called after each batch with the number of sentences encoded so far.
type ProgressFunc func(done, total int)

// Option configures a SentenceTransformer.
type Option func(*SentenceTransformer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(st *SentenceTransformer) { st.logger = logger }
}

// WithModelName sets the name reported in stats and used for cache keys.
func WithModelName(name string) Option {
	return func(st *SentenceTransformer) { st.name = name }
}

// WithMaxSeqLength sets the token cap per sentence, special tokens excluded.
func WithMaxSeqLength(n int) Option {
	return func(st *SentenceTransformer) { st.maxSeqLength = n }
}

// WithTokenizerWorkers bounds parallel tokenization.
func WithTokenizerWorkers(n int) Option {
	return func(st *SentenceTransformer) { st.workers = n }
}

// WithProgress registers a per-batch progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(st *SentenceTransformer) { st.progress = fn }
}

// SentenceTransformer is an immutable model handle: tokenizer, encoder and pooling.
// Encode may be called concurrently; batches of one call run sequentially.
type SentenceTransformer struct {
	name         string
	backend      TransformerBackend
	pooling      *Pooling
	batcher      *BatchBuilder
	maxSeqLength int
	workers      int
	progress     ProgressFunc
	logger       *zap.Logger

	closed  atomic.Bool
	statsMu sync.Mutex
	stats   ModelStats
}

// NewSentenceTransformer assembles a model handle from its parts.
func NewSentenceTransformer(tok Tokenizer, backend TransformerBackend, pooling *Pooling, opts ...Option) (*SentenceTransformer, error) {
	st := &SentenceTransformer{
		name:         "sentence-transformer",
		backend:      backend,
		pooling:      pooling,
		maxSeqLength: DefaultMaxSeqLength,
	}
	for _, opt := range opts {
		opt(st)
	}
	if st.logger == nil {
		st.logger = zap.NewNop()
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: encoder backend is required", ErrModelNotLoaded)
	}
	if pooling == nil {
		return nil, fmt.Errorf("%w: pooling is required", ErrConfigError)
	}
	if backend.HiddenSize() != pooling.HiddenSize() {
		return nil, fmt.Errorf("%w: encoder hidden size %d does not match pooling dimension %d",
			ErrConfigError, backend.HiddenSize(), pooling.HiddenSize())
	}

	batcher, err := NewBatchBuilder(tok, st.maxSeqLength, st.workers, st.logger)
	if err != nil {
		return nil, err
	}
	st.batcher = batcher
	st.maxSeqLength = batcher.MaxSeqLength()
	st.stats = ModelStats{
		ModelName: st.name,
		Dimension: pooling.OutputDimension(),
		StartTime: time.Now(),
	}
	return st, nil
}

// New loads a sentence-transformers model directory and builds the handle.
func New(cfg ModelConfig, logger *zap.Logger) (*SentenceTransformer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	logger.Info("Loading sentence encoder",
		zap.String("model", cfg.ModelName),
		zap.String("model_dir", cfg.ModelDir))

	files, err := ResolveModelFiles(cfg)
	if err != nil {
		return nil, err
	}
	bert, err := LoadBertConfig(files.BertConfig)
	if err != nil {
		return nil, err
	}
	poolCfg, err := LoadPoolingConfig(files.PoolingConfig)
	if err != nil {
		return nil, err
	}
	if poolCfg.WordEmbeddingDimension != bert.HiddenSize {
		return nil, fmt.Errorf("%w: word_embedding_dimension %d does not match hidden_size %d",
			ErrConfigError, poolCfg.WordEmbeddingDimension, bert.HiddenSize)
	}
	pooling, err := NewPooling(*poolCfg)
	if err != nil {
		return nil, err
	}

	tok, err := LoadWordPieceTokenizer(files.Vocab, cfg.DoLowerCase)
	if err != nil {
		return nil, err
	}
	if bert.VocabSize > 0 && tok.VocabSize() != bert.VocabSize {
		logger.Warn("Vocabulary size differs from encoder config",
			zap.Int("vocab_txt", tok.VocabSize()),
			zap.Int("config", bert.VocabSize))
	}

	backend, err := NewTransformerBackend(logger, BackendOptions{
		ModelPath:      files.Weights,
		RuntimeLibrary: cfg.RuntimeLibrary,
		HiddenSize:     bert.HiddenSize,
		IntraOpThreads: cfg.IntraOpThreads,
		InterOpThreads: cfg.InterOpThreads,
	})
	if err != nil {
		return nil, err
	}

	st, err := NewSentenceTransformer(tok, backend, pooling,
		WithLogger(logger),
		WithModelName(cfg.ModelName),
		WithMaxSeqLength(cfg.MaxSeqLength),
		WithTokenizerWorkers(cfg.TokenizerWorkers))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	st.stats.ModelLoadTime = time.Since(start)

	logger.Info("Sentence encoder ready",
		zap.String("model", cfg.ModelName),
		zap.Int("hidden_size", bert.HiddenSize),
		zap.Int("dimension", pooling.OutputDimension()),
		zap.Int("max_seq_length", st.maxSeqLength),
		zap.Int("vocab_size", tok.VocabSize()),
		zap.Duration("load_time", st.stats.ModelLoadTime))
	return st, nil
}

// Encode returns one embedding per sentence, in input order.
func (st *SentenceTransformer) Encode(ctx context.Context, sentences []string, batchSize int) ([][]float32, error) {
	if st.closed.Load() {
		return nil, ErrModelNotLoaded
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidInput, batchSize)
	}
	if len(sentences) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	input := make([]Sentence, len(sentences))
	for i, s := range sentences {
		input[i] = Sentence{Index: i, Text: s}
	}

	plan, err := st.batcher.Plan(ctx, input, batchSize)
	if err != nil {
		st.recordFailure()
		return nil, deadlineError(err)
	}

	sorted := make([][]float32, 0, len(sentences))
	for i, batch := range plan.Batches {
		if err := ctx.Err(); err != nil {
			st.recordFailure()
			return nil, deadlineError(err)
		}

		enc, err := st.backend.Forward(ctx, batch)
		if err != nil {
			st.recordFailure()
			st.logger.Error("Encoder forward failed",
				zap.Int("batch", i),
				zap.Int("batch_size", batch.Size),
				zap.Int("seq_len", batch.SeqLen),
				zap.Error(err))
			if errors.Is(err, ErrModelNotLoaded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: batch %d: %v", ErrInferenceFailed, i, err)
		}

		pooled, err := st.pooling.Forward(enc, nil)
		if err != nil {
			st.recordFailure()
			return nil, err
		}
		sorted = append(sorted, pooled.Embeddings...)

		if st.progress != nil {
			st.progress(len(sorted), len(sentences))
		}
	}

	out := Apply(plan.Order.Invert(), sorted)

	duration := time.Since(start)
	st.statsMu.Lock()
	updateStats(&st.stats, plan, len(sentences), duration)
	st.statsMu.Unlock()

	st.logger.Debug("Encoded sentences",
		zap.Int("sentences", len(sentences)),
		zap.Int("batches", len(plan.Batches)),
		zap.Int("tokens", plan.TotalTokens),
		zap.Duration("duration", duration))
	return out, nil
}

// deadlineError reports an expired context as a timeout.
func deadlineError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeoutError, err)
	}
	return err
}

func (st *SentenceTransformer) recordFailure() {
	st.statsMu.Lock()
	defer st.statsMu.Unlock()
	st.stats.TotalEncodes++
	st.stats.FailedRuns++
	st.stats.ErrorRate = float64(st.stats.FailedRuns) / float64(st.stats.SuccessfulRuns+st.stats.FailedRuns)
}

// Name returns the model name.
func (st *SentenceTransformer) Name() string {
	return st.name
}

// Dimension returns the embedding width.
func (st *SentenceTransformer) Dimension() int {
	return st.pooling.OutputDimension()
}

// PoolingModes lists the active pooling strategies in output order.
func (st *SentenceTransformer) PoolingModes() []PoolingMode {
	return st.pooling.Modes()
}

// MaxSeqLength returns the effective token cap.
func (st *SentenceTransformer) MaxSeqLength() int {
	return st.maxSeqLength
}

// ComputeSimilarity returns the cosine similarity of two embeddings.
func (st *SentenceTransformer) ComputeSimilarity(vec1, vec2 []float32) float32 {
	return ComputeCosineSimilarity(vec1, vec2)
}

// GetStats returns a snapshot of encoder statistics.
func (st *SentenceTransformer) GetStats() *ModelStats {
	st.statsMu.Lock()
	defer st.statsMu.Unlock()
	snapshot := st.stats
	return &snapshot
}

// HealthCheck reports whether the encoder can serve requests.
func (st *SentenceTransformer) HealthCheck(ctx context.Context) error {
	if st.closed.Load() || !st.backend.IsReady() {
		return ErrModelNotLoaded
	}
	return ctx.Err()
}

// Close releases the encoder. Further Encode calls fail.
func (st *SentenceTransformer) Close() error {
	if st.closed.Swap(true) {
		return nil
	}
	return st.backend.Close()
}
