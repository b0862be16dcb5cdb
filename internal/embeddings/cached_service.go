package embeddings

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// EmbeddingCache stores embeddings keyed by model name and sentence text.
type EmbeddingCache interface {
	// GetMany returns one entry per text; misses are nil.
	GetMany(ctx context.Context, model string, texts []string) ([][]float32, error)
	SetMany(ctx context.Context, model string, texts []string, embeddings [][]float32) error
	Close() error
}

// CachedService looks sentences up in a cache and encodes only the misses.
// Cache failures degrade to plain encoding.
type CachedService struct {
	inner  EmbeddingService
	cache  EmbeddingCache
	logger *zap.Logger
}

// NewCachedService wraps inner with cache.
func NewCachedService(inner EmbeddingService, cache EmbeddingCache, logger *zap.Logger) *CachedService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedService{inner: inner, cache: cache, logger: logger}
}

// Encode implements EmbeddingService.
func (s *CachedService) Encode(ctx context.Context, sentences []string, batchSize int) ([][]float32, error) {
	if len(sentences) == 0 || batchSize <= 0 {
		return s.inner.Encode(ctx, sentences, batchSize)
	}

	out, err := s.cache.GetMany(ctx, s.inner.Name(), sentences)
	if err != nil || len(out) != len(sentences) {
		s.logger.Warn("Embedding cache lookup failed, encoding without cache", zap.Error(err))
		RecordCacheLookups(ctx, 0, len(sentences))
		return s.inner.Encode(ctx, sentences, batchSize)
	}

	// Entries written under a different pooling setup for the same model name
	// have the wrong width and are re-encoded.
	dim := s.inner.Dimension()
	var missIdx []int
	var missText []string
	stale := 0
	for i, emb := range out {
		if emb != nil && len(emb) != dim {
			stale++
			emb = nil
		}
		if emb == nil {
			missIdx = append(missIdx, i)
			missText = append(missText, sentences[i])
		}
	}
	if stale > 0 {
		s.logger.Warn("Ignoring cached embeddings with mismatched dimension",
			zap.String("model", s.inner.Name()),
			zap.Int("dimension", dim),
			zap.Int("stale", stale))
	}
	s.recordLookups(len(sentences)-len(missIdx), len(missIdx))
	RecordCacheLookups(ctx, len(sentences)-len(missIdx), len(missIdx))
	if len(missIdx) == 0 {
		return out, nil
	}

	encoded, err := s.inner.Encode(ctx, missText, batchSize)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = encoded[j]
	}

	if err := s.cache.SetMany(ctx, s.inner.Name(), missText, encoded); err != nil {
		s.logger.Warn("Failed to store embeddings in cache", zap.Int("count", len(missText)), zap.Error(err))
	}
	return out, nil
}

func (s *CachedService) recordLookups(hits, misses int) {
	if st, ok := s.inner.(*SentenceTransformer); ok {
		st.statsMu.Lock()
		st.stats.CacheHits += int64(hits)
		st.stats.CacheMisses += int64(misses)
		if total := st.stats.CacheHits + st.stats.CacheMisses; total > 0 {
			st.stats.CacheHitRatio = float64(st.stats.CacheHits) / float64(total)
		}
		st.statsMu.Unlock()
	}
}

// Dimension implements EmbeddingService.
func (s *CachedService) Dimension() int { return s.inner.Dimension() }

// Name implements EmbeddingService.
func (s *CachedService) Name() string { return s.inner.Name() }

// ComputeSimilarity implements EmbeddingService.
func (s *CachedService) ComputeSimilarity(vec1, vec2 []float32) float32 {
	return s.inner.ComputeSimilarity(vec1, vec2)
}

// GetStats implements EmbeddingService.
func (s *CachedService) GetStats() *ModelStats { return s.inner.GetStats() }

// HealthCheck implements EmbeddingService.
func (s *CachedService) HealthCheck(ctx context.Context) error { return s.inner.HealthCheck(ctx) }

// Close closes the cache and the wrapped service.
func (s *CachedService) Close() error {
	if err := s.cache.Close(); err != nil {
		s.logger.Warn("Failed to close embedding cache", zap.Error(err))
	}
	return s.inner.Close()
}

// Unwrap returns the wrapped service.
func (s *CachedService) Unwrap() EmbeddingService { return s.inner }

// EncodeReport collects per-call cache figures for one Encode.
type EncodeReport struct {
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// CacheHits returns the number of sentences served from cache.
func (r *EncodeReport) CacheHits() int64 { return r.cacheHits.Load() }

// CacheMisses returns the number of sentences that had to be encoded.
func (r *EncodeReport) CacheMisses() int64 { return r.cacheMisses.Load() }

type encodeReportKey struct{}

// WithEncodeReport attaches a fresh report to ctx.
func WithEncodeReport(ctx context.Context) (context.Context, *EncodeReport) {
	r := &EncodeReport{}
	return context.WithValue(ctx, encodeReportKey{}, r), r
}

// RecordCacheLookups adds to the report attached to ctx, if any.
func RecordCacheLookups(ctx context.Context, hits, misses int) {
	if r, ok := ctx.Value(encodeReportKey{}).(*EncodeReport); ok {
		r.cacheHits.Add(int64(hits))
		r.cacheMisses.Add(int64(misses))
	}
}
