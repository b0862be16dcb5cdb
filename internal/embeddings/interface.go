package embeddings

import (
	"context"
)

// EmbeddingService defines the interface for sentence embedding services
type EmbeddingService interface {
	Encode(ctx context.Context, sentences []string, batchSize int) ([][]float32, error)
	Dimension() int
	Name() string
	ComputeSimilarity(vec1, vec2 []float32) float32
	GetStats() *ModelStats
	HealthCheck(ctx context.Context) error
	Close() error
}

// Ensure implementations satisfy the interface
var (
	_ EmbeddingService = (*SentenceTransformer)(nil)
	_ EmbeddingService = (*CachedService)(nil)
)

// ModelInfo describes a loaded encoder
type ModelInfo struct {
	Name         string        `json:"name"`
	Dimension    int           `json:"dimension"`
	PoolingModes []PoolingMode `json:"pooling_modes,omitempty"`
	MaxSeqLength int           `json:"max_seq_length,omitempty"`
	Cached       bool          `json:"cached"`
}

// Describe reports model details, looking through caching wrappers.
func Describe(svc EmbeddingService) ModelInfo {
	info := ModelInfo{Name: svc.Name(), Dimension: svc.Dimension()}
	for {
		w, ok := svc.(interface{ Unwrap() EmbeddingService })
		if !ok {
			break
		}
		info.Cached = true
		svc = w.Unwrap()
	}
	if st, ok := svc.(*SentenceTransformer); ok {
		info.PoolingModes = st.PoolingModes()
		info.MaxSeqLength = st.MaxSeqLength()
	}
	return info
}
