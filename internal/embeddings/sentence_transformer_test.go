package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var corpus = []string{
	"the quick brown fox jumps over the lazy dog",
	"hi",
	"sentence embeddings for semantic search",
	"",
	"a b c",
	"one two",
	"hi",
	"padding should never leak into the pooled output vector",
}

func newTestTransformer(t *testing.T, backend *idBackend, cfg PoolingConfig, opts ...Option) *SentenceTransformer {
	t.Helper()
	if cfg.WordEmbeddingDimension == 0 {
		cfg.WordEmbeddingDimension = backend.hidden
	}
	pooling, err := NewPooling(cfg)
	require.NoError(t, err)

	opts = append([]Option{WithLogger(zap.NewNop()), WithModelName("test-model")}, opts...)
	st, err := NewSentenceTransformer(&wordTokenizer{failOn: "tokenizer-error"}, backend, pooling, opts...)
	require.NoError(t, err)
	return st
}

// encodeOneByOne encodes every sentence in its own call, so no padding is involved.
func encodeOneByOne(t *testing.T, st *SentenceTransformer, texts []string) [][]float32 {
	t.Helper()
	out := make([][]float32, len(texts))
	for i, s := range texts {
		v, err := st.Encode(context.Background(), []string{s}, 1)
		require.NoError(t, err)
		require.Len(t, v, 1)
		out[i] = v[0]
	}
	return out
}

func TestEncodePreservesInputOrder(t *testing.T) {
	st := newTestTransformer(t, newIDBackend(), PoolingConfig{})

	want := encodeOneByOne(t, st, corpus)
	got, err := st.Encode(context.Background(), corpus, 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Duplicate sentences at different positions get identical embeddings.
	assert.Equal(t, got[1], got[6])
	assert.NotEqual(t, got[0], got[1])
}

func TestEncodeBatchSizeInvariance(t *testing.T) {
	st := newTestTransformer(t, newIDBackend(), PoolingConfig{
		PoolingModeCLSToken:          boolPtr(true),
		PoolingModeMaxTokens:         boolPtr(true),
		PoolingModeMeanSqrtLenTokens: boolPtr(true),
	})

	reference, err := st.Encode(context.Background(), corpus, 1)
	require.NoError(t, err)

	for _, bs := range []int{2, 3, 5, len(corpus), 100} {
		got, err := st.Encode(context.Background(), corpus, bs)
		require.NoError(t, err, "batch size %d", bs)
		assert.Equal(t, reference, got, "batch size %d", bs)
	}
}

func TestEncodeDimension(t *testing.T) {
	backend := newIDBackend()
	st := newTestTransformer(t, backend, PoolingConfig{
		PoolingModeCLSToken:  boolPtr(true),
		PoolingModeMaxTokens: boolPtr(true),
	})
	assert.Equal(t, 3*backend.hidden, st.Dimension())

	got, err := st.Encode(context.Background(), corpus, 4)
	require.NoError(t, err)
	require.Len(t, got, len(corpus))
	for _, v := range got {
		assert.Len(t, v, st.Dimension())
	}
}

func TestEncodeHonoursBatchSize(t *testing.T) {
	backend := newIDBackend()
	st := newTestTransformer(t, backend, PoolingConfig{})

	_, err := st.Encode(context.Background(), corpus, 3)
	require.NoError(t, err)

	require.Equal(t, 3, backend.callCount())
	assert.Equal(t, 3, backend.shapes[0][0])
	assert.Equal(t, 3, backend.shapes[1][0])
	assert.Equal(t, 2, backend.shapes[2][0])
	// Sorted by length, so later batches are never narrower.
	assert.LessOrEqual(t, backend.shapes[0][1], backend.shapes[1][1])
	assert.LessOrEqual(t, backend.shapes[1][1], backend.shapes[2][1])
}

func TestEncodeEmptyInput(t *testing.T) {
	backend := newIDBackend()
	st := newTestTransformer(t, backend, PoolingConfig{})

	got, err := st.Encode(context.Background(), nil, 8)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Zero(t, backend.callCount())
}

func TestEncodeErrors(t *testing.T) {
	t.Run("invalid batch size", func(t *testing.T) {
		backend := newIDBackend()
		st := newTestTransformer(t, backend, PoolingConfig{})
		_, err := st.Encode(context.Background(), corpus, 0)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Zero(t, backend.callCount())
	})

	t.Run("encoder failure", func(t *testing.T) {
		backend := newIDBackend()
		backend.err = errors.New("out of memory")
		st := newTestTransformer(t, backend, PoolingConfig{})

		_, err := st.Encode(context.Background(), corpus, 4)
		assert.ErrorIs(t, err, ErrInferenceFailed)
		assert.Contains(t, err.Error(), "out of memory")
		assert.Equal(t, 1, backend.callCount(), "no retries")

		stats := st.GetStats()
		assert.Equal(t, int64(1), stats.FailedRuns)
		assert.Equal(t, 1.0, stats.ErrorRate)
	})

	t.Run("tokenizer failure", func(t *testing.T) {
		backend := newIDBackend()
		st := newTestTransformer(t, backend, PoolingConfig{})
		_, err := st.Encode(context.Background(), []string{"ok", "tokenizer-error"}, 2)
		assert.ErrorIs(t, err, ErrTokenizationFailed)
		assert.Zero(t, backend.callCount())
	})

	t.Run("expired deadline", func(t *testing.T) {
		st := newTestTransformer(t, newIDBackend(), PoolingConfig{})
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()
		_, err := st.Encode(ctx, corpus, 2)
		assert.ErrorIs(t, err, ErrTimeoutError)
	})

	t.Run("closed model", func(t *testing.T) {
		backend := newIDBackend()
		st := newTestTransformer(t, backend, PoolingConfig{})
		require.NoError(t, st.Close())
		require.NoError(t, st.Close())

		_, err := st.Encode(context.Background(), corpus, 2)
		assert.ErrorIs(t, err, ErrModelNotLoaded)
		assert.ErrorIs(t, st.HealthCheck(context.Background()), ErrModelNotLoaded)
		assert.False(t, backend.IsReady())
	})
}

func TestEncodeProgress(t *testing.T) {
	var calls [][2]int
	st := newTestTransformer(t, newIDBackend(), PoolingConfig{},
		WithProgress(func(done, total int) { calls = append(calls, [2]int{done, total}) }))

	_, err := st.Encode(context.Background(), corpus, 3)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{3, 8}, {6, 8}, {8, 8}}, calls)
}

func TestEncodeStats(t *testing.T) {
	st := newTestTransformer(t, newIDBackend(), PoolingConfig{}, WithMaxSeqLength(4))

	_, err := st.Encode(context.Background(), corpus, 4)
	require.NoError(t, err)
	_, err = st.Encode(context.Background(), []string{"hi"}, 4)
	require.NoError(t, err)

	stats := st.GetStats()
	assert.Equal(t, "test-model", stats.ModelName)
	assert.Equal(t, int64(2), stats.TotalEncodes)
	assert.Equal(t, int64(2), stats.SuccessfulRuns)
	assert.Equal(t, int64(len(corpus)+1), stats.TotalSentences)
	assert.Equal(t, int64(3), stats.TotalBatches)
	// Three corpus sentences exceed four tokens.
	assert.Equal(t, int64(3), stats.TruncatedInputs)
	assert.Zero(t, stats.ErrorRate)

	// GetStats hands out a copy.
	stats.TotalEncodes = 100
	assert.Equal(t, int64(2), st.GetStats().TotalEncodes)
}

func TestNewSentenceTransformerValidation(t *testing.T) {
	pooling, err := NewPooling(PoolingConfig{WordEmbeddingDimension: 8})
	require.NoError(t, err)

	_, err = NewSentenceTransformer(&wordTokenizer{}, newIDBackend(), pooling)
	assert.ErrorIs(t, err, ErrConfigError)

	_, err = NewSentenceTransformer(&wordTokenizer{}, nil, pooling)
	assert.ErrorIs(t, err, ErrModelNotLoaded)

	st, err := NewSentenceTransformer(&wordTokenizer{}, newIDBackend(), mustPooling(t, 3), WithMaxSeqLength(4096))
	require.NoError(t, err)
	assert.Equal(t, MaxSeqLengthLimit, st.MaxSeqLength())
	assert.Equal(t, []PoolingMode{PoolingMean}, st.PoolingModes())
	assert.Equal(t, "sentence-transformer", st.Name())
}

func TestComputeSimilarityOnEncodings(t *testing.T) {
	st := newTestTransformer(t, newIDBackend(), PoolingConfig{})
	got, err := st.Encode(context.Background(), []string{"hi", "hi", "something else entirely"}, 2)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, st.ComputeSimilarity(got[0], got[1]), 1e-6)
	assert.NotEqual(t, got[0], got[2])
	assert.Zero(t, st.ComputeSimilarity(got[0], nil))
}

func mustPooling(t *testing.T, hidden int) *Pooling {
	t.Helper()
	p, err := NewPooling(PoolingConfig{WordEmbeddingDimension: hidden})
	require.NoError(t, err)
	return p
}
