package embeddings

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encoded(size, seqLen, hidden int, tokens []float32, mask []int64) *EncodedBatch {
	return &EncodedBatch{
		Batch: &TokenizedBatch{
			InputIDs:      make([]int64, size*seqLen),
			TokenTypeIDs:  make([]int64, size*seqLen),
			AttentionMask: mask,
			Size:          size,
			SeqLen:        seqLen,
		},
		TokenEmbeddings: tokens,
		CLSEmbeddings:   CLSFromTokens(tokens, size, seqLen, hidden),
		HiddenSize:      hidden,
	}
}

func TestNewPooling(t *testing.T) {
	t.Run("mean is the default", func(t *testing.T) {
		p, err := NewPooling(PoolingConfig{WordEmbeddingDimension: 4})
		require.NoError(t, err)
		assert.Equal(t, []PoolingMode{PoolingMean}, p.Modes())
		assert.Equal(t, 4, p.OutputDimension())
	})

	t.Run("dimension scales with active modes", func(t *testing.T) {
		p, err := NewPooling(PoolingConfig{
			WordEmbeddingDimension:       4,
			PoolingModeCLSToken:          boolPtr(true),
			PoolingModeMaxTokens:         boolPtr(true),
			PoolingModeMeanSqrtLenTokens: boolPtr(true),
		})
		require.NoError(t, err)
		assert.Equal(t, []PoolingMode{PoolingCLS, PoolingMax, PoolingMean, PoolingMeanSqrtLen}, p.Modes())
		assert.Equal(t, 16, p.OutputDimension())
	})

	t.Run("cls only", func(t *testing.T) {
		p, err := NewPooling(PoolingConfig{
			WordEmbeddingDimension: 4,
			PoolingModeCLSToken:    boolPtr(true),
			PoolingModeMeanTokens:  boolPtr(false),
		})
		require.NoError(t, err)
		assert.Equal(t, 4, p.OutputDimension())
	})

	t.Run("every mode disabled", func(t *testing.T) {
		_, err := NewPooling(PoolingConfig{
			WordEmbeddingDimension: 4,
			PoolingModeMeanTokens:  boolPtr(false),
		})
		assert.ErrorIs(t, err, ErrConfigError)
	})

	t.Run("non-positive dimension", func(t *testing.T) {
		_, err := NewPooling(PoolingConfig{})
		assert.ErrorIs(t, err, ErrConfigError)
	})
}

func TestPoolingMean(t *testing.T) {
	p, err := NewPooling(PoolingConfig{WordEmbeddingDimension: 2})
	require.NoError(t, err)

	out, err := p.Forward(encoded(1, 2, 2, []float32{1, 0, 0, 1}, []int64{1, 1}), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.5}}, out.Embeddings)
}

func TestPoolingIgnoresPadding(t *testing.T) {
	p, err := NewPooling(PoolingConfig{
		WordEmbeddingDimension: 2,
		PoolingModeMaxTokens:   boolPtr(true),
	})
	require.NoError(t, err)

	tokens := []float32{
		1, -5,
		3, -3,
		100, 100, // padding
	}
	out, err := p.Forward(encoded(1, 3, 2, tokens, []int64{1, 1, 0}), nil)
	require.NoError(t, err)

	// max then mean
	assert.Equal(t, []float32{3, -3, 2, -4}, out.Embeddings[0])
}

func TestPoolingCLSAndSqrt(t *testing.T) {
	p, err := NewPooling(PoolingConfig{
		WordEmbeddingDimension:       2,
		PoolingModeCLSToken:          boolPtr(true),
		PoolingModeMeanTokens:        boolPtr(false),
		PoolingModeMeanSqrtLenTokens: boolPtr(true),
	})
	require.NoError(t, err)

	tokens := []float32{
		2, 7,
		2, 1,
		9, 9, // padding
	}
	out, err := p.Forward(encoded(1, 3, 2, tokens, []int64{1, 1, 0}), nil)
	require.NoError(t, err)

	emb := out.Embeddings[0]
	require.Len(t, emb, 4)
	assert.Equal(t, []float32{2, 7}, emb[:2])
	assert.InDelta(t, 4/math.Sqrt2, emb[2], 1e-5)
	assert.InDelta(t, 8/math.Sqrt2, emb[3], 1e-5)
}

func TestPoolingTokenWeights(t *testing.T) {
	p, err := NewPooling(PoolingConfig{WordEmbeddingDimension: 1})
	require.NoError(t, err)

	enc := encoded(2, 2, 1, []float32{2, 6, 4, 4}, []int64{1, 1, 1, 1})
	out, err := p.Forward(enc, []float32{4, 2})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {4}}, out.Embeddings)

	_, err = p.Forward(enc, []float32{1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPoolingDegenerateRow(t *testing.T) {
	p, err := NewPooling(PoolingConfig{
		WordEmbeddingDimension:       1,
		PoolingModeMeanSqrtLenTokens: boolPtr(true),
	})
	require.NoError(t, err)

	out, err := p.Forward(encoded(1, 2, 1, []float32{5, 5}, []int64{0, 0}), nil)
	require.NoError(t, err)
	for _, v := range out.Embeddings[0] {
		assert.False(t, math.IsNaN(float64(v)))
		assert.Zero(t, v)
	}
}

func TestPoolingRejectsBadShapes(t *testing.T) {
	p, err := NewPooling(PoolingConfig{WordEmbeddingDimension: 2})
	require.NoError(t, err)

	_, err = p.Forward(encoded(1, 2, 1, []float32{1, 1}, []int64{1, 1}), nil)
	assert.ErrorIs(t, err, ErrInferenceFailed)

	enc := encoded(1, 2, 2, []float32{1, 0, 0, 1}, []int64{1, 1})
	enc.TokenEmbeddings = enc.TokenEmbeddings[:3]
	_, err = p.Forward(enc, nil)
	assert.ErrorIs(t, err, ErrInferenceFailed)
}
