package embeddings

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextHash(t *testing.T) {
	a := TextHash("hello world")
	assert.Len(t, a, 64)
	assert.Equal(t, a, TextHash("hello world"))
	assert.NotEqual(t, a, TextHash("hello world "))
}

func TestNormalizeEmbedding(t *testing.T) {
	got := NormalizeEmbedding([]float32{3, 4})
	assert.InDelta(t, 0.6, got[0], 1e-6)
	assert.InDelta(t, 0.8, got[1], 1e-6)

	zero := []float32{0, 0, 0}
	assert.Equal(t, zero, NormalizeEmbedding(zero))

	var norm float64
	for _, v := range NormalizeEmbedding([]float32{1, 2, 3, 4, 5}) {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestComputeCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"length mismatch", []float32{1, 2}, []float32{1}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ComputeCosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}
