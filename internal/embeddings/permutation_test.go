package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortByLength(t *testing.T) {
	t.Run("ascending with stable ties", func(t *testing.T) {
		p := SortByLength([]int{3, 1, 2, 1, 3})
		assert.Equal(t, Permutation{1, 3, 2, 0, 4}, p)
		require.NoError(t, p.Validate())
	})

	t.Run("empty", func(t *testing.T) {
		p := SortByLength(nil)
		assert.Empty(t, p)
		assert.NoError(t, p.Validate())
	})

	t.Run("already sorted is identity", func(t *testing.T) {
		assert.Equal(t, Identity(4), SortByLength([]int{1, 2, 2, 5}))
	})
}

func TestPermutationApplyAndInvert(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	p := Permutation{2, 0, 3, 1}

	sorted := Apply(p, items)
	assert.Equal(t, []string{"c", "a", "d", "b"}, sorted)

	inv := p.Invert()
	assert.Equal(t, Permutation{1, 3, 0, 2}, inv)
	assert.Equal(t, items, Apply(inv, sorted))

	// Inverting twice returns the original permutation.
	assert.Equal(t, p, inv.Invert())
}

func TestPermutationRoundTripFromLengths(t *testing.T) {
	lengths := []int{7, 0, 3, 3, 9, 1, 0}
	idx := make([]int, len(lengths))
	for i := range idx {
		idx[i] = i
	}

	p := SortByLength(lengths)
	sorted := Apply(p, idx)
	for i := 1; i < len(sorted); i++ {
		assert.LessOrEqual(t, lengths[sorted[i-1]], lengths[sorted[i]])
	}
	assert.Equal(t, idx, Apply(p.Invert(), sorted))
}

func TestPermutationValidate(t *testing.T) {
	assert.NoError(t, Identity(3).Validate())
	assert.Error(t, Permutation{0, 0, 1}.Validate())
	assert.Error(t, Permutation{0, 3, 1}.Validate())
	assert.Error(t, Permutation{-1, 0}.Validate())
}
