package embeddings

import (
	"fmt"
	"sort"
)

// Permutation reorders a sequence: position i of the result takes element p[i]
// of the source.
type Permutation []int

// Identity returns the permutation that leaves n elements in place.
func Identity(n int) Permutation {
	p := make(Permutation, n)
	for i := range p {
		p[i] = i
	}
	return p
}

// SortByLength returns the permutation that orders indices ascending by length.
// Equal lengths keep their original relative order.
func SortByLength(lengths []int) Permutation {
	p := Identity(len(lengths))
	sort.SliceStable(p, func(a, b int) bool {
		return lengths[p[a]] < lengths[p[b]]
	})
	return p
}

// Invert returns q such that Apply(q, Apply(p, xs)) == xs.
func (p Permutation) Invert() Permutation {
	q := make(Permutation, len(p))
	for i, src := range p {
		q[src] = i
	}
	return q
}

// Validate checks that p is a bijection over [0, len(p)).
func (p Permutation) Validate() error {
	seen := make([]bool, len(p))
	for i, src := range p {
		if src < 0 || src >= len(p) {
			return fmt.Errorf("permutation index %d out of range at position %d", src, i)
		}
		if seen[src] {
			return fmt.Errorf("permutation index %d repeated at position %d", src, i)
		}
		seen[src] = true
	}
	return nil
}

// Apply returns items reordered by p. len(items) must equal len(p).
func Apply[T any](p Permutation, items []T) []T {
	out := make([]T, len(p))
	for i, src := range p {
		out[i] = items[src]
	}
	return out
}
