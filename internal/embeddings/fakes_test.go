package embeddings

import (
	"context"
	"errors"
	"strings"
	"sync"
)

const (
	fakePad int64 = 0
	fakeUnk int64 = 1
	fakeCLS int64 = 2
	fakeSEP int64 = 3
)

// wordTokenizer maps each whitespace-separated word to a deterministic id.
type wordTokenizer struct {
	failOn string
}

func (t *wordTokenizer) Tokenize(text string) ([]int64, error) {
	if t.failOn != "" && text == t.failOn {
		return nil, errors.New("cannot tokenize")
	}
	words := strings.Fields(text)
	ids := make([]int64, len(words))
	for i, w := range words {
		var h int64
		for _, r := range w {
			h = (h*31 + int64(r)) % 9973
		}
		ids[i] = h + 4
	}
	return ids, nil
}

func (t *wordTokenizer) SpecialTokenID(kind SpecialToken) (int64, error) {
	switch kind {
	case TokenPad:
		return fakePad, nil
	case TokenUnk:
		return fakeUnk, nil
	case TokenCLS:
		return fakeCLS, nil
	case TokenSEP:
		return fakeSEP, nil
	}
	return 0, errors.New("unknown special token")
}

// idBackend embeds token id k at every position as [k, 1, k mod 7].
// Padding positions therefore carry non-zero values and must be masked out.
type idBackend struct {
	hidden int
	err    error

	mu     sync.Mutex
	calls  int
	shapes [][2]int
	closed bool
}

func newIDBackend() *idBackend { return &idBackend{hidden: 3} }

func (b *idBackend) Forward(ctx context.Context, batch *TokenizedBatch) (*EncodedBatch, error) {
	b.mu.Lock()
	b.calls++
	b.shapes = append(b.shapes, [2]int{batch.Size, batch.SeqLen})
	b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}

	h := b.hidden
	tokens := make([]float32, batch.Size*batch.SeqLen*h)
	for i, id := range batch.InputIDs {
		v := tokens[i*h : (i+1)*h]
		v[0] = float32(id)
		if h > 1 {
			v[1] = 1
		}
		if h > 2 {
			v[2] = float32(id % 7)
		}
	}
	return &EncodedBatch{
		Batch:           batch,
		TokenEmbeddings: tokens,
		CLSEmbeddings:   CLSFromTokens(tokens, batch.Size, batch.SeqLen, h),
		HiddenSize:      h,
	}, nil
}

func (b *idBackend) HiddenSize() int { return b.hidden }

func (b *idBackend) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

func (b *idBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *idBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func boolPtr(v bool) *bool { return &v }
