package embeddings

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxSeqLength is used when no sequence cap is configured.
	DefaultMaxSeqLength = 128
	// MaxSeqLengthLimit leaves room for [CLS] and [SEP] inside BERT's 512 positions.
	MaxSeqLengthLimit = 510
)

// TokenizedBatch is a padded rectangle of token ids ready for the encoder.
// All tensors are flat, row-major, Size x SeqLen.
type TokenizedBatch struct {
	InputIDs      []int64
	TokenTypeIDs  []int64
	AttentionMask []int64
	Size          int
	SeqLen        int
	// Lengths holds the unpadded row lengths, [CLS] and [SEP] included.
	Lengths   []int
	Truncated int
}

// Row returns the ids and mask of row i.
func (b *TokenizedBatch) Row(i int) (ids, mask []int64) {
	off := i * b.SeqLen
	return b.InputIDs[off : off+b.SeqLen], b.AttentionMask[off : off+b.SeqLen]
}

// PaddingTokens counts padded positions in the batch.
func (b *TokenizedBatch) PaddingTokens() int {
	n := b.Size * b.SeqLen
	for _, l := range b.Lengths {
		n -= l
	}
	return n
}

// BatchPlan is the result of sorting and chunking one encode call.
type BatchPlan struct {
	// Order maps sorted position to original index.
	Order       Permutation
	Batches     []*TokenizedBatch
	TotalTokens int
	Truncated   int
}

// BatchBuilder turns sentences into length-sorted, dynamically padded batches.
type BatchBuilder struct {
	tokenizer    Tokenizer
	maxSeqLength int
	workers      int
	clsID        int64
	sepID        int64
	logger       *zap.Logger
}

// NewBatchBuilder resolves special token ids and normalizes the sequence cap.
func NewBatchBuilder(tok Tokenizer, maxSeqLength, workers int, logger *zap.Logger) (*BatchBuilder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tok == nil {
		return nil, fmt.Errorf("%w: tokenizer is required", ErrConfigError)
	}
	if maxSeqLength <= 0 {
		maxSeqLength = DefaultMaxSeqLength
	}
	if maxSeqLength > MaxSeqLengthLimit {
		logger.Warn("max_seq_length exceeds model limit, clamping",
			zap.Int("requested", maxSeqLength),
			zap.Int("limit", MaxSeqLengthLimit))
		maxSeqLength = MaxSeqLengthLimit
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	cls, err := tok.SpecialTokenID(TokenCLS)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrTokenizationFailed, TokenCLS, err)
	}
	sep, err := tok.SpecialTokenID(TokenSEP)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrTokenizationFailed, TokenSEP, err)
	}

	return &BatchBuilder{
		tokenizer:    tok,
		maxSeqLength: maxSeqLength,
		workers:      workers,
		clsID:        cls,
		sepID:        sep,
		logger:       logger,
	}, nil
}

// MaxSeqLength returns the effective sequence cap, special tokens excluded.
func (bb *BatchBuilder) MaxSeqLength() int {
	return bb.maxSeqLength
}

// Tokenize tokenizes all sentences, in parallel when more than one worker is configured.
func (bb *BatchBuilder) Tokenize(ctx context.Context, sentences []Sentence) ([]TokenSequence, error) {
	seqs := make([]TokenSequence, len(sentences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bb.workers)
	for i := range sentences {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ids, err := bb.tokenizer.Tokenize(sentences[i].Text)
			if err != nil {
				return fmt.Errorf("%w: sentence %d: %v", ErrTokenizationFailed, sentences[i].Index, err)
			}
			seqs[i] = TokenSequence{Index: sentences[i].Index, IDs: ids}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return seqs, nil
}

// Plan tokenizes, sorts by token length and packs sentences into batches of batchSize.
func (bb *BatchBuilder) Plan(ctx context.Context, sentences []Sentence, batchSize int) (*BatchPlan, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidInput, batchSize)
	}
	if len(sentences) == 0 {
		return &BatchPlan{Order: Permutation{}}, nil
	}

	seqs, err := bb.Tokenize(ctx, sentences)
	if err != nil {
		return nil, err
	}

	lengths := make([]int, len(seqs))
	for i, s := range seqs {
		lengths[i] = len(s.IDs)
	}
	order := SortByLength(lengths)
	sorted := Apply(order, seqs)

	plan := &BatchPlan{
		Order:   order,
		Batches: make([]*TokenizedBatch, 0, (len(sorted)+batchSize-1)/batchSize),
	}
	for start := 0; start < len(sorted); start += batchSize {
		end := min(start+batchSize, len(sorted))
		batch := bb.Pad(sorted[start:end])
		plan.Batches = append(plan.Batches, batch)
		plan.Truncated += batch.Truncated
		for _, l := range batch.Lengths {
			plan.TotalTokens += l
		}
	}

	if plan.Truncated > 0 {
		bb.logger.Debug("Truncated sentences to max_seq_length",
			zap.Int("truncated", plan.Truncated),
			zap.Int("max_seq_length", bb.maxSeqLength))
	}
	return plan, nil
}

// Pad builds one batch: [CLS] ids [SEP] per row, right-padded with zeros to
// min(longest, cap) + 2.
func (bb *BatchBuilder) Pad(seqs []TokenSequence) *TokenizedBatch {
	longest := 0
	for _, s := range seqs {
		longest = max(longest, len(s.IDs))
	}
	seqLen := min(longest, bb.maxSeqLength) + 2

	n := len(seqs)
	b := &TokenizedBatch{
		InputIDs:      make([]int64, n*seqLen),
		TokenTypeIDs:  make([]int64, n*seqLen),
		AttentionMask: make([]int64, n*seqLen),
		Size:          n,
		SeqLen:        seqLen,
		Lengths:       make([]int, n),
	}

	for row, s := range seqs {
		ids := s.IDs
		if len(ids) > bb.maxSeqLength {
			ids = ids[:bb.maxSeqLength]
			b.Truncated++
		}
		off := row * seqLen
		b.InputIDs[off] = bb.clsID
		copy(b.InputIDs[off+1:], ids)
		b.InputIDs[off+1+len(ids)] = bb.sepID
		for j := 0; j < len(ids)+2; j++ {
			b.AttentionMask[off+j] = 1
		}
		b.Lengths[row] = len(ids) + 2
	}
	return b
}
