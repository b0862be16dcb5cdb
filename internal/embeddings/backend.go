package embeddings

import (
	"context"
	"fmt"
)

// EncodedBatch carries the encoder output for one TokenizedBatch.
type EncodedBatch struct {
	Batch *TokenizedBatch
	// TokenEmbeddings is flat, Size x SeqLen x HiddenSize.
	TokenEmbeddings []float32
	// CLSEmbeddings is flat, Size x HiddenSize, taken from position 0.
	CLSEmbeddings []float32
	HiddenSize    int
}

// Token returns the hidden state of row i at position j.
func (e *EncodedBatch) Token(i, j int) []float32 {
	off := (i*e.Batch.SeqLen + j) * e.HiddenSize
	return e.TokenEmbeddings[off : off+e.HiddenSize]
}

// CLS returns the [CLS] hidden state of row i.
func (e *EncodedBatch) CLS(i int) []float32 {
	off := i * e.HiddenSize
	return e.CLSEmbeddings[off : off+e.HiddenSize]
}

// Validate checks tensor sizes against the batch shape.
func (e *EncodedBatch) Validate() error {
	if e.Batch == nil {
		return fmt.Errorf("%w: encoded batch has no input batch", ErrInferenceFailed)
	}
	if e.HiddenSize <= 0 {
		return fmt.Errorf("%w: hidden size %d", ErrInferenceFailed, e.HiddenSize)
	}
	if want := e.Batch.Size * e.Batch.SeqLen * e.HiddenSize; len(e.TokenEmbeddings) != want {
		return fmt.Errorf("%w: token embeddings length %d, want %d", ErrInferenceFailed, len(e.TokenEmbeddings), want)
	}
	if want := e.Batch.Size * e.HiddenSize; len(e.CLSEmbeddings) != want {
		return fmt.Errorf("%w: cls embeddings length %d, want %d", ErrInferenceFailed, len(e.CLSEmbeddings), want)
	}
	return nil
}

// CLSFromTokens copies position 0 of every row out of flat token embeddings.
func CLSFromTokens(tokens []float32, size, seqLen, hidden int) []float32 {
	cls := make([]float32, size*hidden)
	for i := 0; i < size; i++ {
		copy(cls[i*hidden:(i+1)*hidden], tokens[i*seqLen*hidden:i*seqLen*hidden+hidden])
	}
	return cls
}

// TransformerBackend defines a pluggable backend for transformer inference.
// Implementations may use ONNX Runtime, TensorRT, or other engines.
type TransformerBackend interface {
	// Forward runs one inference over the batch without gradients.
	Forward(ctx context.Context, batch *TokenizedBatch) (*EncodedBatch, error)
	// HiddenSize returns the width of each token embedding.
	HiddenSize() int
	// IsReady returns whether the backend is initialized and ready.
	IsReady() bool
	// Close releases any native resources.
	Close() error
}

// BackendOptions configures NewTransformerBackend.
type BackendOptions struct {
	ModelPath      string
	RuntimeLibrary string
	HiddenSize     int
	IntraOpThreads int
	InterOpThreads int
}

// NewTransformerBackend creates a backend if supported by the current build.
// Implementations live in build-tagged files, backend_onnx.go and backend_stub.go.
