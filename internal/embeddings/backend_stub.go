//go:build !onnx
// +build !onnx

package embeddings

import (
	"fmt"

	"go.uber.org/zap"
)

// Stub implementation used when the 'onnx' build tag is not set.
func NewTransformerBackend(logger *zap.Logger, opts BackendOptions) (TransformerBackend, error) {
	return nil, fmt.Errorf("%w: binary built without the onnx tag, cannot load %s", ErrModelNotLoaded, opts.ModelPath)
}
