//go:build !onnx

package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewWithoutRuntime(t *testing.T) {
	dir := writeModelDir(t, bertConfigJSON, poolingConfigJSON)

	_, err := New(ModelConfig{ModelName: "mini", ModelDir: dir, DoLowerCase: true}, zap.NewNop())
	assert.ErrorIs(t, err, ErrModelNotLoaded)
}
