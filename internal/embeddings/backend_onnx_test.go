//go:build onnx

package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEnvironment replaces the ORT environment hooks for one test.
func fakeEnvironment(t *testing.T, preinitialized bool) (inits, destroys *int) {
	t.Helper()
	inits, destroys = new(int), new(int)
	live := preinitialized

	prevIs, prevInit, prevDestroy := ortIsInitialized, ortInitialize, ortDestroy
	ortIsInitialized = func() bool { return live }
	ortInitialize = func() error { *inits++; live = true; return nil }
	ortDestroy = func() error { *destroys++; live = false; return nil }
	t.Cleanup(func() {
		ortIsInitialized, ortInitialize, ortDestroy = prevIs, prevInit, prevDestroy
		envRefs, envCreated = 0, false
	})
	return inits, destroys
}

func TestEnvironmentSharedAcrossBackends(t *testing.T) {
	inits, destroys := fakeEnvironment(t, false)

	a := &OnnxBackend{holdsEnv: true, logger: zap.NewNop()}
	require.NoError(t, acquireEnvironment())
	b := &OnnxBackend{holdsEnv: true, logger: zap.NewNop()}
	require.NoError(t, acquireEnvironment())
	assert.Equal(t, 1, *inits)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Zero(t, *destroys, "environment still in use by the second backend")

	require.NoError(t, b.Close())
	assert.Equal(t, 1, *destroys)
	assert.Zero(t, envRefs)
}

func TestEnvironmentInitializedElsewhereIsLeftAlone(t *testing.T) {
	inits, destroys := fakeEnvironment(t, true)

	require.NoError(t, acquireEnvironment())
	releaseEnvironment(zap.NewNop())
	releaseEnvironment(zap.NewNop())

	assert.Zero(t, *inits)
	assert.Zero(t, *destroys)
}
