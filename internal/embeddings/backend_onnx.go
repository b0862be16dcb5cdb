//go:build onnx
// +build onnx

package embeddings

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// OnnxBackend implements TransformerBackend using ONNX Runtime (via yalue/onnxruntime_go).
type OnnxBackend struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	hiddenSize int
	holdsEnv   bool
	logger     *zap.Logger
	ready      bool
	mu         sync.RWMutex
}

// NewTransformerBackend initializes the ONNX Runtime backend. Requires build tag 'onnx'.
func NewTransformerBackend(logger *zap.Logger, opts BackendOptions) (TransformerBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	shlib := opts.RuntimeLibrary
	if shlib == "" {
		shlib = os.Getenv("ONNXRUNTIME_SHARED_LIB")
	}
	if shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if err := acquireEnvironment(); err != nil {
		return nil, fmt.Errorf("%w: onnx runtime environment init: %v", ErrModelNotLoaded, err)
	}
	backend, err := openOnnxSession(logger, opts)
	if err != nil {
		releaseEnvironment(logger)
		return nil, err
	}
	return backend, nil
}

// The ORT environment is process-wide. Backends share it and the last one
// closed tears it down, unless it was initialized outside this package.
var (
	envMu      sync.Mutex
	envRefs    int
	envCreated bool

	ortIsInitialized = ort.IsInitialized
	ortInitialize    = func() error { return ort.InitializeEnvironment() }
	ortDestroy       = ort.DestroyEnvironment
)

func acquireEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 && !ortIsInitialized() {
		if err := ortInitialize(); err != nil {
			return err
		}
		envCreated = true
	}
	envRefs++
	return nil
}

func releaseEnvironment(logger *zap.Logger) {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return
	}
	envRefs--
	if envRefs == 0 && envCreated {
		if err := ortDestroy(); err != nil {
			logger.Warn("Failed to destroy onnx environment", zap.Error(err))
		}
		envCreated = false
	}
}

func openOnnxSession(logger *zap.Logger, opts BackendOptions) (*OnnxBackend, error) {
	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: inspect onnx model %s: %v", ErrConfigError, opts.ModelPath, err)
	}

	available := map[string]string{}
	for _, ii := range inputsInfo {
		available[strings.ToLower(ii.Name)] = ii.Name
	}
	var inputNames []string
	for _, name := range []string{"input_ids", "attention_mask", "token_type_ids"} {
		if declared, ok := available[name]; ok {
			inputNames = append(inputNames, declared)
		}
	}
	if len(inputNames) < 2 || strings.ToLower(inputNames[0]) != "input_ids" || strings.ToLower(inputNames[1]) != "attention_mask" {
		return nil, fmt.Errorf("%w: onnx model %s must declare input_ids and attention_mask inputs", ErrConfigError, opts.ModelPath)
	}

	if len(outputsInfo) == 0 {
		return nil, fmt.Errorf("%w: onnx model %s reports no outputs", ErrConfigError, opts.ModelPath)
	}
	// Prefer the token-level hidden state; pooled outputs are computed here.
	output := outputsInfo[0]
	for _, oi := range outputsInfo {
		if oi.Name == "last_hidden_state" || oi.Name == "token_embeddings" {
			output = oi
			break
		}
	}
	if len(output.Dimensions) != 3 {
		return nil, fmt.Errorf("%w: onnx output %q has shape %v, want [batch, seq, hidden]", ErrConfigError, output.Name, output.Dimensions)
	}
	hidden := int(output.Dimensions[2])
	if hidden <= 0 {
		hidden = opts.HiddenSize
	}
	if hidden <= 0 {
		return nil, fmt.Errorf("%w: onnx output %q has dynamic hidden size and none was configured", ErrConfigError, output.Name)
	}
	if opts.HiddenSize > 0 && hidden != opts.HiddenSize {
		return nil, fmt.Errorf("%w: onnx hidden size %d does not match config %d", ErrConfigError, hidden, opts.HiddenSize)
	}

	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: session options: %v", ErrModelNotLoaded, err)
	}
	defer sessOpts.Destroy()
	if opts.IntraOpThreads > 0 {
		if err := sessOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("%w: intra-op threads: %v", ErrConfigError, err)
		}
	}
	if opts.InterOpThreads > 0 {
		if err := sessOpts.SetInterOpNumThreads(opts.InterOpThreads); err != nil {
			return nil, fmt.Errorf("%w: inter-op threads: %v", ErrConfigError, err)
		}
	}

	sess, err := ort.NewDynamicAdvancedSession(opts.ModelPath, inputNames, []string{output.Name}, sessOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: onnx session creation: %v", ErrModelNotLoaded, err)
	}

	logger.Info("ONNX Runtime backend ready",
		zap.String("model", opts.ModelPath),
		zap.Strings("inputs", inputNames),
		zap.String("output", output.Name),
		zap.Int("hidden_size", hidden))
	return &OnnxBackend{
		session:    sess,
		inputNames: inputNames,
		outputName: output.Name,
		hiddenSize: hidden,
		holdsEnv:   true,
		logger:     logger,
		ready:      true,
	}, nil
}

// HiddenSize returns the encoder width.
func (b *OnnxBackend) HiddenSize() int {
	return b.hiddenSize
}

// IsReady reports whether the backend is initialized.
func (b *OnnxBackend) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready && b.session != nil
}

// Close releases session and environment resources.
func (b *OnnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		if err := b.session.Destroy(); err != nil {
			b.logger.Warn("Failed to destroy onnx session", zap.Error(err))
		}
		b.session = nil
	}
	if b.holdsEnv {
		releaseEnvironment(b.logger)
		b.holdsEnv = false
	}
	b.ready = false
	return nil
}

// Forward runs inference for the batch and returns per-token hidden states.
func (b *OnnxBackend) Forward(ctx context.Context, batch *TokenizedBatch) (*EncodedBatch, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.ready || b.session == nil {
		return nil, ErrModelNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shape := ort.NewShape(int64(batch.Size), int64(batch.SeqLen))
	idsTensor, err := ort.NewTensor[int64](shape, batch.InputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, batch.AttentionMask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	inputs := []ort.Value{idsTensor, maskTensor}
	if len(b.inputNames) == 3 {
		typeTensor, err := ort.NewTensor[int64](shape, batch.TokenTypeIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
		}
		defer typeTensor.Destroy()
		inputs = append(inputs, typeTensor)
	}

	// One output; let ORT allocate it
	outputs := make([]ort.Value, 1)
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("onnx returned no outputs")
	}
	defer outputs[0].Destroy()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	outShape := outTensor.GetShape()
	if len(outShape) != 3 || int(outShape[0]) != batch.Size || int(outShape[1]) != batch.SeqLen || int(outShape[2]) != b.hiddenSize {
		return nil, fmt.Errorf("unexpected output shape %v for batch %dx%d", outShape, batch.Size, batch.SeqLen)
	}

	// The tensor's memory is freed with it, so copy out.
	data := outTensor.GetData()
	tokens := make([]float32, len(data))
	copy(tokens, data)

	return &EncodedBatch{
		Batch:           batch,
		TokenEmbeddings: tokens,
		CLSEmbeddings:   CLSFromTokens(tokens, batch.Size, batch.SeqLen, b.hiddenSize),
		HiddenSize:      b.hiddenSize,
	}, nil
}
