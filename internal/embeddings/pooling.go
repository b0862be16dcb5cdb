package embeddings

import (
	"fmt"
	"math"
)

// minTokenCount keeps the mean denominator away from zero.
const minTokenCount = 1e-9

// PoolingMode names one pooling strategy.
type PoolingMode string

const (
	PoolingCLS         PoolingMode = "cls"
	PoolingMax         PoolingMode = "max"
	PoolingMean        PoolingMode = "mean"
	PoolingMeanSqrtLen PoolingMode = "mean_sqrt_len"
)

// PoolingConfig mirrors 1_Pooling/config.json. Unset flags take defaults: mean
// on, everything else off.
type PoolingConfig struct {
	WordEmbeddingDimension       int   `json:"word_embedding_dimension" mapstructure:"word_embedding_dimension"`
	PoolingModeCLSToken          *bool `json:"pooling_mode_cls_token,omitempty" mapstructure:"pooling_mode_cls_token"`
	PoolingModeMaxTokens         *bool `json:"pooling_mode_max_tokens,omitempty" mapstructure:"pooling_mode_max_tokens"`
	PoolingModeMeanTokens        *bool `json:"pooling_mode_mean_tokens,omitempty" mapstructure:"pooling_mode_mean_tokens"`
	PoolingModeMeanSqrtLenTokens *bool `json:"pooling_mode_mean_sqrt_len_tokens,omitempty" mapstructure:"pooling_mode_mean_sqrt_len_tokens"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Pooling reduces token embeddings to one fixed-size vector per sentence.
type Pooling struct {
	hidden   int
	cls      bool
	max      bool
	mean     bool
	meanSqrt bool
}

// NewPooling resolves defaults and rejects configurations producing no output.
func NewPooling(cfg PoolingConfig) (*Pooling, error) {
	if cfg.WordEmbeddingDimension <= 0 {
		return nil, fmt.Errorf("%w: word_embedding_dimension must be positive, got %d", ErrConfigError, cfg.WordEmbeddingDimension)
	}
	p := &Pooling{
		hidden:   cfg.WordEmbeddingDimension,
		cls:      boolOr(cfg.PoolingModeCLSToken, false),
		max:      boolOr(cfg.PoolingModeMaxTokens, false),
		mean:     boolOr(cfg.PoolingModeMeanTokens, true),
		meanSqrt: boolOr(cfg.PoolingModeMeanSqrtLenTokens, false),
	}
	if len(p.Modes()) == 0 {
		return nil, fmt.Errorf("%w: every pooling mode is disabled", ErrConfigError)
	}
	return p, nil
}

// Modes lists active strategies in output order.
func (p *Pooling) Modes() []PoolingMode {
	var modes []PoolingMode
	if p.cls {
		modes = append(modes, PoolingCLS)
	}
	if p.max {
		modes = append(modes, PoolingMax)
	}
	if p.mean {
		modes = append(modes, PoolingMean)
	}
	if p.meanSqrt {
		modes = append(modes, PoolingMeanSqrtLen)
	}
	return modes
}

// HiddenSize returns the expected token embedding width.
func (p *Pooling) HiddenSize() int {
	return p.hidden
}

// OutputDimension is hidden size times the number of active modes.
func (p *Pooling) OutputDimension() int {
	return p.hidden * len(p.Modes())
}

// PooledBatch holds one sentence embedding per batch row.
type PooledBatch struct {
	Embeddings [][]float32
}

// Forward pools every row of enc. tokenWeightsSum, when non-nil, replaces the
// per-row mask count as the mean denominator.
func (p *Pooling) Forward(enc *EncodedBatch, tokenWeightsSum []float32) (*PooledBatch, error) {
	if err := enc.Validate(); err != nil {
		return nil, err
	}
	if enc.HiddenSize != p.hidden {
		return nil, fmt.Errorf("%w: encoder hidden size %d, pooling expects %d", ErrInferenceFailed, enc.HiddenSize, p.hidden)
	}
	if tokenWeightsSum != nil && len(tokenWeightsSum) != enc.Batch.Size {
		return nil, fmt.Errorf("%w: token weights for %d rows, batch has %d", ErrInvalidInput, len(tokenWeightsSum), enc.Batch.Size)
	}

	out := &PooledBatch{Embeddings: make([][]float32, enc.Batch.Size)}
	for i := 0; i < enc.Batch.Size; i++ {
		var w *float32
		if tokenWeightsSum != nil {
			w = &tokenWeightsSum[i]
		}
		out.Embeddings[i] = p.poolRow(enc, i, w)
	}
	return out, nil
}

func (p *Pooling) poolRow(enc *EncodedBatch, row int, weightSum *float32) []float32 {
	h := p.hidden
	vec := make([]float32, 0, p.OutputDimension())
	_, mask := enc.Batch.Row(row)

	if p.cls {
		vec = append(vec, enc.CLS(row)...)
	}

	if p.max {
		maxv := make([]float32, h)
		for d := range maxv {
			maxv[d] = -math.MaxFloat32
		}
		for j, m := range mask {
			if m == 0 {
				continue
			}
			tok := enc.Token(row, j)
			for d := 0; d < h; d++ {
				if tok[d] > maxv[d] {
					maxv[d] = tok[d]
				}
			}
		}
		vec = append(vec, maxv...)
	}

	if p.mean || p.meanSqrt {
		sum := make([]float32, h)
		var count float32
		for j, m := range mask {
			if m == 0 {
				continue
			}
			count += float32(m)
			tok := enc.Token(row, j)
			for d := 0; d < h; d++ {
				sum[d] += float32(m) * tok[d]
			}
		}
		if weightSum != nil {
			count = *weightSum
		}
		count = max(count, minTokenCount)

		if p.mean {
			mean := make([]float32, h)
			for d := range sum {
				mean[d] = sum[d] / count
			}
			vec = append(vec, mean...)
		}
		if p.meanSqrt {
			root := float32(math.Sqrt(float64(count)))
			ms := make([]float32, h)
			for d := range sum {
				ms[d] = sum[d] / root
			}
			vec = append(vec, ms...)
		}
	}
	return vec
}
