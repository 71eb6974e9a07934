package model

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"

	"gopkg.in/yaml.v3"
)

// Format identifies a weights serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// LinearParams holds a dense layer. Weight is out x in.
type LinearParams struct {
	Weight [][]float64 `json:"weight" yaml:"weight"`
	Bias   []float64   `json:"bias" yaml:"bias"`
}

// NormParams holds a layer normalization's affine parameters.
type NormParams struct {
	Weight []float64 `json:"weight" yaml:"weight"`
	Bias   []float64 `json:"bias" yaml:"bias"`
}

// LayerParams holds one encoder layer. InProj packs the query, key and value
// projections as rows [0,d), [d,2d) and [2d,3d).
type LayerParams struct {
	InProj  LinearParams `json:"in_proj" yaml:"in_proj"`
	OutProj LinearParams `json:"out_proj" yaml:"out_proj"`
	Linear1 LinearParams `json:"linear1" yaml:"linear1"`
	Linear2 LinearParams `json:"linear2" yaml:"linear2"`
	Norm1   NormParams   `json:"norm1" yaml:"norm1"`
	Norm2   NormParams   `json:"norm2" yaml:"norm2"`
}

// Weights is the full serialized parameter set.
type Weights struct {
	Config    Config        `json:"config" yaml:"config"`
	Embedding LinearParams  `json:"embedding" yaml:"embedding"`
	Layers    []LayerParams `json:"layers" yaml:"layers"`
	Decoder   LinearParams  `json:"decoder" yaml:"decoder"`
}

// DecodeWeights parses serialized weights.
func DecodeWeights(data []byte, format Format) (*Weights, error) {
	var w Weights
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &w)
	case FormatYAML:
		err = yaml.Unmarshal(data, &w)
	default:
		return nil, fmt.Errorf("unsupported weights format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s weights: %w", format, err)
	}
	return &w, nil
}

// EncodeWeights serializes weights.
func EncodeWeights(w *Weights, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.Marshal(w)
	case FormatYAML:
		return yaml.Marshal(w)
	default:
		return nil, fmt.Errorf("unsupported weights format %q", format)
	}
}

// InitWeights returns deterministic weights drawn the way an untrained
// PyTorch model initializes itself: linear layers uniform in
// ±1/sqrt(fan_in), attention input projections Xavier-uniform with zero
// bias, norms at identity. The same seed always yields the same weights.
func InitWeights(cfg Config, seed uint64) *Weights {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	d := cfg.DModel

	w := &Weights{
		Config:    cfg,
		Embedding: initLinear(rng, d, cfg.NumFeatures),
		Layers:    make([]LayerParams, cfg.NumLayers),
		Decoder:   initLinear(rng, cfg.NumFeatures, d),
	}
	for i := range w.Layers {
		inProj := LinearParams{
			Weight: uniformMatrix(rng, 3*d, d, math.Sqrt(6/float64(d+3*d))),
			Bias:   make([]float64, 3*d),
		}
		outProj := initLinear(rng, d, d)
		outProj.Bias = make([]float64, d)

		w.Layers[i] = LayerParams{
			InProj:  inProj,
			OutProj: outProj,
			Linear1: initLinear(rng, cfg.DFF, d),
			Linear2: initLinear(rng, d, cfg.DFF),
			Norm1:   identityNorm(d),
			Norm2:   identityNorm(d),
		}
	}
	return w
}

func initLinear(rng *rand.Rand, out, in int) LinearParams {
	bound := 1 / math.Sqrt(float64(in))
	bias := make([]float64, out)
	for i := range bias {
		bias[i] = (rng.Float64()*2 - 1) * bound
	}
	return LinearParams{
		Weight: uniformMatrix(rng, out, in, bound),
		Bias:   bias,
	}
}

func uniformMatrix(rng *rand.Rand, rows, cols int, bound float64) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = (rng.Float64()*2 - 1) * bound
		}
	}
	return m
}

func identityNorm(d int) NormParams {
	n := NormParams{Weight: make([]float64, d), Bias: make([]float64, d)}
	for i := range n.Weight {
		n.Weight[i] = 1
	}
	return n
}

// checkLinear verifies a layer is out x in with a matching bias.
func checkLinear(name string, p LinearParams, out, in int) error {
	if len(p.Weight) != out {
		return fmt.Errorf("%s: weight has %d rows, want %d", name, len(p.Weight), out)
	}
	for i, row := range p.Weight {
		if len(row) != in {
			return fmt.Errorf("%s: weight row %d has %d columns, want %d", name, i, len(row), in)
		}
	}
	if len(p.Bias) != out {
		return fmt.Errorf("%s: bias has %d entries, want %d", name, len(p.Bias), out)
	}
	return nil
}

func checkNorm(name string, p NormParams, d int) error {
	if len(p.Weight) != d || len(p.Bias) != d {
		return fmt.Errorf("%s: want %d weights and biases, got %d and %d", name, d, len(p.Weight), len(p.Bias))
	}
	return nil
}

// Check verifies every tensor has the shape cfg requires.
func (w *Weights) Check(cfg Config) error {
	d := cfg.DModel
	if err := checkLinear("embedding", w.Embedding, d, cfg.NumFeatures); err != nil {
		return err
	}
	if len(w.Layers) != cfg.NumLayers {
		return fmt.Errorf("got %d encoder layers, want %d", len(w.Layers), cfg.NumLayers)
	}
	for i, l := range w.Layers {
		prefix := fmt.Sprintf("layers[%d].", i)
		checks := []error{
			checkLinear(prefix+"in_proj", l.InProj, 3*d, d),
			checkLinear(prefix+"out_proj", l.OutProj, d, d),
			checkLinear(prefix+"linear1", l.Linear1, cfg.DFF, d),
			checkLinear(prefix+"linear2", l.Linear2, d, cfg.DFF),
			checkNorm(prefix+"norm1", l.Norm1, d),
			checkNorm(prefix+"norm2", l.Norm2, d),
		}
		for _, err := range checks {
			if err != nil {
				return err
			}
		}
	}
	return checkLinear("decoder", w.Decoder, cfg.NumFeatures, d)
}
