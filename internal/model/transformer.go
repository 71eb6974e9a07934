package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// TransformerAutoencoder is the frozen reconstruction model. It is immutable
// after construction.
type TransformerAutoencoder struct {
	cfg       Config
	embedding linear
	pe        *mat.Dense // MaxLen x DModel
	layers    []encoderLayer
	decoder   linear
}

type linear struct {
	w *mat.Dense // out x in
	b []float64
}

type layerNorm struct {
	gamma []float64
	beta  []float64
	eps   float64
}

type encoderLayer struct {
	inProj  linear
	outProj linear
	ff1     linear
	ff2     linear
	norm1   layerNorm
	norm2   layerNorm
}

// NewTransformerAutoencoder builds a model from weights. Weights that carry a
// config must match cfg exactly.
func NewTransformerAutoencoder(cfg Config, w *Weights) (*TransformerAutoencoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}
	if w == nil {
		return nil, fmt.Errorf("weights are required")
	}
	if w.Config != (Config{}) && w.Config != cfg {
		return nil, fmt.Errorf("weights were built for %+v, model expects %+v", w.Config, cfg)
	}
	if err := w.Check(cfg); err != nil {
		return nil, fmt.Errorf("invalid weights: %w", err)
	}

	m := &TransformerAutoencoder{
		cfg:       cfg,
		embedding: newLinear(w.Embedding),
		pe:        positionalEncoding(cfg.MaxLen, cfg.DModel),
		layers:    make([]encoderLayer, len(w.Layers)),
		decoder:   newLinear(w.Decoder),
	}
	for i, l := range w.Layers {
		m.layers[i] = encoderLayer{
			inProj:  newLinear(l.InProj),
			outProj: newLinear(l.OutProj),
			ff1:     newLinear(l.Linear1),
			ff2:     newLinear(l.Linear2),
			norm1:   newLayerNorm(l.Norm1, cfg.LayerNormEps),
			norm2:   newLayerNorm(l.Norm2, cfg.LayerNormEps),
		}
	}
	return m, nil
}

// Config returns the architecture the model was built with.
func (m *TransformerAutoencoder) Config() Config {
	return m.cfg
}

// Reconstruct runs the forward pass with every row as its own length-one
// sequence. It panics if x does not have Config().NumFeatures columns.
func (m *TransformerAutoencoder) Reconstruct(x mat.Matrix) *mat.Dense {
	return m.ReconstructSequences(x, 1)
}

// ReconstructSequences treats consecutive groups of seqLen rows as one
// sequence. Rows attend only within their own sequence.
func (m *TransformerAutoencoder) ReconstructSequences(x mat.Matrix, seqLen int) *mat.Dense {
	rows, cols := x.Dims()
	if cols != m.cfg.NumFeatures {
		panic(fmt.Sprintf("model: input has %d features, model expects %d", cols, m.cfg.NumFeatures))
	}
	if rows == 0 {
		panic("model: empty input")
	}
	if seqLen <= 0 || rows%seqLen != 0 {
		panic(fmt.Sprintf("model: %d rows do not split into sequences of length %d", rows, seqLen))
	}
	if seqLen > m.cfg.MaxLen {
		panic(fmt.Sprintf("model: sequence length %d exceeds max_len %d", seqLen, m.cfg.MaxLen))
	}

	h := m.embedding.forward(x)
	for i := 0; i < rows; i++ {
		row := h.RawRowView(i)
		pos := m.pe.RawRowView(i % seqLen)
		for j := range row {
			row[j] += pos[j]
		}
	}

	for _, l := range m.layers {
		h = l.forward(h, seqLen, m.cfg.NumHeads)
	}

	return m.decoder.forward(h)
}

func (l encoderLayer) forward(x *mat.Dense, seqLen, heads int) *mat.Dense {
	attn := l.outProj.forward(selfAttention(l.inProj.forward(x), seqLen, heads))
	attn.Add(attn, x)
	x = l.norm1.forward(attn)

	ff := l.ff1.forward(x)
	ff.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, ff)
	out := l.ff2.forward(ff)
	out.Add(out, x)
	return l.norm2.forward(out)
}

// selfAttention computes scaled dot-product attention from packed
// [q | k | v] projections (rows x 3d) and returns rows x d.
func selfAttention(qkv *mat.Dense, seqLen, heads int) *mat.Dense {
	rows, width := qkv.Dims()
	d := width / 3
	dh := d / heads
	scale := 1 / math.Sqrt(float64(dh))

	out := mat.NewDense(rows, d, nil)
	weights := make([]float64, seqLen)

	for start := 0; start < rows; start += seqLen {
		for h := 0; h < heads; h++ {
			qOff, kOff, vOff := h*dh, d+h*dh, 2*d+h*dh
			for i := start; i < start+seqLen; i++ {
				q := qkv.RawRowView(i)[qOff : qOff+dh]

				maxScore := math.Inf(-1)
				for j := 0; j < seqLen; j++ {
					k := qkv.RawRowView(start + j)[kOff : kOff+dh]
					var s float64
					for c := range q {
						s += q[c] * k[c]
					}
					weights[j] = s * scale
					maxScore = math.Max(maxScore, weights[j])
				}
				var sum float64
				for j := range weights {
					weights[j] = math.Exp(weights[j] - maxScore)
					sum += weights[j]
				}

				dst := out.RawRowView(i)[h*dh : (h+1)*dh]
				for j := 0; j < seqLen; j++ {
					v := qkv.RawRowView(start + j)[vOff : vOff+dh]
					p := weights[j] / sum
					for c := range dst {
						dst[c] += p * v[c]
					}
				}
			}
		}
	}
	return out
}

func newLinear(p LinearParams) linear {
	out, in := len(p.Weight), len(p.Weight[0])
	w := mat.NewDense(out, in, nil)
	for i, row := range p.Weight {
		w.SetRow(i, row)
	}
	b := make([]float64, len(p.Bias))
	copy(b, p.Bias)
	return linear{w: w, b: b}
}

// forward computes x * W^T + b.
func (l linear) forward(x mat.Matrix) *mat.Dense {
	rows, _ := x.Dims()
	out, _ := l.w.Dims()
	y := mat.NewDense(rows, out, nil)
	y.Mul(x, l.w.T())
	for i := 0; i < rows; i++ {
		row := y.RawRowView(i)
		for j := range row {
			row[j] += l.b[j]
		}
	}
	return y
}

func newLayerNorm(p NormParams, eps float64) layerNorm {
	n := layerNorm{
		gamma: make([]float64, len(p.Weight)),
		beta:  make([]float64, len(p.Bias)),
		eps:   eps,
	}
	copy(n.gamma, p.Weight)
	copy(n.beta, p.Bias)
	return n
}

// forward normalizes each row with its biased variance, in place.
func (n layerNorm) forward(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		var mean float64
		for _, v := range row {
			mean += v
		}
		mean /= float64(cols)
		var variance float64
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(cols)
		inv := 1 / math.Sqrt(variance+n.eps)
		for j, v := range row {
			row[j] = (v-mean)*inv*n.gamma[j] + n.beta[j]
		}
	}
	return x
}

// positionalEncoding builds the sinusoidal table: even dimensions carry
// sin(pos * 10000^(-2i/d)) and odd dimensions the matching cos.
func positionalEncoding(maxLen, d int) *mat.Dense {
	pe := mat.NewDense(maxLen, d, nil)
	for pos := 0; pos < maxLen; pos++ {
		row := pe.RawRowView(pos)
		for i := 0; i < d; i += 2 {
			angle := float64(pos) * math.Exp(float64(i)*(-math.Log(10000.0)/float64(d)))
			row[i] = math.Sin(angle)
			if i+1 < d {
				row[i+1] = math.Cos(angle)
			}
		}
	}
	return pe
}
