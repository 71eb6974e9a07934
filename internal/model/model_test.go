package model

import (
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newTestModel(t *testing.T, seed uint64) *TransformerAutoencoder {
	t.Helper()
	cfg := DefaultConfig()
	m, err := NewTransformerAutoencoder(cfg, InitWeights(cfg, seed))
	require.NoError(t, err)
	return m
}

func sampleBatch() *mat.Dense {
	return mat.NewDense(4, 5, []float64{
		-0.5, 0.1, -0.3, 0.0, 0.2,
		1.2, -0.7, 0.9, 1.5, -1.1,
		0.0, 0.0, 0.0, 0.0, 0.0,
		-0.7, 0.6, -0.6, -1.5, 0.9,
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 64, cfg.DModel)
	assert.Equal(t, 4, cfg.NumHeads)
	assert.Equal(t, 3, cfg.NumLayers)
	assert.Equal(t, 256, cfg.DFF)
	assert.Equal(t, 16, cfg.HeadDim())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"heads do not divide d_model", func(c *Config) { c.NumHeads = 5 }, "not divisible"},
		{"no layers", func(c *Config) { c.NumLayers = 0 }, "num_layers"},
		{"no features", func(c *Config) { c.NumFeatures = 0 }, "num_features"},
		{"zero eps", func(c *Config) { c.LayerNormEps = 0 }, "layer_norm_eps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitWeights_Deterministic(t *testing.T) {
	cfg := DefaultConfig()
	a := InitWeights(cfg, 7)
	b := InitWeights(cfg, 7)
	c := InitWeights(cfg, 8)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.Embedding.Weight, c.Embedding.Weight)
	require.NoError(t, a.Check(cfg))

	bound := 1 / math.Sqrt(float64(cfg.NumFeatures))
	for _, row := range a.Embedding.Weight {
		for _, v := range row {
			assert.LessOrEqual(t, math.Abs(v), bound)
		}
	}
	for _, v := range a.Layers[0].InProj.Bias {
		assert.Equal(t, 0.0, v)
	}
	for _, v := range a.Layers[0].Norm1.Weight {
		assert.Equal(t, 1.0, v)
	}
}

func TestNewTransformerAutoencoder_RejectsBadShapes(t *testing.T) {
	cfg := DefaultConfig()

	w := InitWeights(cfg, 1)
	w.Layers = w.Layers[:2]
	_, err := NewTransformerAutoencoder(cfg, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encoder layers")

	w = InitWeights(cfg, 1)
	w.Decoder.Bias = w.Decoder.Bias[:3]
	_, err = NewTransformerAutoencoder(cfg, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoder")

	w = InitWeights(cfg, 1)
	w.Config.DFF = 128
	_, err = NewTransformerAutoencoder(cfg, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights were built for")

	_, err = NewTransformerAutoencoder(cfg, nil)
	require.Error(t, err)
}

func TestReconstruct_ShapeAndFinite(t *testing.T) {
	m := newTestModel(t, 42)
	out := m.Reconstruct(sampleBatch())

	rows, cols := out.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 5, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := out.At(i, j)
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "row %d col %d = %v", i, j, v)
		}
	}
}

func TestReconstruct_Deterministic(t *testing.T) {
	m := newTestModel(t, 42)
	a := m.Reconstruct(sampleBatch())
	b := m.Reconstruct(sampleBatch())
	assert.True(t, mat.Equal(a, b))

	other := newTestModel(t, 42)
	assert.True(t, mat.Equal(a, other.Reconstruct(sampleBatch())), "same seed, same model")
}

func TestReconstruct_RowsAreIndependent(t *testing.T) {
	m := newTestModel(t, 3)
	batch := sampleBatch()
	full := m.Reconstruct(batch)

	for i := 0; i < 4; i++ {
		single := m.Reconstruct(batch.Slice(i, i+1, 0, 5))
		for j := 0; j < 5; j++ {
			assert.InDelta(t, full.At(i, j), single.At(0, j), 1e-12)
		}
	}
}

func TestReconstructSequences_SequencesAreIndependent(t *testing.T) {
	m := newTestModel(t, 3)
	batch := sampleBatch()
	full := m.ReconstructSequences(batch, 2)
	firstPair := m.ReconstructSequences(batch.Slice(0, 2, 0, 5), 2)

	for i := 0; i < 2; i++ {
		for j := 0; j < 5; j++ {
			assert.InDelta(t, full.At(i, j), firstPair.At(i, j), 1e-12)
		}
	}
}

func TestReconstruct_DoesNotMutateInput(t *testing.T) {
	m := newTestModel(t, 3)
	batch := sampleBatch()
	before := mat.DenseCopyOf(batch)
	_ = m.Reconstruct(batch)
	assert.True(t, mat.Equal(before, batch))
}

func TestReconstruct_WrongFeatureCountPanics(t *testing.T) {
	m := newTestModel(t, 1)
	assert.PanicsWithValue(t, "model: input has 4 features, model expects 5", func() {
		m.Reconstruct(mat.NewDense(2, 4, nil))
	})
}

func TestReconstruct_ConcurrentUse(t *testing.T) {
	m := newTestModel(t, 11)
	want := m.Reconstruct(sampleBatch())

	var wg sync.WaitGroup
	results := make([]*mat.Dense, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Reconstruct(sampleBatch())
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.True(t, mat.Equal(want, got))
	}
}

func TestPositionalEncoding(t *testing.T) {
	pe := positionalEncoding(3, 4)

	assert.Equal(t, []float64{0, 1, 0, 1}, pe.RawRowView(0))
	assert.InDelta(t, math.Sin(1), pe.At(1, 0), 1e-15)
	assert.InDelta(t, math.Cos(1), pe.At(1, 1), 1e-15)
	assert.InDelta(t, math.Sin(2*math.Pow(10000, -0.5)), pe.At(2, 2), 1e-15)
	assert.InDelta(t, math.Cos(2*math.Pow(10000, -0.5)), pe.At(2, 3), 1e-15)
}

func TestSelfAttention_LengthOneReturnsValues(t *testing.T) {
	// d=4, 2 heads, packed [q | k | v].
	qkv := mat.NewDense(2, 12, []float64{
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12,
		-1, -2, -3, -4, -5, -6, -7, -8, 0.5, 0.25, 0.125, 1,
	})
	out := selfAttention(qkv, 1, 2)

	assert.Equal(t, []float64{9, 10, 11, 12}, out.RawRowView(0))
	assert.Equal(t, []float64{0.5, 0.25, 0.125, 1}, out.RawRowView(1))
}

func TestSelfAttention_EqualScoresAverageValues(t *testing.T) {
	// Zero queries give uniform weights over the sequence.
	qkv := mat.NewDense(2, 3, []float64{
		0, 1, 2,
		0, 3, 4,
	})
	out := selfAttention(qkv, 2, 1)
	assert.InDelta(t, 3.0, out.At(0, 0), 1e-15)
	assert.InDelta(t, 3.0, out.At(1, 0), 1e-15)
}

func TestLayerNorm(t *testing.T) {
	n := layerNorm{gamma: []float64{1, 1, 1, 1}, beta: []float64{0, 0, 0, 0}, eps: 1e-5}
	x := mat.NewDense(1, 4, []float64{1, 2, 3, 4})
	n.forward(x)

	var mean, sq float64
	for _, v := range x.RawRowView(0) {
		mean += v
		sq += v * v
	}
	assert.InDelta(t, 0, mean/4, 1e-12)
	assert.InDelta(t, 1, sq/4, 1e-4)
}

func TestWeights_EncodeDecode(t *testing.T) {
	cfg := DefaultConfig()
	w := InitWeights(cfg, 5)
	m, err := NewTransformerAutoencoder(cfg, w)
	require.NoError(t, err)
	want := m.Reconstruct(sampleBatch())

	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			data, err := EncodeWeights(w, format)
			require.NoError(t, err)

			decoded, err := DecodeWeights(data, format)
			require.NoError(t, err)

			m2, err := NewTransformerAutoencoder(cfg, decoded)
			require.NoError(t, err)
			assert.True(t, mat.Equal(want, m2.Reconstruct(sampleBatch())))
		})
	}
}

func TestDecodeWeights_Errors(t *testing.T) {
	_, err := DecodeWeights([]byte("{}"), Format("toml"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported"))

	_, err = DecodeWeights([]byte("{not json"), FormatJSON)
	require.Error(t, err)
}
