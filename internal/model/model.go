// Package model implements the frozen sequence autoencoder that reconstructs
// standardized feature rows. The anomaly score of a row is how badly the
// model reconstructs it.
//
// The architecture is a transformer encoder stack between a linear embedding
// and a linear decoder:
//
//	x (N x 5) -> embedding (5 -> 64) -> + positional encoding
//	  -> 3 x [self-attention, add & norm, feed-forward 64 -> 256 -> 64, add & norm]
//	  -> decoder (64 -> 5)
//
// Every transaction is an independent sequence of length one, so rows never
// attend to each other. Dropout exists only for training and is never applied.
package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Reconstructor maps an N x F matrix to an N x F reconstruction.
// Implementations must be deterministic and safe for concurrent use.
type Reconstructor interface {
	Reconstruct(x mat.Matrix) *mat.Dense
}

// Config fixes the architecture.
type Config struct {
	NumFeatures  int     `json:"num_features" yaml:"num_features"`
	DModel       int     `json:"d_model" yaml:"d_model"`
	NumHeads     int     `json:"num_heads" yaml:"num_heads"`
	NumLayers    int     `json:"num_layers" yaml:"num_layers"`
	DFF          int     `json:"dim_feedforward" yaml:"dim_feedforward"`
	Dropout      float64 `json:"dropout" yaml:"dropout"`
	MaxLen       int     `json:"max_len" yaml:"max_len"`
	LayerNormEps float64 `json:"layer_norm_eps" yaml:"layer_norm_eps"`
}

// DefaultConfig is the architecture the shipped weights are trained for.
func DefaultConfig() Config {
	return Config{
		NumFeatures:  5,
		DModel:       64,
		NumHeads:     4,
		NumLayers:    3,
		DFF:          256,
		Dropout:      0.1,
		MaxLen:       500,
		LayerNormEps: 1e-5,
	}
}

// Validate checks the configuration is internally consistent.
func (c Config) Validate() error {
	switch {
	case c.NumFeatures <= 0:
		return fmt.Errorf("num_features must be positive, got %d", c.NumFeatures)
	case c.DModel <= 0:
		return fmt.Errorf("d_model must be positive, got %d", c.DModel)
	case c.NumHeads <= 0 || c.DModel%c.NumHeads != 0:
		return fmt.Errorf("d_model %d is not divisible by %d heads", c.DModel, c.NumHeads)
	case c.NumLayers <= 0:
		return fmt.Errorf("num_layers must be positive, got %d", c.NumLayers)
	case c.DFF <= 0:
		return fmt.Errorf("dim_feedforward must be positive, got %d", c.DFF)
	case c.MaxLen <= 0:
		return fmt.Errorf("max_len must be positive, got %d", c.MaxLen)
	case c.LayerNormEps <= 0:
		return fmt.Errorf("layer_norm_eps must be positive, got %g", c.LayerNormEps)
	}
	return nil
}

// HeadDim is the width of one attention head.
func (c Config) HeadDim() int {
	return c.DModel / c.NumHeads
}
