// Package normalize standardizes feature matrices column by column using
// statistics of the batch being scored.
//
// A Scaler is fitted per call and must not outlive it: scores are relative to
// the batch they were computed in.
package normalize

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// relTolerance decides when a column's spread is indistinguishable from
// floating point noise around its mean.
const relTolerance = 1e-12

// Scaler holds per-column location and scale.
type Scaler struct {
	Mean  []float64
	Scale []float64

	// Degenerate lists the columns whose deviation was zero; their scale is 1.
	Degenerate []int
}

// Fit computes column means and population standard deviations of x.
func Fit(x mat.Matrix) *Scaler {
	rows, cols := x.Dims()
	s := &Scaler{
		Mean:  make([]float64, cols),
		Scale: make([]float64, cols),
	}

	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		mean, std := stat.PopMeanStdDev(col, nil)
		s.Mean[j] = mean
		if !(std > relTolerance*math.Max(1, math.Abs(mean))) {
			s.Scale[j] = 1
			s.Degenerate = append(s.Degenerate, j)
			continue
		}
		s.Scale[j] = std
	}
	return s
}

// Transform returns (x - mean) / scale as a new matrix.
func (s *Scaler) Transform(x mat.Matrix) *mat.Dense {
	rows, cols := x.Dims()
	if cols != len(s.Mean) {
		panic(mat.ErrShape)
	}
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(_, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, x)
	return out
}

// FitTransform fits a fresh Scaler on x and applies it.
func FitTransform(x mat.Matrix) (*mat.Dense, *Scaler) {
	s := Fit(x)
	return s.Transform(x), s
}
