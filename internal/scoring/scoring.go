// Package scoring measures how far a reconstruction is from its input.
package scoring

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ReconstructionErrors returns the mean squared error of each row of recon
// against the same row of x. Both matrices must have the same shape.
func ReconstructionErrors(x, recon mat.Matrix) []float64 {
	rows, cols := x.Dims()
	rr, rc := recon.Dims()
	if rows != rr || cols != rc {
		panic(fmt.Sprintf("scoring: input is %dx%d but reconstruction is %dx%d", rows, cols, rr, rc))
	}

	scores := make([]float64, rows)
	for i := 0; i < rows; i++ {
		var sum float64
		for j := 0; j < cols; j++ {
			d := x.At(i, j) - recon.At(i, j)
			sum += d * d
		}
		scores[i] = sum / float64(cols)
	}
	return scores
}
