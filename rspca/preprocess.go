package rspca

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Columns whose sample standard deviation falls below minStd are treated as
// constant and left unscaled, so near-constant columns are not blown up.
const minStd = 1e-8

// dropMissingRows copies x into a fresh matrix, leaving out every row that
// contains a NaN. It returns the filtered copy and the number of rows
// dropped. The input is never mutated.
func dropMissingRows(x mat.Matrix) (*mat.Dense, int) {
	n, p := x.Dims()
	kept := make([]int, 0, n)
	for i := 0; i < n; i++ {
		complete := true
		for j := 0; j < p; j++ {
			if math.IsNaN(x.At(i, j)) {
				complete = false
				break
			}
		}
		if complete {
			kept = append(kept, i)
		}
	}

	if len(kept) == 0 {
		return nil, n
	}
	out := mat.NewDense(len(kept), p, nil)
	for r, i := range kept {
		for j := 0; j < p; j++ {
			out.Set(r, j, x.At(i, j))
		}
	}
	return out, n - len(kept)
}

// standardize centers and/or scales the columns of x in place and returns
// the per-column center and scale vectors. A nil return vector means the
// corresponding transform was not applied.
func standardize(x *mat.Dense, center, scale bool) (centerVec, scaleVec []float64) {
	n, p := x.Dims()
	col := make([]float64, n)

	if center {
		centerVec = make([]float64, p)
		for j := 0; j < p; j++ {
			mat.Col(col, j, x)
			m := stat.Mean(col, nil)
			centerVec[j] = m
			for i := 0; i < n; i++ {
				x.Set(i, j, col[i]-m)
			}
		}
	}

	if scale {
		scaleVec = make([]float64, p)
		for j := 0; j < p; j++ {
			mat.Col(col, j, x)
			sd := math.Sqrt(stat.Variance(col, nil))
			if sd < minStd {
				sd = 1
			}
			scaleVec[j] = sd
			for i := 0; i < n; i++ {
				x.Set(i, j, col[i]/sd)
			}
		}
	}

	return centerVec, scaleVec
}

// totalVariance sums the sample variance (divisor n-1) of every column of x.
func totalVariance(x *mat.Dense) float64 {
	n, p := x.Dims()
	col := make([]float64, n)
	var total float64
	for j := 0; j < p; j++ {
		mat.Col(col, j, x)
		total += stat.Variance(col, nil)
	}
	return total
}
