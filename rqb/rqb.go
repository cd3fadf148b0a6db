// Package rqb implements the randomized QB decomposition: given a matrix X
// and a target rank l, it computes an orthonormal basis Q (n x l) and a
// compressed matrix B (l x p) such that Q*B approximates X. The basis is
// found by projecting X onto a Gaussian test matrix and refining the
// projection with power iterations, following the usual randomized
// range-finding scheme (Halko, Martinsson, Tropp 2011).
package rqb

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Decompose computes a randomized QB decomposition of x truncated to the
// given rank. The rank is clamped to min(n, p). powerIters refinement passes
// sharpen the captured range; 1-2 passes are enough for matrices without a
// rapidly decaying spectrum. A nil rng falls back to a randomly seeded
// source, making the decomposition non-deterministic.
func Decompose(x mat.Matrix, rank, powerIters int, rng *rand.Rand) (q, b *mat.Dense, err error) {
	n, p := x.Dims()
	if rank < 1 {
		return nil, nil, fmt.Errorf("rqb: rank must be at least 1, got %d", rank)
	}
	if powerIters < 0 {
		return nil, nil, fmt.Errorf("rqb: power iterations must be non-negative, got %d", powerIters)
	}
	if m := min(n, p); rank > m {
		rank = m
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	// Gaussian test matrix.
	om := mat.NewDense(p, rank, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < rank; j++ {
			om.Set(i, j, rng.NormFloat64())
		}
	}

	// Randomly project the data matrix.
	y := mat.NewDense(n, rank, nil)
	y.Mul(x, om)

	// Power iterations pull the projection toward the dominant subspace.
	z := mat.NewDense(p, rank, nil)
	for it := 0; it < powerIters; it++ {
		z.Mul(x.T(), y)
		y.Mul(x, z)
	}

	// Gonum doesn't have thin QR, so the orthonormal basis of the
	// projection comes from a thin SVD instead.
	var svd mat.SVD
	if ok := svd.Factorize(y, mat.SVDThinU); !ok {
		return nil, nil, errors.New("rqb: SVD of the projected matrix failed")
	}
	q = &mat.Dense{}
	svd.UTo(q)

	b = mat.NewDense(rank, p, nil)
	b.Mul(q.T(), x)

	return q, b, nil
}
