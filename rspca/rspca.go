// Package rspca implements randomized sparse principal component analysis
// (SPCA via variable projection). Given an n x p data matrix and a target
// rank k it produces a sparse loadings matrix B and an orthonormal rotation
// A such that X*B*A' approximates X while many entries of B are exactly
// zero, trading a small amount of reconstruction fidelity for interpretable
// components. The working matrix is first compressed with a randomized QB
// sketch so that the alternating solver operates on a reduced spectral
// representation and never forms a p x p product, which is what makes the
// method practical for large p.
//
// The solver alternates a closed-form orthogonal Procrustes update of A with
// a proximal-gradient (soft-threshold) update of B, tracking an elastic-net
// style objective until the relative improvement drops below a tolerance.
// See Erichson et al., "Sparse Principal Component Analysis via Variable
// Projection" (2020).
package rspca

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-sparse-pca/rqb"
)

var (
	// ErrInvalidRank is returned when the requested target rank is below 1.
	ErrInvalidRank = errors.New("rspca: target rank must be at least 1")

	// ErrDegenerateSpectrum is returned when the largest singular value of
	// the sketched data is zero, leaving the proximal step size undefined.
	ErrDegenerateSpectrum = errors.New("rspca: leading singular value is zero, step size undefined")
)

// Fit computes the randomized sparse PCA of x truncated to rank k.
//
// Rows of x containing NaN are dropped before any computation; the number of
// dropped rows is reported in Result.RowsDropped. A rank above min(n, p) is
// silently clamped. A rank-deficient sketch (fewer than k nonzero singular
// values) is accepted: the trailing components come out zero rather than
// raising an error.
//
// The caller's matrix is never mutated.
func Fit(x mat.Matrix, k int, options ...Option) (*Result, error) {
	if k < 1 {
		return nil, ErrInvalidRank
	}

	cfg := defaultConfig()
	for _, opt := range options {
		opt(&cfg)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	work, dropped := dropMissingRows(x)
	if work == nil {
		return nil, errors.New("rspca: every row contains missing values")
	}
	n, p := work.Dims()
	if n < 2 {
		return nil, fmt.Errorf("rspca: need at least 2 complete rows, got %d", n)
	}
	if m := min(n, p); k > m {
		k = m
	}

	center, scale := standardize(work, cfg.center, cfg.scale)

	var rng *rand.Rand
	if cfg.seed == 0 {
		rng = rand.New(rand.NewSource(rand.Int63()))
	} else {
		rng = rand.New(rand.NewSource(cfg.seed))
	}

	// Sketch the working matrix at rank l = min(k+oversample, n). Only the
	// compressed factor is needed; the basis Q is discarded.
	l := k + cfg.oversample
	if l > n {
		l = n
	}
	_, bsk, err := rqb.Decompose(work, l, cfg.powerIters, rng)
	if err != nil {
		return nil, fmt.Errorf("rspca: sketch failed: %w", err)
	}

	basis, err := newSpectralBasis(bsk, k)
	if err != nil {
		return nil, err
	}
	if basis.dmax == 0 {
		return nil, ErrDegenerateSpectrum
	}

	st, err := solve(basis, cfg)
	if err != nil {
		return nil, err
	}

	return assembleResult(work, st, center, scale, dropped), nil
}

func validateConfig(cfg config) error {
	switch {
	case cfg.alpha < 0:
		return fmt.Errorf("rspca: alpha must be non-negative, got %v", cfg.alpha)
	case cfg.beta < 0:
		return fmt.Errorf("rspca: beta must be non-negative, got %v", cfg.beta)
	case cfg.maxIter < 0:
		return fmt.Errorf("rspca: max iterations must be non-negative, got %d", cfg.maxIter)
	case cfg.tol < 0:
		return fmt.Errorf("rspca: tolerance must be non-negative, got %v", cfg.tol)
	case cfg.oversample < 0:
		return fmt.Errorf("rspca: oversample must be non-negative, got %d", cfg.oversample)
	case cfg.powerIters < 0:
		return fmt.Errorf("rspca: power iterations must be non-negative, got %d", cfg.powerIters)
	}
	return nil
}

// spectralBasis is the reduced representation of the working matrix: all
// m = min(l, p) right singular vectors and values of the sketch, plus the
// scaled bases VD = V*diag(d) and VD2 = V*diag(d^2). VD2 stands in for
// X'X ~ V*D^2*V' so the solver never materializes a p x p matrix. The full
// sketch spectrum stays in the basis; only the warm start A = B and the
// eigenvalue seed are truncated to the top-k columns. A rank-deficient
// sketch simply carries (near-)zero trailing singular values, which
// contribute nothing to the gradient or the objective.
type spectralBasis struct {
	v    *mat.Dense // p x m right singular vectors
	vd   *mat.Dense // p x m, columns scaled by d
	vd2  *mat.Dense // p x m, columns scaled by d^2
	d    []float64  // top-k singular values, descending
	dmax float64    // largest singular value
}

func newSpectralBasis(bsk *mat.Dense, k int) (*spectralBasis, error) {
	var svd mat.SVD
	if ok := svd.Factorize(bsk, mat.SVDThin); !ok {
		return nil, errors.New("rspca: SVD of the sketch failed")
	}

	vfull := &mat.Dense{}
	svd.VTo(vfull)
	vals := svd.Values(nil)

	p, m := vfull.Dims()
	sb := &spectralBasis{
		v:    vfull,
		vd:   mat.NewDense(p, m, nil),
		vd2:  mat.NewDense(p, m, nil),
		d:    append([]float64(nil), vals[:k]...),
		dmax: vals[0],
	}
	for j := 0; j < m; j++ {
		for i := 0; i < p; i++ {
			v := vfull.At(i, j)
			sb.vd.Set(i, j, v*vals[j])
			sb.vd2.Set(i, j, v*vals[j]*vals[j])
		}
	}

	return sb, nil
}

// iterate is the loop state of one solver run.
type iterate struct {
	a         *mat.Dense // p x k orthonormal transform
	b         *mat.Dense // p x k sparse loadings
	zvals     []float64  // singular values of the last orthogonal update
	objective []float64
	converged bool
}

// solve runs the alternating variable-projection loop. Both penalties are
// rescaled by dmax^2 before the loop so the defaults are scale invariant
// across datasets. The singular values of the last orthogonal update are
// kept on the state; with maxIter zero they remain the initializer's squared
// sketch values so the eigenvalue source is always populated.
func solve(sb *spectralBasis, cfg config) (*iterate, error) {
	p, m := sb.v.Dims()
	k := len(sb.d)

	alpha := cfg.alpha * sb.dmax * sb.dmax
	beta := cfg.beta * sb.dmax * sb.dmax
	nu := 1 / (sb.dmax*sb.dmax + beta)
	kappa := nu * alpha

	// Warm start from the k leading singular vectors.
	v0 := sb.v.Slice(0, p, 0, k)
	st := &iterate{
		a:         mat.DenseCopyOf(v0),
		b:         mat.DenseCopyOf(v0),
		zvals:     make([]float64, k),
		objective: make([]float64, 0, cfg.maxIter),
	}
	// Before the first orthogonal update the spectral values are the squared
	// sketch singular values, the same units the Z-update produces.
	for j, v := range sb.d {
		st.zvals[j] = v * v
	}

	// Scratch space reused across iterations.
	vtb := mat.NewDense(m, k, nil)
	z := mat.NewDense(p, k, nil)
	grad := mat.NewDense(p, k, nil)
	diff := mat.NewDense(p, k, nil)
	proj := mat.NewDense(m, k, nil)
	res := mat.NewDense(m, p, nil)

	for iter := 1; iter <= cfg.maxIter; iter++ {
		// Orthogonal update: A is the polar factor of Z = VD2*(V'B), the
		// Procrustes solution over orthonormal matrices for fixed B.
		vtb.Mul(sb.v.T(), st.b)
		z.Mul(sb.vd2, vtb)
		var svd mat.SVD
		if ok := svd.Factorize(z, mat.SVDThin); !ok {
			return nil, errors.New("rspca: SVD failed during orthogonal update")
		}
		var u, w mat.Dense
		svd.UTo(&u)
		svd.VTo(&w)
		st.a.Mul(&u, w.T())
		st.zvals = svd.Values(st.zvals)

		// Proximal gradient step on B with fixed step size nu, which upper
		// bounds the curvature of the smooth term, followed by the exact
		// proximal operator of the L1 penalty.
		diff.Sub(st.a, st.b)
		vtb.Mul(sb.v.T(), diff)
		grad.Mul(sb.vd2, vtb)
		grad.Apply(func(i, j int, v float64) float64 {
			bij := st.b.At(i, j)
			return bij + nu*(v-beta*bij)
		}, grad)
		st.b = softThreshold(grad, kappa)

		// Objective on the reduced representation:
		// 0.5*||VD' - (VD'B)A'||_F^2 + alpha*||B||_1 + 0.5*beta*||B||_F^2.
		proj.Mul(sb.vd.T(), st.b)
		res.Mul(proj, st.a.T())
		res.Sub(sb.vd.T(), res)
		fro := mat.Norm(res, 2)
		bfro := mat.Norm(st.b, 2)
		obj := 0.5*fro*fro + alpha*entrywiseL1(st.b) + 0.5*beta*bfro*bfro
		st.objective = append(st.objective, obj)

		if iter > 1 {
			prev := st.objective[len(st.objective)-2]
			improvement := (prev - obj) / obj
			if cfg.progress != nil {
				cfg.progress(iter, obj, improvement)
			}
			if improvement <= cfg.tol {
				st.converged = true
				break
			}
		}
	}

	return st, nil
}

// softThreshold applies the proximal operator of the scaled L1 penalty to
// every entry, producing a new matrix: entries with magnitude at most kappa
// become exactly zero, all others shrink toward zero by exactly kappa.
func softThreshold(x *mat.Dense, kappa float64) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		switch {
		case v > kappa:
			return v - kappa
		case v <= -kappa:
			return v + kappa
		default:
			return 0
		}
	}, x)
	return out
}

// entrywiseL1 sums the absolute values of all entries. mat.Norm(x, 1) is the
// maximum absolute column sum, which is not what the penalty needs.
func entrywiseL1(x *mat.Dense) float64 {
	raw := x.RawMatrix()
	var sum float64
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		sum += floats.Norm(row, 1)
	}
	return sum
}
