package rspca

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Result holds the fitted sparse principal components. It is created once at
// the end of a solver run and not modified afterwards.
type Result struct {
	Loadings  *mat.Dense // p x k sparse loadings (B)
	Transform *mat.Dense // p x k orthonormal rotation (A)
	Scores    *mat.Dense // n x k projected data X*B

	Eigenvalues   []float64 // length k, descending
	Sdev          []float64 // sqrt of Eigenvalues
	TotalVariance float64   // sum of per-column sample variance of the working matrix

	Center []float64 // per-column means, nil when centering was disabled
	Scale  []float64 // per-column standard deviations, nil when scaling was disabled

	RowsDropped int // rows removed because they contained missing values

	Objective  []float64 // objective value per completed iteration
	Iterations int
	Converged  bool
}

func assembleResult(work *mat.Dense, st *iterate, center, scale []float64, dropped int) *Result {
	n, _ := work.Dims()
	_, k := st.b.Dims()

	scores := mat.NewDense(n, k, nil)
	scores.Mul(work, st.b)

	eig := make([]float64, k)
	copy(eig, st.zvals)
	floats.Scale(1/float64(n-1), eig)

	sdev := make([]float64, k)
	for j, v := range eig {
		sdev[j] = math.Sqrt(v)
	}

	return &Result{
		Loadings:      st.b,
		Transform:     st.a,
		Scores:        scores,
		Eigenvalues:   eig,
		Sdev:          sdev,
		TotalVariance: totalVariance(work),
		Center:        center,
		Scale:         scale,
		RowsDropped:   dropped,
		Objective:     st.objective,
		Iterations:    len(st.objective),
		Converged:     st.converged,
	}
}

// ExplainedVarianceRatio returns the fraction of the total variance captured
// by each component.
func (r *Result) ExplainedVarianceRatio() []float64 {
	out := make([]float64, len(r.Eigenvalues))
	if r.TotalVariance == 0 {
		return out
	}
	for j, v := range r.Eigenvalues {
		out[j] = v / r.TotalVariance
	}
	return out
}

// InverseTransform maps the scores back to the original variable space,
// undoing scaling and centering when they were applied. With zero penalties
// the reconstruction approaches the optimal rank-k approximation of the
// input.
func (r *Result) InverseTransform() *mat.Dense {
	n, _ := r.Scores.Dims()
	p, _ := r.Transform.Dims()

	out := mat.NewDense(n, p, nil)
	out.Mul(r.Scores, r.Transform.T())

	for j := 0; j < p; j++ {
		for i := 0; i < n; i++ {
			v := out.At(i, j)
			if r.Scale != nil {
				v *= r.Scale[j]
			}
			if r.Center != nil {
				v += r.Center[j]
			}
			out.Set(i, j, v)
		}
	}
	return out
}

// resultState is the serializable form of a Result
type resultState struct {
	Version int

	Rows int // n
	Cols int // p
	Rank int // k

	Loadings  []float64 // p*k, row major
	Transform []float64 // p*k, row major
	Scores    []float64 // n*k, row major

	Eigenvalues   []float64
	Sdev          []float64
	TotalVariance float64

	Center []float64
	Scale  []float64

	RowsDropped int
	Objective   []float64
	Iterations  int
	Converged   bool
}

// Save serializes the result to gob format
func (r *Result) Save(w io.Writer) error {
	n, _ := r.Scores.Dims()
	p, k := r.Loadings.Dims()

	state := resultState{
		Version:       1,
		Rows:          n,
		Cols:          p,
		Rank:          k,
		Loadings:      denseData(r.Loadings),
		Transform:     denseData(r.Transform),
		Scores:        denseData(r.Scores),
		Eigenvalues:   append([]float64(nil), r.Eigenvalues...),
		Sdev:          append([]float64(nil), r.Sdev...),
		TotalVariance: r.TotalVariance,
		Center:        append([]float64(nil), r.Center...),
		Scale:         append([]float64(nil), r.Scale...),
		RowsDropped:   r.RowsDropped,
		Objective:     append([]float64(nil), r.Objective...),
		Iterations:    r.Iterations,
		Converged:     r.Converged,
	}

	encoder := gob.NewEncoder(w)
	return encoder.Encode(state)
}

// Load deserializes a result written by Save
func Load(rd io.Reader) (*Result, error) {
	decoder := gob.NewDecoder(rd)

	var state resultState
	if err := decoder.Decode(&state); err != nil {
		return nil, err
	}

	if state.Version != 1 {
		return nil, errors.New("rspca: unsupported gob version")
	}
	if state.Rows < 1 || state.Cols < 1 || state.Rank < 1 {
		return nil, errors.New("rspca: invalid dimensions in serialized result")
	}
	if err := checkLen("loadings", state.Loadings, state.Cols*state.Rank); err != nil {
		return nil, err
	}
	if err := checkLen("transform", state.Transform, state.Cols*state.Rank); err != nil {
		return nil, err
	}
	if err := checkLen("scores", state.Scores, state.Rows*state.Rank); err != nil {
		return nil, err
	}
	if err := checkLen("eigenvalues", state.Eigenvalues, state.Rank); err != nil {
		return nil, err
	}
	if err := checkLen("sdev", state.Sdev, state.Rank); err != nil {
		return nil, err
	}
	if state.Center != nil {
		if err := checkLen("center", state.Center, state.Cols); err != nil {
			return nil, err
		}
	}
	if state.Scale != nil {
		if err := checkLen("scale", state.Scale, state.Cols); err != nil {
			return nil, err
		}
	}

	return &Result{
		Loadings:      mat.NewDense(state.Cols, state.Rank, state.Loadings),
		Transform:     mat.NewDense(state.Cols, state.Rank, state.Transform),
		Scores:        mat.NewDense(state.Rows, state.Rank, state.Scores),
		Eigenvalues:   state.Eigenvalues,
		Sdev:          state.Sdev,
		TotalVariance: state.TotalVariance,
		Center:        state.Center,
		Scale:         state.Scale,
		RowsDropped:   state.RowsDropped,
		Objective:     state.Objective,
		Iterations:    state.Iterations,
		Converged:     state.Converged,
	}, nil
}

func checkLen(name string, data []float64, want int) error {
	if len(data) != want {
		return fmt.Errorf("rspca: invalid %s data length %d, want %d", name, len(data), want)
	}
	return nil
}

// denseData copies a Dense into a contiguous row-major slice.
func denseData(m *mat.Dense) []float64 {
	raw := m.RawMatrix()
	out := make([]float64, raw.Rows*raw.Cols)
	for i := 0; i < raw.Rows; i++ {
		copy(out[i*raw.Cols:(i+1)*raw.Cols], raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols])
	}
	return out
}
