package rspca

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func randomMatrix(n, p int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			x.Set(i, j, rng.NormFloat64())
		}
	}
	return x
}

// plantedMatrix builds an n x p matrix of exact rank r with no noise.
func plantedMatrix(n, p, r int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	u := mat.NewDense(n, r, nil)
	v := mat.NewDense(r, p, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < r; j++ {
			u.Set(i, j, rng.NormFloat64())
		}
	}
	for i := 0; i < r; i++ {
		for j := 0; j < p; j++ {
			v.Set(i, j, rng.NormFloat64())
		}
	}
	x := mat.NewDense(n, p, nil)
	x.Mul(u, v)
	return x
}

func countZeros(m *mat.Dense) int {
	r, c := m.Dims()
	zeros := 0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) == 0 {
				zeros++
			}
		}
	}
	return zeros
}

func TestFitInvalidRank(t *testing.T) {
	x := randomMatrix(20, 5, 1)

	for _, k := range []int{0, -1, -100} {
		if _, err := Fit(x, k); !errors.Is(err, ErrInvalidRank) {
			t.Errorf("Fit(k=%d) error = %v, want ErrInvalidRank", k, err)
		}
	}
}

func TestFitRankClamped(t *testing.T) {
	x := randomMatrix(50, 10, 2)

	// Rank above min(n, p) is silently clamped, not an error.
	res, err := Fit(x, 15, WithRandomSeed(42))
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	p, k := res.Loadings.Dims()
	if p != 10 || k != 10 {
		t.Errorf("Loadings dimensions = (%d, %d), want (10, 10)", p, k)
	}
	n, k := res.Scores.Dims()
	if n != 50 || k != 10 {
		t.Errorf("Scores dimensions = (%d, %d), want (50, 10)", n, k)
	}
}

func TestFitInvalidOptions(t *testing.T) {
	x := randomMatrix(20, 5, 3)

	tests := []struct {
		name   string
		option Option
	}{
		{"negative alpha", WithAlpha(-1)},
		{"negative beta", WithBeta(-0.5)},
		{"negative max iterations", WithMaxIter(-1)},
		{"negative tolerance", WithTol(-1e-3)},
		{"negative oversample", WithOversample(-1)},
		{"negative power iterations", WithPowerIters(-2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Fit(x, 2, tt.option); err == nil {
				t.Error("Fit() error = nil, want configuration error")
			}
		})
	}
}

func TestFitDegenerateSpectrum(t *testing.T) {
	x := mat.NewDense(10, 5, nil)

	if _, err := Fit(x, 2, WithRandomSeed(1)); !errors.Is(err, ErrDegenerateSpectrum) {
		t.Errorf("Fit() on all-zero matrix error = %v, want ErrDegenerateSpectrum", err)
	}
}

func TestFitScenario(t *testing.T) {
	x := randomMatrix(100, 20, 11)

	res, err := Fit(x, 3,
		WithAlpha(1e-3),
		WithBeta(1e-4),
		WithCenter(true),
		WithScale(false),
		WithMaxIter(200),
		WithTol(1e-6),
		WithRandomSeed(42),
	)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if !res.Converged {
		t.Error("solver did not converge within 200 iterations")
	}
	if res.Iterations >= 200 {
		t.Errorf("Iterations = %d, want < 200", res.Iterations)
	}

	if len(res.Eigenvalues) != 3 {
		t.Fatalf("len(Eigenvalues) = %d, want 3", len(res.Eigenvalues))
	}
	for j, v := range res.Eigenvalues {
		if v <= 0 {
			t.Errorf("Eigenvalues[%d] = %v, want > 0", j, v)
		}
		if j > 0 && v > res.Eigenvalues[j-1] {
			t.Errorf("Eigenvalues not descending at %d: %v > %v", j, v, res.Eigenvalues[j-1])
		}
		if math.Abs(res.Sdev[j]-math.Sqrt(v)) > 1e-12 {
			t.Errorf("Sdev[%d] = %v, want sqrt(%v)", j, res.Sdev[j], v)
		}
	}

	n, k := res.Scores.Dims()
	if n != 100 || k != 3 {
		t.Errorf("Scores dimensions = (%d, %d), want (100, 3)", n, k)
	}

	if last, first := res.Objective[len(res.Objective)-1], res.Objective[0]; last > first {
		t.Errorf("objective increased over the run: first %v, last %v", first, last)
	}
}

func TestTransformOrthonormal(t *testing.T) {
	x := randomMatrix(80, 15, 12)

	res, err := Fit(x, 4, WithAlpha(1e-2), WithRandomSeed(42))
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	_, k := res.Transform.Dims()
	gram := mat.NewDense(k, k, nil)
	gram.Mul(res.Transform.T(), res.Transform)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(gram.At(i, j)-want) > 1e-10 {
				t.Fatalf("A'A[%d,%d] = %v, want %v", i, j, gram.At(i, j), want)
			}
		}
	}
}

func TestLoadingsSparsity(t *testing.T) {
	x := randomMatrix(100, 20, 13)

	res, err := Fit(x, 3, WithAlpha(0.1), WithRandomSeed(42))
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	p, k := res.Loadings.Dims()
	for j := 0; j < k; j++ {
		zeros := 0
		for i := 0; i < p; i++ {
			if res.Loadings.At(i, j) == 0 {
				zeros++
			}
		}
		if zeros == 0 {
			t.Errorf("column %d has no exact zeros under a strong L1 penalty", j)
		}
	}
}

func TestSparsityMonotoneInAlpha(t *testing.T) {
	x := randomMatrix(100, 20, 14)

	prev := -1
	for _, alpha := range []float64{1e-4, 1e-3, 1e-2, 1e-1} {
		res, err := Fit(x, 3, WithAlpha(alpha), WithRandomSeed(42))
		if err != nil {
			t.Fatalf("Fit(alpha=%v) error = %v", alpha, err)
		}
		zeros := countZeros(res.Loadings)
		if zeros < prev {
			t.Errorf("zero count decreased when alpha grew to %v: %d < %d", alpha, zeros, prev)
		}
		prev = zeros
	}
}

func TestObjectiveTraceLength(t *testing.T) {
	x := randomMatrix(60, 12, 15)

	res, err := Fit(x, 3, WithMaxIter(50), WithTol(0), WithRandomSeed(42))
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if len(res.Objective) != res.Iterations {
		t.Errorf("len(Objective) = %d, Iterations = %d", len(res.Objective), res.Iterations)
	}
	if res.Iterations > 50 {
		t.Errorf("Iterations = %d, want <= 50", res.Iterations)
	}
}

func TestFitMaxIterZero(t *testing.T) {
	x := randomMatrix(40, 10, 16)

	// With no iterations the initializer's A = B = V stands as the result.
	res, err := Fit(x, 3, WithMaxIter(0), WithRandomSeed(42))
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if len(res.Objective) != 0 || res.Iterations != 0 {
		t.Errorf("Iterations = %d with %d objective entries, want 0 and 0",
			res.Iterations, len(res.Objective))
	}
	if res.Converged {
		t.Error("Converged = true without any iterations")
	}
	if !mat.EqualApprox(res.Loadings, res.Transform, 0) {
		t.Error("Loadings != Transform before the first iteration")
	}
	for j, v := range res.Eigenvalues {
		if v <= 0 {
			t.Errorf("Eigenvalues[%d] = %v, want > 0 from the sketch spectrum", j, v)
		}
	}
}

func TestNoPenaltySVDLimit(t *testing.T) {
	// With both penalties off, the method reduces to ordinary low-rank
	// approximation: an exactly rank-3 matrix is reconstructed to numerical
	// precision.
	x := plantedMatrix(60, 25, 3, 17)

	res, err := Fit(x, 3,
		WithAlpha(0),
		WithBeta(0),
		WithCenter(false),
		WithRandomSeed(42),
	)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if zeros := countZeros(res.Loadings); zeros != 0 {
		t.Errorf("found %d exact zeros with no L1 penalty", zeros)
	}

	recon := res.InverseTransform()
	diff := mat.NewDense(60, 25, nil)
	diff.Sub(recon, x)
	relErr := mat.Norm(diff, 2) / mat.Norm(x, 2)
	if relErr > 1e-6 {
		t.Errorf("relative reconstruction error = %v, want < 1e-6", relErr)
	}
}

func TestInverseTransformRoundTrip(t *testing.T) {
	// Centering adds at most one to the rank, so k = 4 still captures a
	// centered and scaled rank-3 matrix exactly when penalties are off.
	x := plantedMatrix(50, 15, 3, 18)

	res, err := Fit(x, 4,
		WithAlpha(0),
		WithBeta(0),
		WithCenter(true),
		WithScale(true),
		WithRandomSeed(42),
	)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	recon := res.InverseTransform()
	diff := mat.NewDense(50, 15, nil)
	diff.Sub(recon, x)
	relErr := mat.Norm(diff, 2) / mat.Norm(x, 2)
	if relErr > 1e-6 {
		t.Errorf("relative round-trip error = %v, want < 1e-6", relErr)
	}
}

func TestFitRankDeficientSketch(t *testing.T) {
	// Requesting more components than the data's true rank degrades
	// gracefully: the trailing components come out numerically zero and
	// nothing turns into NaN.
	x := plantedMatrix(40, 10, 2, 22)

	res, err := Fit(x, 5, WithCenter(false), WithRandomSeed(42))
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if len(res.Eigenvalues) != 5 {
		t.Fatalf("len(Eigenvalues) = %d, want 5", len(res.Eigenvalues))
	}
	for j, v := range res.Eigenvalues {
		if v < 0 || math.IsNaN(v) {
			t.Errorf("Eigenvalues[%d] = %v, want non-negative finite", j, v)
		}
		if math.IsNaN(res.Sdev[j]) {
			t.Errorf("Sdev[%d] is NaN", j)
		}
	}
	leading := res.Eigenvalues[0]
	for j := 2; j < 5; j++ {
		if res.Eigenvalues[j] > 1e-10*leading {
			t.Errorf("Eigenvalues[%d] = %v, want numerically zero beyond the true rank", j, res.Eigenvalues[j])
		}
	}
	for j, r := range res.ExplainedVarianceRatio() {
		if math.IsNaN(r) {
			t.Errorf("explained variance ratio %d is NaN", j)
		}
	}

	n, k := res.Scores.Dims()
	if n != 40 || k != 5 {
		t.Errorf("Scores dimensions = (%d, %d), want (40, 5)", n, k)
	}
}

func TestFitDropsMissingRows(t *testing.T) {
	x := randomMatrix(50, 8, 19)
	x.Set(3, 2, math.NaN())
	x.Set(17, 0, math.NaN())
	x.Set(17, 7, math.NaN())
	x.Set(44, 5, math.NaN())

	res, err := Fit(x, 2, WithRandomSeed(42))
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if res.RowsDropped != 3 {
		t.Errorf("RowsDropped = %d, want 3", res.RowsDropped)
	}
	n, _ := res.Scores.Dims()
	if n != 47 {
		t.Errorf("Scores rows = %d, want 47", n)
	}
}

func TestFitAllRowsMissing(t *testing.T) {
	x := mat.NewDense(5, 3, nil)
	for i := 0; i < 5; i++ {
		x.Set(i, 0, math.NaN())
	}

	if _, err := Fit(x, 2); err == nil {
		t.Error("Fit() error = nil, want error when every row has missing values")
	}
}

func TestFitDoesNotMutateInput(t *testing.T) {
	x := randomMatrix(30, 10, 20)
	orig := mat.DenseCopyOf(x)

	if _, err := Fit(x, 3, WithScale(true), WithRandomSeed(42)); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if !mat.EqualApprox(x, orig, 0) {
		t.Error("Fit mutated the caller's matrix")
	}
}

func TestProgressCallback(t *testing.T) {
	x := randomMatrix(60, 12, 21)

	var calls int
	lastIter := 0
	res, err := Fit(x, 3,
		WithRandomSeed(42),
		WithProgress(func(iteration int, objective, improvement float64) {
			calls++
			if iteration <= 1 {
				t.Errorf("progress fired at iteration %d, want > 1", iteration)
			}
			if iteration <= lastIter {
				t.Errorf("progress iterations not increasing: %d after %d", iteration, lastIter)
			}
			if math.IsNaN(objective) || math.IsNaN(improvement) {
				t.Errorf("progress values NaN at iteration %d", iteration)
			}
			lastIter = iteration
		}),
	)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	// One callback per completed iteration past the first.
	if calls != res.Iterations-1 {
		t.Errorf("progress calls = %d, want %d", calls, res.Iterations-1)
	}
}

func TestSoftThreshold(t *testing.T) {
	in := mat.NewDense(2, 3, []float64{
		0.5, -0.5, 0.1,
		-0.1, 0.100001, -2.0,
	})

	out := softThreshold(in, 0.1)

	want := [][]float64{
		{0.4, -0.4, 0},
		{0, 0.000001, -1.9},
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(out.At(i, j)-want[i][j]) > 1e-12 {
				t.Errorf("out[%d,%d] = %v, want %v", i, j, out.At(i, j), want[i][j])
			}
		}
	}

	// Boundary values collapse to exactly zero.
	edge := softThreshold(mat.NewDense(1, 2, []float64{0.1, -0.1}), 0.1)
	if edge.At(0, 0) != 0 || edge.At(0, 1) != 0 {
		t.Errorf("entries at +/-kappa = (%v, %v), want exact zeros", edge.At(0, 0), edge.At(0, 1))
	}

	// The input must not be modified.
	if in.At(0, 0) != 0.5 {
		t.Error("softThreshold mutated its input")
	}
}

func TestEntrywiseL1(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{1, -2, -3, 4})
	if got := entrywiseL1(x); got != 10 {
		t.Errorf("entrywiseL1 = %v, want 10", got)
	}
}
