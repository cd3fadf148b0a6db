package rspca

// ProgressFunc receives one notification per completed solver iteration past
// the first: the iteration number, the current objective value, and the
// relative improvement over the previous iteration.
type ProgressFunc func(iteration int, objective, improvement float64)

type config struct {
	alpha      float64
	beta       float64
	center     bool
	scale      bool
	maxIter    int
	tol        float64
	oversample int
	powerIters int
	seed       int64
	progress   ProgressFunc
}

func defaultConfig() config {
	return config{
		alpha:      1e-4,
		beta:       1e-4,
		center:     true,
		scale:      false,
		maxIter:    1000,
		tol:        1e-5,
		oversample: 20,
		powerIters: 2,
	}
}

// Option defines a functional option for configuring Fit
type Option func(*config)

// WithAlpha sets the sparsity-controlling L1 penalty, expressed as a fraction
// of the leading eigenvalue of the data
func WithAlpha(alpha float64) Option {
	return func(c *config) {
		c.alpha = alpha
	}
}

// WithBeta sets the ridge (L2) penalty, expressed as a fraction of the
// leading eigenvalue of the data
func WithBeta(beta float64) Option {
	return func(c *config) {
		c.beta = beta
	}
}

// WithCenter enables or disables column mean centering
func WithCenter(center bool) Option {
	return func(c *config) {
		c.center = center
	}
}

// WithScale enables or disables scaling columns to unit sample variance
func WithScale(scale bool) Option {
	return func(c *config) {
		c.scale = scale
	}
}

// WithMaxIter sets the iteration cap of the solver loop
func WithMaxIter(maxIter int) Option {
	return func(c *config) {
		c.maxIter = maxIter
	}
}

// WithTol sets the relative-improvement convergence tolerance
func WithTol(tol float64) Option {
	return func(c *config) {
		c.tol = tol
	}
}

// WithOversample sets the number of extra random directions sampled by the
// sketch beyond the target rank
func WithOversample(oversample int) Option {
	return func(c *config) {
		c.oversample = oversample
	}
}

// WithPowerIters sets the number of power iterations used by the sketch
func WithPowerIters(powerIters int) Option {
	return func(c *config) {
		c.powerIters = powerIters
	}
}

// WithRandomSeed sets the random seed governing the sketch for
// reproducibility. A zero seed keeps the sketch non-deterministic.
func WithRandomSeed(seed int64) Option {
	return func(c *config) {
		c.seed = seed
	}
}

// WithProgress registers a callback invoked synchronously once per completed
// iteration past the first, for external logging
func WithProgress(fn ProgressFunc) Option {
	return func(c *config) {
		c.progress = fn
	}
}
