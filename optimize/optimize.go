// Package optimize adapts gonum's general-purpose optimizers into the two
// narrow entry points the model fitter needs: a bound-constrained
// finite-difference non-linear least-squares solve, and a weighted linear
// least-squares solve. Neither entry point retries internally — returning
// the unimproved starting point with its recorded objective value is a
// valid outcome, left to the caller to interpret.
package optimize

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	gonumopt "gonum.org/v1/gonum/optimize"
)

// DiffStep is the finite-difference step used for gradient estimation,
// matching the ALGLIB-equivalent backend's diffstep constant.
const DiffStep = 1e-4

// BadFitSSD is the sentinel objective value reported when an objective
// function is undefined (NaN/Inf parameters, a model that rejects its own
// parameters). It must be returned instead of propagating an error so the
// optimizer's monotonicity guarantee ("finalSSD <= initialSSD unless
// finalSSD == BadFitSSD") still holds.
const BadFitSSD = math.MaxFloat64

// Backend selects the non-linear solver driving BoundedNLS.
type Backend int

const (
	// BLEIC is a bound-constrained quasi-Newton solve (gonum BFGS with a
	// finite-difference gradient, projected into bounds).
	BLEIC Backend = iota
	// NS is a derivative-free, non-smooth-objective-tolerant solve (gonum
	// Nelder-Mead, projected into bounds).
	NS
)

// Objective is the scalar function being minimized: typically a voxel's
// weighted sum-of-squared-differences against observed data. Objective
// must never panic; a parameter combination that is out of domain should
// return BadFitSSD.
type Objective func(x []float64) float64

// BoundedNLS performs a bound-constrained, derivative-free-or-quasi-Newton
// minimisation of f starting at x0, within [lb, ub] (element-wise), for at
// most maxIters major iterations. It returns the best x found; on any
// internal optimizer failure it returns x0 unchanged with f(x0) so the
// caller can treat it as a no-improvement outcome rather than aborting.
func BoundedNLS(f Objective, x0, lb, ub []float64, backend Backend, maxIters int) (xStar []float64, fStar float64) {
	n := len(x0)
	if n == 0 {
		return nil, f(x0)
	}

	clamp := func(x []float64) []float64 {
		y := make([]float64, len(x))
		for i, v := range x {
			switch {
			case v < lb[i]:
				y[i] = lb[i]
			case v > ub[i]:
				y[i] = ub[i]
			default:
				y[i] = v
			}
		}
		return y
	}

	boxed := func(x []float64) float64 {
		return f(clamp(x))
	}

	problem := gonumopt.Problem{
		Func: boxed,
	}

	var method gonumopt.Method
	switch backend {
	case NS:
		method = &gonumopt.NelderMead{}
	default:
		problem.Grad = func(grad, x []float64) {
			fd.Gradient(grad, boxed, x, &fd.Settings{
				Formula: fd.Central,
				Step:    DiffStep,
			})
		}
		method = &gonumopt.BFGS{}
	}

	settings := &gonumopt.Settings{
		MajorIterations: maxIters,
		FuncEvaluations: maxIters * (n + 1) * 4,
	}

	x0Clamped := clamp(x0)
	result, err := gonumopt.Minimize(problem, x0Clamped, settings, method)
	if err != nil || result == nil {
		return x0Clamped, boxed(x0Clamped)
	}

	xStar = clamp(result.X)
	fStar = boxed(xStar)
	f0 := boxed(x0Clamped)
	if fStar > f0 {
		// The optimizer must never make things worse; a worse result is
		// treated as "no improvement found".
		return x0Clamped, f0
	}
	return xStar, fStar
}

// WeightedLLS solves w.*C = w.*(A*B) for B in the least-squares sense,
// given an N x M design matrix A (row-major, length N*M), an N-vector C,
// and an N-vector of weights w (typically 1/noiseVariance). Returns the
// M-vector B.
func WeightedLLS(aFlat []float64, n, m int, c, w []float64) ([]float64, error) {
	aw := mat.NewDense(n, m, nil)
	cw := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		sw := math.Sqrt(w[i])
		for j := 0; j < m; j++ {
			aw.Set(i, j, aFlat[i*m+j]*sw)
		}
		cw.SetVec(i, c[i]*sw)
	}

	var b mat.VecDense
	if err := b.SolveVec(aw, cw); err != nil {
		return nil, err
	}
	out := make([]float64, m)
	for j := 0; j < m; j++ {
		out[j] = b.AtVec(j)
	}
	return out, nil
}
