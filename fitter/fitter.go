// Package fitter drives one model's non-linear (or linear) fit at one
// voxel: it holds the fitting window and the per-timepoint noise weights,
// borrows the observed Ct(t) series until the next FitModel call returns,
// and dispatches to the LLS/BLEIC/NS backend
// the caller selects. Grounded on
// original_source/madym/dce/mdm_DCEModelFitter.cxx.
package fitter

import (
	"fmt"

	"github.com/qbi-lab/madym/errortracker"
	"github.com/qbi-lab/madym/model"
	"github.com/qbi-lab/madym/optimize"
)

// Backend selects the fitting strategy (spec.md §2 "linear LLS, gradient
// BLEIC, non-smooth NS").
type Backend int

const (
	LLS Backend = iota
	BLEIC
	NS
)

var backendNames = map[Backend]string{
	LLS:   "LLS",
	BLEIC: "BLEIC",
	NS:    "NS",
}

func (b Backend) String() string {
	if s, ok := backendNames[b]; ok {
		return s
	}
	return "UNKNOWN"
}

// BackendFromString parses one of "LLS", "BLEIC", "NS", matching
// mdm_DCEModelFitter::typeFromString's closed, string-parsed enum.
func BackendFromString(s string) (Backend, error) {
	for b, name := range backendNames {
		if name == s {
			return b, nil
		}
	}
	return 0, &UnsupportedError{Msg: fmt.Sprintf("fitter: optimisation type %q is not recognised; must be one of LLS, BLEIC or NS", s)}
}

// UnsupportedError reports an unrecognised backend name.
type UnsupportedError struct{ Msg string }

func (e *UnsupportedError) Error() string { return e.Msg }

// StateError reports a fitter used out of its required call sequence (e.g.
// FitModel before InitialiseModelFit).
type StateError struct{ Msg string }

func (e *StateError) Error() string { return e.Msg }

// Fitter binds a model instance to one voxel's fit window and drives it
// through initialisation and optimisation.
type Fitter struct {
	m *model.Model

	timepoint0, timepointN int
	noiseVar               []float64
	backend                Backend
	maxIterations           int

	ctData       []float64
	modelFitErr  float64
}

// New constructs a Fitter over m, with a fitting window [t0, tN) into the
// dynamic series, optional per-timepoint noise variance (nil means
// uniform), the chosen backend, and a cap on optimiser iterations.
func New(m *model.Model, t0, tN int, noiseVar []float64, backend Backend, maxIterations int) *Fitter {
	return &Fitter{
		m:             m,
		timepoint0:    t0,
		timepointN:    tN,
		noiseVar:      append([]float64(nil), noiseVar...),
		backend:       backend,
		maxIterations: maxIterations,
	}
}

// InitialiseModelFit resets the model for this voxel, clamps the fit
// window defensively against CtData's actual length (mirroring the
// original's t0/tN clamping), and computes the initial SSD at the model's
// current (not yet optimised) parameters.
func (f *Fitter) InitialiseModelFit(ctData []float64) {
	f.ctData = ctData

	if f.timepointN <= 0 || f.timepointN > len(ctData) {
		f.timepointN = len(ctData)
	}
	if f.timepointN <= 0 || f.timepoint0 >= f.timepointN {
		f.timepoint0 = 0
	}

	f.m.Reset(f.timepointN)

	if f.m.NumParams() == 0 {
		return
	}

	if len(f.noiseVar) == 0 {
		f.noiseVar = make([]float64, f.timepointN)
		for i := range f.noiseVar {
			f.noiseVar[i] = 1.0
		}
	}

	f.modelFitErr = f.ctSSD()
}

// FitModel runs the fit if status permits it (spec.md §3: only OK and
// DYN_T1_BAD trigger fitting), else zeroes the model's parameters and
// reports a zero fit error, matching mdm_DCEModelFitter::fitModel.
func (f *Fitter) FitModel(status errortracker.Code) {
	if f.m.NumParams() == 0 {
		return
	}
	if f.ctData == nil {
		panic(&StateError{Msg: "fitter: CtData not set; call InitialiseModelFit first"})
	}

	permitted := status == errortracker.OK || status == errortracker.DynT1Bad
	if !permitted {
		f.m.ZeroParams()
		f.modelFitErr = 0
		f.ctData = nil
		return
	}

	f.optimiseModel()
	f.ctData = nil // borrowed only for the duration of this call
}

// Model returns the bound model instance.
func (f *Fitter) Model() *model.Model { return f.m }

// Timepoint0/TimepointN return the (possibly clamped) fit window.
func (f *Fitter) Timepoint0() int { return f.timepoint0 }
func (f *Fitter) TimepointN() int { return f.timepointN }

// ModelFitError returns the SSD of the last completed fit.
func (f *Fitter) ModelFitError() float64 { return f.modelFitErr }

// ctSSD checks the current model parameters, computes the modelled Ct(t)
// series, and returns the weighted sum-of-squared-differences against the
// observed data, or optimize.BadFitSSD if the parameters are invalid.
func (f *Fitter) ctSSD() float64 {
	if f.m.CheckParams() != errortracker.OK {
		return optimize.BadFitSSD
	}
	f.m.ComputeCtModel(f.timepointN)
	return f.computeSSD(f.m.CtModel())
}

// ctSSDFor sets the model's free parameters from the optimiser's
// candidate vector, then evaluates ctSSD.
func (f *Fitter) ctSSDFor(params []float64) float64 {
	f.m.SetOptimisedParams(params)
	return f.ctSSD()
}

func (f *Fitter) computeSSD(ctModel []float64) float64 {
	ssd := 0.0
	for i := f.timepoint0; i < f.timepointN; i++ {
		diff := f.ctData[i] - ctModel[i]
		ssd += diff * diff / f.noiseVar[i]
	}
	return ssd
}

func (f *Fitter) optimiseModel() {
	if f.m.SingleFit() {
		f.optimiseModelOnce()
		return
	}

	lowestErr := optimize.BadFitSSD
	var bestParams []float64
	for f.m.NextRepeatParam() {
		f.optimiseModelOnce()
		if f.modelFitErr < lowestErr {
			lowestErr = f.modelFitErr
			bestParams = append([]float64(nil), f.m.Params()...)
		}
	}
	if bestParams != nil {
		f.m.SetParams(bestParams)
	}
	f.m.ComputeCtModel(f.timepointN)
	f.modelFitErr = lowestErr
}

func (f *Fitter) optimiseModelOnce() {
	if f.backend == LLS {
		f.optimiseModelLLS()
		f.modelFitErr = f.ctSSD()
		return
	}

	x0 := f.m.OptimisedParams()
	lb := f.m.OptimisedLowerBounds()
	ub := f.m.OptimisedUpperBounds()

	var backend optimize.Backend
	if f.backend == NS {
		backend = optimize.NS
	} else {
		backend = optimize.BLEIC
	}

	xStar, _ := optimize.BoundedNLS(f.ctSSDFor, x0, lb, ub, backend, f.maxIterations)
	f.m.SetOptimisedParams(xStar)
	f.modelFitErr = f.ctSSD()
}

func (f *Fitter) optimiseModelLLS() {
	aFlat, ncols, err := f.m.MakeLLSMatrix(f.ctData)
	if err != nil {
		return
	}
	n := len(f.ctData)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / f.noiseVar[i]
	}
	b, err := optimize.WeightedLLS(aFlat, n, ncols, f.ctData, w)
	if err != nil {
		return
	}
	_ = f.m.TransformLLSolution(b)
}
