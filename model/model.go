// Package model implements the tracer-kinetic / relaxometric model
// catalog (spec.md §3, §4.3): a polymorphic model abstraction realised as
// one struct carrying a vtable of function pointers per concrete model,
// plus the T1 and DWI method families and the factories that materialise a
// model from a textual name and parameter overrides.
package model

import (
	"fmt"
	"math"

	"github.com/qbi-lab/madym/aif"
	"github.com/qbi-lab/madym/errortracker"
)

// Type identifies a concrete DCE model.
type Type int

const (
	NONE Type = iota
	ETM
	TOFTS
	PATLAK
	CXM2
	DI2CXM
	AUEM
	DISCM
	DIBEM
	DIBEMFp
	DIETM
	MLDRW
)

var typeNames = map[Type]string{
	NONE:    "NONE",
	ETM:     "ETM",
	TOFTS:   "TOFTS",
	PATLAK:  "PATLAK",
	CXM2:    "2CXM",
	DI2CXM:  "DI2CXM",
	AUEM:    "AUEM",
	DISCM:   "DISCM",
	DIBEM:   "DIBEM",
	DIBEMFp: "DIBEM_FP",
	DIETM:   "DIETM",
	MLDRW:   "MLDRW",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "UNDEFINED"
}

// ParseModelName returns the Type for a textual model name, or UNDEFINED
// (an unregistered Type value) if unrecognised. "VPSTD" and "GADOXETATE"
// are accepted as historical aliases for TOFTS and AUEM respectively,
// matching the original software's model generator.
func ParseModelName(s string) Type {
	switch s {
	case "VPSTD":
		return TOFTS
	case "GADOXETATE":
		return AUEM
	}
	for t, name := range typeNames {
		if name == s {
			return t
		}
	}
	return undefined
}

const undefined Type = -1

// IsDefined reports whether t is a known model type.
func (t Type) IsDefined() bool {
	_, ok := typeNames[t]
	return ok
}

// UnsupportedError reports an unrecognised model or method name.
type UnsupportedError struct{ Msg string }

func (e *UnsupportedError) Error() string { return e.Msg }

// ConfigError reports invalid construction parameters (bad parameter
// index, both fixed and relative-limit set for the same index, etc.).
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return e.Msg }

// computeFunc fills m.ctModel[0:nTimes] from m.params and the bound AIF.
type computeFunc func(m *Model, nTimes int)

// checkFunc validates m.params, returning OK or DCEFitFail.
type checkFunc func(m *Model) errortracker.Code

// llsFunc builds the N x M design matrix (row-major, flattened) for a
// linearisable model given the observed Ct(t) series.
type llsFunc func(m *Model, ctData []float64) (aFlat []float64, ncols int, err error)

// transformFunc maps a raw LLS solution vector back into model parameters.
type transformFunc func(m *Model, b []float64) error

// Model is a single concrete tracer-kinetic model instance. K (the
// parameter count) is fixed per model Type; all slices below have length
// K except CtModel, which has the dynamic series length.
type Model struct {
	kind Type

	params         []float64
	initialParams  []float64
	paramNames     []string
	optimisedFlags []bool
	lowerBounds    []float64
	upperBounds    []float64

	repeatParamIndex int // -1 if no repeat sweep
	repeatValues     []float64
	repeatCursor     int

	aif     *aif.AIF
	ctModel []float64
	errCode errortracker.Code

	compute   computeFunc
	check     checkFunc
	lls       llsFunc
	transform transformFunc
}

// Kind returns the model's Type.
func (m *Model) Kind() Type { return m.kind }

// NumParams returns K, the total (free+fixed) parameter count.
func (m *Model) NumParams() int { return len(m.params) }

// NumOptimised returns K_free, the count of currently-free parameters.
func (m *Model) NumOptimised() int {
	n := 0
	for _, f := range m.optimisedFlags {
		if f {
			n++
		}
	}
	return n
}

// ParamNames returns the stable parameter name ordering.
func (m *Model) ParamNames() []string { return m.paramNames }

// Params returns the current full parameter vector.
func (m *Model) Params() []float64 { return m.params }

// InitialParams returns the initial parameter vector.
func (m *Model) InitialParams() []float64 { return m.initialParams }

// SetParams overwrites the full parameter vector.
func (m *Model) SetParams(p []float64) { copy(m.params, p) }

// SetInitialParams overwrites the initial parameter vector.
func (m *Model) SetInitialParams(p []float64) { copy(m.initialParams, p) }

// ZeroParams sets every parameter to 0 (spec §4.4: voxel status not OK).
func (m *Model) ZeroParams() {
	for i := range m.params {
		m.params[i] = 0
	}
}

// AIF returns the model's bound AIF reference (non-owning).
func (m *Model) AIF() *aif.AIF { return m.aif }

// CtModel returns the cached modelled concentration series.
func (m *Model) CtModel() []float64 { return m.ctModel }

// ModelErrorCode returns the last result of CheckParams.
func (m *Model) ModelErrorCode() errortracker.Code { return m.errCode }

// OptimisedLowerBounds/OptimisedUpperBounds return the bounds restricted to
// the free-parameter subset, in parameter order.
func (m *Model) OptimisedLowerBounds() []float64 { return m.selectFree(m.lowerBounds) }
func (m *Model) OptimisedUpperBounds() []float64 { return m.selectFree(m.upperBounds) }

func (m *Model) selectFree(full []float64) []float64 {
	out := make([]float64, 0, m.NumOptimised())
	for i, f := range m.optimisedFlags {
		if f {
			out = append(out, full[i])
		}
	}
	return out
}

// OptimisedParams extracts the current free-parameter subset.
func (m *Model) OptimisedParams() []float64 { return m.selectFree(m.params) }

// SetOptimisedParams writes an optimiser's free-parameter subset back into
// the full parameter vector, leaving fixed parameters untouched.
func (m *Model) SetOptimisedParams(opt []float64) {
	j := 0
	for i, f := range m.optimisedFlags {
		if f {
			m.params[i] = opt[j]
			j++
		}
	}
}

// Reset clears the model's modelled-Ct cache to length nTimes and resets
// the repeat-sweep cursor, as required between voxels (spec §3 lifecycle).
func (m *Model) Reset(nTimes int) {
	if cap(m.ctModel) >= nTimes {
		m.ctModel = m.ctModel[:nTimes]
	} else {
		m.ctModel = make([]float64, nTimes)
	}
	for i := range m.ctModel {
		m.ctModel[i] = 0
	}
	m.repeatCursor = 0
}

// ComputeCtModel fills the modelled Ct(t) cache for the current
// parameters, for the first nTimes samples.
func (m *Model) ComputeCtModel(nTimes int) {
	if m.compute == nil || len(m.params) == 0 {
		return
	}
	m.compute(m, nTimes)
}

// CheckParams validates the current parameters, caching and returning the
// resulting error code (OK or DCEFitFail). NaN/Inf in any parameter is
// always a failure, regardless of the model-specific check.
func (m *Model) CheckParams() errortracker.Code {
	for _, p := range m.params {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			m.errCode = errortracker.DCEFitFail
			return m.errCode
		}
	}
	if m.check != nil {
		m.errCode = m.check(m)
	} else {
		m.errCode = errortracker.OK
	}
	return m.errCode
}

// SupportsLLS reports whether this model exposes a linear-fit path.
func (m *Model) SupportsLLS() bool { return m.lls != nil }

// MakeLLSMatrix builds the design matrix for a weighted-LLS fit, or an
// error if this model has no linear-fit path.
func (m *Model) MakeLLSMatrix(ctData []float64) (aFlat []float64, ncols int, err error) {
	if m.lls == nil {
		return nil, 0, &UnsupportedError{Msg: fmt.Sprintf("model: %s has no LLS path", m.kind)}
	}
	return m.lls(m, ctData)
}

// TransformLLSolution maps a raw LLS solution vector back into model
// parameters (e.g. Patlak's LLS columns are [Ca, integral of Ca], so its
// transform swaps the solution into [Ktrans, vp]).
func (m *Model) TransformLLSolution(b []float64) error {
	if m.transform == nil {
		return &UnsupportedError{Msg: fmt.Sprintf("model: %s has no LLS transform", m.kind)}
	}
	return m.transform(m, b)
}

// SingleFit reports whether the model requires only one optimisation
// (true) or a repeat-initialisation sweep (false).
func (m *Model) SingleFit() bool { return m.repeatParamIndex < 0 }

// NextRepeatParam advances the repeat-sweep cursor, seeding
// params[repeatParamIndex] with the next value and returning true, or
// returns false once the sweep is exhausted.
func (m *Model) NextRepeatParam() bool {
	if m.SingleFit() || m.repeatCursor >= len(m.repeatValues) {
		return false
	}
	copy(m.params, m.initialParams)
	m.params[m.repeatParamIndex] = m.repeatValues[m.repeatCursor]
	m.repeatCursor++
	return true
}
