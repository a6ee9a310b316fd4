package model

import (
	"fmt"
	"math"

	"github.com/qbi-lab/madym/concentration"
	"github.com/qbi-lab/madym/errortracker"
	"github.com/qbi-lab/madym/optimize"
)

// T1Method identifies a concrete T1-mapping method (spec.md §4.3, §4.8).
type T1Method int

const (
	VFA T1Method = iota
	VFAB1
	IR
	VFALinear
)

var t1MethodNames = map[T1Method]string{
	VFA:       "VFA",
	VFAB1:     "VFA_B1",
	IR:        "IR",
	VFALinear: "VFA_linear",
}

func (t T1Method) String() string {
	if s, ok := t1MethodNames[t]; ok {
		return s
	}
	return "UNDEFINED"
}

// ParseT1Method returns the T1Method for a textual name, or an error if
// unrecognised.
func ParseT1Method(s string) (T1Method, error) {
	for t, name := range t1MethodNames {
		if name == s {
			return t, nil
		}
	}
	return 0, &UnsupportedError{Msg: fmt.Sprintf("model: unrecognised T1 method %q", s)}
}

// MinimumInputs returns the minimum number of signal/TI inputs the method
// needs to produce a fit.
func (t T1Method) MinimumInputs() int {
	switch t {
	case IR:
		return 2
	default:
		return 2
	}
}

// MaximumInputs returns the maximum number of inputs the method accepts
// (no fixed cap beyond the int range for any current method).
func (t T1Method) MaximumInputs() int { return math.MaxInt32 }

// MapVoxel fits a single voxel's T1 and M0 from signals measured at the
// corresponding flip angles (VFA/VFA_B1/VFA_linear, degrees) or inversion
// times (IR, same units as tr/bigTR), returning (T1, M0, errorCode).
// b1 is ignored except by VFA_B1, where it scales every nominal flip angle.
func (t T1Method) MapVoxel(signals, faOrTI []float64, tr, bigTR, b1 float64) (float64, float64, errortracker.Code) {
	if len(signals) != len(faOrTI) || len(signals) < t.MinimumInputs() {
		return 0, 0, errortracker.T1FitFail
	}
	switch t {
	case VFA, VFAB1:
		return fitVFANonlinear(signals, faOrTI, tr, b1)
	case VFALinear:
		return fitVFALinear(signals, faOrTI, tr, b1)
	case IR:
		return fitIR(signals, faOrTI, bigTR)
	default:
		return 0, 0, errortracker.T1FitFail
	}
}

// vfaSignal evaluates the SPGR steady-state signal for (t1, m0) at a single
// nominal flip angle (degrees), reusing the forward model concentration
// exposes with Ct=0 (no contrast agent present during a T1-mapping scan).
func vfaSignal(t1, m0, flipDeg, tr, b1 float64) (float64, error) {
	return concentration.SignalFromConcentration(t1, m0, flipDeg, tr, 0, 0, b1)
}

func fitVFANonlinear(signals, flipAngles []float64, tr, b1 float64) (float64, float64, errortracker.Code) {
	if b1 <= 0 {
		b1 = 1
	}
	t1Guess, m0Guess, ok := vfaLinearGuess(signals, flipAngles, tr, b1)
	if !ok {
		t1Guess, m0Guess = 1000, maxOf(signals)
	}

	objective := func(x []float64) float64 {
		t1, m0 := x[0], x[1]
		ssd := 0.0
		for i, fa := range flipAngles {
			pred, err := vfaSignal(t1, m0, fa, tr, b1)
			if err != nil {
				return optimize.BadFitSSD
			}
			d := pred - signals[i]
			ssd += d * d
		}
		return ssd
	}

	x0 := []float64{t1Guess, m0Guess}
	lb := []float64{1, 0}
	ub := []float64{10000, m0Guess*10 + 1}
	xStar, fStar := optimize.BoundedNLS(objective, x0, lb, ub, optimize.BLEIC, 200)
	if fStar == optimize.BadFitSSD || xStar[0] <= 0 || xStar[0] >= 10000 || xStar[1] <= 0 {
		return 0, 0, errortracker.T1FitFail
	}
	return xStar[0], xStar[1], errortracker.OK
}

// despot1Fit applies the DESPOT1 linearisation (y = S/sin(a), x = S/tan(a),
// y = E1*x + M0*(1-E1)) via weighted LLS, returning the fitted (T1, M0) and
// whether the slope fell in the physically valid (0,1) range.
func despot1Fit(signals, flipAngles []float64, tr, b1 float64) (t1, m0 float64, ok bool) {
	n := len(signals)
	if n < 2 {
		return 0, 0, false
	}
	aFlat := make([]float64, n*2)
	y := make([]float64, n)
	w := make([]float64, n)
	for i, s := range signals {
		alpha := flipAngles[i] * math.Pi / 180.0 * b1
		sinA, tanA := math.Sin(alpha), math.Tan(alpha)
		if sinA == 0 || tanA == 0 {
			return 0, 0, false
		}
		aFlat[i*2] = s / tanA
		aFlat[i*2+1] = 1
		y[i] = s / sinA
		w[i] = 1
	}
	b, err := optimize.WeightedLLS(aFlat, n, 2, y, w)
	if err != nil {
		return 0, 0, false
	}
	slope, intercept := b[0], b[1]
	if slope <= 0 || slope >= 1 {
		return 0, 0, false
	}
	t1 = -tr / math.Log(slope)
	m0 = intercept / (1 - slope)
	if t1 <= 0 || m0 <= 0 {
		return 0, 0, false
	}
	return t1, m0, true
}

// vfaLinearGuess seeds the non-linear VFA solve from the DESPOT1 fit.
func vfaLinearGuess(signals, flipAngles []float64, tr, b1 float64) (t1, m0 float64, ok bool) {
	return despot1Fit(signals, flipAngles, tr, b1)
}

// fitVFALinear resolves T1/M0 directly from the DESPOT1 linearisation
// without a follow-up non-linear refinement (the "VFA_linear" method).
func fitVFALinear(signals, flipAngles []float64, tr, b1 float64) (float64, float64, errortracker.Code) {
	if b1 <= 0 {
		b1 = 1
	}
	t1, m0, ok := despot1Fit(signals, flipAngles, tr, b1)
	if !ok {
		return 0, 0, errortracker.T1FitFail
	}
	return t1, m0, errortracker.OK
}

func maxOf(xs []float64) float64 {
	m := 0.0
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

// fitIR solves the inversion-recovery equation S(TI) = M0*(1-2*exp(-TI/T1))
// (magnitude data assumed already sign-corrected) by non-linear
// least-squares, seeded with T1 = 1000 and M0 = the maximum signal.
func fitIR(signals, tis []float64, bigTR float64) (float64, float64, errortracker.Code) {
	t1Guess := 1000.0
	m0Guess := maxOf(signals)
	if m0Guess == 0 {
		return 0, 0, errortracker.T1FitFail
	}

	objective := func(x []float64) float64 {
		t1, m0 := x[0], x[1]
		ssd := 0.0
		for i, ti := range tis {
			pred := m0 * (1 - 2*math.Exp(-ti/t1))
			if bigTR > 0 {
				pred *= 1 - math.Exp(-bigTR/t1)
			}
			d := pred - signals[i]
			ssd += d * d
		}
		return ssd
	}

	x0 := []float64{t1Guess, m0Guess}
	lb := []float64{1, 0}
	ub := []float64{10000, m0Guess*10 + 1}
	xStar, fStar := optimize.BoundedNLS(objective, x0, lb, ub, optimize.BLEIC, 200)
	if fStar == optimize.BadFitSSD || xStar[0] <= 0 || xStar[0] >= 10000 || xStar[1] <= 0 {
		return 0, 0, errortracker.T1FitFail
	}
	return xStar[0], xStar[1], errortracker.OK
}
