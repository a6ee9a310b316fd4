package model

import (
	"fmt"
	"math"

	"github.com/qbi-lab/madym/errortracker"
	"github.com/qbi-lab/madym/optimize"
)

// DWIMethod identifies a concrete diffusion-weighted mapping method
// (spec.md §4.3, §4.9).
type DWIMethod int

const (
	ADC DWIMethod = iota
	ADCLinear
	IVIM
	IVIMSimple
)

var dwiMethodNames = map[DWIMethod]string{
	ADC:        "ADC",
	ADCLinear:  "ADC_linear",
	IVIM:       "IVIM",
	IVIMSimple: "IVIM_simple",
}

func (d DWIMethod) String() string {
	if s, ok := dwiMethodNames[d]; ok {
		return s
	}
	return "UNDEFINED"
}

// ParseDWIMethod returns the DWIMethod for a textual name, or an error if
// unrecognised.
func ParseDWIMethod(s string) (DWIMethod, error) {
	for d, name := range dwiMethodNames {
		if name == s {
			return d, nil
		}
	}
	return 0, &UnsupportedError{Msg: fmt.Sprintf("model: unrecognised DWI method %q", s)}
}

// MinimumInputs returns the minimum number of b-value/signal pairs needed.
func (d DWIMethod) MinimumInputs() int {
	switch d {
	case ADC, ADCLinear:
		return 2
	default:
		return 3
	}
}

// MaximumInputs returns the maximum number of inputs accepted.
func (d DWIMethod) MaximumInputs() int { return math.MaxInt32 }

// DWIVoxelResult holds the per-voxel outputs a DWI method produces; unused
// fields (D* for plain ADC, f for non-IVIM methods) stay zero.
type DWIVoxelResult struct {
	S0      float64
	ADC     float64
	Perf    float64 // f, the perfusion fraction (IVIM only)
	DStar   float64 // D*, the pseudo-diffusion coefficient (IVIM only)
	ErrCode errortracker.Code
}

// MapVoxel fits a single voxel from paired (bValues, signals), dispatching
// to the method's concrete fit. thresholdB separates the perfusion and
// diffusion phases for IVIM_simple and is ignored by every other method.
func (d DWIMethod) MapVoxel(signals, bValues []float64, thresholdB float64) DWIVoxelResult {
	if len(signals) != len(bValues) || len(signals) < d.MinimumInputs() {
		return DWIVoxelResult{ErrCode: errortracker.DCEFitFail}
	}
	switch d {
	case ADC:
		return fitADCNonlinear(signals, bValues)
	case ADCLinear:
		return fitADCLinear(signals, bValues)
	case IVIM:
		return fitIVIM(signals, bValues)
	case IVIMSimple:
		return fitIVIMSimple(signals, bValues, thresholdB)
	default:
		return DWIVoxelResult{ErrCode: errortracker.DCEFitFail}
	}
}

// fitADCLinear solves ln(S) = ln(S0) - b*ADC by ordinary least squares.
func fitADCLinear(signals, bValues []float64) DWIVoxelResult {
	n := len(signals)
	aFlat := make([]float64, n*2)
	y := make([]float64, n)
	w := make([]float64, n)
	for i, s := range signals {
		if s <= 0 {
			return DWIVoxelResult{ErrCode: errortracker.DCEFitFail}
		}
		aFlat[i*2] = -bValues[i]
		aFlat[i*2+1] = 1
		y[i] = math.Log(s)
		w[i] = 1
	}
	b, err := optimize.WeightedLLS(aFlat, n, 2, y, w)
	if err != nil {
		return DWIVoxelResult{ErrCode: errortracker.DCEFitFail}
	}
	adc, lnS0 := b[0], b[1]
	if adc < 0 {
		return DWIVoxelResult{ErrCode: errortracker.DCEFitFail}
	}
	return DWIVoxelResult{S0: math.Exp(lnS0), ADC: adc, ErrCode: errortracker.OK}
}

func fitADCNonlinear(signals, bValues []float64) DWIVoxelResult {
	guess := fitADCLinear(signals, bValues)
	s0Guess, adcGuess := guess.S0, guess.ADC
	if guess.ErrCode != errortracker.OK {
		s0Guess, adcGuess = maxOf(signals), 0.001
	}

	objective := func(x []float64) float64 {
		s0, adc := x[0], x[1]
		ssd := 0.0
		for i, b := range bValues {
			pred := s0 * math.Exp(-b*adc)
			d := pred - signals[i]
			ssd += d * d
		}
		return ssd
	}

	x0 := []float64{s0Guess, adcGuess}
	lb := []float64{0, 0}
	ub := []float64{s0Guess*10 + 1, 1}
	xStar, fStar := optimize.BoundedNLS(objective, x0, lb, ub, optimize.BLEIC, 200)
	if fStar == optimize.BadFitSSD || xStar[0] <= 0 {
		return DWIVoxelResult{ErrCode: errortracker.DCEFitFail}
	}
	return DWIVoxelResult{S0: xStar[0], ADC: xStar[1], ErrCode: errortracker.OK}
}

// fitIVIM solves S = S0*(f*exp(-b*DStar) + (1-f)*exp(-b*D)) by non-linear
// least squares, seeded from a high-b ADC-linear fit for D and a nominal
// perfusion fraction.
func fitIVIM(signals, bValues []float64) DWIVoxelResult {
	linGuess := fitADCLinear(signals, bValues)
	dGuess := linGuess.ADC
	s0Guess := linGuess.S0
	if linGuess.ErrCode != errortracker.OK {
		dGuess, s0Guess = 0.001, maxOf(signals)
	}

	objective := func(x []float64) float64 {
		s0, f, dStar, d := x[0], x[1], x[2], x[3]
		ssd := 0.0
		for i, b := range bValues {
			pred := s0 * (f*math.Exp(-b*dStar) + (1-f)*math.Exp(-b*d))
			diff := pred - signals[i]
			ssd += diff * diff
		}
		return ssd
	}

	x0 := []float64{s0Guess, 0.1, 0.02, dGuess}
	lb := []float64{0, 0, 0, 0}
	ub := []float64{s0Guess*10 + 1, 1, 1, 0.01}
	xStar, fStar := optimize.BoundedNLS(objective, x0, lb, ub, optimize.NS, 500)
	if fStar == optimize.BadFitSSD || xStar[0] <= 0 {
		return DWIVoxelResult{ErrCode: errortracker.DCEFitFail}
	}
	return DWIVoxelResult{S0: xStar[0], Perf: xStar[1], DStar: xStar[2], ADC: xStar[3], ErrCode: errortracker.OK}
}

// fitIVIMSimple fixes DStar=0 and fits the diffusion-only tail (b >=
// thresholdB) for D/S0', then solves the perfusion fraction from the
// b=0 intercept against that tail's extrapolated S0.
func fitIVIMSimple(signals, bValues []float64, thresholdB float64) DWIVoxelResult {
	var tailSig, tailB []float64
	minB := math.Inf(1)
	s0Obs := 0.0
	for i, b := range bValues {
		if b >= thresholdB {
			tailSig = append(tailSig, signals[i])
			tailB = append(tailB, b)
		}
		if b < minB {
			minB = b
			s0Obs = signals[i]
		}
	}
	if len(tailSig) < 2 {
		return DWIVoxelResult{ErrCode: errortracker.DCEFitFail}
	}
	tail := fitADCLinear(tailSig, tailB)
	if tail.ErrCode != errortracker.OK {
		return DWIVoxelResult{ErrCode: errortracker.DCEFitFail}
	}
	if tail.S0 <= 0 || s0Obs <= 0 {
		return DWIVoxelResult{ErrCode: errortracker.DCEFitFail}
	}
	f := 1 - tail.S0/s0Obs
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return DWIVoxelResult{S0: tail.S0, ADC: tail.ADC, Perf: f, DStar: 0, ErrCode: errortracker.OK}
}
