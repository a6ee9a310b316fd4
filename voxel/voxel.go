// Package voxel implements the single-voxel DCE driver (spec.md §4.6):
// converting a dynamic signal series to concentration, integrating IAUC,
// and classifying a voxel as enhancing or not. Grounded on
// original_source/madym/run/mdm_RunToolsDCEFit.cxx's per-voxel call order.
package voxel

import (
	"github.com/qbi-lab/madym/concentration"
	"github.com/qbi-lab/madym/errortracker"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// EnhancementStdMultiple is the default multiple of pre-bolus Ct standard
// deviation a post-bolus peak must exceed to call a voxel enhancing.
const EnhancementStdMultiple = 3.0

// DCEVoxel drives one voxel's signal-to-concentration conversion, IAUC
// integration, and enhancement test.
type DCEVoxel struct {
	signalData []float64
	ctData     []float64

	prebolus   int
	aifTimes   []float64
	iaucTimes  []float64
	iaucAtPeak bool

	status errortracker.Code
}

// New constructs a DCEVoxel. ctData is pre-allocated to len(signalData);
// callers that already have a computed Ct series should pass it directly
// and never call ComputeCtFromSignal.
func New(signalData, ctData []float64, prebolus int, aifTimes, iaucTimes []float64, iaucAtPeak bool) *DCEVoxel {
	if ctData == nil {
		ctData = make([]float64, len(signalData))
	}
	return &DCEVoxel{
		signalData: signalData,
		ctData:     ctData,
		prebolus:   prebolus,
		aifTimes:   aifTimes,
		iaucTimes:  iaucTimes,
		iaucAtPeak: iaucAtPeak,
	}
}

// CtData returns the concentration-time series (possibly freshly computed
// by ComputeCtFromSignal, possibly supplied directly at construction).
func (v *DCEVoxel) CtData() []float64 { return v.ctData }

// Status returns the accumulated voxel status for this voxel's processing
// so far (spec.md §3's voxel status / error-code vocabulary).
func (v *DCEVoxel) Status() errortracker.Code { return v.status }

// ComputeCtFromSignal fills ctData from signalData via the SPGR inverse
// (concentration package, C5), marking DCE_INVALID_INPUT on any non-finite
// result (spec.md §4.5 policy) and bailing out early rather than writing a
// partially valid series.
func (v *DCEVoxel) ComputeCtFromSignal(t10, flipDeg, tr, r1, m0, b1 float64) {
	ct, err := concentration.SignalSeriesToConcentration(v.signalData, t10, m0, flipDeg, tr, r1, b1)
	if err != nil {
		if _, ok := err.(*concentration.B1InvalidError); ok {
			v.status |= errortracker.B1Invalid
		} else {
			v.status |= errortracker.DCEInvalidInput
		}
		return
	}
	copy(v.ctData, ct)
}

// ComputeIAUC integrates Ct(t) from the prebolus time to each requested
// IAUC time via trapezoidal quadrature on the AIF time grid, returning one
// value per entry in iaucTimes, plus (if iaucAtPeak) one more value for the
// integral from injection to the time of the series' peak Ct. iaucTimes are
// seconds from injection (--iauc), not from run start, so each window is
// [t0, t0+tStar] against the run-start-referenced dynamic grid in aifTimes.
func (v *DCEVoxel) ComputeIAUC() []float64 {
	t0 := v.aifTimes[v.prebolus]
	out := make([]float64, 0, len(v.iaucTimes)+1)
	for _, tStar := range v.iaucTimes {
		out = append(out, v.trapezoidalTo(t0, t0+tStar))
	}
	if v.iaucAtPeak {
		peakIdx := floats.MaxIdx(v.ctData)
		out = append(out, v.trapezoidalTo(t0, v.aifTimes[peakIdx]))
	}
	return out
}

// trapezoidalTo integrates Ct(t) over [t0, tEnd] (both in the dynamic grid's
// run-start-referenced frame) using the samples that fall within the
// window, via gonum's trapezoidal quadrature.
func (v *DCEVoxel) trapezoidalTo(t0, tEnd float64) float64 {
	var xs, ys []float64
	for i, t := range v.aifTimes {
		if t < t0 || t > tEnd {
			continue
		}
		xs = append(xs, t)
		ys = append(ys, v.ctData[i])
	}
	if len(xs) < 2 {
		return 0
	}
	return integrate.Trapezoidal(xs, ys)
}

// TestEnhancing classifies the voxel as enhancing when the maximum
// post-bolus Ct exceeds EnhancementStdMultiple times the pre-bolus Ct
// standard deviation; a non-enhancing voxel is flagged NON_ENH_IAUC and
// should be skipped by the fitter (spec.md §4.6).
func (v *DCEVoxel) TestEnhancing() bool {
	pre := v.ctData[:v.prebolus]
	if len(pre) < 2 {
		return true
	}
	_, std := stat.MeanStdDev(pre, nil)
	var peak float64
	for _, c := range v.ctData[v.prebolus:] {
		if c > peak {
			peak = c
		}
	}
	enhancing := peak > EnhancementStdMultiple*std
	if !enhancing {
		v.status |= errortracker.NonEnhIAUC
	}
	return enhancing
}
