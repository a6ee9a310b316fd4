// Package autoaif implements the automatic AIF voxel detector (spec.md
// §4.11): screens candidate blood-vessel voxels per slice, then selects the
// top percentile by peak signal to build the AIF. Grounded on
// original_source/madym/run/mdm_RunTools_madym_AIF.cxx
// (validCandidate/selectVoxelsFromCandidates/prebolusNoiseThresh).
package autoaif

import (
	"sort"

	"github.com/qbi-lab/madym/errortracker"
	"github.com/qbi-lab/madym/image"
	"gonum.org/v1/gonum/stat"
)

// CandidateStatus classifies why a voxel was rejected or accepted during
// screening; written into the AIF voxel map (spec.md §4.11).
type CandidateStatus int

const (
	PeakTooEarly CandidateStatus = iota + 1
	PeakTooLate
	DoubleDip
	BelowNoiseThresh
	Candidate
	Selected
)

// Options configures the detector (spec.md §4.11 input options).
type Options struct {
	Slices                []int
	XRange, YRange        []int
	MinT1Blood            float64
	PeakTimeSec           float64
	PrebolusNoiseFallback float64
	PrebolusMinImages     int
	SelectPct             float64
	Prebolus              int
}

// Detector runs the screening/selection pipeline over a set of dynamic
// signal volumes.
type Detector struct {
	opts       Options
	dynImages  []*image.Image
	t1         *image.Image
	roi        *image.Image
	tracker    *errortracker.Tracker
	aifTimes   []float64
}

// New constructs a Detector over the given dynamic volumes (one per
// timepoint, sharing a grid with t1), an optional ROI, and an optional
// error tracker used to skip voxels already flagged bad.
func New(opts Options, dynImages []*image.Image, t1 *image.Image, roi *image.Image, tracker *errortracker.Tracker, aifTimes []float64) *Detector {
	return &Detector{opts: opts, dynImages: dynImages, t1: t1, roi: roi, tracker: tracker, aifTimes: aifTimes}
}

type candidate struct {
	voxelIndex int
	maxSignal  float64
}

// Result holds the detector's outputs.
type Result struct {
	AIFMap    *image.Image // per-voxel CandidateStatus, 0 = not screened
	Selected  []int        // voxel indices selected for the AIF
	AIFSeries []float64    // mean Ct series of the selected voxels
}

// Run screens every (slice, x, y) triple named by opts, then selects the
// top SelectPct percent by peak signal. ctSeries is indexed
// [timepoint][voxelIndex] and supplies the per-voxel series averaged to
// produce the final AIF vector.
func (d *Detector) Run(ctSeries [][]float64) *Result {
	aifMap := d.t1.CloneEmpty(image.AIFVoxelMap)

	var candidates []candidate
	for _, slice := range d.opts.Slices {
		for _, ix := range d.opts.XRange {
			for _, iy := range d.opts.YRange {
				idx, err := d.t1.SubToInd(ix, iy, slice)
				if err != nil {
					continue
				}
				if d.roi != nil && d.roi.At(idx) == 0 {
					continue
				}
				if d.tracker != nil && d.tracker.Get(idx) != errortracker.OK {
					continue
				}
				if d.t1.At(idx) <= d.opts.MinT1Blood {
					continue
				}
				if status, maxSignal, ok := d.validCandidate(idx); ok {
					aifMap.Set(idx, float64(status))
					candidates = append(candidates, candidate{voxelIndex: idx, maxSignal: maxSignal})
				} else {
					aifMap.Set(idx, float64(status))
				}
			}
		}
	}

	selected := d.selectTopPercent(candidates, aifMap)

	aifSeries := make([]float64, len(d.dynImages))
	for t := range d.dynImages {
		sum := 0.0
		for _, idx := range selected {
			sum += ctSeries[t][idx]
		}
		if len(selected) > 0 {
			aifSeries[t] = sum / float64(len(selected))
		}
	}

	return &Result{AIFMap: aifMap, Selected: selected, AIFSeries: aifSeries}
}

func (d *Detector) selectTopPercent(candidates []candidate, aifMap *image.Image) []int {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].maxSignal > candidates[j].maxSignal
	})
	threshIdx := int(d.opts.SelectPct * float64(len(candidates)) / 100.0)
	selected := make([]int, 0, threshIdx)
	for i := 0; i < threshIdx && i < len(candidates); i++ {
		idx := candidates[i].voxelIndex
		aifMap.Set(idx, float64(Selected))
		selected = append(selected, idx)
	}
	return selected
}

// validCandidate screens a single voxel following the original's peak-
// window / double-dip / noise-threshold sequence, returning the status to
// record and, if accepted, its peak signal.
func (d *Detector) validCandidate(idx int) (CandidateStatus, float64, bool) {
	n := len(d.dynImages)
	signal := make([]float64, n)
	for i, im := range d.dynImages {
		signal[i] = im.At(idx)
	}

	minSignal, maxSignal, maxImg := minMax(signal)
	prebolusImg := d.opts.Prebolus
	bolusTime := d.aifTimes[prebolusImg]

	if maxImg <= prebolusImg {
		return PeakTooEarly, 0, false
	}
	if d.aifTimes[maxImg]-bolusTime > d.opts.PeakTimeSec {
		return PeakTooLate, 0, false
	}

	arrivalImg := 0
	lowerThreshold := minSignal + 0.1*(maxSignal-minSignal)
	for i := prebolusImg; i < maxImg; i++ {
		if arrivalImg == 0 && signal[i] > lowerThreshold {
			arrivalImg = i
		}
		if signal[i] < lowerThreshold && arrivalImg != 0 {
			return DoubleDip, 0, false
		}
	}

	if maxSignal < d.prebolusNoiseThresh(signal, arrivalImg) {
		return BelowNoiseThresh, 0, false
	}

	return Candidate, maxSignal, true
}

func minMax(signal []float64) (minSignal, maxSignal float64, maxImg int) {
	maxSignal = signal[0]
	minSignal = maxSignal
	for i := 1; i < len(signal); i++ {
		if signal[i] > maxSignal {
			maxSignal = signal[i]
			maxImg = i
		}
		if signal[i] < minSignal {
			minSignal = signal[i]
		}
	}
	return minSignal, maxSignal, maxImg
}

// prebolusNoiseThresh computes mean + 3*stdev over [0, arrivalImg], falling
// back to the configured PrebolusNoiseFallback when that window is too
// short to estimate a standard deviation reliably.
func (d *Detector) prebolusNoiseThresh(signal []float64, arrivalImg int) float64 {
	window := signal[:arrivalImg+1]
	mean, std := stat.MeanStdDev(window, nil)
	if len(window) < d.opts.PrebolusMinImages {
		std = d.opts.PrebolusNoiseFallback
	}
	return mean + 3*std
}
