// Package dwimapper implements DWIMapper (spec.md §4.9): per-voxel ADC/
// IVIM mapping over a volume of b-value images, structurally mirroring
// t1mapper (C8) per spec.md's "same structure as C8" note.
package dwimapper

import (
	"fmt"

	"github.com/qbi-lab/madym/errortracker"
	"github.com/qbi-lab/madym/image"
	"github.com/qbi-lab/madym/model"
)

// ConfigError reports an invalid DWIMapper configuration.
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return e.Msg }

// DWIMapper maps S0/ADC (and, for IVIM methods, f/D*) over a volume from a
// fixed set of b-value images.
type DWIMapper struct {
	method      model.DWIMethod
	bImages     []*image.Image
	bValues     []float64
	thresholdB  float64
	tracker     *errortracker.Tracker
}

// New validates the method's input-count bounds before constructing.
func New(method model.DWIMethod, bImages []*image.Image, bValues []float64, thresholdB float64, tracker *errortracker.Tracker) (*DWIMapper, error) {
	n := len(bImages)
	if n != len(bValues) {
		return nil, &ConfigError{Msg: "dwimapper: bImages and bValues must have equal length"}
	}
	if n < method.MinimumInputs() {
		return nil, &ConfigError{Msg: fmt.Sprintf("dwimapper: %s requires at least %d inputs, got %d", method, method.MinimumInputs(), n)}
	}
	for _, im := range bImages {
		if !image.SameGrid(bImages[0], im) {
			return nil, &ConfigError{Msg: "dwimapper: b-value images do not share a grid"}
		}
	}
	return &DWIMapper{method: method, bImages: bImages, bValues: bValues, thresholdB: thresholdB, tracker: tracker}, nil
}

// Result holds the mapped S0/ADC/perfusion/D* volumes (Perf and DStar stay
// zero for non-IVIM methods).
type Result struct {
	S0    *image.Image
	ADC   *image.Image
	Perf  *image.Image
	DStar *image.Image
}

// Run maps every voxel in roi (nil means every voxel), OR-ing each
// voxel's error code into the tracker.
func (d *DWIMapper) Run(roi *image.Image) (*Result, error) {
	base := d.bImages[0]
	s0 := base.CloneEmpty(image.Generic)
	adc := base.CloneEmpty(image.Generic)
	perf := base.CloneEmpty(image.Generic)
	dStar := base.CloneEmpty(image.Generic)

	n := base.NumVoxels()
	signals := make([]float64, len(d.bImages))
	for idx := 0; idx < n; idx++ {
		if roi != nil && roi.At(idx) == 0 {
			continue
		}
		for j, im := range d.bImages {
			signals[j] = im.At(idx)
		}

		result := d.method.MapVoxel(signals, d.bValues, d.thresholdB)
		if result.ErrCode != errortracker.OK {
			if d.tracker != nil {
				d.tracker.Or(idx, result.ErrCode)
			}
			continue
		}
		s0.Set(idx, result.S0)
		adc.Set(idx, result.ADC)
		perf.Set(idx, result.Perf)
		dStar.Set(idx, result.DStar)
	}

	return &Result{S0: s0, ADC: adc, Perf: perf, DStar: dStar}, nil
}
