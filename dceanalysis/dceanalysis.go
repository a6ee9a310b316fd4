// Package dceanalysis implements DCEVolumeAnalysis (spec.md §4.10), the
// per-voxel orchestrator that wires C1 (AIF), C3 (model), C4 (fitter), C5
// (concentration), C6 (DCEVoxel), and C7 (error tracker) into one pass over
// a dynamic volume. Grounded on
// original_source/madym/run/mdm_RunTools_madym_DCE.cxx and
// mdm_RunToolsDCEFit.cxx's per-voxel call order.
package dceanalysis

import (
	"fmt"

	"github.com/qbi-lab/madym/aif"
	"github.com/qbi-lab/madym/autoaif"
	"github.com/qbi-lab/madym/errortracker"
	"github.com/qbi-lab/madym/fitter"
	"github.com/qbi-lab/madym/image"
	"github.com/qbi-lab/madym/model"
	"github.com/qbi-lab/madym/voxel"
)

// ConfigError reports an invalid DCEVolumeAnalysis configuration.
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return e.Msg }

// Options groups the run-wide configuration spec.md §4.10 lists against
// DCEVolumeAnalysis: the fitting window, relaxivity, prebolus index, and
// output toggles.
type Options struct {
	ModelName          string
	InitParams         []float64
	FixedParams        []int
	FixedValues        []float64
	RelLimitParams     []int
	RelLimitValues     []float64
	T10                *image.Image
	M0                 *image.Image
	B1                 *image.Image
	R1                 float64
	Prebolus           int
	TimepointFirst     int
	TimepointLast      int
	ComputeCt          bool // false means dynamic signal volumes already carry Ct directly
	TestEnhancement    bool
	DynNoise           bool
	IAUCTimes          []float64
	IAUCAtPeak         bool
	Backend            fitter.Backend
	MaxIterations      int
	WriteCtMaps        bool
	WriteSignalMaps    bool
	FlipAngle          float64
	TR                 float64
}

// DCEVolumeAnalysis drives the model fit over every in-ROI voxel of a
// dynamic volume, sharing one AIF and model template across voxels.
type DCEVolumeAnalysis struct {
	opts        Options
	aif         *aif.AIF
	dynImages   []*image.Image // one per dynamic timepoint
	tracker     *errortracker.Tracker

	initParamMaps map[string]*image.Image // optional per-voxel seed, keyed by param name
}

// New constructs a DCEVolumeAnalysis over dynImages (one volume per dynamic
// timepoint, sharing a grid), a bound AIF, and an error tracker
// co-registered with the volume.
func New(opts Options, a *aif.AIF, dynImages []*image.Image, tracker *errortracker.Tracker, initParamMaps map[string]*image.Image) (*DCEVolumeAnalysis, error) {
	if len(dynImages) == 0 {
		return nil, &ConfigError{Msg: "dceanalysis: at least one dynamic volume is required"}
	}
	for _, im := range dynImages {
		if !image.SameGrid(dynImages[0], im) {
			return nil, &ConfigError{Msg: "dceanalysis: dynamic volumes do not share a grid"}
		}
	}
	return &DCEVolumeAnalysis{opts: opts, aif: a, dynImages: dynImages, tracker: tracker, initParamMaps: initParamMaps}, nil
}

// Result holds the per-parameter output maps plus the shared residual and
// IAUC maps spec.md §4.10 lists.
type Result struct {
	ParamMaps map[string]*image.Image
	Residual  *image.Image
	IAUCMaps  []*image.Image // one per opts.IAUCTimes, plus a trailing peak map if IAUCAtPeak
	CtModel   []*image.Image
	CtSignal  []*image.Image
}

// SeedAIFFromMap implements spec.md §4.10's "AIF-from-map path": the mean
// Ct over every voxel flagged SELECTED in aifMap becomes the AIF's base
// vector before any voxel fits run. ctVolume is indexed
// [timepoint][voxelIndex], already converted from signal where required.
func (a *DCEVolumeAnalysis) SeedAIFFromMap(aifMap *image.Image, ctVolume [][]float64) error {
	var selected []int
	for idx := 0; idx < aifMap.NumVoxels(); idx++ {
		if aifMap.At(idx) == float64(autoaif.Selected) {
			selected = append(selected, idx)
		}
	}
	if len(selected) == 0 {
		return &ConfigError{Msg: "dceanalysis: AIF voxel map has no voxels flagged SELECTED"}
	}
	base := make([]float64, len(ctVolume))
	for t := range ctVolume {
		sum := 0.0
		for _, idx := range selected {
			sum += ctVolume[t][idx]
		}
		base[t] = sum / float64(len(selected))
	}
	return a.aif.SetBaseAIF(base)
}

// Run fits every in-ROI voxel, building a fresh Model/Fitter pair per voxel
// (the Fitter borrows ctData only for the duration of one FitModel call,
// per fitter.Fitter's documented lifecycle) and writing results into the
// returned maps.
func (a *DCEVolumeAnalysis) Run(roi *image.Image) (*Result, error) {
	grid := a.dynImages[0]
	n := grid.NumVoxels()
	nTimes := len(a.dynImages)

	template, err := model.CreateModel(a.opts.ModelName, a.aif, a.opts.InitParams, a.opts.FixedParams, a.opts.FixedValues, a.opts.RelLimitParams, a.opts.RelLimitValues)
	if err != nil {
		return nil, err
	}

	result := &Result{
		ParamMaps: make(map[string]*image.Image, template.NumParams()),
		Residual:  grid.CloneEmpty(image.Generic),
	}
	for _, name := range template.ParamNames() {
		result.ParamMaps[name] = grid.CloneEmpty(image.Generic)
	}
	for range a.opts.IAUCTimes {
		result.IAUCMaps = append(result.IAUCMaps, grid.CloneEmpty(image.Generic))
	}
	if a.opts.IAUCAtPeak {
		result.IAUCMaps = append(result.IAUCMaps, grid.CloneEmpty(image.Generic))
	}
	if a.opts.WriteCtMaps {
		for range a.dynImages {
			result.CtModel = append(result.CtModel, grid.CloneEmpty(image.CtModel))
			result.CtSignal = append(result.CtSignal, grid.CloneEmpty(image.CtDynamic))
		}
	}

	aifTimes := a.aif.Times()
	signal := make([]float64, nTimes)
	ct := make([]float64, nTimes)

	for idx := 0; idx < n; idx++ {
		if roi != nil && roi.At(idx) == 0 {
			continue
		}
		status := a.tracker.Get(idx)
		if a.tracker.IsFatal(idx) {
			continue
		}

		for t, im := range a.dynImages {
			signal[t] = im.At(idx)
		}

		dv := voxel.New(signal, ct, a.opts.Prebolus, aifTimes, a.opts.IAUCTimes, a.opts.IAUCAtPeak)
		if a.opts.ComputeCt {
			t10 := 1000.0
			if a.opts.T10 != nil {
				t10 = a.opts.T10.At(idx)
			}
			m0 := 1.0
			if a.opts.M0 != nil {
				m0 = a.opts.M0.At(idx)
			}
			b1 := 1.0
			if a.opts.B1 != nil {
				b1 = a.opts.B1.At(idx)
			}
			dv.ComputeCtFromSignal(t10, a.opts.FlipAngle, a.opts.TR, a.opts.R1, m0, b1)
			if dv.Status() != errortracker.OK {
				a.tracker.Or(idx, dv.Status())
				continue
			}
		} else {
			copy(ct, signal)
		}

		iaucValues := dv.ComputeIAUC()
		enhancing := true
		if a.opts.TestEnhancement {
			enhancing = dv.TestEnhancing()
			if !enhancing {
				a.tracker.Or(idx, dv.Status())
			}
		}

		for k, v := range iaucValues {
			result.IAUCMaps[k].Set(idx, v)
		}

		if !enhancing {
			continue
		}

		m, err := model.CreateModel(a.opts.ModelName, a.aif, a.opts.InitParams, a.opts.FixedParams, a.opts.FixedValues, a.opts.RelLimitParams, a.opts.RelLimitValues)
		if err != nil {
			return nil, fmt.Errorf("dceanalysis: constructing voxel model: %w", err)
		}
		a.seedInitialParams(m, idx)

		var noiseVar []float64
		if a.opts.DynNoise {
			noiseVar = dynamicNoiseVariance(dv.CtData())
		}
		f := fitter.New(m, a.opts.TimepointFirst, a.opts.TimepointLast, noiseVar, a.opts.Backend, a.opts.MaxIterations)
		f.InitialiseModelFit(dv.CtData())
		f.FitModel(status)

		for pIdx, name := range m.ParamNames() {
			result.ParamMaps[name].Set(idx, m.Params()[pIdx])
		}
		result.Residual.Set(idx, f.ModelFitError())
		a.tracker.Or(idx, m.ModelErrorCode())

		if a.opts.WriteCtMaps {
			m.ComputeCtModel(nTimes)
			for t := range a.dynImages {
				result.CtModel[t].Set(idx, m.CtModel()[t])
				result.CtSignal[t].Set(idx, dv.CtData()[t])
			}
		}
	}

	return result, nil
}

// dynamicNoiseVariance derives a per-timepoint weighting for the DynNoise
// option: later, higher-concentration timepoints carry proportionally more
// signal noise, so weight each residual by the squared Ct value (floored to
// avoid a zero-variance blowup on the prebolus baseline).
func dynamicNoiseVariance(ct []float64) []float64 {
	const floor = 1e-6
	out := make([]float64, len(ct))
	for i, c := range ct {
		v := c * c
		if v < floor {
			v = floor
		}
		out[i] = v
	}
	return out
}

// seedInitialParams applies a per-voxel initial parameter map, when one was
// supplied for a given parameter name, ahead of fitting; parameters without
// a map entry stay at the model's default initial values.
func (a *DCEVolumeAnalysis) seedInitialParams(m *model.Model, idx int) {
	if len(a.initParamMaps) == 0 {
		return
	}
	params := append([]float64(nil), m.InitialParams()...)
	changed := false
	for i, name := range m.ParamNames() {
		if im, ok := a.initParamMaps[name]; ok {
			params[i] = im.At(idx)
			changed = true
		}
	}
	if changed {
		m.SetParams(params)
		m.SetInitialParams(params)
	}
}
