// Package t1mapper implements T1Mapper (spec.md §4.8): per-voxel T1/M0
// mapping over a volume of variable-flip-angle or inversion-recovery
// images. Grounded on
// original_source/madym/run/mdm_RunToolsT1Fit.cxx's input-count validation
// and spec.md §4.8's per-voxel guarantees.
package t1mapper

import (
	"fmt"

	"github.com/qbi-lab/madym/errortracker"
	"github.com/qbi-lab/madym/image"
	"github.com/qbi-lab/madym/model"
)

// ConfigError reports an invalid T1Mapper configuration (wrong input
// count, mismatched grids).
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return e.Msg }

// T1Mapper maps T1 and M0 over a volume from a fixed set of input images
// (flip-angle or inversion-time signal images), an optional B1 map, and a
// noise threshold below which a voxel is left unfit.
type T1Mapper struct {
	method        model.T1Method
	signalImages  []*image.Image
	faOrTI        []float64
	tr            float64
	bigTR         float64
	b1Image       *image.Image
	noiseThresh   float64
	tracker       *errortracker.Tracker
}

// New validates the method's input-count bounds against len(signalImages)
// before constructing, mirroring
// mdm_RunToolsT1Fit::checkNumInputs's early-reject.
func New(method model.T1Method, signalImages []*image.Image, faOrTI []float64, tr, bigTR float64, b1Image *image.Image, noiseThresh float64, tracker *errortracker.Tracker) (*T1Mapper, error) {
	n := len(signalImages)
	if n != len(faOrTI) {
		return nil, &ConfigError{Msg: "t1mapper: signalImages and faOrTI must have equal length"}
	}
	if n < method.MinimumInputs() {
		return nil, &ConfigError{Msg: fmt.Sprintf("t1mapper: %s requires at least %d inputs, got %d", method, method.MinimumInputs(), n)}
	}
	if n > method.MaximumInputs() {
		return nil, &ConfigError{Msg: fmt.Sprintf("t1mapper: %s accepts at most %d inputs, got %d", method, method.MaximumInputs(), n)}
	}
	for _, im := range signalImages {
		if !image.SameGrid(signalImages[0], im) {
			return nil, &ConfigError{Msg: "t1mapper: signal images do not share a grid"}
		}
	}
	if b1Image != nil && !image.SameGrid(signalImages[0], b1Image) {
		return nil, &ConfigError{Msg: "t1mapper: B1 image grid mismatch"}
	}
	return &T1Mapper{
		method:       method,
		signalImages: signalImages,
		faOrTI:       faOrTI,
		tr:           tr,
		bigTR:        bigTR,
		b1Image:      b1Image,
		noiseThresh:  noiseThresh,
		tracker:      tracker,
	}, nil
}

// Result holds the mapped T1/M0 volumes.
type Result struct {
	T1 *image.Image
	M0 *image.Image
}

// Run maps every voxel in roi (nil means every voxel), writing T1 ∈ (0,
// 10^4) ms and M0 > 0 per spec.md §4.8's guarantees, flagging voxels whose
// minimum signal is below noiseThresh as VFA_THRESH_FAIL and leaving them
// zero, and OR-ing the per-voxel error code into the tracker.
func (m *T1Mapper) Run(roi *image.Image) (*Result, error) {
	base := m.signalImages[0]
	t1 := base.CloneEmpty(image.T1)
	m0 := base.CloneEmpty(image.M0)

	n := base.NumVoxels()
	signals := make([]float64, len(m.signalImages))
	for idx := 0; idx < n; idx++ {
		if roi != nil && roi.At(idx) == 0 {
			continue
		}

		minSig := m.signalImages[0].At(idx)
		for j, im := range m.signalImages {
			signals[j] = im.At(idx)
			if signals[j] < minSig {
				minSig = signals[j]
			}
		}
		if minSig < m.noiseThresh {
			if m.tracker != nil {
				m.tracker.Or(idx, errortracker.VFAThreshFail)
			}
			continue
		}

		b1 := 1.0
		if m.b1Image != nil {
			b1 = m.b1Image.At(idx)
		}

		t1v, m0v, code := m.method.MapVoxel(signals, m.faOrTI, m.tr, m.bigTR, b1)
		if code != errortracker.OK {
			if m.tracker != nil {
				m.tracker.Or(idx, code)
			}
			continue
		}
		if t1v <= 0 || t1v >= 1e4 || m0v <= 0 {
			if m.tracker != nil {
				m.tracker.Or(idx, errortracker.T1FitFail)
			}
			continue
		}
		t1.Set(idx, t1v)
		m0.Set(idx, m0v)
	}

	return &Result{T1: t1, M0: m0}, nil
}
