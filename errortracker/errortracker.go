// Package errortracker implements the per-voxel bitmask status volume
// (spec.md §3, §4.7): a 3D image, co-registered with the analysis grid,
// that OR-accumulates error codes across a pipeline run and persists them
// across re-runs when a prior tracker image is supplied.
package errortracker

import (
	"fmt"

	"github.com/qbi-lab/madym/image"
)

// Code is a single bit in the per-voxel error bitmask.
type Code uint32

const OK Code = 0

const (
	T1FitFail Code = 1 << iota
	M0FitFail
	VFAThreshFail
	DCEFitFail
	DCEInvalidInput
	NonEnhIAUC
	CaIsNaN
	DynT1Bad
	B1Invalid
)

var names = map[Code]string{
	T1FitFail:       "T1_FIT_FAIL",
	M0FitFail:       "M0_FIT_FAIL",
	VFAThreshFail:   "VFA_THRESH_FAIL",
	DCEFitFail:      "DCE_FIT_FAIL",
	DCEInvalidInput: "DCE_INVALID_INPUT",
	NonEnhIAUC:      "NON_ENH_IAUC",
	CaIsNaN:         "CA_IS_NAN",
	DynT1Bad:        "DYN_T1_BAD",
	B1Invalid:       "B1_INVALID",
}

// String renders the set bits of a bitmask, "|"-separated, or "OK" if
// none are set.
func (c Code) String() string {
	if c == OK {
		return "OK"
	}
	s := ""
	for bit, name := range names {
		if c&bit != 0 {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	return s
}

// GridMismatchError reports a tracker whose grid does not match the
// analysis grid it is checked against. It is a type of its own, separate
// from image.GridMismatchError.
type GridMismatchError struct{ Msg string }

func (e *GridMismatchError) Error() string { return e.Msg }

// Tracker is a voxel-indexed bitmask image.
type Tracker struct {
	img *image.Image
}

// New allocates a fresh, all-OK tracker over the given grid.
func New(nx, ny, nz int, dx, dy, dz float64) (*Tracker, error) {
	im, err := image.New(image.ErrorTracker, nx, ny, nz, dx, dy, dz)
	if err != nil {
		return nil, err
	}
	return &Tracker{img: im}, nil
}

// Load adopts a prior tracker image (e.g. reloaded from a previous run) so
// that bits persist monotonically across re-runs. Load does not check the
// grid and never returns an error; CheckGrid compares it against an
// analysis grid.
func Load(prior *image.Image) (*Tracker, error) {
	return &Tracker{img: prior.Clone()}, nil
}

// CheckGrid verifies the tracker shares a grid with ref, per spec §4.7.
func (t *Tracker) CheckGrid(ref *image.Image) error {
	if !image.SameGrid(t.img, ref) {
		return &GridMismatchError{Msg: fmt.Sprintf("errortracker: tracker grid does not match analysis grid")}
	}
	return nil
}

// Image exposes the underlying bitmask image (e.g. for persistence).
func (t *Tracker) Image() *image.Image { return t.img }

// Get returns the accumulated bitmask at voxel idx.
func (t *Tracker) Get(idx int) Code {
	return Code(t.img.At(idx))
}

// Or accumulates code into voxel idx's bitmask (read-modify-write; callers
// sharding across workers must serialize access per voxel, e.g. one voxel
// per worker at a time, to keep this an atomic OR in practice).
func (t *Tracker) Or(idx int, code Code) {
	existing := Code(t.img.At(idx))
	t.img.Set(idx, float64(existing|code))
}

// IsFatal reports whether the accumulated code at idx should halt further
// processing of that voxel this run (spec §4.10 step 1: "bail early if
// fatal codes set"). T1/M0/VFA failures are deliberately excluded: a bad
// baseline T1 maps to the DYN_T1_BAD voxel status, which still permits
// fitting (spec §3, "voxel status ... Only OK and DYN_T1_BAD trigger
// fitting").
func (t *Tracker) IsFatal(idx int) bool {
	code := t.Get(idx)
	fatal := DCEInvalidInput | NonEnhIAUC | CaIsNaN | B1Invalid
	return code&fatal != 0
}
