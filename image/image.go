// Package image implements the dense 3D voxel grid shared by every mapper
// and analysis component: dimensions, voxel spacing, acquisition metadata,
// and the arithmetic a pipeline needs to build derived maps in place.
package image

import (
	"fmt"
	"math"
)

// Type tags the role an Image plays in a pipeline. Two images of different
// Type may still share the same grid; the tag is metadata, not a shape
// constraint.
type Type int

const (
	Generic Type = iota
	T1
	M0
	CtDynamic
	CtModel
	ROI
	ErrorTracker
	AIFVoxelMap
)

func (t Type) String() string {
	switch t {
	case Generic:
		return "generic"
	case T1:
		return "T1"
	case M0:
		return "M0"
	case CtDynamic:
		return "Ct_dynamic"
	case CtModel:
		return "Ct_model"
	case ROI:
		return "ROI"
	case ErrorTracker:
		return "error_tracker"
	case AIFVoxelMap:
		return "aif_voxel_map"
	default:
		return "unknown"
	}
}

// DimTolerance is the relative tolerance applied when comparing voxel
// spacing between images that must share a grid (spec §3 invariant).
const DimTolerance = 1e-3

// Metadata carries the acquisition parameters an Image may know about.
// Zero values mean "not set" for every field here.
type Metadata struct {
	FlipAngle    float64 // degrees
	TR           float64 // ms
	TE           float64 // ms
	TI           float64 // ms
	B            float64 // s/mm^2
	Timestamp    float64 // hhmmss.fff encoding
	OriginX      float64
	OriginY      float64
	OriginZ      float64
	RowCosineX   float64
	RowCosineY   float64
	RowCosineZ   float64
	ColCosineX   float64
	ColCosineY   float64
	ColCosineZ   float64
	Scale        float64
	Intercept    float64
	HasScale     bool
	HasIntercept bool
}

// TimestampSeconds converts the hhmmss.fff encoded Timestamp into seconds
// from midnight.
func (m Metadata) TimestampSeconds() float64 {
	hh := math.Floor(m.Timestamp / 10000)
	mm := math.Floor((m.Timestamp - hh*10000) / 100)
	ss := m.Timestamp - hh*10000 - mm*100
	return hh*3600 + mm*60 + ss
}

// SecondsToTimestamp is the inverse of TimestampSeconds.
func SecondsToTimestamp(seconds float64) float64 {
	hh := math.Floor(seconds / 3600)
	rem := seconds - hh*3600
	mm := math.Floor(rem / 60)
	ss := rem - mm*60
	return hh*10000 + mm*100 + ss
}

// Image is a rectangular 3D grid of float64 voxels with shared metadata.
type Image struct {
	Kind          Type
	NX, NY, NZ    int
	DX, DY, DZ    float64 // mm
	Meta          Metadata
	voxels        []float64
	nonZeroHint   int // tracked for sparse-format round tripping, best-effort
}

// New allocates a zeroed Image of the given dimensions and voxel spacing.
func New(kind Type, nx, ny, nz int, dx, dy, dz float64) (*Image, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("image: invalid dimensions (%d,%d,%d)", nx, ny, nz)
	}
	return &Image{
		Kind:   kind,
		NX:     nx,
		NY:     ny,
		NZ:     nz,
		DX:     dx,
		DY:     dy,
		DZ:     dz,
		voxels: make([]float64, nx*ny*nz),
	}, nil
}

// NumVoxels returns the total voxel count nx*ny*nz.
func (im *Image) NumVoxels() int { return len(im.voxels) }

// Dims returns (nx, ny, nz).
func (im *Image) Dims() (int, int, int) { return im.NX, im.NY, im.NZ }

// Spacing returns (dx, dy, dz) in mm.
func (im *Image) Spacing() (float64, float64, float64) { return im.DX, im.DY, im.DZ }

// SubToInd converts 3D subscripts to a linear voxel index, column-major in x
// (matching the Analyze/NIFTI convention the ioformats package round-trips
// against).
func (im *Image) SubToInd(x, y, z int) (int, error) {
	if x < 0 || x >= im.NX || y < 0 || y >= im.NY || z < 0 || z >= im.NZ {
		return 0, fmt.Errorf("image: subscript (%d,%d,%d) out of range for dims (%d,%d,%d)", x, y, z, im.NX, im.NY, im.NZ)
	}
	return z*im.NY*im.NX + y*im.NX + x, nil
}

// IndToSub is the inverse of SubToInd.
func (im *Image) IndToSub(idx int) (x, y, z int, err error) {
	if idx < 0 || idx >= len(im.voxels) {
		return 0, 0, 0, fmt.Errorf("image: index %d out of range for %d voxels", idx, len(im.voxels))
	}
	z = idx / (im.NX * im.NY)
	rem := idx - z*im.NX*im.NY
	y = rem / im.NX
	x = rem - y*im.NX
	return x, y, z, nil
}

// At returns the voxel value at linear index idx.
func (im *Image) At(idx int) float64 { return im.voxels[idx] }

// Set assigns the voxel value at linear index idx.
func (im *Image) Set(idx int, v float64) { im.voxels[idx] = v }

// AtSub returns the voxel value at (x,y,z).
func (im *Image) AtSub(x, y, z int) (float64, error) {
	idx, err := im.SubToInd(x, y, z)
	if err != nil {
		return 0, err
	}
	return im.voxels[idx], nil
}

// SetSub assigns the voxel value at (x,y,z).
func (im *Image) SetSub(x, y, z int, v float64) error {
	idx, err := im.SubToInd(x, y, z)
	if err != nil {
		return err
	}
	im.voxels[idx] = v
	return nil
}

// Voxels returns the backing slice directly. Callers that mutate it are
// responsible for respecting NumVoxels().
func (im *Image) Voxels() []float64 { return im.voxels }

// SameGrid reports whether two images share dimensions and, within
// DimTolerance, voxel spacing.
func SameGrid(a, b *Image) bool {
	if a.NX != b.NX || a.NY != b.NY || a.NZ != b.NZ {
		return false
	}
	return closeEnough(a.DX, b.DX) && closeEnough(a.DY, b.DY) && closeEnough(a.DZ, b.DZ)
}

func closeEnough(a, b float64) bool {
	if a == 0 && b == 0 {
		return true
	}
	return math.Abs(a-b) <= DimTolerance*math.Max(math.Abs(a), math.Abs(b))
}

// GridMismatchError is raised when two images that must share a grid do not.
type GridMismatchError struct {
	Warn bool
	Msg  string
}

func (e *GridMismatchError) Error() string { return e.Msg }

// RequireSameGrid enforces the spec §3 invariant: mismatched grids always
// return a *GridMismatchError, whose Warn field is set to warnOnly so the
// caller can choose to log a warning instead of failing.
func RequireSameGrid(a, b *Image, warnOnly bool) error {
	if SameGrid(a, b) {
		return nil
	}
	msg := fmt.Sprintf("image: grid mismatch dims(%d,%d,%d)!=(%d,%d,%d) spacing(%.4f,%.4f,%.4f)!=(%.4f,%.4f,%.4f)",
		a.NX, a.NY, a.NZ, b.NX, b.NY, b.NZ, a.DX, a.DY, a.DZ, b.DX, b.DY, b.DZ)
	if warnOnly {
		return &GridMismatchError{Warn: true, Msg: msg}
	}
	return &GridMismatchError{Warn: false, Msg: msg}
}

// CloneEmpty returns a new Image with the same dimensions, spacing, and
// metadata as im but all voxels zeroed, tagged with kind. Used to propagate
// a grid without copying voxel values (e.g. allocating a parameter map from
// the T1 map's geometry).
func (im *Image) CloneEmpty(kind Type) *Image {
	out := &Image{
		Kind:   kind,
		NX:     im.NX,
		NY:     im.NY,
		NZ:     im.NZ,
		DX:     im.DX,
		DY:     im.DY,
		DZ:     im.DZ,
		Meta:   im.Meta,
		voxels: make([]float64, len(im.voxels)),
	}
	return out
}

// Clone deep-copies im, including voxel data.
func (im *Image) Clone() *Image {
	out := im.CloneEmpty(im.Kind)
	copy(out.voxels, im.voxels)
	return out
}

// AddScalar adds c to every voxel in place.
func (im *Image) AddScalar(c float64) {
	for i := range im.voxels {
		im.voxels[i] += c
	}
}

// ScaleScalar multiplies every voxel by c in place.
func (im *Image) ScaleScalar(c float64) {
	for i := range im.voxels {
		im.voxels[i] *= c
	}
}

// AddImage adds other element-wise in place. Returns an error if the grids
// do not match.
func (im *Image) AddImage(other *Image) error {
	if !SameGrid(im, other) {
		return RequireSameGrid(im, other, false)
	}
	for i := range im.voxels {
		im.voxels[i] += other.voxels[i]
	}
	return nil
}

// Mean returns a new Image holding the element-wise mean of images, all of
// which must share a grid.
func Mean(images []*Image) (*Image, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("image: Mean requires at least one image")
	}
	out := images[0].CloneEmpty(images[0].Kind)
	for _, im := range images {
		if err := out.AddImage(im); err != nil {
			return nil, err
		}
	}
	out.ScaleScalar(1.0 / float64(len(images)))
	return out, nil
}

// NonZeroIndices returns the linear indices of all non-zero voxels, in
// ascending order. Used by the sparse Analyze writer.
func (im *Image) NonZeroIndices() []int {
	idxs := make([]int, 0, im.nonZeroHint)
	for i, v := range im.voxels {
		if v != 0 {
			idxs = append(idxs, i)
		}
	}
	return idxs
}
