// Package ioformats implements the Analyze-style dense/sparse binary image
// pair, the XTR metadata side-car, and the plain-text AIF/per-voxel CSV
// formats spec.md's external-interfaces section names. Grounded on
// original_source/madym/image_io/analyze/mdm_AnalyzeFormat.cxx (hdr/img
// pair, sparse index+value encoding) and
// original_source/madym/image_io/xtr/mdm_XtrFormat.cxx (old four-line vs
// new key-value metadata format).
package ioformats

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/qbi-lab/madym/image"
)

// IOError wraps a read/write failure against one of these file formats.
type IOError struct{ Msg string }

func (e *IOError) Error() string { return e.Msg }

// DataType selects the voxel datatype used in the Analyze .img payload.
type DataType int16

const (
	DTUnsignedChar DataType = 2
	DTSignedShort  DataType = 4
	DTSignedInt    DataType = 8
	DTFloat        DataType = 16
	DTDouble       DataType = 64
)

// analyzeHeaderSize is the canonical Analyze 7.5 header size in bytes
// (spec.md's external collaborators expect a byte-compatible .hdr; this
// implementation writes the subset of fields Madym itself reads/writes and
// zero-fills the rest, matching hdrBlankInit's "most fields stay blank"
// behaviour).
const analyzeHeaderSize = 348

// Byte offsets of the fields mdm_AnalyzeFormat actually populates:
// sizeof_hdr (int32), dim[8] (int16), datatype (int16), bitpix (int16),
// pixdim[8] (float32), at their canonical locations within the 348 byte
// Analyze struct.
const (
	offSizeofHdr = 0
	offDim       = 40
	offDatatype  = 70
	offBitpix    = 72
	offPixdim    = 76
)

// WriteAnalyze writes im's dimensions/spacing to baseName+".hdr" and its
// voxel payload to baseName+".img", densely or sparsely (index+value pairs
// for non-zero voxels only) per the sparse flag.
func WriteAnalyze(baseName string, im *image.Image, dt DataType, sparse bool) error {
	hdrBytes := make([]byte, analyzeHeaderSize)
	binary.LittleEndian.PutUint32(hdrBytes[offSizeofHdr:], uint32(analyzeHeaderSize))

	nx, ny, nz := im.Dims()
	dx, dy, dz := im.Spacing()

	binary.LittleEndian.PutUint16(hdrBytes[offDim:], uint16(4))
	binary.LittleEndian.PutUint16(hdrBytes[offDim+2:], uint16(nx))
	binary.LittleEndian.PutUint16(hdrBytes[offDim+4:], uint16(ny))
	binary.LittleEndian.PutUint16(hdrBytes[offDim+6:], uint16(nz))
	binary.LittleEndian.PutUint16(hdrBytes[offDim+8:], uint16(1))

	datatype := int16(dt)
	if sparse {
		datatype += 5
	}
	binary.LittleEndian.PutUint16(hdrBytes[offDatatype:], uint16(datatype))
	binary.LittleEndian.PutUint16(hdrBytes[offBitpix:], uint16(bitsPerVoxel(dt)))

	putFloat32(hdrBytes, offPixdim+4, float32(dx))
	putFloat32(hdrBytes, offPixdim+8, float32(dy))
	putFloat32(hdrBytes, offPixdim+12, float32(dz))

	if err := os.WriteFile(baseName+".hdr", hdrBytes, 0644); err != nil {
		return &IOError{Msg: fmt.Sprintf("ioformats: writing %s.hdr: %v", baseName, err)}
	}

	f, err := os.Create(baseName + ".img")
	if err != nil {
		return &IOError{Msg: fmt.Sprintf("ioformats: creating %s.img: %v", baseName, err)}
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	if sparse {
		return writeSparseImg(w, im, dt)
	}
	return writeDenseImg(w, im, dt)
}

func putFloat32(b []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(b[off:], math.Float32bits(v))
}

func bitsPerVoxel(dt DataType) int {
	switch dt {
	case DTUnsignedChar:
		return 8
	case DTSignedShort:
		return 16
	case DTSignedInt, DTFloat:
		return 32
	case DTDouble:
		return 64
	default:
		return 0
	}
}

func writeValue(w *bufio.Writer, v float64, dt DataType) error {
	var err error
	switch dt {
	case DTUnsignedChar:
		err = binary.Write(w, binary.LittleEndian, uint8(v))
	case DTSignedShort:
		err = binary.Write(w, binary.LittleEndian, int16(v))
	case DTSignedInt:
		err = binary.Write(w, binary.LittleEndian, int32(v))
	case DTFloat:
		err = binary.Write(w, binary.LittleEndian, float32(v))
	case DTDouble:
		err = binary.Write(w, binary.LittleEndian, v)
	default:
		return &IOError{Msg: fmt.Sprintf("ioformats: unsupported datatype %d", dt)}
	}
	if err != nil {
		return &IOError{Msg: fmt.Sprintf("ioformats: writing voxel value: %v", err)}
	}
	return nil
}

func writeDenseImg(w *bufio.Writer, im *image.Image, dt DataType) error {
	for i := 0; i < im.NumVoxels(); i++ {
		if err := writeValue(w, im.At(i), dt); err != nil {
			return err
		}
	}
	return nil
}

// writeSparseImg mirrors the original's "datatype+5" sparse encoding: an
// int32 count, then (int32 index, value) pairs for every non-zero voxel.
func writeSparseImg(w *bufio.Writer, im *image.Image, dt DataType) error {
	idxs := im.NonZeroIndices()
	if err := binary.Write(w, binary.LittleEndian, int32(len(idxs))); err != nil {
		return &IOError{Msg: fmt.Sprintf("ioformats: writing sparse count: %v", err)}
	}
	for _, idx := range idxs {
		if err := binary.Write(w, binary.LittleEndian, int32(idx)); err != nil {
			return &IOError{Msg: fmt.Sprintf("ioformats: writing sparse index: %v", err)}
		}
		if err := writeValue(w, im.At(idx), dt); err != nil {
			return err
		}
	}
	return nil
}

// ReadAnalyze reads baseName+".hdr"/".img" back into an Image, detecting
// sparse encoding from the stored datatype exactly as
// mdm_AnalyzeFormat::readAnalyzeImg does (odd datatype, or 6, means sparse
// with the true datatype at value-5).
func ReadAnalyze(baseName string, kind image.Type) (*image.Image, error) {
	hdrBytes, err := os.ReadFile(baseName + ".hdr")
	if err != nil {
		return nil, &IOError{Msg: fmt.Sprintf("ioformats: reading %s.hdr: %v", baseName, err)}
	}
	if len(hdrBytes) != analyzeHeaderSize {
		return nil, &IOError{Msg: fmt.Sprintf("ioformats: %s.hdr has unexpected size %d", baseName, len(hdrBytes))}
	}

	nx := int(binary.LittleEndian.Uint16(hdrBytes[offDim+2:]))
	ny := int(binary.LittleEndian.Uint16(hdrBytes[offDim+4:]))
	nz := int(binary.LittleEndian.Uint16(hdrBytes[offDim+6:]))
	datatype := int16(binary.LittleEndian.Uint16(hdrBytes[offDatatype:]))

	dx := float64(math.Float32frombits(binary.LittleEndian.Uint32(hdrBytes[offPixdim+4:])))
	dy := float64(math.Float32frombits(binary.LittleEndian.Uint32(hdrBytes[offPixdim+8:])))
	dz := float64(math.Float32frombits(binary.LittleEndian.Uint32(hdrBytes[offPixdim+12:])))

	im, err := image.New(kind, nx, ny, nz, dx, dy, dz)
	if err != nil {
		return nil, err
	}

	sparse := false
	if datatype == 6 || datatype%2 != 0 {
		datatype -= 5
		sparse = true
	}

	f, err := os.Open(baseName + ".img")
	if err != nil {
		return nil, &IOError{Msg: fmt.Sprintf("ioformats: opening %s.img: %v", baseName, err)}
	}
	defer f.Close()
	r := bufio.NewReader(f)

	if sparse {
		err = readSparseImg(r, im, DataType(datatype))
	} else {
		err = readDenseImg(r, im, DataType(datatype))
	}
	if err != nil {
		return nil, err
	}
	return im, nil
}

func readValue(r *bufio.Reader, dt DataType) (float64, error) {
	switch dt {
	case DTUnsignedChar:
		var v uint8
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case DTSignedShort:
		var v int16
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case DTSignedInt:
		var v int32
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case DTFloat:
		var v float32
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case DTDouble:
		var v float64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	default:
		return 0, &IOError{Msg: fmt.Sprintf("ioformats: unsupported datatype %d", dt)}
	}
}

func readDenseImg(r *bufio.Reader, im *image.Image, dt DataType) error {
	for i := 0; i < im.NumVoxels(); i++ {
		v, err := readValue(r, dt)
		if err != nil {
			return &IOError{Msg: fmt.Sprintf("ioformats: reading voxel %d: %v", i, err)}
		}
		im.Set(i, v)
	}
	return nil
}

func readSparseImg(r *bufio.Reader, im *image.Image, dt DataType) error {
	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return &IOError{Msg: fmt.Sprintf("ioformats: reading sparse count: %v", err)}
	}
	for k := int32(0); k < count; k++ {
		var idx int32
		if err := binary.Read(r, binary.LittleEndian, &idx); err != nil {
			return &IOError{Msg: fmt.Sprintf("ioformats: reading sparse index: %v", err)}
		}
		v, err := readValue(r, dt)
		if err != nil {
			return &IOError{Msg: fmt.Sprintf("ioformats: reading sparse value: %v", err)}
		}
		im.Set(int(idx), v)
	}
	return nil
}

// ReadVoxelCSV is the inverse of WriteVoxelCSV: it parses the header row
// into column names and every data row into (voxelIndex, values).
func ReadVoxelCSV(path string) (columnNames []string, indices []int, columns [][]float64, err error) {
	f, openErr := os.Open(path)
	if openErr != nil {
		return nil, nil, nil, &IOError{Msg: fmt.Sprintf("ioformats: opening %s: %v", path, openErr)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil, nil, nil, &IOError{Msg: fmt.Sprintf("ioformats: %s is empty", path)}
	}
	header := strings.Split(scanner.Text(), ",")
	if len(header) < 1 || header[0] != "voxelIndex" {
		return nil, nil, nil, &IOError{Msg: fmt.Sprintf("ioformats: %s missing voxelIndex header column", path)}
	}
	columnNames = header[1:]
	columns = make([][]float64, len(columnNames))

	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ",")
		if len(fields) != len(header) {
			return nil, nil, nil, &IOError{Msg: fmt.Sprintf("ioformats: %s row has %d fields, want %d", path, len(fields), len(header))}
		}
		idx, convErr := strconv.Atoi(fields[0])
		if convErr != nil {
			return nil, nil, nil, &IOError{Msg: fmt.Sprintf("ioformats: %s: invalid voxelIndex %q", path, fields[0])}
		}
		indices = append(indices, idx)
		for c, field := range fields[1:] {
			v, convErr := strconv.ParseFloat(field, 64)
			if convErr != nil {
				return nil, nil, nil, &IOError{Msg: fmt.Sprintf("ioformats: %s: invalid value %q in column %s", path, field, columnNames[c])}
			}
			columns[c] = append(columns[c], v)
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return nil, nil, nil, &IOError{Msg: fmt.Sprintf("ioformats: reading %s: %v", path, scanErr)}
	}
	return columnNames, indices, columns, nil
}

// WriteVoxelCSV writes a per-voxel CSV with a header row of columnNames
// followed by one row per voxel index in indices, drawing each column's
// value from the matching entry of columns (columns[c][row] aligns with
// indices[row]).
func WriteVoxelCSV(path string, columnNames []string, indices []int, columns [][]float64) error {
	if len(columnNames) != len(columns) {
		return &IOError{Msg: "ioformats: column name/data count mismatch"}
	}
	f, err := os.Create(path)
	if err != nil {
		return &IOError{Msg: fmt.Sprintf("ioformats: creating %s: %v", path, err)}
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	if _, err := fmt.Fprintf(w, "voxelIndex,%s\n", strings.Join(columnNames, ",")); err != nil {
		return &IOError{Msg: fmt.Sprintf("ioformats: writing %s header: %v", path, err)}
	}
	for row, idx := range indices {
		fields := make([]string, len(columns))
		for c, col := range columns {
			fields[c] = strconv.FormatFloat(col[row], 'g', -1, 64)
		}
		if _, err := fmt.Fprintf(w, "%d,%s\n", idx, strings.Join(fields, ",")); err != nil {
			return &IOError{Msg: fmt.Sprintf("ioformats: writing %s row: %v", path, err)}
		}
	}
	return nil
}
