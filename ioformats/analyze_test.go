package ioformats

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/qbi-lab/madym/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeDenseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	im, err := image.New(image.Generic, 3, 2, 2, 1.5, 1.5, 3.0)
	require.NoError(t, err)
	for i := 0; i < im.NumVoxels(); i++ {
		im.Set(i, float64(i)*1.25)
	}

	base := filepath.Join(dir, "dense")
	require.NoError(t, WriteAnalyze(base, im, DTDouble, false))

	got, err := ReadAnalyze(base, image.Generic)
	require.NoError(t, err)

	nx, ny, nz := got.Dims()
	assert.Equal(t, 3, nx)
	assert.Equal(t, 2, ny)
	assert.Equal(t, 2, nz)
	dx, dy, dz := got.Spacing()
	assert.InDelta(t, 1.5, dx, 1e-4)
	assert.InDelta(t, 1.5, dy, 1e-4)
	assert.InDelta(t, 3.0, dz, 1e-4)
	for i := 0; i < im.NumVoxels(); i++ {
		assert.InDelta(t, im.At(i), got.At(i), 1e-6)
	}
}

func TestAnalyzeSparseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	im, err := image.New(image.Generic, 4, 4, 1, 1, 1, 1)
	require.NoError(t, err)
	im.Set(3, 42.0)
	im.Set(10, -7.5)

	base := filepath.Join(dir, "sparse")
	require.NoError(t, WriteAnalyze(base, im, DTFloat, true))

	got, err := ReadAnalyze(base, image.Generic)
	require.NoError(t, err)
	for i := 0; i < im.NumVoxels(); i++ {
		assert.InDelta(t, im.At(i), got.At(i), 1e-4)
	}
}

func TestXtrOldFormatRoundTrip(t *testing.T) {
	dir := t.TempDir()
	im, err := image.New(image.Generic, 2, 2, 1, 1, 1, 1)
	require.NoError(t, err)
	im.Meta.FlipAngle = 15
	im.Meta.TR = 3.5

	base := filepath.Join(dir, "old")
	require.NoError(t, WriteXtr(base, im, OldXtr))

	out, err := image.New(image.Generic, 2, 2, 1, 1, 1, 1)
	require.NoError(t, err)
	require.NoError(t, ReadXtr(base, out))
	assert.InDelta(t, 15, out.Meta.FlipAngle, 1e-6)
	assert.InDelta(t, 3.5, out.Meta.TR, 1e-6)
}

func TestXtrNewFormatRoundTrip(t *testing.T) {
	dir := t.TempDir()
	im, err := image.New(image.Generic, 2, 2, 1, 1, 1, 1)
	require.NoError(t, err)
	im.Meta.FlipAngle = 20
	im.Meta.TR = 4.5
	im.Meta.TE = 1.2

	base := filepath.Join(dir, "new")
	require.NoError(t, WriteXtr(base, im, NewXtr))

	out, err := image.New(image.Generic, 2, 2, 1, 1, 1, 1)
	require.NoError(t, err)
	require.NoError(t, ReadXtr(base, out))
	assert.InDelta(t, 20, out.Meta.FlipAngle, 1e-6)
	assert.InDelta(t, 4.5, out.Meta.TR, 1e-6)
	assert.InDelta(t, 1.2, out.Meta.TE, 1e-6)
}

func TestWriteVoxelCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxels.csv")
	err := WriteVoxelCSV(path,
		[]string{"Ktrans", "vp"},
		[]int{0, 5, 12},
		[][]float64{{0.1, 0.2, 0.3}, {0.01, 0.02, 0.03}},
	)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := splitLines(string(data))
	require.Len(t, lines, 4) // header + 3 rows
	assert.Equal(t, "voxelIndex,Ktrans,vp", lines[0])
	assert.Equal(t, "0,0.1,0.01", lines[1])
}

func TestReadVoxelCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxels.csv")
	wantNames := []string{"Ktrans", "vp"}
	wantIndices := []int{0, 5, 12}
	wantColumns := [][]float64{{0.1, 0.2, 0.3}, {0.01, 0.02, 0.03}}
	require.NoError(t, WriteVoxelCSV(path, wantNames, wantIndices, wantColumns))

	gotNames, gotIndices, gotColumns, err := ReadVoxelCSV(path)
	require.NoError(t, err)
	assert.Equal(t, wantNames, gotNames)
	assert.Equal(t, wantIndices, gotIndices)
	require.Len(t, gotColumns, len(wantColumns))
	for c := range wantColumns {
		for r := range wantColumns[c] {
			assert.InDelta(t, wantColumns[c][r], gotColumns[c][r], 1e-9)
		}
	}
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
