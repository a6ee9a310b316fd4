package image

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubIndRoundTrip(t *testing.T) {
	im, err := New(Generic, 4, 5, 6, 1, 1, 2)
	require.NoError(t, err)

	for z := 0; z < 6; z++ {
		for y := 0; y < 5; y++ {
			for x := 0; x < 4; x++ {
				idx, err := im.SubToInd(x, y, z)
				require.NoError(t, err)
				gx, gy, gz, err := im.IndToSub(idx)
				require.NoError(t, err)
				assert.Equal(t, x, gx)
				assert.Equal(t, y, gy)
				assert.Equal(t, z, gz)
			}
		}
	}
}

func TestSubToIndOutOfRange(t *testing.T) {
	im, err := New(Generic, 2, 2, 2, 1, 1, 1)
	require.NoError(t, err)
	_, err = im.SubToInd(2, 0, 0)
	assert.Error(t, err)
}

func TestSameGridTolerance(t *testing.T) {
	a, _ := New(Generic, 2, 2, 2, 1.0, 1.0, 1.0)
	b, _ := New(Generic, 2, 2, 2, 1.0009, 1.0, 1.0)
	c, _ := New(Generic, 2, 2, 2, 1.1, 1.0, 1.0)
	assert.True(t, SameGrid(a, b))
	assert.False(t, SameGrid(a, c))
}

func TestRequireSameGridWarnOnly(t *testing.T) {
	a, _ := New(Generic, 2, 2, 2, 1, 1, 1)
	b, _ := New(Generic, 3, 2, 2, 1, 1, 1)

	err := RequireSameGrid(a, b, false)
	require.Error(t, err)
	var gm *GridMismatchError
	require.ErrorAs(t, err, &gm)
	assert.False(t, gm.Warn)

	err = RequireSameGrid(a, b, true)
	require.Error(t, err)
	require.ErrorAs(t, err, &gm)
	assert.True(t, gm.Warn)
}

func TestMeanAndArithmetic(t *testing.T) {
	a, _ := New(Generic, 2, 1, 1, 1, 1, 1)
	b, _ := New(Generic, 2, 1, 1, 1, 1, 1)
	a.Set(0, 2)
	a.Set(1, 4)
	b.Set(0, 4)
	b.Set(1, 8)

	mean, err := Mean([]*Image{a, b})
	require.NoError(t, err)
	assert.Equal(t, 3.0, mean.At(0))
	assert.Equal(t, 6.0, mean.At(1))

	a.AddScalar(1)
	assert.Equal(t, 3.0, a.At(0))
	a.ScaleScalar(2)
	assert.Equal(t, 6.0, a.At(0))
}

func TestTimestampRoundTrip(t *testing.T) {
	m := Metadata{Timestamp: 143045.250}
	secs := m.TimestampSeconds()
	back := SecondsToTimestamp(secs)
	assert.InDelta(t, m.Timestamp, back, 1e-6)
}

func TestNonZeroIndicesAndClone(t *testing.T) {
	im, _ := New(Generic, 4, 4, 4, 1, 1, 1)
	idx, _ := im.SubToInd(2, 2, 2)
	im.Set(idx, 3.14)

	nz := im.NonZeroIndices()
	assert.Equal(t, []int{idx}, nz)

	clone := im.Clone()
	assert.Equal(t, 3.14, clone.At(idx))
	clone.Set(idx, 0)
	assert.Equal(t, 3.14, im.At(idx), "clone must be independent of source")
}
