package autoaif

import (
	"testing"

	"github.com/qbi-lab/madym/errortracker"
	"github.com/qbi-lab/madym/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timeSeries(n int, dt float64) []float64 {
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) * dt
	}
	return times
}

func constImages(t *testing.T, values []float64, nx, ny, nz int) []*image.Image {
	t.Helper()
	imgs := make([]*image.Image, len(values))
	for k, v := range values {
		im, err := image.New(image.Generic, nx, ny, nz, 1, 1, 1)
		require.NoError(t, err)
		for i := 0; i < im.NumVoxels(); i++ {
			im.Set(i, v)
		}
		imgs[k] = im
	}
	return imgs
}

func baseOpts() Options {
	return Options{
		Slices:                []int{0},
		XRange:                []int{0, 1},
		YRange:                []int{0, 1},
		MinT1Blood:            500,
		PeakTimeSec:           60,
		PrebolusNoiseFallback: 5,
		PrebolusMinImages:     3,
		SelectPct:             50,
		Prebolus:              2,
	}
}

func t1Map(t *testing.T, value float64, nx, ny, nz int) *image.Image {
	t.Helper()
	im, err := image.New(image.T1, nx, ny, nz, 1, 1, 1)
	require.NoError(t, err)
	for i := 0; i < im.NumVoxels(); i++ {
		im.Set(i, value)
	}
	return im
}

func ctFromSignal(dynImages []*image.Image) [][]float64 {
	ct := make([][]float64, len(dynImages))
	for t, im := range dynImages {
		ct[t] = make([]float64, im.NumVoxels())
		for i := 0; i < im.NumVoxels(); i++ {
			ct[t][i] = im.At(i)
		}
	}
	return ct
}

func TestValidCandidateAcceptsPlausibleBolus(t *testing.T) {
	times := timeSeries(10, 5)
	signal := []float64{10, 10, 10, 60, 300, 250, 200, 150, 120, 100}
	imgs := constImages(t, signal, 2, 2, 1)
	t1 := t1Map(t, 1500, 2, 2, 1)

	d := New(baseOpts(), imgs, t1, nil, nil, times)
	status, maxSignal, ok := d.validCandidate(0)
	assert.True(t, ok)
	assert.Equal(t, Candidate, status)
	assert.InDelta(t, 300, maxSignal, 1e-9)
}

func TestValidCandidateRejectsPeakTooEarly(t *testing.T) {
	times := timeSeries(10, 5)
	signal := []float64{90, 80, 70, 60, 50, 48, 46, 44, 42, 40}
	imgs := constImages(t, signal, 1, 1, 1)
	t1 := t1Map(t, 1500, 1, 1, 1)

	d := New(baseOpts(), imgs, t1, nil, nil, times)
	status, _, ok := d.validCandidate(0)
	assert.False(t, ok)
	assert.Equal(t, PeakTooEarly, status)
}

func TestValidCandidateRejectsPeakTooLate(t *testing.T) {
	times := timeSeries(20, 5)
	signal := make([]float64, 20)
	for i := range signal {
		signal[i] = 10
	}
	signal[19] = 90
	imgs := constImages(t, signal, 1, 1, 1)
	t1 := t1Map(t, 1500, 1, 1, 1)

	opts := baseOpts()
	opts.PeakTimeSec = 30
	d := New(opts, imgs, t1, nil, nil, times)
	status, _, ok := d.validCandidate(0)
	assert.False(t, ok)
	assert.Equal(t, PeakTooLate, status)
}

func TestValidCandidateRejectsDoubleDip(t *testing.T) {
	times := timeSeries(10, 5)
	signal := []float64{10, 10, 10, 60, 10, 90, 60, 55, 50, 48}
	imgs := constImages(t, signal, 1, 1, 1)
	t1 := t1Map(t, 1500, 1, 1, 1)

	d := New(baseOpts(), imgs, t1, nil, nil, times)
	status, _, ok := d.validCandidate(0)
	assert.False(t, ok)
	assert.Equal(t, DoubleDip, status)
}

func TestValidCandidateRejectsBelowNoiseThresh(t *testing.T) {
	times := timeSeries(10, 5)
	signal := []float64{10, 10, 10, 12, 14, 13, 12, 11, 10.5, 10}
	imgs := constImages(t, signal, 1, 1, 1)
	t1 := t1Map(t, 1500, 1, 1, 1)

	opts := baseOpts()
	// Force the fallback noise constant (window shorter than
	// PrebolusMinImages) set far above this voxel's peak, so it is
	// rejected regardless of the sampled variance.
	opts.PrebolusMinImages = 1000
	opts.PrebolusNoiseFallback = 100
	d := New(opts, imgs, t1, nil, nil, times)
	status, _, ok := d.validCandidate(0)
	assert.False(t, ok)
	assert.Equal(t, BelowNoiseThresh, status)
}

func TestValidCandidateSkipsLowT1(t *testing.T) {
	times := timeSeries(10, 5)
	signal := []float64{10, 10, 10, 60, 300, 250, 200, 150, 120, 100}
	imgs := constImages(t, signal, 2, 2, 1)
	t1 := t1Map(t, 100, 2, 2, 1)

	opts := baseOpts()
	d := New(opts, imgs, t1, nil, nil, times)
	result := d.Run(ctFromSignal(imgs))
	assert.Empty(t, result.Selected)
}

func TestRunSelectsTopPercentByPeakSignal(t *testing.T) {
	times := timeSeries(10, 5)
	t1 := t1Map(t, 1500, 2, 2, 1)

	signals := [][]float64{
		{10, 10, 10, 30, 150, 120, 100, 90, 85, 80},
		{10, 10, 10, 120, 600, 480, 400, 360, 340, 320},
		{10, 10, 10, 60, 300, 240, 200, 180, 170, 160},
		{10, 10, 10, 90, 450, 360, 300, 270, 255, 240},
	}
	nT := len(times)
	nVox := 4
	imgs := make([]*image.Image, nT)
	for tIdx := 0; tIdx < nT; tIdx++ {
		im, err := image.New(image.Generic, 2, 2, 1, 1, 1, 1)
		require.NoError(t, err)
		for v := 0; v < nVox; v++ {
			im.Set(v, signals[v][tIdx])
		}
		imgs[tIdx] = im
	}

	opts := baseOpts()
	opts.SelectPct = 50
	d := New(opts, imgs, t1, nil, nil, times)
	result := d.Run(ctFromSignal(imgs))

	require.NotEmpty(t, result.Selected)
	assert.Contains(t, result.Selected, 1)
	assert.LessOrEqual(t, len(result.Selected), 2)
}

func TestRunSkipsVoxelsFlaggedFatalByTracker(t *testing.T) {
	times := timeSeries(10, 5)
	signal := []float64{10, 10, 10, 60, 300, 250, 200, 150, 120, 100}
	imgs := constImages(t, signal, 2, 2, 1)
	t1 := t1Map(t, 1500, 2, 2, 1)

	tracker, err := errortracker.New(2, 2, 1, 1, 1, 1)
	require.NoError(t, err)
	tracker.Or(0, errortracker.DCEInvalidInput)

	d := New(baseOpts(), imgs, t1, nil, tracker, times)
	result := d.Run(ctFromSignal(imgs))
	assert.NotContains(t, result.Selected, 0)
}

func TestRunRespectsROI(t *testing.T) {
	times := timeSeries(10, 5)
	signal := []float64{10, 10, 10, 60, 300, 250, 200, 150, 120, 100}
	imgs := constImages(t, signal, 2, 2, 1)
	t1 := t1Map(t, 1500, 2, 2, 1)

	roi, err := image.New(image.ROI, 2, 2, 1, 1, 1, 1)
	require.NoError(t, err)
	roi.Set(1, 1)

	opts := baseOpts()
	opts.SelectPct = 100
	d := New(opts, imgs, t1, roi, nil, times)
	result := d.Run(ctFromSignal(imgs))
	require.Len(t, result.Selected, 1)
	assert.Equal(t, 1, result.Selected[0])
}
