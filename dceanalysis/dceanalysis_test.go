package dceanalysis

import (
	"testing"

	"github.com/qbi-lab/madym/aif"
	"github.com/qbi-lab/madym/autoaif"
	"github.com/qbi-lab/madym/errortracker"
	"github.com/qbi-lab/madym/fitter"
	"github.com/qbi-lab/madym/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAIF(t *testing.T) *aif.AIF {
	t.Helper()
	a := aif.New()
	times := make([]float64, 30)
	for i := range times {
		times[i] = float64(i) * 10
	}
	require.NoError(t, a.SetDynamicTimes(times))
	require.NoError(t, a.SetPrebolus(3))
	return a
}

func patlakCt(a *aif.AIF, ktrans, vp float64) []float64 {
	aifSamples, _ := a.AIFSamples()
	times := a.Times()
	out := make([]float64, len(times))
	cum := 0.0
	for i := range times {
		if i > 0 {
			dt := times[i] - times[i-1]
			cum += 0.5 * (aifSamples[i] + aifSamples[i-1]) * dt
		}
		out[i] = ktrans*cum + vp*aifSamples[i]
	}
	return out
}

func imagesFromSeries(t *testing.T, series []float64, nx, ny, nz int) []*image.Image {
	t.Helper()
	imgs := make([]*image.Image, len(series))
	for k, v := range series {
		im, err := image.New(image.Generic, nx, ny, nz, 1, 1, 1)
		require.NoError(t, err)
		for i := 0; i < im.NumVoxels(); i++ {
			im.Set(i, v)
		}
		imgs[k] = im
	}
	return imgs
}

func TestRunRecoversKnownPatlakParams(t *testing.T) {
	a := newTestAIF(t)
	ct := patlakCt(a, 0.25, 0.06)
	imgs := imagesFromSeries(t, ct, 2, 2, 1)

	tracker, err := errortracker.New(2, 2, 1, 1, 1, 1)
	require.NoError(t, err)

	opts := Options{
		ModelName:     "PATLAK",
		Prebolus:      3,
		TimepointLast: len(ct),
		Backend:       fitter.LLS,
		MaxIterations: 100,
		ComputeCt:     false,
		IAUCTimes:     []float64{60, 120},
	}
	dca, err := New(opts, a, imgs, tracker, nil)
	require.NoError(t, err)

	result, err := dca.Run(nil)
	require.NoError(t, err)

	ktransMap, ok := result.ParamMaps["Ktrans"]
	require.True(t, ok)
	vpMap, ok := result.ParamMaps["vp"]
	require.True(t, ok)

	for i := 0; i < ktransMap.NumVoxels(); i++ {
		assert.InDelta(t, 0.25, ktransMap.At(i), 0.01)
		assert.InDelta(t, 0.06, vpMap.At(i), 0.01)
	}
}

func TestRunSkipsVoxelsFlaggedFatal(t *testing.T) {
	a := newTestAIF(t)
	ct := patlakCt(a, 0.25, 0.06)
	imgs := imagesFromSeries(t, ct, 2, 2, 1)

	tracker, err := errortracker.New(2, 2, 1, 1, 1, 1)
	require.NoError(t, err)
	tracker.Or(0, errortracker.DCEInvalidInput)

	opts := Options{
		ModelName:     "PATLAK",
		Prebolus:      3,
		TimepointLast: len(ct),
		Backend:       fitter.LLS,
		MaxIterations: 100,
	}
	dca, err := New(opts, a, imgs, tracker, nil)
	require.NoError(t, err)

	result, err := dca.Run(nil)
	require.NoError(t, err)
	assert.Zero(t, result.ParamMaps["Ktrans"].At(0))
}

func TestRunRespectsROI(t *testing.T) {
	a := newTestAIF(t)
	ct := patlakCt(a, 0.25, 0.06)
	imgs := imagesFromSeries(t, ct, 2, 1, 1)

	tracker, err := errortracker.New(2, 1, 1, 1, 1, 1)
	require.NoError(t, err)

	roi, err := image.New(image.ROI, 2, 1, 1, 1, 1, 1)
	require.NoError(t, err)
	roi.Set(0, 1)

	opts := Options{
		ModelName:     "PATLAK",
		Prebolus:      3,
		TimepointLast: len(ct),
		Backend:       fitter.LLS,
		MaxIterations: 100,
	}
	dca, err := New(opts, a, imgs, tracker, nil)
	require.NoError(t, err)

	result, err := dca.Run(roi)
	require.NoError(t, err)
	assert.NotZero(t, result.ParamMaps["Ktrans"].At(0))
	assert.Zero(t, result.ParamMaps["Ktrans"].At(1))
}

func TestSeedAIFFromMapAveragesSelectedVoxels(t *testing.T) {
	a := newTestAIF(t)
	aifMap, err := image.New(image.AIFVoxelMap, 2, 1, 1, 1, 1, 1)
	require.NoError(t, err)
	aifMap.Set(0, float64(autoaif.Selected))

	ctVolume := make([][]float64, a.NumTimes())
	for t := range ctVolume {
		ctVolume[t] = []float64{float64(t), 1000} // voxel 1 is a distractor, not selected
	}

	opts := Options{ModelName: "PATLAK"}
	imgs := imagesFromSeries(t, make([]float64, a.NumTimes()), 2, 1, 1)
	tracker, err := errortracker.New(2, 1, 1, 1, 1, 1)
	require.NoError(t, err)
	dca, err := New(opts, a, imgs, tracker, nil)
	require.NoError(t, err)

	require.NoError(t, dca.SeedAIFFromMap(aifMap, ctVolume))

	samples, err := a.AIFSamples()
	require.NoError(t, err)
	const defaultScale = 0.1 / (1 - 0.42) // dose / (1 - hct), aif.New()'s defaults
	for i, v := range samples {
		assert.InDelta(t, float64(i)*defaultScale, v, 1e-9)
	}
}
