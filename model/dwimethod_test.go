package model

import (
	"math"
	"testing"

	"github.com/qbi-lab/madym/errortracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestADCLinearRecoversKnownCoefficient(t *testing.T) {
	s0, adc := 1000.0, 0.0012
	bValues := []float64{0, 100, 300, 600, 900}
	signals := make([]float64, len(bValues))
	for i, b := range bValues {
		signals[i] = s0 * math.Exp(-b*adc)
	}

	result := ADCLinear.MapVoxel(signals, bValues, 0)
	require.Equal(t, errortracker.OK, result.ErrCode)
	assert.InDelta(t, s0, result.S0, 1.0)
	assert.InDelta(t, adc, result.ADC, 1e-5)
}

func TestADCNonlinearRecoversKnownCoefficient(t *testing.T) {
	s0, adc := 1000.0, 0.0012
	bValues := []float64{0, 100, 300, 600, 900}
	signals := make([]float64, len(bValues))
	for i, b := range bValues {
		signals[i] = s0 * math.Exp(-b*adc)
	}

	result := ADC.MapVoxel(signals, bValues, 0)
	require.Equal(t, errortracker.OK, result.ErrCode)
	assert.InDelta(t, s0, result.S0, 2.0)
	assert.InDelta(t, adc, result.ADC, 1e-4)
}

func TestIVIMRecoversKnownParams(t *testing.T) {
	s0, f, dStar, d := 1000.0, 0.15, 0.02, 0.0012
	bValues := []float64{0, 10, 20, 50, 100, 300, 600, 900}
	signals := make([]float64, len(bValues))
	for i, b := range bValues {
		signals[i] = s0 * (f*math.Exp(-b*dStar) + (1-f)*math.Exp(-b*d))
	}

	result := IVIM.MapVoxel(signals, bValues, 0)
	require.Equal(t, errortracker.OK, result.ErrCode)
	assert.InDelta(t, d, result.ADC, 2e-4)
}

func TestIVIMSimplePartitionsAboutThreshold(t *testing.T) {
	s0, f, d := 1000.0, 0.2, 0.0012
	bValues := []float64{0, 10, 20, 200, 400, 600, 900}
	thresholdB := 150.0
	signals := make([]float64, len(bValues))
	for i, b := range bValues {
		if b >= thresholdB {
			signals[i] = s0 * (1 - f) * math.Exp(-b*d)
		} else {
			signals[i] = s0 * ((1-f)*math.Exp(-b*d) + f)
		}
	}

	result := IVIMSimple.MapVoxel(signals, bValues, thresholdB)
	require.Equal(t, errortracker.OK, result.ErrCode)
	assert.InDelta(t, d, result.ADC, 2e-4)
	assert.InDelta(t, f, result.Perf, 0.05)
	assert.Zero(t, result.DStar)
}

func TestADCRejectsNonPositiveSignal(t *testing.T) {
	result := ADCLinear.MapVoxel([]float64{0, 50}, []float64{0, 100}, 0)
	assert.Equal(t, errortracker.DCEFitFail, result.ErrCode)
}
