package voxel

import (
	"math"
	"testing"

	"github.com/qbi-lab/madym/errortracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticTimes(n int) []float64 {
	t := make([]float64, n)
	for i := range t {
		t[i] = float64(i) * 10
	}
	return t
}

func TestComputeCtFromSignalRoundTrips(t *testing.T) {
	times := syntheticTimes(10)
	t10, m0, fa, tr, r1, b1 := 1000.0, 1000.0, 15.0, 3.5, 0.0045, 1.0

	ctTrue := make([]float64, 10)
	for i := range ctTrue {
		ctTrue[i] = float64(i) * 0.01
	}
	signals := make([]float64, 10)
	for i, ct := range ctTrue {
		alpha := fa * math.Pi / 180.0
		invT1 := 1.0/t10 + r1*ct
		e := math.Exp(-tr * invT1)
		signals[i] = m0 * math.Sin(alpha) * (1 - e) / (1 - math.Cos(alpha)*e)
	}

	v := New(signals, nil, 2, times, []float64{30, 60}, false)
	v.ComputeCtFromSignal(t10, fa, tr, r1, m0, b1)

	for i, ct := range ctTrue {
		assert.InDelta(t, ct, v.CtData()[i], 1e-6)
	}
	assert.Equal(t, errortracker.OK, v.Status())
}

func TestComputeCtFromSignalFlagsB1Invalid(t *testing.T) {
	times := syntheticTimes(5)
	signals := []float64{1, 2, 3, 4, 5}
	v := New(signals, nil, 1, times, nil, false)
	v.ComputeCtFromSignal(1000, 15, 3.5, 0.0045, 1000, -1)
	assert.NotZero(t, v.Status()&errortracker.B1Invalid)
}

func TestComputeIAUCIntegratesTrapezoidally(t *testing.T) {
	times := syntheticTimes(11)
	ct := make([]float64, 11)
	for i := range ct {
		ct[i] = 1.0 // constant concentration -> IAUC = duration
	}
	v := New(make([]float64, 11), ct, 0, times, []float64{50}, false)
	iauc := v.ComputeIAUC()
	require.Len(t, iauc, 1)
	assert.InDelta(t, 50, iauc[0], 1e-9)
}

func TestComputeIAUCAtPeakAddsExtraValue(t *testing.T) {
	times := syntheticTimes(11)
	ct := make([]float64, 11)
	for i := range ct {
		ct[i] = float64(i)
	}
	v := New(make([]float64, 11), ct, 0, times, []float64{50}, true)
	iauc := v.ComputeIAUC()
	assert.Len(t, iauc, 2)
}

func TestTestEnhancingFlagsNonEnhancing(t *testing.T) {
	times := syntheticTimes(10)
	ct := make([]float64, 10)
	for i := range ct {
		ct[i] = 0.001 * float64(i%3)
	}
	v := New(make([]float64, 10), ct, 3, times, nil, false)
	enhancing := v.TestEnhancing()
	assert.False(t, enhancing)
	assert.NotZero(t, v.Status()&errortracker.NonEnhIAUC)
}

func TestTestEnhancingFlagsEnhancing(t *testing.T) {
	times := syntheticTimes(10)
	ct := make([]float64, 10)
	for i := 3; i < 10; i++ {
		ct[i] = 5.0
	}
	v := New(make([]float64, 10), ct, 3, times, nil, false)
	assert.True(t, v.TestEnhancing())
	assert.Zero(t, v.Status()&errortracker.NonEnhIAUC)
}
