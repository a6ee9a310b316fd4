package model

import (
	"math"
	"testing"

	"github.com/qbi-lab/madym/aif"
	"github.com/qbi-lab/madym/errortracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAIF(t *testing.T) *aif.AIF {
	t.Helper()
	a := aif.New()
	times := make([]float64, 20)
	for i := range times {
		times[i] = float64(i) * 10
	}
	require.NoError(t, a.SetDynamicTimes(times))
	require.NoError(t, a.SetPrebolus(2))
	return a
}

func TestParseModelNameAliases(t *testing.T) {
	assert.Equal(t, TOFTS, ParseModelName("VPSTD"))
	assert.Equal(t, AUEM, ParseModelName("GADOXETATE"))
	assert.Equal(t, ETM, ParseModelName("ETM"))
	assert.False(t, ParseModelName("NOT_A_MODEL").IsDefined())
}

func TestOptimisedParamsRoundTrip(t *testing.T) {
	m := newETM(newTestAIF(t))
	m.optimisedFlags[2] = false // vp fixed
	free := m.OptimisedParams()
	assert.Equal(t, m.NumOptimised(), len(free))

	newFree := make([]float64, len(free))
	for i := range newFree {
		newFree[i] = free[i] + 1
	}
	m.SetOptimisedParams(newFree)
	assert.Equal(t, newFree[0], m.Params()[0])
	assert.NotEqual(t, newFree[0], m.Params()[2]) // fixed slot untouched by index shift
}

func TestCheckParamsRejectsNonFinite(t *testing.T) {
	m := newETM(newTestAIF(t))
	m.params[0] = math.NaN()
	assert.Equal(t, errortracker.DCEFitFail, m.CheckParams())
}

func TestResetClearsCtModel(t *testing.T) {
	m := newETM(newTestAIF(t))
	m.Reset(20)
	m.ComputeCtModel(20)
	total := 0.0
	for _, v := range m.CtModel() {
		total += v
	}
	assert.NotZero(t, total)
	m.Reset(20)
	for _, v := range m.CtModel() {
		assert.Zero(t, v)
	}
}

func TestRepeatParamSweep(t *testing.T) {
	m := newETM(newTestAIF(t))
	require.NoError(t, m.SetRepeatParam(0, []float64{0.1, 0.2, 0.3}))
	assert.False(t, m.SingleFit())

	count := 0
	for m.NextRepeatParam() {
		count++
	}
	assert.Equal(t, 3, count)
	assert.False(t, m.NextRepeatParam())
}
