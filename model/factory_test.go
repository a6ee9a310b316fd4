package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateModelAppliesFixedParam(t *testing.T) {
	a := newTestAIF(t)
	m, err := CreateModel("ETM", a, nil, []int{2}, []float64{0.02}, nil, nil)
	require.NoError(t, err)
	assert.False(t, m.optimisedFlags[2])
	assert.Equal(t, 0.02, m.Params()[2])
	assert.Equal(t, m.NumParams()-1, m.NumOptimised())
}

func TestCreateModelRejectsFixedAndRelLimitSameIndex(t *testing.T) {
	a := newTestAIF(t)
	_, err := CreateModel("ETM", a, nil, []int{0}, []float64{0.1}, []int{0}, []float64{0.5})
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestCreateModelNarrowsRelativeLimitBounds(t *testing.T) {
	a := newTestAIF(t)
	initParams := []float64{0.25, 0.2, 0.01, 0, 1}
	m, err := CreateModel("ETM", a, initParams, nil, nil, []int{0}, []float64{0.1})
	require.NoError(t, err)
	assert.InDelta(t, 0.15, m.lowerBounds[0], 1e-9)
	assert.InDelta(t, 0.35, m.upperBounds[0], 1e-9)
}

func TestCreateModelUnrecognisedName(t *testing.T) {
	a := newTestAIF(t)
	_, err := CreateModel("NOT_A_MODEL", a, nil, nil, nil, nil, nil)
	require.Error(t, err)
	var unsupported *UnsupportedError
	assert.ErrorAs(t, err, &unsupported)
}

func TestCreateModelWrongInitialParamCount(t *testing.T) {
	a := newTestAIF(t)
	_, err := CreateModel("PATLAK", a, []float64{1, 2, 3}, nil, nil, nil, nil)
	require.Error(t, err)
}
