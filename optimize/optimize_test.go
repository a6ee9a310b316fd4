package optimize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedNLSQuadraticMinimum(t *testing.T) {
	// f(x) = (x0-2)^2 + (x1+1)^2, true minimum at (2,-1).
	f := func(x []float64) float64 {
		return (x[0]-2)*(x[0]-2) + (x[1]+1)*(x[1]+1)
	}
	x0 := []float64{0, 0}
	lb := []float64{-5, -5}
	ub := []float64{5, 5}

	xStar, fStar := BoundedNLS(f, x0, lb, ub, BLEIC, 200)
	assert.InDelta(t, 2, xStar[0], 0.05)
	assert.InDelta(t, -1, xStar[1], 0.05)
	assert.Less(t, fStar, 0.01)
}

func TestBoundedNLSRespectsBounds(t *testing.T) {
	f := func(x []float64) float64 {
		return (x[0] - 10) * (x[0] - 10)
	}
	xStar, _ := BoundedNLS(f, []float64{0}, []float64{-1}, []float64{1}, NS, 200)
	assert.LessOrEqual(t, xStar[0], 1.0+1e-9)
}

func TestBoundedNLSMonotonicity(t *testing.T) {
	f := func(x []float64) float64 {
		return (x[0]-2)*(x[0]-2) + (x[1]+1)*(x[1]+1)
	}
	x0 := []float64{0, 0}
	f0 := f(x0)
	_, fStar := BoundedNLS(f, x0, []float64{-5, -5}, []float64{5, 5}, BLEIC, 100)
	assert.True(t, fStar <= f0 || fStar == BadFitSSD)
}

func TestWeightedLLSExactFit(t *testing.T) {
	// A*B = C exactly, with B=[2,3]: rows (1,1)->5, (1,2)->8, (1,3)->11
	aFlat := []float64{1, 1, 1, 2, 1, 3}
	c := []float64{5, 8, 11}
	w := []float64{1, 1, 1}

	b, err := WeightedLLS(aFlat, 3, 2, c, w)
	require.NoError(t, err)
	assert.InDelta(t, 2, b[0], 1e-6)
	assert.InDelta(t, 3, b[1], 1e-6)
}

func TestWeightedLLSWeighting(t *testing.T) {
	// Two points exactly on the line y = 1 + 2x, one noisy outlier with
	// a tiny weight should not move the fit much.
	aFlat := []float64{1, 0, 1, 1, 1, 2, 1, 100}
	c := []float64{1, 3, 5, 1000}
	w := []float64{1, 1, 1, 1e-6}

	b, err := WeightedLLS(aFlat, 4, 2, c, w)
	require.NoError(t, err)
	assert.InDelta(t, 1, b[0], 0.2)
	assert.InDelta(t, 2, b[1], 0.2)
}

func TestBadFitSSDIsMaxFloat(t *testing.T) {
	assert.Equal(t, math.MaxFloat64, BadFitSSD)
}
