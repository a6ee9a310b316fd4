package concentration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalConcentrationRoundTrip(t *testing.T) {
	t10 := 1000.0
	m0 := 1000.0
	flip := 15.0
	tr := 4.0
	r1 := 0.0045
	b1 := 1.0

	for _, ct := range []float64{0, 0.1, 0.5, 1.2, 2.0} {
		s, err := SignalFromConcentration(t10, m0, flip, tr, ct, r1, b1)
		require.NoError(t, err)

		ctBack, err := ConcentrationFromSignal(s, t10, m0, flip, tr, r1, b1)
		require.NoError(t, err)
		assert.InDelta(t, ct, ctBack, 1e-6)

		sBack, err := SignalFromConcentration(t10, m0, flip, tr, ctBack, r1, b1)
		require.NoError(t, err)
		assert.InDelta(t, s, sBack, 1e-9)
	}
}

func TestB1InvalidZeroOrNegative(t *testing.T) {
	_, err := SignalFromConcentration(1000, 1000, 15, 4, 0.1, 4.5, 0)
	require.Error(t, err)
	var b1e *B1InvalidError
	assert.ErrorAs(t, err, &b1e)

	_, err = SignalFromConcentration(1000, 1000, 15, 4, 0.1, 4.5, -1)
	require.Error(t, err)
	assert.ErrorAs(t, err, &b1e)
}

func TestEffectiveFlipAngleTooLarge(t *testing.T) {
	// alpha*B1 >= pi/2 must be treated as invalid.
	_, err := SignalFromConcentration(1000, 1000, 90, 4, 0.1, 4.5, 1.5)
	require.Error(t, err)
	var ie *InvalidInputError
	assert.ErrorAs(t, err, &ie)
}

func TestRatioM0(t *testing.T) {
	t10 := 1000.0
	flip := 15.0
	tr := 4.0
	b1 := 1.0

	// Baseline signal corresponding to Ct=0 with a known M0.
	trueM0 := 1000.0
	s, err := SignalFromConcentration(t10, trueM0, flip, tr, 0, 4.5, b1)
	require.NoError(t, err)

	m0, err := RatioM0([]float64{s, s, s}, t10, flip, tr, b1)
	require.NoError(t, err)
	assert.InDelta(t, trueM0, m0, 1e-6)
}

func TestSignalSeriesToConcentration(t *testing.T) {
	t10 := 1000.0
	m0 := 1000.0
	flip := 15.0
	tr := 4.0
	r1 := 4.5
	b1 := 1.0

	cts := []float64{0, 0.2, 0.4}
	signals := make([]float64, len(cts))
	for i, ct := range cts {
		s, err := SignalFromConcentration(t10, m0, flip, tr, ct, r1, b1)
		require.NoError(t, err)
		signals[i] = s
	}

	back, err := SignalSeriesToConcentration(signals, t10, m0, flip, tr, r1, b1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, cts, back, 1e-6)
}
