package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "quantcrux/internal/errors"
)

func TestReturnsFromValues(t *testing.T) {
	returns, err := ReturnsFromValues([]float64{100, 110, 99})
	require.NoError(t, err)
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.1, returns[0], 1e-12)
	assert.InDelta(t, -0.1, returns[1], 1e-12)

	returns, err = ReturnsFromValues([]float64{100})
	require.NoError(t, err)
	assert.Empty(t, returns)
}

func TestReturnsFromValuesRejectsNonPositiveStart(t *testing.T) {
	// a zero in the middle would otherwise shift every later return by one period
	for _, values := range [][]float64{
		{100, 0, 50, 55},
		{-10, 10, 11},
		{100, 105, 0},
	} {
		returns, err := ReturnsFromValues(values)
		if values[len(values)-1] == 0 {
			// a trailing zero ends a period, it does not start one
			require.NoError(t, err)
			assert.Len(t, returns, len(values)-1)
			continue
		}
		assert.ErrorIs(t, err, qerrors.ErrUndefined)
		assert.Nil(t, returns)
	}
}
