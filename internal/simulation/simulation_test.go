package simulation

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/stats"
)

func baseParams() Params {
	return Params{Spot: 100, Volatility: 0.2, RiskFreeRate: 0.05, HorizonYears: 1, StepsPerYear: DefaultStepsPerYear}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		param  string
	}{
		{"zero spot", func(p *Params) { p.Spot = 0 }, "spot"},
		{"negative spot", func(p *Params) { p.Spot = -1 }, "spot"},
		{"zero horizon", func(p *Params) { p.HorizonYears = 0 }, "horizon"},
		{"negative volatility", func(p *Params) { p.Volatility = -0.1 }, "volatility"},
		{"zero steps", func(p *Params) { p.StepsPerYear = 0 }, "steps_per_year"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := baseParams()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, qerrors.ErrInvalidSimulationParameters)

			var simErr *qerrors.SimulationError
			require.ErrorAs(t, err, &simErr)
			assert.Equal(t, tt.param, simErr.Param)
		})
	}
	assert.NoError(t, baseParams().Validate())
}

func TestStepsCoverHorizon(t *testing.T) {
	p := baseParams()
	p.HorizonYears = 0.3
	steps := p.Steps()
	assert.Len(t, steps, int(math.Ceil(0.3*252)))
	assert.InDelta(t, 0.3, stats.Sum(steps), 1e-12)
	assert.LessOrEqual(t, steps[len(steps)-1], 1.0/252+1e-15)
}

func TestZeroVolatilityIsDeterministic(t *testing.T) {
	p := baseParams()
	p.Volatility = 0
	price, err := New(1).TerminalPrice(p)
	require.NoError(t, err)
	assert.InDelta(t, 100*math.Exp(0.05), price, 1e-9)
}

func TestSameSeedSamePath(t *testing.T) {
	a, err := New(42).Path(baseParams())
	require.NoError(t, err)
	b, err := New(42).Path(baseParams())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 253)
	assert.Equal(t, 100.0, a[0])
}

func TestTerminalMeanIsForward(t *testing.T) {
	prices, err := New(7).TerminalPrices(Params{Spot: 100, Volatility: 0.2, RiskFreeRate: 0.05, HorizonYears: 1, StepsPerYear: 1}, 200000)
	require.NoError(t, err)
	forward := 100 * math.Exp(0.05)
	assert.InEpsilon(t, forward, stats.Mean(prices), 0.005)
}

func TestTerminalPricesRejectsNonPositiveRuns(t *testing.T) {
	_, err := New(1).TerminalPrices(baseParams(), 0)
	assert.ErrorIs(t, err, qerrors.ErrInvalidSimulationParameters)
}

func TestChunkSeedDistinct(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		s := ChunkSeed(42, i)
		assert.False(t, seen[s], "duplicate seed for chunk %d", i)
		seen[s] = true
	}
	assert.Equal(t, ChunkSeed(42, 3), ChunkSeed(42, 3))
}

// Property: simulated prices stay strictly positive for any valid input.
func TestProperty_PathsStayPositive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(1234)

	properties := gopter.NewProperties(parameters)

	properties.Property("all path prices positive", prop.ForAll(
		func(spot, vol, horizon float64, seed int64) bool {
			p := Params{Spot: spot, Volatility: vol, RiskFreeRate: 0.03, HorizonYears: horizon, StepsPerYear: 52}
			path, err := New(seed).Path(p)
			if err != nil {
				t.Logf("unexpected error: %v", err)
				return false
			}
			for _, v := range path {
				if !(v > 0) {
					return false
				}
			}
			return true
		},
		gen.Float64Range(1, 1000),
		gen.Float64Range(0, 1),
		gen.Float64Range(0.01, 3),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
