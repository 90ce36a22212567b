package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcrux/internal/backtest"
	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/models"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func barsFromCloses(closes []float64) []models.PriceBar {
	bars := make([]models.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = models.PriceBar{Timestamp: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 100}
	}
	return bars
}

// vShape declines by one per bar for n bars then rises for n bars.
func vShape(n int) []models.PriceBar {
	closes := make([]float64, 0, 2*n+1)
	for i := 0; i <= n; i++ {
		closes = append(closes, 100-float64(i))
	}
	for i := 1; i <= n; i++ {
		closes = append(closes, 100-float64(n)+float64(i))
	}
	return barsFromCloses(closes)
}

// replay evaluates the rule for every prefix of bars.
func replay(t *testing.T, src *Source, bars []models.PriceBar) []models.Signal {
	t.Helper()
	out := make([]models.Signal, len(bars))
	for i := range bars {
		sig, err := src.Evaluate(context.Background(), bars[:i+1])
		require.NoError(t, err)
		out[i] = sig
	}
	return out
}

func count(signals []models.Signal, want models.Signal) int {
	n := 0
	for _, s := range signals {
		if s == want {
			n++
		}
	}
	return n
}

func TestSMACrossoverBuysOnceAtTurn(t *testing.T) {
	src, err := NewEvaluator().Compile(`{"type":"sma_crossover","params":{"short_period":3,"long_period":5}}`)
	require.NoError(t, err)
	assert.Equal(t, TypeSMACrossover, src.Name())

	signals := replay(t, src, vShape(30))
	assert.Equal(t, models.SignalNoSignal, signals[0])
	assert.Equal(t, models.SignalNoSignal, signals[4])
	assert.Equal(t, 1, count(signals, models.SignalBuy))
	assert.Equal(t, 0, count(signals, models.SignalSell))

	// the cross happens after the trough at bar 30
	for i, s := range signals {
		if s == models.SignalBuy {
			assert.Greater(t, i, 30)
		}
	}
}

func TestEvaluateMatchesCompiledSource(t *testing.T) {
	cfg := `{"type":"sma_crossover","params":{"short_period":3,"long_period":5}}`
	bars := vShape(20)
	src, err := NewEvaluator().Compile(cfg)
	require.NoError(t, err)
	compiled := replay(t, src, bars)

	e := NewEvaluator()
	for i := range bars {
		sig, err := e.Evaluate(cfg, bars[:i+1])
		require.NoError(t, err)
		assert.Equal(t, compiled[i], sig, "bar %d", i)
	}
}

func TestRSIStrategy(t *testing.T) {
	src, err := NewEvaluator().Compile(`{"type":"rsi","params":{"period":5,"oversold":30,"overbought":70}}`)
	require.NoError(t, err)

	signals := replay(t, src, vShape(20))
	assert.Equal(t, models.SignalNoSignal, signals[0])
	// RSI sits at 0 through the decline then recovers through 30
	assert.Equal(t, 1, count(signals, models.SignalBuy))
	assert.Equal(t, 0, count(signals, models.SignalSell))
}

func TestMACDNeedsWarmup(t *testing.T) {
	src, err := NewEvaluator().Compile(`{"type":"macd"}`)
	require.NoError(t, err)

	signals := replay(t, src, vShape(20))
	for i := 0; i < 34; i++ {
		assert.Equal(t, models.SignalNoSignal, signals[i], "bar %d", i)
	}
	assert.NotEqual(t, models.SignalNoSignal, signals[40])
}

func TestBollingerReversion(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100 + float64(i%2)
	}
	closes[24] = 80
	src, err := NewEvaluator().Compile(`{"type":"bollinger","params":{"period":20,"std_dev":2}}`)
	require.NoError(t, err)

	sig, err := src.Evaluate(context.Background(), barsFromCloses(closes))
	require.NoError(t, err)
	assert.Equal(t, models.SignalBuy, sig)

	closes[24] = 120
	sig, err = src.Evaluate(context.Background(), barsFromCloses(closes))
	require.NoError(t, err)
	assert.Equal(t, models.SignalSell, sig)
}

func TestBuyAndHoldExitAfter(t *testing.T) {
	e := NewEvaluator()
	bars := vShape(5)

	sig, err := e.Evaluate(`{"type":"buy_and_hold"}`, bars)
	require.NoError(t, err)
	assert.Equal(t, models.SignalBuy, sig)

	sig, err = e.Evaluate(`{"type":"buy_and_hold","params":{"exit_after":3}}`, bars[:3])
	require.NoError(t, err)
	assert.Equal(t, models.SignalSell, sig)
}

func TestInvalidConfigs(t *testing.T) {
	e := NewEvaluator()
	cases := map[string]string{
		"malformed":       `{"type":`,
		"array root":      `[1,2]`,
		"missing type":    `{"params":{}}`,
		"unknown type":    `{"type":"astrology"}`,
		"bad period":      `{"type":"sma_crossover","params":{"short_period":-2}}`,
		"fractional":      `{"type":"rsi","params":{"period":2.5}}`,
		"inverted sma":    `{"type":"sma_crossover","params":{"short_period":30,"long_period":10}}`,
		"inverted rsi":    `{"type":"rsi","params":{"oversold":80,"overbought":20}}`,
		"bad signal":      `{"type":"scripted","signals":{"0":"SHORT"}}`,
		"bad index":       `{"type":"scripted","signals":{"first":"BUY"}}`,
		"signals missing": `{"type":"scripted"}`,
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.Evaluate(cfg, vShape(3))
			assert.ErrorIs(t, err, qerrors.ErrConfigInvalid)
		})
	}
}

func TestEmptyWindowIsNoSignal(t *testing.T) {
	sig, err := NewEvaluator().Evaluate(`{"type":"buy_and_hold"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SignalNoSignal, sig)
}

func TestCancelledContext(t *testing.T) {
	src, err := NewEvaluator().Compile(`{"type":"buy_and_hold"}`)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Evaluate(ctx, vShape(2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScriptedRuleDrivesBacktest(t *testing.T) {
	src, err := NewEvaluator().Compile(`{"type":"scripted","signals":{"0":"BUY","5":"SELL","7":"buy"}}`)
	require.NoError(t, err)

	bars := vShape(5)
	cfg := backtest.DefaultConfig()
	cfg.Symbol = "TEST"
	res, err := backtest.NewEngine(zerolog.Nop()).Run(context.Background(), bars, cfg, src, nil)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	first := res.Trades[0]
	require.NotNil(t, first.ExitTime)
	assert.Equal(t, bars[5].Timestamp, *first.ExitTime)
	assert.Equal(t, "signal", first.ExitReason)
	assert.Equal(t, bars[7].Timestamp, res.Trades[1].EntryTime)
	assert.Equal(t, "end_of_data", res.Trades[1].ExitReason)
}

func TestProperty_RulesAlwaysEmitKnownSignal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(1234)

	properties := gopter.NewProperties(parameters)

	configs := []string{
		`{"type":"sma_crossover"}`,
		`{"type":"rsi"}`,
		`{"type":"macd"}`,
		`{"type":"bollinger"}`,
		`{"type":"buy_and_hold"}`,
	}
	known := map[models.Signal]bool{
		models.SignalBuy: true, models.SignalSell: true, models.SignalHold: true, models.SignalNoSignal: true,
	}

	properties.Property("every rule returns a known signal without error", prop.ForAll(
		func(closes []float64, which int) bool {
			bars := barsFromCloses(closes)
			sig, err := NewEvaluator().Evaluate(configs[which], bars)
			if err != nil {
				t.Logf("rule %s failed: %v", configs[which], err)
				return false
			}
			return known[sig]
		},
		gen.SliceOfN(60, gen.Float64Range(1, 500)),
		gen.IntRange(0, len(configs)-1),
	))

	properties.TestingRun(t)
}
