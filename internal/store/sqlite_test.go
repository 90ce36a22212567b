package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcrux/internal/analytics"
	"quantcrux/internal/backtest"
	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/models"
)

var baseTime = time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "quantcrux.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// generateTestBars creates valid bars for testing
func generateTestBars(count int, basePrice float64, baseVolume int64) []models.PriceBar {
	bars := make([]models.PriceBar, count)
	for i := 0; i < count; i++ {
		variation := float64(i%10) * 0.01 * basePrice
		open := basePrice + variation
		close := basePrice + variation*0.5

		bars[i] = models.PriceBar{
			Timestamp: baseTime.Add(time.Duration(i) * time.Minute),
			Open:      roundToDecimal(open, 2),
			High:      roundToDecimal(math.Max(open, close)*1.01, 2),
			Low:       roundToDecimal(math.Min(open, close)*0.99, 2),
			Close:     roundToDecimal(close, 2),
			Volume:    baseVolume + int64(i*1000),
		}
	}
	return bars
}

// roundToDecimal rounds a float to specified decimal places
func roundToDecimal(val float64, places int) float64 {
	multiplier := math.Pow(10, float64(places))
	return math.Round(val*multiplier) / multiplier
}

func barsEqual(a, b models.PriceBar) bool {
	const tolerance = 0.01
	return a.Timestamp.Equal(b.Timestamp) &&
		math.Abs(a.Open-b.Open) <= tolerance &&
		math.Abs(a.High-b.High) <= tolerance &&
		math.Abs(a.Low-b.Low) <= tolerance &&
		math.Abs(a.Close-b.Close) <= tolerance &&
		a.Volume == b.Volume
}

func TestProperty_BarRoundTripConsistency(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(1234)

	properties := gopter.NewProperties(parameters)

	symbols := []string{"AAPL", "MSFT", "SPY", "QQQ", "TSLA"}
	timeframeGen := gen.OneConstOf(models.Timeframe1Min, models.Timeframe5Min, models.Timeframe1Hour, models.Timeframe1Day)

	run := 0
	properties.Property("Bar round-trip: save then retrieve produces equivalent data", prop.ForAll(
		func(symbolIdx int, timeframe models.Timeframe, count int, basePrice float64, baseVolume int64) bool {
			ctx := context.Background()
			run++
			symbol := fmt.Sprintf("%s_%d", symbols[symbolIdx%len(symbols)], run)

			bars := generateTestBars(count, basePrice, baseVolume)
			if err := store.SaveBars(ctx, symbol, timeframe, bars); err != nil {
				t.Logf("Failed to save bars: %v", err)
				return false
			}

			from := bars[0].Timestamp.Add(-time.Second)
			to := bars[len(bars)-1].Timestamp.Add(time.Second)
			retrieved, err := store.GetBars(ctx, symbol, timeframe, from, to)
			if err != nil {
				t.Logf("Failed to get bars: %v", err)
				return false
			}
			if len(retrieved) != len(bars) {
				t.Logf("Count mismatch: expected %d, got %d", len(bars), len(retrieved))
				return false
			}
			for i := range bars {
				if !barsEqual(bars[i], retrieved[i]) {
					t.Logf("Bar mismatch at index %d: original=%+v, retrieved=%+v", i, bars[i], retrieved[i])
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(symbols)-1),
		timeframeGen,
		gen.IntRange(1, 20),
		gen.Float64Range(10.0, 5000.0),
		gen.Int64Range(1000, 1000000),
	))

	properties.TestingRun(t)
}

func TestSaveBarsReplacesSameTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bars := generateTestBars(3, 100, 1000)
	require.NoError(t, s.SaveBars(ctx, "AAPL", models.Timeframe1Min, bars))
	bars[1].Close = 555
	require.NoError(t, s.SaveBars(ctx, "AAPL", models.Timeframe1Min, bars[1:2]))
	require.NoError(t, s.SaveBars(ctx, "AAPL", models.Timeframe1Min, nil))

	got, err := s.GetBars(ctx, "AAPL", models.Timeframe1Min, baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 555.0, got[1].Close)

	fresh, err := s.GetBarsFreshness(ctx, "AAPL", models.Timeframe1Min)
	require.NoError(t, err)
	assert.True(t, fresh.Equal(bars[2].Timestamp), "got %s", fresh)

	none, err := s.GetBarsFreshness(ctx, "MSFT", models.Timeframe1Min)
	require.NoError(t, err)
	assert.True(t, none.IsZero())
}

func TestLatestQuote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetLatestQuote(ctx, "AAPL")
	assert.ErrorIs(t, err, qerrors.ErrDataUnavailable)

	require.NoError(t, s.SaveQuote(ctx, models.Quote{Symbol: "AAPL", Price: 180, Timestamp: baseTime}))
	require.NoError(t, s.SaveQuote(ctx, models.Quote{Symbol: "AAPL", Price: 181.5, Timestamp: baseTime.Add(time.Minute)}))
	require.NoError(t, s.SaveQuote(ctx, models.Quote{Symbol: "MSFT", Price: 400, Timestamp: baseTime.Add(time.Hour)}))

	q, err := s.GetLatestQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 181.5, q.Price)
	assert.True(t, q.Timestamp.Equal(baseTime.Add(time.Minute)))
}

func TestProductVersionsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := models.ProductTerms{
		ProductID:    "NOTE-1",
		Version:      1,
		Underlying:   "SPY",
		PayoffKind:   models.PayoffDigital,
		Notional:     decimal.RequireFromString("1000000.50"),
		StrikePrice:  models.Float(450),
		PayoffRate:   models.Float(0.08),
		MaturityDate: baseTime.AddDate(1, 0, 0),
		PricingModel: models.ModelMonteCarlo,
		CreatedAt:    baseTime,
	}
	v2 := v1
	v2.Version = 2
	v2.StrikePrice = models.Float(460)

	require.NoError(t, s.SaveProductVersion(ctx, v1))
	require.NoError(t, s.SaveProductVersion(ctx, v2))
	assert.Error(t, s.SaveProductVersion(ctx, v1), "versions are never rewritten")

	versions, err := s.GetProductVersions(ctx, "NOTE-1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 450.0, *versions[0].StrikePrice)
	assert.Equal(t, 460.0, *versions[1].StrikePrice)
	assert.Nil(t, versions[0].BarrierLevel)
	assert.Nil(t, versions[0].Cap)
	assert.True(t, v1.Notional.Equal(versions[0].Notional))
	assert.Equal(t, models.PayoffDigital, versions[0].PayoffKind)
	assert.True(t, versions[0].MaturityDate.Equal(v1.MaturityDate))
}

func TestPricingResultsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SavePricingResult(ctx, models.PricingResult{
			ProductID:      "NOTE-1",
			Version:        1 + i/2,
			Timestamp:      baseTime.Add(time.Duration(i) * time.Hour),
			Model:          models.ModelMonteCarlo,
			FairValue:      100 + float64(i),
			OptionGreeks:   models.OptionGreeks{Delta: 0.5},
			SimulationRuns: 10000,
			StdError:       0.1,
		}))
	}

	all, err := s.GetPricingResults(ctx, PricingFilter{ProductID: "NOTE-1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 102.0, all[0].FairValue)
	assert.Equal(t, 0.5, all[0].Delta)
	assert.Equal(t, 10000, all[0].SimulationRuns)

	v1, err := s.GetPricingResults(ctx, PricingFilter{ProductID: "NOTE-1", Version: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, v1, 1)
	assert.Equal(t, 101.0, v1[0].FairValue)
}

func sampleRun() *BacktestRun {
	exitTime := baseTime.AddDate(0, 0, 5)
	exitPrice := decimal.RequireFromString("110.25")
	res := &backtest.Result{
		Symbol: "AAPL",
		Trades: []models.SimulatedTrade{
			{
				TradeNumber:     1,
				Signal:          models.SignalBuy,
				EntryTime:       baseTime,
				EntryPrice:      decimal.RequireFromString("100"),
				ExitTime:        &exitTime,
				ExitPrice:       &exitPrice,
				Quantity:        decimal.RequireFromString("10"),
				GrossPnl:        decimal.RequireFromString("102.5"),
				NetPnl:          decimal.RequireFromString("101.3975"),
				Commission:      decimal.RequireFromString("1.1025"),
				DurationMinutes: 7200,
				ExitReason:      "signal",
			},
			{
				TradeNumber: 2,
				Signal:      models.SignalBuy,
				EntryTime:   baseTime.AddDate(0, 0, 6),
				EntryPrice:  decimal.RequireFromString("111"),
				Quantity:    decimal.RequireFromString("9"),
			},
		},
		EquityCurve: []models.EquityPoint{
			{Timestamp: baseTime, Equity: decimal.RequireFromString("100000")},
			{Timestamp: baseTime.AddDate(0, 0, 1), Equity: decimal.RequireFromString("99950.5")},
		},
		DrawdownCurve: []models.DrawdownPoint{
			{Timestamp: baseTime, Drawdown: 0},
			{Timestamp: baseTime.AddDate(0, 0, 1), Drawdown: -0.000495},
		},
		Summary: backtest.Summary{
			TotalTrades:    1,
			WinningTrades:  1,
			OpenTrades:     1,
			WinRate:        analytics.Of(1),
			InitialCapital: decimal.RequireFromString("100000"),
			FinalCapital:   decimal.RequireFromString("99950.5"),
			ProfitFactor:   analytics.Unavailable("no losing trades"),
		},
		BarsProcessed: 2,
		BarsTotal:     2,
	}
	return &BacktestRun{
		ID:          "run-1",
		Symbol:      "AAPL",
		Strategy:    "sma_crossover",
		Status:      "COMPLETED",
		SubmittedAt: baseTime,
		CompletedAt: baseTime.Add(time.Second),
		Result:      res,
	}
}

func TestBacktestRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := sampleRun()
	require.NoError(t, s.SaveBacktestRun(ctx, run))
	// saving again replaces the ledger rather than duplicating it
	require.NoError(t, s.SaveBacktestRun(ctx, run))

	got, err := s.GetBacktestRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", got.Status)
	assert.True(t, got.CompletedAt.Equal(run.CompletedAt))
	require.NotNil(t, got.Result)
	require.Len(t, got.Result.Trades, 2)

	closed := got.Result.Trades[0]
	require.NotNil(t, closed.ExitPrice)
	assert.True(t, closed.ExitPrice.Equal(decimal.RequireFromString("110.25")))
	assert.True(t, closed.NetPnl.Equal(decimal.RequireFromString("101.3975")))
	assert.Equal(t, "signal", closed.ExitReason)
	assert.True(t, got.Result.Trades[1].IsOpen())

	require.Len(t, got.Result.EquityCurve, 2)
	assert.True(t, got.Result.EquityCurve[1].Equity.Equal(decimal.RequireFromString("99950.5")))
	assert.InDelta(t, -0.000495, got.Result.DrawdownCurve[1].Drawdown, 1e-12)

	sum := got.Result.Summary
	assert.Equal(t, 1, sum.OpenTrades)
	assert.True(t, sum.WinRate.Available)
	assert.False(t, sum.ProfitFactor.Available)
	assert.True(t, sum.FinalCapital.Equal(decimal.RequireFromString("99950.5")))
}

func TestBacktestRunStatusUpdatesKeepLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := sampleRun()
	require.NoError(t, s.SaveBacktestRun(ctx, run))

	header := *run
	header.Result = nil
	header.Status = "ARCHIVED"
	require.NoError(t, s.SaveBacktestRun(ctx, &header))

	got, err := s.GetBacktestRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "ARCHIVED", got.Status)
	require.NotNil(t, got.Result)
	assert.Len(t, got.Result.Trades, 2)
	assert.Equal(t, 2, got.Result.BarsProcessed)

	_, err = s.GetBacktestRun(ctx, "missing")
	assert.ErrorIs(t, err, qerrors.ErrDataUnavailable)
}

func TestListBacktestRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, sym := range []string{"AAPL", "MSFT", "AAPL"} {
		run := sampleRun()
		run.ID = fmt.Sprintf("run-%d", i)
		run.Symbol = sym
		run.SubmittedAt = baseTime.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveBacktestRun(ctx, run))
	}

	runs, err := s.ListBacktestRuns(ctx, RunFilter{Symbol: "AAPL"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	require.NotNil(t, runs[0].Result)
	assert.Empty(t, runs[0].Result.Trades, "listing carries summaries only")
}

func TestRiskSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := analytics.RiskSnapshot{
		AsOf:         baseTime,
		Observations: 20,
		CurrentValue: 10000,
		VaR95:        analytics.Of(300),
		VaR99:        analytics.Of(500),
		Beta:         analytics.Unavailable("no benchmark"),
	}
	require.NoError(t, s.SaveRiskSnapshot(ctx, RiskRecord{PortfolioID: "P1", Snapshot: snap}))
	later := snap
	later.AsOf = baseTime.Add(24 * time.Hour)
	require.NoError(t, s.SaveRiskSnapshot(ctx, RiskRecord{PortfolioID: "P1", Snapshot: later}))

	records, err := s.GetRiskSnapshots(ctx, "P1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Snapshot.AsOf.Equal(later.AsOf))
	assert.Equal(t, 500.0, records[0].Snapshot.VaR99.Value)
	assert.False(t, records[0].Snapshot.Beta.Available)

	limited, err := s.GetRiskSnapshots(ctx, "P1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLastSync(t *testing.T) {
	s := newTestStore(t)

	assert.True(t, s.GetLastSync("bars:AAPL:1day").IsZero())
	require.NoError(t, s.SetLastSync("bars:AAPL:1day", baseTime))
	assert.True(t, s.GetLastSync("bars:AAPL:1day").Equal(baseTime))

	// a fresh handle reads it back from the table
	s.mu.Lock()
	delete(s.syncTimes, "bars:AAPL:1day")
	s.mu.Unlock()
	assert.True(t, s.GetLastSync("bars:AAPL:1day").Equal(baseTime))
}
