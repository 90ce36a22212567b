package service

import (
	"context"
	"time"

	"quantcrux/internal/analytics"
	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/marketdata"
	"quantcrux/internal/models"
	"quantcrux/internal/stats"
	"quantcrux/internal/store"
)

// ComputeRiskSnapshot derives risk statistics from daily returns. benchmark
// may be nil.
func (c *Core) ComputeRiskSnapshot(returns, benchmark []float64, currentValue float64) (analytics.RiskSnapshot, error) {
	return analytics.ComputeRiskSnapshot(returns, benchmark, currentValue, c.riskOptions())
}

func (c *Core) riskOptions() analytics.RiskOptions {
	opts := c.opts.Risk
	opts.AsOf = c.now()
	return opts
}

// RiskForSymbol computes a risk snapshot of a symbol's daily closes over
// [start, end] against the configured benchmark and records it under
// portfolioID. Absolute metrics use every close of the symbol; relative
// metrics use only the bars the benchmark shares. A missing benchmark series
// leaves the relative metrics unavailable instead of failing.
func (c *Core) RiskForSymbol(ctx context.Context, portfolioID, symbol string, start, end time.Time, currentValue float64) (analytics.RiskSnapshot, error) {
	if err := c.requireData("risk"); err != nil {
		return analytics.RiskSnapshot{}, err
	}
	bars, err := c.data.GetBarSeries(ctx, symbol, models.Timeframe1Day, start, end)
	if err != nil {
		return analytics.RiskSnapshot{}, err
	}

	var bench []models.PriceBar
	if c.opts.BenchmarkSymbol != "" && c.opts.BenchmarkSymbol != symbol {
		bench, err = c.data.GetBarSeries(ctx, c.opts.BenchmarkSymbol, models.Timeframe1Day, start, end)
		switch {
		case err == nil:
		case marketdata.IsUnavailable(err):
			c.logger.Warn().Err(err).Str("benchmark", c.opts.BenchmarkSymbol).Msg("Benchmark unavailable, relative metrics skipped")
			bench = nil
		default:
			return analytics.RiskSnapshot{}, err
		}
	}

	returns, overlap, err := symbolReturns(bars, bench)
	if err != nil {
		return analytics.RiskSnapshot{}, qerrors.NewDataError("returns", symbol, "closes do not yield returns", err)
	}
	snap, err := analytics.ComputeRiskSnapshotWithBenchmark(returns, overlap, currentValue, c.riskOptions())
	if err != nil {
		return analytics.RiskSnapshot{}, err
	}
	if portfolioID == "" {
		portfolioID = symbol
	}
	c.persist("save_risk_snapshot", func(ctx context.Context) error {
		return c.store.SaveRiskSnapshot(ctx, store.RiskRecord{PortfolioID: portfolioID, Snapshot: snap, CreatedAt: snap.AsOf})
	})
	return snap, nil
}

// RiskHistory returns persisted snapshots of a portfolio, newest first.
func (c *Core) RiskHistory(ctx context.Context, portfolioID string, limit int) ([]store.RiskRecord, error) {
	if c.store == nil {
		return nil, qerrors.NewDataError("risk_snapshots", portfolioID, "no store configured", qerrors.ErrDataUnavailable)
	}
	return c.store.GetRiskSnapshots(ctx, portfolioID, limit)
}

// symbolReturns converts closes into simple returns over the whole series.
// With a benchmark it also returns both series restricted to the timestamps
// they share, so the relative returns line up bar for bar.
func symbolReturns(bars, bench []models.PriceBar) ([]float64, *analytics.BenchmarkOverlap, error) {
	returns, err := models.ReturnsFromValues(models.Closes(bars))
	if err != nil || bench == nil {
		return returns, nil, err
	}
	benchClose := make(map[int64]float64, len(bench))
	for _, b := range bench {
		benchClose[b.Timestamp.Unix()] = b.Close
	}
	var own, other []float64
	for _, b := range bars {
		if v, ok := benchClose[b.Timestamp.Unix()]; ok {
			own = append(own, b.Close)
			other = append(other, v)
		}
	}
	ownReturns, err := models.ReturnsFromValues(own)
	if err != nil {
		return nil, nil, err
	}
	benchReturns, err := models.ReturnsFromValues(other)
	if err != nil {
		return nil, nil, err
	}
	return returns, &analytics.BenchmarkOverlap{Portfolio: ownReturns, Benchmark: benchReturns}, nil
}

func tradingDays(o analytics.RiskOptions) int {
	if o.TradingDays <= 0 {
		return stats.TradingDaysPerYear
	}
	return o.TradingDays
}
