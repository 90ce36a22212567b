package analytics

import (
	"fmt"
	"math"
	"time"

	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/stats"
)

// Volatility returns the annualized standard deviation of daily returns.
func Volatility(returns []float64) (float64, error) {
	if len(returns) < 2 {
		return 0, fmt.Errorf("volatility needs 2 returns, got %d: %w", len(returns), qerrors.ErrInsufficientData)
	}
	return stats.Annualize(stats.StdDev(returns)), nil
}

// ValueAtRisk returns the historical loss at confidence for a position of
// currentValue. It reads the return at percentile (1 - confidence) and
// reports its loss side, so a gain at that percentile is a VaR of zero.
func ValueAtRisk(returns []float64, confidence, currentValue float64) (float64, error) {
	if len(returns) < 2 {
		return 0, fmt.Errorf("VaR needs 2 returns, got %d: %w", len(returns), qerrors.ErrInsufficientData)
	}
	if confidence <= 0 || confidence >= 1 {
		return 0, qerrors.NewValidationError("confidence", confidence, "must be in (0, 1)")
	}
	r, err := stats.Percentile(stats.Sorted(returns), 1-confidence)
	if err != nil {
		return 0, err
	}
	return currentValue * math.Max(0, -r), nil
}

// Sharpe returns (mean - riskFree) / stdDev for per-period returns.
func Sharpe(returns []float64, riskFree float64) (float64, error) {
	if len(returns) < 2 {
		return 0, fmt.Errorf("sharpe needs 2 returns, got %d: %w", len(returns), qerrors.ErrInsufficientData)
	}
	sd := stats.StdDev(returns)
	if sd == 0 {
		return 0, fmt.Errorf("sharpe with zero dispersion: %w", qerrors.ErrUndefined)
	}
	return (stats.Mean(returns) - riskFree) / sd, nil
}

// Sortino returns (mean - riskFree) / downside deviation below riskFree.
func Sortino(returns []float64, riskFree float64) (float64, error) {
	if len(returns) < 2 {
		return 0, fmt.Errorf("sortino needs 2 returns, got %d: %w", len(returns), qerrors.ErrInsufficientData)
	}
	dd := stats.DownsideDeviation(returns, riskFree)
	if dd == 0 {
		return 0, fmt.Errorf("sortino without downside: %w", qerrors.ErrUndefined)
	}
	return (stats.Mean(returns) - riskFree) / dd, nil
}

// Drawdown describes the deepest peak-to-trough decline of a series.
type Drawdown struct {
	Depth        float64 // positive fraction of the peak
	DurationBars int     // bars from the peak to the trough
	PeakIndex    int
	TroughIndex  int
}

// MaxDrawdown compounds returns into a value index and finds its deepest
// decline. Index 0 is the starting value before the first return.
func MaxDrawdown(returns []float64) (Drawdown, error) {
	if len(returns) == 0 {
		return Drawdown{}, fmt.Errorf("max drawdown of empty series: %w", qerrors.ErrInsufficientData)
	}
	values := make([]float64, len(returns)+1)
	values[0] = 1
	for i, r := range returns {
		values[i+1] = values[i] * (1 + r)
	}
	return MaxDrawdownOfValues(values)
}

// MaxDrawdownOfValues runs a single forward pass over a value series.
func MaxDrawdownOfValues(values []float64) (Drawdown, error) {
	if len(values) == 0 {
		return Drawdown{}, fmt.Errorf("max drawdown of empty series: %w", qerrors.ErrInsufficientData)
	}
	var dd Drawdown
	peak, peakIdx := values[0], 0
	for i, v := range values {
		if v > peak {
			peak, peakIdx = v, i
		}
		if peak <= 0 {
			continue
		}
		if depth := (peak - v) / peak; depth > dd.Depth {
			dd = Drawdown{Depth: depth, DurationBars: i - peakIdx, PeakIndex: peakIdx, TroughIndex: i}
		}
	}
	return dd, nil
}

// BetaAlpha returns the CAPM beta and alpha of returns against benchmark.
func BetaAlpha(returns, benchmark []float64, riskFree float64) (beta, alpha float64, err error) {
	cov, err := stats.Covariance(returns, benchmark)
	if err != nil {
		return 0, 0, err
	}
	v := stats.Variance(benchmark)
	if v == 0 {
		return 0, 0, fmt.Errorf("beta against constant benchmark: %w", qerrors.ErrUndefined)
	}
	beta = cov / v
	alpha = stats.Mean(returns) - (riskFree + beta*(stats.Mean(benchmark)-riskFree))
	return beta, alpha, nil
}

// TrackingError returns stdDev(returns - benchmark).
func TrackingError(returns, benchmark []float64) (float64, error) {
	diff, err := stats.Diff(returns, benchmark)
	if err != nil {
		return 0, err
	}
	if len(diff) < 2 {
		return 0, fmt.Errorf("tracking error needs 2 returns, got %d: %w", len(diff), qerrors.ErrInsufficientData)
	}
	return stats.StdDev(diff), nil
}

// CAGR returns (end/start)^(1/years) - 1.
func CAGR(start, end, years float64) (float64, error) {
	if start <= 0 || end < 0 {
		return 0, fmt.Errorf("CAGR from %g to %g: %w", start, end, qerrors.ErrUndefined)
	}
	if years <= 0 {
		return 0, fmt.Errorf("CAGR over %g years: %w", years, qerrors.ErrInsufficientData)
	}
	return math.Pow(end/start, 1/years) - 1, nil
}

// RiskOptions parameterise a risk snapshot.
type RiskOptions struct {
	RiskFreeRate float64 // annual
	TradingDays  int
	AsOf         time.Time
}

// DefaultRiskOptions returns a 252-day year with a zero risk-free rate.
func DefaultRiskOptions() RiskOptions {
	return RiskOptions{TradingDays: stats.TradingDaysPerYear}
}

func (o RiskOptions) dailyRiskFree() float64 {
	return o.RiskFreeRate / float64(tradingDays(o))
}

// RiskSnapshot is a point-in-time set of risk statistics. Fields that
// could not be computed are marked unavailable.
type RiskSnapshot struct {
	AsOf                  time.Time `json:"as_of"`
	Observations          int       `json:"observations"`
	// BenchmarkObservations counts the returns the relative metrics use.
	BenchmarkObservations int       `json:"benchmark_observations,omitempty"`
	CurrentValue          float64   `json:"current_value"`
	Volatility            Metric    `json:"volatility"`
	VaR95                 Metric    `json:"var_95"`
	VaR99                 Metric    `json:"var_99"`
	Sharpe                Metric    `json:"sharpe"`
	AnnualizedSharpe      Metric    `json:"annualized_sharpe"`
	Sortino               Metric    `json:"sortino"`
	MaxDrawdown           Metric    `json:"max_drawdown"`
	MaxDrawdownDuration   int       `json:"max_drawdown_duration"`
	Beta                  Metric    `json:"beta"`
	Alpha                 Metric    `json:"alpha"`
	Correlation           Metric    `json:"correlation"`
	TrackingError         Metric    `json:"tracking_error"`
}

// Partial reports whether any metric is unavailable.
func (s RiskSnapshot) Partial() bool {
	for _, m := range []Metric{s.Volatility, s.VaR95, s.VaR99, s.Sharpe, s.AnnualizedSharpe, s.Sortino,
		s.MaxDrawdown, s.Beta, s.Alpha, s.Correlation, s.TrackingError} {
		if !m.Available {
			return true
		}
	}
	return false
}

// ComputeRiskSnapshot derives every risk statistic from daily returns.
// benchmark may be nil; when given it must match returns in length.
func ComputeRiskSnapshot(returns, benchmark []float64, currentValue float64, opts RiskOptions) (RiskSnapshot, error) {
	if benchmark == nil {
		return ComputeRiskSnapshotWithBenchmark(returns, nil, currentValue, opts)
	}
	return ComputeRiskSnapshotWithBenchmark(returns, &BenchmarkOverlap{Portfolio: returns, Benchmark: benchmark}, currentValue, opts)
}

// BenchmarkOverlap holds the portfolio and benchmark returns over the
// periods both series cover, index for index.
type BenchmarkOverlap struct {
	Portfolio []float64
	Benchmark []float64
}

// ComputeRiskSnapshotWithBenchmark derives the absolute statistics from the
// full return series and the benchmark-relative ones from overlap, which may
// be shorter. A nil overlap or one with fewer than 2 returns leaves beta,
// alpha, correlation and tracking error unavailable.
func ComputeRiskSnapshotWithBenchmark(returns []float64, overlap *BenchmarkOverlap, currentValue float64, opts RiskOptions) (RiskSnapshot, error) {
	if overlap != nil && len(overlap.Benchmark) != len(overlap.Portfolio) {
		return RiskSnapshot{}, fmt.Errorf("benchmark has %d returns, portfolio %d: %w",
			len(overlap.Benchmark), len(overlap.Portfolio), qerrors.ErrMismatchedSeriesLength)
	}
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	rf := opts.dailyRiskFree()

	snap := RiskSnapshot{AsOf: asOf, Observations: len(returns), CurrentValue: currentValue}
	snap.Volatility = FromResult(Volatility(returns))
	snap.VaR95 = FromResult(ValueAtRisk(returns, 0.95, currentValue))
	snap.VaR99 = FromResult(ValueAtRisk(returns, 0.99, currentValue))

	sharpe, err := Sharpe(returns, rf)
	snap.Sharpe = FromResult(sharpe, err)
	if err == nil {
		snap.AnnualizedSharpe = Of(sharpe * math.Sqrt(float64(tradingDays(opts))))
	} else {
		snap.AnnualizedSharpe = Unavailable(err.Error())
	}
	snap.Sortino = FromResult(Sortino(returns, rf))

	if dd, err := MaxDrawdown(returns); err != nil {
		snap.MaxDrawdown = Unavailable(err.Error())
	} else {
		snap.MaxDrawdown = Of(dd.Depth)
		snap.MaxDrawdownDuration = dd.DurationBars
	}

	var reason string
	switch {
	case overlap == nil:
		reason = "no benchmark series"
	case len(overlap.Portfolio) < 2:
		reason = fmt.Sprintf("benchmark overlaps %d returns, need 2", len(overlap.Portfolio))
	}
	if reason != "" {
		snap.Beta, snap.Alpha = Unavailable(reason), Unavailable(reason)
		snap.Correlation, snap.TrackingError = Unavailable(reason), Unavailable(reason)
		return snap, nil
	}
	snap.BenchmarkObservations = len(overlap.Portfolio)
	own, bench := overlap.Portfolio, overlap.Benchmark
	if beta, alpha, err := BetaAlpha(own, bench, rf); err != nil {
		snap.Beta, snap.Alpha = Unavailable(err.Error()), Unavailable(err.Error())
	} else {
		snap.Beta, snap.Alpha = Of(beta), Of(alpha)
	}
	snap.Correlation = FromResult(stats.Correlation(own, bench))
	snap.TrackingError = FromResult(TrackingError(own, bench))
	return snap, nil
}

func tradingDays(o RiskOptions) int {
	if o.TradingDays <= 0 {
		return stats.TradingDaysPerYear
	}
	return o.TradingDays
}
