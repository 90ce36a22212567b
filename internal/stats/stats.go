// Package stats provides the descriptive statistics shared by the pricing,
// backtest and analytics engines.
package stats

import (
	"fmt"
	"math"
	"sort"

	qerrors "quantcrux/internal/errors"
)

// TradingDaysPerYear is the annualization factor for daily series.
const TradingDaysPerYear = 252

// Sum returns the sum of xs.
func Sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}

// Mean returns the arithmetic mean, or 0 for an empty series.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return Sum(xs) / float64(len(xs))
}

// Variance returns the population variance (divisor N).
func Variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	var acc float64
	for _, x := range xs {
		d := x - m
		acc += d * d
	}
	return acc / float64(len(xs))
}

// StdDev returns the population standard deviation.
func StdDev(xs []float64) float64 {
	return math.Sqrt(Variance(xs))
}

// Covariance returns the population covariance of two equal-length series.
func Covariance(xs, ys []float64) (float64, error) {
	if len(xs) != len(ys) {
		return 0, fmt.Errorf("covariance of %d and %d points: %w", len(xs), len(ys), qerrors.ErrMismatchedSeriesLength)
	}
	if len(xs) == 0 {
		return 0, fmt.Errorf("covariance of empty series: %w", qerrors.ErrInsufficientData)
	}
	mx, my := Mean(xs), Mean(ys)
	var acc float64
	for i := range xs {
		acc += (xs[i] - mx) * (ys[i] - my)
	}
	return acc / float64(len(xs)), nil
}

// Correlation returns the Pearson correlation of two series.
// When either series has zero dispersion the result is 0 with ErrUndefined.
func Correlation(xs, ys []float64) (float64, error) {
	cov, err := Covariance(xs, ys)
	if err != nil {
		return 0, err
	}
	sx, sy := StdDev(xs), StdDev(ys)
	if sx == 0 || sy == 0 {
		return 0, fmt.Errorf("correlation with constant series: %w", qerrors.ErrUndefined)
	}
	c := cov / (sx * sy)
	// clamp rounding drift
	return math.Max(-1, math.Min(1, c)), nil
}

// Percentile returns sorted[min(floor(p*n), n-1)]. The input must be sorted
// ascending; p is a fraction in [0, 1].
func Percentile(sorted []float64, p float64) (float64, error) {
	n := len(sorted)
	if n == 0 {
		return 0, fmt.Errorf("percentile of empty series: %w", qerrors.ErrInsufficientData)
	}
	idx := int(math.Floor(p * float64(n)))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx], nil
}

// Sorted returns an ascending copy of xs.
func Sorted(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	sort.Float64s(out)
	return out
}

// Annualize scales a daily volatility by sqrt(252).
func Annualize(dailyVol float64) float64 {
	return dailyVol * math.Sqrt(TradingDaysPerYear)
}

// Diff returns xs[i]-ys[i] for equal-length series.
func Diff(xs, ys []float64) ([]float64, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("diff of %d and %d points: %w", len(xs), len(ys), qerrors.ErrMismatchedSeriesLength)
	}
	out := make([]float64, len(xs))
	for i := range xs {
		out[i] = xs[i] - ys[i]
	}
	return out, nil
}

// DownsideDeviation returns sqrt(mean(min(0, x-threshold)^2)) over all points.
func DownsideDeviation(xs []float64, threshold float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var acc float64
	for _, x := range xs {
		if d := x - threshold; d < 0 {
			acc += d * d
		}
	}
	return math.Sqrt(acc / float64(len(xs)))
}

// Erf approximates the error function with Abramowitz-Stegun 7.1.26.
// Absolute error is below 1.5e-7.
func Erf(x float64) float64 {
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)
	sign := 1.0
	if x < 0 {
		sign = -1
		x = -x
	}
	t := 1 / (1 + p*x)
	y := 1 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)
	return sign * y
}

// NormCDF is the standard normal cumulative distribution.
func NormCDF(x float64) float64 {
	return 0.5 * (1 + Erf(x/math.Sqrt2))
}

// NormPDF is the standard normal density.
func NormPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
