package indicators

import (
	"errors"

	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/models"
	"quantcrux/internal/stats"
)

var (
	// ErrInsufficientData is returned when there's not enough data for calculation.
	ErrInsufficientData = qerrors.ErrInsufficientData
	// ErrInvalidPeriod is returned when the period is invalid.
	ErrInvalidPeriod = errors.New("invalid period")
)

// Indicator defines the interface for single-value technical indicators.
type Indicator interface {
	Name() string
	Calculate(bars []models.PriceBar) ([]float64, error)
	Period() int
}

// MultiValueIndicator defines the interface for indicators that return multiple values.
type MultiValueIndicator interface {
	Name() string
	Calculate(bars []models.PriceBar) (map[string][]float64, error)
	Period() int
}

func mean(values []float64) float64 {
	return stats.Mean(values)
}

func stdDev(values []float64) float64 {
	return stats.StdDev(values)
}

// closePrices extracts close prices from bars.
func closePrices(bars []models.PriceBar) []float64 {
	return models.Closes(bars)
}

// Last returns the final value of an indicator series.
func Last(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}
