package indicators

import (
	"fmt"
	"math"

	"quantcrux/internal/models"
)

// BollingerBands calculates Bollinger Bands.
type BollingerBands struct {
	period    int
	stdDevMul float64
}

// NewBollingerBands creates a new Bollinger Bands indicator.
func NewBollingerBands(period int, stdDevMul float64) *BollingerBands {
	return &BollingerBands{
		period:    period,
		stdDevMul: stdDevMul,
	}
}

func (b *BollingerBands) Name() string {
	return fmt.Sprintf("BB_%d_%.1f", b.period, b.stdDevMul)
}

func (b *BollingerBands) Period() int {
	return b.period
}

// Calculate returns the "middle", "upper", "lower" and "percent_b" series.
func (b *BollingerBands) Calculate(bars []models.PriceBar) (map[string][]float64, error) {
	if b.period <= 0 || b.stdDevMul <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(bars) < b.period {
		return nil, ErrInsufficientData
	}

	n := len(bars)
	closes := closePrices(bars)
	middle := make([]float64, n)
	upper := make([]float64, n)
	lower := make([]float64, n)
	percentB := make([]float64, n)

	for i := b.period - 1; i < n; i++ {
		window := closes[i-b.period+1 : i+1]
		sma := mean(window)
		sd := stdDev(window)

		middle[i] = sma
		upper[i] = sma + b.stdDevMul*sd
		lower[i] = sma - b.stdDevMul*sd
		if width := upper[i] - lower[i]; width != 0 {
			percentB[i] = (closes[i] - lower[i]) / width
		}
	}

	return map[string][]float64{
		"middle":    middle,
		"upper":     upper,
		"lower":     lower,
		"percent_b": percentB,
	}, nil
}

// HistoricalVolatility calculates the annualized rolling standard deviation
// of log returns, as a fraction.
type HistoricalVolatility struct {
	period      int
	tradingDays int
}

// NewHistoricalVolatility creates a new Historical Volatility indicator.
func NewHistoricalVolatility(period, tradingDays int) *HistoricalVolatility {
	return &HistoricalVolatility{
		period:      period,
		tradingDays: tradingDays,
	}
}

func (h *HistoricalVolatility) Name() string {
	return fmt.Sprintf("HistoricalVolatility_%d", h.period)
}

func (h *HistoricalVolatility) Period() int {
	return h.period
}

func (h *HistoricalVolatility) Calculate(bars []models.PriceBar) ([]float64, error) {
	if h.period <= 1 || h.tradingDays <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(bars) < h.period+1 {
		return nil, ErrInsufficientData
	}

	n := len(bars)
	result := make([]float64, n)
	closes := closePrices(bars)

	logReturns := make([]float64, n)
	for i := 1; i < n; i++ {
		if closes[i-1] > 0 && closes[i] > 0 {
			logReturns[i] = math.Log(closes[i] / closes[i-1])
		}
	}

	factor := math.Sqrt(float64(h.tradingDays))
	for i := h.period; i < n; i++ {
		result[i] = stdDev(logReturns[i-h.period+1:i+1]) * factor
	}
	return result, nil
}
