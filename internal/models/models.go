// Package models provides domain models for the simulation and analytics core.
package models

import (
	"fmt"
	"time"

	qerrors "quantcrux/internal/errors"
)

// Timeframe identifies the bar interval of a series.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1min"
	Timeframe5Min  Timeframe = "5min"
	Timeframe15Min Timeframe = "15min"
	Timeframe1Hour Timeframe = "1hour"
	Timeframe1Day  Timeframe = "1day"
)

// Duration returns the nominal length of one bar.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1Min:
		return time.Minute
	case Timeframe5Min:
		return 5 * time.Minute
	case Timeframe15Min:
		return 15 * time.Minute
	case Timeframe1Hour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Signal represents a strategy decision for a single bar.
type Signal string

const (
	SignalBuy      Signal = "BUY"
	SignalSell     Signal = "SELL"
	SignalHold     Signal = "HOLD"
	SignalNoSignal Signal = "NO_SIGNAL"
)

// PriceBar represents OHLCV data for one symbol/timeframe period.
type PriceBar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Quote represents the latest market price of a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidateBars checks that a bar series is non-empty and strictly ascending
// in time with no duplicate timestamps.
func ValidateBars(bars []PriceBar) error {
	if len(bars) == 0 {
		return fmt.Errorf("empty bar series: %w", qerrors.ErrInsufficientData)
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("bar %d at %s not after %s: %w",
				i, bars[i].Timestamp.Format(time.RFC3339), bars[i-1].Timestamp.Format(time.RFC3339), qerrors.ErrUnorderedBars)
		}
	}
	return nil
}

// Closes extracts the close prices of a bar series.
func Closes(bars []PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
