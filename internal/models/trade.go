package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	qerrors "quantcrux/internal/errors"
)

// SimulatedTrade is one position opened by the backtest loop.
// Exit fields stay nil while the position is open.
type SimulatedTrade struct {
	TradeNumber     int              `json:"trade_number"`
	Signal          Signal           `json:"signal"`
	EntryTime       time.Time        `json:"entry_time"`
	EntryPrice      decimal.Decimal  `json:"entry_price"`
	ExitTime        *time.Time       `json:"exit_time,omitempty"`
	ExitPrice       *decimal.Decimal `json:"exit_price,omitempty"`
	Quantity        decimal.Decimal  `json:"quantity"`
	GrossPnl        decimal.Decimal  `json:"gross_pnl"`
	NetPnl          decimal.Decimal  `json:"net_pnl"`
	Commission      decimal.Decimal  `json:"commission"`
	SlippageCost    decimal.Decimal  `json:"slippage_cost"`
	DurationMinutes int64            `json:"duration_minutes"`
	ExitReason      string           `json:"exit_reason,omitempty"`
}

// IsOpen reports whether the trade has no exit yet.
func (t SimulatedTrade) IsOpen() bool {
	return t.ExitTime == nil
}

// UnrealizedPnl marks an open trade at price.
func (t SimulatedTrade) UnrealizedPnl(price decimal.Decimal) decimal.Decimal {
	if !t.IsOpen() {
		return decimal.Zero
	}
	return t.Quantity.Mul(price.Sub(t.EntryPrice))
}

// EquityPoint is the mark-to-market equity at a bar.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// DrawdownPoint is the fractional drawdown at a bar. Always <= 0.
type DrawdownPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Drawdown  float64   `json:"drawdown"`
}

// ReturnsFromValues converts a value series (NAV, equity) into
// period-over-period fractional returns; out[i-1] is the return from
// values[i-1] to values[i]. A period starting from a non-positive value has
// no defined return and fails the whole series.
func ReturnsFromValues(values []float64) ([]float64, error) {
	if len(values) < 2 {
		return nil, nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if !(values[i-1] > 0) {
			return nil, fmt.Errorf("return from value %v at index %d: %w", values[i-1], i-1, qerrors.ErrUndefined)
		}
		out[i-1] = (values[i] - values[i-1]) / values[i-1]
	}
	return out, nil
}

// EquityValues extracts equity as float64 for statistical use.
func EquityValues(points []EquityPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Equity.InexactFloat64()
	}
	return out
}
