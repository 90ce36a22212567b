package backtest

import (
	"fmt"
	"sort"
	"strings"
)

// EquityCurveASCII renders the equity curve as a width x height terminal chart.
func EquityCurveASCII(res *Result, width, height int) string {
	if res == nil || len(res.EquityCurve) == 0 || width <= 0 || height <= 0 {
		return "No data to display"
	}

	values := make([]float64, len(res.EquityCurve))
	lo, hi := res.EquityCurve[0].Equity.InexactFloat64(), res.EquityCurve[0].Equity.InexactFloat64()
	for i, p := range res.EquityCurve {
		v := p.Equity.InexactFloat64()
		values[i] = v
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	span := hi - lo
	if span == 0 {
		span = 1
	}
	lo -= span * 0.05
	hi += span * 0.05
	span = hi - lo

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	step := len(values) / width
	if step == 0 {
		step = 1
	}
	for x := 0; x < width && x*step < len(values); x++ {
		y := int((values[x*step] - lo) / span * float64(height-1))
		if y >= 0 && y < height {
			grid[height-1-y][x] = '█'
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Equity Curve (%.0f - %.0f)\n", lo, hi))
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	for _, row := range grid {
		sb.WriteRune('│')
		sb.WriteString(string(row))
		sb.WriteString("│\n")
	}
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	return sb.String()
}

// StrategyComparison is one row of a strategy comparison table.
type StrategyComparison struct {
	Strategy     string
	TotalReturn  float64
	CAGR         float64
	WinRate      float64
	MaxDrawdown  float64
	SharpeRatio  float64
	HasSharpe    bool
	TotalTrades  int
	ProfitFactor float64
}

// CompareStrategies ranks results by Sharpe ratio, descending. Results
// without a Sharpe ratio rank last, ties break by name.
func CompareStrategies(results map[string]*Result) []StrategyComparison {
	rows := make([]StrategyComparison, 0, len(results))
	for name, res := range results {
		if res == nil {
			continue
		}
		s := res.Summary
		rows = append(rows, StrategyComparison{
			Strategy:     name,
			TotalReturn:  s.TotalReturn,
			CAGR:         s.CAGR.Value,
			WinRate:      s.WinRate.Value,
			MaxDrawdown:  s.MaxDrawdown,
			SharpeRatio:  s.SharpeRatio.Value,
			HasSharpe:    s.SharpeRatio.Available,
			TotalTrades:  s.TotalTrades,
			ProfitFactor: s.ProfitFactor.Value,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.HasSharpe != b.HasSharpe {
			return a.HasSharpe
		}
		if a.SharpeRatio != b.SharpeRatio {
			return a.SharpeRatio > b.SharpeRatio
		}
		return a.Strategy < b.Strategy
	})
	return rows
}
