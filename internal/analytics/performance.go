package analytics

import (
	"math"

	"github.com/shopspring/decimal"

	"quantcrux/internal/models"
)

// PerformanceSnapshot summarises an equity curve and its trade ledger.
type PerformanceSnapshot struct {
	TotalReturn  Metric `json:"total_return"`
	CAGR         Metric `json:"cagr"`
	WinRate      Metric `json:"win_rate"`
	ProfitFactor Metric `json:"profit_factor"`
	Sharpe       Metric `json:"sharpe"`
	MaxDrawdown  Metric `json:"max_drawdown"`
}

// ComputePerformanceSnapshot derives performance statistics. Only closed
// trades count towards win rate and profit factor.
func ComputePerformanceSnapshot(equity []models.EquityPoint, trades []models.SimulatedTrade, opts RiskOptions) PerformanceSnapshot {
	var snap PerformanceSnapshot

	values := models.EquityValues(equity)
	if len(values) < 2 || values[0] <= 0 {
		snap.TotalReturn = Unavailable("equity curve too short")
		snap.CAGR = Unavailable("equity curve too short")
	} else {
		first, last := values[0], values[len(values)-1]
		snap.TotalReturn = Of((last - first) / first)
		years := equity[len(equity)-1].Timestamp.Sub(equity[0].Timestamp).Hours() / 24 / 365
		snap.CAGR = FromResult(CAGR(first, last, years))
	}

	if s, err := annualizedSharpe(values, opts); err != nil {
		snap.Sharpe = Unavailable(err.Error())
	} else {
		snap.Sharpe = Of(s)
	}
	if dd, err := MaxDrawdownOfValues(values); err != nil {
		snap.MaxDrawdown = Unavailable(err.Error())
	} else {
		snap.MaxDrawdown = Of(dd.Depth)
	}

	tally := TallyTrades(trades)
	if tally.Closed == 0 {
		snap.WinRate = Unavailable("no closed trades")
		snap.ProfitFactor = Unavailable("no closed trades")
		return snap
	}
	snap.WinRate = Of(float64(tally.Winning) / float64(tally.Closed))
	if tally.GrossLoss.IsZero() {
		snap.ProfitFactor = Unavailable("no losing trades")
	} else {
		snap.ProfitFactor = Of(tally.GrossProfit.Div(tally.GrossLoss).InexactFloat64())
	}
	return snap
}

// TradeStats aggregates the net P&L of closed trades.
type TradeStats struct {
	Closed      int
	Winning     int
	Losing      int
	GrossProfit decimal.Decimal // sum of winning net P&L
	GrossLoss   decimal.Decimal // sum of losing net P&L, as a positive amount
	NetPnl      decimal.Decimal
}

// AvgWin returns the mean winning net P&L, or zero without winners.
func (s TradeStats) AvgWin() decimal.Decimal {
	if s.Winning == 0 {
		return decimal.Zero
	}
	return s.GrossProfit.Div(decimal.NewFromInt(int64(s.Winning)))
}

// AvgLoss returns the mean losing net P&L as a negative amount.
func (s TradeStats) AvgLoss() decimal.Decimal {
	if s.Losing == 0 {
		return decimal.Zero
	}
	return s.GrossLoss.Neg().Div(decimal.NewFromInt(int64(s.Losing)))
}

// TallyTrades counts closed trades by outcome. Break-even trades count as
// neither winning nor losing.
func TallyTrades(trades []models.SimulatedTrade) TradeStats {
	s := TradeStats{GrossProfit: decimal.Zero, GrossLoss: decimal.Zero, NetPnl: decimal.Zero}
	for _, t := range trades {
		if t.IsOpen() {
			continue
		}
		s.Closed++
		s.NetPnl = s.NetPnl.Add(t.NetPnl)
		switch {
		case t.NetPnl.IsPositive():
			s.Winning++
			s.GrossProfit = s.GrossProfit.Add(t.NetPnl)
		case t.NetPnl.IsNegative():
			s.Losing++
			s.GrossLoss = s.GrossLoss.Add(t.NetPnl.Neg())
		}
	}
	return s
}

func annualizedSharpe(values []float64, opts RiskOptions) (float64, error) {
	returns, err := models.ReturnsFromValues(values)
	if err != nil {
		return 0, err
	}
	s, err := Sharpe(returns, opts.dailyRiskFree())
	if err != nil {
		return 0, err
	}
	return s * math.Sqrt(float64(tradingDays(opts))), nil
}
