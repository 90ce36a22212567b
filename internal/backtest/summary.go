package backtest

import (
	"github.com/shopspring/decimal"

	"quantcrux/internal/analytics"
)

// Summary holds the aggregate metrics of a replay.
type Summary struct {
	TotalTrades    int              `json:"total_trades"`
	WinningTrades  int              `json:"winning_trades"`
	LosingTrades   int              `json:"losing_trades"`
	OpenTrades     int              `json:"open_trades"`
	WinRate        analytics.Metric `json:"win_rate"`
	InitialCapital decimal.Decimal  `json:"initial_capital"`
	FinalCapital   decimal.Decimal  `json:"final_capital"`
	NetPnl         decimal.Decimal  `json:"net_pnl"`
	TotalReturn    float64          `json:"total_return"`
	CAGR           analytics.Metric `json:"cagr"`
	ProfitFactor   analytics.Metric `json:"profit_factor"`
	AvgWin         decimal.Decimal  `json:"avg_win"`
	AvgLoss        decimal.Decimal  `json:"avg_loss"`
	MaxDrawdown    float64          `json:"max_drawdown"` // positive fraction of peak equity
	SharpeRatio    analytics.Metric `json:"sharpe_ratio"`
}

// summarize derives the summary from recorded trades and curves. Final
// capital is the last marked equity, so an open trade counts at its
// mark-to-market value.
func summarize(res *Result, cfg Config, st *state) Summary {
	tally := analytics.TallyTrades(res.Trades)
	perf := analytics.ComputePerformanceSnapshot(res.EquityCurve, res.Trades, analytics.DefaultRiskOptions())

	final := cfg.InitialCapital
	if n := len(res.EquityCurve); n > 0 {
		final = res.EquityCurve[n-1].Equity
	}

	s := Summary{
		TotalTrades:    tally.Closed,
		WinningTrades:  tally.Winning,
		LosingTrades:   tally.Losing,
		OpenTrades:     len(res.Trades) - tally.Closed,
		WinRate:        perf.WinRate,
		InitialCapital: cfg.InitialCapital,
		FinalCapital:   final,
		NetPnl:         tally.NetPnl,
		TotalReturn:    final.Sub(cfg.InitialCapital).Div(cfg.InitialCapital).InexactFloat64(),
		ProfitFactor:   perf.ProfitFactor,
		AvgWin:         tally.AvgWin(),
		AvgLoss:        tally.AvgLoss(),
		MaxDrawdown:    st.maxDrawdown,
		SharpeRatio:    perf.Sharpe,
	}

	if n := len(res.EquityCurve); n > 1 {
		years := res.EquityCurve[n-1].Timestamp.Sub(res.EquityCurve[0].Timestamp).Hours() / 24 / 365
		s.CAGR = analytics.FromResult(analytics.CAGR(cfg.InitialCapital.InexactFloat64(), final.InexactFloat64(), years))
	} else {
		s.CAGR = analytics.Unavailable("replay shorter than two bars")
	}
	return s
}
