// Package backtest replays historical bars through a signal source and
// produces a trade ledger with equity and drawdown curves.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/models"
)

// SignalSource decides the action for the latest bar of a window.
type SignalSource interface {
	Evaluate(ctx context.Context, window []models.PriceBar) (models.Signal, error)
}

// SignalFunc adapts a function to SignalSource.
type SignalFunc func(ctx context.Context, window []models.PriceBar) (models.Signal, error)

// Evaluate calls f.
func (f SignalFunc) Evaluate(ctx context.Context, window []models.PriceBar) (models.Signal, error) {
	return f(ctx, window)
}

// ProgressFunc receives the completed fraction of the replay in [0, 100].
type ProgressFunc func(pct float64)

// Config holds backtest configuration.
type Config struct {
	Symbol           string
	InitialCapital   decimal.Decimal
	CommissionRate   decimal.Decimal
	SlippageRate     decimal.Decimal
	PositionFraction decimal.Decimal
	SampleEvery      int
	CloseAtEnd       bool
	WarmupBars       int
	StartDate        time.Time
	EndDate          time.Time
}

// DefaultConfig returns a configuration with the standard sizing policy.
func DefaultConfig() Config {
	return Config{
		InitialCapital:   decimal.NewFromInt(100000),
		CommissionRate:   decimal.NewFromFloat(0.001),
		SlippageRate:     decimal.NewFromFloat(0.0005),
		PositionFraction: decimal.NewFromFloat(0.10),
		SampleEvery:      1,
		CloseAtEnd:       true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.InitialCapital.IsPositive() {
		return qerrors.NewValidationError("initial_capital", c.InitialCapital.String(), "must be positive")
	}
	if c.CommissionRate.IsNegative() {
		return qerrors.NewValidationError("commission_rate", c.CommissionRate.String(), "must be non-negative")
	}
	if c.SlippageRate.IsNegative() {
		return qerrors.NewValidationError("slippage_rate", c.SlippageRate.String(), "must be non-negative")
	}
	if !c.PositionFraction.IsPositive() || c.PositionFraction.GreaterThan(decimal.NewFromInt(1)) {
		return qerrors.NewValidationError("position_fraction", c.PositionFraction.String(), "must be in (0, 1]")
	}
	if !c.StartDate.IsZero() && !c.EndDate.IsZero() && c.EndDate.Before(c.StartDate) {
		return qerrors.NewValidationError("end_date", c.EndDate, "must not be before start date")
	}
	return nil
}

// Result is the output of one replay. On failure it holds whatever was
// recorded before the error.
type Result struct {
	Symbol        string                  `json:"symbol"`
	Trades        []models.SimulatedTrade `json:"trades"`
	EquityCurve   []models.EquityPoint    `json:"equity_curve"`
	DrawdownCurve []models.DrawdownPoint  `json:"drawdown_curve"`
	Summary       Summary                 `json:"summary"`
	BarsProcessed int                     `json:"bars_processed"`
	BarsTotal     int                     `json:"bars_total"`
}

// OpenTrade returns the trade still open at the end of the replay, if any.
func (r *Result) OpenTrade() *models.SimulatedTrade {
	if n := len(r.Trades); n > 0 && r.Trades[n-1].IsOpen() {
		return &r.Trades[n-1]
	}
	return nil
}

// ClosedTrades returns trades with exit fields populated.
func (r *Result) ClosedTrades() []models.SimulatedTrade {
	out := make([]models.SimulatedTrade, 0, len(r.Trades))
	for _, t := range r.Trades {
		if !t.IsOpen() {
			out = append(out, t)
		}
	}
	return out
}

// Engine runs backtests. It keeps no state between runs.
type Engine struct {
	logger zerolog.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger}
}

// state holds the state during one replay.
type state struct {
	cash        decimal.Decimal
	peak        decimal.Decimal
	maxDrawdown float64
	trades      []models.SimulatedTrade
	open        int // index into trades, -1 when flat
}

func (st *state) position() *models.SimulatedTrade {
	if st.open < 0 {
		return nil
	}
	return &st.trades[st.open]
}

// Run replays bars through source. Empty input fails with
// ErrInsufficientData. A signal error, a panic or cancellation stops the
// replay and the partial result is returned together with the error.
func (e *Engine) Run(ctx context.Context, bars []models.PriceBar, cfg Config, source SignalSource, progress ProgressFunc) (res *Result, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bars = clip(bars, cfg.StartDate, cfg.EndDate)
	if err := models.ValidateBars(bars); err != nil {
		return nil, err
	}
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = 1
	}

	res = &Result{
		Symbol:    cfg.Symbol,
		BarsTotal: len(bars),
	}
	st := &state{cash: cfg.InitialCapital, peak: cfg.InitialCapital, open: -1}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backtest panicked at bar %d: %v", res.BarsProcessed, r)
		}
		res.Trades = st.trades
		res.Summary = summarize(res, cfg, st)
		if err != nil {
			e.logger.Warn().Err(err).Str("symbol", cfg.Symbol).Int("bars", res.BarsProcessed).Msg("Backtest stopped early")
			return
		}
		e.logger.Debug().
			Str("symbol", cfg.Symbol).
			Int("bars", len(bars)).
			Int("trades", res.Summary.TotalTrades).
			Str("final_capital", res.Summary.FinalCapital.StringFixed(2)).
			Dur("duration", time.Since(start)).
			Msg("Backtest completed")
	}()

	last := len(bars) - 1
	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if i >= cfg.WarmupBars {
			signal, err := source.Evaluate(ctx, bars[:i+1])
			if err != nil {
				return res, fmt.Errorf("evaluating signal at bar %d: %w", i, err)
			}
			e.processSignal(st, signal, bar, cfg)
		}

		equity := markToMarket(st, bar)
		dd := st.observe(equity)
		if i%cfg.SampleEvery == 0 || i == last {
			res.EquityCurve = append(res.EquityCurve, models.EquityPoint{Timestamp: bar.Timestamp, Equity: equity})
			res.DrawdownCurve = append(res.DrawdownCurve, models.DrawdownPoint{Timestamp: bar.Timestamp, Drawdown: dd})
		}

		res.BarsProcessed = i + 1
		if progress != nil {
			progress(float64(i+1) / float64(len(bars)) * 100)
		}
	}

	if st.open >= 0 && cfg.CloseAtEnd {
		e.closePosition(st, bars[last], cfg, "end_of_data")

		// the final sample reflects the realized capital
		equity := st.cash
		dd := st.observe(equity)
		res.EquityCurve[len(res.EquityCurve)-1].Equity = equity
		res.DrawdownCurve[len(res.DrawdownCurve)-1].Drawdown = dd
	}

	return res, nil
}

// processSignal opens a position on BUY when flat and closes it on SELL.
func (e *Engine) processSignal(st *state, signal models.Signal, bar models.PriceBar, cfg Config) {
	switch signal {
	case models.SignalBuy:
		if st.open >= 0 || bar.Close <= 0 {
			return
		}
		price := decimal.NewFromFloat(bar.Close)
		qty := cfg.PositionFraction.Mul(markToMarket(st, bar)).Div(price)
		if !qty.IsPositive() {
			return
		}
		st.trades = append(st.trades, models.SimulatedTrade{
			TradeNumber: len(st.trades) + 1,
			Signal:      signal,
			EntryTime:   bar.Timestamp,
			EntryPrice:  price,
			Quantity:    qty,
		})
		st.open = len(st.trades) - 1
		e.logger.Debug().Int("trade", len(st.trades)).Str("qty", qty.String()).Float64("price", bar.Close).Msg("Position opened")

	case models.SignalSell:
		if st.open >= 0 {
			e.closePosition(st, bar, cfg, "signal")
		}
	}
}

// closePosition completes the open trade at the bar's close.
func (e *Engine) closePosition(st *state, bar models.PriceBar, cfg Config, reason string) {
	t := st.position()
	exit := decimal.NewFromFloat(bar.Close)
	exitTime := bar.Timestamp
	notional := t.Quantity.Mul(exit)

	t.ExitTime = &exitTime
	t.ExitPrice = &exit
	t.GrossPnl = t.Quantity.Mul(exit.Sub(t.EntryPrice))
	t.Commission = notional.Mul(cfg.CommissionRate)
	t.SlippageCost = notional.Mul(cfg.SlippageRate)
	t.NetPnl = t.GrossPnl.Sub(t.Commission).Sub(t.SlippageCost)
	t.DurationMinutes = int64(exitTime.Sub(t.EntryTime).Minutes())
	t.ExitReason = reason

	st.cash = st.cash.Add(t.NetPnl)
	st.open = -1
	e.logger.Debug().Int("trade", t.TradeNumber).Str("net_pnl", t.NetPnl.StringFixed(2)).Str("reason", reason).Msg("Position closed")
}

// markToMarket returns cash plus the unrealized P&L of any open position.
func markToMarket(st *state, bar models.PriceBar) decimal.Decimal {
	t := st.position()
	if t == nil {
		return st.cash
	}
	return st.cash.Add(t.UnrealizedPnl(decimal.NewFromFloat(bar.Close)))
}

// observe updates the running peak and returns the drawdown at equity as a
// non-positive fraction.
func (st *state) observe(equity decimal.Decimal) float64 {
	if equity.GreaterThan(st.peak) {
		st.peak = equity
	}
	if !st.peak.IsPositive() {
		return 0
	}
	dd := st.peak.Sub(equity).Div(st.peak).InexactFloat64()
	if dd <= 0 {
		return 0
	}
	if dd > st.maxDrawdown {
		st.maxDrawdown = dd
	}
	return -dd
}

// clip keeps bars within [start, end]; zero bounds are open.
func clip(bars []models.PriceBar, start, end time.Time) []models.PriceBar {
	if start.IsZero() && end.IsZero() {
		return bars
	}
	out := make([]models.PriceBar, 0, len(bars))
	for _, b := range bars {
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
