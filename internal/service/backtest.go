package service

import (
	"context"
	"errors"
	"time"

	"quantcrux/internal/analytics"
	"quantcrux/internal/backtest"
	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/jobs"
	"quantcrux/internal/logging"
	"quantcrux/internal/models"
	"quantcrux/internal/store"
)

// BacktestRequest describes one backtest submission.
type BacktestRequest struct {
	Symbol string
	Bars   []models.PriceBar
	Config backtest.Config
	// Strategy is a rule configuration understood by strategy.Evaluator.
	Strategy string
}

// BacktestStatus is the polled state of a backtest job.
type BacktestStatus struct {
	jobs.Snapshot
	// Backtest is the replay output. It is set for completed jobs and, when
	// the replay got that far, for failed and cancelled ones.
	Backtest *backtest.Result
}

// RunBacktest validates the request and schedules the replay. Invalid
// configuration or strategy fails immediately; data problems such as an
// empty bar series fail the job.
func (c *Core) RunBacktest(req BacktestRequest) (jobs.Handle, error) {
	if err := req.Config.Validate(); err != nil {
		return jobs.Handle{}, err
	}
	source, err := c.strategies.Compile(req.Strategy)
	if err != nil {
		return jobs.Handle{}, err
	}

	// The job id is only known after Submit, so it is handed to the body
	// through a buffered channel.
	ids := make(chan string, 1)
	submitted := c.now()
	handle, err := c.runner.Submit(KindBacktest, req.Symbol, func(ctx context.Context, progress func(float64)) (any, error) {
		id := <-ids
		logger := logging.WithSymbol(*logging.FromContext(ctx), req.Symbol)
		c.saveRun(id, req, string(jobs.StatusRunning), nil, nil, submitted)

		res, runErr := c.engine.Run(ctx, req.Bars, req.Config, source, progress)
		if res != nil {
			res.Symbol = req.Symbol
		}

		status := jobs.StatusCompleted
		switch {
		case runErr == nil:
		case errors.Is(runErr, context.Canceled) && ctx.Err() != nil:
			status = jobs.StatusCancelled
		default:
			status = jobs.StatusFailed
		}
		c.saveRun(id, req, string(status), res, runErr, submitted)

		var trades, bars int
		var ret float64
		if res != nil {
			trades, ret, bars = len(res.Trades), res.Summary.TotalReturn, res.BarsProcessed
		}
		logging.LogBacktest(logger, req.Symbol, bars, trades, ret, runErr)

		if res == nil {
			return nil, runErr
		}
		return res, runErr
	})
	if err != nil {
		return jobs.Handle{}, err
	}
	ids <- handle.ID
	return handle, nil
}

// RunBacktestForRange loads bars from market data and schedules a replay.
func (c *Core) RunBacktestForRange(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time, cfg backtest.Config, strategyJSON string) (jobs.Handle, error) {
	if err := c.requireData("backtest"); err != nil {
		return jobs.Handle{}, err
	}
	bars, err := c.data.GetBarSeries(ctx, symbol, tf, start, end)
	if err != nil {
		return jobs.Handle{}, err
	}
	return c.RunBacktest(BacktestRequest{Symbol: symbol, Bars: bars, Config: cfg, Strategy: strategyJSON})
}

// PollBacktest returns the current state of a backtest job.
func (c *Core) PollBacktest(id string) (BacktestStatus, error) {
	snap, err := c.poll(id, KindBacktest)
	if err != nil {
		return BacktestStatus{}, err
	}
	res, _ := snap.Result.(*backtest.Result)
	return BacktestStatus{Snapshot: snap, Backtest: res}, nil
}

// WaitBacktest blocks until the job finishes or ctx ends.
func (c *Core) WaitBacktest(ctx context.Context, id string) (BacktestStatus, error) {
	if _, err := c.poll(id, KindBacktest); err != nil {
		return BacktestStatus{}, err
	}
	if _, err := c.runner.Wait(ctx, id); err != nil {
		return BacktestStatus{}, err
	}
	return c.PollBacktest(id)
}

// LatestBacktest returns the most recently completed backtest of a symbol.
func (c *Core) LatestBacktest(symbol string) (*backtest.Result, bool) {
	snap, ok := c.runner.LatestCompleted(KindBacktest, symbol)
	if !ok {
		return nil, false
	}
	res, ok := snap.Result.(*backtest.Result)
	return res, ok
}

// Performance derives the performance snapshot of a backtest result.
func (c *Core) Performance(res *backtest.Result) (analytics.PerformanceSnapshot, error) {
	if res == nil || len(res.EquityCurve) == 0 {
		return analytics.PerformanceSnapshot{}, qerrors.Wrap(qerrors.ErrInsufficientData, "no equity curve")
	}
	return analytics.ComputePerformanceSnapshot(res.EquityCurve, res.Trades, c.opts.Risk), nil
}

func (c *Core) saveRun(id string, req BacktestRequest, status string, res *backtest.Result, runErr error, submitted time.Time) {
	run := &store.BacktestRun{
		ID:          id,
		Symbol:      req.Symbol,
		Strategy:    req.Strategy,
		Status:      status,
		SubmittedAt: submitted,
		Result:      res,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if status != string(jobs.StatusRunning) {
		run.CompletedAt = c.now()
	}
	c.persist("save_backtest_run", func(ctx context.Context) error {
		return c.store.SaveBacktestRun(ctx, run)
	})
}
