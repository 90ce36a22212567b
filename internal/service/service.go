// Package service exposes the simulation and analytics core to the rest of
// the application. Core coordinates pricing, backtest jobs and risk
// snapshots; persistence and market data are optional collaborators.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quantcrux/internal/analytics"
	"quantcrux/internal/backtest"
	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/jobs"
	"quantcrux/internal/marketdata"
	"quantcrux/internal/pricing"
	"quantcrux/internal/store"
	"quantcrux/internal/strategy"
)

// Job kinds tracked by the runner.
const (
	KindBacktest = "backtest"
	KindReprice  = "reprice"
)

// Options configure a Core.
type Options struct {
	Pricing   pricing.Config
	Backtest  backtest.Config
	Risk      analytics.RiskOptions
	Workers   int
	QueueSize int
	// JobRetention is the number of finished jobs kept for polling.
	JobRetention int
	// BenchmarkSymbol is used for beta, alpha and tracking error when
	// risk is computed from market data.
	BenchmarkSymbol string
	// VolatilityWindow is the number of daily returns used to estimate
	// volatility for pricing.
	VolatilityWindow int
}

// DefaultOptions returns the default core options.
func DefaultOptions() Options {
	return Options{
		Pricing:          pricing.DefaultConfig(),
		Backtest:         backtest.DefaultConfig(),
		Risk:             analytics.DefaultRiskOptions(),
		Workers:          4,
		QueueSize:        64,
		JobRetention:     jobs.DefaultRetention,
		VolatilityWindow: 20,
	}
}

// Core is the application-facing facade. It is safe for concurrent use.
type Core struct {
	opts       Options
	pricer     *pricing.Pricer
	engine     *backtest.Engine
	runner     *jobs.Runner
	versions   *pricing.VersionLog
	results    *pricing.ResultHistory
	strategies *strategy.Evaluator
	store      store.DataStore
	data       marketdata.Provider
	logger     zerolog.Logger
	now        func() time.Time
}

// Option customises a Core.
type Option func(*Core)

// WithStore persists product versions, pricing results, backtest runs and
// risk snapshots.
func WithStore(ds store.DataStore) Option {
	return func(c *Core) { c.store = ds }
}

// WithMarketData supplies bars and quotes for the data-driven operations.
func WithMarketData(p marketdata.Provider) Option {
	return func(c *Core) { c.data = p }
}

// WithLogger sets the logger used by the core and its engines.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Core) { c.logger = logger }
}

// New creates a Core and starts its worker pool.
func New(opts Options, options ...Option) *Core {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.JobRetention <= 0 {
		opts.JobRetention = def.JobRetention
	}
	if opts.VolatilityWindow <= 1 {
		opts.VolatilityWindow = def.VolatilityWindow
	}

	c := &Core{
		opts:       opts,
		versions:   pricing.NewVersionLog(),
		results:    pricing.NewResultHistory(),
		strategies: strategy.NewEvaluator(),
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, o := range options {
		o(c)
	}

	c.pricer = pricing.New(opts.Pricing, c.logger)
	c.engine = backtest.NewEngine(c.logger)
	c.runner = jobs.NewRunner(opts.Workers, opts.QueueSize, c.logger)
	c.runner.SetRetention(opts.JobRetention)
	return c
}

// Options returns the options the core was built with.
func (c *Core) Options() Options {
	return c.opts
}

// CancelJob cancels a pricing or backtest job.
func (c *Core) CancelJob(id string) error {
	return c.runner.Cancel(id)
}

// ForgetJob drops a finished job from the in-memory tracker. Persisted
// backtest runs and pricing results are unaffected.
func (c *Core) ForgetJob(id string) error {
	return c.runner.Forget(id)
}

// Jobs lists tracked jobs of a kind, newest first. An empty kind lists all.
func (c *Core) Jobs(kind string) []jobs.Snapshot {
	return c.runner.List(kind)
}

// Close waits for running jobs and stops the worker pool. The store, if
// any, stays open and belongs to the caller.
func (c *Core) Close() {
	c.runner.Stop()
}

func (c *Core) requireData(op string) error {
	if c.data == nil {
		return qerrors.NewDataError("market_data", "", fmt.Sprintf("%s needs a market data provider", op), qerrors.ErrDataUnavailable)
	}
	return nil
}

func (c *Core) persist(op string, fn func(ctx context.Context) error) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		c.logger.Warn().Err(err).Str("operation", op).Msg("Failed to persist")
	}
}
