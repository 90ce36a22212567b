// Package store provides data persistence interfaces and implementations.
// The simulation core never holds a store; callers load inputs from here
// and persist the values the core returns.
package store

import (
	"context"
	"time"

	"quantcrux/internal/analytics"
	"quantcrux/internal/backtest"
	"quantcrux/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Bars
	SaveBars(ctx context.Context, symbol string, timeframe models.Timeframe, bars []models.PriceBar) error
	GetBars(ctx context.Context, symbol string, timeframe models.Timeframe, from, to time.Time) ([]models.PriceBar, error)
	GetBarsFreshness(ctx context.Context, symbol string, timeframe models.Timeframe) (time.Time, error)

	// Quotes
	SaveQuote(ctx context.Context, quote models.Quote) error
	GetLatestQuote(ctx context.Context, symbol string) (*models.Quote, error)

	// Product versions (append-only)
	SaveProductVersion(ctx context.Context, terms models.ProductTerms) error
	GetProductVersions(ctx context.Context, productID string) ([]models.ProductTerms, error)

	// Pricing history
	SavePricingResult(ctx context.Context, result models.PricingResult) error
	GetPricingResults(ctx context.Context, filter PricingFilter) ([]models.PricingResult, error)

	// Backtests
	SaveBacktestRun(ctx context.Context, run *BacktestRun) error
	GetBacktestRun(ctx context.Context, id string) (*BacktestRun, error)
	ListBacktestRuns(ctx context.Context, filter RunFilter) ([]BacktestRun, error)

	// Risk snapshots
	SaveRiskSnapshot(ctx context.Context, record RiskRecord) error
	GetRiskSnapshots(ctx context.Context, portfolioID string, limit int) ([]RiskRecord, error)

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}

// PricingFilter represents filters for querying pricing history.
type PricingFilter struct {
	ProductID string
	Version   int
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// RunFilter represents filters for querying backtest runs.
type RunFilter struct {
	Symbol   string
	Strategy string
	Status   string
	Limit    int
}

// BacktestRun is a persisted backtest job with its output.
type BacktestRun struct {
	ID          string
	Symbol      string
	Strategy    string
	Status      string
	Error       string
	SubmittedAt time.Time
	CompletedAt time.Time
	Result      *backtest.Result
}

// RiskRecord is a persisted risk snapshot for a portfolio.
type RiskRecord struct {
	ID          int64
	PortfolioID string
	Snapshot    analytics.RiskSnapshot
	CreatedAt   time.Time
}
