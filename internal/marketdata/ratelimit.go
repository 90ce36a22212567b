package marketdata

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"quantcrux/internal/models"
)

// RateLimited throttles calls to an upstream provider.
type RateLimited struct {
	next    Provider
	limiter *rate.Limiter
}

// NewRateLimited allows requestsPerSecond calls with the given burst.
func NewRateLimited(next Provider, requestsPerSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// GetBarSeries implements BarProvider.
func (r *RateLimited) GetBarSeries(ctx context.Context, symbol string, timeframe models.Timeframe, start, end time.Time) ([]models.PriceBar, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.GetBarSeries(ctx, symbol, timeframe, start, end)
}

// GetLatestQuote implements QuoteProvider.
func (r *RateLimited) GetLatestQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.GetLatestQuote(ctx, symbol)
}
