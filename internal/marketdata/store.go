package marketdata

import (
	"context"
	"fmt"
	"time"

	"quantcrux/internal/models"
	"quantcrux/internal/store"
	"quantcrux/pkg/utils"
)

// StoreProvider reads bars and quotes from the local database, retrying
// transient read failures.
type StoreProvider struct {
	store store.DataStore
	retry utils.RetryConfig
}

// NewStoreProvider creates a provider over ds.
func NewStoreProvider(ds store.DataStore) *StoreProvider {
	return &StoreProvider{store: ds, retry: utils.DefaultRetryConfig()}
}

// GetBarSeries implements BarProvider.
func (p *StoreProvider) GetBarSeries(ctx context.Context, symbol string, timeframe models.Timeframe, start, end time.Time) ([]models.PriceBar, error) {
	bars, err := utils.RetryWithResult(ctx, p.retry, func() ([]models.PriceBar, error) {
		return p.store.GetBars(ctx, symbol, timeframe, start, end)
	})
	if err != nil {
		return nil, fmt.Errorf("loading %s %s bars: %w", symbol, timeframe, err)
	}
	if len(bars) == 0 {
		return nil, unavailable("bars", symbol, fmt.Sprintf("no %s bars between %s and %s",
			timeframe, start.Format(time.DateOnly), end.Format(time.DateOnly)))
	}
	return bars, nil
}

// GetLatestQuote implements QuoteProvider. Without a stored quote it falls
// back to the close of the most recent daily bar.
func (p *StoreProvider) GetLatestQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	q, err := p.store.GetLatestQuote(ctx, symbol)
	if err == nil {
		return q, nil
	}
	if !IsUnavailable(err) {
		return nil, err
	}

	latest, err := p.store.GetBarsFreshness(ctx, symbol, models.Timeframe1Day)
	if err != nil {
		return nil, err
	}
	if latest.IsZero() {
		return nil, unavailable("quote", symbol, "no quote or daily bar stored")
	}
	bars, err := p.store.GetBars(ctx, symbol, models.Timeframe1Day, latest, latest)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, unavailable("quote", symbol, "no quote or daily bar stored")
	}
	last := bars[len(bars)-1]
	return &models.Quote{Symbol: symbol, Price: last.Close, Timestamp: last.Timestamp}, nil
}
