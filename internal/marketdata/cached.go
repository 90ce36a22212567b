package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quantcrux/internal/models"
	"quantcrux/internal/store"
)

// DefaultStaleAfter is how long cached bars are served without refetching.
const DefaultStaleAfter = time.Hour

// Freshness describes how recently a cached series was synced.
type Freshness struct {
	Key         string
	LastUpdated time.Time
	IsFresh     bool
	Age         time.Duration
}

// CachedProvider serves bars from the store while they are fresh and
// refreshes them from an upstream provider otherwise. When the upstream
// fails, stale cached bars are served with a warning.
type CachedProvider struct {
	store      store.DataStore
	upstream   Provider
	staleAfter time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

// NewCachedProvider creates a cache over upstream.
func NewCachedProvider(ds store.DataStore, upstream Provider, staleAfter time.Duration, logger zerolog.Logger) *CachedProvider {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &CachedProvider{
		store:      ds,
		upstream:   upstream,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// SyncKey is the sync-status key of a symbol/timeframe series.
func SyncKey(symbol string, timeframe models.Timeframe) string {
	return fmt.Sprintf("bars:%s:%s", symbol, timeframe)
}

// Freshness reports the cache state of a series.
func (c *CachedProvider) Freshness(symbol string, timeframe models.Timeframe) Freshness {
	key := SyncKey(symbol, timeframe)
	last := c.store.GetLastSync(key)
	age := c.now().Sub(last)
	return Freshness{
		Key:         key,
		LastUpdated: last,
		IsFresh:     !last.IsZero() && age < c.staleAfter,
		Age:         age,
	}
}

// GetBarSeries implements BarProvider.
func (c *CachedProvider) GetBarSeries(ctx context.Context, symbol string, timeframe models.Timeframe, start, end time.Time) ([]models.PriceBar, error) {
	cached, err := c.store.GetBars(ctx, symbol, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get cached bars: %w", err)
	}

	freshness := c.Freshness(symbol, timeframe)
	if freshness.IsFresh && len(cached) > 0 {
		return cached, nil
	}

	bars, err := c.upstream.GetBarSeries(ctx, symbol, timeframe, start, end)
	if err != nil {
		if len(cached) > 0 {
			c.logger.Warn().Err(err).
				Str("symbol", symbol).
				Str("timeframe", string(timeframe)).
				Dur("age", freshness.Age).
				Msg("Upstream fetch failed, serving stale bars")
			return cached, nil
		}
		return nil, fmt.Errorf("failed to fetch bars and no cache available: %w", err)
	}

	if err := c.store.SaveBars(ctx, symbol, timeframe, bars); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache bars")
		return bars, nil
	}
	if err := c.store.SetLastSync(freshness.Key, c.now()); err != nil {
		c.logger.Warn().Err(err).Str("key", freshness.Key).Msg("Failed to mark bars synced")
	}
	return bars, nil
}

// GetLatestQuote implements QuoteProvider. Quotes are always fetched
// upstream and recorded.
func (c *CachedProvider) GetLatestQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	q, err := c.upstream.GetLatestQuote(ctx, symbol)
	if err != nil {
		stored, serr := c.store.GetLatestQuote(ctx, symbol)
		if serr == nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Upstream quote failed, serving stored quote")
			return stored, nil
		}
		return nil, err
	}
	if err := c.store.SaveQuote(ctx, *q); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to record quote")
	}
	return q, nil
}

// FormatFreshness returns a human-readable freshness string.
func FormatFreshness(f Freshness) string {
	if f.LastUpdated.IsZero() {
		return "Never synced"
	}

	var ageStr string
	switch age := f.Age; {
	case age < time.Minute:
		ageStr = "just now"
	case age < time.Hour:
		ageStr = fmt.Sprintf("%d minutes ago", int(age.Minutes()))
	case age < 24*time.Hour:
		ageStr = fmt.Sprintf("%d hours ago", int(age.Hours()))
	default:
		ageStr = fmt.Sprintf("%d days ago", int(age.Hours()/24))
	}

	if f.IsFresh {
		return fmt.Sprintf("Updated %s", ageStr)
	}
	return fmt.Sprintf("Stale data - updated %s", ageStr)
}
