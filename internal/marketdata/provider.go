// Package marketdata supplies historical bars and latest quotes to the
// simulation core. Providers compose: a store-backed cache in front of an
// upstream source, rate limiting, and a synthetic fallback.
package marketdata

import (
	"context"
	"errors"
	"time"

	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/models"
)

// BarProvider returns the bars of a symbol in [start, end], ascending.
// Implementations may return fewer bars than requested; a series with no
// bars at all is reported as ErrDataUnavailable.
type BarProvider interface {
	GetBarSeries(ctx context.Context, symbol string, timeframe models.Timeframe, start, end time.Time) ([]models.PriceBar, error)
}

// QuoteProvider returns the most recent price of a symbol.
type QuoteProvider interface {
	GetLatestQuote(ctx context.Context, symbol string) (*models.Quote, error)
}

// Provider is both a bar and a quote source.
type Provider interface {
	BarProvider
	QuoteProvider
}

// unavailable builds the error returned when a source has nothing.
func unavailable(dataType, symbol, message string) error {
	return qerrors.NewDataError(dataType, symbol, message, qerrors.ErrDataUnavailable)
}

// IsUnavailable reports whether err means the source had no data.
func IsUnavailable(err error) bool {
	return errors.Is(err, qerrors.ErrDataUnavailable)
}

// Fallback serves from Primary and switches to Secondary when Primary has
// no data for the request.
type Fallback struct {
	Primary   Provider
	Secondary Provider
}

// GetBarSeries implements BarProvider.
func (f *Fallback) GetBarSeries(ctx context.Context, symbol string, timeframe models.Timeframe, start, end time.Time) ([]models.PriceBar, error) {
	bars, err := f.Primary.GetBarSeries(ctx, symbol, timeframe, start, end)
	if err == nil || !IsUnavailable(err) {
		return bars, err
	}
	return f.Secondary.GetBarSeries(ctx, symbol, timeframe, start, end)
}

// GetLatestQuote implements QuoteProvider.
func (f *Fallback) GetLatestQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	q, err := f.Primary.GetLatestQuote(ctx, symbol)
	if err == nil || !IsUnavailable(err) {
		return q, err
	}
	return f.Secondary.GetLatestQuote(ctx, symbol)
}
