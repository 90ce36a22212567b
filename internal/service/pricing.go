package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quantcrux/internal/analysis/indicators"
	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/jobs"
	"quantcrux/internal/logging"
	"quantcrux/internal/models"
	"quantcrux/internal/pricing"
	"quantcrux/internal/store"
)

// DefineProduct records version 1 of a new product.
func (c *Core) DefineProduct(ctx context.Context, terms models.ProductTerms) (models.ProductTerms, error) {
	if err := c.loadProduct(ctx, terms.ProductID); err != nil {
		return models.ProductTerms{}, err
	}
	defined, err := c.versions.Define(terms)
	if err != nil {
		return models.ProductTerms{}, err
	}
	if err := c.saveVersion(ctx, defined); err != nil {
		return defined, err
	}
	c.logger.Info().Str("product_id", defined.ProductID).Msg("Product defined")
	return defined, nil
}

// ReviseProduct appends a new version built from the latest one.
func (c *Core) ReviseProduct(ctx context.Context, productID string, change func(*models.ProductTerms)) (models.ProductTerms, error) {
	if err := c.loadProduct(ctx, productID); err != nil {
		return models.ProductTerms{}, err
	}
	revised, err := c.versions.Revise(productID, change)
	if err != nil {
		return models.ProductTerms{}, err
	}
	if err := c.saveVersion(ctx, revised); err != nil {
		return revised, err
	}
	c.logger.Info().Str("product_id", productID).Int("version", revised.Version).Msg("Product revised")
	return revised, nil
}

// Product returns one version of a product. Version 0 means the latest.
func (c *Core) Product(ctx context.Context, productID string, version int) (models.ProductTerms, error) {
	if err := c.loadProduct(ctx, productID); err != nil {
		return models.ProductTerms{}, err
	}
	if version == 0 {
		return c.versions.Latest(productID)
	}
	return c.versions.Get(productID, version)
}

// ProductHistory returns every version of a product, oldest first.
func (c *Core) ProductHistory(ctx context.Context, productID string) ([]models.ProductTerms, error) {
	if err := c.loadProduct(ctx, productID); err != nil {
		return nil, err
	}
	return c.versions.History(productID), nil
}

// loadProduct pulls a product's versions from the store the first time it
// is referenced.
func (c *Core) loadProduct(ctx context.Context, productID string) error {
	if c.store == nil || productID == "" || len(c.versions.History(productID)) > 0 {
		return nil
	}
	terms, err := c.store.GetProductVersions(ctx, productID)
	if err != nil {
		return qerrors.Wrapf(err, "loading product %s", productID)
	}
	c.versions.Restore(terms)
	return nil
}

func (c *Core) saveVersion(ctx context.Context, terms models.ProductTerms) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.SaveProductVersion(ctx, terms); err != nil {
		return qerrors.Wrapf(err, "persisting product %s version %d", terms.ProductID, terms.Version)
	}
	return nil
}

// PriceProduct values one product version synchronously and records the
// result.
func (c *Core) PriceProduct(ctx context.Context, terms models.ProductTerms, inputs models.MarketInputs) (*pricing.Valuation, error) {
	logger := logging.WithProduct(c.logger, terms.ProductID, terms.Version)
	start := time.Now()

	req := pricing.NewRequest(terms, inputs)
	if err := c.pricer.Execute(ctx, req); err != nil {
		return nil, err
	}

	result := req.Valuation.Result
	c.results.Record(result)
	c.persist("save_pricing_result", func(ctx context.Context) error {
		return c.store.SavePricingResult(ctx, result)
	})
	logging.LogPricing(logger, terms.ProductID, terms.Version, string(result.Model), result.FairValue, time.Since(start))
	return req.Valuation, nil
}

// MarketInputs builds pricing inputs for an underlying from the latest
// quote and the historical volatility of its daily closes.
func (c *Core) MarketInputs(ctx context.Context, underlying string) (models.MarketInputs, error) {
	if err := c.requireData("market inputs"); err != nil {
		return models.MarketInputs{}, err
	}
	quote, err := c.data.GetLatestQuote(ctx, underlying)
	if err != nil {
		return models.MarketInputs{}, err
	}
	vol, err := c.EstimateVolatility(ctx, underlying, quote.Timestamp)
	if err != nil {
		return models.MarketInputs{}, err
	}
	return models.MarketInputs{
		Spot:         quote.Price,
		Volatility:   vol,
		RiskFreeRate: c.opts.Risk.RiskFreeRate,
		Valuation:    c.now(),
	}, nil
}

// EstimateVolatility returns the annualized volatility of the most recent
// window of daily log returns ending at asOf.
func (c *Core) EstimateVolatility(ctx context.Context, symbol string, asOf time.Time) (float64, error) {
	if err := c.requireData("volatility estimate"); err != nil {
		return 0, err
	}
	window := c.opts.VolatilityWindow
	// calendar span generous enough to cover weekends and holidays
	start := asOf.AddDate(0, 0, -(window*2 + 10))
	bars, err := c.data.GetBarSeries(ctx, symbol, models.Timeframe1Day, start, asOf)
	if err != nil {
		return 0, err
	}

	hv := indicators.NewHistoricalVolatility(window, tradingDays(c.opts.Risk))
	values, err := hv.Calculate(bars)
	if err != nil {
		return 0, qerrors.NewDataError("volatility", symbol,
			fmt.Sprintf("%d daily bars, need %d", len(bars), window+1), err)
	}
	vol, _ := indicators.Last(values)
	return vol, nil
}

// SubmitReprice prices the latest version of a product in the background.
// Nil inputs are derived from market data when the job runs.
func (c *Core) SubmitReprice(ctx context.Context, productID string, inputs *models.MarketInputs) (jobs.Handle, error) {
	terms, err := c.Product(ctx, productID, 0)
	if err != nil {
		return jobs.Handle{}, err
	}
	if inputs == nil {
		if err := c.requireData("reprice"); err != nil {
			return jobs.Handle{}, err
		}
	}

	return c.runner.Submit(KindReprice, productID, func(ctx context.Context, progress func(float64)) (any, error) {
		in := inputs
		if in == nil {
			derived, err := c.MarketInputs(ctx, terms.Underlying)
			if err != nil {
				return nil, err
			}
			in = &derived
			logging.FromContext(ctx).Debug().
				Str("underlying", terms.Underlying).
				Float64("spot", in.Spot).
				Float64("volatility", in.Volatility).
				Msg("Market inputs derived")
		}
		progress(10)
		v, err := c.PriceProduct(ctx, terms, *in)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
}

// PollReprice returns the state of a reprice job and its valuation once
// completed.
func (c *Core) PollReprice(id string) (jobs.Snapshot, *pricing.Valuation, error) {
	snap, err := c.poll(id, KindReprice)
	if err != nil {
		return jobs.Snapshot{}, nil, err
	}
	v, _ := snap.Result.(*pricing.Valuation)
	return snap, v, nil
}

// LatestPricing returns the most recently completed pricing result of a
// product, falling back to persisted history.
func (c *Core) LatestPricing(ctx context.Context, productID string) (models.PricingResult, error) {
	if r, ok := c.results.Latest(productID); ok {
		return r, nil
	}
	if c.store != nil {
		rs, err := c.store.GetPricingResults(ctx, store.PricingFilter{ProductID: productID, Limit: 1})
		if err != nil {
			return models.PricingResult{}, err
		}
		if len(rs) > 0 {
			return rs[0], nil
		}
	}
	return models.PricingResult{}, qerrors.NewPricingError(productID, "never priced", nil)
}

// PricingHistory returns the pricing results of a product recorded in this
// process, oldest first.
func (c *Core) PricingHistory(productID string) []models.PricingResult {
	return c.results.History(productID)
}

func (c *Core) poll(id, kind string) (jobs.Snapshot, error) {
	snap, err := c.runner.Poll(id)
	if err != nil {
		return jobs.Snapshot{}, err
	}
	if snap.Kind != kind {
		return jobs.Snapshot{}, fmt.Errorf("job %s is a %s job: %w", id, snap.Kind, qerrors.ErrJobNotFound)
	}
	return snap, nil
}

// IsNotFound reports whether err means a job or product version is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, qerrors.ErrJobNotFound) || errors.Is(err, qerrors.ErrVersionNotFound)
}
