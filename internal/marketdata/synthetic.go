package marketdata

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"quantcrux/internal/models"
	"quantcrux/internal/simulation"
)

// SyntheticConfig parameterizes generated GBM bar series.
type SyntheticConfig struct {
	StartPrice float64
	Volatility float64 // annualized
	Drift      float64 // annualized
	Seed       int64
	Volume     int64
}

// DefaultSyntheticConfig returns a 20% vol, 5% drift series starting at 100.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		StartPrice: 100,
		Volatility: 0.20,
		Drift:      0.05,
		Seed:       42,
		Volume:     100000,
	}
}

// SyntheticProvider generates reproducible GBM bar series. The same symbol,
// timeframe and range always yields the same bars.
type SyntheticProvider struct {
	cfg SyntheticConfig
	now func() time.Time
}

// NewSyntheticProvider creates a synthetic provider.
func NewSyntheticProvider(cfg SyntheticConfig) *SyntheticProvider {
	return &SyntheticProvider{cfg: cfg, now: time.Now}
}

// barsPerYear is the sampling frequency of a timeframe in simulation steps.
func barsPerYear(tf models.Timeframe) int {
	if tf == models.Timeframe1Day {
		return simulation.DefaultStepsPerYear
	}
	perDay := int((6*time.Hour + 30*time.Minute) / tf.Duration())
	if perDay < 1 {
		perDay = 1
	}
	return simulation.DefaultStepsPerYear * perDay
}

// seedFor mixes the configured seed with the symbol and timeframe.
func (p *SyntheticProvider) seedFor(symbol string, tf models.Timeframe) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte{0})
	h.Write([]byte(tf))
	return simulation.ChunkSeed(p.cfg.Seed, int(h.Sum64()>>33))
}

// Generate returns n bars starting at start.
func (p *SyntheticProvider) Generate(symbol string, tf models.Timeframe, start time.Time, n int) ([]models.PriceBar, error) {
	if n <= 0 {
		return nil, unavailable("bars", symbol, "empty synthetic range")
	}

	closes := []float64{p.cfg.StartPrice}
	if n > 1 {
		spy := barsPerYear(tf)
		params := simulation.Params{
			Spot:         p.cfg.StartPrice,
			Volatility:   p.cfg.Volatility,
			RiskFreeRate: p.cfg.Drift,
			HorizonYears: float64(n-1) / float64(spy),
			StepsPerYear: spy,
		}
		path, err := simulation.New(p.seedFor(symbol, tf)).Path(params)
		if err != nil {
			return nil, err
		}
		closes = path
	}
	if len(closes) > n {
		closes = closes[:n]
	}

	step := tf.Duration()
	bars := make([]models.PriceBar, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		// intrabar range proportional to per-bar volatility
		spread := c * p.cfg.Volatility / math.Sqrt(float64(barsPerYear(tf))) * 0.5
		bars[i] = models.PriceBar{
			Timestamp: start.Add(time.Duration(i) * step),
			Open:      open,
			High:      math.Max(open, c) + spread,
			Low:       math.Max(math.Min(open, c)-spread, 0),
			Close:     c,
			Volume:    p.cfg.Volume,
		}
	}
	return bars, nil
}

// GetBarSeries implements BarProvider over [start, end] at the timeframe's
// bar interval.
func (p *SyntheticProvider) GetBarSeries(ctx context.Context, symbol string, timeframe models.Timeframe, start, end time.Time) ([]models.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, unavailable("bars", symbol, "end before start")
	}
	n := int(end.Sub(start)/timeframe.Duration()) + 1
	return p.Generate(symbol, timeframe, start, n)
}

// GetLatestQuote implements QuoteProvider with the close of a one-year
// daily series ending today.
func (p *SyntheticProvider) GetLatestQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	end := p.now().UTC().Truncate(24 * time.Hour)
	bars, err := p.GetBarSeries(ctx, symbol, models.Timeframe1Day, end.AddDate(-1, 0, 0), end)
	if err != nil {
		return nil, err
	}
	last := bars[len(bars)-1]
	return &models.Quote{Symbol: symbol, Price: last.Close, Timestamp: last.Timestamp}, nil
}
