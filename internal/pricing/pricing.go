// Package pricing values structured products with Monte Carlo and
// closed-form models and estimates their Greeks.
package pricing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/models"
	"quantcrux/internal/simulation"
)

const (
	// DefaultRuns is the Monte Carlo path count when none is configured.
	DefaultRuns = 10000
	// DefaultChunkSize is the number of paths simulated per parallel chunk.
	DefaultChunkSize = 2500
	// DefaultGreekBump is the relative bump applied to spot, volatility and
	// rate when differencing Greeks.
	DefaultGreekBump = 0.01
	// CurvePoints is the number of samples in a payoff curve.
	CurvePoints = 51

	// floors for the relative bumps when volatility or rate is near zero
	minVolBump  = 0.0001
	minRateBump = 0.00001
	timeBump    = 1.0 / 365
)

// Config controls the numerical behaviour of a Pricer.
type Config struct {
	Runs         int
	ChunkSize    int
	StepsPerYear int
	GreekBump    float64
}

// DefaultConfig returns the production pricing configuration.
func DefaultConfig() Config {
	return Config{
		Runs:         DefaultRuns,
		ChunkSize:    DefaultChunkSize,
		StepsPerYear: simulation.DefaultStepsPerYear,
		GreekBump:    DefaultGreekBump,
	}
}

// Valuation is the outcome of one pricing run.
type Valuation struct {
	Result models.PricingResult
	Curve  []models.PayoffCurvePoint
}

// Pricer values products. It holds no per-request state and is safe for
// concurrent use.
type Pricer struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a Pricer. Zero config fields fall back to defaults.
func New(cfg Config, logger zerolog.Logger) *Pricer {
	def := DefaultConfig()
	if cfg.Runs <= 0 {
		cfg.Runs = def.Runs
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.StepsPerYear <= 0 {
		cfg.StepsPerYear = def.StepsPerYear
	}
	if cfg.GreekBump <= 0 {
		cfg.GreekBump = def.GreekBump
	}
	return &Pricer{cfg: cfg, logger: logger, now: time.Now}
}

// Price computes fair value, Greeks, implied volatility and the payoff
// curve of one product version.
func (p *Pricer) Price(ctx context.Context, terms models.ProductTerms, in models.MarketInputs) (*Valuation, error) {
	start := time.Now()
	if !(in.Spot > 0) {
		return nil, qerrors.NewPricingError(terms.ProductID, "no usable spot price", nil)
	}
	valuation := in.Valuation
	if valuation.IsZero() {
		valuation = p.now()
	}
	years := terms.TimeToMaturity(valuation)
	if !(years > 0) {
		return nil, qerrors.NewPricingError(terms.ProductID, "product has matured", nil)
	}
	if in.Volatility < 0 {
		return nil, qerrors.NewPricingError(terms.ProductID, "negative volatility", nil)
	}

	pay, err := newPayoff(terms, in.Spot)
	if err != nil {
		return nil, err
	}

	base := market{spot: in.Spot, vol: in.Volatility, rate: in.RiskFreeRate, years: years, seed: in.Seed}
	est, model, err := p.value(ctx, terms, pay, base)
	if err != nil {
		return nil, wrapPricing(terms.ProductID, "valuation failed", err)
	}
	if math.IsNaN(est.value) || math.IsInf(est.value, 0) || est.value < 0 {
		return nil, qerrors.NewPricingError(terms.ProductID,
			fmt.Sprintf("model %s produced fair value %v", model, est.value), nil)
	}
	greeks, err := p.greeks(ctx, terms, pay, base, est.value)
	if err != nil {
		return nil, wrapPricing(terms.ProductID, "greeks failed", err)
	}

	result := models.PricingResult{
		ProductID:         terms.ProductID,
		Version:           terms.Version,
		Timestamp:         p.now(),
		Model:             model,
		FairValue:         est.value,
		ImpliedVolatility: p.impliedVol(terms, in, years),
		OptionGreeks:      greeks,
		SimulationRuns:    est.runs,
		StdError:          est.stdError,
	}

	p.logger.Debug().
		Str("product_id", terms.ProductID).
		Int("version", terms.Version).
		Str("model", string(model)).
		Float64("fair_value", result.FairValue).
		Int("runs", est.runs).
		Dur("duration", time.Since(start)).
		Msg("Product priced")

	return &Valuation{Result: result, Curve: payoffCurve(terms, pay, base)}, nil
}

// value dispatches to the configured model and reports the model actually used.
func (p *Pricer) value(ctx context.Context, terms models.ProductTerms, pay payoff, m market) (mcEstimate, models.PricingModel, error) {
	switch terms.PricingModel {
	case models.ModelBlackScholes:
		if terms.PayoffKind == models.PayoffDigital {
			amount := terms.Notional.InexactFloat64() * terms.Rate()
			return mcEstimate{value: digitalBS(amount, m.spot, *terms.StrikePrice, m.rate, m.vol, m.years)}, models.ModelBlackScholes, nil
		}
		est, err := p.monteCarlo(ctx, pay, m, p.runs())
		return est, models.ModelMonteCarlo, err
	case models.ModelMonteCarlo:
		est, err := p.monteCarlo(ctx, pay, m, p.runs())
		return est, models.ModelMonteCarlo, err
	default:
		return forwardIntrinsic(pay, m), terms.PricingModel, nil
	}
}

func (p *Pricer) runs() int {
	return p.cfg.Runs
}

// forwardIntrinsic discounts the payoff at the deterministic forward price.
func forwardIntrinsic(pay payoff, m market) mcEstimate {
	forward := m.spot * math.Exp(m.rate*m.years)
	return mcEstimate{value: math.Exp(-m.rate*m.years) * pay.at(forward, math.Max(m.spot, forward))}
}

// greeks estimates sensitivities by central differences with common random
// numbers across bumps.
func (p *Pricer) greeks(ctx context.Context, terms models.ProductTerms, pay payoff, m market, v0 float64) (models.OptionGreeks, error) {
	val := func(b market) (float64, error) {
		est, _, err := p.value(ctx, terms, pay, b)
		return est.value, err
	}
	var g models.OptionGreeks

	h := m.spot * p.cfg.GreekBump
	up, down := m, m
	up.spot += h
	down.spot -= h
	vUp, err := val(up)
	if err != nil {
		return g, err
	}
	vDown, err := val(down)
	if err != nil {
		return g, err
	}
	g.Delta = (vUp - vDown) / (2 * h)
	g.Gamma = (vUp - 2*v0 + vDown) / (h * h)

	volBump := math.Max(m.vol*p.cfg.GreekBump, minVolBump)
	up, down = m, m
	up.vol += volBump
	if m.vol-volBump >= 0 {
		down.vol -= volBump
		vu, err := val(up)
		if err != nil {
			return g, err
		}
		vd, err := val(down)
		if err != nil {
			return g, err
		}
		g.Vega = (vu - vd) / (2 * volBump)
	} else {
		vu, err := val(up)
		if err != nil {
			return g, err
		}
		g.Vega = (vu - v0) / volBump
	}

	rateBump := math.Max(math.Abs(m.rate)*p.cfg.GreekBump, minRateBump)
	up, down = m, m
	up.rate += rateBump
	down.rate -= rateBump
	vu, err := val(up)
	if err != nil {
		return g, err
	}
	vd, err := val(down)
	if err != nil {
		return g, err
	}
	g.Rho = (vu - vd) / (2 * rateBump)

	// Theta is the value change as maturity approaches, per year.
	longer := m
	longer.years += timeBump
	vLonger, err := val(longer)
	if err != nil {
		return g, err
	}
	if m.years-timeBump > 0 {
		shorter := m
		shorter.years -= timeBump
		vShorter, err := val(shorter)
		if err != nil {
			return g, err
		}
		g.Theta = -(vLonger - vShorter) / (2 * timeBump)
	} else {
		g.Theta = -(vLonger - v0) / timeBump
	}
	return g, nil
}

// impliedVol inverts a supplied market price for digital products and
// otherwise reports the input volatility.
func (p *Pricer) impliedVol(terms models.ProductTerms, in models.MarketInputs, years float64) float64 {
	if terms.PayoffKind != models.PayoffDigital || in.MarketPrice == nil || terms.StrikePrice == nil {
		return in.Volatility
	}
	amount := terms.Notional.InexactFloat64() * terms.Rate()
	vol, ok := impliedDigitalVol(*in.MarketPrice, amount, in.Spot, *terms.StrikePrice, in.RiskFreeRate, years)
	if !ok {
		p.logger.Debug().Str("product_id", terms.ProductID).Msg("Market price not bracketed, reporting input volatility")
		return in.Volatility
	}
	return vol
}

func wrapPricing(productID, reason string, err error) error {
	if qerrors.Is(err, qerrors.ErrPricingUnavailable) {
		return err
	}
	return qerrors.NewPricingError(productID, reason, err)
}
