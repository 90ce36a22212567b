package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoffKind identifies the payoff function of a structured product.
type PayoffKind string

const (
	PayoffDigital        PayoffKind = "DIGITAL"
	PayoffBarrier        PayoffKind = "BARRIER"
	PayoffStrategyLinked PayoffKind = "STRATEGY_LINKED"
	PayoffCustom         PayoffKind = "CUSTOM"
)

// PricingModel identifies the valuation model used for a product.
type PricingModel string

const (
	ModelMonteCarlo   PricingModel = "MONTE_CARLO"
	ModelBlackScholes PricingModel = "BLACK_SCHOLES"
	ModelBinomialTree PricingModel = "BINOMIAL_TREE"
	ModelCustom       PricingModel = "CUSTOM"
)

// ProductTerms is one immutable version of a structured product's configuration.
type ProductTerms struct {
	ProductID    string          `json:"product_id"`
	Version      int             `json:"version"`
	Underlying   string          `json:"underlying"`
	PayoffKind   PayoffKind      `json:"payoff_kind"`
	Notional     decimal.Decimal `json:"notional"`
	StrikePrice  *float64        `json:"strike_price,omitempty"`
	BarrierLevel *float64        `json:"barrier_level,omitempty"`
	PayoffRate   *float64        `json:"payoff_rate,omitempty"`
	Cap          *float64        `json:"cap,omitempty"`   // strategy-linked upper bound on return
	Floor        *float64        `json:"floor,omitempty"` // strategy-linked lower bound on return
	MaturityDate time.Time       `json:"maturity_date"`
	PricingModel PricingModel    `json:"pricing_model"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TimeToMaturity returns the year fraction between valuation and maturity.
func (p ProductTerms) TimeToMaturity(valuation time.Time) float64 {
	return p.MaturityDate.Sub(valuation).Hours() / 24 / 365
}

// Strike returns the strike or the fallback when none is configured.
func (p ProductTerms) Strike(fallback float64) float64 {
	if p.StrikePrice != nil {
		return *p.StrikePrice
	}
	return fallback
}

// Rate returns the payoff rate, defaulting to 1.
func (p ProductTerms) Rate() float64 {
	if p.PayoffRate != nil {
		return *p.PayoffRate
	}
	return 1
}

// MarketInputs are the observable inputs for one pricing run.
type MarketInputs struct {
	Spot         float64   `json:"spot"`
	Volatility   float64   `json:"volatility"`
	RiskFreeRate float64   `json:"risk_free_rate"`
	Valuation    time.Time `json:"valuation"`
	Seed         int64     `json:"seed"`
	// MarketPrice, when set, is inverted into an implied volatility.
	MarketPrice *float64 `json:"market_price,omitempty"`
}

// OptionGreeks represents price sensitivities.
type OptionGreeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// PricingResult is an append-only record of one pricing run.
type PricingResult struct {
	ProductID         string       `json:"product_id"`
	Version           int          `json:"version"`
	Timestamp         time.Time    `json:"timestamp"`
	Model             PricingModel `json:"model"`
	FairValue         float64      `json:"fair_value"`
	ImpliedVolatility float64      `json:"implied_volatility"`
	OptionGreeks
	SimulationRuns int     `json:"simulation_runs,omitempty"`
	StdError       float64 `json:"std_error,omitempty"`
}

// FairValueAmount returns the fair value rounded to cents.
func (r PricingResult) FairValueAmount() decimal.Decimal {
	return decimal.NewFromFloat(r.FairValue).Round(2)
}

// PayoffCurvePoint is one sample of the payoff as a function of spot.
type PayoffCurvePoint struct {
	SpotPrice   float64  `json:"spot_price"`
	PayoffValue float64  `json:"payoff_value"`
	Probability *float64 `json:"probability,omitempty"`
}

// Float returns a pointer to v, for optional term fields.
func Float(v float64) *float64 {
	return &v
}
