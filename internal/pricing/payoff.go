package pricing

import (
	"math"

	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/models"
)

// payoff maps a terminal price and the running path maximum to an amount.
type payoff struct {
	fn        func(terminal, pathMax float64) float64
	needsPath bool
}

func (p payoff) at(terminal, pathMax float64) float64 {
	return p.fn(terminal, pathMax)
}

// ValidateTerms rejects term values no payoff can be built from. Terms that
// are merely incomplete (a digital without a strike) are caught at pricing.
func ValidateTerms(terms models.ProductTerms) error {
	invalid := func(reason string) error {
		return qerrors.NewPricingError(terms.ProductID, reason, nil)
	}
	finite := func(v *float64) bool {
		return v == nil || !(math.IsNaN(*v) || math.IsInf(*v, 0))
	}

	if terms.Notional.IsNegative() {
		return invalid("notional must be non-negative")
	}
	if !finite(terms.StrikePrice) || !finite(terms.BarrierLevel) || !finite(terms.PayoffRate) ||
		!finite(terms.Cap) || !finite(terms.Floor) {
		return invalid("terms must be finite numbers")
	}
	if terms.StrikePrice != nil && *terms.StrikePrice <= 0 {
		return invalid("strike must be positive")
	}
	if terms.BarrierLevel != nil && *terms.BarrierLevel <= 0 {
		return invalid("barrier level must be positive")
	}
	if terms.PayoffRate != nil && *terms.PayoffRate < 0 {
		return invalid("payoff rate must be non-negative")
	}
	if terms.Cap != nil && terms.Floor != nil && *terms.Cap < *terms.Floor {
		return invalid("cap must not be below floor")
	}
	return nil
}

// newPayoff builds the payoff function of a product. spot is the price at
// valuation and anchors the return-based payoffs.
func newPayoff(terms models.ProductTerms, spot float64) (payoff, error) {
	if err := ValidateTerms(terms); err != nil {
		return payoff{}, err
	}
	notional := terms.Notional.InexactFloat64()
	rate := terms.Rate()

	switch terms.PayoffKind {
	case models.PayoffDigital:
		if terms.StrikePrice == nil {
			return payoff{}, qerrors.NewPricingError(terms.ProductID, "digital payoff requires a strike", nil)
		}
		k := *terms.StrikePrice
		return payoff{fn: func(st, _ float64) float64 {
			if st > k {
				return notional * rate
			}
			return 0
		}}, nil

	case models.PayoffBarrier:
		if terms.StrikePrice == nil || terms.BarrierLevel == nil {
			return payoff{}, qerrors.NewPricingError(terms.ProductID, "barrier payoff requires strike and barrier level", nil)
		}
		k, b := *terms.StrikePrice, *terms.BarrierLevel
		return payoff{needsPath: true, fn: func(st, pathMax float64) float64 {
			if pathMax < b {
				return 0
			}
			return notional * math.Max(st-k, 0) / k
		}}, nil

	case models.PayoffStrategyLinked:
		lo, hi := math.Inf(-1), math.Inf(1)
		if terms.Floor != nil {
			lo = *terms.Floor
		}
		if terms.Cap != nil {
			hi = *terms.Cap
		}
		return payoff{fn: func(st, _ float64) float64 {
			r := math.Min(math.Max(st/spot-1, lo), hi)
			return notional * math.Max(r, 0)
		}}, nil

	case models.PayoffCustom:
		return payoff{fn: func(st, _ float64) float64 {
			return notional * rate * math.Max(st/spot-1, 0)
		}}, nil
	}
	return payoff{}, qerrors.NewPricingError(terms.ProductID, "unknown payoff kind "+string(terms.PayoffKind), nil)
}
