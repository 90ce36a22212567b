package pricing

import (
	"math"

	"quantcrux/internal/stats"
)

// d2 is the Black-Scholes risk-neutral moneyness term.
func d2(spot, strike, rate, vol, years float64) float64 {
	return (math.Log(spot/strike) + (rate-0.5*vol*vol)*years) / (vol * math.Sqrt(years))
}

// digitalBS prices a cash-or-nothing call paying amount when S_T > strike.
func digitalBS(amount, spot, strike, rate, vol, years float64) float64 {
	discount := math.Exp(-rate * years)
	if vol == 0 {
		if spot*math.Exp(rate*years) > strike {
			return amount * discount
		}
		return 0
	}
	return amount * discount * stats.NormCDF(d2(spot, strike, rate, vol, years))
}

// impliedDigitalVol inverts digitalBS. The digital price is not monotonic in
// volatility, so the lowest bracketing interval on a grid over
// [minVol, maxVol] is bisected. ok is false when no interval brackets target.
func impliedDigitalVol(target, amount, spot, strike, rate, years float64) (float64, bool) {
	const (
		minVol   = 1e-4
		maxVol   = 5.0
		gridSize = 500
		tol      = 1e-10
	)
	f := func(v float64) float64 {
		return digitalBS(amount, spot, strike, rate, v, years) - target
	}

	width := (maxVol - minVol) / gridSize
	lo, flo := minVol, f(minVol)
	hi, fhi := lo, flo
	found := false
	for i := 1; i <= gridSize; i++ {
		hi = minVol + float64(i)*width
		fhi = f(hi)
		if flo == 0 {
			return lo, true
		}
		if flo*fhi <= 0 {
			found = true
			break
		}
		lo, flo = hi, fhi
	}
	if !found {
		return 0, false
	}
	for i := 0; i < 200 && hi-lo > tol; i++ {
		mid := 0.5 * (lo + hi)
		fm := f(mid)
		if fm == 0 {
			return mid, true
		}
		if flo*fm < 0 {
			hi = mid
		} else {
			lo, flo = mid, fm
		}
	}
	return 0.5 * (lo + hi), true
}
