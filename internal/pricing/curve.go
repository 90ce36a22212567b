package pricing

import (
	"quantcrux/internal/models"
	"quantcrux/internal/stats"
)

// payoffCurve samples the terminal payoff on CurvePoints spots spanning
// 0.5x to 1.5x the current spot. Digital points carry the risk-neutral
// probability of finishing above the strike from that spot.
func payoffCurve(terms models.ProductTerms, pay payoff, m market) []models.PayoffCurvePoint {
	curve := make([]models.PayoffCurvePoint, CurvePoints)
	step := 1.0 / float64(CurvePoints-1)
	for i := range curve {
		s := m.spot * (0.5 + float64(i)*step)
		pt := models.PayoffCurvePoint{SpotPrice: s, PayoffValue: pay.at(s, s)}
		if terms.PayoffKind == models.PayoffDigital && m.vol > 0 {
			prob := stats.NormCDF(d2(s, *terms.StrikePrice, m.rate, m.vol, m.years))
			pt.Probability = &prob
		}
		curve[i] = pt
	}
	return curve
}
