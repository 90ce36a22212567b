// Package simulation generates geometric Brownian motion price paths
// from seeded random sources.
package simulation

import (
	"math"
	"math/rand"

	qerrors "quantcrux/internal/errors"
)

// DefaultStepsPerYear is the number of time steps per simulated year.
const DefaultStepsPerYear = 252

// Params are the inputs to one GBM simulation.
type Params struct {
	Spot         float64
	Volatility   float64
	RiskFreeRate float64
	HorizonYears float64
	StepsPerYear int
}

// Validate rejects parameters that cannot produce a meaningful path.
func (p Params) Validate() error {
	switch {
	case !(p.Spot > 0):
		return qerrors.NewSimulationError("spot", p.Spot, "must be positive")
	case !(p.HorizonYears > 0):
		return qerrors.NewSimulationError("horizon", p.HorizonYears, "must be positive")
	case p.Volatility < 0 || math.IsNaN(p.Volatility):
		return qerrors.NewSimulationError("volatility", p.Volatility, "must be non-negative")
	case p.StepsPerYear <= 0:
		return qerrors.NewSimulationError("steps_per_year", float64(p.StepsPerYear), "must be positive")
	}
	return nil
}

// Steps returns the step sizes covering the horizon exactly. The last step
// is shortened when the horizon is not a whole number of steps.
func (p Params) Steps() []float64 {
	dt := 1 / float64(p.StepsPerYear)
	n := int(math.Ceil(p.HorizonYears*float64(p.StepsPerYear) - 1e-9))
	if n < 1 {
		n = 1
	}
	steps := make([]float64, n)
	for i := 0; i < n-1; i++ {
		steps[i] = dt
	}
	steps[n-1] = p.HorizonYears - dt*float64(n-1)
	return steps
}

// Simulator draws GBM paths. A Simulator is not safe for concurrent use;
// parallel callers create one per goroutine with ChunkSeed.
type Simulator struct {
	rng *rand.Rand
}

// New creates a simulator seeded deterministically.
func New(seed int64) *Simulator {
	return NewWithSource(rand.NewSource(seed))
}

// NewWithSource creates a simulator over an explicit random source.
func NewWithSource(src rand.Source) *Simulator {
	return &Simulator{rng: rand.New(src)}
}

// step advances s by dt with one normal draw.
func (s *Simulator) step(price float64, p Params, dt float64) float64 {
	z := s.rng.NormFloat64()
	drift := (p.RiskFreeRate - 0.5*p.Volatility*p.Volatility) * dt
	return price * math.Exp(drift+p.Volatility*math.Sqrt(dt)*z)
}

// TerminalPrice simulates one path and returns its final price.
func (s *Simulator) TerminalPrice(p Params) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	price := p.Spot
	for _, dt := range p.Steps() {
		price = s.step(price, p, dt)
	}
	return price, nil
}

// Path simulates one path and returns every price including the spot.
func (s *Simulator) Path(p Params) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	steps := p.Steps()
	path := make([]float64, len(steps)+1)
	path[0] = p.Spot
	for i, dt := range steps {
		path[i+1] = s.step(path[i], p, dt)
	}
	return path, nil
}

// TerminalPrices simulates n independent terminal prices.
func (s *Simulator) TerminalPrices(p Params, n int) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, qerrors.NewSimulationError("runs", float64(n), "must be positive")
	}
	steps := p.Steps()
	out := make([]float64, n)
	for i := range out {
		price := p.Spot
		for _, dt := range steps {
			price = s.step(price, p, dt)
		}
		out[i] = price
	}
	return out, nil
}

// ChunkSeed derives the seed of parallel chunk i from a base seed.
// Distinct chunks get well-separated seeds (splitmix64 finalizer).
func ChunkSeed(base int64, i int) int64 {
	z := uint64(base) + uint64(i+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return int64(z >> 1)
}
