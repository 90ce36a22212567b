package pricing

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"quantcrux/internal/simulation"
)

// market is one point in the space the Greeks bump.
type market struct {
	spot  float64
	vol   float64
	rate  float64
	years float64
	seed  int64
}

type mcEstimate struct {
	value    float64
	stdError float64
	runs     int
}

// monteCarlo averages discounted payoffs over runs simulated paths. Runs are
// split into chunks with their own seeds and reduced in chunk order, so the
// estimate only depends on the seed.
func (p *Pricer) monteCarlo(ctx context.Context, pay payoff, m market, runs int) (mcEstimate, error) {
	chunkSize := p.cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunks := (runs + chunkSize - 1) / chunkSize

	params := simulation.Params{
		Spot:         m.spot,
		Volatility:   m.vol,
		RiskFreeRate: m.rate,
		HorizonYears: m.years,
		StepsPerYear: p.cfg.StepsPerYear,
	}
	if !pay.needsPath {
		// GBM is exact in distribution; terminal payoffs need no intermediate steps.
		params.StepsPerYear = 1
	}
	if err := params.Validate(); err != nil {
		return mcEstimate{}, err
	}

	sums := make([]float64, chunks)
	squares := make([]float64, chunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < chunks; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n := chunkSize
			if rest := runs - i*chunkSize; rest < n {
				n = rest
			}
			sim := simulation.New(simulation.ChunkSeed(m.seed, i))
			var sum, sq float64
			for j := 0; j < n; j++ {
				var v float64
				if pay.needsPath {
					path, err := sim.Path(params)
					if err != nil {
						return err
					}
					hi := path[0]
					for _, s := range path[1:] {
						hi = math.Max(hi, s)
					}
					v = pay.at(path[len(path)-1], hi)
				} else {
					st, err := sim.TerminalPrice(params)
					if err != nil {
						return err
					}
					v = pay.at(st, st)
				}
				sum += v
				sq += v * v
			}
			sums[i] = sum
			squares[i] = sq
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return mcEstimate{}, err
	}

	var sum, sq float64
	for i := range sums {
		sum += sums[i]
		sq += squares[i]
	}
	n := float64(runs)
	mean := sum / n
	variance := math.Max(sq/n-mean*mean, 0)
	discount := math.Exp(-m.rate * m.years)
	return mcEstimate{
		value:    discount * mean,
		stdError: discount * math.Sqrt(variance/n),
		runs:     runs,
	}, nil
}
