package stats

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "quantcrux/internal/errors"
)

func TestMeanVariance(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, Mean(xs), 1e-12)
	assert.InDelta(t, 4.0, Variance(xs), 1e-12)
	assert.InDelta(t, 2.0, StdDev(xs), 1e-12)

	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 0.0, Variance(nil))
}

func TestCovariance(t *testing.T) {
	cov, err := Covariance([]float64{1, 2, 3}, []float64{2, 4, 6})
	require.NoError(t, err)
	assert.InDelta(t, 4.0/3.0, cov, 1e-12)

	_, err = Covariance([]float64{1, 2}, []float64{1})
	assert.ErrorIs(t, err, qerrors.ErrMismatchedSeriesLength)

	_, err = Covariance(nil, nil)
	assert.ErrorIs(t, err, qerrors.ErrInsufficientData)
}

func TestCorrelation(t *testing.T) {
	xs := []float64{0.01, -0.02, 0.03, 0.015, -0.005}

	c, err := Correlation(xs, xs)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c, 1e-12)

	neg := make([]float64, len(xs))
	for i, x := range xs {
		neg[i] = -x
	}
	c, err = Correlation(xs, neg)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, c, 1e-12)

	c, err = Correlation(xs, []float64{1, 1, 1, 1, 1})
	assert.ErrorIs(t, err, qerrors.ErrUndefined)
	assert.Equal(t, 0.0, c)
}

func TestPercentile(t *testing.T) {
	sorted := []float64{-5, -4, -3, -2, -1, 0, 1, 2, 3, 4}

	v, err := Percentile(sorted, 0.05)
	require.NoError(t, err)
	assert.Equal(t, -5.0, v)

	v, err = Percentile(sorted, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	v, err = Percentile(sorted, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)

	_, err = Percentile(nil, 0.5)
	assert.ErrorIs(t, err, qerrors.ErrInsufficientData)
}

func TestAnnualize(t *testing.T) {
	assert.InDelta(t, 0.01*math.Sqrt(252), Annualize(0.01), 1e-15)
}

func TestDownsideDeviation(t *testing.T) {
	xs := []float64{0.02, -0.01, 0.03, -0.03}
	want := math.Sqrt((0.01*0.01 + 0.03*0.03) / 4)
	assert.InDelta(t, want, DownsideDeviation(xs, 0), 1e-15)
	assert.Equal(t, 0.0, DownsideDeviation([]float64{0.1, 0.2}, 0))
}

func TestDiff(t *testing.T) {
	d, err := Diff([]float64{3, 2}, []float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1}, d)

	_, err = Diff([]float64{1}, nil)
	assert.ErrorIs(t, err, qerrors.ErrMismatchedSeriesLength)
}

func TestNormCDFKnownValues(t *testing.T) {
	assert.InDelta(t, 0.5, NormCDF(0), 1e-9)
	assert.InDelta(t, 0.841344746, NormCDF(1), 1e-7)
	assert.InDelta(t, 0.559617692, NormCDF(0.15), 1e-7)
	assert.InDelta(t, 0.398942280, NormPDF(0), 1e-9)
}

// Property: the erf approximation stays within 1.5e-7 of math.Erf.
func TestProperty_ErfMatchesMath(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(1234)

	properties := gopter.NewProperties(parameters)

	properties.Property("erf approximation error bounded", prop.ForAll(
		func(x float64) bool {
			diff := math.Abs(Erf(x) - math.Erf(x))
			if diff > 1.5e-7 {
				t.Logf("erf(%g) off by %g", x, diff)
				return false
			}
			return true
		},
		gen.Float64Range(-6, 6),
	))

	properties.Property("normal cdf is symmetric", prop.ForAll(
		func(x float64) bool {
			return math.Abs(NormCDF(x)+NormCDF(-x)-1) < 1e-12
		},
		gen.Float64Range(-6, 6),
	))

	properties.TestingRun(t)
}

// Property: correlation is bounded by [-1, 1] whenever it is defined.
func TestProperty_CorrelationBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(1234)

	properties := gopter.NewProperties(parameters)

	properties.Property("correlation within [-1, 1]", prop.ForAll(
		func(xs, ys []float64) bool {
			n := len(xs)
			if len(ys) < n {
				n = len(ys)
			}
			c, err := Correlation(xs[:n], ys[:n])
			if err != nil {
				return qerrors.Is(err, qerrors.ErrUndefined) || qerrors.Is(err, qerrors.ErrInsufficientData)
			}
			return c >= -1 && c <= 1
		},
		gen.SliceOfN(20, gen.Float64Range(-0.1, 0.1)),
		gen.SliceOfN(20, gen.Float64Range(-0.1, 0.1)),
	))

	properties.TestingRun(t)
}
