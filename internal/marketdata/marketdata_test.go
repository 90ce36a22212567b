package marketdata

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/models"
	"quantcrux/internal/store"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) GetBarSeries(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) ([]models.PriceBar, error) {
	args := m.Called(ctx, symbol, tf, start, end)
	bars, _ := args.Get(0).([]models.PriceBar)
	return bars, args.Error(1)
}

func (m *mockProvider) GetLatestQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	args := m.Called(ctx, symbol)
	q, _ := args.Get(0).(*models.Quote)
	return q, args.Error(1)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "md.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dailyBars(n int) []models.PriceBar {
	bars := make([]models.PriceBar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = models.PriceBar{Timestamp: day0.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return bars
}

func TestStoreProvider(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := NewStoreProvider(s)

	_, err := p.GetBarSeries(ctx, "AAPL", models.Timeframe1Day, day0, day0.AddDate(0, 0, 10))
	assert.ErrorIs(t, err, qerrors.ErrDataUnavailable)
	_, err = p.GetLatestQuote(ctx, "AAPL")
	assert.ErrorIs(t, err, qerrors.ErrDataUnavailable)

	require.NoError(t, s.SaveBars(ctx, "AAPL", models.Timeframe1Day, dailyBars(5)))

	bars, err := p.GetBarSeries(ctx, "AAPL", models.Timeframe1Day, day0, day0.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Len(t, bars, 5)

	// partial range
	bars, err = p.GetBarSeries(ctx, "AAPL", models.Timeframe1Day, day0.AddDate(0, 0, 3), day0.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Len(t, bars, 2)

	// quote falls back to the last daily close
	q, err := p.GetLatestQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 104.0, q.Price)

	require.NoError(t, s.SaveQuote(ctx, models.Quote{Symbol: "AAPL", Price: 250, Timestamp: day0}))
	q, err = p.GetLatestQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 250.0, q.Price)
}

func TestCachedProviderRefreshesAndCaches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start, end := day0, day0.AddDate(0, 0, 4)

	upstream := &mockProvider{}
	upstream.On("GetBarSeries", mock.Anything, "AAPL", models.Timeframe1Day, start, end).Return(dailyBars(5), nil).Once()

	c := NewCachedProvider(s, upstream, time.Hour, zerolog.Nop())
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	assert.Equal(t, "Never synced", FormatFreshness(c.Freshness("AAPL", models.Timeframe1Day)))

	bars, err := c.GetBarSeries(ctx, "AAPL", models.Timeframe1Day, start, end)
	require.NoError(t, err)
	assert.Len(t, bars, 5)

	// second call within the freshness window is served from the store
	bars, err = c.GetBarSeries(ctx, "AAPL", models.Timeframe1Day, start, end)
	require.NoError(t, err)
	assert.Len(t, bars, 5)
	upstream.AssertNumberOfCalls(t, "GetBarSeries", 1)

	f := c.Freshness("AAPL", models.Timeframe1Day)
	assert.True(t, f.IsFresh)
	assert.Equal(t, "Updated just now", FormatFreshness(f))
}

func TestCachedProviderServesStaleOnUpstreamFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start, end := day0, day0.AddDate(0, 0, 4)
	require.NoError(t, s.SaveBars(ctx, "AAPL", models.Timeframe1Day, dailyBars(5)))

	upstream := &mockProvider{}
	upstream.On("GetBarSeries", mock.Anything, "AAPL", models.Timeframe1Day, start, end).Return(nil, errors.New("timeout"))
	upstream.On("GetBarSeries", mock.Anything, "MSFT", models.Timeframe1Day, start, end).Return(nil, errors.New("timeout"))

	c := NewCachedProvider(s, upstream, time.Hour, zerolog.Nop())

	bars, err := c.GetBarSeries(ctx, "AAPL", models.Timeframe1Day, start, end)
	require.NoError(t, err)
	assert.Len(t, bars, 5)

	_, err = c.GetBarSeries(ctx, "MSFT", models.Timeframe1Day, start, end)
	assert.Error(t, err)
	assert.Contains(t, FormatFreshness(c.Freshness("AAPL", models.Timeframe1Day)), "Never")
}

func TestCachedQuoteFallsBackToStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	upstream := &mockProvider{}
	upstream.On("GetLatestQuote", mock.Anything, "AAPL").Return(&models.Quote{Symbol: "AAPL", Price: 190, Timestamp: day0}, nil).Once()
	upstream.On("GetLatestQuote", mock.Anything, "AAPL").Return(nil, errors.New("down"))

	c := NewCachedProvider(s, upstream, time.Hour, zerolog.Nop())
	q, err := c.GetLatestQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 190.0, q.Price)

	q, err = c.GetLatestQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 190.0, q.Price, "served from the recorded quote")
}

func TestFallbackOnlyOnUnavailable(t *testing.T) {
	ctx := context.Background()
	primary := &mockProvider{}
	secondary := &mockProvider{}
	f := &Fallback{Primary: primary, Secondary: secondary}

	primary.On("GetBarSeries", mock.Anything, "AAPL", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, unavailable("bars", "AAPL", "none"))
	secondary.On("GetBarSeries", mock.Anything, "AAPL", mock.Anything, mock.Anything, mock.Anything).
		Return(dailyBars(3), nil)
	primary.On("GetBarSeries", mock.Anything, "MSFT", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("disk error"))

	bars, err := f.GetBarSeries(ctx, "AAPL", models.Timeframe1Day, day0, day0)
	require.NoError(t, err)
	assert.Len(t, bars, 3)

	_, err = f.GetBarSeries(ctx, "MSFT", models.Timeframe1Day, day0, day0)
	assert.EqualError(t, err, "disk error")
	secondary.AssertNotCalled(t, "GetBarSeries", mock.Anything, "MSFT", mock.Anything, mock.Anything, mock.Anything)
}

func TestRateLimitedRespectsContext(t *testing.T) {
	upstream := &mockProvider{}
	upstream.On("GetLatestQuote", mock.Anything, "AAPL").Return(&models.Quote{Symbol: "AAPL", Price: 1}, nil)

	r := NewRateLimited(upstream, 0.001, 1)
	_, err := r.GetLatestQuote(context.Background(), "AAPL")
	require.NoError(t, err, "first call uses the burst token")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.GetLatestQuote(ctx, "AAPL")
	assert.Error(t, err)
	upstream.AssertNumberOfCalls(t, "GetLatestQuote", 1)
}

func TestSyntheticProviderDeterministic(t *testing.T) {
	ctx := context.Background()
	p := NewSyntheticProvider(DefaultSyntheticConfig())
	end := day0.AddDate(0, 0, 99)

	a, err := p.GetBarSeries(ctx, "AAPL", models.Timeframe1Day, day0, end)
	require.NoError(t, err)
	b, err := p.GetBarSeries(ctx, "AAPL", models.Timeframe1Day, day0, end)
	require.NoError(t, err)
	other, err := p.GetBarSeries(ctx, "MSFT", models.Timeframe1Day, day0, end)
	require.NoError(t, err)

	require.Len(t, a, 100)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a[50].Close, other[50].Close)
	assert.Equal(t, 100.0, a[0].Close)
	require.NoError(t, models.ValidateBars(a))
	for _, bar := range a {
		assert.Greater(t, bar.Close, 0.0)
		assert.GreaterOrEqual(t, bar.High, bar.Close)
		assert.LessOrEqual(t, bar.Low, bar.Close)
	}

	_, err = p.GetBarSeries(ctx, "AAPL", models.Timeframe1Day, end, day0)
	assert.ErrorIs(t, err, qerrors.ErrDataUnavailable)
}

func TestSyntheticQuote(t *testing.T) {
	p := NewSyntheticProvider(DefaultSyntheticConfig())
	p.now = func() time.Time { return time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC) }

	q, err := p.GetLatestQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Greater(t, q.Price, 0.0)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), q.Timestamp)
}

func TestBreakerOpensAfterFailuresAndRecovers(t *testing.T) {
	ctx := context.Background()
	up := &mockProvider{}
	boom := errors.New("upstream 503")
	up.On("GetBarSeries", mock.Anything, "SPY", models.Timeframe1Day, day0, day0).Return(nil, boom).Times(3)

	b := NewBreaker(up, BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}, zerolog.Nop())
	now := day0
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := b.GetBarSeries(ctx, "SPY", models.Timeframe1Day, day0, day0)
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, CircuitOpen, b.State())

	// open: upstream is not called and the data reads as unavailable
	_, err := b.GetBarSeries(ctx, "SPY", models.Timeframe1Day, day0, day0)
	assert.ErrorIs(t, err, qerrors.ErrDataUnavailable)
	assert.Equal(t, int64(1), b.Rejected())
	up.AssertNumberOfCalls(t, "GetBarSeries", 3)

	// after the cooldown one trial request closes the circuit again
	now = now.Add(2 * time.Minute)
	up.On("GetBarSeries", mock.Anything, "SPY", models.Timeframe1Day, day0, day0).Return(dailyBars(1), nil).Once()
	bars, err := b.GetBarSeries(ctx, "SPY", models.Timeframe1Day, day0, day0)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreakerIgnoresNoDataAnswers(t *testing.T) {
	ctx := context.Background()
	up := &mockProvider{}
	up.On("GetLatestQuote", mock.Anything, "XYZ").Return(nil, unavailable("quote", "XYZ", "none"))

	b := NewBreaker(up, BreakerConfig{FailureThreshold: 1}, zerolog.Nop())
	for i := 0; i < 3; i++ {
		_, err := b.GetLatestQuote(ctx, "XYZ")
		assert.ErrorIs(t, err, qerrors.ErrDataUnavailable)
	}
	assert.Equal(t, CircuitClosed, b.State())
	up.AssertNumberOfCalls(t, "GetLatestQuote", 3)
}

func TestBreakerOpenFallsBackToSecondary(t *testing.T) {
	ctx := context.Background()
	up := &mockProvider{}
	up.On("GetBarSeries", mock.Anything, "SPY", models.Timeframe1Day, day0, day0).Return(nil, errors.New("timeout"))

	b := NewBreaker(up, BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}, zerolog.Nop())
	_, err := b.GetBarSeries(ctx, "SPY", models.Timeframe1Day, day0, day0)
	require.Error(t, err)

	synth := NewSyntheticProvider(DefaultSyntheticConfig())
	f := &Fallback{Primary: b, Secondary: synth}
	bars, err := f.GetBarSeries(ctx, "SPY", models.Timeframe1Day, day0, day0)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}
