package marketdata

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quantcrux/internal/models"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"    // Normal operation
	CircuitOpen     CircuitState = "OPEN"      // Failing, rejecting requests
	CircuitHalfOpen CircuitState = "HALF_OPEN" // Testing if the upstream recovered
)

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes needed to close
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before a trial request
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the defaults used for upstream sources.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
	}
}

// Breaker stops calling an upstream provider after repeated failures.
// While open it reports the data as unavailable, so a Fallback or a
// CachedProvider in front of it serves what it has instead of waiting on a
// broken source. "No data" answers and caller cancellations are not
// failures.
type Breaker struct {
	next   Provider
	cfg    BreakerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	openedAt    time.Time
	rejected    int64
	lastFailure error
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Provider, cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{
		next:   next,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// GetBarSeries implements BarProvider.
func (b *Breaker) GetBarSeries(ctx context.Context, symbol string, timeframe models.Timeframe, start, end time.Time) ([]models.PriceBar, error) {
	if err := b.allow("bars", symbol); err != nil {
		return nil, err
	}
	bars, err := b.next.GetBarSeries(ctx, symbol, timeframe, start, end)
	b.record(ctx, err)
	return bars, err
}

// GetLatestQuote implements QuoteProvider.
func (b *Breaker) GetLatestQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if err := b.allow("quote", symbol); err != nil {
		return nil, err
	}
	q, err := b.next.GetLatestQuote(ctx, symbol)
	b.record(ctx, err)
	return q, err
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Rejected returns how many requests were turned away while open.
func (b *Breaker) Rejected() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejected
}

func (b *Breaker) allow(dataType, symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.rejected++
			msg := "upstream circuit open"
			if b.lastFailure != nil {
				msg += ": " + b.lastFailure.Error()
			}
			return unavailable(dataType, symbol, msg)
		}
		b.transition(CircuitHalfOpen)
	}
	return nil
}

func (b *Breaker) record(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || IsUnavailable(err) {
		switch b.state {
		case CircuitHalfOpen:
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.transition(CircuitClosed)
			}
		case CircuitClosed:
			b.failures = 0
		}
		return
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return
	}

	b.lastFailure = err
	switch b.state {
	case CircuitClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.transition(CircuitOpen)
	}
}

func (b *Breaker) transition(state CircuitState) {
	if state == CircuitOpen {
		b.openedAt = b.now()
	}
	if state != b.state {
		b.logger.Warn().
			Str("from", string(b.state)).
			Str("to", string(state)).
			AnErr("last_failure", b.lastFailure).
			Msg("Upstream circuit state changed")
	}
	b.state = state
	b.failures = 0
	b.successes = 0
}
