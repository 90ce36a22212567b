package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("database is locked")

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastRetry(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, 3, calls)
}

func TestRetryReturnsLastError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	cfg := fastRetry()
	cfg.RetryableErrors = []error{errTransient}
	permanent := errors.New("no such table")

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursCancellation(t *testing.T) {
	cfg := fastRetry()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := Retry(ctx, cfg, func() error { return errTransient })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(0, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, 400*time.Millisecond, CalculateBackoff(2, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, time.Second, CalculateBackoff(10, 100*time.Millisecond, time.Second, 2))
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "$1,234,567.89", FormatCurrency(decimal.RequireFromString("1234567.891")))
	assert.Equal(t, "-$999.50", FormatCurrency(decimal.RequireFromString("-999.5")))
	assert.Equal(t, "$100,000.00", FormatFloatCurrency(100000))
	assert.Equal(t, "+$12.00", FormatPnL(decimal.NewFromInt(12)))
	assert.Equal(t, "-$3.25", FormatPnL(decimal.RequireFromString("-3.25")))
	assert.Equal(t, "+1.50%", FormatPercent(1.5))
	assert.Equal(t, "-12.34%", FormatFraction(-0.1234))
	assert.Equal(t, "1,000.1235", FormatQuantity(decimal.RequireFromString("1000.12345")))
	assert.Equal(t, "-12", FormatQuantity(decimal.NewFromInt(-12)))
	assert.Equal(t, "1.50M", FormatCompact(1.5e6))
	assert.Equal(t, "-2.00K", FormatCompact(-2000))
	assert.Equal(t, "999.00", FormatCompact(999))
}
