package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := WithLogger(context.Background(), logger)

	FromContext(ctx).Info().Msg("hello")
	assert.Equal(t, "hello", decode(t, &buf)["message"])

	// a bare context yields a no-op logger
	nop := FromContext(context.Background())
	require.NotNil(t, nop)
	assert.Equal(t, zerolog.Disabled, nop.GetLevel())
	nop.Info().Msg("dropped")

	// derived loggers keep the fields added before they were stored
	buf.Reset()
	ctx = WithLogger(ctx, WithJob(logger, "j-9", "backtest"))
	FromContext(ctx).Info().Msg("tagged")
	assert.Equal(t, "j-9", decode(t, &buf)["job_id"])
}

func TestFieldHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := WithProduct(WithJob(zerolog.New(&buf), "j-1", "reprice"), "NOTE-1", 3)
	logger.Info().Msg("x")

	fields := decode(t, &buf)
	assert.Equal(t, "j-1", fields["job_id"])
	assert.Equal(t, "reprice", fields["kind"])
	assert.Equal(t, "NOTE-1", fields["product_id"])
	assert.Equal(t, 3.0, fields["version"])
}

func TestLogBacktestLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	LogBacktest(logger, "AAPL", 252, 1, 0.12, nil)
	assert.Equal(t, "info", decode(t, &buf)["level"])

	buf.Reset()
	LogBacktest(logger, "AAPL", 10, 0, 0, errors.New("boom"))
	fields := decode(t, &buf)
	assert.Equal(t, "warn", fields["level"])
	assert.Equal(t, "boom", fields["error"])
}

func TestLogPricingAndJob(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	LogPricing(logger, "NOTE-1", 2, "MONTE_CARLO", 51.2, time.Second)
	fields := decode(t, &buf)
	assert.Equal(t, "pricing", fields["event"])
	assert.Equal(t, 51.2, fields["fair_value"])

	buf.Reset()
	LogJob(logger, "j-2", "backtest", "RUNNING")
	assert.Equal(t, "RUNNING", decode(t, &buf)["status"])
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "q.log")
	logger := NewLoggerWithConfig(LogConfig{Level: "debug", File: true, FilePath: path, MaxSize: 1})
	logger.Debug().Msg("to file")
	assert.FileExists(t, path)

	nop := NewLoggerWithConfig(LogConfig{})
	assert.Equal(t, zerolog.Disabled, nop.GetLevel())
}
