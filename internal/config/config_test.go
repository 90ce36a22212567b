package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "quantcrux/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0644))
	return dir
}

func TestLoadCreatesTemplateAndUsesDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "quantcrux")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.Empty(t, cfg.Path)

	assert.Equal(t, 10000, cfg.Simulation.Runs)
	assert.True(t, cfg.Backtest.InitialCapital.Equal(decimal.NewFromInt(100000)))
	assert.True(t, cfg.Backtest.PositionFraction.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, cfg.Backtest.CloseAtEnd)
	assert.Equal(t, time.Hour, cfg.Data.StaleAfter)
	assert.Equal(t, filepath.Join(dir, "quantcrux.db"), cfg.Store.Path)

	// the template itself must load cleanly
	again, err := Load(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, again.Path)
	assert.Equal(t, cfg.Simulation, again.Simulation)
	assert.True(t, again.Backtest.CommissionRate.Equal(cfg.Backtest.CommissionRate))
}

func TestLoadReadsFileValues(t *testing.T) {
	dir := writeConfig(t, `
[simulation]
runs = 50000
seed = 7

[backtest]
initial_capital = 250000
commission_rate = 0.002
close_at_end = false

[risk]
benchmark_symbol = "QQQ"

[data]
stale_after = "15m"
`)
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 50000, cfg.Simulation.Runs)
	assert.Equal(t, int64(7), cfg.Simulation.Seed)
	assert.True(t, cfg.Backtest.InitialCapital.Equal(decimal.NewFromInt(250000)))
	assert.True(t, cfg.Backtest.CommissionRate.Equal(decimal.RequireFromString("0.002")))
	assert.False(t, cfg.Backtest.CloseAtEnd)
	assert.Equal(t, "QQQ", cfg.Risk.BenchmarkSymbol)
	assert.Equal(t, 15*time.Minute, cfg.Data.StaleAfter)

	bt := cfg.BacktestConfig()
	assert.True(t, bt.InitialCapital.Equal(decimal.NewFromInt(250000)))
	assert.False(t, bt.CloseAtEnd)

	opts := cfg.ServiceOptions()
	assert.Equal(t, 50000, opts.Pricing.Runs)
	assert.Equal(t, "QQQ", opts.BenchmarkSymbol)
}

func TestEnvOverrides(t *testing.T) {
	dir := writeConfig(t, "[jobs]\nworkers = 2\n")
	t.Setenv("QUANTCRUX_JOBS_WORKERS", "9")
	t.Setenv("QUANTCRUX_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Jobs.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "debug", cfg.LoggingConfig().Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"runs":        "[simulation]\nruns = 0\n",
		"greek bump":  "[simulation]\ngreek_bump = 1.5\n",
		"capital":     "[backtest]\ninitial_capital = \"-5\"\n",
		"fraction":    "[backtest]\nposition_fraction = 2\n",
		"workers":     "[jobs]\nworkers = 0\n",
		"retain":      "[jobs]\nretain = 0\n",
		"rate limit":  "[data]\nrate_limit = -1.0\n",
		"log level":   "[log]\nlevel = \"chatty\"\n",
		"vol window":  "[risk]\nvolatility_window = 1\n",
		"sample rate": "[backtest]\nsample_every = 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.ErrorIs(t, err, qerrors.ErrConfigInvalid)
		})
	}
}

func TestMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "[simulation\nruns = "))
	assert.Error(t, err)
}

func TestLoggingConfigFile(t *testing.T) {
	dir := writeConfig(t, "[log]\nfile = \"/tmp/q.log\"\nconsole = false\n")
	cfg, err := Load(dir)
	require.NoError(t, err)

	lc := cfg.LoggingConfig()
	assert.True(t, lc.File)
	assert.False(t, lc.Console)
	assert.Equal(t, "/tmp/q.log", lc.FilePath)
}
