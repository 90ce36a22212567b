package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# QuantCrux configuration
# Every key can be overridden from the environment, e.g. QUANTCRUX_JOBS_WORKERS=8.

[simulation]
# Monte Carlo paths per valuation
runs = 10000
# Time steps per simulated year
steps_per_year = 252
# Default random seed for pricing runs
seed = 42
# Paths simulated per parallel chunk
chunk_size = 2500
# Relative spot bump for delta and gamma
greek_bump = 0.01

[backtest]
# Starting cash
initial_capital = "100000"
# Commission as a fraction of exit notional
commission_rate = "0.001"
# Slippage as a fraction of exit notional
slippage_rate = "0.0005"
# Fraction of equity committed per entry
position_fraction = "0.10"
# Record every Nth bar in the equity and drawdown curves
sample_every = 1
# Close an open position on the last bar
close_at_end = true
# Bars fed to the strategy before signals are acted on
warmup_bars = 0

[risk]
# Annual risk-free rate
risk_free_rate = 0.0
# Trading days per year used for annualization
trading_days = 252
# Benchmark for beta, alpha, correlation and tracking error
benchmark_symbol = "SPY"
# Daily returns used to estimate volatility for pricing
volatility_window = 20

[jobs]
# Concurrent pricing and backtest jobs
workers = 4
# Jobs waiting for a worker before submissions are rejected
queue_size = 64
# Finished jobs kept in memory for polling
retain = 1000

[data]
# Cached bars older than this are refreshed from the upstream source
stale_after = "1h"
# Upstream requests per second, 0 disables rate limiting
rate_limit = 0.0
rate_burst = 1
# Fall back to generated GBM series when no stored bars exist
synthetic = true
synthetic_volatility = 0.20
synthetic_drift = 0.05
synthetic_seed = 42
# Stop calling the upstream source after this many consecutive failures, 0 disables
breaker_threshold = 5
breaker_cooldown = "30s"

[store]
# SQLite database file (defaults to quantcrux.db in the config directory)
# path = "/var/lib/quantcrux/quantcrux.db"

[log]
# debug, info, warn, error or disabled
level = "info"
console = true
# Rotating log file, empty disables file logging
file = ""

[ui]
color_enabled = true
date_format = "2006-01-02"
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

// Template returns the commented default configuration file.
func Template() string {
	return configTemplate
}
