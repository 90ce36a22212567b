// Package config provides configuration management for quantcrux.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"quantcrux/internal/analytics"
	"quantcrux/internal/backtest"
	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/logging"
	"quantcrux/internal/marketdata"
	"quantcrux/internal/pricing"
	"quantcrux/internal/service"
)

// EnvPrefix prefixes environment overrides, e.g. QUANTCRUX_JOBS_WORKERS.
const EnvPrefix = "QUANTCRUX"

// Config holds all application configuration.
type Config struct {
	Simulation SimulationConfig `mapstructure:"simulation"`
	Backtest   BacktestConfig   `mapstructure:"backtest"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Data       DataConfig       `mapstructure:"data"`
	Store      StoreConfig      `mapstructure:"store"`
	Log        LogConfig        `mapstructure:"log"`
	UI         UIConfig         `mapstructure:"ui"`

	// Path is the config file that was read, empty when running on defaults.
	Path string `mapstructure:"-"`
}

// SimulationConfig holds Monte Carlo settings.
type SimulationConfig struct {
	Runs         int     `mapstructure:"runs"`
	StepsPerYear int     `mapstructure:"steps_per_year"`
	Seed         int64   `mapstructure:"seed"`
	ChunkSize    int     `mapstructure:"chunk_size"`
	GreekBump    float64 `mapstructure:"greek_bump"`
}

// BacktestConfig holds replay defaults.
type BacktestConfig struct {
	InitialCapital   decimal.Decimal `mapstructure:"initial_capital"`
	CommissionRate   decimal.Decimal `mapstructure:"commission_rate"`
	SlippageRate     decimal.Decimal `mapstructure:"slippage_rate"`
	PositionFraction decimal.Decimal `mapstructure:"position_fraction"`
	SampleEvery      int             `mapstructure:"sample_every"`
	CloseAtEnd       bool            `mapstructure:"close_at_end"`
	WarmupBars       int             `mapstructure:"warmup_bars"`
}

// RiskConfig holds risk analytics settings.
type RiskConfig struct {
	RiskFreeRate     float64 `mapstructure:"risk_free_rate"`
	TradingDays      int     `mapstructure:"trading_days"`
	BenchmarkSymbol  string  `mapstructure:"benchmark_symbol"`
	VolatilityWindow int     `mapstructure:"volatility_window"`
}

// JobsConfig sizes the worker pool.
type JobsConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
	Retain    int `mapstructure:"retain"`
}

// DataConfig controls market data access.
type DataConfig struct {
	StaleAfter          time.Duration `mapstructure:"stale_after"`
	RateLimit           float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst           int           `mapstructure:"rate_burst"`
	Synthetic           bool          `mapstructure:"synthetic"`
	SyntheticVolatility float64       `mapstructure:"synthetic_volatility"`
	SyntheticDrift      float64       `mapstructure:"synthetic_drift"`
	SyntheticSeed       int64         `mapstructure:"synthetic_seed"`
	BreakerThreshold    int           `mapstructure:"breaker_threshold"` // consecutive upstream failures, 0 disables
	BreakerCooldown     time.Duration `mapstructure:"breaker_cooldown"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    string `mapstructure:"file"` // empty disables file logging
}

// UIConfig holds CLI output settings.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/quantcrux"
	}
	return filepath.Join(home, ".config", "quantcrux")
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("simulation.runs", pricing.DefaultRuns)
	v.SetDefault("simulation.steps_per_year", 252)
	v.SetDefault("simulation.seed", 42)
	v.SetDefault("simulation.chunk_size", pricing.DefaultChunkSize)
	v.SetDefault("simulation.greek_bump", pricing.DefaultGreekBump)

	v.SetDefault("backtest.initial_capital", "100000")
	v.SetDefault("backtest.commission_rate", "0.001")
	v.SetDefault("backtest.slippage_rate", "0.0005")
	v.SetDefault("backtest.position_fraction", "0.10")
	v.SetDefault("backtest.sample_every", 1)
	v.SetDefault("backtest.close_at_end", true)
	v.SetDefault("backtest.warmup_bars", 0)

	v.SetDefault("risk.risk_free_rate", 0.0)
	v.SetDefault("risk.trading_days", 252)
	v.SetDefault("risk.benchmark_symbol", "SPY")
	v.SetDefault("risk.volatility_window", 20)

	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue_size", 64)
	v.SetDefault("jobs.retain", 1000)

	v.SetDefault("data.stale_after", marketdata.DefaultStaleAfter)
	v.SetDefault("data.rate_limit", 0.0)
	v.SetDefault("data.rate_burst", 1)
	v.SetDefault("data.synthetic", true)
	v.SetDefault("data.synthetic_volatility", 0.20)
	v.SetDefault("data.synthetic_drift", 0.05)
	v.SetDefault("data.synthetic_seed", 42)
	v.SetDefault("data.breaker_threshold", 5)
	v.SetDefault("data.breaker_cooldown", 30*time.Second)

	v.SetDefault("store.path", filepath.Join(configDir, "quantcrux.db"))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", "")

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.date_format", "2006-01-02")
}

// Load loads configuration from config.toml in configDir. If configDir is
// empty the default directory is used. A missing file is replaced by the
// commented template and the defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	} else {
		path = v.ConfigFileUsed()
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		decimalHook(),
	))); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// decimalHook decodes strings and numbers into decimal.Decimal.
func decimalHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(decimal.Decimal{})
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != target {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		}
		return data, nil
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Simulation.Runs <= 0 {
		return qerrors.NewValidationError("simulation.runs", c.Simulation.Runs, "must be positive")
	}
	if c.Simulation.StepsPerYear <= 0 {
		return qerrors.NewValidationError("simulation.steps_per_year", c.Simulation.StepsPerYear, "must be positive")
	}
	if c.Simulation.ChunkSize <= 0 {
		return qerrors.NewValidationError("simulation.chunk_size", c.Simulation.ChunkSize, "must be positive")
	}
	if c.Simulation.GreekBump <= 0 || c.Simulation.GreekBump >= 1 {
		return qerrors.NewValidationError("simulation.greek_bump", c.Simulation.GreekBump, "must be in (0, 1)")
	}

	if err := c.BacktestConfig().Validate(); err != nil {
		return err
	}
	if c.Backtest.SampleEvery <= 0 {
		return qerrors.NewValidationError("backtest.sample_every", c.Backtest.SampleEvery, "must be positive")
	}
	if c.Backtest.WarmupBars < 0 {
		return qerrors.NewValidationError("backtest.warmup_bars", c.Backtest.WarmupBars, "must be non-negative")
	}

	if c.Risk.TradingDays <= 0 {
		return qerrors.NewValidationError("risk.trading_days", c.Risk.TradingDays, "must be positive")
	}
	if c.Risk.VolatilityWindow < 2 {
		return qerrors.NewValidationError("risk.volatility_window", c.Risk.VolatilityWindow, "must be at least 2")
	}

	if c.Jobs.Workers <= 0 {
		return qerrors.NewValidationError("jobs.workers", c.Jobs.Workers, "must be positive")
	}
	if c.Jobs.QueueSize <= 0 {
		return qerrors.NewValidationError("jobs.queue_size", c.Jobs.QueueSize, "must be positive")
	}
	if c.Jobs.Retain <= 0 {
		return qerrors.NewValidationError("jobs.retain", c.Jobs.Retain, "must be positive")
	}

	if c.Data.RateLimit < 0 {
		return qerrors.NewValidationError("data.rate_limit", c.Data.RateLimit, "must be non-negative")
	}
	if c.Data.RateLimit > 0 && c.Data.RateBurst <= 0 {
		return qerrors.NewValidationError("data.rate_burst", c.Data.RateBurst, "must be positive when rate limiting")
	}
	if c.Data.BreakerThreshold < 0 {
		return qerrors.NewValidationError("data.breaker_threshold", c.Data.BreakerThreshold, "must be non-negative")
	}
	if c.Data.SyntheticVolatility < 0 {
		return qerrors.NewValidationError("data.synthetic_volatility", c.Data.SyntheticVolatility, "must be non-negative")
	}

	if c.Store.Path == "" {
		return qerrors.NewValidationError("store.path", c.Store.Path, "required")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "disabled", "off":
	default:
		return qerrors.NewValidationError("log.level", c.Log.Level, "must be debug, info, warn, error or disabled")
	}
	return nil
}

// PricingConfig returns the pricer settings.
func (c *Config) PricingConfig() pricing.Config {
	return pricing.Config{
		Runs:         c.Simulation.Runs,
		ChunkSize:    c.Simulation.ChunkSize,
		StepsPerYear: c.Simulation.StepsPerYear,
		GreekBump:    c.Simulation.GreekBump,
	}
}

// BacktestConfig returns the replay defaults.
func (c *Config) BacktestConfig() backtest.Config {
	return backtest.Config{
		InitialCapital:   c.Backtest.InitialCapital,
		CommissionRate:   c.Backtest.CommissionRate,
		SlippageRate:     c.Backtest.SlippageRate,
		PositionFraction: c.Backtest.PositionFraction,
		SampleEvery:      c.Backtest.SampleEvery,
		CloseAtEnd:       c.Backtest.CloseAtEnd,
		WarmupBars:       c.Backtest.WarmupBars,
	}
}

// RiskOptions returns the analytics settings.
func (c *Config) RiskOptions() analytics.RiskOptions {
	return analytics.RiskOptions{
		RiskFreeRate: c.Risk.RiskFreeRate,
		TradingDays:  c.Risk.TradingDays,
	}
}

// ServiceOptions returns the options for service.New.
func (c *Config) ServiceOptions() service.Options {
	return service.Options{
		Pricing:          c.PricingConfig(),
		Backtest:         c.BacktestConfig(),
		Risk:             c.RiskOptions(),
		Workers:          c.Jobs.Workers,
		QueueSize:        c.Jobs.QueueSize,
		JobRetention:     c.Jobs.Retain,
		BenchmarkSymbol:  c.Risk.BenchmarkSymbol,
		VolatilityWindow: c.Risk.VolatilityWindow,
	}
}

// SyntheticConfig returns the generator settings for synthetic bars.
func (c *Config) SyntheticConfig() marketdata.SyntheticConfig {
	sc := marketdata.DefaultSyntheticConfig()
	sc.Volatility = c.Data.SyntheticVolatility
	sc.Drift = c.Data.SyntheticDrift
	sc.Seed = c.Data.SyntheticSeed
	return sc
}

// BreakerConfig returns the circuit breaker settings for upstream sources.
func (c *Config) BreakerConfig() marketdata.BreakerConfig {
	bc := marketdata.DefaultBreakerConfig()
	bc.FailureThreshold = c.Data.BreakerThreshold
	bc.Cooldown = c.Data.BreakerCooldown
	return bc
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() logging.LogConfig {
	lc := logging.DefaultLogConfig()
	lc.Level = c.Log.Level
	lc.Console = c.Log.Console
	lc.File = c.Log.File != ""
	if lc.File {
		lc.FilePath = c.Log.File
	}
	return lc
}
