package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quantcrux/internal/config"
	"quantcrux/internal/logging"
	"quantcrux/internal/marketdata"
	"quantcrux/internal/service"
	"quantcrux/internal/store"
)

// Version information
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// App holds the application dependencies. The store and core are opened
// on first use so that commands like version and config never touch the
// database.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	store    *store.SQLiteStore
	upstream marketdata.Provider
	core     *service.Core
}

// Store opens the SQLite store.
func (a *App) Store() (*store.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	if err := os.MkdirAll(filepath.Dir(a.Config.Store.Path), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	s, err := store.NewSQLiteStore(a.Config.Store.Path)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Str("path", a.Config.Store.Path).Msg("SQLite store initialized")
	a.store = s
	return s, nil
}

// Upstream returns the source used when the store has no bars: the
// synthetic generator, rate limited and guarded by a circuit breaker when
// configured. The chain is built once per process.
func (a *App) Upstream() marketdata.Provider {
	if a.upstream != nil {
		return a.upstream
	}
	var up marketdata.Provider = marketdata.NewSyntheticProvider(a.Config.SyntheticConfig())
	if a.Config.Data.RateLimit > 0 {
		up = marketdata.NewRateLimited(up, a.Config.Data.RateLimit, a.Config.Data.RateBurst)
	}
	if a.Config.Data.BreakerThreshold > 0 {
		up = marketdata.NewBreaker(up, a.Config.BreakerConfig(), a.Logger)
	}
	a.upstream = up
	return up
}

// MarketData assembles the provider chain: stored bars first, then the
// upstream source when synthetic data is enabled.
func (a *App) MarketData() (marketdata.Provider, error) {
	s, err := a.Store()
	if err != nil {
		return nil, err
	}
	var p marketdata.Provider = marketdata.NewStoreProvider(s)
	if a.Config.Data.Synthetic {
		p = &marketdata.Fallback{Primary: p, Secondary: a.Upstream()}
	}
	return p, nil
}

// Cache returns a provider that refreshes stale stored bars from upstream.
func (a *App) Cache() (*marketdata.CachedProvider, error) {
	s, err := a.Store()
	if err != nil {
		return nil, err
	}
	return marketdata.NewCachedProvider(s, a.Upstream(), a.Config.Data.StaleAfter, a.Logger), nil
}

// Core builds the service facade.
func (a *App) Core() (*service.Core, error) {
	if a.core != nil {
		return a.core, nil
	}
	s, err := a.Store()
	if err != nil {
		return nil, err
	}
	data, err := a.MarketData()
	if err != nil {
		return nil, err
	}
	a.core = service.New(a.Config.ServiceOptions(),
		service.WithStore(s),
		service.WithMarketData(data),
		service.WithLogger(a.Logger),
	)
	return a.core, nil
}

// Close releases the core and the store.
func (a *App) Close() {
	if a.core != nil {
		a.core.Close()
		a.core = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close store")
		}
		a.store = nil
	}
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quantcrux",
		Short: "QuantCrux - structured product pricing, backtesting and risk analytics",
		Long: `QuantCrux prices structured products with Monte Carlo and closed-form models,
replays rule-based strategies over historical bars and computes portfolio risk.

Market data comes from the local SQLite store (see 'quantcrux bars import'),
falling back to reproducible synthetic series when enabled in the config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg
			if !cfg.UI.ColorEnabled {
				color.NoColor = true
			}

			lc := cfg.LoggingConfig()
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				lc.Level = "debug"
			}
			app.Logger = logging.NewLoggerWithConfig(lc)
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/quantcrux)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newProductCmd(app))
	rootCmd.AddCommand(newPriceCmd(app))
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newRiskCmd(app))
	rootCmd.AddCommand(newBarsCmd(app))

	return rootCmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	app := &App{Logger: zerolog.Nop()}
	defer app.Close()

	root := NewRootCmd(app)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("QuantCrux v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": dir})
			}
			output.Println(dir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "template",
		Short: "Print the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			NewOutput(cmd).Printf("%s", config.Template())
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	if cfg.Path != "" {
		output.Dim("Loaded from %s", cfg.Path)
	} else {
		output.Dim("Using defaults")
	}
	output.Println()

	output.Bold("Simulation")
	output.KeyValue("Runs", fmt.Sprintf("%d", cfg.Simulation.Runs))
	output.KeyValue("Steps per year", fmt.Sprintf("%d", cfg.Simulation.StepsPerYear))
	output.KeyValue("Seed", fmt.Sprintf("%d", cfg.Simulation.Seed))
	output.KeyValue("Chunk size", fmt.Sprintf("%d", cfg.Simulation.ChunkSize))
	output.KeyValue("Greek bump", fmt.Sprintf("%.4f", cfg.Simulation.GreekBump))
	output.Println()

	output.Bold("Backtest")
	output.KeyValue("Initial capital", cfg.Backtest.InitialCapital.StringFixed(2))
	output.KeyValue("Commission rate", cfg.Backtest.CommissionRate.String())
	output.KeyValue("Slippage rate", cfg.Backtest.SlippageRate.String())
	output.KeyValue("Position fraction", cfg.Backtest.PositionFraction.String())
	output.KeyValue("Sample every", fmt.Sprintf("%d", cfg.Backtest.SampleEvery))
	output.KeyValue("Close at end", fmt.Sprintf("%v", cfg.Backtest.CloseAtEnd))
	output.Println()

	output.Bold("Risk")
	output.KeyValue("Risk-free rate", fmt.Sprintf("%.4f", cfg.Risk.RiskFreeRate))
	output.KeyValue("Trading days", fmt.Sprintf("%d", cfg.Risk.TradingDays))
	output.KeyValue("Benchmark", cfg.Risk.BenchmarkSymbol)
	output.KeyValue("Volatility window", fmt.Sprintf("%d", cfg.Risk.VolatilityWindow))
	output.Println()

	output.Bold("Jobs & Data")
	output.KeyValue("Workers", fmt.Sprintf("%d", cfg.Jobs.Workers))
	output.KeyValue("Queue size", fmt.Sprintf("%d", cfg.Jobs.QueueSize))
	output.KeyValue("Jobs retained", fmt.Sprintf("%d", cfg.Jobs.Retain))
	output.KeyValue("Stale after", cfg.Data.StaleAfter.String())
	output.KeyValue("Synthetic fallback", fmt.Sprintf("%v", cfg.Data.Synthetic))
	if cfg.Data.BreakerThreshold > 0 {
		output.KeyValue("Breaker", fmt.Sprintf("%d failures, %s cooldown", cfg.Data.BreakerThreshold, cfg.Data.BreakerCooldown))
	}
	output.KeyValue("Store", cfg.Store.Path)
	output.KeyValue("Log level", cfg.Log.Level)
}

// parseDate parses a YYYY-MM-DD flag value. Empty returns fallback.
func parseDate(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", value)
	}
	return t, nil
}
