package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"quantcrux/internal/backtest"
	"quantcrux/internal/jobs"
	"quantcrux/internal/models"
	"quantcrux/internal/service"
	"quantcrux/internal/store"
	"quantcrux/pkg/utils"
)

func newBacktestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest <symbol>",
		Short: "Replay a strategy over historical bars",
		Long: `Run a rule-based strategy over historical bars and report trades,
equity and drawdown.

The strategy is a rule type name, an inline JSON rule configuration or
@file to read the configuration from a file.`,
		Example: `  quantcrux backtest SPY --strategy buy_and_hold
  quantcrux backtest SPY --strategy '{"type":"sma_crossover","params":{"short_period":10,"long_period":30}}'
  quantcrux backtest QQQ --strategy @rsi.json --from 2022-01-01 --chart`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			symbol, err := normalizeSymbol(args[0])
			if err != nil {
				return err
			}
			strategyArg, _ := cmd.Flags().GetString("strategy")
			showChart, _ := cmd.Flags().GetBool("chart")
			showTrades, _ := cmd.Flags().GetBool("trades")

			strategyJSON, err := resolveStrategy(strategyArg)
			if err != nil {
				return err
			}
			req, err := backtestRange(cmd, app)
			if err != nil {
				return err
			}

			core, err := app.Core()
			if err != nil {
				return err
			}
			handle, err := core.RunBacktestForRange(ctx, symbol, req.timeframe, req.from, req.to, req.config, strategyJSON)
			if err != nil {
				output.Error("Backtest rejected: %v", err)
				return err
			}
			if !output.IsJSON() {
				output.Dim("Submitted backtest job %s", handle.ID)
			}

			status, err := awaitBacktest(ctx, output, core, handle.ID)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"job_id": status.ID,
					"status": status.Status,
					"error":  status.Error,
					"result": status.Backtest,
				})
			}

			if status.Backtest != nil {
				displayBacktest(output, symbol, gjson.Get(strategyJSON, "type").String(), status.Backtest, showTrades, showChart)
			}
			if status.Status != jobs.StatusCompleted {
				output.Error("Backtest %s: %s", strings.ToLower(string(status.Status)), status.Error)
				return fmt.Errorf("backtest %s", strings.ToLower(string(status.Status)))
			}
			return nil
		},
	}

	addBacktestFlags(cmd)
	cmd.Flags().StringP("strategy", "s", "buy_and_hold", "Strategy type, JSON rule configuration or @file")
	cmd.Flags().Bool("chart", false, "Show an ASCII equity curve")
	cmd.Flags().Bool("trades", true, "Show the trade ledger")

	cmd.AddCommand(newBacktestListCmd(app))
	cmd.AddCommand(newBacktestShowCmd(app))
	cmd.AddCommand(newBacktestCompareCmd(app))

	return cmd
}

// addBacktestFlags registers the range and sizing flags shared by run and compare.
func addBacktestFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "Start date (YYYY-MM-DD, default one year ago)")
	cmd.Flags().String("to", "", "End date (YYYY-MM-DD, default today)")
	cmd.Flags().StringP("timeframe", "t", "1day", "Bar timeframe (1min, 5min, 15min, 1hour, 1day)")
	cmd.Flags().String("capital", "", "Initial capital (default from config)")
	cmd.Flags().String("commission", "", "Commission rate (default from config)")
	cmd.Flags().String("slippage", "", "Slippage rate (default from config)")
	cmd.Flags().String("fraction", "", "Position fraction of equity (default from config)")
	cmd.Flags().Int("warmup", -1, "Warmup bars (default from config)")
	cmd.Flags().Bool("no-close-at-end", false, "Leave the final position open")
	cmd.Flags().Duration("timeout", 10*time.Minute, "Backtest timeout")
}

type rangeRequest struct {
	timeframe models.Timeframe
	from, to  time.Time
	config    backtest.Config
}

func backtestRange(cmd *cobra.Command, app *App) (rangeRequest, error) {
	flags := cmd.Flags()
	var req rangeRequest

	tf, _ := flags.GetString("timeframe")
	timeframe, err := parseTimeframe(tf)
	if err != nil {
		return req, err
	}
	req.timeframe = timeframe

	toStr, _ := flags.GetString("to")
	to, err := parseDate(toStr, time.Now())
	if err != nil {
		return req, err
	}
	fromStr, _ := flags.GetString("from")
	from, err := parseDate(fromStr, to.AddDate(-1, 0, 0))
	if err != nil {
		return req, err
	}
	req.from, req.to = from, to

	cfg := app.Config.BacktestConfig()
	for name, target := range map[string]*decimal.Decimal{
		"capital":    &cfg.InitialCapital,
		"commission": &cfg.CommissionRate,
		"slippage":   &cfg.SlippageRate,
		"fraction":   &cfg.PositionFraction,
	} {
		v, _ := flags.GetString(name)
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return req, fmt.Errorf("invalid --%s %q: %w", name, v, err)
		}
		*target = d
	}
	if warmup, _ := flags.GetInt("warmup"); warmup >= 0 {
		cfg.WarmupBars = warmup
	}
	if noClose, _ := flags.GetBool("no-close-at-end"); noClose {
		cfg.CloseAtEnd = false
	}
	cfg.StartDate, cfg.EndDate = from, to
	req.config = cfg
	return req, nil
}

// resolveStrategy turns a rule type name, inline JSON or @file into a rule
// configuration.
func resolveStrategy(value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("strategy is required")
	case strings.HasPrefix(value, "@"):
		data, err := os.ReadFile(value[1:])
		if err != nil {
			return "", fmt.Errorf("reading strategy file: %w", err)
		}
		return string(data), nil
	case strings.HasPrefix(value, "{"):
		return value, nil
	}
	return fmt.Sprintf(`{"type":%q}`, value), nil
}

func parseTimeframe(s string) (models.Timeframe, error) {
	tf := models.Timeframe(strings.ToLower(s))
	switch tf {
	case models.Timeframe1Min, models.Timeframe5Min, models.Timeframe15Min, models.Timeframe1Hour, models.Timeframe1Day:
		return tf, nil
	}
	return "", fmt.Errorf("unsupported timeframe %q", s)
}

func awaitBacktest(ctx context.Context, output *Output, core *service.Core, id string) (service.BacktestStatus, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, err := core.PollBacktest(id)
		if err != nil {
			return status, err
		}
		if !output.IsJSON() {
			output.Progress(status.Progress, "Replaying")
		}
		if status.Status.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			_ = core.CancelJob(id)
			return core.WaitBacktest(context.Background(), id)
		case <-ticker.C:
		}
	}
}

func displayBacktest(output *Output, symbol, strategyName string, res *backtest.Result, showTrades, showChart bool) {
	s := res.Summary
	output.Println()
	output.Bold("%s  %s", symbol, strategyName)
	output.Dim("%d of %d bars processed", res.BarsProcessed, res.BarsTotal)
	output.Println()

	output.KeyValue("Initial capital", utils.FormatCurrency(s.InitialCapital))
	output.KeyValue("Final capital", utils.FormatCurrency(s.FinalCapital))
	output.KeyValue("Net P&L", output.Signed(s.NetPnl.InexactFloat64(), utils.FormatPnL(s.NetPnl)))
	output.KeyValue("Total return", output.Signed(s.TotalReturn, utils.FormatFraction(s.TotalReturn)))
	output.KeyValue("CAGR", output.Metric(s.CAGR, true))
	output.KeyValue("Sharpe ratio", output.Metric(s.SharpeRatio, false))
	output.KeyValue("Max drawdown", output.Red(fmt.Sprintf("%.2f%%", s.MaxDrawdown*100)))
	output.KeyValue("Trades", fmt.Sprintf("%d closed (%d won, %d lost), %d open",
		s.TotalTrades, s.WinningTrades, s.LosingTrades, s.OpenTrades))
	output.KeyValue("Win rate", output.Metric(s.WinRate, true))
	output.KeyValue("Profit factor", output.Metric(s.ProfitFactor, false))
	output.KeyValue("Avg win / loss", utils.FormatCurrency(s.AvgWin)+" / "+utils.FormatCurrency(s.AvgLoss))

	if showTrades && len(res.Trades) > 0 {
		output.Println()
		table := NewTable(output, "#", "Side", "Entry", "Exit", "Qty", "Net P&L", "Reason")
		for _, t := range res.Trades {
			table.AddRow(
				fmt.Sprintf("%d", t.TradeNumber),
				output.Signal(t.Signal),
				fmt.Sprintf("%s @ %s", FormatDate(t.EntryTime), t.EntryPrice.StringFixed(2)),
				FormatTradeExit(t),
				utils.FormatQuantity(t.Quantity),
				output.Signed(t.NetPnl.InexactFloat64(), utils.FormatPnL(t.NetPnl)),
				t.ExitReason,
			)
		}
		table.Render()
	}

	if showChart {
		output.Println()
		output.Println(backtest.EquityCurveASCII(res, 60, 12))
	}
}

func newBacktestListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded backtest runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			symbol, _ := cmd.Flags().GetString("symbol")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			st, err := app.Store()
			if err != nil {
				return err
			}
			runs, err := st.ListBacktestRuns(ctx, store.RunFilter{
				Symbol: strings.ToUpper(symbol),
				Status: strings.ToUpper(status),
				Limit:  limit,
			})
			if err != nil {
				output.Error("Failed to list backtests: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Info("No backtest runs recorded")
				return nil
			}

			table := NewTable(output, "ID", "Symbol", "Strategy", "Status", "Submitted", "Return", "Trades")
			for _, r := range runs {
				ret, trades := "-", "-"
				if r.Result != nil {
					ret = output.Signed(r.Result.Summary.TotalReturn, utils.FormatFraction(r.Result.Summary.TotalReturn))
					trades = fmt.Sprintf("%d", r.Result.Summary.TotalTrades)
				}
				table.AddRow(
					TruncateString(r.ID, 8),
					r.Symbol,
					gjson.Get(r.Strategy, "type").String(),
					runStatus(output, r.Status),
					FormatDateTime(r.SubmittedAt),
					ret,
					trades,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().String("symbol", "", "Filter by symbol")
	cmd.Flags().String("status", "", "Filter by status (completed, failed, cancelled, running)")
	cmd.Flags().IntP("limit", "l", 20, "Maximum runs")
	return cmd
}

func runStatus(output *Output, status string) string {
	switch jobs.Status(status) {
	case jobs.StatusCompleted:
		return output.Green(status)
	case jobs.StatusFailed:
		return output.Red(status)
	case jobs.StatusCancelled:
		return output.Yellow(status)
	}
	return status
}

func newBacktestShowCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded backtest run with its trades",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			showChart, _ := cmd.Flags().GetBool("chart")

			st, err := app.Store()
			if err != nil {
				return err
			}
			run, err := st.GetBacktestRun(ctx, args[0])
			if err != nil {
				output.Error("Backtest run not found: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(run)
			}

			output.KeyValue("Run", run.ID)
			output.KeyValue("Status", runStatus(output, run.Status))
			output.KeyValue("Submitted", FormatDateTime(run.SubmittedAt))
			output.KeyValue("Completed", FormatDateTime(run.CompletedAt))
			if !run.CompletedAt.IsZero() {
				output.KeyValue("Elapsed", FormatDuration(run.CompletedAt.Sub(run.SubmittedAt)))
			}
			if run.Error != "" {
				output.KeyValue("Error", output.Red(run.Error))
			}
			if run.Result != nil {
				displayBacktest(output, run.Symbol, gjson.Get(run.Strategy, "type").String(), run.Result, true, showChart)
			}
			return nil
		},
	}

	cmd.Flags().Bool("chart", false, "Show an ASCII equity curve")
	return cmd
}

func newBacktestCompareCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <symbol>",
		Short: "Run several strategies over the same bars and rank them",
		Example: `  quantcrux backtest compare SPY -s buy_and_hold -s sma_crossover -s rsi -s macd`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			symbol, err := normalizeSymbol(args[0])
			if err != nil {
				return err
			}
			strategies, _ := cmd.Flags().GetStringArray("strategy")
			if len(strategies) < 2 {
				return fmt.Errorf("compare needs at least two --strategy values")
			}

			req, err := backtestRange(cmd, app)
			if err != nil {
				return err
			}
			core, err := app.Core()
			if err != nil {
				return err
			}

			handles := make(map[string]string, len(strategies))
			for i, arg := range strategies {
				strategyJSON, err := resolveStrategy(arg)
				if err != nil {
					return err
				}
				name := gjson.Get(strategyJSON, "type").String()
				if _, dup := handles[name]; dup || name == "" {
					name = fmt.Sprintf("%s#%d", name, i+1)
				}
				h, err := core.RunBacktestForRange(ctx, symbol, req.timeframe, req.from, req.to, req.config, strategyJSON)
				if err != nil {
					output.Error("%s rejected: %v", name, err)
					return err
				}
				handles[name] = h.ID
			}

			results := make(map[string]*backtest.Result, len(handles))
			for name, id := range handles {
				status, err := core.WaitBacktest(ctx, id)
				if err != nil {
					return err
				}
				if status.Status != jobs.StatusCompleted {
					output.Warning("%s %s: %s", name, strings.ToLower(string(status.Status)), status.Error)
					continue
				}
				results[name] = status.Backtest
			}

			rows := backtest.CompareStrategies(results)
			if output.IsJSON() {
				return output.JSON(rows)
			}

			output.Bold("%s  %s to %s", symbol, FormatDate(req.from), FormatDate(req.to))
			table := NewTable(output, "Rank", "Strategy", "Return", "CAGR", "Sharpe", "Max DD", "Win Rate", "Trades")
			for i, r := range rows {
				sharpe := "n/a"
				if r.HasSharpe {
					sharpe = fmt.Sprintf("%.2f", r.SharpeRatio)
				}
				table.AddRow(
					fmt.Sprintf("%d", i+1),
					r.Strategy,
					output.Signed(r.TotalReturn, utils.FormatFraction(r.TotalReturn)),
					utils.FormatFraction(r.CAGR),
					sharpe,
					fmt.Sprintf("%.2f%%", r.MaxDrawdown*100),
					fmt.Sprintf("%.1f%%", r.WinRate*100),
					fmt.Sprintf("%d", r.TotalTrades),
				)
			}
			table.Render()
			return nil
		},
	}

	addBacktestFlags(cmd)
	cmd.Flags().StringArrayP("strategy", "s", nil, "Strategy to include (repeatable)")
	return cmd
}
