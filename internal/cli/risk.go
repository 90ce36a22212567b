package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quantcrux/internal/analytics"
	"quantcrux/pkg/utils"
)

func newRiskCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk <symbol>",
		Short: "Compute a risk snapshot from daily returns",
		Long: `Compute volatility, VaR, Sharpe, Sortino, drawdown and benchmark-relative
metrics from the daily closes of a symbol. Snapshots are recorded under a
portfolio id (the symbol by default).`,
		Example: `  quantcrux risk QQQ
  quantcrux risk QQQ --value 250000 --from 2024-01-01 --portfolio growth`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			symbol, err := normalizeSymbol(args[0])
			if err != nil {
				return err
			}
			portfolio, _ := cmd.Flags().GetString("portfolio")
			value, _ := cmd.Flags().GetFloat64("value")
			toStr, _ := cmd.Flags().GetString("to")
			fromStr, _ := cmd.Flags().GetString("from")

			to, err := parseDate(toStr, time.Now())
			if err != nil {
				return err
			}
			from, err := parseDate(fromStr, to.AddDate(-1, 0, 0))
			if err != nil {
				return err
			}

			core, err := app.Core()
			if err != nil {
				return err
			}
			snap, err := core.RiskForSymbol(ctx, portfolio, symbol, from, to, value)
			if err != nil {
				output.Error("Risk computation failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(snap)
			}

			output.Bold("%s  %s to %s", symbol, FormatDate(from), FormatDate(to))
			output.Dim("%d daily returns, %d shared with benchmark %s", snap.Observations, snap.BenchmarkObservations, app.Config.Risk.BenchmarkSymbol)
			output.Println()
			displayRisk(output, snap)
			if snap.Partial() {
				output.Println()
				output.Warning("Some metrics could not be computed")
			}
			return nil
		},
	}

	cmd.Flags().String("portfolio", "", "Portfolio id to record the snapshot under (default symbol)")
	cmd.Flags().Float64("value", 100000, "Current portfolio value for VaR")
	cmd.Flags().String("from", "", "Start date (YYYY-MM-DD, default one year ago)")
	cmd.Flags().String("to", "", "End date (YYYY-MM-DD, default today)")

	cmd.AddCommand(newRiskHistoryCmd(app))

	return cmd
}

func displayRisk(output *Output, s analytics.RiskSnapshot) {
	output.KeyValue("Current value", utils.FormatFloatCurrency(s.CurrentValue))
	output.KeyValue("Volatility (daily)", output.Metric(s.Volatility, true))
	output.KeyValue("VaR 95%", riskAmount(output, s.VaR95))
	output.KeyValue("VaR 99%", riskAmount(output, s.VaR99))
	output.KeyValue("Sharpe (daily)", output.Metric(s.Sharpe, false))
	output.KeyValue("Sharpe (annual)", output.Metric(s.AnnualizedSharpe, false))
	output.KeyValue("Sortino", output.Metric(s.Sortino, false))
	dd := output.Metric(s.MaxDrawdown, true)
	if s.MaxDrawdown.Available {
		dd = fmt.Sprintf("%s over %d days", dd, s.MaxDrawdownDuration)
	}
	output.KeyValue("Max drawdown", dd)
	output.Println()
	output.KeyValue("Beta", output.Metric(s.Beta, false))
	output.KeyValue("Alpha (daily)", output.Metric(s.Alpha, true))
	output.KeyValue("Correlation", output.Metric(s.Correlation, false))
	output.KeyValue("Tracking error", output.Metric(s.TrackingError, true))
}

func riskAmount(output *Output, m analytics.Metric) string {
	if !m.Available {
		return output.Metric(m, false)
	}
	return output.Red(utils.FormatFloatCurrency(m.Value))
}

func newRiskHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <portfolio-id>",
		Short: "Show recorded risk snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			limit, _ := cmd.Flags().GetInt("limit")
			core, err := app.Core()
			if err != nil {
				return err
			}
			records, err := core.RiskHistory(ctx, args[0], limit)
			if err != nil {
				output.Error("Failed to load risk history: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Info("No risk snapshots for %s", args[0])
				return nil
			}

			table := NewTable(output, "Recorded", "Obs", "Volatility", "VaR 95%", "Sharpe", "Max DD", "Beta")
			for _, r := range records {
				s := r.Snapshot
				table.AddRow(
					FormatDateTime(r.CreatedAt),
					fmt.Sprintf("%d", s.Observations),
					FormatMetric(s.Volatility, true),
					riskAmount(output, s.VaR95),
					FormatMetric(s.AnnualizedSharpe, false),
					FormatMetric(s.MaxDrawdown, true),
					FormatMetric(s.Beta, false),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntP("limit", "l", 20, "Maximum snapshots")
	return cmd
}
