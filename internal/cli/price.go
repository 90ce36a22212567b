package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quantcrux/internal/models"
	"quantcrux/internal/pricing"
	"quantcrux/internal/store"
)

func newPriceCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price <product-id>",
		Short: "Price a structured product",
		Long: `Value a product version with its configured model and compute Greeks.

Market inputs default to the latest stored quote and the historical
volatility of the underlying. Any of them can be overridden with flags.`,
		Example: `  quantcrux price SPY-DIG-1Y
  quantcrux price SPY-DIG-1Y --spot 445 --vol 0.18 --rate 0.04
  quantcrux price SPY-DIG-1Y --version 1 --curve
  quantcrux price SPY-DIG-1Y --async`,
		Args: productIDArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			productID := args[0]
			version, _ := cmd.Flags().GetInt("version")
			showCurve, _ := cmd.Flags().GetBool("curve")
			async, _ := cmd.Flags().GetBool("async")

			core, err := app.Core()
			if err != nil {
				return err
			}
			terms, err := core.Product(ctx, productID, version)
			if err != nil {
				output.Error("Product not found: %v", err)
				return err
			}

			inputs, err := priceInputs(ctx, cmd, app, terms)
			if err != nil {
				output.Error("Failed to assemble market inputs: %v", err)
				return err
			}

			var valuation *pricing.Valuation
			if async {
				if version != 0 {
					return fmt.Errorf("--async always prices the latest version")
				}
				valuation, err = awaitReprice(ctx, output, app, productID, inputs)
			} else {
				valuation, err = core.PriceProduct(ctx, terms, inputs)
			}
			if err != nil {
				output.Error("Pricing failed: %v", err)
				return err
			}

			if output.IsJSON() {
				data := map[string]interface{}{
					"terms":  terms,
					"inputs": inputs,
					"result": valuation.Result,
				}
				if showCurve {
					data["curve"] = valuation.Curve
				}
				return output.JSON(data)
			}

			displayValuation(output, terms, inputs, valuation, showCurve)
			return nil
		},
	}

	cmd.Flags().Int("version", 0, "Product version (default latest)")
	cmd.Flags().Float64("spot", 0, "Spot price of the underlying")
	cmd.Flags().Float64("vol", 0, "Annualized volatility")
	cmd.Flags().Float64("rate", 0, "Risk-free rate")
	cmd.Flags().Float64("market-price", 0, "Observed price to invert into implied volatility")
	cmd.Flags().Int64("seed", 0, "Random seed (default from config)")
	cmd.Flags().Bool("curve", false, "Show the payoff curve")
	cmd.Flags().Bool("async", false, "Submit as a background reprice job and poll it")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Pricing timeout")

	cmd.AddCommand(newPriceHistoryCmd(app))

	return cmd
}

// priceInputs derives market inputs for the underlying unless spot and
// volatility are both given, then applies flag overrides.
func priceInputs(ctx context.Context, cmd *cobra.Command, app *App, terms models.ProductTerms) (models.MarketInputs, error) {
	flags := cmd.Flags()
	inputs := models.MarketInputs{
		RiskFreeRate: app.Config.Risk.RiskFreeRate,
		Valuation:    time.Now(),
	}

	if !flags.Changed("spot") || !flags.Changed("vol") {
		core, err := app.Core()
		if err != nil {
			return inputs, err
		}
		derived, err := core.MarketInputs(ctx, terms.Underlying)
		if err != nil {
			return inputs, err
		}
		inputs = derived
	}

	if flags.Changed("spot") {
		inputs.Spot, _ = flags.GetFloat64("spot")
	}
	if flags.Changed("vol") {
		inputs.Volatility, _ = flags.GetFloat64("vol")
	}
	if flags.Changed("rate") {
		inputs.RiskFreeRate, _ = flags.GetFloat64("rate")
	}
	if flags.Changed("seed") {
		inputs.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("market-price") {
		mp, _ := flags.GetFloat64("market-price")
		inputs.MarketPrice = models.Float(mp)
	}
	return inputs, nil
}

func awaitReprice(ctx context.Context, output *Output, app *App, productID string, inputs models.MarketInputs) (*pricing.Valuation, error) {
	core, err := app.Core()
	if err != nil {
		return nil, err
	}
	handle, err := core.SubmitReprice(ctx, productID, &inputs)
	if err != nil {
		return nil, err
	}
	if !output.IsJSON() {
		output.Dim("Submitted reprice job %s", handle.ID)
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap, v, err := core.PollReprice(handle.ID)
		if err != nil {
			return nil, err
		}
		if !output.IsJSON() {
			output.Progress(snap.Progress, "Pricing")
		}
		if snap.Status.Terminal() {
			if snap.Err != nil {
				return nil, snap.Err
			}
			return v, nil
		}
		select {
		case <-ctx.Done():
			_ = core.CancelJob(handle.ID)
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func displayValuation(output *Output, terms models.ProductTerms, in models.MarketInputs, v *pricing.Valuation, showCurve bool) {
	r := v.Result
	output.Bold("%s v%d  %s on %s", terms.ProductID, terms.Version, terms.PayoffKind, terms.Underlying)
	output.Println()

	output.KeyValue("Spot", FormatPrice(in.Spot))
	output.KeyValue("Volatility", fmt.Sprintf("%.2f%%", in.Volatility*100))
	output.KeyValue("Risk-free rate", fmt.Sprintf("%.2f%%", in.RiskFreeRate*100))
	output.KeyValue("Time to maturity", fmt.Sprintf("%.3f years", terms.TimeToMaturity(in.Valuation)))
	output.Println()

	output.KeyValue("Model", string(r.Model))
	output.KeyValue("Fair value", output.Green(r.FairValueAmount().StringFixed(2)))
	if r.SimulationRuns > 0 {
		output.KeyValue("Paths", fmt.Sprintf("%d (std error %.4f)", r.SimulationRuns, r.StdError))
	}
	output.KeyValue("Implied volatility", fmt.Sprintf("%.2f%%", r.ImpliedVolatility*100))
	output.KeyValue("Greeks", FormatGreeks(r.OptionGreeks))

	if showCurve && len(v.Curve) > 0 {
		output.Println()
		table := NewTable(output, "Spot", "Payoff", "Probability")
		for _, p := range v.Curve {
			prob := "-"
			if p.Probability != nil {
				prob = fmt.Sprintf("%.2f%%", *p.Probability*100)
			}
			table.AddRow(FormatPrice(p.SpotPrice), FormatPrice(p.PayoffValue), prob)
		}
		table.Render()
	}
}

func newPriceHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <product-id>",
		Short: "Show recorded pricing results",
		Args:  productIDArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			version, _ := cmd.Flags().GetInt("version")
			limit, _ := cmd.Flags().GetInt("limit")

			st, err := app.Store()
			if err != nil {
				return err
			}
			results, err := st.GetPricingResults(ctx, store.PricingFilter{
				ProductID: args[0],
				Version:   version,
				Limit:     limit,
			})
			if err != nil {
				output.Error("Failed to load pricing history: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(results)
			}
			if len(results) == 0 {
				output.Warning("No pricing results for %s", args[0])
				return nil
			}

			table := NewTable(output, "Time", "Version", "Model", "Fair Value", "Delta", "Vega", "Impl. Vol")
			for _, r := range results {
				table.AddRow(
					FormatDateTime(r.Timestamp),
					fmt.Sprintf("v%d", r.Version),
					string(r.Model),
					r.FairValueAmount().StringFixed(2),
					fmt.Sprintf("%.4f", r.Delta),
					fmt.Sprintf("%.4f", r.Vega),
					fmt.Sprintf("%.2f%%", r.ImpliedVolatility*100),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().Int("version", 0, "Only this version")
	cmd.Flags().IntP("limit", "l", 20, "Maximum results")
	return cmd
}
