package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"quantcrux/internal/models"
	"quantcrux/pkg/utils"
)

func newProductCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Define and inspect structured products",
		Long: `Manage versioned structured product terms.

Every change to a product's terms creates a new immutable version. Pricing
results always reference the version they were computed for.`,
	}

	cmd.AddCommand(newProductDefineCmd(app))
	cmd.AddCommand(newProductReviseCmd(app))
	cmd.AddCommand(newProductShowCmd(app))

	return cmd
}

// addTermFlags registers the flags shared by define and revise.
func addTermFlags(flags *pflag.FlagSet) {
	flags.String("underlying", "", "Underlying symbol")
	flags.String("payoff", "", "Payoff kind (digital, barrier, strategy_linked, custom)")
	flags.String("notional", "", "Notional amount")
	flags.Float64("strike", 0, "Strike price")
	flags.Float64("barrier", 0, "Barrier level")
	flags.Float64("rate", 0, "Payoff rate (coupon for digital and barrier, participation for strategy-linked)")
	flags.Float64("cap", 0, "Cap on strategy-linked return")
	flags.Float64("floor", 0, "Floor on strategy-linked return")
	flags.String("maturity", "", "Maturity date (YYYY-MM-DD)")
	flags.String("model", "", "Pricing model (monte_carlo, black_scholes)")
}

// applyTermFlags copies every flag the user set onto terms.
func applyTermFlags(cmd *cobra.Command, terms *models.ProductTerms) error {
	flags := cmd.Flags()
	optional := func(name string) *float64 {
		if !flags.Changed(name) {
			return nil
		}
		v, _ := flags.GetFloat64(name)
		return models.Float(v)
	}

	if flags.Changed("underlying") {
		v, _ := flags.GetString("underlying")
		symbol, err := normalizeSymbol(v)
		if err != nil {
			return err
		}
		terms.Underlying = symbol
	}
	if flags.Changed("payoff") {
		v, _ := flags.GetString("payoff")
		terms.PayoffKind = models.PayoffKind(strings.ToUpper(v))
	}
	if flags.Changed("notional") {
		v, _ := flags.GetString("notional")
		n, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("invalid notional %q: %w", v, err)
		}
		terms.Notional = n
	}
	if flags.Changed("maturity") {
		v, _ := flags.GetString("maturity")
		m, err := parseDate(v, time.Time{})
		if err != nil {
			return err
		}
		terms.MaturityDate = m
	}
	if flags.Changed("model") {
		v, _ := flags.GetString("model")
		terms.PricingModel = models.PricingModel(strings.ToUpper(v))
	}
	if v := optional("strike"); v != nil {
		terms.StrikePrice = v
	}
	if v := optional("barrier"); v != nil {
		terms.BarrierLevel = v
	}
	if v := optional("rate"); v != nil {
		terms.PayoffRate = v
	}
	if v := optional("cap"); v != nil {
		terms.Cap = v
	}
	if v := optional("floor"); v != nil {
		terms.Floor = v
	}
	return nil
}

func newProductDefineCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "define <product-id>",
		Short: "Define a new product (version 1)",
		Example: `  quantcrux product define SPY-DIG-1Y --underlying SPY --payoff digital \
    --notional 1000000 --strike 450 --rate 0.08 --maturity 2027-06-30`,
		Args: productIDArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			core, err := app.Core()
			if err != nil {
				return err
			}

			terms := models.ProductTerms{
				ProductID:    args[0],
				PayoffKind:   models.PayoffDigital,
				PricingModel: models.ModelMonteCarlo,
			}
			if err := applyTermFlags(cmd, &terms); err != nil {
				return err
			}

			defined, err := core.DefineProduct(ctx, terms)
			if err != nil {
				output.Error("Failed to define product: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(defined)
			}
			output.Success("Defined %s v%d", defined.ProductID, defined.Version)
			displayTerms(output, defined)
			return nil
		},
	}

	addTermFlags(cmd.Flags())
	return cmd
}

func newProductReviseCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revise <product-id>",
		Short: "Create a new version from the latest terms",
		Long: `Create a new product version. Terms not given as flags are carried over
from the latest version.`,
		Example: `  quantcrux product revise SPY-DIG-1Y --strike 460`,
		Args:    productIDArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			core, err := app.Core()
			if err != nil {
				return err
			}

			// reject bad flag values before a version is appended
			if err := applyTermFlags(cmd, &models.ProductTerms{}); err != nil {
				return err
			}
			revised, err := core.ReviseProduct(ctx, args[0], func(t *models.ProductTerms) {
				_ = applyTermFlags(cmd, t)
			})
			if err != nil {
				output.Error("Failed to revise product: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(revised)
			}
			output.Success("Revised %s to v%d", revised.ProductID, revised.Version)
			displayTerms(output, revised)
			return nil
		},
	}

	addTermFlags(cmd.Flags())
	return cmd
}

func newProductShowCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <product-id>",
		Short: "Show product terms and version history",
		Example: `  quantcrux product show SPY-DIG-1Y
  quantcrux product show SPY-DIG-1Y --version 1`,
		Args: productIDArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			version, _ := cmd.Flags().GetInt("version")
			core, err := app.Core()
			if err != nil {
				return err
			}

			terms, err := core.Product(ctx, args[0], version)
			if err != nil {
				output.Error("Product not found: %v", err)
				return err
			}
			history, err := core.ProductHistory(ctx, args[0])
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"terms":    terms,
					"versions": len(history),
				})
			}

			output.Bold("%s v%d", terms.ProductID, terms.Version)
			displayTerms(output, terms)

			if len(history) > 1 {
				output.Println()
				table := NewTable(output, "Version", "Created", "Strike", "Barrier", "Rate", "Maturity")
				for _, h := range history {
					table.AddRow(
						fmt.Sprintf("v%d", h.Version),
						FormatDateTime(h.CreatedAt),
						FormatOptional(h.StrikePrice),
						FormatOptional(h.BarrierLevel),
						FormatOptional(h.PayoffRate),
						FormatDate(h.MaturityDate),
					)
				}
				table.Render()
			}
			return nil
		},
	}

	cmd.Flags().Int("version", 0, "Version to show (default latest)")
	return cmd
}

func displayTerms(output *Output, t models.ProductTerms) {
	output.KeyValue("Underlying", t.Underlying)
	output.KeyValue("Payoff", string(t.PayoffKind))
	output.KeyValue("Model", string(t.PricingModel))
	output.KeyValue("Notional", utils.FormatCurrency(t.Notional))
	output.KeyValue("Strike", FormatOptional(t.StrikePrice))
	output.KeyValue("Barrier", FormatOptional(t.BarrierLevel))
	output.KeyValue("Payoff rate", FormatOptional(t.PayoffRate))
	if t.Cap != nil || t.Floor != nil {
		output.KeyValue("Cap / floor", FormatOptional(t.Cap)+" / "+FormatOptional(t.Floor))
	}
	output.KeyValue("Maturity", FormatDate(t.MaturityDate))
}
