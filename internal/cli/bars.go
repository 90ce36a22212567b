package cli

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quantcrux/internal/marketdata"
	"quantcrux/internal/models"
)

func newBarsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bars",
		Short: "Manage stored price bars",
		Long: `Import, sync and inspect the OHLCV bars that backtests, volatility
estimates and risk snapshots read from.`,
	}

	cmd.AddCommand(newBarsImportCmd(app))
	cmd.AddCommand(newBarsSyncCmd(app))
	cmd.AddCommand(newBarsStatusCmd(app))
	cmd.AddCommand(newBarsShowCmd(app))

	return cmd
}

func newBarsImportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <symbol> <file.csv>",
		Short: "Import bars from a CSV file",
		Long: `Import OHLCV bars from a CSV file with the columns

  timestamp,open,high,low,close,volume

Timestamps are RFC 3339 or YYYY-MM-DD. A header row is skipped. Bars at
timestamps already stored are replaced.`,
		Example: `  quantcrux bars import SPY spy_daily.csv
  quantcrux bars import BTCUSD btc_1h.csv --timeframe 1hour`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			symbol, err := normalizeSymbol(args[0])
			if err != nil {
				return err
			}
			tf, _ := cmd.Flags().GetString("timeframe")
			timeframe, err := parseTimeframe(tf)
			if err != nil {
				return err
			}

			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[1], err)
			}
			defer f.Close()

			bars, err := ReadBarsCSV(f)
			if err != nil {
				output.Error("Invalid CSV: %v", err)
				return err
			}

			st, err := app.Store()
			if err != nil {
				return err
			}
			if err := st.SaveBars(ctx, symbol, timeframe, bars); err != nil {
				output.Error("Failed to save bars: %v", err)
				return err
			}
			if err := st.SetLastSync(marketdata.SyncKey(symbol, timeframe), time.Now()); err != nil {
				app.Logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to mark bars synced")
			}

			last := bars[len(bars)-1]
			if timeframe == models.Timeframe1Day {
				quote := models.Quote{Symbol: symbol, Price: last.Close, Timestamp: last.Timestamp}
				if err := st.SaveQuote(ctx, quote); err != nil {
					app.Logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to record quote")
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":    symbol,
					"timeframe": timeframe,
					"count":     len(bars),
					"from":      bars[0].Timestamp,
					"to":        last.Timestamp,
				})
			}
			output.Success("Imported %d %s bars for %s (%s to %s)",
				len(bars), timeframe, symbol, FormatDate(bars[0].Timestamp), FormatDate(last.Timestamp))
			return nil
		},
	}

	cmd.Flags().StringP("timeframe", "t", "1day", "Bar timeframe")
	return cmd
}

// ReadBarsCSV parses timestamp,open,high,low,close,volume rows. The result
// is sorted by time and rejected if it holds duplicate timestamps.
func ReadBarsCSV(r io.Reader) ([]models.PriceBar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var bars []models.PriceBar
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(record) < 5 {
			return nil, fmt.Errorf("line %d: expected at least 5 columns, got %d", line, len(record))
		}
		if line == 1 && isHeader(record) {
			continue
		}

		bar, err := parseBarRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	if err := models.ValidateBars(bars); err != nil {
		return nil, err
	}
	return bars, nil
}

func isHeader(record []string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	return err != nil
}

func parseBarRecord(record []string) (models.PriceBar, error) {
	var bar models.PriceBar

	ts := strings.TrimSpace(record[0])
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t, err = time.Parse(time.DateOnly, ts)
		if err != nil {
			return bar, fmt.Errorf("invalid timestamp %q", ts)
		}
	}
	bar.Timestamp = t.UTC()

	prices := make([]float64, 4)
	for i := range prices {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
		if err != nil {
			return bar, fmt.Errorf("invalid price %q", record[i+1])
		}
		prices[i] = v
	}
	bar.Open, bar.High, bar.Low, bar.Close = prices[0], prices[1], prices[2], prices[3]
	if bar.Close <= 0 {
		return bar, fmt.Errorf("non-positive close %v", bar.Close)
	}
	if bar.High < bar.Low {
		return bar, fmt.Errorf("high %v below low %v", bar.High, bar.Low)
	}

	if len(record) > 5 && strings.TrimSpace(record[5]) != "" {
		vol, err := strconv.ParseFloat(strings.TrimSpace(record[5]), 64)
		if err != nil {
			return bar, fmt.Errorf("invalid volume %q", record[5])
		}
		bar.Volume = int64(vol)
	}
	return bar, nil
}

func newBarsSyncCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <symbol>...",
		Short: "Refresh stale bars from the upstream source",
		Long: `Refresh stored bars from the upstream source (synthetic series) when they
are older than data.stale_after. Fresh bars are left untouched.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			symbols, err := normalizeSymbols(args)
			if err != nil {
				return err
			}
			tf, _ := cmd.Flags().GetString("timeframe")
			timeframe, err := parseTimeframe(tf)
			if err != nil {
				return err
			}
			toStr, _ := cmd.Flags().GetString("to")
			to, err := parseDate(toStr, time.Now().UTC().Truncate(24*time.Hour))
			if err != nil {
				return err
			}
			fromStr, _ := cmd.Flags().GetString("from")
			from, err := parseDate(fromStr, to.AddDate(-2, 0, 0))
			if err != nil {
				return err
			}

			cache, err := app.Cache()
			if err != nil {
				return err
			}

			type synced struct {
				Symbol    string `json:"symbol"`
				Bars      int    `json:"bars"`
				Freshness string `json:"freshness"`
				Error     string `json:"error,omitempty"`
			}
			var results []synced
			var failed int
			for _, symbol := range symbols {
				bars, err := cache.GetBarSeries(ctx, symbol, timeframe, from, to)
				s := synced{Symbol: symbol, Bars: len(bars)}
				if err != nil {
					s.Error = err.Error()
					failed++
				}
				if timeframe == models.Timeframe1Day {
					if _, err := cache.GetLatestQuote(ctx, symbol); err != nil {
						app.Logger.Debug().Err(err).Str("symbol", symbol).Msg("Quote refresh failed")
					}
				}
				s.Freshness = marketdata.FormatFreshness(cache.Freshness(symbol, timeframe))
				results = append(results, s)
			}

			if output.IsJSON() {
				if err := output.JSON(results); err != nil {
					return err
				}
			} else {
				table := NewTable(output, "Symbol", "Bars", "Status")
				for _, s := range results {
					status := s.Freshness
					if s.Error != "" {
						status = output.Red(s.Error)
					}
					table.AddRow(s.Symbol, fmt.Sprintf("%d", s.Bars), status)
				}
				table.Render()
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d symbols failed to sync", failed, len(symbols))
			}
			return nil
		},
	}

	cmd.Flags().StringP("timeframe", "t", "1day", "Bar timeframe")
	cmd.Flags().String("from", "", "Start date (YYYY-MM-DD, default two years ago)")
	cmd.Flags().String("to", "", "End date (YYYY-MM-DD, default today)")
	return cmd
}

func newBarsStatusCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <symbol>...",
		Short: "Show when stored bars were last synced",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			symbols, err := normalizeSymbols(args)
			if err != nil {
				return err
			}
			tf, _ := cmd.Flags().GetString("timeframe")
			timeframe, err := parseTimeframe(tf)
			if err != nil {
				return err
			}
			st, err := app.Store()
			if err != nil {
				return err
			}
			cache, err := app.Cache()
			if err != nil {
				return err
			}

			type status struct {
				Symbol    string    `json:"symbol"`
				LatestBar time.Time `json:"latest_bar"`
				Synced    time.Time `json:"synced"`
				Fresh     bool      `json:"fresh"`
			}
			var rows []status
			for _, symbol := range symbols {
				latest, err := st.GetBarsFreshness(ctx, symbol, timeframe)
				if err != nil {
					return err
				}
				f := cache.Freshness(symbol, timeframe)
				rows = append(rows, status{Symbol: symbol, LatestBar: latest, Synced: f.LastUpdated, Fresh: f.IsFresh})
			}

			if output.IsJSON() {
				return output.JSON(rows)
			}
			table := NewTable(output, "Symbol", "Latest Bar", "Sync")
			for _, r := range rows {
				sync := marketdata.FormatFreshness(cache.Freshness(r.Symbol, timeframe))
				if r.Fresh {
					sync = output.Green(sync)
				} else {
					sync = output.Yellow(sync)
				}
				table.AddRow(r.Symbol, FormatDateTime(r.LatestBar), sync)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringP("timeframe", "t", "1day", "Bar timeframe")
	return cmd
}

func newBarsShowCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <symbol>",
		Short: "Show bars as served to backtests and risk",
		Example: `  quantcrux bars show SPY --limit 10
  quantcrux bars show SPY --from 2024-01-01 --to 2024-03-31`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			symbol, err := normalizeSymbol(args[0])
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			tf, _ := cmd.Flags().GetString("timeframe")
			timeframe, err := parseTimeframe(tf)
			if err != nil {
				return err
			}
			toStr, _ := cmd.Flags().GetString("to")
			to, err := parseDate(toStr, time.Now())
			if err != nil {
				return err
			}
			fromStr, _ := cmd.Flags().GetString("from")
			from, err := parseDate(fromStr, to.AddDate(0, 0, -30))
			if err != nil {
				return err
			}

			data, err := app.MarketData()
			if err != nil {
				return err
			}
			bars, err := data.GetBarSeries(ctx, symbol, timeframe, from, to)
			if err != nil {
				output.Error("Failed to load bars: %v", err)
				return err
			}
			if limit > 0 && len(bars) > limit {
				bars = bars[len(bars)-limit:]
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":    symbol,
					"timeframe": timeframe,
					"count":     len(bars),
					"bars":      bars,
				})
			}

			output.Bold("%s - %s", symbol, timeframe)
			output.Printf("  %d bars\n\n", len(bars))
			table := NewTable(output, "Date/Time", "Open", "High", "Low", "Close", "Volume", "Change")
			for i, b := range bars {
				change := "-"
				if i > 0 && bars[i-1].Close != 0 {
					pct := (b.Close - bars[i-1].Close) / bars[i-1].Close
					change = output.Signed(pct, fmt.Sprintf("%+.2f%%", pct*100))
				}
				ts := FormatDateTime(b.Timestamp)
				if timeframe == models.Timeframe1Day {
					ts = FormatDate(b.Timestamp)
				}
				table.AddRow(ts, FormatPrice(b.Open), FormatPrice(b.High), FormatPrice(b.Low),
					FormatPrice(b.Close), fmt.Sprintf("%d", b.Volume), change)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringP("timeframe", "t", "1day", "Bar timeframe")
	cmd.Flags().String("from", "", "Start date (YYYY-MM-DD, default 30 days ago)")
	cmd.Flags().String("to", "", "End date (YYYY-MM-DD, default today)")
	cmd.Flags().IntP("limit", "l", 0, "Show only the last N bars")
	return cmd
}
