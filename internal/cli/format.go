package cli

import (
	"fmt"
	"strings"
	"time"

	"quantcrux/internal/analytics"
	"quantcrux/internal/models"
	"quantcrux/pkg/utils"
)

// FormatMetric formats an available metric as a percentage or a ratio.
func FormatMetric(m analytics.Metric, asPercent bool) string {
	if !m.Available {
		return "n/a"
	}
	if asPercent {
		return fmt.Sprintf("%.2f%%", m.Value*100)
	}
	return fmt.Sprintf("%.4f", m.Value)
}

// FormatPrice formats a price with two decimals.
func FormatPrice(price float64) string {
	return fmt.Sprintf("%.2f", price)
}

// FormatDate formats a date.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

// FormatDateTime formats a timestamp.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// FormatGreeks formats option Greeks on one line.
func FormatGreeks(g models.OptionGreeks) string {
	return fmt.Sprintf("Δ %.4f  Γ %.4f  Θ %.4f  ν %.4f  ρ %.4f", g.Delta, g.Gamma, g.Theta, g.Vega, g.Rho)
}

// FormatOptional formats an optional term field.
func FormatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return utils.FormatCompact(*v)
}

// FormatTradeExit formats the exit side of a trade, or "open".
func FormatTradeExit(t models.SimulatedTrade) string {
	if t.IsOpen() {
		return "open"
	}
	price := "-"
	if t.ExitPrice != nil {
		price = t.ExitPrice.StringFixed(2)
	}
	return fmt.Sprintf("%s @ %s", FormatDate(*t.ExitTime), price)
}

// TruncateString truncates a string to a maximum length.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// PadRight pads a string on the right to a fixed width.
func PadRight(s string, length int) string {
	if n := visibleLen(s); n < length {
		return s + strings.Repeat(" ", length-n)
	}
	return s
}

// PadLeft pads a string on the left to a fixed width.
func PadLeft(s string, length int) string {
	if n := visibleLen(s); n < length {
		return strings.Repeat(" ", length-n) + s
	}
	return s
}
