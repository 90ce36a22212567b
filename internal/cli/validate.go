package cli

import (
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	qerrors "quantcrux/internal/errors"
)

// Validation patterns
var (
	// Symbol pattern: tickers such as SPY, BRK.B, ^GSPC or BTC-USD
	symbolPattern = regexp.MustCompile(`^\^?[A-Z0-9][A-Z0-9.&=-]{0,19}$`)

	// Product ID pattern: alphanumeric with limited separators
	productIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)
)

// normalizeSymbol upper-cases and validates a symbol argument.
func normalizeSymbol(symbol string) (string, error) {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	if symbol == "" {
		return "", qerrors.NewValidationError("symbol", symbol, "cannot be empty")
	}
	if len(symbol) > 21 {
		return "", qerrors.NewValidationError("symbol", symbol, "too long (max 20 characters)")
	}
	if !symbolPattern.MatchString(symbol) {
		return "", qerrors.NewValidationError("symbol", symbol, "invalid symbol format")
	}
	return symbol, nil
}

// normalizeSymbols validates every symbol argument.
func normalizeSymbols(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		s, err := normalizeSymbol(a)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// productIDArg accepts exactly one well-formed product id.
func productIDArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	return validateProductID(args[0])
}

// validateProductID checks a product identifier.
func validateProductID(id string) error {
	if strings.TrimSpace(id) == "" {
		return qerrors.NewValidationError("product_id", id, "cannot be empty")
	}
	if !productIDPattern.MatchString(id) {
		return qerrors.NewValidationError("product_id", id, "use letters, digits, '_', '.' or '-' (max 64 characters)")
	}
	return nil
}
