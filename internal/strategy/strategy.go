// Package strategy evaluates JSON strategy rule configurations against a
// window of price bars and emits one signal per bar.
//
// A rule configuration looks like:
//
//	{"type": "sma_crossover", "params": {"short_period": 10, "long_period": 20}}
//
// Supported types are sma_crossover, rsi, macd, bollinger, buy_and_hold and
// scripted.
package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/models"
)

// Rule types.
const (
	TypeSMACrossover = "sma_crossover"
	TypeRSI          = "rsi"
	TypeMACD         = "macd"
	TypeBollinger    = "bollinger"
	TypeBuyAndHold   = "buy_and_hold"
	TypeScripted     = "scripted"
)

// DefaultLookback bounds how many trailing bars recursive indicators see.
const DefaultLookback = 250

// rule turns a bar window into a signal. The last bar of the window is the
// bar being decided.
type rule func(window []models.PriceBar) (models.Signal, error)

// Evaluator interprets strategy rule configurations.
type Evaluator struct {
	lookback int
}

// NewEvaluator creates an evaluator with the default lookback.
func NewEvaluator() *Evaluator {
	return &Evaluator{lookback: DefaultLookback}
}

// WithLookback returns a copy of the evaluator using n trailing bars.
func (e *Evaluator) WithLookback(n int) *Evaluator {
	if n <= 0 {
		n = DefaultLookback
	}
	return &Evaluator{lookback: n}
}

// Evaluate parses configJSON and decides the signal for the last bar of
// window. Windows too short for the rule's indicators yield NO_SIGNAL.
func (e *Evaluator) Evaluate(configJSON string, window []models.PriceBar) (models.Signal, error) {
	r, err := e.compile(configJSON)
	if err != nil {
		return models.SignalNoSignal, err
	}
	if len(window) == 0 {
		return models.SignalNoSignal, nil
	}
	return r(window)
}

// Source is a compiled rule bound to a single configuration. It satisfies
// the backtest signal source contract.
type Source struct {
	name string
	rule rule
}

// Compile parses configJSON once so the rule can be replayed over many bars.
func (e *Evaluator) Compile(configJSON string) (*Source, error) {
	r, err := e.compile(configJSON)
	if err != nil {
		return nil, err
	}
	return &Source{name: gjson.Get(configJSON, "type").String(), rule: r}, nil
}

// Name returns the rule type.
func (s *Source) Name() string {
	return s.name
}

// Evaluate decides the signal for the last bar of window.
func (s *Source) Evaluate(ctx context.Context, window []models.PriceBar) (models.Signal, error) {
	if err := ctx.Err(); err != nil {
		return models.SignalNoSignal, err
	}
	if len(window) == 0 {
		return models.SignalNoSignal, nil
	}
	return s.rule(window)
}

func (e *Evaluator) compile(configJSON string) (rule, error) {
	if !gjson.Valid(configJSON) {
		return nil, qerrors.NewValidationError("strategy", configJSON, "invalid JSON")
	}
	cfg := gjson.Parse(configJSON)
	if !cfg.IsObject() {
		return nil, qerrors.NewValidationError("strategy", configJSON, "root must be an object")
	}
	params := cfg.Get("params")

	kind := strings.ToLower(strings.TrimSpace(cfg.Get("type").String()))
	switch kind {
	case TypeSMACrossover:
		return smaCrossover(params)
	case TypeRSI:
		return rsiThreshold(params, e.lookback)
	case TypeMACD:
		return macdCrossover(params, e.lookback)
	case TypeBollinger:
		return bollingerReversion(params)
	case TypeBuyAndHold:
		return buyAndHold(params), nil
	case TypeScripted:
		return scripted(cfg.Get("signals"))
	case "":
		return nil, qerrors.NewValidationError("type", "", "strategy type is required")
	default:
		return nil, qerrors.NewValidationError("type", kind, "unknown strategy type")
	}
}

// intParam reads a positive integer parameter with a default.
func intParam(params gjson.Result, key string, def int) (int, error) {
	v := params.Get(key)
	if !v.Exists() {
		return def, nil
	}
	if v.Type != gjson.Number || v.Float() != float64(v.Int()) || v.Int() <= 0 {
		return 0, qerrors.NewValidationError(key, v.Raw, "must be a positive integer")
	}
	return int(v.Int()), nil
}

// floatParam reads a numeric parameter with a default.
func floatParam(params gjson.Result, key string, def float64) (float64, error) {
	v := params.Get(key)
	if !v.Exists() {
		return def, nil
	}
	if v.Type != gjson.Number {
		return 0, qerrors.NewValidationError(key, v.Raw, "must be a number")
	}
	return v.Float(), nil
}

// tail returns at most n trailing bars.
func tail(window []models.PriceBar, n int) []models.PriceBar {
	if len(window) <= n {
		return window
	}
	return window[len(window)-n:]
}

func parseSignal(s string) (models.Signal, error) {
	switch models.Signal(strings.ToUpper(strings.TrimSpace(s))) {
	case models.SignalBuy:
		return models.SignalBuy, nil
	case models.SignalSell:
		return models.SignalSell, nil
	case models.SignalHold:
		return models.SignalHold, nil
	case models.SignalNoSignal:
		return models.SignalNoSignal, nil
	}
	return models.SignalNoSignal, fmt.Errorf("unknown signal %q", s)
}
