package strategy

import (
	"errors"
	"strconv"

	"github.com/tidwall/gjson"

	"quantcrux/internal/analysis/indicators"
	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/models"
)

// crossed reports the direction of a crossover of a over b between the
// previous and current bar.
func crossed(prevA, prevB, a, b float64) models.Signal {
	if prevA <= prevB && a > b {
		return models.SignalBuy
	}
	if prevA >= prevB && a < b {
		return models.SignalSell
	}
	return models.SignalHold
}

// notReady maps short-window indicator errors to NO_SIGNAL.
func notReady(err error) (models.Signal, error) {
	if errors.Is(err, indicators.ErrInsufficientData) {
		return models.SignalNoSignal, nil
	}
	return models.SignalNoSignal, err
}

// smaCrossover buys when the short SMA crosses above the long SMA and sells
// on the opposite cross.
func smaCrossover(params gjson.Result) (rule, error) {
	short, err := intParam(params, "short_period", 10)
	if err != nil {
		return nil, err
	}
	long, err := intParam(params, "long_period", 20)
	if err != nil {
		return nil, err
	}
	if short >= long {
		return nil, qerrors.NewValidationError("short_period", short, "must be less than long_period")
	}

	shortSMA := indicators.NewSMA(short)
	longSMA := indicators.NewSMA(long)
	return func(window []models.PriceBar) (models.Signal, error) {
		bars := tail(window, long+1)
		if len(bars) < long+1 {
			return models.SignalNoSignal, nil
		}
		s, err := shortSMA.Calculate(bars)
		if err != nil {
			return notReady(err)
		}
		l, err := longSMA.Calculate(bars)
		if err != nil {
			return notReady(err)
		}
		n := len(bars) - 1
		return crossed(s[n-1], l[n-1], s[n], l[n]), nil
	}, nil
}

// rsiThreshold buys when RSI crosses up through the oversold level and sells
// when it crosses down through the overbought level.
func rsiThreshold(params gjson.Result, lookback int) (rule, error) {
	period, err := intParam(params, "period", 14)
	if err != nil {
		return nil, err
	}
	oversold, err := floatParam(params, "oversold", 30)
	if err != nil {
		return nil, err
	}
	overbought, err := floatParam(params, "overbought", 70)
	if err != nil {
		return nil, err
	}
	if oversold < 0 || overbought > 100 || oversold >= overbought {
		return nil, qerrors.NewValidationError("oversold", oversold, "must satisfy 0 <= oversold < overbought <= 100")
	}

	rsi := indicators.NewRSI(period)
	return func(window []models.PriceBar) (models.Signal, error) {
		bars := tail(window, max(lookback, period+2))
		if len(bars) < period+2 {
			return models.SignalNoSignal, nil
		}
		values, err := rsi.Calculate(bars)
		if err != nil {
			return notReady(err)
		}
		n := len(values) - 1
		prev, cur := values[n-1], values[n]
		if prev <= oversold && cur > oversold {
			return models.SignalBuy, nil
		}
		if prev >= overbought && cur < overbought {
			return models.SignalSell, nil
		}
		return models.SignalHold, nil
	}, nil
}

// macdCrossover trades crosses of the MACD line over its signal line.
func macdCrossover(params gjson.Result, lookback int) (rule, error) {
	fast, err := intParam(params, "fast_period", 12)
	if err != nil {
		return nil, err
	}
	slow, err := intParam(params, "slow_period", 26)
	if err != nil {
		return nil, err
	}
	signal, err := intParam(params, "signal_period", 9)
	if err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, qerrors.NewValidationError("fast_period", fast, "must be less than slow_period")
	}

	macd := indicators.NewMACD(fast, slow, signal)
	need := macd.Period() + 1
	return func(window []models.PriceBar) (models.Signal, error) {
		bars := tail(window, max(lookback, need))
		if len(bars) < need {
			return models.SignalNoSignal, nil
		}
		values, err := macd.Calculate(bars)
		if err != nil {
			return notReady(err)
		}
		line, sig := values["macd"], values["signal"]
		n := len(bars) - 1
		return crossed(line[n-1], sig[n-1], line[n], sig[n]), nil
	}, nil
}

// bollingerReversion buys a close below the lower band and sells a close
// above the upper band.
func bollingerReversion(params gjson.Result) (rule, error) {
	period, err := intParam(params, "period", 20)
	if err != nil {
		return nil, err
	}
	width, err := floatParam(params, "std_dev", 2)
	if err != nil {
		return nil, err
	}
	if width <= 0 {
		return nil, qerrors.NewValidationError("std_dev", width, "must be positive")
	}

	bb := indicators.NewBollingerBands(period, width)
	return func(window []models.PriceBar) (models.Signal, error) {
		bars := tail(window, period)
		if len(bars) < period {
			return models.SignalNoSignal, nil
		}
		values, err := bb.Calculate(bars)
		if err != nil {
			return notReady(err)
		}
		n := len(bars) - 1
		price := bars[n].Close
		switch {
		case price < values["lower"][n]:
			return models.SignalBuy, nil
		case price > values["upper"][n]:
			return models.SignalSell, nil
		}
		return models.SignalHold, nil
	}, nil
}

// buyAndHold buys on the first evaluated bar and holds. With params.exit_after
// set it sells once the window reaches that many bars.
func buyAndHold(params gjson.Result) rule {
	exitAfter := int(params.Get("exit_after").Int())
	return func(window []models.PriceBar) (models.Signal, error) {
		if exitAfter > 0 && len(window) >= exitAfter {
			return models.SignalSell, nil
		}
		return models.SignalBuy, nil
	}
}

// scripted replays fixed signals keyed by zero-based bar index:
//
//	{"type": "scripted", "signals": {"0": "BUY", "40": "SELL"}}
func scripted(signals gjson.Result) (rule, error) {
	if !signals.IsObject() {
		return nil, qerrors.NewValidationError("signals", signals.Raw, "must be an object keyed by bar index")
	}
	byIndex := make(map[int]models.Signal)
	var parseErr error
	signals.ForEach(func(key, value gjson.Result) bool {
		idx, err := strconv.Atoi(key.String())
		if err != nil || idx < 0 {
			parseErr = qerrors.NewValidationError("signals", key.String(), "key must be a non-negative bar index")
			return false
		}
		sig, err := parseSignal(value.String())
		if err != nil {
			parseErr = qerrors.NewValidationError("signals", value.String(), err.Error())
			return false
		}
		byIndex[idx] = sig
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	return func(window []models.PriceBar) (models.Signal, error) {
		if sig, ok := byIndex[len(window)-1]; ok {
			return sig, nil
		}
		return models.SignalHold, nil
	}, nil
}
