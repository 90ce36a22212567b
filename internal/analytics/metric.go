// Package analytics computes risk and performance statistics from return
// series, equity curves and trade ledgers.
package analytics

import (
	"encoding/json"
	"fmt"
)

// Metric is a statistic that may be unavailable for its input. An
// unavailable metric carries the reason instead of a zero value.
type Metric struct {
	Value     float64 `json:"value"`
	Available bool    `json:"available"`
	Reason    string  `json:"reason,omitempty"`
}

// Of wraps a computed value.
func Of(v float64) Metric {
	return Metric{Value: v, Available: true}
}

// Unavailable marks a metric that could not be computed.
func Unavailable(reason string) Metric {
	return Metric{Reason: reason}
}

// FromResult converts a (value, error) pair into a Metric.
func FromResult(v float64, err error) Metric {
	if err != nil {
		return Unavailable(err.Error())
	}
	return Of(v)
}

// String renders the value or "n/a".
func (m Metric) String() string {
	if !m.Available {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", m.Value)
}

// MarshalJSON emits null for unavailable metrics.
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Available {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON accepts a number or null.
func (m *Metric) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Unavailable("not reported")
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Of(v)
	return nil
}
