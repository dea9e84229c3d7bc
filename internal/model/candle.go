package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// Bar is one OHLCV candle. Time is the bucket open in whole seconds since
// the Unix epoch (exchange milliseconds are truncated).
//
// Prices are float64 rather than fixed-point: crypto quotes range from
// sub-dollar (XRP) to six figures (BTC) with exchange-defined precision.
type Bar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Validate checks that prices are positive and finite, volume is
// non-negative, and low <= min(open, close) <= max(open, close) <= high.
func (b Bar) Validate() error {
	for _, p := range [...]struct {
		name string
		v    float64
	}{{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}} {
		if math.IsNaN(p.v) || math.IsInf(p.v, 0) || p.v <= 0 {
			return fmt.Errorf("%s must be a positive number, got %v", p.name, p.v)
		}
	}
	if math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) || b.Volume < 0 {
		return fmt.Errorf("volume must be non-negative, got %v", b.Volume)
	}
	if b.Low > math.Min(b.Open, b.Close) {
		return fmt.Errorf("low %v above body %v..%v", b.Low, math.Min(b.Open, b.Close), math.Max(b.Open, b.Close))
	}
	if b.High < math.Max(b.Open, b.Close) {
		return fmt.Errorf("high %v below body %v..%v", b.High, math.Min(b.Open, b.Close), math.Max(b.Open, b.Close))
	}
	return nil
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}
