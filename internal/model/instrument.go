package model

import (
	"fmt"
	"strings"
	"time"
)

// SupportedSymbols are the trading pairs the chart offers.
var SupportedSymbols = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT"}

// SupportedIntervals are the candle intervals the chart offers, shortest first.
var SupportedIntervals = []string{"1m", "5m", "15m", "1h", "4h", "1d"}

var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// Pair identifies one chart: a symbol at a candle interval.
type Pair struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// DefaultPair is shown when nothing else has been selected.
var DefaultPair = Pair{Symbol: "BTCUSDT", Interval: "1h"}

// Key returns "SYMBOL@interval", e.g. "BTCUSDT@1h".
func (p Pair) Key() string {
	return p.Symbol + "@" + p.Interval
}

func (p Pair) String() string { return p.Key() }

// IsZero reports whether no pair has been set.
func (p Pair) IsZero() bool { return p.Symbol == "" && p.Interval == "" }

// Duration returns the candle width. Unknown intervals map to one hour.
func (p Pair) Duration() time.Duration {
	if d, ok := intervalDurations[p.Interval]; ok {
		return d
	}
	return time.Hour
}

// Validate rejects symbols and intervals outside the supported sets.
func (p Pair) Validate() error {
	if !contains(SupportedSymbols, p.Symbol) {
		return fmt.Errorf("unsupported symbol %q", p.Symbol)
	}
	if _, ok := intervalDurations[p.Interval]; !ok {
		return fmt.Errorf("unsupported interval %q", p.Interval)
	}
	return nil
}

// ParsePair accepts "BTCUSDT@1h" or "BTCUSDT:1h". The symbol is upper-cased.
func ParsePair(s string) (Pair, error) {
	sep := strings.IndexAny(s, "@:")
	if sep <= 0 || sep == len(s)-1 {
		return Pair{}, fmt.Errorf("invalid pair %q: want SYMBOL@interval", s)
	}
	p := Pair{
		Symbol:   strings.ToUpper(strings.TrimSpace(s[:sep])),
		Interval: strings.TrimSpace(s[sep+1:]),
	}
	if err := p.Validate(); err != nil {
		return Pair{}, err
	}
	return p, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
