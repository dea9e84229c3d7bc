package history

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"cryptopulse/internal/model"

	"github.com/shopspring/decimal"
)

// basePrices seed the random walk so generated charts sit near real levels.
var basePrices = []struct {
	asset string
	price float64
}{
	{"BTC", 115000},
	{"ETH", 4000},
	{"BNB", 700},
	{"SOL", 220},
	{"XRP", 2.5},
}

const (
	mockVolatility = 0.015 // ±0.75% per bar before trend
	mockTrend      = 0.005 // amplitude of the slow sine wave
	mockBaseVolume = 100.0
)

// Mock returns Limit generated bars for pair ending at the current
// interval bucket. Bars satisfy OHLC ordering and are bucket-aligned
// so a live update for the current bucket coalesces with the last one.
func (c *Client) Mock(pair model.Pair) model.Seed {
	c.mu.Lock()
	bars := generateMock(pair, c.cfg.Limit, c.now(), c.rng)
	c.mu.Unlock()
	return model.Seed{Pair: pair, Bars: bars, Source: model.SeedFromMock}
}

func basePrice(symbol string) float64 {
	for _, b := range basePrices {
		if strings.Contains(symbol, b.asset) {
			return b.price
		}
	}
	return 100
}

func pricePlaces(symbol string) int32 {
	if strings.Contains(symbol, "BTC") {
		return 0
	}
	return 2
}

func generateMock(pair model.Pair, limit int, now time.Time, rng *rand.Rand) []model.Bar {
	step := pair.Duration()
	last := now.Truncate(step)
	places := pricePlaces(pair.Symbol)

	bars := make([]model.Bar, 0, limit)
	price := basePrice(pair.Symbol)
	for i := 0; i < limit; i++ {
		ts := last.Add(-time.Duration(limit-1-i) * step)
		change := (rng.Float64()-0.5)*mockVolatility + math.Sin(float64(i)*0.05)*mockTrend

		open := price
		close := open * (1 + change)
		wick := rng.Float64()*0.01 + 0.002
		high := math.Max(open, close) * (1 + wick)
		low := math.Min(open, close) * (1 - wick)
		volume := mockBaseVolume * (1 + math.Abs(change)*10) * (0.5 + rng.Float64())

		bars = append(bars, model.Bar{
			Time:   ts.Unix(),
			Open:   round(open, places),
			High:   round(high, places),
			Low:    round(low, places),
			Close:  round(close, places),
			Volume: round(volume, 2),
		})
		price = close
	}
	return bars
}

// round is monotonic, so rounding each field keeps low <= body <= high.
func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
