// Package synth produces placeholder bars that keep the chart moving while
// no live stream is available.
//
// Each tick extrapolates one bar from the last known bar: open is the prior
// close, close drifts by a small uniform random fraction, and high/low are
// just the body (no wicks). The generator is dormant until a last bar
// exists. It is owned by a single goroutine and is not safe for concurrent use.
package synth

import (
	"math"
	"math/rand"
	"time"

	"cryptopulse/internal/model"
)

// LastBarReader is the one thing the generator needs from the series.
type LastBarReader interface {
	LastBar() (model.Bar, bool)
}

// Config controls cadence and the random ranges.
type Config struct {
	// Interval between synthetic bars. Defaults to 5s.
	Interval time.Duration

	// MaxDrift bounds the per-tick close change as a fraction of the prior
	// close. Defaults to 0.0005 (±0.05%).
	MaxDrift float64

	// Volume is drawn uniformly from [MinVolume, MaxVolume). Defaults 1..11.
	MinVolume float64
	MaxVolume float64

	// Seed for the random source. Zero seeds from the clock.
	Seed int64
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.MaxDrift <= 0 {
		c.MaxDrift = 0.0005
	}
	if c.MinVolume <= 0 {
		c.MinVolume = 1
	}
	if c.MaxVolume <= c.MinVolume {
		c.MaxVolume = c.MinVolume + 10
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Generator emits one synthetic bar per Interval while started.
type Generator struct {
	cfg    Config
	src    LastBarReader
	rng    *rand.Rand
	ticker *time.Ticker
}

// New creates a stopped generator reading the last bar from src.
func New(cfg Config, src LastBarReader) *Generator {
	cfg.defaults()
	return &Generator{
		cfg: cfg,
		src: src,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Interval returns the configured cadence.
func (g *Generator) Interval() time.Duration { return g.cfg.Interval }

// Start begins ticking. Starting a running generator is a no-op.
func (g *Generator) Start() {
	if g.ticker != nil {
		return
	}
	g.ticker = time.NewTicker(g.cfg.Interval)
}

// Stop cancels the ticker. Stopping a stopped generator is a no-op.
// Ticks already buffered in the old channel are unreachable afterwards
// because C returns nil once stopped.
func (g *Generator) Stop() {
	if g.ticker == nil {
		return
	}
	g.ticker.Stop()
	g.ticker = nil
}

// Running reports whether the generator is started.
func (g *Generator) Running() bool { return g.ticker != nil }

// C returns the tick channel, or nil while stopped so a select on it blocks.
func (g *Generator) C() <-chan time.Time {
	if g.ticker == nil {
		return nil
	}
	return g.ticker.C
}

// Next builds the bar for a tick at now. ok is false while no last bar
// exists. The bar time is the wall-clock second, bumped past the last bar
// when the clock has not advanced beyond it, so a synthetic bar always
// appends and never rewrites a real one.
func (g *Generator) Next(now time.Time) (bar model.Bar, ok bool) {
	last, ok := g.src.LastBar()
	if !ok {
		return model.Bar{}, false
	}

	drift := (g.rng.Float64()*2 - 1) * g.cfg.MaxDrift
	open := last.Close
	close := open * (1 + drift)

	ts := now.Unix()
	if ts <= last.Time {
		ts = last.Time + 1
	}

	return model.Bar{
		Time:   ts,
		Open:   open,
		High:   math.Max(open, close),
		Low:    math.Min(open, close),
		Close:  close,
		Volume: g.cfg.MinVolume + g.rng.Float64()*(g.cfg.MaxVolume-g.cfg.MinVolume),
	}, true
}
