// Package feed runs the live feed controller: the state machine that keeps
// the series for the selected pair fed from the exchange stream, and from
// the synthetic generator once the stream fails.
//
// Every input (pair selection, stream events, seed results, synthetic
// ticks) is handled on the single Run goroutine, so Store mutations are
// serialized. Exactly one source is active at a time and it is held as a
// tagged value, not as flags. Stream events and seed results carry the
// handle that produced them and are dropped unless that handle is the
// current one.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cryptopulse/internal/marketdata/stream"
	"cryptopulse/internal/marketdata/synth"
	"cryptopulse/internal/model"
	"cryptopulse/internal/series"
)

// Subscriber opens a live subscription for a pair. Implemented by
// stream.Client.
type Subscriber interface {
	Subscribe(ctx context.Context, pair model.Pair, out chan<- stream.Event) *stream.Session
}

// Config tunes the controller.
type Config struct {
	// StaleAfter is how long a streaming connection may stay silent before
	// the feed is reported Degraded. Zero means 30s; negative disables it.
	StaleAfter time.Duration

	// EventBuffer is the capacity of the stream event channel. Defaults to 256.
	EventBuffer int
}

func (c *Config) defaults() {
	if c.StaleAfter == 0 {
		c.StaleAfter = 30 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
}

// feedSource is the active source: *streamSource, *syntheticSource, or nil.
type feedSource interface {
	kind() Source
}

type streamSource struct {
	session *stream.Session
}

func (*streamSource) kind() Source { return SourceStream }

type syntheticSource struct{}

func (*syntheticSource) kind() Source { return SourceSynthetic }

// seedFetch is the handle of one in-flight history request.
type seedFetch struct {
	pair   model.Pair
	cancel context.CancelFunc
}

type seedResult struct {
	fetch *seedFetch
	seed  model.Seed
}

type commandKind int

const (
	cmdSelect commandKind = iota
	cmdStop
)

type command struct {
	kind commandKind
	pair model.Pair
	done chan struct{}
}

// Controller owns the feed for the active pair.
type Controller struct {
	cfg     Config
	store   *series.Store
	history model.HistoryFetcher
	streams Subscriber
	gen     *synth.Generator
	log     *slog.Logger

	commands chan command
	events   chan stream.Event
	seeds    chan seedResult

	// Owned by the Run goroutine.
	ctx        context.Context
	state      State
	reason     string
	pair       model.Pair
	seedSource model.SeedSource
	source     feedSource
	fetch      *seedFetch
	pending    *model.Bar
	lastData   time.Time
	since      time.Time

	mu     sync.RWMutex
	status Status

	// Hooks (optional). Called on the Run goroutine.
	OnStateChange func(prev, next Status)
	OnFailover    func(pair model.Pair, reason string)
	OnUpsert      func(src Source, res series.UpsertResult)
	OnDiscard     func(kind stream.EventKind)
}

// New wires a controller. gen must read from store.
func New(cfg Config, store *series.Store, history model.HistoryFetcher, streams Subscriber, gen *synth.Generator, log *slog.Logger) *Controller {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	now := time.Now()
	return &Controller{
		cfg:      cfg,
		store:    store,
		history:  history,
		streams:  streams,
		gen:      gen,
		log:      log.With("component", "feed"),
		commands: make(chan command),
		events:   make(chan stream.Event, cfg.EventBuffer),
		seeds:    make(chan seedResult, 1),
		since:    now,
		status:   Status{State: StateIdle, Source: SourceNone, Since: now},
	}
}

// Status returns the latest published status. Safe for concurrent use.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SelectPair switches the feed to pair, or restarts it when pair is already
// selected. It returns once the previous source is fully torn down and the
// controller is Connecting; seeding and streaming continue asynchronously.
func (c *Controller) SelectPair(ctx context.Context, pair model.Pair) error {
	if err := pair.Validate(); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	return c.send(ctx, command{kind: cmdSelect, pair: pair})
}

// Stop tears down the active source and leaves the controller Idle.
func (c *Controller) Stop(ctx context.Context) error {
	return c.send(ctx, command{kind: cmdStop})
}

func (c *Controller) send(ctx context.Context, cmd command) error {
	cmd.done = make(chan struct{})
	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is cancelled, then tears down and returns.
func (c *Controller) Run(ctx context.Context) {
	c.ctx = ctx

	var staleC <-chan time.Time
	if c.cfg.StaleAfter > 0 {
		every := c.cfg.StaleAfter / 4
		if every < 10*time.Millisecond {
			every = 10 * time.Millisecond
		}
		watchdog := time.NewTicker(every)
		defer watchdog.Stop()
		staleC = watchdog.C
	}

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			c.transition(StateIdle, "shutdown")
			return

		case cmd := <-c.commands:
			switch cmd.kind {
			case cmdSelect:
				c.selectPair(cmd.pair)
			case cmdStop:
				c.teardown()
				c.pending = nil
				c.transition(StateIdle, "stopped")
			}
			close(cmd.done)

		case res := <-c.seeds:
			c.onSeed(res)

		case ev := <-c.events:
			c.onEvent(ev)

		case now := <-c.gen.C():
			c.onSyntheticTick(now)

		case now := <-staleC:
			c.checkStale(now)
		}
	}
}

func (c *Controller) selectPair(pair model.Pair) {
	c.teardown()
	c.pending = nil
	c.seedSource = ""
	c.pair = pair
	c.store.Reset(pair)

	fctx, cancel := context.WithCancel(c.ctx)
	f := &seedFetch{pair: pair, cancel: cancel}
	c.fetch = f
	c.transition(StateConnecting, "")
	c.log.Info("pair selected", "pair", pair.Key())

	go func() {
		seed := c.history.Fetch(fctx, pair)
		select {
		case c.seeds <- seedResult{fetch: f, seed: seed}:
		case <-fctx.Done():
		}
	}()
}

func (c *Controller) onSeed(res seedResult) {
	if res.fetch != c.fetch {
		c.log.Debug("discarding seed for superseded selection", "pair", res.fetch.pair.Key())
		return
	}
	c.fetch.cancel()
	c.fetch = nil

	seed := res.seed
	if len(seed.Bars) == 0 {
		seed = c.history.Mock(c.pair)
	}
	if err := c.store.ReplaceAll(c.pair, seed.Bars); err != nil {
		c.log.Warn("seed rejected, using generated history", "pair", c.pair.Key(), "error", err)
		seed = c.history.Mock(c.pair)
		if err := c.store.ReplaceAll(c.pair, seed.Bars); err != nil {
			c.log.Error("generated history rejected", "pair", c.pair.Key(), "error", err)
			c.transition(StateIdle, "seed rejected")
			return
		}
	}
	c.seedSource = seed.Source
	c.log.Info("series seeded", "pair", c.pair.Key(), "bars", len(seed.Bars), "source", string(seed.Source))

	c.source = &streamSource{session: c.streams.Subscribe(c.ctx, c.pair, c.events)}
	c.lastData = time.Now()
	c.transition(c.state, c.reason)
}

func (c *Controller) onEvent(ev stream.Event) {
	src, ok := c.source.(*streamSource)
	if !ok || src.session != ev.Session {
		c.log.Debug("discarding event from inactive stream", "kind", ev.Kind.String())
		if c.OnDiscard != nil {
			c.OnDiscard(ev.Kind)
		}
		return
	}

	switch ev.Kind {
	case stream.EventOpened:
		c.lastData = time.Now()
		if c.state == StateConnecting {
			c.transition(StateStreaming, "")
		}

	case stream.EventMessage:
		if c.state != StateStreaming && c.state != StateDegraded {
			c.log.Debug("message before open, dropped", "state", c.state.String())
			return
		}
		bar := ev.Bar
		res := c.store.Upsert(bar)
		if res != series.Stale {
			c.pending = &bar
		}
		c.lastData = time.Now()
		if c.OnUpsert != nil {
			c.OnUpsert(SourceStream, res)
		}
		if c.state == StateDegraded {
			c.transition(StateStreaming, "")
		} else {
			c.publish()
		}

	case stream.EventError:
		reason := "stream error"
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		c.failover(reason)

	case stream.EventClosed:
		if ev.NormalClose() {
			c.log.Info("stream closed normally", "pair", c.pair.Key())
			c.teardown()
			c.transition(StateIdle, "stream closed")
			return
		}
		c.failover(fmt.Sprintf("stream closed abnormally (code %d)", ev.Code))
	}
}

// failover replaces the failed stream with the synthetic generator. The
// stream is not retried; a new SelectPair is the only way back.
func (c *Controller) failover(reason string) {
	if src, ok := c.source.(*streamSource); ok {
		src.session.Close()
	}
	c.source = &syntheticSource{}
	c.gen.Start()
	c.log.Warn("failing over to synthetic feed", "pair", c.pair.Key(), "reason", reason)
	c.transition(StateSynthetic, reason)
	if c.OnFailover != nil {
		c.OnFailover(c.pair, reason)
	}
}

func (c *Controller) onSyntheticTick(now time.Time) {
	if _, ok := c.source.(*syntheticSource); !ok {
		return
	}
	bar, ok := c.gen.Next(now)
	if !ok {
		return
	}
	res := c.store.Upsert(bar)
	if c.OnUpsert != nil {
		c.OnUpsert(SourceSynthetic, res)
	}
}

func (c *Controller) checkStale(now time.Time) {
	if c.state != StateStreaming {
		return
	}
	if silent := now.Sub(c.lastData); silent >= c.cfg.StaleAfter {
		c.transition(StateDegraded, fmt.Sprintf("no stream data for %s", silent.Truncate(time.Millisecond)))
	}
}

// teardown stops whichever source is active and cancels any in-flight
// seed. It returns only after the stream reader has exited.
func (c *Controller) teardown() {
	if c.fetch != nil {
		c.fetch.cancel()
		c.fetch = nil
	}
	switch src := c.source.(type) {
	case *streamSource:
		src.session.Close()
	case *syntheticSource:
		c.gen.Stop()
	}
	c.source = nil
}

func (c *Controller) transition(to State, reason string) {
	prev := c.Status()
	c.state = to
	c.reason = reason
	c.since = time.Now()
	next := c.publish()
	if to != prev.State || next.Pair != prev.Pair {
		c.log.Info("feed state", "pair", next.Pair.Key(), "from", prev.State.String(), "to", to.String(), "reason", reason)
	}
	if c.OnStateChange != nil {
		c.OnStateChange(prev, next)
	}
}

func (c *Controller) publish() Status {
	st := Status{
		Pair:        c.pair,
		State:       c.state,
		Reason:      c.reason,
		Source:      SourceNone,
		SeedSource:  c.seedSource,
		PendingTick: c.pending,
		Since:       c.since,
	}
	if c.source != nil {
		st.Source = c.source.kind()
	}
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
	return st
}
