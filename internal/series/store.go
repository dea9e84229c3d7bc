// Package series holds the live OHLCV series for the active pair.
//
// The Store has exactly one writer at a time (the feed controller's event
// loop) and any number of readers (HTTP handlers, the analysis snapshotter).
// Chart sink notifications are made after the lock is released but from the
// writer's goroutine, so sinks see changes in series order.
package series

import (
	"fmt"
	"sync"

	"cryptopulse/internal/model"
)

// InvalidSeriesError is returned by ReplaceAll when the bars are out of
// order, duplicated, or violate OHLC ordering. The prior series is kept.
type InvalidSeriesError struct {
	Pair   model.Pair
	Index  int
	Reason string
}

func (e *InvalidSeriesError) Error() string {
	return fmt.Sprintf("series: invalid seed for %s at bar %d: %s", e.Pair, e.Index, e.Reason)
}

// UpsertResult says what Upsert did with a bar.
type UpsertResult int

const (
	Appended UpsertResult = iota
	Replaced
	Stale
)

func (r UpsertResult) String() string {
	switch r {
	case Appended:
		return "appended"
	case Replaced:
		return "replaced"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Store is the canonical bar sequence for the active pair, oldest first,
// unique and strictly increasing by time.
type Store struct {
	mu   sync.RWMutex
	pair model.Pair
	bars []model.Bar

	sink model.ChartSink

	// OnStale is called when Upsert discards an out-of-order bar (optional).
	OnStale func(pair model.Pair, bar model.Bar)
}

// New creates an empty Store. sink may be nil.
func New(sink model.ChartSink) *Store {
	return &Store{sink: sink}
}

// ReplaceAll validates bars and swaps them in as the series for pair.
// On success the sink gets a full redraw.
func (s *Store) ReplaceAll(pair model.Pair, bars []model.Bar) error {
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			return &InvalidSeriesError{Pair: pair, Index: i, Reason: err.Error()}
		}
		if i > 0 && bars[i].Time <= bars[i-1].Time {
			return &InvalidSeriesError{
				Pair:   pair,
				Index:  i,
				Reason: fmt.Sprintf("time %d not after %d", bars[i].Time, bars[i-1].Time),
			}
		}
	}

	cp := make([]model.Bar, len(bars))
	copy(cp, bars)

	s.mu.Lock()
	s.pair = pair
	s.bars = cp
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.ReplaceAll(pair, clone(cp))
	}
	return nil
}

// Reset empties the series and assigns it to pair, so nothing of the
// previous pair stays readable while the new one is being seeded. The sink
// gets an empty redraw.
func (s *Store) Reset(pair model.Pair) {
	s.mu.Lock()
	s.pair = pair
	s.bars = nil
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.ReplaceAll(pair, []model.Bar{})
	}
}

// Upsert replaces the last bar when times match, appends when bar is newer,
// and ignores it when older. It never fails.
func (s *Store) Upsert(bar model.Bar) UpsertResult {
	s.mu.Lock()
	pair := s.pair
	n := len(s.bars)

	var res UpsertResult
	switch {
	case n == 0 || bar.Time > s.bars[n-1].Time:
		s.bars = append(s.bars, bar)
		res = Appended
	case bar.Time == s.bars[n-1].Time:
		s.bars[n-1] = bar
		res = Replaced
	default:
		res = Stale
	}
	s.mu.Unlock()

	if res == Stale {
		if s.OnStale != nil {
			s.OnStale(pair, bar)
		}
		return res
	}
	if s.sink != nil {
		s.sink.UpsertBar(pair, bar)
	}
	return res
}

// LastBar returns the newest bar. ok is false only before any seed or upsert.
func (s *Store) LastBar() (bar model.Bar, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.bars) == 0 {
		return model.Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Pair returns the pair the current series belongs to.
func (s *Store) Pair() model.Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

// Len returns the number of stored bars.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars)
}

// Snapshot returns the pair and a copy of all bars.
func (s *Store) Snapshot() (model.Pair, []model.Bar) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, clone(s.bars)
}

// Tail returns a copy of the newest n bars (fewer if the series is shorter).
func (s *Store) Tail(n int) []model.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	if n > len(s.bars) {
		n = len(s.bars)
	}
	return clone(s.bars[len(s.bars)-n:])
}

func clone(bars []model.Bar) []model.Bar {
	out := make([]model.Bar, len(bars))
	copy(out, bars)
	return out
}
