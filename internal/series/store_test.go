package series

import (
	"errors"
	"sync"
	"testing"

	"cryptopulse/internal/model"
)

var btc1h = model.Pair{Symbol: "BTCUSDT", Interval: "1h"}

// recordingSink captures every notification the Store makes.
type recordingSink struct {
	mu       sync.Mutex
	replaces [][]model.Bar
	upserts  []model.Bar
}

func (r *recordingSink) ReplaceAll(_ model.Pair, bars []model.Bar) {
	r.mu.Lock()
	r.replaces = append(r.replaces, bars)
	r.mu.Unlock()
}

func (r *recordingSink) UpsertBar(_ model.Pair, bar model.Bar) {
	r.mu.Lock()
	r.upserts = append(r.upserts, bar)
	r.mu.Unlock()
}

func bar(t int64, close float64) model.Bar {
	return model.Bar{Time: t, Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func seed3() []model.Bar {
	return []model.Bar{bar(100, 10), bar(200, 11), bar(300, 12)}
}

func TestStore_ReplaceAllThenLastBar(t *testing.T) {
	sink := &recordingSink{}
	s := New(sink)

	if _, ok := s.LastBar(); ok {
		t.Fatal("expected no last bar before seeding")
	}

	if err := s.ReplaceAll(btc1h, seed3()); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	last, ok := s.LastBar()
	if !ok || last.Time != 300 || last.Close != 12 {
		t.Errorf("LastBar = %+v, %v; want time=300 close=12", last, ok)
	}
	if len(sink.replaces) != 1 || len(sink.replaces[0]) != 3 {
		t.Errorf("expected one full redraw of 3 bars, got %v", sink.replaces)
	}
	if s.Pair() != btc1h {
		t.Errorf("Pair() = %v", s.Pair())
	}
}

// Seed [100,200,300]; upsert 300 coalesces, upsert 400 appends.
func TestStore_ExampleScenario(t *testing.T) {
	sink := &recordingSink{}
	s := New(sink)
	if err := s.ReplaceAll(btc1h, seed3()); err != nil {
		t.Fatal(err)
	}

	if res := s.Upsert(model.Bar{Time: 300, Open: 12, High: 12.6, Low: 11.9, Close: 12.5, Volume: 3}); res != Replaced {
		t.Errorf("upsert 300: got %v, want replaced", res)
	}
	if s.Len() != 3 {
		t.Errorf("len after coalesce = %d, want 3", s.Len())
	}
	if last, _ := s.LastBar(); last.Close != 12.5 {
		t.Errorf("last close = %v, want 12.5", last.Close)
	}

	if res := s.Upsert(model.Bar{Time: 400, Open: 12.5, High: 13, Low: 12.5, Close: 13, Volume: 1}); res != Appended {
		t.Errorf("upsert 400: got %v, want appended", res)
	}
	if s.Len() != 4 {
		t.Errorf("len after append = %d, want 4", s.Len())
	}
	if last, _ := s.LastBar(); last.Time != 400 {
		t.Errorf("last time = %d, want 400", last.Time)
	}

	if len(sink.upserts) != 2 {
		t.Fatalf("expected 2 incremental notifications, got %d", len(sink.upserts))
	}
	if sink.upserts[0].Time != 300 || sink.upserts[1].Time != 400 {
		t.Errorf("sink got wrong bars: %+v", sink.upserts)
	}
}

func TestStore_EqualTimeCoalescing(t *testing.T) {
	s := New(nil)
	s.Upsert(bar(100, 10))
	b1 := bar(200, 20)
	b2 := model.Bar{Time: 200, Open: 20, High: 22, Low: 19, Close: 21, Volume: 7}
	s.Upsert(b1)
	s.Upsert(b2)

	_, bars := s.Snapshot()
	if len(bars) != 2 {
		t.Fatalf("len = %d, want 2", len(bars))
	}
	if bars[1] != b2 {
		t.Errorf("last bar = %+v, want %+v", bars[1], b2)
	}
}

func TestStore_IncreasingAppends(t *testing.T) {
	s := New(nil)
	times := []int64{5, 10, 10, 11, 20, 20, 20, 35}
	distinct := map[int64]bool{}
	for _, ts := range times {
		s.Upsert(bar(ts, float64(ts)))
		distinct[ts] = true
	}
	_, bars := s.Snapshot()
	if len(bars) != len(distinct) {
		t.Fatalf("len = %d, want %d", len(bars), len(distinct))
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Time <= bars[i-1].Time {
			t.Errorf("bars not strictly increasing at %d: %d <= %d", i, bars[i].Time, bars[i-1].Time)
		}
	}
}

func TestStore_StaleUpsertIgnored(t *testing.T) {
	sink := &recordingSink{}
	s := New(sink)
	if err := s.ReplaceAll(btc1h, seed3()); err != nil {
		t.Fatal(err)
	}
	var staleCount int
	s.OnStale = func(model.Pair, model.Bar) { staleCount++ }

	_, before := s.Snapshot()
	if res := s.Upsert(bar(250, 99)); res != Stale {
		t.Errorf("got %v, want stale", res)
	}
	_, after := s.Snapshot()

	if len(before) != len(after) {
		t.Fatalf("len changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("bar %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	if staleCount != 1 {
		t.Errorf("OnStale called %d times, want 1", staleCount)
	}
	if len(sink.upserts) != 0 {
		t.Errorf("stale bar must not reach the sink, got %+v", sink.upserts)
	}
}

func TestStore_ReplaceAllRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		bars []model.Bar
	}{
		{"out of order", []model.Bar{bar(100, 1), bar(300, 1), bar(200, 1)}},
		{"duplicate time", []model.Bar{bar(100, 1), bar(100, 2)}},
		{"broken ohlc", []model.Bar{bar(100, 1), {Time: 200, Open: 5, High: 4, Low: 3, Close: 4.5}}},
		{"non-positive price", []model.Bar{{Time: 100, Open: 0, High: 1, Low: 0, Close: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			s := New(sink)
			if err := s.ReplaceAll(btc1h, seed3()); err != nil {
				t.Fatal(err)
			}

			eth := model.Pair{Symbol: "ETHUSDT", Interval: "1h"}
			err := s.ReplaceAll(eth, tt.bars)
			var invalid *InvalidSeriesError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidSeriesError, got %v", err)
			}

			if s.Pair() != btc1h {
				t.Errorf("pair changed to %v after rejected seed", s.Pair())
			}
			if last, _ := s.LastBar(); last.Time != 300 {
				t.Errorf("prior series not retained, last = %+v", last)
			}
			if len(sink.replaces) != 1 {
				t.Errorf("rejected seed must not redraw, got %d redraws", len(sink.replaces))
			}
		})
	}
}

func TestStore_ReplaceAllCopiesInput(t *testing.T) {
	s := New(nil)
	in := seed3()
	if err := s.ReplaceAll(btc1h, in); err != nil {
		t.Fatal(err)
	}
	in[2].Close = 1000
	if last, _ := s.LastBar(); last.Close != 12 {
		t.Errorf("store aliased caller slice, last close = %v", last.Close)
	}
}

func TestStore_Tail(t *testing.T) {
	s := New(nil)
	if err := s.ReplaceAll(btc1h, seed3()); err != nil {
		t.Fatal(err)
	}
	if got := s.Tail(2); len(got) != 2 || got[0].Time != 200 || got[1].Time != 300 {
		t.Errorf("Tail(2) = %+v", got)
	}
	if got := s.Tail(10); len(got) != 3 {
		t.Errorf("Tail(10) len = %d, want 3", len(got))
	}
	if got := s.Tail(0); got != nil {
		t.Errorf("Tail(0) = %+v, want nil", got)
	}
}

func TestStore_Reset(t *testing.T) {
	sink := &recordingSink{}
	s := New(sink)
	if err := s.ReplaceAll(btc1h, seed3()); err != nil {
		t.Fatal(err)
	}
	eth := model.Pair{Symbol: "ETHUSDT", Interval: "1h"}
	s.Reset(eth)

	pair, bars := s.Snapshot()
	if pair != eth || len(bars) != 0 {
		t.Fatalf("after Reset: pair=%v bars=%d, want %v with no bars", pair, len(bars), eth)
	}
	if _, ok := s.LastBar(); ok {
		t.Error("LastBar should be absent after Reset")
	}
	if n := len(sink.replaces); n != 2 || len(sink.replaces[1]) != 0 {
		t.Errorf("sink replaces = %d (last %d bars), want an empty redraw", n, len(sink.replaces[n-1]))
	}

	if res := s.Upsert(bar(50, 1)); res != Appended {
		t.Errorf("first upsert after Reset = %v, want appended", res)
	}
}
