package synth

import (
	"math"
	"testing"
	"time"

	"cryptopulse/internal/model"
)

type fixedLast struct {
	bar model.Bar
	ok  bool
}

func (f *fixedLast) LastBar() (model.Bar, bool) { return f.bar, f.ok }

func TestGenerator_DormantWithoutLastBar(t *testing.T) {
	g := New(Config{Seed: 1}, &fixedLast{})
	if _, ok := g.Next(time.Now()); ok {
		t.Fatal("expected no bar while series is empty")
	}
}

func TestGenerator_NextContinuesFromClose(t *testing.T) {
	last := model.Bar{Time: 1000, Open: 99, High: 101, Low: 98, Close: 100, Volume: 5}
	g := New(Config{Seed: 42}, &fixedLast{bar: last, ok: true})

	for i := 0; i < 500; i++ {
		now := time.Unix(2000+int64(i), 0)
		b, ok := g.Next(now)
		if !ok {
			t.Fatal("expected a bar")
		}
		if b.Open != last.Close {
			t.Fatalf("open = %v, want prior close %v", b.Open, last.Close)
		}
		if d := math.Abs(b.Close/b.Open - 1); d > 0.0005+1e-12 {
			t.Fatalf("drift %v exceeds ±0.05%%", d)
		}
		if b.High != math.Max(b.Open, b.Close) || b.Low != math.Min(b.Open, b.Close) {
			t.Fatalf("high/low must be the body: %+v", b)
		}
		if b.Volume < 1 || b.Volume >= 11 {
			t.Fatalf("volume %v outside [1, 11)", b.Volume)
		}
		if b.Time != now.Unix() {
			t.Fatalf("time = %d, want wall-clock second %d", b.Time, now.Unix())
		}
		if err := b.Validate(); err != nil {
			t.Fatalf("invalid synthetic bar: %v", err)
		}
	}
}

func TestGenerator_TimeAlwaysAfterLastBar(t *testing.T) {
	last := model.Bar{Time: 5000, Open: 10, High: 10, Low: 10, Close: 10}
	g := New(Config{Seed: 7}, &fixedLast{bar: last, ok: true})

	b, _ := g.Next(time.Unix(4000, 0))
	if b.Time != 5001 {
		t.Errorf("time = %d, want 5001 when clock is behind the last bar", b.Time)
	}
}

func TestGenerator_StartStopIdempotent(t *testing.T) {
	g := New(Config{Interval: 10 * time.Millisecond, Seed: 1}, &fixedLast{})

	if g.Running() || g.C() != nil {
		t.Fatal("new generator should be stopped with a nil channel")
	}
	g.Stop() // no-op

	g.Start()
	c := g.C()
	g.Start() // no-op: same ticker
	if g.C() != c {
		t.Error("second Start replaced the ticker")
	}

	select {
	case <-g.C():
	case <-time.After(time.Second):
		t.Fatal("no tick within 1s")
	}

	g.Stop()
	g.Stop()
	if g.Running() || g.C() != nil {
		t.Error("generator still running after Stop")
	}
}

func TestConfig_Defaults(t *testing.T) {
	g := New(Config{}, &fixedLast{})
	if g.Interval() != 5*time.Second {
		t.Errorf("default interval = %v, want 5s", g.Interval())
	}
	if g.cfg.MaxDrift != 0.0005 || g.cfg.MinVolume != 1 || g.cfg.MaxVolume != 11 {
		t.Errorf("unexpected defaults: %+v", g.cfg)
	}
}
