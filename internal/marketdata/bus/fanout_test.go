package bus

import (
	"testing"

	"cryptopulse/internal/model"
)

type recordingSink struct {
	replaced [][]model.Bar
	upserts  []model.Bar
}

func (r *recordingSink) ReplaceAll(_ model.Pair, bars []model.Bar) {
	r.replaced = append(r.replaced, bars)
}
func (r *recordingSink) UpsertBar(_ model.Pair, bar model.Bar) { r.upserts = append(r.upserts, bar) }

type panickingSink struct{}

func (panickingSink) ReplaceAll(model.Pair, []model.Bar) { panic("replace") }
func (panickingSink) UpsertBar(model.Pair, model.Bar)    { panic("upsert") }

func TestFanOut_ForwardsToAll(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	fo := New()
	fo.Add("a", a)
	fo.Add("b", b)

	pair := model.DefaultPair
	fo.ReplaceAll(pair, []model.Bar{{Time: 1}, {Time: 2}})
	fo.UpsertBar(pair, model.Bar{Time: 3})

	for name, s := range map[string]*recordingSink{"a": a, "b": b} {
		if len(s.replaced) != 1 || len(s.replaced[0]) != 2 {
			t.Errorf("%s: replaced = %v", name, s.replaced)
		}
		if len(s.upserts) != 1 || s.upserts[0].Time != 3 {
			t.Errorf("%s: upserts = %v", name, s.upserts)
		}
	}
	if fo.Len() != 2 {
		t.Errorf("Len = %d", fo.Len())
	}
}

func TestFanOut_RecoversPanickingSink(t *testing.T) {
	after := &recordingSink{}
	fo := New()
	fo.Add("bad", panickingSink{})
	fo.Add("after", after)

	var panicked []string
	fo.OnPanic = func(name string, _ any) { panicked = append(panicked, name) }

	fo.UpsertBar(model.DefaultPair, model.Bar{Time: 10})
	fo.ReplaceAll(model.DefaultPair, nil)

	if len(panicked) != 2 || panicked[0] != "bad" {
		t.Errorf("panicked = %v", panicked)
	}
	if len(after.upserts) != 1 || len(after.replaced) != 1 {
		t.Errorf("sink after panicking one was skipped: %+v", after)
	}
}
