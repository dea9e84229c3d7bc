// Package bus fans series changes out to several chart sinks.
package bus

import (
	"log"
	"sync"

	"cryptopulse/internal/model"
)

// FanOut is a model.ChartSink that forwards every call to each registered
// sink in registration order. Sinks must not block: the caller is the feed
// controller's event loop.
type FanOut struct {
	mu    sync.RWMutex
	names []string
	sinks []model.ChartSink

	// OnPanic is called when a sink panics. The panic is recovered and the
	// remaining sinks still run.
	OnPanic func(name string, v any)
}

// New creates an empty FanOut.
func New() *FanOut {
	return &FanOut{}
}

// Add registers a sink under name.
func (f *FanOut) Add(name string, sink model.ChartSink) {
	f.mu.Lock()
	f.names = append(f.names, name)
	f.sinks = append(f.sinks, sink)
	f.mu.Unlock()
}

// Len returns the number of registered sinks.
func (f *FanOut) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

func (f *FanOut) ReplaceAll(pair model.Pair, bars []model.Bar) {
	f.each(func(s model.ChartSink) { s.ReplaceAll(pair, bars) })
}

func (f *FanOut) UpsertBar(pair model.Pair, bar model.Bar) {
	f.each(func(s model.ChartSink) { s.UpsertBar(pair, bar) })
}

func (f *FanOut) each(call func(model.ChartSink)) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i, s := range f.sinks {
		f.safeCall(f.names[i], s, call)
	}
}

func (f *FanOut) safeCall(name string, s model.ChartSink, call func(model.ChartSink)) {
	defer func() {
		if v := recover(); v != nil {
			if f.OnPanic != nil {
				f.OnPanic(name, v)
			} else {
				log.Printf("[bus] sink %s panicked: %v", name, v)
			}
		}
	}()
	call(s)
}
