package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"cryptopulse/internal/model"
)

const (
	// Bars kept per pair in the bars:<pair> stream.
	barStreamMaxLen  = 1000
	defaultLatestTTL = 30 * time.Minute
)

// BarChannel is the PubSub channel carrying bar updates for a pair.
func BarChannel(pair model.Pair) string { return "pub:bar:" + pair.Key() }

func latestKey(pair model.Pair) string { return "bar:latest:" + pair.Key() }
func streamKey(pair model.Pair) string { return "bars:" + pair.Key() }

// barWriter performs the Redis side of a publish.
type barWriter interface {
	writeBar(ctx context.Context, pair model.Pair, payload []byte) error
	writeSeries(ctx context.Context, pair model.Pair, payloads [][]byte) error
}

// redisBarWriter writes to a live Redis server:
//
//	PUBLISH pub:bar:<pair>     {"type":"bar",...}
//	SET     bar:latest:<pair>  <bar> EX 30m
//	XADD    bars:<pair>        MAXLEN ~1000 data=<bar>
type redisBarWriter struct {
	client *goredis.Client
}

func (w redisBarWriter) writeBar(ctx context.Context, pair model.Pair, payload []byte) error {
	pipe := w.client.Pipeline()
	pipe.Publish(ctx, BarChannel(pair), payload)
	pipe.Set(ctx, latestKey(pair), payload, defaultLatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey(pair),
		MaxLen: barStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (w redisBarWriter) writeSeries(ctx context.Context, pair model.Pair, payloads [][]byte) error {
	pipe := w.client.TxPipeline()
	pipe.Del(ctx, streamKey(pair))
	start := 0
	if len(payloads) > barStreamMaxLen {
		start = len(payloads) - barStreamMaxLen
	}
	for _, p := range payloads[start:] {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamKey(pair),
			Values: map[string]interface{}{"data": p},
		})
	}
	if n := len(payloads); n > 0 {
		pipe.Set(ctx, latestKey(pair), payloads[n-1], defaultLatestTTL)
	}
	reset, _ := json.Marshal(map[string]interface{}{"type": "reset", "pair": pair.Key(), "count": len(payloads)})
	pipe.Publish(ctx, BarChannel(pair), reset)
	_, err := pipe.Exec(ctx)
	return err
}

type publishJob struct {
	pair   model.Pair
	bar    model.Bar
	series []model.Bar // set for a full replace
}

// Publisher is a model.ChartSink that mirrors the live series into Redis
// for other consumers. Sink calls only enqueue; Run does the I/O. While
// writes fail, each pair keeps one held-back item that is written when Redis
// recovers: the newest bar, or the whole series when a full replace was
// lost. A lost replace is always rewritten as a replace so the bars:<pair>
// stream never mixes two seeds.
type Publisher struct {
	w     barWriter
	cb    *CircuitBreaker
	queue chan publishJob

	mu      sync.Mutex
	pending map[model.Pair]heldWrite

	// Callbacks (optional)
	OnDrop  func()          // a job was dropped (queue full or write failed)
	OnFlush func(count int) // held-back writes replayed after recovery
}

// heldWrite is what a pair still owes Redis. series is non-nil when a
// full replace has not been written yet.
type heldWrite struct {
	series []model.Bar
	bar    model.Bar
}

// NewPublisher creates a Publisher writing through cb. queueSize <= 0 means 1024.
func NewPublisher(client *goredis.Client, cb *CircuitBreaker, queueSize int) *Publisher {
	return newPublisher(redisBarWriter{client: client}, cb, queueSize)
}

func newPublisher(w barWriter, cb *CircuitBreaker, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Publisher{
		w:       w,
		cb:      cb,
		queue:   make(chan publishJob, queueSize),
		pending: make(map[model.Pair]heldWrite),
	}
	return p
}

// ReplaceAll implements model.ChartSink.
func (p *Publisher) ReplaceAll(pair model.Pair, bars []model.Bar) {
	if bars == nil {
		bars = []model.Bar{}
	}
	p.enqueue(publishJob{pair: pair, series: bars})
}

// UpsertBar implements model.ChartSink.
func (p *Publisher) UpsertBar(pair model.Pair, bar model.Bar) {
	p.enqueue(publishJob{pair: pair, bar: bar})
}

func (p *Publisher) enqueue(job publishJob) {
	select {
	case p.queue <- job:
	default:
		p.dropped()
	}
}

// Run drains the queue until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.handle(ctx, job)
		}
	}
}

func (p *Publisher) handle(ctx context.Context, job publishJob) {
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	h := heldWrite{series: job.series, bar: job.bar}
	if h.series == nil {
		p.mu.Lock()
		owed, ok := p.pending[job.pair]
		p.mu.Unlock()
		if ok && owed.series != nil {
			// The pair still owes a reseed; the bar goes out with it.
			h.series = upsertInto(owed.series, job.bar)
		}
	}

	if err := p.write(wctx, job.pair, h); err != nil {
		p.hold(job.pair, h)
		if err != ErrCircuitOpen {
			log.Printf("[redis-publisher] write %s: %v", job.pair.Key(), err)
		}
		return
	}
	p.clearPending(job.pair)
	p.flush(wctx)
}

func (p *Publisher) write(ctx context.Context, pair model.Pair, h heldWrite) error {
	if h.series != nil {
		payloads := make([][]byte, len(h.series))
		for i := range h.series {
			payloads[i] = h.series[i].JSON()
		}
		return p.cb.Execute(func() error { return p.w.writeSeries(ctx, pair, payloads) })
	}
	payload := barMessage(pair, h.bar)
	return p.cb.Execute(func() error { return p.w.writeBar(ctx, pair, payload) })
}

// hold records a failed write for the recovery flush.
func (p *Publisher) hold(pair model.Pair, h heldWrite) {
	p.mu.Lock()
	p.pending[pair] = h
	p.mu.Unlock()
	p.dropped()
}

func (p *Publisher) clearPending(pair model.Pair) {
	p.mu.Lock()
	delete(p.pending, pair)
	p.mu.Unlock()
}

// flush replays the held-back writes once a write has succeeded again.
// Writes that fail again stay held.
func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.pending
	p.pending = make(map[model.Pair]heldWrite)
	p.mu.Unlock()

	flushed := 0
	for pair, h := range toFlush {
		if err := p.write(ctx, pair, h); err != nil {
			log.Printf("[redis-publisher] flush %s: %v", pair.Key(), err)
			p.mu.Lock()
			p.pending[pair] = h
			p.mu.Unlock()
			continue
		}
		flushed++
	}
	log.Printf("[redis-publisher] flushed %d held-back writes", flushed)
	if p.OnFlush != nil {
		p.OnFlush(flushed)
	}
}

// upsertInto applies the series upsert rule to a copy of bars.
func upsertInto(bars []model.Bar, bar model.Bar) []model.Bar {
	out := make([]model.Bar, len(bars), len(bars)+1)
	copy(out, bars)
	n := len(out)
	switch {
	case n == 0 || bar.Time > out[n-1].Time:
		out = append(out, bar)
	case bar.Time == out[n-1].Time:
		out[n-1] = bar
	}
	return out
}

// PendingCount returns the number of pairs with a held-back bar.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Publisher) dropped() {
	if p.OnDrop != nil {
		p.OnDrop()
	}
}

// barMessage builds {"type":"bar","pair":"BTCUSDT@1h","bar":{...}}.
func barMessage(pair model.Pair, bar model.Bar) []byte {
	key := pair.Key()
	data := bar.JSON()
	buf := make([]byte, 0, len(key)+len(data)+40)
	buf = append(buf, `{"type":"bar","pair":"`...)
	buf = append(buf, key...)
	buf = append(buf, `","bar":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf
}
