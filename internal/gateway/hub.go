// Package gateway serves the chart to browsers: a websocket hub that fans
// out series changes and feed state, and the REST API around it.
package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"cryptopulse/internal/feed"
	"cryptopulse/internal/model"

	"github.com/gorilla/websocket"
)

const defaultReplayCapacity = 500

// BarSource is the live series. Implemented by series.Store.
type BarSource interface {
	Snapshot() (model.Pair, []model.Bar)
}

// PairSelector switches the active pair. Implemented by feed.Controller.
type PairSelector interface {
	SelectPair(ctx context.Context, pair model.Pair) error
}

// Hub tracks websocket clients and implements model.ChartSink, so the
// series store can draw straight onto every connected chart.
//
// Each pair has a monotonic BAR seq. A client that sees a gap asks
// /api/missed for the envelopes in between; a SNAPSHOT resets the replay
// buffer because everything before it is superseded.
type Hub struct {
	bars     BarSource
	selector PairSelector

	mu      sync.Mutex
	clients map[*Client]bool
	seqs    map[string]int64
	replay  map[string]*ReplayBuffer
	state   []byte // last STATE envelope, sent on connect

	now func() time.Time

	// OnClientCount is called with the new count after a connect or disconnect.
	OnClientCount func(n int)
	// OnDrop is called when a slow client misses an envelope.
	OnDrop func()
}

// NewHub creates a hub. selector may be nil, in which case SELECT_PAIR is
// rejected.
func NewHub(bars BarSource, selector PairSelector) *Hub {
	return &Hub{
		bars:     bars,
		selector: selector,
		clients:  make(map[*Client]bool),
		seqs:     make(map[string]int64),
		replay:   make(map[string]*ReplayBuffer),
		now:      time.Now,
	}
}

// ReplaceAll sends a SNAPSHOT to every client.
func (h *Hub) ReplaceAll(pair model.Pair, bars []model.Bar) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := pair.Key()
	if rb, ok := h.replay[key]; ok {
		rb.Reset()
	}
	h.broadcastLocked(snapshotEnvelope(pair, h.seqs[key], bars))
}

// UpsertBar sends a BAR envelope with the pair's next seq to every client.
func (h *Hub) UpsertBar(pair model.Pair, bar model.Bar) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := pair.Key()
	h.seqs[key]++
	seq := h.seqs[key]
	env := barEnvelope(pair, seq, h.now().UTC(), bar)

	rb, ok := h.replay[key]
	if !ok {
		rb = NewReplayBuffer(defaultReplayCapacity)
		h.replay[key] = rb
	}
	rb.Push(seq, env)

	h.broadcastLocked(env)
}

// PublishState caches and broadcasts a STATE envelope.
func (h *Hub) PublishState(st feed.Status) {
	env := stateEnvelope(st)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = env
	h.broadcastLocked(env)
}

// BroadcastSettings tells every client that settings changed.
func (h *Hub) BroadcastSettings(s model.Settings) {
	env := settingsEnvelope(s)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(env)
}

func (h *Hub) broadcastLocked(env []byte) {
	for c := range h.clients {
		h.enqueueLocked(c, env)
	}
}

func (h *Hub) enqueueLocked(c *Client, env []byte) {
	select {
	case c.send <- env:
	default:
		if h.OnDrop != nil {
			h.OnDrop()
		}
	}
}

// sendTo delivers env to c unless it has already disconnected.
func (h *Hub) sendTo(c *Client, env []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		h.enqueueLocked(c, env)
	}
}

// Attach registers an upgraded connection, queues the current SNAPSHOT and
// STATE for it, and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn) *Client {
	c := newClient(h, conn)

	h.mu.Lock()
	h.clients[c] = true
	if h.bars != nil {
		if pair, bars := h.bars.Snapshot(); !pair.IsZero() {
			h.enqueueLocked(c, snapshotEnvelope(pair, h.seqs[pair.Key()], bars))
		}
	}
	if h.state != nil {
		h.enqueueLocked(c, h.state)
	}
	n := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", n)
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}

	go c.writePump()
	go c.readPump()
	return c
}

// RemoveClient unregisters c and closes its send queue. Safe to call twice.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client disconnected (%d total)", n)
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.RemoveClient(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Seq returns the last BAR seq sent for pair.
func (h *Hub) Seq(pair model.Pair) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seqs[pair.Key()]
}

// Missed returns buffered BAR envelopes for pair with seq in [from, to],
// and whether the range could be served in full.
func (h *Hub) Missed(pair model.Pair, from, to int64) ([][]byte, bool) {
	h.mu.Lock()
	rb, ok := h.replay[pair.Key()]
	h.mu.Unlock()
	if !ok {
		return nil, false
	}
	return rb.Range(from, to)
}
