package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cryptopulse/internal/feed"
	"cryptopulse/internal/model"

	"github.com/gorilla/websocket"
)

type fakeBars struct {
	mu   sync.Mutex
	pair model.Pair
	bars []model.Bar
}

func (f *fakeBars) Snapshot() (model.Pair, []model.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pair, append([]model.Bar(nil), f.bars...)
}

type fakeSelector struct {
	mu    sync.Mutex
	pairs []model.Pair
	err   error
}

func (f *fakeSelector) SelectPair(_ context.Context, p model.Pair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs = append(f.pairs, p)
	return f.err
}

func bar(t int64, c float64) model.Bar {
	return model.Bar{Time: t, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 2}
}

// wsReader splits coalesced frames back into envelopes.
type wsReader struct {
	t       *testing.T
	conn    *websocket.Conn
	pending [][]byte
}

func (r *wsReader) next() map[string]json.RawMessage {
	r.t.Helper()
	for len(r.pending) == 0 {
		r.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, frame, err := r.conn.ReadMessage()
		if err != nil {
			r.t.Fatalf("read: %v", err)
		}
		r.pending = bytes.Split(frame, []byte{'\n'})
	}
	msg := r.pending[0]
	r.pending = r.pending[1:]

	var env map[string]json.RawMessage
	if err := json.Unmarshal(msg, &env); err != nil {
		r.t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, msg)
	}
	return env
}

func (r *wsReader) nextType(want string) map[string]json.RawMessage {
	r.t.Helper()
	env := r.next()
	var typ string
	json.Unmarshal(env["type"], &typ)
	if typ != want {
		r.t.Fatalf("envelope type = %q, want %q (%v)", typ, want, env)
	}
	return env
}

func startHub(t *testing.T, hub *Hub) (*wsReader, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Attach(conn)
	}))
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return &wsReader{t: t, conn: conn}, func() {
		conn.Close()
		hub.Close()
		srv.Close()
	}
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBarEnvelope(t *testing.T) {
	now := time.Date(2025, 8, 1, 10, 0, 1, 0, time.UTC)
	b := model.Bar{Time: 1754042400, Open: 115000.5, High: 115100, Low: 114900, Close: 115050.25, Volume: 12.5}

	raw := barEnvelope(model.DefaultPair, 42, now, b)

	var env struct {
		Type string    `json:"type"`
		Pair string    `json:"pair"`
		Seq  int64     `json:"seq"`
		TS   time.Time `json:"ts"`
		Bar  model.Bar `json:"bar"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, raw)
	}
	if env.Type != TypeBar || env.Pair != "BTCUSDT@1h" || env.Seq != 42 {
		t.Errorf("header = %+v", env)
	}
	if !env.TS.Equal(now) {
		t.Errorf("ts = %v, want %v", env.TS, now)
	}
	if env.Bar != b {
		t.Errorf("bar = %+v, want %+v", env.Bar, b)
	}
}

func TestHub_ConnectSendsSnapshotAndState(t *testing.T) {
	bars := &fakeBars{pair: model.DefaultPair, bars: []model.Bar{bar(100, 10), bar(200, 11)}}
	hub := NewHub(bars, nil)
	hub.PublishState(feed.Status{Pair: model.DefaultPair, State: feed.StateStreaming, Source: feed.SourceStream})

	var counts []int
	var mu sync.Mutex
	hub.OnClientCount = func(n int) { mu.Lock(); counts = append(counts, n); mu.Unlock() }

	r, stop := startHub(t, hub)
	defer stop()

	snap := r.nextType(TypeSnapshot)
	var got []model.Bar
	json.Unmarshal(snap["bars"], &got)
	if len(got) != 2 || got[1].Time != 200 {
		t.Errorf("snapshot bars = %+v", got)
	}

	st := r.nextType(TypeState)
	var status struct {
		State string `json:"state"`
	}
	json.Unmarshal(st["status"], &status)
	if status.State != "streaming" {
		t.Errorf("state = %q", status.State)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(counts) == 0 || counts[0] != 1 {
		t.Errorf("client counts = %v", counts)
	}
}

func TestHub_BarSeqAndReplay(t *testing.T) {
	bars := &fakeBars{}
	hub := NewHub(bars, nil)
	r, stop := startHub(t, hub)
	defer stop()
	waitClients(t, hub, 1)

	pair := model.DefaultPair
	hub.UpsertBar(pair, bar(100, 10))
	hub.UpsertBar(pair, bar(100, 10.5))
	hub.UpsertBar(pair, bar(200, 11))

	for want := int64(1); want <= 3; want++ {
		env := r.nextType(TypeBar)
		var seq int64
		json.Unmarshal(env["seq"], &seq)
		if seq != want {
			t.Errorf("seq = %d, want %d", seq, want)
		}
	}

	missed, complete := hub.Missed(pair, 2, 3)
	if len(missed) != 2 || !complete {
		t.Fatalf("Missed(2,3) = %d envelopes, complete=%v", len(missed), complete)
	}

	hub.ReplaceAll(pair, []model.Bar{bar(300, 12)})
	snap := r.nextType(TypeSnapshot)
	var seq int64
	json.Unmarshal(snap["seq"], &seq)
	if seq != 3 {
		t.Errorf("snapshot seq = %d, want 3", seq)
	}
	if missed, _ := hub.Missed(pair, 1, 3); len(missed) != 0 {
		t.Errorf("replay not reset by snapshot: %d envelopes", len(missed))
	}

	hub.UpsertBar(pair, bar(300, 12.5))
	env := r.nextType(TypeBar)
	json.Unmarshal(env["seq"], &seq)
	if seq != 4 {
		t.Errorf("seq after snapshot = %d, want 4", seq)
	}
}

func TestHub_SelectPair(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		selErr   error
		wantType string
		wantSel  int
	}{
		{"valid", `{"type":"SELECT_PAIR","reqId":"r1","symbol":"ethusdt","interval":"5m"}`, nil, TypeAck, 1},
		{"unknown symbol", `{"type":"SELECT_PAIR","reqId":"r2","symbol":"DOGEUSDT","interval":"5m"}`, nil, TypeError, 0},
		{"controller error", `{"type":"SELECT_PAIR","reqId":"r3","symbol":"BTCUSDT","interval":"1m"}`, errors.New("stopped"), TypeError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := &fakeSelector{err: tt.selErr}
			hub := NewHub(&fakeBars{}, sel)
			r, stop := startHub(t, hub)
			defer stop()

			if err := r.conn.WriteMessage(websocket.TextMessage, []byte(tt.msg)); err != nil {
				t.Fatal(err)
			}
			reply := r.nextType(tt.wantType)
			var reqID string
			json.Unmarshal(reply["reqId"], &reqID)
			if reqID == "" {
				t.Error("reply missing reqId")
			}

			sel.mu.Lock()
			defer sel.mu.Unlock()
			if len(sel.pairs) != tt.wantSel {
				t.Fatalf("SelectPair called %d times, want %d", len(sel.pairs), tt.wantSel)
			}
			if tt.wantSel == 1 && tt.name == "valid" && sel.pairs[0] != (model.Pair{Symbol: "ETHUSDT", Interval: "5m"}) {
				t.Errorf("selected %v", sel.pairs[0])
			}
		})
	}
}

func TestHub_Ping(t *testing.T) {
	hub := NewHub(&fakeBars{}, nil)
	r, stop := startHub(t, hub)
	defer stop()

	r.conn.WriteMessage(websocket.TextMessage, []byte(`{"ping":12345}`))
	pong := r.nextType(TypePong)
	if string(pong["ping"]) != "12345" {
		t.Errorf("ping echo = %s", pong["ping"])
	}
}

func TestHub_RemoveClientTwice(t *testing.T) {
	hub := NewHub(&fakeBars{}, nil)
	c := &Client{send: make(chan []byte, 1), hub: hub}
	hub.mu.Lock()
	hub.clients[c] = true
	hub.mu.Unlock()

	hub.RemoveClient(c)
	hub.RemoveClient(c) // must not panic on the closed channel
	hub.UpsertBar(model.DefaultPair, bar(1, 1))

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d", hub.ClientCount())
	}
}

func TestHub_DropsForSlowClient(t *testing.T) {
	hub := NewHub(&fakeBars{}, nil)
	c := &Client{send: make(chan []byte, 1), hub: hub}
	hub.mu.Lock()
	hub.clients[c] = true
	hub.mu.Unlock()

	drops := 0
	hub.OnDrop = func() { drops++ }
	hub.UpsertBar(model.DefaultPair, bar(1, 1))
	hub.UpsertBar(model.DefaultPair, bar(2, 1))
	hub.UpsertBar(model.DefaultPair, bar(3, 1))

	if drops != 2 {
		t.Errorf("drops = %d, want 2", drops)
	}
}
