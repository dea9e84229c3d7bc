// cmd/tickserver is a local stand-in for the Binance market data endpoints,
// for running chartd without network access and for exercising failover.
//
// It serves:
//
//	GET /api/v3/klines?symbol=BTCUSDT&interval=1h&limit=300   generated history
//	GET /ws/<symbol>@kline_<interval>                        kline stream
//
// Stream messages have the Binance kline shape:
//
//	{"e":"kline","E":...,"s":"BTCUSDT","k":{"t":...,"T":...,"i":"1h","o":"..","h":"..","l":"..","c":"..","v":"..","x":false}}
//
// Point chartd at it with BINANCE_REST_URL=http://localhost:9001 and
// BINANCE_WS_URL=ws://localhost:9001/ws.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"cryptopulse/internal/marketdata/history"
	"cryptopulse/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type options struct {
	tick        time.Duration
	dropAfter   time.Duration
	closeNormal bool
	restricted  bool
}

type klineMsg struct {
	Event     string    `json:"e"`
	EventTime int64     `json:"E"`
	Symbol    string    `json:"s"`
	Kline     klineBody `json:"k"`
}

type klineBody struct {
	Start    int64  `json:"t"`
	End      int64  `json:"T"`
	Interval string `json:"i"`
	Open     string `json:"o"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Close    string `json:"c"`
	Volume   string `json:"v"`
	Final    bool   `json:"x"`
}

// ─── History ──────────────────────────────────────────────────────────────────

func klinesHandler(opts options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.restricted {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"code":0,"msg":"Service unavailable from a restricted location"}`)
			return
		}

		q := r.URL.Query()
		pair := model.Pair{Symbol: strings.ToUpper(q.Get("symbol")), Interval: q.Get("interval")}
		if err := pair.Validate(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"code":-1121,"msg":%q}`, err.Error())
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		if limit <= 0 || limit > 1000 {
			limit = 300
		}

		seed := history.New(history.Config{Limit: limit}, nil).Mock(pair)
		width := pair.Duration().Milliseconds()
		rows := make([][]interface{}, 0, len(seed.Bars))
		for _, b := range seed.Bars {
			start := b.Time * 1000
			rows = append(rows, []interface{}{
				start, price(b.Open), price(b.High), price(b.Low), price(b.Close), price(b.Volume),
				start + width - 1, "0", 0, "0", "0", "0",
			})
		}
		json.NewEncoder(w).Encode(rows)
	}
}

// ─── Stream ───────────────────────────────────────────────────────────────────

func streamHandler(opts options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pair, err := parseStreamPath(strings.TrimPrefix(r.URL.Path, "/ws/"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		defer conn.Close()
		log.Printf("[tickserver] client %s subscribed to %s", r.RemoteAddr, pair.Key())

		// Drain client frames so pings and closes are processed.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		var dropC <-chan time.Time
		if opts.dropAfter > 0 {
			t := time.NewTimer(opts.dropAfter)
			defer t.Stop()
			dropC = t.C
		}

		w8 := newWalker(pair)
		ticker := time.NewTicker(opts.tick)
		defer ticker.Stop()

		for {
			select {
			case <-gone:
				log.Printf("[tickserver] client %s disconnected", r.RemoteAddr)
				return

			case <-dropC:
				if opts.closeNormal {
					log.Printf("[tickserver] closing %s normally", pair.Key())
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
						time.Now().Add(time.Second))
				} else {
					log.Printf("[tickserver] dropping %s without a close frame", pair.Key())
				}
				return

			case now := <-ticker.C:
				msg, _ := json.Marshal(w8.next(now))
				conn.SetWriteDeadline(now.Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}
	}
}

// parseStreamPath parses "btcusdt@kline_1h".
func parseStreamPath(s string) (model.Pair, error) {
	sym, iv, ok := strings.Cut(s, "@kline_")
	if !ok {
		return model.Pair{}, fmt.Errorf("unknown stream %q", s)
	}
	p := model.Pair{Symbol: strings.ToUpper(sym), Interval: iv}
	return p, p.Validate()
}

// walker random-walks the forming candle of one pair (±0.1% per tick).
type walker struct {
	pair  model.Pair
	rng   *rand.Rand
	start int64 // bucket open, ms
	bar   model.Bar
}

func newWalker(pair model.Pair) *walker {
	w := &walker{pair: pair, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	seed := history.New(history.Config{Limit: 1}, nil).Mock(pair)
	if n := len(seed.Bars); n > 0 {
		w.bar = seed.Bars[n-1]
	}
	return w
}

func (w *walker) next(now time.Time) klineMsg {
	width := w.pair.Duration().Milliseconds()
	bucket := now.UnixMilli() / width * width

	if bucket != w.start {
		last := w.bar.Close
		w.start = bucket
		w.bar = model.Bar{Time: bucket / 1000, Open: last, High: last, Low: last, Close: last}
	}

	c := w.bar.Close * (1 + (w.rng.Float64()*0.2-0.1)/100)
	w.bar.Close = c
	if c > w.bar.High {
		w.bar.High = c
	}
	if c < w.bar.Low {
		w.bar.Low = c
	}
	w.bar.Volume += w.rng.Float64() * 2

	return klineMsg{
		Event:     "kline",
		EventTime: now.UnixMilli(),
		Symbol:    w.pair.Symbol,
		Kline: klineBody{
			Start:    w.start,
			End:      w.start + width - 1,
			Interval: w.pair.Interval,
			Open:     price(w.bar.Open),
			High:     price(w.bar.High),
			Low:      price(w.bar.Low),
			Close:    price(w.bar.Close),
			Volume:   price(w.bar.Volume),
		},
	}
}

func price(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	addr := flag.String("addr", ":9001", "listen address")
	var opts options
	flag.DurationVar(&opts.tick, "tick", time.Second, "interval between kline updates")
	flag.DurationVar(&opts.dropAfter, "drop-after", 0, "end every stream after this long (0 = never)")
	flag.BoolVar(&opts.closeNormal, "close-normal", false, "end dropped streams with close code 1000 instead of an abrupt disconnect")
	flag.BoolVar(&opts.restricted, "restricted", false, "answer history requests with a restricted-location error")
	flag.Parse()

	if opts.tick <= 0 {
		log.Fatalf("[tickserver] -tick must be positive")
	}

	http.HandleFunc("/api/v3/klines", klinesHandler(opts))
	http.HandleFunc("/ws/", streamHandler(opts))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] listening on %s (tick=%s drop-after=%s close-normal=%t)",
		*addr, opts.tick, opts.dropAfter, opts.closeNormal)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}
