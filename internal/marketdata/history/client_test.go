package history

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cryptopulse/internal/model"
)

var eth1h = model.Pair{Symbol: "ETHUSDT", Interval: "1h"}

func newTestClient(url string) *Client {
	c := New(Config{BaseURL: url, Limit: 50, Timeout: time.Second}, nil)
	c.rng = rand.New(rand.NewSource(1))
	c.now = func() time.Time { return time.Date(2025, 8, 1, 12, 34, 56, 0, time.UTC) }
	return c
}

func TestFetch_ParsesKlines(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			http.NotFound(w, r)
			return
		}
		query = r.URL.RawQuery
		w.Write([]byte(`[
			[1700000000000,"100.0","110.0","95.0","105.0","12.5",1700003599999,"0",1,"0","0","0"],
			[1700003600000,105,112,104,111,"7",1700007199999,"0",1,"0","0","0"]
		]`))
	}))
	defer srv.Close()

	seed := newTestClient(srv.URL).Fetch(context.Background(), eth1h)
	if seed.Source != model.SeedFromAPI {
		t.Fatalf("source = %q (%s), want api", seed.Source, seed.Reason)
	}
	if len(seed.Bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(seed.Bars))
	}
	if b := seed.Bars[0]; b.Time != 1700000000 || b.Close != 105 || b.Volume != 12.5 {
		t.Errorf("bar[0] = %+v", b)
	}
	if b := seed.Bars[1]; b.Time != 1700003600 || b.High != 112 {
		t.Errorf("bar[1] = %+v", b)
	}
	for _, want := range []string{"symbol=ETHUSDT", "interval=1h", "limit=50"} {
		if !strings.Contains(query, want) {
			t.Errorf("query %q missing %q", query, want)
		}
	}
}

func TestFetch_FallsBackToMock(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"restricted body", http.StatusOK, `{"code":0,"msg":"Service unavailable from a restricted location"}`},
		{"server error", http.StatusInternalServerError, `oops`},
		{"geo block status", http.StatusUnavailableForLegalReasons, `{"code":0,"msg":"restricted"}`},
		{"malformed", http.StatusOK, `[[1,2]]`},
		{"empty", http.StatusOK, `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestClient(srv.URL)
			var fallbacks int
			c.OnFallback = func(model.Pair, string) { fallbacks++ }

			seed := c.Fetch(context.Background(), eth1h)
			if seed.Source != model.SeedFromMock {
				t.Fatalf("source = %q, want mock", seed.Source)
			}
			if seed.Reason == "" {
				t.Error("expected a fallback reason")
			}
			if len(seed.Bars) != 50 {
				t.Errorf("bars = %d, want 50", len(seed.Bars))
			}
			if fallbacks != 1 {
				t.Errorf("OnFallback called %d times", fallbacks)
			}
		})
	}
}

func TestFetch_UnreachableFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	seed := newTestClient(url).Fetch(context.Background(), eth1h)
	if seed.Source != model.SeedFromMock || len(seed.Bars) == 0 {
		t.Fatalf("expected mock seed, got %q with %d bars", seed.Source, len(seed.Bars))
	}
}

func TestMock_ShapeAndOHLC(t *testing.T) {
	for _, sym := range model.SupportedSymbols {
		t.Run(sym, func(t *testing.T) {
			c := newTestClient("http://unused")
			pair := model.Pair{Symbol: sym, Interval: "15m"}
			bars := c.Mock(pair).Bars

			if len(bars) != 50 {
				t.Fatalf("len = %d, want 50", len(bars))
			}
			now := c.now()
			if last := bars[len(bars)-1].Time; last != now.Truncate(15*time.Minute).Unix() {
				t.Errorf("last bar time = %d, want current bucket", last)
			}
			for i, b := range bars {
				if err := b.Validate(); err != nil {
					t.Fatalf("bar %d invalid: %v (%+v)", i, err, b)
				}
				if i > 0 && b.Time-bars[i-1].Time != int64((15*time.Minute)/time.Second) {
					t.Fatalf("bar %d not one interval after previous", i)
				}
			}
		})
	}
}

func TestMock_RoundsBTCToWholeDollars(t *testing.T) {
	c := newTestClient("http://unused")
	bars := c.Mock(model.Pair{Symbol: "BTCUSDT", Interval: "1h"}).Bars
	for _, b := range bars {
		if b.Close != float64(int64(b.Close)) {
			t.Fatalf("BTC close %v not rounded to 0 dp", b.Close)
		}
	}
	if first := bars[0].Open; first != 115000 {
		t.Errorf("first open = %v, want base price 115000", first)
	}
}
