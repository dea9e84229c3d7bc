// Package history loads the seed series for a pair from the exchange's
// REST klines endpoint, falling back to generated history when the API is
// unreachable, restricted or returns something unusable.
package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"cryptopulse/internal/logger"
	"cryptopulse/internal/model"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
)

const klinePath = "/api/v3/klines"

// Config holds REST endpoint settings.
type Config struct {
	// BaseURL of the REST API, e.g. "https://api.binance.com".
	BaseURL string
	// Limit is the number of bars requested. Defaults to 300.
	Limit int
	// Timeout bounds one request. Defaults to 10s.
	Timeout time.Duration
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.binance.com"
	}
	if c.Limit <= 0 {
		c.Limit = 300
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// RestrictedError is returned when the API answers with an error object,
// e.g. {"code":0,"msg":"Service unavailable from a restricted location"}.
type RestrictedError struct {
	Code int64
	Msg  string
}

func (e *RestrictedError) Error() string {
	return fmt.Sprintf("history: api error %d: %s", e.Code, e.Msg)
}

// Client implements model.HistoryFetcher.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time

	// OnFallback is called whenever generated history replaces the API (optional).
	OnFallback func(pair model.Pair, reason string)
}

// New creates a Client. log may be nil.
func New(cfg Config, log *slog.Logger) *Client {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With("component", "history"),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		now:  time.Now,
	}
}

// Fetch returns the newest Limit bars for pair, oldest first. It never
// fails: any upstream problem yields generated history with Source "mock".
func (c *Client) Fetch(ctx context.Context, pair model.Pair) model.Seed {
	ctx, span := logger.StartSpan(ctx, "history.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("pair", pair.Key()))

	start := time.Now()
	bars, err := c.fetchKlines(ctx, pair)
	if err == nil && len(bars) == 0 {
		err = fmt.Errorf("history: empty response")
	}
	if err != nil && ctx.Err() != nil {
		// Superseded by a newer selection; the caller discards this.
		return model.Seed{Pair: pair, Source: model.SeedFromMock, Reason: ctx.Err().Error()}
	}
	if err != nil {
		span.RecordError(err)
		c.log.Warn("klines unavailable, using generated history", "pair", pair.Key(), "error", err)
		seed := c.Mock(pair)
		seed.Reason = err.Error()
		if c.OnFallback != nil {
			c.OnFallback(pair, err.Error())
		}
		return seed
	}

	c.log.Info("klines loaded", "pair", pair.Key(), "bars", len(bars), "took", time.Since(start).String())
	return model.Seed{Pair: pair, Bars: bars, Source: model.SeedFromAPI}
}

func (c *Client) fetchKlines(ctx context.Context, pair model.Pair) ([]model.Bar, error) {
	u, err := url.Parse(c.cfg.BaseURL + klinePath)
	if err != nil {
		return nil, fmt.Errorf("history: parse url: %w", err)
	}
	q := u.Query()
	q.Set("symbol", pair.Symbol)
	q.Set("interval", pair.Interval)
	q.Set("limit", strconv.Itoa(c.cfg.Limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("history: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: http get: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("history: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if rerr := restricted(body); rerr != nil {
			return nil, rerr
		}
		return nil, fmt.Errorf("history: unexpected status %s", resp.Status)
	}
	if rerr := restricted(body); rerr != nil {
		return nil, rerr
	}
	return parseKlines(body)
}

func restricted(body []byte) error {
	r := gjson.ParseBytes(body)
	if r.IsObject() && r.Get("code").Exists() {
		return &RestrictedError{Code: r.Get("code").Int(), Msg: r.Get("msg").String()}
	}
	return nil
}

// parseKlines converts the REST array-of-arrays layout:
//
//	[0] open time (ms)  [1] open  [2] high  [3] low  [4] close  [5] volume  ...
//
// Numeric fields may be strings or numbers.
func parseKlines(body []byte) ([]model.Bar, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("history: invalid json")
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("history: expected array, got %s", root.Type)
	}

	rows := root.Array()
	out := make([]model.Bar, 0, len(rows))
	for i, row := range rows {
		cols := row.Array()
		if len(cols) < 6 {
			return nil, fmt.Errorf("history: kline[%d] has %d fields, want >= 6", i, len(cols))
		}
		var vals [6]float64
		for j := 0; j < 6; j++ {
			v, err := num(cols[j])
			if err != nil {
				return nil, fmt.Errorf("history: kline[%d][%d]: %w", i, j, err)
			}
			vals[j] = v
		}
		out = append(out, model.Bar{
			Time:   int64(vals[0]) / 1000,
			Open:   vals[1],
			High:   vals[2],
			Low:    vals[3],
			Close:  vals[4],
			Volume: vals[5],
		})
	}
	return out, nil
}

func num(r gjson.Result) (float64, error) {
	switch r.Type {
	case gjson.Number:
		return r.Num, nil
	case gjson.String:
		return strconv.ParseFloat(r.Str, 64)
	default:
		return 0, fmt.Errorf("not numeric: %s", r.Raw)
	}
}
