// Package stream subscribes to the exchange's live kline websocket for one
// pair and reports opened, message, error and closed events on a channel.
//
// A subscription never reconnects by itself: once it fails or the peer
// closes it, the Session is finished and the caller decides what to do.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cryptopulse/internal/model"

	"github.com/gorilla/websocket"
)

// Config holds the stream endpoint settings.
type Config struct {
	// BaseURL is the raw-stream endpoint, e.g. "wss://stream.binance.com:9443/ws".
	BaseURL string

	// HandshakeTimeout bounds the websocket dial. Defaults to 10s.
	HandshakeTimeout time.Duration
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "wss://stream.binance.com:9443/ws"
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Client opens kline subscriptions.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *slog.Logger

	// OnDecodeError is called for every dropped message (optional).
	OnDecodeError func(pair model.Pair, err error)
}

// New creates a Client. log may be nil.
func New(cfg Config, log *slog.Logger) *Client {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log: log.With("component", "stream"),
	}
}

// URL returns the stream URL for pair, e.g. ".../ws/btcusdt@kline_1h".
func (c *Client) URL(pair model.Pair) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.ToLower(pair.Symbol) + "@kline_" + pair.Interval
}

// Subscribe starts a subscription for pair and returns immediately. Events
// are delivered on out until the session ends or is closed.
func (c *Client) Subscribe(ctx context.Context, pair model.Pair, out chan<- Event) *Session {
	s := NewSession(ctx, pair)
	go c.run(s, out)
	return s
}

func (c *Client) run(s *Session, out chan<- Event) {
	defer s.Finish()

	ctx := s.Context()
	u := c.URL(s.Pair())
	log := c.log.With("pair", s.Pair().Key(), "session", s.ID())

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("dial failed", "url", u, "error", err)
		s.Deliver(out, Event{Kind: EventError, Err: fmt.Errorf("stream: dial %s: %w", u, err)})
		return
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)

	// Close the connection when the session is torn down.
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "teardown"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	log.Info("connected", "url", u)
	if !s.Deliver(out, Event{Kind: EventOpened}) {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				log.Info("closed by peer", "code", ce.Code, "text", ce.Text)
				ev := Event{Kind: EventClosed, Code: ce.Code}
				if ce.Code != websocket.CloseNormalClosure {
					ev.Err = err
				}
				s.Deliver(out, ev)
				return
			}
			log.Warn("read failed", "error", err)
			s.Deliver(out, Event{Kind: EventError, Err: fmt.Errorf("stream: read: %w", err)})
			return
		}

		bar, err := Decode(raw)
		if err != nil {
			log.Debug("dropping undecodable message", "error", err, "raw", string(raw))
			if c.OnDecodeError != nil {
				c.OnDecodeError(s.Pair(), err)
			}
			continue
		}
		if !s.Deliver(out, Event{Kind: EventMessage, Bar: bar}) {
			return
		}
	}
}
