package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"cryptopulse/internal/model"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendQueueSize  = 256
	selectTimeout  = 5 * time.Second
)

// Client is one websocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{conn: conn, send: make(chan []byte, sendQueueSize), hub: h}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			// Coalesce whatever is already queued into the same frame.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch {
		case base.Type == TypeSelectPair:
			var sel SelectPairMsg
			if err := json.Unmarshal(msg, &sel); err != nil {
				c.hub.sendTo(c, replyEnvelope(TypeError, "", "", "invalid SELECT_PAIR: "+err.Error()))
				continue
			}
			go c.handleSelectPair(sel)

		case base.Ping > 0:
			c.hub.sendTo(c, pongEnvelope(base.Ping, time.Now()))
		}
	}
}

// handleSelectPair switches the shared feed. Every client receives the new
// SNAPSHOT and STATE through the hub; the requester also gets an ACK.
func (c *Client) handleSelectPair(msg SelectPairMsg) {
	pair := model.Pair{Symbol: strings.ToUpper(strings.TrimSpace(msg.Symbol)), Interval: strings.TrimSpace(msg.Interval)}
	if err := pair.Validate(); err != nil {
		c.hub.sendTo(c, replyEnvelope(TypeError, msg.ReqID, "", err.Error()))
		return
	}
	if c.hub.selector == nil {
		c.hub.sendTo(c, replyEnvelope(TypeError, msg.ReqID, "", "pair selection unavailable"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), selectTimeout)
	defer cancel()
	if err := c.hub.selector.SelectPair(ctx, pair); err != nil {
		c.hub.sendTo(c, replyEnvelope(TypeError, msg.ReqID, pair.Key(), err.Error()))
		return
	}
	c.hub.sendTo(c, replyEnvelope(TypeAck, msg.ReqID, pair.Key(), ""))
}
