package gateway

import (
	"cryptopulse/internal/feed"
	"cryptopulse/internal/model"
)

// Envelope types sent to websocket clients. Several envelopes may share one
// text frame, separated by '\n'.
const (
	TypeSnapshot = "SNAPSHOT"
	TypeBar      = "BAR"
	TypeState    = "STATE"
	TypeSettings = "SETTINGS"
	TypeAck      = "ACK"
	TypeError    = "ERROR"
	TypePong     = "pong"
)

// Client message types.
const (
	TypeSelectPair = "SELECT_PAIR"
)

// SnapshotMsg redraws the whole chart. Seq is the pair's current BAR seq;
// the next BAR for the pair carries Seq+1.
type SnapshotMsg struct {
	Type string      `json:"type"`
	Pair string      `json:"pair"`
	Seq  int64       `json:"seq"`
	Bars []model.Bar `json:"bars"`
}

// StateMsg reports a feed status change.
type StateMsg struct {
	Type   string      `json:"type"`
	Status feed.Status `json:"status"`
}

// SettingsMsg announces saved settings.
type SettingsMsg struct {
	Type     string         `json:"type"`
	Settings model.Settings `json:"settings"`
}

// SelectPairMsg is sent by a client to switch the chart.
type SelectPairMsg struct {
	Type     string `json:"type"`
	ReqID    string `json:"reqId,omitempty"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// ReplyMsg acknowledges or rejects a client request.
type ReplyMsg struct {
	Type  string `json:"type"`
	ReqID string `json:"reqId,omitempty"`
	Pair  string `json:"pair,omitempty"`
	Error string `json:"error,omitempty"`
}

// PairsResponse is the body of GET /api/pairs.
type PairsResponse struct {
	Symbols   []string   `json:"symbols"`
	Intervals []string   `json:"intervals"`
	Default   model.Pair `json:"default"`
}

// BarsResponse is the body of GET /api/bars.
type BarsResponse struct {
	Pair string      `json:"pair"`
	Seq  int64       `json:"seq"`
	Bars []model.Bar `json:"bars"`
}

// FeedResponse is the body of GET /api/feed.
type FeedResponse struct {
	feed.Status
	Clients int `json:"clients"`
}
