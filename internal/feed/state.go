package feed

import (
	"time"

	"cryptopulse/internal/model"
)

// State is the controller's feed state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateDegraded
	StateSynthetic
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDegraded:
		return "degraded"
	case StateSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Source names the feed source that is active.
type Source string

const (
	SourceNone      Source = "none"
	SourceStream    Source = "stream"
	SourceSynthetic Source = "synthetic"
)

// Status is a point-in-time view of the controller.
type Status struct {
	Pair   model.Pair `json:"pair"`
	State  State      `json:"state"`
	Reason string     `json:"reason,omitempty"` // why Degraded or Synthetic
	Source Source     `json:"source"`
	// SeedSource is "api" or "mock" once the current pair has been seeded.
	SeedSource  model.SeedSource `json:"seedSource,omitempty"`
	PendingTick *model.Bar       `json:"pendingTick,omitempty"`
	Since       time.Time        `json:"since"`
}
