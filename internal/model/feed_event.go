package model

import "time"

// FeedEvent is one feed state transition, kept for the audit log.
type FeedEvent struct {
	Time   time.Time `json:"time"`
	Pair   string    `json:"pair"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
}
