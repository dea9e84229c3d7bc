package model

import "time"

// AnalysisMode is the tier of AI analysis that produced a record.
type AnalysisMode string

const (
	ModeQuick AnalysisMode = "Quick"
	ModeUltra AnalysisMode = "Ultra"
)

// AnalysisRecord is one stored analysis result, shown on the history page.
type AnalysisRecord struct {
	ID               string       `json:"id"`
	Pair             string       `json:"cryptoPair"`
	Date             time.Time    `json:"date"`
	Mode             AnalysisMode `json:"analysisMode"`
	EntryPriceRange  string       `json:"entryPriceRange"`
	TakeProfit       string       `json:"takeProfit"`
	StopLoss         string       `json:"stopLoss"`
	UltraTakeProfits string       `json:"ultraTakeProfits,omitempty"`
}

// Settings are the user preferences kept between sessions.
type Settings struct {
	DefaultAnalysisMode string `json:"defaultAnalysisMode"` // "quick" or "ultra"
	EnableNotifications bool   `json:"enableNotifications"`
	DefaultPair         Pair   `json:"defaultPair"`
}

// DefaultSettings returns the settings used before anything is saved.
func DefaultSettings() Settings {
	return Settings{
		DefaultAnalysisMode: "quick",
		EnableNotifications: true,
		DefaultPair:         DefaultPair,
	}
}
