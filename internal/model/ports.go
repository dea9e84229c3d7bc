package model

import "context"

// ── Port Interfaces ──
// These decouple the feed and analysis logic from concrete transports and
// storage (websocket gateway, Redis, SQLite).

// ChartSink receives every change to the live series so it can redraw.
// Calls arrive from a single goroutine in series order.
type ChartSink interface {
	// ReplaceAll redraws the whole series, e.g. after a pair change.
	ReplaceAll(pair Pair, bars []Bar)

	// UpsertBar updates exactly one bar: either the last one in place or a
	// newly appended one.
	UpsertBar(pair Pair, bar Bar)
}

// HistoryFetcher loads the seed series for a pair.
type HistoryFetcher interface {
	// Fetch never fails: on upstream trouble it returns generated history
	// with Source set to SeedFromMock.
	Fetch(ctx context.Context, pair Pair) Seed

	// Mock returns generated history without touching the network.
	Mock(pair Pair) Seed
}

// AnalysisRecorder persists completed analyses.
type AnalysisRecorder interface {
	SaveAnalysis(ctx context.Context, rec AnalysisRecord) error

	// ListAnalyses returns the newest records first.
	ListAnalyses(ctx context.Context, limit int) ([]AnalysisRecord, error)
}

// SettingsStore reads and writes user settings.
type SettingsStore interface {
	GetSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
}
