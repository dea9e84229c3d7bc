// Package analysis runs AI chart analysis in two tiers. Quick reads a text
// snapshot of recent bars; Ultra reads a rendered chart image. Results are
// stored and optionally announced by the Service.
package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"cryptopulse/internal/model"
)

var (
	// ErrDisabled is returned when no analysis provider is configured.
	ErrDisabled = errors.New("analysis: no provider configured")

	// ErrInvalidImage is returned when an Ultra chart image is not a base64
	// image data URI.
	ErrInvalidImage = errors.New("analysis: chart image must be a base64 image data URI")

	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("analysis: invalid request")
)

// QuickRequest asks for a fast text-based analysis.
type QuickRequest struct {
	ChartData string `json:"chartData"`
	Ticker    string `json:"ticker"`
}

// QuickResult is the Quick tier answer.
type QuickResult struct {
	Analysis        string `json:"analysis"`
	EntryPriceRange string `json:"entryPriceRange"`
	TakeProfit      string `json:"takeProfit"`
	StopLoss        string `json:"stopLoss"`
}

// UltraRequest asks for an in-depth analysis of a chart image.
type UltraRequest struct {
	ChartDataURI      string `json:"chartDataUri"`
	CryptoPair        string `json:"cryptoPair"`
	AnalysisObjective string `json:"analysisObjective,omitempty"`
}

// UltraResult is the Ultra tier answer.
type UltraResult struct {
	AnalysisSummary  string   `json:"analysisSummary"`
	EntryPriceRange  string   `json:"entryPriceRange"`
	TakeProfitLevels []string `json:"takeProfitLevels"`
	StopLossLevel    string   `json:"stopLossLevel"`
	ConfidenceLevel  string   `json:"confidenceLevel,omitempty"`
}

// Analyzer is an AI provider.
type Analyzer interface {
	Quick(ctx context.Context, req QuickRequest) (QuickResult, error)
	Ultra(ctx context.Context, req UltraRequest) (UltraResult, error)
}

// Disabled is the Analyzer used when no provider key is configured.
type Disabled struct{}

func (Disabled) Quick(context.Context, QuickRequest) (QuickResult, error) {
	return QuickResult{}, ErrDisabled
}

func (Disabled) Ultra(context.Context, UltraRequest) (UltraResult, error) {
	return UltraResult{}, ErrDisabled
}

// SnapshotBars is how many of the newest bars a Quick snapshot includes.
const SnapshotBars = 50

// FormatSnapshot renders the newest SnapshotBars bars as
// "T: <time>, O: <open>, H: <high>, L: <low>, C: <close>, V: <volume>"
// entries joined by "; ".
func FormatSnapshot(bars []model.Bar) string {
	if len(bars) > SnapshotBars {
		bars = bars[len(bars)-SnapshotBars:]
	}
	parts := make([]string, len(bars))
	for i, b := range bars {
		buf := make([]byte, 0, 96)
		buf = append(buf, "T: "...)
		buf = strconv.AppendInt(buf, b.Time, 10)
		buf = append(buf, ", O: "...)
		buf = strconv.AppendFloat(buf, b.Open, 'f', -1, 64)
		buf = append(buf, ", H: "...)
		buf = strconv.AppendFloat(buf, b.High, 'f', -1, 64)
		buf = append(buf, ", L: "...)
		buf = strconv.AppendFloat(buf, b.Low, 'f', -1, 64)
		buf = append(buf, ", C: "...)
		buf = strconv.AppendFloat(buf, b.Close, 'f', -1, 64)
		buf = append(buf, ", V: "...)
		buf = strconv.AppendFloat(buf, b.Volume, 'f', -1, 64)
		parts[i] = string(buf)
	}
	return strings.Join(parts, "; ")
}

// ParseDataURI splits "data:<mime>;base64,<payload>" and checks that the
// payload decodes. Only image MIME types are accepted.
func ParseDataURI(uri string) (mime, payload string, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", "", ErrInvalidImage
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", ErrInvalidImage
	}
	mime, ok = strings.CutSuffix(header, ";base64")
	if !ok || !strings.HasPrefix(mime, "image/") || payload == "" {
		return "", "", ErrInvalidImage
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "", "", ErrInvalidImage
	}
	return mime, payload, nil
}
