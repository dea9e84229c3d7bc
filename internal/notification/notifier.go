// Package notification delivers alerts about completed analyses and feed
// failovers to external channels (webhooks, Telegram) or the log.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cryptopulse/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Pair    string     `json:"pair,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// AnalysisAlert summarizes a stored analysis for humans.
func AnalysisAlert(rec model.AnalysisRecord) Alert {
	var b strings.Builder
	fmt.Fprintf(&b, "Entry: %s\n", rec.EntryPriceRange)
	if rec.UltraTakeProfits != "" {
		fmt.Fprintf(&b, "Take profits: %s\n", rec.UltraTakeProfits)
	} else {
		fmt.Fprintf(&b, "Take profit: %s\n", rec.TakeProfit)
	}
	fmt.Fprintf(&b, "Stop loss: %s", rec.StopLoss)
	return Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("%s analysis for %s", rec.Mode, rec.Pair),
		Message: b.String(),
		Pair:    rec.Pair,
	}
}

// FailoverAlert reports that the live stream for pair was replaced by
// synthetic bars.
func FailoverAlert(pair model.Pair, reason string) Alert {
	return Alert{
		Level:   AlertWarning,
		Title:   "Live feed lost for " + pair.Key(),
		Message: "Showing synthetic prices until the pair is reselected: " + reason,
		Pair:    pair.Key(),
	}
}

// LogNotifier writes alerts to the structured log (useful for development).
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger means slog.Default().
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With("component", "notify")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.InfoContext(ctx, alert.Title, "level", string(alert.Level), "pair", alert.Pair, "message", alert.Message)
	return nil
}

// Multi sends every alert to all of its notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
