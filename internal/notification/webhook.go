package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	URL    string
	Client *http.Client // nil means a client with a 10s timeout
	Log    *slog.Logger // nil means slog.Default()
}

// WebhookNotifier POSTs alerts as JSON. The body carries "text" and
// "content" as well, so Slack and Discord incoming webhooks render it as is.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

type webhookPayload struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Pair    string     `json:"pair,omitempty"`
	TS      string     `json:"ts"`
	Text    string     `json:"text"`
	Content string     `json:"content"`
}

func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &WebhookNotifier{url: cfg.URL, client: cfg.Client, log: cfg.Log.With("component", "webhook")}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	text := alert.Title + "\n" + alert.Message
	body, err := json.Marshal(webhookPayload{
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		Pair:    alert.Pair,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Text:    text,
		Content: text,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Warn("webhook delivery failed", "title", alert.Title, "error", err)
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		w.log.Warn("webhook rejected alert", "title", alert.Title, "status", resp.StatusCode)
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	w.log.Info("webhook alert sent", "title", alert.Title, "level", string(alert.Level), "took", time.Since(start).String())
	return nil
}
