package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cryptopulse/internal/model"
)

func TestAnalysisAlert(t *testing.T) {
	tests := []struct {
		name     string
		rec      model.AnalysisRecord
		contains []string
	}{
		{
			name: "quick",
			rec: model.AnalysisRecord{
				Pair: "BTCUSDT", Mode: model.ModeQuick,
				EntryPriceRange: "114000-114500", TakeProfit: "118000", StopLoss: "112000",
				Date: time.Now(),
			},
			contains: []string{"Take profit: 118000", "Stop loss: 112000", "Entry: 114000-114500"},
		},
		{
			name: "ultra lists all levels",
			rec: model.AnalysisRecord{
				Pair: "ETHUSDT", Mode: model.ModeUltra,
				EntryPriceRange: "3900-3950", TakeProfit: "4100, 4200", StopLoss: "3800",
				UltraTakeProfits: "4100, 4200",
			},
			contains: []string{"Take profits: 4100, 4200"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AnalysisAlert(tt.rec)
			if a.Pair != tt.rec.Pair || a.Level != AlertInfo {
				t.Errorf("alert = %+v", a)
			}
			if !strings.Contains(a.Title, string(tt.rec.Mode)) {
				t.Errorf("title %q missing mode", a.Title)
			}
			for _, want := range tt.contains {
				if !strings.Contains(a.Message, want) {
					t.Errorf("message %q missing %q", a.Message, want)
				}
			}
		})
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var logs bytes.Buffer
	n := NewWebhookNotifier(WebhookConfig{
		URL:    srv.URL,
		Client: srv.Client(),
		Log:    slog.New(slog.NewJSONHandler(&logs, nil)),
	})
	err := n.Send(context.Background(), Alert{Level: AlertWarning, Title: "t", Message: "m", Pair: "BTCUSDT@1h"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["level"] != "WARNING" || got["pair"] != "BTCUSDT@1h" || got["text"] != "t\nm" || got["content"] != "t\nm" {
		t.Errorf("payload = %v", got)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(logs.Bytes(), &entry); err != nil {
		t.Fatalf("log output %q: %v", logs.String(), err)
	}
	if entry["msg"] != "webhook alert sent" || entry["component"] != "webhook" || entry["title"] != "t" {
		t.Errorf("log entry = %v", entry)
	}
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream down")
	}))
	defer srv.Close()

	err := NewWebhookNotifier(WebhookConfig{URL: srv.URL}).Send(context.Background(), Alert{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "upstream down") {
		t.Errorf("err = %v, want status 502", err)
	}
}

func TestTelegramNotifier_Send(t *testing.T) {
	var path, text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		var m map[string]interface{}
		json.Unmarshal(body, &m)
		text, _ = m["text"].(string)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier(TelegramConfig{BotToken: "tok", ChatID: "42", BaseURL: srv.URL + "/"})
	if err := n.Send(context.Background(), Alert{Title: "BTC up 1.5%", Message: "ok"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/bottok/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if !strings.Contains(text, `BTC up 1\.5%`) {
		t.Errorf("text not escaped: %q", text)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := map[string]string{
		"plain":     "plain",
		"a_b":       `a\_b`,
		"1.5 (x)!":  `1\.5 \(x\)\!`,
		"ünïcode-1": `ünïcode\-1`,
	}
	for in, want := range tests {
		if got := escapeMarkdown(in); got != want {
			t.Errorf("escapeMarkdown(%q) = %q, want %q", in, got, want)
		}
	}
}

type fakeNotifier struct {
	err   error
	calls int
}

func (f *fakeNotifier) Send(context.Context, Alert) error {
	f.calls++
	return f.err
}

func TestMulti_SendsToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a, b, c := &fakeNotifier{}, &fakeNotifier{err: boom}, &fakeNotifier{}
	err := Multi{a, b, c}.Send(context.Background(), Alert{})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Errorf("calls = %d %d %d, want 1 each", a.calls, b.calls, c.calls)
	}
}
