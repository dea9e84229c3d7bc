package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"

	"cryptopulse/internal/logger"
)

// GeminiConfig configures the Gemini generateContent client.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string        // default https://generativelanguage.googleapis.com/v1beta
	QuickModel string        // default gemini-2.5-flash
	UltraModel string        // default gemini-2.5-pro
	Timeout    time.Duration // default 90s
}

func (c *GeminiConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.QuickModel == "" {
		c.QuickModel = "gemini-2.5-flash"
	}
	if c.UltraModel == "" {
		c.UltraModel = "gemini-2.5-pro"
	}
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
}

// Gemini implements Analyzer over the Gemini REST API.
type Gemini struct {
	cfg  GeminiConfig
	http *http.Client
	log  *slog.Logger
}

// NewGemini creates a Gemini analyzer. log may be nil.
func NewGemini(cfg GeminiConfig, log *slog.Logger) *Gemini {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Gemini{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With("component", "gemini"),
	}
}

const quickPrompt = `You are an expert crypto trading analyst. Analyze the provided candlestick chart data and provide trading signals. Be strict and don't be creative.

Chart Data: %s
Ticker: %s

Respond with a JSON object with these string fields:
- analysis: a brief summary analysis of the chart data
- entryPriceRange: an entry price range
- takeProfit: a single take profit level
- stopLoss: a stop loss level`

const ultraPrompt = `You are an expert cryptocurrency technical analyst.

Analyze the attached candlestick chart image for the given crypto pair and provide a detailed analysis. Extract relevant patterns, indicators, and potential trade signals. Based on your analysis, determine an entry price range, multiple take profit levels, and a stop loss level. Be very strict with randomness and do not be creative at all. Provide an objective analysis, without guessing or assuming.

Crypto Pair: %s
Analysis Objective: %s

Respond with a JSON object with these fields:
- analysisSummary: string, a comprehensive summary of the chart analysis
- entryPriceRange: string, the recommended entry price range
- takeProfitLevels: array of strings, the take profit levels
- stopLossLevel: string, the recommended stop loss level
- confidenceLevel: string, High, Medium or Low`

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

func (g *Gemini) Quick(ctx context.Context, req QuickRequest) (QuickResult, error) {
	text, err := g.generate(ctx, g.cfg.QuickModel, []part{{Text: fmt.Sprintf(quickPrompt, req.ChartData, req.Ticker)}})
	if err != nil {
		return QuickResult{}, err
	}
	obj := gjson.Parse(text)
	res := QuickResult{
		Analysis:        obj.Get("analysis").String(),
		EntryPriceRange: obj.Get("entryPriceRange").String(),
		TakeProfit:      obj.Get("takeProfit").String(),
		StopLoss:        obj.Get("stopLoss").String(),
	}
	if res.EntryPriceRange == "" || res.TakeProfit == "" || res.StopLoss == "" {
		return QuickResult{}, fmt.Errorf("gemini: incomplete quick result: %s", truncate(text, 200))
	}
	return res, nil
}

func (g *Gemini) Ultra(ctx context.Context, req UltraRequest) (UltraResult, error) {
	mime, payload, err := ParseDataURI(req.ChartDataURI)
	if err != nil {
		return UltraResult{}, err
	}
	objective := req.AnalysisObjective
	if objective == "" {
		objective = "none"
	}
	parts := []part{
		{Text: fmt.Sprintf(ultraPrompt, req.CryptoPair, objective)},
		{InlineData: &inlineData{MimeType: mime, Data: payload}},
	}
	text, err := g.generate(ctx, g.cfg.UltraModel, parts)
	if err != nil {
		return UltraResult{}, err
	}
	obj := gjson.Parse(text)
	res := UltraResult{
		AnalysisSummary: obj.Get("analysisSummary").String(),
		EntryPriceRange: obj.Get("entryPriceRange").String(),
		StopLossLevel:   obj.Get("stopLossLevel").String(),
		ConfidenceLevel: obj.Get("confidenceLevel").String(),
	}
	// Levels sometimes come back as numbers.
	for _, lvl := range obj.Get("takeProfitLevels").Array() {
		if s := lvl.String(); s != "" {
			res.TakeProfitLevels = append(res.TakeProfitLevels, s)
		}
	}
	if res.EntryPriceRange == "" || res.StopLossLevel == "" || len(res.TakeProfitLevels) == 0 {
		return UltraResult{}, fmt.Errorf("gemini: incomplete ultra result: %s", truncate(text, 200))
	}
	return res, nil
}

// generate calls models/{model}:generateContent and returns the model's
// JSON answer text.
func (g *Gemini) generate(ctx context.Context, model string, parts []part) (string, error) {
	ctx, span := logger.StartSpan(ctx, "gemini.generate")
	defer span.End()
	span.SetAttributes(attribute.String("model", model))

	if g.cfg.APIKey == "" {
		return "", ErrDisabled
	}

	body, err := json.Marshal(map[string]any{
		"contents": []map[string]any{{"role": "user", "parts": parts}},
		"generationConfig": map[string]any{
			"temperature":      0,
			"responseMimeType": "application/json",
		},
		"safetySettings": []map[string]string{
			{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_ONLY_HIGH"},
			{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_NONE"},
			{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_MEDIUM_AND_ABOVE"},
			{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_LOW_AND_ABOVE"},
		},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.cfg.BaseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	start := time.Now()
	resp, err := g.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("gemini: send: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("gemini: read body: %w", err)
	}
	g.log.DebugContext(ctx, "gemini response", append(logger.LogWithTrace(ctx),
		"model", model, "status", resp.StatusCode, "latency_ms", time.Since(start).Milliseconds())...)

	if resp.StatusCode >= 300 {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = truncate(string(raw), 200)
		}
		return "", fmt.Errorf("gemini: http %d: %s", resp.StatusCode, msg)
	}

	if reason := gjson.GetBytes(raw, "promptFeedback.blockReason").String(); reason != "" {
		return "", fmt.Errorf("gemini: prompt blocked: %s", reason)
	}
	var sb strings.Builder
	for _, t := range gjson.GetBytes(raw, "candidates.0.content.parts.#.text").Array() {
		sb.WriteString(t.String())
	}
	text := extractJSON(sb.String())
	if text == "" || !gjson.Valid(text) {
		return "", fmt.Errorf("gemini: no JSON in response: %s", truncate(sb.String(), 200))
	}
	return text, nil
}

// extractJSON returns the outermost {...} in s, which drops markdown fences
// and any prose around the object.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
