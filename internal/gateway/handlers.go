package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"cryptopulse/internal/analysis"
	"cryptopulse/internal/feed"
	"cryptopulse/internal/model"

	"github.com/gorilla/websocket"
)

const maxAnalysisBody = 10 << 20 // chart images arrive as data URIs

var upgrader = websocket.Upgrader{
	ReadBufferSize:    1024,
	WriteBufferSize:   4096,
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// FeedController is the part of feed.Controller the API drives.
type FeedController interface {
	Status() feed.Status
	SelectPair(ctx context.Context, pair model.Pair) error
}

// AnalysisService is implemented by analysis.Service.
type AnalysisService interface {
	Quick(ctx context.Context, req analysis.QuickRequest) (analysis.QuickResult, error)
	Ultra(ctx context.Context, req analysis.UltraRequest) (analysis.UltraResult, error)
	History(ctx context.Context, limit int) ([]model.AnalysisRecord, error)
}

// FeedEventLister reads the feed transition log. Implemented by sqlite.Store.
type FeedEventLister interface {
	ListFeedEvents(ctx context.Context, limit int) ([]model.FeedEvent, error)
}

// Deps are the collaborators behind the HTTP routes. Analysis, Config and
// Events may be nil; their routes then answer 503.
type Deps struct {
	Hub      *Hub
	Feed     FeedController
	Bars     BarSource
	Analysis AnalysisService
	Config   *ConfigStore
	Events   FeedEventLister
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		d.Hub.Attach(conn)
	})

	mux.HandleFunc("/api/pairs", rest(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, PairsResponse{
			Symbols:   model.SupportedSymbols,
			Intervals: model.SupportedIntervals,
			Default:   model.DefaultPair,
		})
	}))

	mux.HandleFunc("/api/bars", rest(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		pair, bars := d.Bars.Snapshot()
		if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(bars) {
			bars = bars[len(bars)-limit:]
		}
		if bars == nil {
			bars = []model.Bar{}
		}
		writeJSON(w, http.StatusOK, BarsResponse{Pair: pair.Key(), Seq: d.Hub.Seq(pair), Bars: bars})
	}))

	mux.HandleFunc("/api/feed", rest(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, FeedResponse{Status: d.Feed.Status(), Clients: d.Hub.ClientCount()})
	}))

	mux.HandleFunc("/api/pair", rest(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		var req model.Pair
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		pair, err := model.ParsePair(req.Symbol + "@" + req.Interval)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := d.Feed.SelectPair(r.Context(), pair); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, d.Feed.Status())
	}))

	// Gap backfill: BAR envelopes with seq in [from, to].
	mux.HandleFunc("/api/missed", rest(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		pair, _ := d.Bars.Snapshot()
		if p := r.URL.Query().Get("pair"); p != "" {
			parsed, err := model.ParsePair(p)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			pair = parsed
		}
		from := int64(queryInt(r, "from", 0))
		to := int64(queryInt(r, "to", 0))
		if from <= 0 || to < from {
			writeError(w, http.StatusBadRequest, "from and to must satisfy 0 < from <= to")
			return
		}
		envs, complete := d.Hub.Missed(pair, from, to)
		msgs := make([]json.RawMessage, len(envs))
		for i, e := range envs {
			msgs[i] = e
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"pair":     pair.Key(),
			"complete": complete,
			"messages": msgs,
		})
	}))

	mux.HandleFunc("/api/feed/events", rest(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		if d.Events == nil {
			writeError(w, http.StatusServiceUnavailable, "feed event log unavailable")
			return
		}
		events, err := d.Events.ListFeedEvents(r.Context(), queryInt(r, "limit", 100))
		if err != nil {
			log.Printf("[gateway] list feed events: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to load feed events")
			return
		}
		writeJSON(w, http.StatusOK, events)
	}))

	mux.HandleFunc("/api/analysis/quick", rest(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		if d.Analysis == nil {
			writeError(w, http.StatusServiceUnavailable, analysis.ErrDisabled.Error())
			return
		}
		var req analysis.QuickRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := d.Analysis.Quick(r.Context(), req)
		if err != nil {
			writeAnalysisError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}))

	mux.HandleFunc("/api/analysis/ultra", rest(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		if d.Analysis == nil {
			writeError(w, http.StatusServiceUnavailable, analysis.ErrDisabled.Error())
			return
		}
		var req analysis.UltraRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := d.Analysis.Ultra(r.Context(), req)
		if err != nil {
			writeAnalysisError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}))

	mux.HandleFunc("/api/analysis/history", rest(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		if d.Analysis == nil {
			writeJSON(w, http.StatusOK, []model.AnalysisRecord{})
			return
		}
		recs, err := d.Analysis.History(r.Context(), queryInt(r, "limit", 50))
		if err != nil {
			log.Printf("[gateway] analysis history: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to load analysis history")
			return
		}
		writeJSON(w, http.StatusOK, recs)
	}))

	mux.HandleFunc("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if d.Config == nil {
			writeError(w, http.StatusServiceUnavailable, "settings unavailable")
			return
		}
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			s, err := d.Config.Get(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to load settings")
				return
			}
			writeJSON(w, http.StatusOK, s)
		case http.MethodPost:
			s := model.DefaultSettings()
			if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON")
				return
			}
			if err := d.Config.Set(r.Context(), s); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, s)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})
}

// rest wraps a handler with CORS, preflight handling, and a method check.
func rest(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAnalysisBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// writeAnalysisError maps analysis failures to a status. The body always
// carries the fixed per-mode message; request problems add the detail.
func writeAnalysisError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, analysis.ErrInvalidImage), errors.Is(err, analysis.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, analysis.ErrDisabled):
		status = http.StatusServiceUnavailable
	}

	body := map[string]string{"error": err.Error()}
	var ae *analysis.Error
	if status == http.StatusBadRequest && errors.As(err, &ae) && ae.Err != nil {
		body["detail"] = ae.Err.Error()
	}
	writeJSON(w, status, body)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
