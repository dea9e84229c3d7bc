package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Probe is one dependency check run by the liveness loop.
type Probe struct {
	Name string
	Ping func(ctx context.Context) error
}

// RedisProbe pings rdb. A nil client always fails.
func RedisProbe(rdb *goredis.Client) Probe {
	return Probe{Name: DepRedis, Ping: func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("redis: no client")
		}
		return rdb.Ping(ctx).Err()
	}}
}

// SQLiteProbe pings db. A nil handle always fails.
func SQLiteProbe(db *sql.DB) Probe {
	return Probe{Name: DepSQLite, Ping: func(ctx context.Context) error {
		if db == nil {
			return errors.New("sqlite: no handle")
		}
		return db.PingContext(ctx)
	}}
}

const (
	DepRedis  = "redis"
	DepSQLite = "sqlite"
)

type depStatus struct {
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
	CheckedAt string  `json:"checked_at,omitempty"`
}

// HealthStatus aggregates the feed state and dependency probes for /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	pair      string
	feedState string
	streaming bool
	lastBar   time.Time
	deps      map[string]*depStatus
	startedAt time.Time
}

// NewHealthStatus starts with an idle feed and both stores unknown (down).
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		feedState: "idle",
		deps: map[string]*depStatus{
			DepRedis:  {},
			DepSQLite: {},
		},
		startedAt: time.Now(),
	}
}

// SetFeed records the controller's current state. streaming is true while
// bars come from the exchange stream.
func (h *HealthStatus) SetFeed(pair, state string, streaming bool) {
	h.mu.Lock()
	h.pair, h.feedState, h.streaming = pair, state, streaming
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.lastBar = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) { h.setDep(DepRedis, v, 0, nil) }
func (h *HealthStatus) SetSQLiteOK(v bool)       { h.setDep(DepSQLite, v, 0, nil) }

func (h *HealthStatus) setDep(name string, ok bool, latency time.Duration, err error) {
	st := &depStatus{OK: ok, LatencyMs: float64(latency.Microseconds()) / 1000.0}
	if err != nil {
		st.Error = err.Error()
	}
	if latency > 0 || err != nil {
		st.CheckedAt = time.Now().UTC().Format(time.RFC3339)
	}
	h.mu.Lock()
	h.deps[name] = st
	h.mu.Unlock()
}

// Check runs p once and records the outcome.
func (h *HealthStatus) Check(ctx context.Context, p Probe) {
	start := time.Now()
	err := p.Ping(ctx)
	h.setDep(p.Name, err == nil, time.Since(start), err)
}

// StartLivenessChecker runs every probe each interval until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration, probes ...Probe) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, p := range probes {
					pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
					h.Check(pctx, p)
					cancel()
				}
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
//
// The chart keeps working on synthetic bars and in-memory settings, so only
// a feed that is idle with no data, or both stores down, fails the probe.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	redisOK, sqliteOK := h.deps[DepRedis].OK, h.deps[DepSQLite].OK
	status, code := "healthy", http.StatusOK
	switch {
	case !redisOK && !sqliteOK:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case h.feedState == "idle" && h.lastBar.IsZero():
		status, code = "degraded", http.StatusServiceUnavailable
	case !h.streaming || !redisOK || !sqliteOK:
		status = "degraded"
	}

	body := map[string]any{
		"status":           status,
		"uptime":           time.Since(h.startedAt).Round(time.Second).String(),
		"pair":             h.pair,
		"feed_state":       h.feedState,
		"stream_connected": h.streaming,
		"dependencies":     h.deps,
	}
	if !h.lastBar.IsZero() {
		body["last_bar_time"] = h.lastBar.UTC().Format(time.RFC3339)
		body["last_bar_age"] = time.Since(h.lastBar).Round(time.Second).String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
