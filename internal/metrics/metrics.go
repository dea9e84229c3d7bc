package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the chart backend.
type Metrics struct {
	// Feed
	BarsUpserted    *prometheus.CounterVec // labels: source=stream|synthetic, result=appended|replaced
	StaleBars       prometheus.Counter
	DecodeFailures  prometheus.Counter
	Failovers       prometheus.Counter
	PairChanges     prometheus.Counter
	SeedFallbacks   prometheus.Counter
	DiscardedEvents *prometheus.CounterVec // labels: kind
	FeedState       prometheus.Gauge       // 0=idle 1=connecting 2=streaming 3=degraded 4=synthetic

	// Gateway
	WSClients      prometheus.Gauge
	BroadcastDrops prometheus.Counter

	// Analysis
	AnalysisRequests *prometheus.CounterVec // labels: mode, outcome=ok|error
	AnalysisDur      *prometheus.HistogramVec
	AnalysesPruned   prometheus.Counter

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisPublishDrops        prometheus.Counter
}

// NewMetrics registers and returns all metrics on reg. A nil reg means the
// default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		BarsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartd_bars_upserted_total",
			Help: "Bars written to the live series, by source and result",
		}, []string{"source", "result"}),
		StaleBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_stale_bars_rejected_total",
			Help: "Bars rejected because they were older than the last bar",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_stream_decode_failures_total",
			Help: "Stream messages dropped because they could not be decoded",
		}),
		Failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_feed_failovers_total",
			Help: "Times the feed switched from the stream to synthetic bars",
		}),
		PairChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_pair_changes_total",
			Help: "Pair selections handled by the feed controller",
		}),
		SeedFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_seed_fallbacks_total",
			Help: "Seed fetches answered with generated history",
		}),
		DiscardedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartd_discarded_stream_events_total",
			Help: "Events from closed subscriptions that were ignored",
		}, []string{"kind"}),
		FeedState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartd_feed_state",
			Help: "Feed state (0=idle, 1=connecting, 2=streaming, 3=degraded, 4=synthetic)",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartd_ws_clients",
			Help: "Connected websocket clients",
		}),
		BroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_broadcast_drops_total",
			Help: "Messages dropped because a client send buffer was full",
		}),

		AnalysisRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartd_analysis_requests_total",
			Help: "AI analysis requests by mode and outcome",
		}, []string{"mode", "outcome"}),
		AnalysisDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chartd_analysis_duration_seconds",
			Help:    "AI analysis latency",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"mode"}),
		AnalysesPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_analyses_pruned_total",
			Help: "Stored analyses removed by the retention job",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartd_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisPublishDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_redis_publish_drops_total",
			Help: "Bar publishes dropped because the queue was full or Redis was unavailable",
		}),
	}

	reg.MustRegister(
		m.BarsUpserted,
		m.StaleBars,
		m.DecodeFailures,
		m.Failovers,
		m.PairChanges,
		m.SeedFallbacks,
		m.DiscardedEvents,
		m.FeedState,
		m.WSClients,
		m.BroadcastDrops,
		m.AnalysisRequests,
		m.AnalysisDur,
		m.AnalysesPruned,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisPublishDrops,
	)

	return m
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. gatherer may be nil for
// the default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
