// Package metrics exposes Prometheus metrics and the /healthz endpoint.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shadowbeta/internal/model"
)

// Metrics holds all Prometheus metrics of the API server. It implements
// the scanner, cache, runner and gateway observer interfaces.
type Metrics struct {
	// Scanner
	ScanDuration  prometheus.Histogram
	ScanStage     *prometheus.CounterVec // labels: stage=scanned|passed|analyzed|results
	FetchFailures *prometheus.CounterVec // labels: tier, category
	ScansTotal    prometheus.Counter

	// Cache
	CacheHits   *prometheus.CounterVec // labels: cache
	CacheMisses *prometheus.CounterVec // labels: cache
	CacheErrors *prometheus.CounterVec // labels: cache, op

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Runner
	RunnerEvents  *prometheus.CounterVec // labels: type
	RunnerUp      prometheus.Gauge
	OpenPositionN prometheus.Gauge

	// Warmer
	WarmerRuns *prometheus.CounterVec // labels: job, outcome

	// Gateway
	WSClients prometheus.Gauge
}

// NewMetrics creates every metric and registers it with reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shadowbeta_scan_duration_seconds",
			Help:    "Wall time of a full tiered scan",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		ScanStage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowbeta_scan_stage_total",
			Help: "Symbols per scan stage (scanned, passed, analyzed, results)",
		}, []string{"stage"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowbeta_fetch_failures_total",
			Help: "Per-symbol fetch failures by tier and category",
		}, []string{"tier", "category"}),
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowbeta_scans_total",
			Help: "Completed scans",
		}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowbeta_cache_hits_total",
			Help: "Cache hits by cache name",
		}, []string{"cache"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowbeta_cache_misses_total",
			Help: "Cache misses (absent or expired) by cache name",
		}, []string{"cache"}),
		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowbeta_cache_errors_total",
			Help: "Cache store errors degraded to misses",
		}, []string{"cache", "op"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shadowbeta_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowbeta_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		RunnerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowbeta_runner_events_total",
			Help: "Runner events by type",
		}, []string{"type"}),
		RunnerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shadowbeta_runner_active",
			Help: "1 while the strategy runner loop is running",
		}),
		OpenPositionN: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shadowbeta_open_positions",
			Help: "Open runner positions",
		}),

		WarmerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowbeta_warmer_runs_total",
			Help: "Cache warmer runs by job and outcome",
		}, []string{"job", "outcome"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shadowbeta_ws_clients",
			Help: "Connected WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.ScanDuration,
		m.ScanStage,
		m.FetchFailures,
		m.ScansTotal,
		m.CacheHits,
		m.CacheMisses,
		m.CacheErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RunnerEvents,
		m.RunnerUp,
		m.OpenPositionN,
		m.WarmerRuns,
		m.WSClients,
	)

	return m
}

// ScanCompleted records one finished scan.
func (m *Metrics) ScanCompleted(meta model.ScanMetadata) {
	m.ScansTotal.Inc()
	m.ScanDuration.Observe(meta.ScanDurationSeconds)
	m.ScanStage.WithLabelValues("scanned").Add(float64(meta.Tier1Scanned))
	m.ScanStage.WithLabelValues("passed").Add(float64(meta.Tier1Passed))
	m.ScanStage.WithLabelValues("analyzed").Add(float64(meta.Tier2Analyzed))
	m.ScanStage.WithLabelValues("results").Add(float64(meta.FinalResults))
}

// FetchFailed records a per-symbol failure.
func (m *Metrics) FetchFailed(tier int, category string) {
	m.FetchFailures.WithLabelValues(strconv.Itoa(tier), category).Inc()
}

func (m *Metrics) CacheHit(cache string)  { m.CacheHits.WithLabelValues(cache).Inc() }
func (m *Metrics) CacheMiss(cache string) { m.CacheMisses.WithLabelValues(cache).Inc() }
func (m *Metrics) CacheError(cache, op string) {
	m.CacheErrors.WithLabelValues(cache, op).Inc()
}

// BreakerStateChanged mirrors circuit breaker transitions. from and to use
// 0=closed, 1=open, 2=half-open.
func (m *Metrics) BreakerStateChanged(from, to int) {
	m.RedisCircuitBreakerState.Set(float64(to))
	if to == 1 && from != 1 {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

func (m *Metrics) RunnerEvent(t model.EventType) { m.RunnerEvents.WithLabelValues(string(t)).Inc() }

func (m *Metrics) RunnerActive(active bool) {
	if active {
		m.RunnerUp.Set(1)
		return
	}
	m.RunnerUp.Set(0)
}

func (m *Metrics) OpenPositions(n int) { m.OpenPositionN.Set(float64(n)) }

// WarmerRun records a warmer job outcome ("ok", "skipped", "error").
func (m *Metrics) WarmerRun(job, outcome string) { m.WarmerRuns.WithLabelValues(job, outcome).Inc() }

func (m *Metrics) ClientsChanged(n int) { m.WSClients.Set(float64(n)) }

// HealthStatus tracks dependency reachability. A dependency that is not
// configured does not affect the overall status.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConfigured  bool
	MongoConfigured  bool
	SQLiteConfigured bool

	RedisConnected bool
	MongoOK        bool
	SQLiteOK       bool
	RunnerActive   bool

	RedisLatencyMs  float64
	MongoLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a health status with nothing configured.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRunnerActive(v bool) {
	h.mu.Lock()
	h.RunnerActive = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConfigured = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteConfigured = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckMongo runs ping and records latency + health.
func (h *HealthStatus) CheckMongo(ctx context.Context, ping func(context.Context) error) {
	start := time.Now()
	err := ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.MongoConfigured = true
	h.MongoOK = err == nil
	h.MongoLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// Probes are the dependencies the liveness checker pings. Nil fields are
// skipped.
type Probes struct {
	Redis  *goredis.Client
	SQLite *sql.DB
	Mongo  func(context.Context) error
}

// Check runs every configured probe once.
func (h *HealthStatus) Check(ctx context.Context, p Probes) {
	if p.Redis != nil {
		h.CheckRedis(ctx, p.Redis)
	}
	if p.SQLite != nil {
		h.CheckSQLite(ctx, p.SQLite)
	}
	if p.Mongo != nil {
		h.CheckMongo(ctx, p.Mongo)
	}
}

// StartLivenessChecker runs an immediate check and then one every interval.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, p Probes, interval time.Duration) {
	go func() {
		probe := func() {
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			h.Check(probeCtx, p)
			cancel()
		}
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// Report is the /healthz body.
type Report struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	RunnerActive    bool    `json:"runner_active"`
	RedisConnected  *bool   `json:"redis_connected,omitempty"`
	RedisLatencyMs  float64 `json:"redis_latency_ms,omitempty"`
	SQLiteOK        *bool   `json:"sqlite_ok,omitempty"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms,omitempty"`
	MongoOK         *bool   `json:"mongo_ok,omitempty"`
	MongoLatencyMs  float64 `json:"mongo_latency_ms,omitempty"`
	LastCheckAt     string  `json:"last_check_at,omitempty"`
}

// Report summarizes health. Status is "healthy" when every configured
// dependency answers, "unhealthy" when none does and "degraded" otherwise.
func (h *HealthStatus) Report() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := Report{
		Uptime:       time.Since(h.StartedAt).Round(time.Second).String(),
		RunnerActive: h.RunnerActive,
	}
	configured, ok := 0, 0
	track := func(isConfigured, healthy bool, dst **bool) {
		if !isConfigured {
			return
		}
		v := healthy
		*dst = &v
		configured++
		if healthy {
			ok++
		}
	}
	track(h.RedisConfigured, h.RedisConnected, &r.RedisConnected)
	track(h.SQLiteConfigured, h.SQLiteOK, &r.SQLiteOK)
	track(h.MongoConfigured, h.MongoOK, &r.MongoOK)
	if h.RedisConfigured {
		r.RedisLatencyMs = h.RedisLatencyMs
	}
	if h.SQLiteConfigured {
		r.SQLiteLatencyMs = h.SQLiteLatencyMs
	}
	if h.MongoConfigured {
		r.MongoLatencyMs = h.MongoLatencyMs
	}
	if !h.LastCheckAt.IsZero() {
		r.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}

	switch {
	case ok == configured:
		r.Status = "healthy"
	case ok == 0:
		r.Status = "unhealthy"
	default:
		r.Status = "degraded"
	}
	return r
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if report.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. A nil gatherer serves the
// default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	handler := promhttp.Handler()
	if gatherer != nil {
		handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.Handle("/healthz", health)

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

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "component", "metrics", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "component", "metrics", "err", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
