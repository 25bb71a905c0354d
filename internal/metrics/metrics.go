package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics for the RSI engine.
type Metrics struct {
	TicksTotal       prometheus.Counter
	SamplesTotal     *prometheus.CounterVec // labels: symbol
	SampleWaitTicks  prometheus.Counter     // ticks a sample was held outside Idle
	SampleTicks      prometheus.Histogram   // accept-to-Decide ticks per sample
	DivisionsTotal   prometheus.Counter
	DivOverflowTotal prometheus.Counter
	ClearsTotal      *prometheus.CounterVec // labels: reason=reset|flush
	SignalsTotal     *prometheus.CounterVec // labels: symbol, side
	RSIValue         *prometheus.GaugeVec   // labels: symbol

	ProcessDur      prometheus.Histogram
	DroppedSamples  *prometheus.CounterVec // labels: reason
	QueueSaturation prometheus.Gauge       // len/cap * 100 of the sample queue

	SinkWriteDur *prometheus.HistogramVec // labels: sink
	SinkErrors   *prometheus.CounterVec   // labels: sink

	WSClients prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsi_circuit_ticks_total",
			Help: "Total clock ticks issued to all circuits",
		}),
		SamplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsi_samples_retired_total",
			Help: "Samples that reached Decide (by symbol)",
		}, []string{"symbol"}),
		SampleWaitTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsi_sample_wait_ticks_total",
			Help: "Ticks a sample was re-asserted while the circuit was busy",
		}),
		SampleTicks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rsi_sample_ticks",
			Help:    "Clock ticks from acceptance to Decide per sample",
			Buckets: []float64{5, 6, 8, 12, 20, 36, 68, 132},
		}),
		DivisionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsi_divisions_total",
			Help: "Divisions retired by the divider",
		}),
		DivOverflowTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsi_division_overflow_total",
			Help: "Divisions that reported overflow",
		}),
		ClearsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsi_circuit_clears_total",
			Help: "Reset and flush events applied to circuits",
		}, []string{"reason"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsi_signals_total",
			Help: "Buy/sell signal edges raised",
		}, []string{"symbol", "side"}),
		RSIValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rsi_value",
			Help: "Last committed RSI per symbol",
		}, []string{"symbol"}),

		ProcessDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rsi_process_duration_seconds",
			Help:    "Wall time to clock one sample through a circuit",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		DroppedSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsi_dropped_samples_total",
			Help: "Samples dropped before reaching a circuit",
		}, []string{"reason"}),
		QueueSaturation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rsi_queue_saturation_pct",
			Help: "Sample queue fill percentage (len/cap * 100)",
		}),

		SinkWriteDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rsi_sink_write_duration_seconds",
			Help:    "Result sink write latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsi_sink_errors_total",
			Help: "Result sink write failures",
		}, []string{"sink"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rsi_ws_clients",
			Help: "Connected websocket clients",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.SamplesTotal,
		m.SampleWaitTicks,
		m.SampleTicks,
		m.DivisionsTotal,
		m.DivOverflowTotal,
		m.ClearsTotal,
		m.SignalsTotal,
		m.RSIValue,
		m.ProcessDur,
		m.DroppedSamples,
		m.QueueSaturation,
		m.SinkWriteDur,
		m.SinkErrors,
		m.WSClients,
	)

	return m
}

// ProbeFunc checks one dependency.
type ProbeFunc func(ctx context.Context) error

type probeResult struct {
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// HealthStatus tracks dependency probes and sample liveness.
type HealthStatus struct {
	mu sync.RWMutex

	probes  map[string]ProbeFunc
	results map[string]probeResult

	LastSampleTime time.Time
	Symbols        []string
	LastCheckAt    time.Time
	StartedAt      time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		probes:    make(map[string]ProbeFunc),
		results:   make(map[string]probeResult),
		StartedAt: time.Now(),
	}
}

// AddProbe registers a dependency check, e.g. a Redis or SQLite ping.
func (h *HealthStatus) AddProbe(name string, fn ProbeFunc) {
	h.mu.Lock()
	h.probes[name] = fn
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSampleTime(t time.Time) {
	h.mu.Lock()
	h.LastSampleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbols(symbols []string) {
	h.mu.Lock()
	h.Symbols = symbols
	h.mu.Unlock()
}

// Check runs every probe once and records latency and outcome.
func (h *HealthStatus) Check(ctx context.Context) {
	h.mu.RLock()
	probes := make(map[string]ProbeFunc, len(h.probes))
	for k, v := range h.probes {
		probes[k] = v
	}
	h.mu.RUnlock()

	results := make(map[string]probeResult, len(probes))
	for name, fn := range probes {
		start := time.Now()
		err := fn(ctx)
		r := probeResult{OK: err == nil, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}
		if err != nil {
			r.Error = err.Error()
		}
		results[name] = r
	}

	h.mu.Lock()
	h.results = results
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.Check(probeCtx)
				cancel()
			}
		}
	}()
}

// status is "healthy" when every probe passed, "unhealthy" when all failed
// and "degraded" otherwise. With no probes the service is healthy.
func (h *HealthStatus) status() (string, int) {
	failed := 0
	for _, r := range h.results {
		if !r.OK {
			failed++
		}
	}
	switch {
	case failed == 0:
		return "healthy", http.StatusOK
	case failed == len(h.results):
		return "unhealthy", http.StatusServiceUnavailable
	default:
		return "degraded", http.StatusServiceUnavailable
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus, httpCode := h.status()

	sampleAge := ""
	if !h.LastSampleTime.IsZero() {
		sampleAge = time.Since(h.LastSampleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status         string                 `json:"status"`
		Uptime         string                 `json:"uptime"`
		LastSampleTime string                 `json:"last_sample_time"`
		SampleAge      string                 `json:"sample_age"`
		Symbols        []string               `json:"symbols"`
		Dependencies   map[string]probeResult `json:"dependencies"`
		LastCheckAt    string                 `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		LastSampleTime: h.LastSampleTime.Format(time.RFC3339),
		SampleAge:      sampleAge,
		Symbols:        h.Symbols,
		Dependencies:   h.results,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	sonic.ConfigDefault.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics, /healthz and any routes the
// service adds with Handle.
type Server struct {
	health *HealthStatus
	addr   string
	mux    *http.ServeMux
	srv    *http.Server
	log    *zap.Logger
}

// NewServer creates a metrics and health server backed by gatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		health: health,
		addr:   addr,
		mux:    mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Handle registers an extra route. Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("metrics server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
