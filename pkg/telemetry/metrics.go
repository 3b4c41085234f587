package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a counter/gauge/histogram facade over a Prometheus registry.
// Unless telemetry is enabled every method is a no-op, so callers never
// guard their instrumentation sites.
type Metrics struct {
	enabled  bool
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewMetrics creates the metrics facade. When enabled is false the facade
// swallows all recordings and Serve does nothing.
func NewMetrics(enabled bool) *Metrics {
	return &Metrics{
		enabled:    enabled,
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Enabled reports whether recordings are being kept.
func (m *Metrics) Enabled() bool { return m.enabled }

// IncCounter increments a named counter, creating it on first use.
func (m *Metrics) IncCounter(name string, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: sanitizeMetricName(name),
			Help: fmt.Sprintf("Counter for %s", name),
		}, labelKeys(labels))
		m.registry.MustRegister(vec)
		m.counters[name] = vec
	}
	m.mu.Unlock()
	vec.With(labels).Inc()
}

// SetGauge sets a named gauge value.
func (m *Metrics) SetGauge(name string, value float64, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: sanitizeMetricName(name),
			Help: fmt.Sprintf("Gauge for %s", name),
		}, labelKeys(labels))
		m.registry.MustRegister(vec)
		m.gauges[name] = vec
	}
	m.mu.Unlock()
	vec.With(labels).Set(value)
}

// ObserveHistogram records an observation into a named histogram.
func (m *Metrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    sanitizeMetricName(name),
			Help:    fmt.Sprintf("Histogram for %s", name),
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		}, labelKeys(labels))
		m.registry.MustRegister(vec)
		m.histograms[name] = vec
	}
	m.mu.Unlock()
	vec.With(labels).Observe(value)
}

// Serve exposes the registry over HTTP at /metrics until the context is
// cancelled. No-op when telemetry is disabled.
func (m *Metrics) Serve(ctx context.Context, host string, port int, logger *slog.Logger) error {
	if !m.enabled {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics exporter listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	return keys
}

// sanitizeMetricName maps event-style dotted names onto the Prometheus
// naming charset.
func sanitizeMetricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return "hephaestus_" + string(out)
}
