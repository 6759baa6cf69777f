package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ragent"

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram

	// Dispatch metrics
	DispatchDuration    *prometheus.HistogramVec
	DispatchErrorsTotal *prometheus.CounterVec

	// Tool metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Session metrics
	SessionLoadDuration       *prometheus.HistogramVec
	SessionPersistDuration    *prometheus.HistogramVec
	SessionPersistErrorsTotal *prometheus.CounterVec

	// Context metrics
	ContextBytes          prometheus.Gauge
	ContextTruncatedTotal prometheus.Counter
	WindowExchanges       prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics instance.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of runs by backend and final state",
			},
			[]string{"backend", "state"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of a run from start to end",
				Buckets:   prometheus.DefBuckets,
			},
		),

		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of backend dispatches in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind", "mode"},
		),
		DispatchErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_errors_total",
				Help:      "Total number of failed dispatches",
			},
			[]string{"kind", "error_type"},
		),

		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of tool calls made by the model",
			},
			[]string{"tool", "status"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Duration of tool calls in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"tool"},
		),

		SessionLoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_load_duration_seconds",
				Help:      "Duration of session loads",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"store"},
		),
		SessionPersistDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_persist_duration_seconds",
				Help:      "Duration of session persists",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"store"},
		),
		SessionPersistErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_persist_errors_total",
				Help:      "Total number of failed session persists",
			},
			[]string{"store"},
		),

		ContextBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "context_bytes",
				Help:      "Bytes of piped context retained for the last request",
			},
		),
		ContextTruncatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "context_truncated_total",
				Help:      "Total number of runs whose piped context was truncated",
			},
		),
		WindowExchanges: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "window_exchanges",
				Help:      "Prior exchanges included in the last request",
			},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.DispatchDuration,
		m.DispatchErrorsTotal,
		m.ToolCallsTotal,
		m.ToolCallDuration,
		m.SessionLoadDuration,
		m.SessionPersistDuration,
		m.SessionPersistErrorsTotal,
		m.ContextBytes,
		m.ContextTruncatedTotal,
		m.WindowExchanges,
	)
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the registry in the node_exporter textfile format.
// The write is atomic, so a collector never reads a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
