package observability

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records per-verb outcomes for one process run.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	installed  prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marznode",
				Name:      "operation_total",
				Help:      "Lifecycle operations by verb and result.",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "marznode",
				Name:      "operation_duration_seconds",
				Help:      "Lifecycle operation duration in seconds.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"op"},
		),
		installed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "marznode",
				Name:      "installed",
				Help:      "1 when the node installation is present.",
			},
		),
	}
	m.registry.MustRegister(m.operations, m.duration, m.installed)
	return m
}

// Observe records one finished operation.
func (m *Metrics) Observe(op string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) SetInstalled(installed bool) {
	if installed {
		m.installed.Set(1)
		return
	}
	m.installed.Set(0)
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile exports the registry for the node-exporter textfile collector.
// An empty path disables the export.
func (m *Metrics) WriteTextfile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
