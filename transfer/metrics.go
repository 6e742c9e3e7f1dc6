// File: transfer/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transfer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/momentics/hioload-stream/api"
)

// Metrics are the pool collectors.
type Metrics struct {
	started  prometheus.Counter
	finished *prometheus.CounterVec
	bytes    prometheus.Counter
	duration prometheus.Histogram

	working prometheus.Gauge
	waiting prometheus.Gauge
	idle    prometheus.Gauge
}

// NewMetrics registers the collectors on reg under namespace. A nil reg uses
// a private registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		started: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_started_total",
			Help:      "Transfers moved into the working list",
		}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_finished_total",
			Help:      "Transfers finished by terminal state",
		}, []string{"state"}),
		bytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Bytes written to destinations",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Time from start to terminal report",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		working: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_working",
			Help:      "Tasks currently copying",
		}),
		waiting: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_waiting",
			Help:      "Tasks queued for a working slot",
		}),
		idle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_idle",
			Help:      "Recycled task records",
		}),
	}
}

func (m *Metrics) start() {
	if m != nil {
		m.started.Inc()
	}
}

func (m *Metrics) finish(st api.State, save int64, took time.Duration) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(st.String()).Inc()
	m.bytes.Add(float64(save))
	m.duration.Observe(took.Seconds())
}

func (m *Metrics) lists(working, waiting, idle int) {
	if m == nil {
		return
	}
	m.working.Set(float64(working))
	m.waiting.Set(float64(waiting))
	m.idle.Set(float64(idle))
}
