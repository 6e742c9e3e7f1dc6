// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus registry shared by the runtime collectors, with an HTTP
// exposition handler.

package control

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry owns a private prometheus registry.
type MetricsRegistry struct {
	reg *prometheus.Registry
}

// NewMetricsRegistry creates a registry with the Go runtime and process
// collectors installed.
func NewMetricsRegistry() *MetricsRegistry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &MetricsRegistry{reg: reg}
}

// Registerer is where components register their collectors.
func (mr *MetricsRegistry) Registerer() prometheus.Registerer { return mr.reg }

// Gatherer exposes the registry for scraping and tests.
func (mr *MetricsRegistry) Gatherer() prometheus.Gatherer { return mr.reg }

// Handler serves the registry in the text exposition format.
func (mr *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(mr.reg, promhttp.HandlerOpts{Registry: mr.reg})
}

// GetSnapshot returns the current value of every counter and gauge sample,
// keyed by family name. Labelled samples are summed.
func (mr *MetricsRegistry) GetSnapshot() (map[string]float64, error) {
	mfs, err := mr.reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(mfs))
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				out[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[mf.GetName()] += m.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}
