// Package metrics holds the Prometheus collectors for capture jobs and
// geolocation requests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "geoscout"

// Metrics is a set of collectors registered on their own registry so tests
// and multiple servers do not share global state.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal        *prometheus.CounterVec
	jobRunning       prometheus.Gauge
	geolocationTotal *prometheus.CounterVec
	observations     prometheus.Histogram
}

// New creates and registers the collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Capture jobs that reached a terminal state, by state.",
		}, []string{"state"}),
		jobRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_running",
			Help:      "1 while a capture job is running.",
		}),
		geolocationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geolocation_requests_total",
			Help:      "Geolocation provider requests, by result category.",
		}, []string{"category"}),
		observations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_observations",
			Help:      "Access points returned by completed capture jobs.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
	}
	m.registry.MustRegister(
		m.jobsTotal,
		m.jobRunning,
		m.geolocationTotal,
		m.observations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted() { m.jobRunning.Set(1) }

// JobFinished counts a terminal job and clears the running gauge.
func (m *Metrics) JobFinished(state string, observations int) {
	m.jobRunning.Set(0)
	m.jobsTotal.WithLabelValues(state).Inc()
	if state == "stopped" {
		m.observations.Observe(float64(observations))
	}
}

// GeolocationRequest counts one provider request by category label.
func (m *Metrics) GeolocationRequest(category string) {
	m.geolocationTotal.WithLabelValues(category).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
