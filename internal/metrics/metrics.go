// Package metrics exposes the pipeline's operational counters through a
// Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	FramesReceived   *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	FramesInvalid    prometheus.Counter
	AnalyzerFailures *prometheus.CounterVec
	Decisions        *prometheus.CounterVec
	AlertsPublished  *prometheus.CounterVec
	AlertsSuppressed *prometheus.CounterVec
	StorageFailures  prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all pipeline metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_frames_received_total",
				Help: "Frames accepted by the normalizer",
			},
			[]string{"stream_id"},
		),
		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_frames_dropped_total",
				Help: "Frames dropped because the stream already had a frame in flight",
			},
			[]string{"stream_id"},
		),
		FramesInvalid: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vigil_frames_invalid_total",
				Help: "Frames rejected as undecodable or undersized",
			},
		),
		AnalyzerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_analyzer_failures_total",
				Help: "Analyzer calls that failed or timed out",
			},
			[]string{"source"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_decisions_total",
				Help: "Threat decisions produced by the fusion engine",
			},
			[]string{"category"},
		),
		AlertsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_alerts_published_total",
				Help: "Alerts admitted past the cooldown gate and dispatched",
			},
			[]string{"stream_id"},
		),
		AlertsSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_alerts_suppressed_total",
				Help: "Threat decisions suppressed by the cooldown gate",
			},
			[]string{"stream_id"},
		),
		StorageFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vigil_storage_failures_total",
				Help: "Incident persistence failures",
			},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FramesReceived,
		m.FramesDropped,
		m.FramesInvalid,
		m.AnalyzerFailures,
		m.Decisions,
		m.AlertsPublished,
		m.AlertsSuppressed,
		m.StorageFailures,
	)
	return m
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
