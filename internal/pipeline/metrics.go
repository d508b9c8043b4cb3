package pipeline

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	stageDuration   *prometheus.HistogramVec
	uploadOutcomes  *prometheus.CounterVec
	artifactBytes   prometheus.Counter
}

// newMetrics registers the pipeline collectors with reg. A nil reg keeps them
// on a private registry.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &metrics{
		requestsTotal: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flyimg_pipeline_requests_total",
			Help: "Total transform requests by operation and outcome.",
		}, []string{"operation", "status"})),
		requestDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flyimg_pipeline_request_duration_seconds",
			Help:    "End-to-end duration of transform requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"})),
		stageDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flyimg_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage", "status"})),
		uploadOutcomes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flyimg_pipeline_upload_outcomes_total",
			Help: "Upload responses by shape (binary or pointer).",
		}, []string{"kind"})),
		artifactBytes: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flyimg_pipeline_artifact_bytes_total",
			Help: "Total bytes written to artifacts.",
		})),
	}
}

// register returns the collector already registered under the same
// descriptor when there is one, so several processors can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
