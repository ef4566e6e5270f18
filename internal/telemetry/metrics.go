// Package telemetry exposes Prometheus metrics for saves, workflow
// transitions, publishing API calls and tagging jobs. A nil *Metrics is valid
// and records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "servicemanual"

// PublishingBuckets covers calls to the publishing API.
var PublishingBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type Metrics struct {
	registry *prometheus.Registry

	saves              *prometheus.CounterVec
	rollbacks          *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	maintenance        *prometheus.CounterVec
	publishingRequests *prometheus.CounterVec
	publishingDuration *prometheus.HistogramVec
	taggingJobs        *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Guide saves by result (ok, invalid, guard, sync_failed, error).",
		}, []string{"result"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Compensating rollbacks after a failed publishing sync, by result (ok, error, skipped).",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Workflow transitions by action and result.",
		}, []string{"action", "result"}),
		maintenance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_operations_total",
			Help:      "Change-note migrator operations by operation, result and dry_run.",
		}, []string{"operation", "result", "dry_run"}),
		publishingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publishing_api",
			Name:      "requests_total",
			Help:      "Publishing API calls by operation and outcome (ok, client_error, server_error, transport_error).",
		}, []string{"operation", "outcome"}),
		publishingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publishing_api",
			Name:      "request_duration_seconds",
			Help:      "Publishing API call latency.",
			Buckets:   PublishingBuckets,
		}, []string{"operation"}),
		taggingJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tagging",
			Name:      "jobs_total",
			Help:      "Tagging jobs by stage (enqueued, enqueue_failed, tagged, failed).",
		}, []string{"stage"}),
	}
	registry.MustRegister(
		m.saves,
		m.rollbacks,
		m.transitions,
		m.maintenance,
		m.publishingRequests,
		m.publishingDuration,
		m.taggingJobs,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Save(result string) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(result).Inc()
}

// Rollback counts a compensation attempt: "ok", "error" or "skipped" when a
// newer write was found and left alone.
func (m *Metrics) Rollback(result string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(result).Inc()
}

func (m *Metrics) Transition(action, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) Maintenance(operation string, ok, dryRun bool) {
	if m == nil {
		return
	}
	dry := "false"
	if dryRun {
		dry = "true"
	}
	m.maintenance.WithLabelValues(operation, okLabel(ok), dry).Inc()
}

func (m *Metrics) PublishingRequest(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.publishingRequests.WithLabelValues(operation, outcome).Inc()
	m.publishingDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) TaggingJob(stage string) {
	if m == nil {
		return
	}
	m.taggingJobs.WithLabelValues(stage).Inc()
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
