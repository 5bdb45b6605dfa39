// Package metrics holds the process-wide Prometheus instrumentation. A
// single Metrics value is constructed at startup and threaded to the
// components that record into it; the registry is private so tests can
// build isolated instances.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	WebhookRequests    *prometheus.CounterVec
	JobsEnqueued       *prometheus.CounterVec
	JobsCompleted      *prometheus.CounterVec
	QueueBacklog       prometheus.Gauge
	EventsDropped      *prometheus.CounterVec
	ProjectionRetries  prometheus.Counter
	ProjectionFailures prometheus.Counter
	AgentTimeouts      prometheus.Counter
	StreamSubscribers  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		WebhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoclaude_webhook_requests_total",
			Help: "Webhook deliveries received, by source and outcome.",
		}, []string{"source", "outcome"}),
		JobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoclaude_jobs_enqueued_total",
			Help: "Jobs accepted into the queue, by skill.",
		}, []string{"skill"}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoclaude_jobs_completed_total",
			Help: "Jobs that reached a terminal state, by result.",
		}, []string{"result"}),
		QueueBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autoclaude_queue_backlog",
			Help: "Jobs currently queued and waiting for a worker.",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoclaude_events_dropped_total",
			Help: "Domain events dropped on slow consumers, by component.",
		}, []string{"component"}),
		ProjectionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autoclaude_projection_retries_total",
			Help: "Kanban projection attempts that were retried.",
		}),
		ProjectionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autoclaude_projection_failures_total",
			Help: "Kanban projection updates abandoned after retry exhaustion.",
		}),
		AgentTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autoclaude_agent_timeouts_total",
			Help: "Agent runs cancelled for exceeding the wall-clock budget.",
		}),
		StreamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autoclaude_stream_subscribers",
			Help: "Live event stream subscribers across SSE and WebSocket.",
		}),
	}

	m.registry.MustRegister(
		m.WebhookRequests,
		m.JobsEnqueued,
		m.JobsCompleted,
		m.QueueBacklog,
		m.EventsDropped,
		m.ProjectionRetries,
		m.ProjectionFailures,
		m.AgentTimeouts,
		m.StreamSubscribers,
	)
	return m
}

// Handler serves the registry for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
