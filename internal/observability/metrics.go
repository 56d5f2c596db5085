package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the fabric registers. All
// components take a *Metrics reference rather than reaching for
// prometheus.DefaultRegisterer directly, so tests can build an isolated
// registry.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	MessagesProcessedTotal *prometheus.CounterVec
	MessagesDuplicateTotal prometheus.Counter
	MessagesOutOfOrder     prometheus.Counter

	QueueDepth       prometheus.Gauge
	PendingDepth     prometheus.Gauge
	DLQDepth         prometheus.Gauge
	SystemLoadLevel  *prometheus.GaugeVec
	AdmissionRejects *prometheus.CounterVec

	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec
	RetryAttemptsTotal        *prometheus.CounterVec

	WorkflowExecutionsTotal    *prometheus.CounterVec
	WorkflowExecutionDuration  *prometheus.HistogramVec
	AgentCallsTotal            *prometheus.CounterVec
	AgentCallDuration          *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests processed, by route, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),

		MessagesProcessedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_processed_total",
			Help: "Total inbound messages processed, by workflow and outcome.",
		}, []string{"workflow", "outcome"}),
		MessagesDuplicateTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "idempotency_duplicates_total",
			Help: "Total inbound events rejected as duplicates.",
		}),
		MessagesOutOfOrder: f.NewCounter(prometheus.CounterOpts{
			Name: "conversation_out_of_order_total",
			Help: "Total inbound events detected as out of order for their conversation.",
		}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "stream_length",
			Help: "Current length of the durable event stream.",
		}),
		PendingDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "stream_pending_count",
			Help: "Current count of unacknowledged pending entries.",
		}),
		DLQDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "stream_dlq_length",
			Help: "Current length of the dead letter stream.",
		}),
		SystemLoadLevel: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "system_load_level",
			Help: "Current admission load level: 1 for the active level label (low, medium, high, critical), 0 for the others.",
		}, []string{"level"}),
		AdmissionRejects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_rejected_total",
			Help: "Total requests rejected by the admission layer, by reason.",
		}, []string{"reason"}),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed,1=open,2=half_open), by caller and callee.",
		}, []string{"caller", "callee"}),
		CircuitBreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions, by caller, callee and new state.",
		}, []string{"caller", "callee", "state"}),
		RetryAttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total retry attempts, by operation and outcome.",
		}, []string{"operation", "outcome"}),

		WorkflowExecutionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_executions_total",
			Help: "Total workflow executions, by workflow name and status.",
		}, []string{"workflow", "status"}),
		WorkflowExecutionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workflow_execution_duration_seconds",
			Help:    "Workflow execution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow"}),
		AgentCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_calls_total",
			Help: "Total outbound agent calls, by agent and outcome.",
		}, []string{"agent", "outcome"}),
		AgentCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_call_duration_seconds",
			Help:    "Agent call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent"}),
	}
}
