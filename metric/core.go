// Package metric provides Prometheus-based metrics collection and an HTTP
// endpoint for the orchestration core. A central registry manages both
// platform metrics (message delivery, workflows, gateway health) and
// component-specific metrics registered at construction time.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the Prometheus namespace shared by all platform metrics.
const Namespace = "nmscore"

// Metrics contains all platform-level metrics (not component-specific)
type Metrics struct {
	// Delivery engine metrics
	MessagesSent      *prometheus.CounterVec
	MessagesProcessed *prometheus.CounterVec
	MessagesRetried   *prometheus.CounterVec
	MessagesDead      prometheus.Counter
	QueueDepth        *prometheus.GaugeVec
	DeliveryDuration  *prometheus.HistogramVec

	// Workflow metrics
	WorkflowsStarted   prometheus.Counter
	WorkflowsCompleted *prometheus.CounterVec
	StepDuration       *prometheus.HistogramVec

	// Gateway metrics
	GatewayCalls    *prometheus.CounterVec
	GatewayDuration *prometheus.HistogramVec

	// Platform metrics
	ModulesRegistered prometheus.Gauge
	HealthCheckStatus *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "messages_sent_total",
				Help:      "Total number of messages enqueued",
			},
			[]string{"priority"},
		),

		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "messages_processed_total",
				Help:      "Total number of messages processed by terminal status",
			},
			[]string{"status"},
		),

		MessagesRetried: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "messages_retried_total",
				Help:      "Total number of message retry re-enqueues",
			},
			[]string{"priority"},
		),

		MessagesDead: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "messages_dead_lettered_total",
				Help:      "Total number of messages moved to the dead-letter record",
			},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "queue_depth",
				Help:      "Current queue depth per priority tier",
			},
			[]string{"priority"},
		),

		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "delivery_duration_seconds",
				Help:      "Message routing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		WorkflowsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "workflow",
				Name:      "started_total",
				Help:      "Total number of workflow executions started",
			},
		),

		WorkflowsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "workflow",
				Name:      "completed_total",
				Help:      "Total number of workflow executions finished",
			},
			[]string{"status"},
		),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "workflow",
				Name:      "step_duration_seconds",
				Help:      "Workflow step execution duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"workflow", "step"},
		),

		GatewayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "gateway",
				Name:      "calls_total",
				Help:      "Total number of emulator gateway calls",
			},
			[]string{"operation", "status"},
		),

		GatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "gateway",
				Name:      "call_duration_seconds",
				Help:      "Emulator gateway call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		ModulesRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "registry",
				Name:      "modules_registered",
				Help:      "Number of currently registered modules",
			},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),
	}
}
