package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every msgrelay collector. It is served at /metrics.
var Registry = prometheus.NewRegistry()

var (
	// QueueDepth is the number of commands waiting behind the one in flight.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "msgrelay_queue_depth",
			Help: "Number of pending commands in the automation queue.",
		},
	)

	// CommandAttempts counts executions by outcome: success, retry, failed.
	CommandAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgrelay_command_attempts_total",
			Help: "Total number of automation command executions, by outcome.",
		},
		[]string{"outcome"},
	)

	// CommandLatency observes single executions.
	CommandLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msgrelay_command_latency_seconds",
			Help:    "Duration of a single automation command execution.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"}, // kind: template/inline
	)

	// DeliveryMode is 1 for the current delivery channel mode and 0 for the others.
	DeliveryMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "msgrelay_delivery_mode",
			Help: "Current delivery channel mode (1 = active).",
		},
		[]string{"mode"},
	)

	// DeliveredItems counts items handed to the consumer, by source: push, poll, reconcile.
	DeliveredItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgrelay_delivered_items_total",
			Help: "Total number of work items handed to the consumer, by source.",
		},
		[]string{"source"},
	)

	PollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msgrelay_poll_errors_total",
			Help: "Total number of failed pull queries.",
		},
	)

	InboundSynced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msgrelay_inbound_synced_total",
			Help: "Total number of local messages written to the cloud datastore.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		QueueDepth,
		CommandAttempts,
		CommandLatency,
		DeliveryMode,
		DeliveredItems,
		PollErrors,
		InboundSynced,
	)
}

// SetDeliveryMode marks current as the only active mode among all.
func SetDeliveryMode(current string, all ...string) {
	for _, m := range all {
		v := 0.0
		if m == current {
			v = 1
		}
		DeliveryMode.WithLabelValues(m).Set(v)
	}
}
