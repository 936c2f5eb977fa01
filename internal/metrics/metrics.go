// Package metrics holds the Prometheus collectors of the waitlist service.
// They are registered on the default registry and served by promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "waitlist"

var (
	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_length",
		Help:      "Tickets currently in the queue.",
	})
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Accepted registrations by ticket type.",
	}, []string{"type"})
	RejectedRegistrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_rejected_total",
		Help:      "Rejected registrations by reason.",
	}, []string{"reason"})
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Status transitions by target status.",
	}, []string{"status"})
	AutoCancels = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "absence_auto_cancels_total",
		Help:      "Absent tickets removed by the absence timeout.",
	})
	Rollovers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rollovers_total",
		Help:      "Service-day rollovers applied.",
	})

	PrintJobsStaged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "printer",
		Name:      "jobs_staged_total",
		Help:      "Print jobs staged for the printer.",
	})
	PrintJobsReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "printer",
		Name:      "jobs_replaced_total",
		Help:      "Staged print jobs overwritten before the printer fetched them.",
	})
	PrinterRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "printer",
		Name:      "requests_total",
		Help:      "CloudPRNT requests by method.",
	}, []string{"method"})

	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persistence_failures_total",
		Help:      "Failed snapshot writes.",
	})
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Failed notification deliveries by provider.",
	}, []string{"provider"})
	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_publish_failures_total",
		Help:      "Queue events that could not be published to the broker.",
	})

	ViewersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "viewers_connected",
		Help:      "Realtime viewers currently connected.",
	})
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method and status code.",
	}, []string{"method", "code"})
)
