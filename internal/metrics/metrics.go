// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is private to the service so tests and the server never collide
// with the default global registry.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	IssuesCreated = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "snaprepair",
		Name:      "issues_created_total",
		Help:      "Issues submitted.",
	})

	StatusTransitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snaprepair",
		Name:      "issue_status_transitions_total",
		Help:      "Issue status changes by source and target status.",
	}, []string{"from", "to"})

	MessagesAppended = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snaprepair",
		Name:      "messages_appended_total",
		Help:      "Messages appended to issue logs by sender.",
	}, []string{"sender"})

	Payments = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snaprepair",
		Name:      "payments_total",
		Help:      "Payment attempts by outcome.",
	}, []string{"outcome"})

	LLMCalls = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "snaprepair",
		Name:      "llm_call_duration_seconds",
		Help:      "Latency of model calls by call type and outcome.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
	}, []string{"call_type", "outcome"})

	NotificationsDelivered = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "snaprepair",
		Name:      "notifications_delivered_total",
		Help:      "Events handed to live subscribers.",
	})

	NotificationsDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "snaprepair",
		Name:      "notifications_dropped_total",
		Help:      "Events dropped because a subscriber was slow or gone.",
	})

	Subscribers = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "snaprepair",
		Name:      "notification_subscribers",
		Help:      "Live issue subscribers on this instance.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
