package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_events_emitted_total",
			Help: "Total number of events emitted, by event type.",
		},
		[]string{"event_type"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"outcome"}, // succeeded, retrying, failed
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, http_429, timeout, network, breaker_open
	)

	DeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhooks_dead_letters_total",
			Help: "Total number of deliveries that reached terminal failure.",
		},
	)

	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhooks_delivery_latency_seconds",
			Help:    "Latency of outbound webhook HTTP calls.",
			Buckets: prometheus.DefBuckets,
		},
	)

	Backlog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webhooks_backlog",
			Help: "Number of deliveries in the ledger by status.",
		},
		[]string{"status"},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(EventsEmittedTotal, DeliveriesTotal, RetriesTotal, DeadLettersTotal, DeliveryLatency, Backlog)
}

// RecordEmitted increments the emitted-events counter for an event type.
func RecordEmitted(eventType string) {
	EventsEmittedTotal.WithLabelValues(eventType).Inc()
}

// RecordDelivery records the outcome of one dispatch attempt.
func RecordDelivery(outcome string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(outcome).Inc()
	if latency > 0 {
		DeliveryLatency.Observe(latency.Seconds())
	}
}

// RecordRetry increments the retry counter for a failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordDeadLetter increments the terminal-failure counter.
func RecordDeadLetter() {
	DeadLettersTotal.Inc()
}

// UpdateBacklog sets the backlog gauge for one status.
func UpdateBacklog(status string, n float64) {
	Backlog.WithLabelValues(status).Set(n)
}
