// Package metrics provides Prometheus metrics for the dispatch subsystem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	AlertsTriggered       prometheus.Counter
	AlertsCancelled       prometheus.Counter
	NotificationsSent     *prometheus.CounterVec
	FacilitySearchSeconds prometheus.Histogram
	ActiveAlerts          prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		AlertsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_triggered_total",
			Help: "Total panic alerts triggered",
		}),
		AlertsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_cancelled_total",
			Help: "Total panic alerts cancelled",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notification attempts by channel and status",
		}, []string{"channel", "status"}),
		FacilitySearchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "facility_search_duration_seconds",
			Help:    "Hospital proximity search duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alerts_active",
			Help: "Currently active panic alerts",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
	}

	prometheus.MustRegister(
		m.AlertsTriggered,
		m.AlertsCancelled,
		m.NotificationsSent,
		m.FacilitySearchSeconds,
		m.ActiveAlerts,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
