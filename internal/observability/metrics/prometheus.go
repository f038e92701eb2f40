// Package metrics provides Prometheus metrics for the journey engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	RecordsDerived        prometheus.Counter
	ValidationFindings    *prometheus.CounterVec
	AlertsEmitted         *prometheus.CounterVec
	BatchDuration         prometheus.Histogram
	BatchSize             prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		RecordsDerived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journey_records_derived_total",
			Help: "Total journey records derived",
		}),
		ValidationFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journey_validation_findings_total",
			Help: "Non-pass validation findings by rule and outcome",
		}, []string{"rule", "outcome"}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journey_alerts_emitted_total",
			Help: "Threshold alerts emitted by metric",
		}, []string{"metric"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "journey_batch_duration_seconds",
			Help:    "Batch derivation pass duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		BatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "journey_batch_size",
			Help: "Rows in the most recent batch",
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
			Name: "alert_outbox_pending_entries",
			Help: "Pending alert outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.RecordsDerived,
		m.ValidationFindings,
		m.AlertsEmitted,
		m.BatchDuration,
		m.BatchSize,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
