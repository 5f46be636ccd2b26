// Package metrics provides Prometheus metrics for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics for the service.
type Registry struct {
	// Polling metrics
	PollsTotal      *prometheus.CounterVec
	PollDuration    prometheus.Histogram
	ReadingsUpdated prometheus.Counter
	DecodeAnomalies prometheus.Counter

	// Connection metrics
	Connected        prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	ConnectionErrors prometheus.Counter

	// MQTT metrics
	MQTTMessagesPublished prometheus.Counter
	MQTTMessagesFailed    prometheus.Counter
	MQTTReconnects        prometheus.Counter
}

// NewRegistry creates a new metrics registry with all metrics registered
// against the default Prometheus registerer.
func NewRegistry() *Registry {
	return &Registry{
		PollsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timnet",
			Subsystem: "polling",
			Name:      "polls_total",
			Help:      "Total number of poll cycles by result",
		}, []string{"status"}),
		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "timnet",
			Subsystem: "polling",
			Name:      "duration_seconds",
			Help:      "Poll cycle duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		ReadingsUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "timnet",
			Subsystem: "polling",
			Name:      "readings_updated_total",
			Help:      "Total number of readings written to the value store",
		}),
		DecodeAnomalies: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "timnet",
			Subsystem: "polling",
			Name:      "decode_anomalies_total",
			Help:      "Total number of raw words that decoded to an unknown state",
		}),
		Connected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "timnet",
			Subsystem: "modbus",
			Name:      "connected",
			Help:      "1 while the device is considered connected",
		}),
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "timnet",
			Subsystem: "modbus",
			Name:      "connections_total",
			Help:      "Total number of connection attempts",
		}),
		ConnectionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "timnet",
			Subsystem: "modbus",
			Name:      "connection_errors_total",
			Help:      "Total number of failed block reads",
		}),
		MQTTMessagesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "timnet",
			Subsystem: "mqtt",
			Name:      "messages_published_total",
			Help:      "Total number of MQTT messages published",
		}),
		MQTTMessagesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "timnet",
			Subsystem: "mqtt",
			Name:      "messages_failed_total",
			Help:      "Total number of MQTT publish failures",
		}),
		MQTTReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "timnet",
			Subsystem: "mqtt",
			Name:      "reconnects_total",
			Help:      "Total number of MQTT reconnects",
		}),
	}
}

// RecordPoll records the outcome and duration of one poll cycle.
func (r *Registry) RecordPoll(status string, seconds float64) {
	if r == nil {
		return
	}
	r.PollsTotal.WithLabelValues(status).Inc()
	r.PollDuration.Observe(seconds)
}

// SetConnected updates the connection gauge.
func (r *Registry) SetConnected(connected bool) {
	if r == nil {
		return
	}
	if connected {
		r.Connected.Set(1)
	} else {
		r.Connected.Set(0)
	}
}
