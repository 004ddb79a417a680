// Package metrics provides custom Prometheus metrics for client notification.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// NotificationMetrics tracks WebSocket clients and the messages sent to them.
type NotificationMetrics struct {
	ActiveConnections  prometheus.Gauge
	ConnectionsTotal   *prometheus.CounterVec   // by close reason
	ConnectionDuration prometheus.Histogram     // seconds a client stayed connected
	MessagesSent       *prometheus.CounterVec   // by kind (direct, broadcast) and status
	SendLatency        *prometheus.HistogramVec // by kind

	registry *prometheus.Registry
}

// Connection close reasons. Limited to keep label cardinality bounded.
const (
	CloseReasonClosed   = "closed"
	CloseReasonTimeout  = "timeout"
	CloseReasonReplaced = "replaced"
	CloseReasonError    = "error"
)

// Message kinds
const (
	MessageDirect    = "direct"
	MessageBroadcast = "broadcast"
)

// NewNotificationMetrics creates a new instance of NotificationMetrics.
// It returns an error if metric registration fails.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

func (m *NotificationMetrics) initMetrics() {
	m.ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notification_websocket_connections_active",
		Help: "Number of WebSocket clients currently registered",
	})

	m.ConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_websocket_connections_total",
			Help: "Total number of WebSocket connections by close reason",
		},
		[]string{"reason"},
	)

	m.ConnectionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notification_websocket_connection_duration_seconds",
		Help:    "How long WebSocket clients stayed connected",
		Buckets: prometheus.ExponentialBuckets(BucketStart1s, BucketFactor2, BucketCount15),
	})

	m.MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_messages_sent_total",
			Help: "Total number of messages sent to clients by kind and status",
		},
		[]string{"kind", "status"},
	)

	m.SendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_send_duration_seconds",
			Help:    "Time taken to hand a message to a client connection",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		},
		[]string{"kind"},
	)
}

// ConnectionOpened records a newly registered client.
func (m *NotificationMetrics) ConnectionOpened() {
	m.ActiveConnections.Inc()
}

// ConnectionClosed records a client leaving the registry.
// Unknown reasons are counted as errors.
func (m *NotificationMetrics) ConnectionClosed(reason string, connected time.Duration) {
	switch reason {
	case CloseReasonClosed, CloseReasonTimeout, CloseReasonReplaced, CloseReasonError:
	default:
		reason = CloseReasonError
	}
	m.ActiveConnections.Dec()
	m.ConnectionsTotal.WithLabelValues(reason).Inc()
	m.ConnectionDuration.Observe(connected.Seconds())
}

// RecordMessage records one send attempt.
func (m *NotificationMetrics) RecordMessage(kind, status string, duration time.Duration) {
	m.MessagesSent.WithLabelValues(kind, status).Inc()
	m.SendLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// GetActiveConnections returns the current value of the active connection gauge.
func (m *NotificationMetrics) GetActiveConnections() float64 {
	metric := &dto.Metric{}
	if err := m.ActiveConnections.Write(metric); err != nil {
		return 0
	}
	if metric.Gauge != nil && metric.Gauge.Value != nil {
		return *metric.Gauge.Value
	}
	return 0
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ActiveConnections.Collect(ch)
	m.ConnectionsTotal.Collect(ch)
	m.ConnectionDuration.Collect(ch)
	m.MessagesSent.Collect(ch)
	m.SendLatency.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ActiveConnections.Describe(ch)
	m.ConnectionsTotal.Describe(ch)
	m.ConnectionDuration.Describe(ch)
	m.MessagesSent.Describe(ch)
	m.SendLatency.Describe(ch)
}
