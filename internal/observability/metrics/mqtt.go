package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTT connection failure kinds
const (
	MQTTFailureConnect = "connect"
	MQTTFailurePublish = "publish"
)

// MQTTMetrics tracks the broker connection and ingestion event publishing.
type MQTTMetrics struct {
	Connected      prometheus.Gauge
	Reconnects     prometheus.Counter
	Failures       *prometheus.CounterVec // by kind
	Published      prometheus.Counter
	PublishLatency prometheus.Histogram
	PayloadSize    prometheus.Histogram
}

// NewMQTTMetrics creates the MQTT collectors and registers them.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_connected",
			Help: "1 while the broker connection is up",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_reconnects_total",
			Help: "Reconnection attempts after the broker connection was lost",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_failures_total",
			Help: "Failed broker operations by kind",
		}, []string{"kind"}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_ingestion_events_published_total",
			Help: "Ingestion events acknowledged by the broker",
		}),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqtt_publish_duration_seconds",
			Help:    "Time from publish to broker acknowledgement",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		}),
		PayloadSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqtt_payload_bytes",
			Help:    "Size of published ingestion events",
			Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.Connected, m.Reconnects, m.Failures, m.Published, m.PublishLatency, m.PayloadSize,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
		}
	}
	return m, nil
}

// SetConnected records the current connection state.
func (m *MQTTMetrics) SetConnected(connected bool) {
	if connected {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}

// RecordReconnect counts one reconnection attempt.
func (m *MQTTMetrics) RecordReconnect() {
	m.Reconnects.Inc()
}

// RecordFailure counts a failed operation of the given kind.
func (m *MQTTMetrics) RecordFailure(kind string) {
	m.Failures.WithLabelValues(kind).Inc()
}

// RecordPublish records an acknowledged publish of size bytes.
func (m *MQTTMetrics) RecordPublish(size int, d time.Duration) {
	m.Published.Inc()
	m.PayloadSize.Observe(float64(size))
	m.PublishLatency.Observe(d.Seconds())
}
