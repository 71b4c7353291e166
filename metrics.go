package umqtt

import (
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	MetricTypeCounter MetricType = iota
	MetricTypeGauge
	MetricTypeHistogram
)

// String returns the string representation of the metric type.
func (t MetricType) String() string {
	switch t {
	case MetricTypeCounter:
		return "counter"
	case MetricTypeGauge:
		return "gauge"
	case MetricTypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics is a factory for named, labelled instruments.
// Adapters for Prometheus or OpenTelemetry implement it outside this package.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Sub(delta float64)
	Value() float64
}

// Histogram tracks the distribution of values.
type Histogram interface {
	Observe(value float64)

	// ObserveDuration records a duration in seconds.
	ObserveDuration(d time.Duration)

	Count() uint64
	Sum() float64
}

// NoOpMetrics is a no-op implementation of Metrics.
type NoOpMetrics struct{}

func (n *NoOpMetrics) Counter(_ string, _ MetricLabels) Counter     { return noOpInstrument{} }
func (n *NoOpMetrics) Gauge(_ string, _ MetricLabels) Gauge         { return noOpInstrument{} }
func (n *NoOpMetrics) Histogram(_ string, _ MetricLabels) Histogram { return noOpInstrument{} }

type noOpInstrument struct{}

func (noOpInstrument) Inc()                            {}
func (noOpInstrument) Dec()                            {}
func (noOpInstrument) Set(_ float64)                   {}
func (noOpInstrument) Add(_ float64)                   {}
func (noOpInstrument) Sub(_ float64)                   {}
func (noOpInstrument) Value() float64                  { return 0 }
func (noOpInstrument) Observe(_ float64)               {}
func (noOpInstrument) ObserveDuration(_ time.Duration) {}
func (noOpInstrument) Count() uint64                   { return 0 }
func (noOpInstrument) Sum() float64                    { return 0 }

// Client metric names.
const (
	MetricPacketsSent     = "umqtt_packets_sent_total"
	MetricPacketsReceived = "umqtt_packets_received_total"
	MetricReconnects      = "umqtt_reconnects_total"
	MetricConnected       = "umqtt_connected"
	MetricAckWait         = "umqtt_ack_wait_seconds"
)

// LabelPacketType is the packet type label.
const LabelPacketType = "type"

// clientMetrics records the client's instruments on a Metrics backend.
type clientMetrics struct {
	metrics Metrics
}

func (m clientMetrics) packetSent(t PacketType) {
	m.metrics.Counter(MetricPacketsSent, MetricLabels{LabelPacketType: t.String()}).Inc()
}

func (m clientMetrics) packetReceived(t PacketType) {
	m.metrics.Counter(MetricPacketsReceived, MetricLabels{LabelPacketType: t.String()}).Inc()
}

func (m clientMetrics) reconnectAttempt() {
	m.metrics.Counter(MetricReconnects, nil).Inc()
}

func (m clientMetrics) connected(up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.metrics.Gauge(MetricConnected, nil).Set(v)
}

func (m clientMetrics) ackWait(t PacketType, d time.Duration) {
	m.metrics.Histogram(MetricAckWait, MetricLabels{LabelPacketType: t.String()}).ObserveDuration(d)
}
