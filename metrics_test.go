package umqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricType(t *testing.T) {
	assert.Equal(t, "counter", MetricTypeCounter.String())
	assert.Equal(t, "gauge", MetricTypeGauge.String())
	assert.Equal(t, "histogram", MetricTypeHistogram.String())
	assert.Equal(t, "unknown", MetricType(9).String())
}

func TestNoOpMetrics(t *testing.T) {
	m := &NoOpMetrics{}

	c := m.Counter("x", nil)
	c.Inc()
	assert.Zero(t, c.Value())

	g := m.Gauge("x", nil)
	g.Set(3)
	assert.Zero(t, g.Value())

	h := m.Histogram("x", nil)
	h.ObserveDuration(time.Second)
	assert.Zero(t, h.Count())
	assert.Zero(t, h.Sum())
}

func TestMemoryMetrics(t *testing.T) {
	t.Run("counter", func(t *testing.T) {
		m := NewMemoryMetrics()
		c := m.Counter(MetricReconnects, nil)
		c.Inc()
		c.Add(2.5)

		assert.InDelta(t, 3.5, m.CounterValue(MetricReconnects, nil), 1e-9)
		assert.Same(t, c, m.Counter(MetricReconnects, nil))
	})

	t.Run("gauge", func(t *testing.T) {
		m := NewMemoryMetrics()
		g := m.Gauge(MetricConnected, nil)
		g.Set(10)
		g.Inc()
		g.Sub(4)
		g.Dec()

		assert.InDelta(t, 6.0, m.GaugeValue(MetricConnected, nil), 1e-9)
	})

	t.Run("histogram", func(t *testing.T) {
		m := NewMemoryMetrics()
		h := m.Histogram(MetricAckWait, nil)
		h.Observe(0.5)
		h.ObserveDuration(1500 * time.Millisecond)

		assert.Equal(t, uint64(2), m.HistogramCount(MetricAckWait, nil))
		assert.InDelta(t, 2.0, h.Sum(), 1e-9)
	})

	t.Run("labels order independent", func(t *testing.T) {
		m := NewMemoryMetrics()
		m.Counter("x", MetricLabels{"a": "1", "b": "2"}).Inc()
		m.Counter("x", MetricLabels{"b": "2", "a": "1"}).Inc()

		assert.InDelta(t, 2.0, m.CounterValue("x", MetricLabels{"a": "1", "b": "2"}), 1e-9)
	})

	t.Run("kinds do not collide", func(t *testing.T) {
		m := NewMemoryMetrics()
		m.Counter("x", nil).Inc()

		assert.Zero(t, m.GaugeValue("x", nil))
	})

	t.Run("missing reads zero", func(t *testing.T) {
		m := NewMemoryMetrics()
		assert.Zero(t, m.CounterValue("nope", nil))
		assert.Zero(t, m.HistogramCount("nope", nil))
	})

	t.Run("concurrent", func(t *testing.T) {
		m := NewMemoryMetrics()
		var wg sync.WaitGroup
		for range 10 {
			wg.Go(func() {
				for range 100 {
					m.Counter("x", nil).Inc()
				}
			})
		}
		wg.Wait()

		assert.InDelta(t, 1000.0, m.CounterValue("x", nil), 1e-9)
	})
}

func TestClientMetrics(t *testing.T) {
	m := NewMemoryMetrics()
	cm := clientMetrics{metrics: m}

	cm.packetSent(PacketPUBLISH)
	cm.packetReceived(PacketPUBACK)
	cm.reconnectAttempt()
	cm.connected(true)
	cm.ackWait(PacketPUBACK, 10*time.Millisecond)

	assert.InDelta(t, 1.0, m.CounterValue(MetricPacketsSent, MetricLabels{LabelPacketType: "PUBLISH"}), 1e-9)
	assert.InDelta(t, 1.0, m.CounterValue(MetricPacketsReceived, MetricLabels{LabelPacketType: "PUBACK"}), 1e-9)
	assert.InDelta(t, 1.0, m.CounterValue(MetricReconnects, nil), 1e-9)
	assert.InDelta(t, 1.0, m.GaugeValue(MetricConnected, nil), 1e-9)
	assert.Equal(t, uint64(1), m.HistogramCount(MetricAckWait, MetricLabels{LabelPacketType: "PUBACK"}))

	cm.connected(false)
	assert.Zero(t, m.GaugeValue(MetricConnected, nil))
}
