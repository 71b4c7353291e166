package umqtt

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryMetrics is an in-memory implementation of Metrics.
// Instruments are keyed by name plus sorted labels.
type MemoryMetrics struct {
	mu          sync.Mutex
	instruments map[string]*memoryInstrument
}

// NewMemoryMetrics creates a new in-memory metrics instance.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		instruments: make(map[string]*memoryInstrument),
	}
}

func labelsKey(kind MetricType, name string, labels MetricLabels) string {
	var b strings.Builder
	b.WriteString(kind.String())
	b.WriteByte(':')
	b.WriteString(name)
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func (m *MemoryMetrics) instrument(kind MetricType, name string, labels MetricLabels, create bool) *memoryInstrument {
	key := labelsKey(kind, name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instruments[key]
	if !ok && create {
		inst = &memoryInstrument{}
		m.instruments[key] = inst
	}
	return inst
}

// Counter returns a counter metric.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return m.instrument(MetricTypeCounter, name, labels, true)
}

// Gauge returns a gauge metric.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return m.instrument(MetricTypeGauge, name, labels, true)
}

// Histogram returns a histogram metric.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	return m.instrument(MetricTypeHistogram, name, labels, true)
}

// CounterValue returns the value of a counter, or 0 if it was never created.
func (m *MemoryMetrics) CounterValue(name string, labels MetricLabels) float64 {
	return m.instrument(MetricTypeCounter, name, labels, false).Value()
}

// GaugeValue returns the value of a gauge, or 0 if it was never created.
func (m *MemoryMetrics) GaugeValue(name string, labels MetricLabels) float64 {
	return m.instrument(MetricTypeGauge, name, labels, false).Value()
}

// HistogramCount returns the number of observations of a histogram.
func (m *MemoryMetrics) HistogramCount(name string, labels MetricLabels) uint64 {
	return m.instrument(MetricTypeHistogram, name, labels, false).Count()
}

// memoryInstrument backs all three instrument kinds.
// A nil receiver reads as zero.
type memoryInstrument struct {
	mu    sync.Mutex
	value float64
	count uint64
}

func (i *memoryInstrument) Inc()              { i.Add(1) }
func (i *memoryInstrument) Dec()              { i.Add(-1) }
func (i *memoryInstrument) Sub(delta float64) { i.Add(-delta) }

func (i *memoryInstrument) Add(delta float64) {
	i.mu.Lock()
	i.value += delta
	i.mu.Unlock()
}

func (i *memoryInstrument) Set(value float64) {
	i.mu.Lock()
	i.value = value
	i.mu.Unlock()
}

func (i *memoryInstrument) Value() float64 {
	if i == nil {
		return 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.value
}

func (i *memoryInstrument) Observe(value float64) {
	i.mu.Lock()
	i.value += value
	i.count++
	i.mu.Unlock()
}

func (i *memoryInstrument) ObserveDuration(d time.Duration) {
	i.Observe(d.Seconds())
}

func (i *memoryInstrument) Count() uint64 {
	if i == nil {
		return 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.count
}

func (i *memoryInstrument) Sum() float64 {
	return i.Value()
}
