// Package promadapters provides a Prometheus implementation of lending.MetricsCollector.
package promadapters

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AntonStoeckl/library-lending-go/lending"
)

const defaultNamespace = ""

var durationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// MetricsCollector implements lending.MetricsCollector on a Prometheus registry:
//   - RecordDuration -> HistogramVec in seconds
//   - IncrementCounter -> CounterVec
//   - RecordValue -> GaugeVec
//
// Vectors are created and registered on first use of a metric name. The label names of a metric
// are fixed by that first call; later calls fill missing labels with "" and drop unknown ones.
type MetricsCollector struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	histograms map[string]*vec[*prometheus.HistogramVec]
	counters   map[string]*vec[*prometheus.CounterVec]
	gauges     map[string]*vec[*prometheus.GaugeVec]
}

type vec[V any] struct {
	labelNames []string
	collector  V
}

// NewMetricsCollector creates a collector registering its vectors with registerer.
// Pass prometheus.DefaultRegisterer to expose them through promhttp.Handler().
func NewMetricsCollector(registerer prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		registerer: registerer,
		histograms: make(map[string]*vec[*prometheus.HistogramVec]),
		counters:   make(map[string]*vec[*prometheus.CounterVec]),
		gauges:     make(map[string]*vec[*prometheus.GaugeVec]),
	}
}

// RecordDuration observes duration in seconds.
func (m *MetricsCollector) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	m.mu.Lock()
	h, ok := m.histograms[metric]
	if !ok {
		names := labelNames(labels)
		h = &vec[*prometheus.HistogramVec]{
			labelNames: names,
			collector: register(m.registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: defaultNamespace,
				Name:      metric,
				Help:      "Duration of " + metric,
				Buckets:   durationBuckets,
			}, names)),
		}
		m.histograms[metric] = h
	}
	m.mu.Unlock()

	h.collector.WithLabelValues(labelValues(h.labelNames, labels)...).Observe(duration.Seconds())
}

// IncrementCounter increments the counter by one.
func (m *MetricsCollector) IncrementCounter(metric string, labels map[string]string) {
	m.mu.Lock()
	c, ok := m.counters[metric]
	if !ok {
		names := labelNames(labels)
		c = &vec[*prometheus.CounterVec]{
			labelNames: names,
			collector: register(m.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: defaultNamespace,
				Name:      metric,
				Help:      "Count of " + metric,
			}, names)),
		}
		m.counters[metric] = c
	}
	m.mu.Unlock()

	c.collector.WithLabelValues(labelValues(c.labelNames, labels)...).Inc()
}

// RecordValue sets the gauge to value.
func (m *MetricsCollector) RecordValue(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	g, ok := m.gauges[metric]
	if !ok {
		names := labelNames(labels)
		g = &vec[*prometheus.GaugeVec]{
			labelNames: names,
			collector: register(m.registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: defaultNamespace,
				Name:      metric,
				Help:      "Current value of " + metric,
			}, names)),
		}
		m.gauges[metric] = g
	}
	m.mu.Unlock()

	g.collector.WithLabelValues(labelValues(g.labelNames, labels)...).Set(value)
}

var _ lending.MetricsCollector = (*MetricsCollector)(nil)

// register registers c, reusing an identical collector registered earlier, e.g. by a second
// MetricsCollector on the same registry.
func register[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	if registerer == nil {
		return c
	}

	err := registerer.Register(c)
	if err == nil {
		return c
	}

	var alreadyRegistered prometheus.AlreadyRegisteredError
	if errors.As(err, &alreadyRegistered) {
		if existing, ok := alreadyRegistered.ExistingCollector.(C); ok {
			return existing
		}
	}

	// Unregistered vectors still work, they are just not exported.
	return c
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

func labelValues(names []string, labels map[string]string) []string {
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = labels[name]
	}

	return values
}
