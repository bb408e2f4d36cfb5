// Package metrics wraps github.com/prometheus/client_golang behind a small
// Handler interface, the way the ambient logging package wraps zap: callers
// record named counters/gauges/timers without importing prometheus types
// directly into service code.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Handler emits counters, gauges, and timers under a fixed namespace.
type Handler interface {
	Counter(name string) Counter
	Gauge(name string) Gauge
	Timer(name string) Timer
	WithTags(tags map[string]string) Handler
}

// Counter is a monotonically increasing value.
type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge is an arbitrarily moving value.
type Gauge interface {
	Set(v float64)
	Add(delta float64)
}

// Timer records durations.
type Timer interface {
	Record(d time.Duration)
	Start() func() // Start returns a stop func that records elapsed time.
}

type promHandler struct {
	namespace string
	registry  *prometheus.Registry
	tags      map[string]string

	counters *prometheus.CounterVec
	gauges   *prometheus.GaugeVec
	timers   *prometheus.HistogramVec
}

// NewPrometheusHandler builds a Handler backed by the given registry,
// pre-registering one CounterVec/GaugeVec/HistogramVec family per metric
// kind whose only label is "name", since Prometheus requires stable label
// sets per collector.
func NewPrometheusHandler(namespace string, registry *prometheus.Registry) Handler {
	h := &promHandler{
		namespace: namespace,
		registry:  registry,
		tags:      map[string]string{},
	}
	labelNames := []string{"name"}
	h.counters = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_total", Help: "Orchestrator event counters.",
	}, labelNames)
	h.gauges = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "levels", Help: "Orchestrator gauge levels.",
	}, labelNames)
	h.timers = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "duration_seconds", Help: "Orchestrator operation durations.",
		Buckets: prometheus.DefBuckets,
	}, labelNames)
	registry.MustRegister(h.counters, h.gauges, h.timers)
	return h
}

func (h *promHandler) Counter(name string) Counter {
	return &promCounter{vec: h.counters, name: name}
}

func (h *promHandler) Gauge(name string) Gauge {
	return &promGauge{vec: h.gauges, name: name}
}

func (h *promHandler) Timer(name string) Timer {
	return &promTimer{vec: h.timers, name: name}
}

// WithTags returns a child handler that holds the merged tags and shares
// this handler's collectors. The orchestrator's label surface is fixed to
// "name" for cardinality control, so the tags do not add labels.
func (h *promHandler) WithTags(tags map[string]string) Handler {
	merged := make(map[string]string, len(h.tags)+len(tags))
	for k, v := range h.tags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	return &promHandler{namespace: h.namespace, registry: h.registry, tags: merged,
		counters: h.counters, gauges: h.gauges, timers: h.timers}
}

type promCounter struct {
	vec  *prometheus.CounterVec
	name string
}

func (c *promCounter) Inc()              { c.vec.WithLabelValues(c.name).Inc() }
func (c *promCounter) Add(delta float64) { c.vec.WithLabelValues(c.name).Add(delta) }

type promGauge struct {
	vec  *prometheus.GaugeVec
	name string
}

func (g *promGauge) Set(v float64)     { g.vec.WithLabelValues(g.name).Set(v) }
func (g *promGauge) Add(delta float64) { g.vec.WithLabelValues(g.name).Add(delta) }

type promTimer struct {
	vec  *prometheus.HistogramVec
	name string
}

func (t *promTimer) Record(d time.Duration) {
	t.vec.WithLabelValues(t.name).Observe(d.Seconds())
}

func (t *promTimer) Start() func() {
	begin := time.Now()
	return func() { t.Record(time.Since(begin)) }
}

// NoopHandler returns a Handler that discards every observation, used by
// tests that construct services without a live registry.
func NoopHandler() Handler { return noopHandler{} }

type noopHandler struct{}

func (noopHandler) Counter(string) Counter           { return noopCounter{} }
func (noopHandler) Gauge(string) Gauge                { return noopGauge{} }
func (noopHandler) Timer(string) Timer                { return noopTimer{} }
func (h noopHandler) WithTags(map[string]string) Handler { return h }

type noopCounter struct{}

func (noopCounter) Inc()            {}
func (noopCounter) Add(float64)     {}

type noopGauge struct{}

func (noopGauge) Set(float64)  {}
func (noopGauge) Add(float64)  {}

type noopTimer struct{}

func (noopTimer) Record(time.Duration) {}
func (noopTimer) Start() func()        { return func() {} }
