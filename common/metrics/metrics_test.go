package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrator/workflow-core/common/metrics"
)

func gatherCounter(t *testing.T, registry *prometheus.Registry, metric, label string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != metric {
			continue
		}
		for _, m := range fam.GetMetric() {
			if labelMatches(m, label) {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s{name=%q} not found", metric, label)
	return 0
}

func labelMatches(m *dto.Metric, name string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == "name" && lp.GetValue() == name {
			return true
		}
	}
	return false
}

func TestPrometheusHandler_CounterIncrementsUnderNamespace(t *testing.T) {
	registry := prometheus.NewRegistry()
	h := metrics.NewPrometheusHandler("orchestrator_test", registry)

	h.Counter("task_enqueued").Inc()
	h.Counter("task_enqueued").Add(2)

	assert.Equal(t, float64(3), gatherCounter(t, registry, "orchestrator_test_events_total", "task_enqueued"))
}

func TestPrometheusHandler_GaugeSetAndAdd(t *testing.T) {
	registry := prometheus.NewRegistry()
	h := metrics.NewPrometheusHandler("orchestrator_test", registry)

	g := h.Gauge("queue_depth")
	g.Set(10)
	g.Add(-3)

	families, err := registry.Gather()
	require.NoError(t, err)
	var found bool
	for _, fam := range families {
		if fam.GetName() != "orchestrator_test_levels" {
			continue
		}
		for _, m := range fam.GetMetric() {
			if labelMatches(m, "queue_depth") {
				assert.Equal(t, float64(7), m.GetGauge().GetValue())
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestPrometheusHandler_TimerRecordsObservation(t *testing.T) {
	registry := prometheus.NewRegistry()
	h := metrics.NewPrometheusHandler("orchestrator_test", registry)

	stop := h.Timer("poll").Start()
	time.Sleep(time.Millisecond)
	stop()

	families, err := registry.Gather()
	require.NoError(t, err)
	var sampleCount uint64
	for _, fam := range families {
		if fam.GetName() != "orchestrator_test_duration_seconds" {
			continue
		}
		for _, m := range fam.GetMetric() {
			if labelMatches(m, "poll") {
				sampleCount = m.GetHistogram().GetSampleCount()
			}
		}
	}
	assert.Equal(t, uint64(1), sampleCount)
}

func TestNoopHandler_DiscardsObservations(t *testing.T) {
	h := metrics.NoopHandler()
	h.Counter("x").Inc()
	h.Gauge("y").Set(5)
	stop := h.Timer("z").Start()
	stop()
	assert.Equal(t, h, h.WithTags(map[string]string{"a": "b"}))
}
