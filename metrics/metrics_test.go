package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-resources/config"
	"github.com/saiset-co/sai-resources/logger"
	"github.com/saiset-co/sai-resources/types"
)

func newManager(t *testing.T, metricsConfig *types.MetricsConfig) *Manager {
	t.Helper()

	cm, err := config.NewStaticManager(context.Background(), &types.ServiceConfig{
		Name:    "svc",
		Version: "1",
		Metrics: metricsConfig,
	})
	require.NoError(t, err)

	m, err := NewManager(context.Background(), cm, logger.NewNop())
	require.NoError(t, err)
	return m
}

func TestPrometheusMetrics_CountersAndHistograms(t *testing.T) {
	m := newManager(t, &types.MetricsConfig{
		Enabled: true,
		Type:    "prometheus",
		Config:  map[string]interface{}{"enable_go_metrics": false},
	})
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	hits := m.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "hit"})
	hits.Inc()
	hits.Add(2)
	assert.Equal(t, float64(3), hits.Get())

	same := m.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "hit"})
	assert.Equal(t, float64(3), same.Get())

	gauge := m.Gauge("cache_entries", map[string]string{"cache": "main"})
	gauge.Set(10)
	gauge.Dec()
	assert.Equal(t, float64(9), gauge.Get())

	h := m.Histogram("cache_operation_duration_seconds", []float64{0.1, 1}, map[string]string{"operation": "get"})
	h.Observe(0.5)
	h.Observe(0.25)
	assert.Equal(t, uint64(2), h.GetCount())
	assert.InDelta(t, 0.75, h.GetSum(), 1e-9)
}

func TestPrometheusMetrics_Handler(t *testing.T) {
	m := newManager(t, &types.MetricsConfig{
		Enabled: true,
		Type:    "prometheus",
		Config:  map[string]interface{}{"enable_go_metrics": false, "namespace": "test"},
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")
	m.Handler()(ctx)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())

	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	m.Counter("resource_requests_total", map[string]string{"result": "served"}).Inc()

	ctx = &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")
	m.Handler()(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.True(t, strings.Contains(string(ctx.Response.Body()), `test_resource_requests_total{result="served"} 1`))
	assert.Equal(t, "/metrics", m.Path())
}

func TestManager_DisabledUsesNoop(t *testing.T) {
	m := newManager(t, &types.MetricsConfig{Enabled: false})
	require.NoError(t, m.Start())

	c := m.Counter("anything", nil)
	c.Inc()
	assert.Equal(t, float64(0), c.Get())
	assert.Equal(t, "", m.Path())
	require.NoError(t, m.Stop())
}

func TestManager_UnknownType(t *testing.T) {
	cm, err := config.NewStaticManager(context.Background(), &types.ServiceConfig{
		Name:    "svc",
		Version: "1",
		Metrics: &types.MetricsConfig{Enabled: true, Type: "statsd"},
	})
	require.NoError(t, err)

	_, err = NewManager(context.Background(), cm, logger.NewNop())
	assert.ErrorIs(t, err, types.ErrMetricsTypeUnknown)
}

func TestPrometheusMetrics_ConflictingFamilies(t *testing.T) {
	prom, err := NewPrometheusMetrics(logger.NewNop(), &types.MetricsConfig{
		Enabled: true,
		Type:    "prometheus",
		Config:  map[string]interface{}{"enable_go_metrics": false, "path": "stats"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/stats", prom.Path())

	prom.Counter("resource_requests_total", map[string]string{"result": "served"}).Inc()

	wrongLabels := prom.Counter("resource_requests_total", map[string]string{"outcome": "served"})
	wrongLabels.Inc()
	assert.Equal(t, float64(0), wrongLabels.Get())

	wrongKind := prom.Gauge("resource_requests_total", map[string]string{"result": "served"})
	wrongKind.Set(5)
	assert.Equal(t, float64(0), wrongKind.Get())

	assert.Equal(t, float64(1), prom.Counter("resource_requests_total", map[string]string{"result": "served"}).Get())

	families, err := prom.Registry().Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "sai_resources_resource_requests_total", families[0].GetName())
	assert.Contains(t, families[0].GetHelp(), "Resource requests by outcome")
}

func TestManager_RegisteredBackend(t *testing.T) {
	var received interface{}
	RegisterBackend("recording", func(config interface{}) (types.MetricsManager, error) {
		received = config
		return NewNoopMetrics(), nil
	})
	RegisterBackend(TypePrometheus, func(interface{}) (types.MetricsManager, error) {
		t.Fatal("built-in backends cannot be replaced")
		return nil, nil
	})

	assert.Contains(t, Backends(), "recording")

	m := newManager(t, &types.MetricsConfig{
		Enabled: true,
		Type:    "recording",
		Config:  map[string]interface{}{"flush": "10s"},
	})
	assert.Equal(t, "recording", m.Type())
	assert.Equal(t, map[string]interface{}{"flush": "10s"}, received)

	ctx := &fasthttp.RequestCtx{}
	m.Handler()(ctx)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())

	prom := newManager(t, &types.MetricsConfig{Enabled: true, Type: TypePrometheus})
	assert.Equal(t, TypePrometheus, prom.Type())
}
