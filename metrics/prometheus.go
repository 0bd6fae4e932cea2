package metrics

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-resources/types"
	"github.com/saiset-co/sai-resources/utils"
)

const (
	DefaultPath      = "/metrics"
	DefaultNamespace = "sai_resources"
)

// metricHelp documents the metrics the service emits itself. Metrics not
// listed here get a generic help text.
var metricHelp = map[string]string{
	"resource_requests_total":          "Resource requests by outcome (served, not_modified, not_found).",
	"resource_cache_lookups_total":     "Resource snapshot lookups in the shared cache by result (hit, miss).",
	"cache_operations_total":           "Cache operations by cache, operation and result.",
	"cache_operation_duration_seconds": "Latency of cache operations.",
	"cache_expired_entries_total":      "Entries removed by cache sweeps.",
	"cron_job_executions_total":        "Cron job executions by job and result (success, error, skipped).",
	"cron_job_duration_seconds":        "Duration of cron job executions.",
	"cron_scheduler_running":           "1 while the cron scheduler is running.",
	"http_panics_total":                "Panics recovered while serving HTTP requests.",
}

type PrometheusConfig struct {
	Path            string            `yaml:"path" json:"path"`
	Namespace       string            `yaml:"namespace" json:"namespace"`
	Subsystem       string            `yaml:"subsystem" json:"subsystem"`
	Labels          map[string]string `yaml:"labels" json:"labels"`
	EnableGoMetrics bool              `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}

// vector is a registered metric family together with the label names it was
// created with. Prometheus rejects a family queried with other label names.
type vector struct {
	collector  prometheus.Collector
	labelNames []string
}

// PrometheusMetrics registers metric families lazily on first use in a
// private registry.
type PrometheusMetrics struct {
	logger   types.Logger
	config   *PrometheusConfig
	registry *prometheus.Registry
	vectors  map[string]*vector
	handler  fasthttp.RequestHandler
	mu       sync.Mutex
	running  int32
}

func NewPrometheusMetrics(logger types.Logger, config *types.MetricsConfig) (*PrometheusMetrics, error) {
	promConfig := &PrometheusConfig{
		Path:            DefaultPath,
		Namespace:       DefaultNamespace,
		Labels:          make(map[string]string),
		EnableGoMetrics: true,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, promConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal prometheus config")
		}
	}
	if !strings.HasPrefix(promConfig.Path, "/") {
		promConfig.Path = "/" + promConfig.Path
	}

	registry := prometheus.NewRegistry()
	if promConfig.EnableGoMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})

	logger.Info("Prometheus metrics initialized",
		zap.String("namespace", promConfig.Namespace),
		zap.String("path", promConfig.Path),
		zap.Bool("go_metrics", promConfig.EnableGoMetrics))

	return &PrometheusMetrics{
		logger:   logger,
		config:   promConfig,
		registry: registry,
		vectors:  make(map[string]*vector),
		handler:  fasthttpadaptor.NewFastHTTPHandler(handler),
	}, nil
}

func (p *PrometheusMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return atomic.LoadInt32(&p.running) == 1
}

func (p *PrometheusMetrics) Handler() fasthttp.RequestHandler {
	return p.handler
}

func (p *PrometheusMetrics) Path() string {
	return p.config.Path
}

func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	vec, ok := lookup(p, name, labels, func(opts prometheus.Opts, names []string) prometheus.Collector {
		return prometheus.NewCounterVec(prometheus.CounterOpts(opts), names)
	}).(*prometheus.CounterVec)
	if !ok {
		return &emptyCounter{}
	}
	return &PrometheusCounter{counter: vec.With(labels)}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	vec, ok := lookup(p, name, labels, func(opts prometheus.Opts, names []string) prometheus.Collector {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts(opts), names)
	}).(*prometheus.GaugeVec)
	if !ok {
		return &emptyGauge{}
	}
	return &PrometheusGauge{gauge: vec.With(labels)}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	vec, ok := lookup(p, name, labels, func(opts prometheus.Opts, names []string) prometheus.Collector {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        opts.Name,
			Help:        opts.Help,
			ConstLabels: opts.ConstLabels,
			Buckets:     buckets,
		}, names)
	}).(*prometheus.HistogramVec)
	if !ok {
		return &emptyHistogram{}
	}
	return &PrometheusHistogram{observer: vec.With(labels)}
}

// lookup returns the family registered under name, creating it on first
// use. A family of another kind or with other label names yields nil and a
// warning; the caller then hands out a noop metric.
func lookup(p *PrometheusMetrics, name string, labels map[string]string, create func(prometheus.Opts, []string) prometheus.Collector) prometheus.Collector {
	names := labelNames(labels)

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, exists := p.vectors[name]; exists {
		if !slices.Equal(existing.labelNames, names) {
			p.logger.Warn("Metric queried with mismatching labels",
				zap.String("name", name),
				zap.Strings("registered", existing.labelNames),
				zap.Strings("requested", names))
			return nil
		}
		return existing.collector
	}

	help, documented := metricHelp[name]
	if !documented {
		help = "Metric " + name
	}

	collector := create(prometheus.Opts{
		Namespace:   p.config.Namespace,
		Subsystem:   p.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: p.config.Labels,
	}, names)

	if err := p.registry.Register(collector); err != nil {
		p.logger.Warn("Metric registration failed", zap.String("name", name), zap.Error(err))
		return nil
	}

	p.vectors[name] = &vector{collector: collector, labelNames: names}
	return collector
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type PrometheusCounter struct {
	counter prometheus.Counter
}

func (c *PrometheusCounter) Inc() {
	c.counter.Inc()
}

func (c *PrometheusCounter) Add(value float64) {
	c.counter.Add(value)
}

func (c *PrometheusCounter) Get() float64 {
	return read(c.counter).GetCounter().GetValue()
}

type PrometheusGauge struct {
	gauge prometheus.Gauge
}

func (g *PrometheusGauge) Set(value float64) { g.gauge.Set(value) }
func (g *PrometheusGauge) Inc()              { g.gauge.Inc() }
func (g *PrometheusGauge) Dec()              { g.gauge.Dec() }
func (g *PrometheusGauge) Add(value float64) { g.gauge.Add(value) }
func (g *PrometheusGauge) Sub(value float64) { g.gauge.Sub(value) }

func (g *PrometheusGauge) Get() float64 {
	return read(g.gauge).GetGauge().GetValue()
}

type PrometheusHistogram struct {
	observer prometheus.Observer
}

func (h *PrometheusHistogram) Observe(value float64) {
	h.observer.Observe(value)
}

func (h *PrometheusHistogram) ObserveDuration(start time.Time) {
	h.observer.Observe(time.Since(start).Seconds())
}

func (h *PrometheusHistogram) GetCount() uint64 {
	return read(h.observer).GetHistogram().GetSampleCount()
}

func (h *PrometheusHistogram) GetSum() float64 {
	return read(h.observer).GetHistogram().GetSampleSum()
}

// read snapshots a single metric. Values that cannot be written read as
// zero.
func read(m interface{}) *dto.Metric {
	metric := &dto.Metric{}
	if promMetric, ok := m.(prometheus.Metric); ok {
		_ = promMetric.Write(metric)
	}
	return metric
}
