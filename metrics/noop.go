package metrics

import (
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-resources/types"
)

type NoopMetrics struct {
	running int32
}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&n.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (n *NoopMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&n.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	return nil
}

func (n *NoopMetrics) IsRunning() bool {
	return atomic.LoadInt32(&n.running) == 1
}

func (n *NoopMetrics) Counter(_ string, _ map[string]string) types.Counter { return &emptyCounter{} }
func (n *NoopMetrics) Gauge(_ string, _ map[string]string) types.Gauge     { return &emptyGauge{} }
func (n *NoopMetrics) Histogram(_ string, _ []float64, _ map[string]string) types.Histogram {
	return &emptyHistogram{}
}
func (n *NoopMetrics) Handler() fasthttp.RequestHandler { return nil }
func (n *NoopMetrics) Path() string                     { return "" }

type emptyCounter struct{}

func (c *emptyCounter) Inc()          {}
func (c *emptyCounter) Add(_ float64) {}
func (c *emptyCounter) Get() float64  { return 0 }

type emptyGauge struct{}

func (g *emptyGauge) Set(_ float64) {}
func (g *emptyGauge) Inc()          {}
func (g *emptyGauge) Dec()          {}
func (g *emptyGauge) Add(_ float64) {}
func (g *emptyGauge) Sub(_ float64) {}
func (g *emptyGauge) Get() float64  { return 0 }

type emptyHistogram struct{}

func (h *emptyHistogram) Observe(_ float64)           {}
func (h *emptyHistogram) ObserveDuration(_ time.Time) {}
func (h *emptyHistogram) GetCount() uint64            { return 0 }
func (h *emptyHistogram) GetSum() float64             { return 0 }
