package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-resources/types"
)

const (
	TypeNoop       = "noop"
	TypePrometheus = "prometheus"
)

type ManagerState int32

const (
	ManagerStateStopped ManagerState = iota
	ManagerStateStarting
	ManagerStateRunning
	ManagerStateStopping
)

// Manager fronts the configured metrics backend. Metric handles can be
// resolved before Start so components grab them while the service is
// assembled; the exposition handler answers only while running.
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  types.Logger
	backend types.MetricsManager
	kind    string
	state   atomic.Value
}

var (
	backendsMu sync.RWMutex
	backends   = map[string]types.MetricsManagerCreator{}
)

// RegisterBackend makes a metrics implementation selectable by metrics.type.
// The built-in names cannot be replaced.
func RegisterBackend(name string, creator types.MetricsManagerCreator) {
	if name == TypeNoop || name == TypePrometheus {
		return
	}

	backendsMu.Lock()
	backends[name] = creator
	backendsMu.Unlock()
}

// Backends lists the selectable backend names.
func Backends() []string {
	backendsMu.RLock()
	names := make([]string, 0, len(backends)+2)
	for name := range backends {
		names = append(names, name)
	}
	backendsMu.RUnlock()

	names = append(names, TypeNoop, TypePrometheus)
	sort.Strings(names)
	return names
}

// NewManager selects the metrics backend. A missing or disabled section
// yields the noop backend so callers never need a nil check.
func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (*Manager, error) {
	metricsConfig := config.GetConfig().Metrics
	if metricsConfig == nil {
		metricsConfig = &types.MetricsConfig{}
	}

	kind := metricsConfig.Type
	if !metricsConfig.Enabled {
		kind = TypeNoop
	}

	backend, err := newBackend(kind, logger, metricsConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to initialize metrics manager")
	}

	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		logger:  logger,
		backend: backend,
		kind:    kind,
	}
	m.state.Store(ManagerStateStopped)

	logger.Info("Metrics manager initialized", zap.String("type", kind))
	return m, nil
}

func newBackend(kind string, logger types.Logger, metricsConfig *types.MetricsConfig) (types.MetricsManager, error) {
	switch kind {
	case TypeNoop:
		return NewNoopMetrics(), nil
	case TypePrometheus:
		return NewPrometheusMetrics(logger, metricsConfig)
	}

	backendsMu.RLock()
	creator, exists := backends[kind]
	backendsMu.RUnlock()

	if !exists {
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %q, known: %v", kind, Backends())
	}
	return creator(metricsConfig.Config)
}

func (m *Manager) Start() error {
	if !m.transitionState(ManagerStateStopped, ManagerStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := m.backend.Start(); err != nil {
		m.setState(ManagerStateStopped)
		return types.WrapError(err, "failed to start metrics backend")
	}

	m.setState(ManagerStateRunning)
	m.logger.Info("Metrics manager started", zap.String("type", m.kind), zap.String("path", m.backend.Path()))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(ManagerStateRunning, ManagerStateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(ManagerStateStopped)
		m.cancel()
	}()

	if err := m.backend.Stop(); err != nil {
		return types.WrapError(err, "failed to stop metrics backend")
	}

	m.logger.Info("Metrics manager stopped gracefully")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == ManagerStateRunning
}

func (m *Manager) getState() ManagerState {
	return m.state.Load().(ManagerState)
}

func (m *Manager) setState(newState ManagerState) {
	m.state.Store(newState)
}

func (m *Manager) transitionState(from, to ManagerState) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *Manager) Counter(name string, labels map[string]string) types.Counter {
	return m.backend.Counter(name, labels)
}

func (m *Manager) Gauge(name string, labels map[string]string) types.Gauge {
	return m.backend.Gauge(name, labels)
}

func (m *Manager) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	return m.backend.Histogram(name, buckets, labels)
}

func (m *Manager) Handler() fasthttp.RequestHandler {
	exposition := m.backend.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if exposition == nil || !m.IsRunning() {
			ctx.Error(types.ErrMetricsNotRunning.Error(), fasthttp.StatusServiceUnavailable)
			return
		}
		exposition(ctx)
	}
}

func (m *Manager) Path() string {
	return m.backend.Path()
}

// Type reports the backend actually in use.
func (m *Manager) Type() string {
	return m.kind
}

var _ types.MetricsManager = (*Manager)(nil)
