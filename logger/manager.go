package logger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-resources/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const defaultLoggerType = "default"

// Manager is the service logger. Every entry carries the service name and
// version; components log through Named children.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger types.Logger
	level  *zap.AtomicLevel
	state  atomic.Value
}

var (
	customLoggerCreators   = make(map[string]types.LoggerCreator)
	customLoggerCreatorsMu sync.RWMutex
)

// RegisterLogger makes a logger implementation selectable by logger.type.
func RegisterLogger(loggerName string, creator types.LoggerCreator) {
	customLoggerCreatorsMu.Lock()
	defer customLoggerCreatorsMu.Unlock()

	customLoggerCreators[loggerName] = creator
}

func NewManager(ctx context.Context, config types.ConfigManager) (*Manager, error) {
	serviceConfig := config.GetConfig()
	if serviceConfig.Logger == nil {
		return nil, types.ErrLoggerConfigInvalid
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:    managerCtx,
		cancel: cancel,
	}

	if err := manager.createLogger(serviceConfig); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to create logger")
	}

	manager.state.Store(StateStopped)

	manager.Debug("Logger initialized",
		zap.String("type", loggerType(serviceConfig.Logger)),
		zap.String("level", serviceConfig.Logger.Level))

	return manager, nil
}

func (m *Manager) createLogger(serviceConfig *types.ServiceConfig) error {
	loggerConfig := serviceConfig.Logger

	name := loggerType(loggerConfig)
	if name == defaultLoggerType {
		wrapper, level, err := NewDefaultLogger(loggerConfig, serviceConfig.Stage)
		if err != nil {
			return err
		}

		m.logger = wrapper.With(
			zap.String("service", serviceConfig.Name),
			zap.String("version", serviceConfig.Version))
		m.level = &level
		return nil
	}

	customLoggerCreatorsMu.RLock()
	creator, exists := customLoggerCreators[name]
	customLoggerCreatorsMu.RUnlock()

	if !exists {
		return types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", name)
	}

	logger, err := creator(loggerConfig.Config)
	if err != nil {
		return err
	}
	m.logger = logger
	return nil
}

func loggerType(loggerConfig *types.LoggerConfig) string {
	if loggerConfig.Type == "" {
		return defaultLoggerType
	}
	return loggerConfig.Type
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

// Stop flushes buffered entries. Sync errors of terminals are ignored.
func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(StateStopped)
		m.cancel()
	}()

	syncer, ok := m.logger.(interface{ Sync() error })
	if !ok {
		return nil
	}

	if err := syncer.Sync(); err != nil && !errors.Is(err, syscall.ENOTTY) && !errors.Is(err, syscall.EINVAL) {
		return types.WrapError(err, "failed to flush logger")
	}
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

// Named returns a child logger tagging entries with a component name.
// Loggers that cannot carry fields are returned unchanged.
func (m *Manager) Named(component string) types.Logger {
	if withFields, ok := m.logger.(interface {
		With(fields ...zap.Field) types.Logger
	}); ok {
		return withFields.With(zap.String("component", component))
	}
	return m.logger
}

// SetLevel changes the level of the default logger at runtime.
func (m *Manager) SetLevel(level string) bool {
	if m.level == nil {
		return false
	}
	m.level.SetLevel(parseLogLevel(level))
	return true
}

func (m *Manager) Level() zapcore.Level {
	if m.level == nil {
		return zapcore.InfoLevel
	}
	return m.level.Level()
}

func (m *Manager) Error(msg string, fields ...zap.Field) {
	m.logger.Error(msg, fields...)
}

func (m *Manager) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	m.logger.ErrorWithErrStack(msg, err, fields...)
}

func (m *Manager) Warn(msg string, fields ...zap.Field) {
	m.logger.Warn(msg, fields...)
}

func (m *Manager) Info(msg string, fields ...zap.Field) {
	m.logger.Info(msg, fields...)
}

func (m *Manager) Debug(msg string, fields ...zap.Field) {
	m.logger.Debug(msg, fields...)
}

func (m *Manager) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	m.logger.Log(lvl, msg, fields...)
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) {
	m.state.Store(newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}
