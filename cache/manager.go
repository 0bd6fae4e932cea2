package cache

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-resources/types"
)

const SweepJobName = "cache-sweep"

type Option func(*CacheManager)

func WithPropertiesFile(path string) Option {
	return func(m *CacheManager) {
		m.discovery.propertiesFile = path
	}
}

func WithServiceDirs(dirs ...string) Option {
	return func(m *CacheManager) {
		m.discovery.serviceDirs = append(m.discovery.serviceDirs, dirs...)
	}
}

// WithLookupEnv replaces os.LookupEnv for the factory environment variable.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(m *CacheManager) {
		m.discovery.lookupEnv = lookup
	}
}

func WithLRUCapacity(capacity int) Option {
	return func(m *CacheManager) {
		m.lruCapacity = capacity
	}
}

// CacheManager owns every named cache of the application and the factories
// they are created from.
type CacheManager struct {
	ctx             context.Context
	logger          types.Logger
	metrics         types.MetricsManager
	factories       map[string]types.CacheFactory
	caches          map[string]types.Cache
	discovery       discovery
	lruCapacity     int
	shutdownTimeout time.Duration
	mu              sync.RWMutex
}

func NewCacheManager(ctx context.Context, logger types.Logger, metrics types.MetricsManager, opts ...Option) *CacheManager {
	manager := &CacheManager{
		ctx:             ctx,
		logger:          logger,
		metrics:         metrics,
		factories:       make(map[string]types.CacheFactory),
		caches:          make(map[string]types.Cache),
		discovery:       discovery{lookupEnv: os.LookupEnv},
		lruCapacity:     DefaultLRUCapacity,
		shutdownTimeout: types.DefaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(manager)
	}

	manager.RegisterFactory(NewLRUFactory(logger, manager.lruCapacity))
	manager.RegisterFactory(NewRedisFactory(ctx, logger))
	manager.RegisterFactory(NewBadgerFactory(logger))
	manager.RegisterFactory(NewSQLiteFactory(ctx, logger))
	manager.RegisterFactory(NewCloverFactory(logger))

	return manager
}

func (m *CacheManager) RegisterFactory(factory types.CacheFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.factories[factory.Name()] = factory
}

func (m *CacheManager) Factory(name string) (types.CacheFactory, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	factory, exists := m.factories[name]
	return factory, exists
}

// CacheFactory returns the first registered factory in discovery order.
// It does not create a cache; CreateCache walks the same order and falls
// through to the next candidate when creation fails.
func (m *CacheManager) CacheFactory(env types.CacheEnv) (types.CacheFactory, error) {
	for _, name := range m.candidates(env) {
		if factory, exists := m.Factory(name); exists {
			return factory, nil
		}
		m.logger.Info("Cache factory is not registered", zap.String("factory", name))
	}

	return nil, types.ErrCacheFactoryNotFound
}

func (m *CacheManager) GetCache(name string) (types.Cache, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cache, exists := m.caches[name]
	return cache, exists
}

func (m *CacheManager) RegisterCache(name string, cache types.Cache) error {
	if cache == nil {
		return types.ErrInvalidParameter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.caches[name]; exists {
		return types.Errorf(types.ErrCacheExists, "name: %s", name)
	}

	m.caches[name] = cache
	return nil
}

// CreateCache builds, starts and registers a cache under name.
func (m *CacheManager) CreateCache(name string, env types.CacheEnv) (types.Cache, error) {
	if _, exists := m.GetCache(name); exists {
		return nil, types.Errorf(types.ErrCacheExists, "name: %s", name)
	}

	impl, factoryName, err := m.instantiate(env)
	if err != nil {
		return nil, err
	}

	cache := newInstrumentedCache(name, m.metrics, impl)

	if err := cache.Start(); err != nil {
		m.stopQuietly(name, impl)
		return nil, types.Errorf(types.ErrCacheConnectionFailed, "start %s: %v", name, err)
	}

	if err := m.RegisterCache(name, cache); err != nil {
		m.stopQuietly(name, cache)
		return nil, err
	}

	m.logger.Info("Cache created", zap.String("name", name), zap.String("factory", factoryName))
	return cache, nil
}

// GetNewCache returns the registered cache or creates it.
func (m *CacheManager) GetNewCache(name string, env types.CacheEnv) (types.Cache, error) {
	if cache, exists := m.GetCache(name); exists {
		return cache, nil
	}

	cache, err := m.CreateCache(name, env)
	if types.IsError(err, types.ErrCacheExists) {
		if existing, exists := m.GetCache(name); exists {
			return existing, nil
		}
	}
	return cache, err
}

func (m *CacheManager) DestroyCache(name string) error {
	m.mu.Lock()
	cache, exists := m.caches[name]
	delete(m.caches, name)
	m.mu.Unlock()

	if !exists {
		return types.Errorf(types.ErrCacheNotFound, "name: %s", name)
	}

	if err := cache.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
		return types.WrapError(err, fmt.Sprintf("failed to stop cache %s", name))
	}

	m.logger.Info("Cache destroyed", zap.String("name", name))
	return nil
}

// Destroy stops every registered cache and empties the registry.
func (m *CacheManager) Destroy() error {
	m.mu.Lock()
	caches := m.caches
	m.caches = make(map[string]types.Cache)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	var g errgroup.Group

	for name, cache := range caches {
		name, cache := name, cache
		g.Go(func() error {
			if err := cache.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
				m.logger.Error("Failed to stop cache", zap.String("name", name), zap.Error(err))
				return types.WrapError(err, fmt.Sprintf("failed to stop cache %s", name))
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		m.logger.Info("Cache manager destroyed", zap.Int("caches", len(caches)))
		return nil
	case <-ctx.Done():
		m.logger.Warn("Cache manager destroy timeout, some caches may not have stopped gracefully")
		return types.Errorf(types.ErrServerStopFailed, "cache manager: %v", ctx.Err())
	}
}

func (m *CacheManager) Caches() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sweep removes expired entries from every cache that supports it.
func (m *CacheManager) Sweep() int {
	m.mu.RLock()
	caches := make(map[string]types.Cache, len(m.caches))
	for name, cache := range m.caches {
		caches[name] = cache
	}
	m.mu.RUnlock()

	total := 0
	for name, cache := range caches {
		sweeper, ok := cache.(types.Sweeper)
		if !ok {
			continue
		}

		removed, err := sweeper.Sweep()
		if err != nil {
			m.logger.Warn("Cache sweep failed", zap.String("name", name), zap.Error(err))
			continue
		}
		total += removed
	}

	if total > 0 {
		m.logger.Debug("Cache sweep finished", zap.Int("removed", total))
	}
	return total
}

func (m *CacheManager) ScheduleSweeps(cron types.CronManager, spec string) error {
	if spec == "" {
		return nil
	}

	return cron.AddTask(SweepJobName, spec, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.Sweep()
		return nil
	})
}

// HealthChecker reports every registered cache that is not running or does
// not answer a ping.
func (m *CacheManager) HealthChecker() types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		m.mu.RLock()
		caches := make(map[string]types.Cache, len(m.caches))
		for name, cache := range m.caches {
			caches[name] = cache
		}
		m.mu.RUnlock()

		details := make(map[string]interface{}, len(caches))
		status := types.StatusHealthy

		for name, cache := range caches {
			state := "running"
			switch {
			case !cache.IsRunning():
				state = "stopped"
			default:
				if p, ok := cache.(pinger); ok {
					if err := p.Ping(ctx); err != nil {
						state = err.Error()
					}
				}
			}

			if state != "running" {
				status = types.StatusUnhealthy
			}
			details[name] = state
		}

		return types.HealthCheck{
			Status:  status,
			Details: details,
		}
	}
}

// instantiate tries every discovery candidate and returns the first cache a
// factory manages to create. Only the final fallback's error is returned.
func (m *CacheManager) instantiate(env types.CacheEnv) (types.Cache, string, error) {
	candidates := m.candidates(env)

	var lastErr error
	for _, name := range candidates {
		factory, exists := m.Factory(name)
		if !exists {
			lastErr = types.Errorf(types.ErrCacheFactoryNotFound, "factory: %s", name)
			m.logger.Info("Cache factory is not registered", zap.String("factory", name))
			continue
		}

		cache, err := m.createFrom(factory, env)
		if err != nil {
			lastErr = err
			m.logger.Info("Cache factory could not create a cache",
				zap.String("factory", name),
				zap.Error(err))
			continue
		}

		return cache, name, nil
	}

	if lastErr == nil {
		lastErr = types.ErrCacheFactoryNotFound
	}
	return nil, "", types.Errorf(types.ErrCacheConfigInvalid, "no usable cache factory: %v", lastErr)
}

func (m *CacheManager) createFrom(factory types.CacheFactory, env types.CacheEnv) (cache types.Cache, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrCacheConnectionFailed, "factory %s panicked: %v", factory.Name(), r)
		}
	}()

	cache, err = factory.CreateCache(env)
	if err == nil && cache == nil {
		err = types.Errorf(types.ErrCacheConnectionFailed, "factory %s returned no cache", factory.Name())
	}
	return cache, err
}

func (m *CacheManager) stopQuietly(name string, cache types.Cache) {
	if err := cache.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
		m.logger.Warn("Failed to stop cache", zap.String("name", name), zap.Error(err))
	}
}
