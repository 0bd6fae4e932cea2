package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-resources/cache"
	"github.com/saiset-co/sai-resources/config"
	"github.com/saiset-co/sai-resources/cron"
	"github.com/saiset-co/sai-resources/health"
	"github.com/saiset-co/sai-resources/logger"
	"github.com/saiset-co/sai-resources/metrics"
	"github.com/saiset-co/sai-resources/resource"
	"github.com/saiset-co/sai-resources/server"
	"github.com/saiset-co/sai-resources/tls"
	"github.com/saiset-co/sai-resources/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Service wires the resource handler, its cache and the HTTP server into
// one process with a shared lifecycle.
type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	startTimeout    time.Duration

	config    *config.ConfigurationManager
	logger    *logger.Manager
	metrics   *metrics.Manager
	health    *health.Manager
	cron      *cron.Manager
	caches    *cache.CacheManager
	resources *resource.ResourceHandler
	tls       *tls.CertManager
	server    *server.FastHTTPServer
}

func NewService(ctx context.Context, configPath string) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, types.WrapError(err, "file does not exist")
	}

	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, err
	}

	return newService(ctx, configManager)
}

// NewServiceWithConfig builds a service from an in-memory configuration.
func NewServiceWithConfig(ctx context.Context, serviceConfig *types.ServiceConfig) (*Service, error) {
	configManager, err := config.NewStaticManager(ctx, serviceConfig)
	if err != nil {
		return nil, err
	}

	return newService(ctx, configManager)
}

func newService(ctx context.Context, configManager *config.ConfigurationManager) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		config:          configManager,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		startTimeout:    60 * time.Second,
	}

	s.state.Store(StateStopped)

	if err := s.registerComponents(); err != nil {
		if s.caches != nil {
			_ = s.caches.Destroy()
		}
		cancel()
		return nil, types.WrapError(err, "failed to register components")
	}

	return s, nil
}

// Registry accepts additional resources until the service is started.
func (s *Service) Registry() *resource.Registry {
	return s.resources.Registry()
}

func (s *Service) Resources() *resource.ResourceHandler {
	return s.resources
}

func (s *Service) Logger() types.Logger {
	return s.logger
}

// Handler is the full request pipeline, usable without a listener.
func (s *Service) Handler() fasthttp.RequestHandler {
	return s.server.Handler()
}

// Start runs the service and blocks until it has been stopped.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrServiceIsRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("service panic: %v", r)
				s.logger.Error("Service run panic", zap.Stack(string(buf[:n])))
				s.setState(StateStopped)
			}
		}()

		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	s.logger.Info("Starting service", zap.String("name", s.config.GetConfig().Name))

	ctx, cancel := context.WithTimeout(s.ctx, s.startTimeout)
	defer cancel()

	if err := s.startComponents(ctx); err != nil {
		s.setState(StateStopped)
		if stopErr := s.stopComponents(); stopErr != nil {
			s.logger.Error("Error during service shutdown", zap.Error(stopErr))
		}
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)
	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	s.logger.Info("Service started successfully")

	<-s.done

	if err := s.stopComponents(); err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.setState(StateStopped)

	s.logger.Info("Service stopped gracefully")
	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger.Warn("Service is not running")
		return types.ErrServiceIsNotRunning
	}

	s.logger.Info("Stopping service...")
	s.cancel()

	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) Context() context.Context {
	return s.ctx
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) {
	s.state.Store(newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *Service) registerComponents() error {
	cfg := s.config.GetConfig()

	loggerManager, err := logger.NewManager(s.ctx, s.config)
	if err != nil {
		return types.WrapError(err, "failed to register logger")
	}
	s.logger = loggerManager

	metricsManager, err := metrics.NewManager(s.ctx, s.config, loggerManager)
	if err != nil {
		return types.WrapError(err, "failed to register metrics manager")
	}
	s.metrics = metricsManager

	s.health = health.NewManager(s.ctx, s.config, loggerManager.Named("health"))
	s.cron = cron.NewManager(s.ctx, s.config, loggerManager.Named("cron"), metricsManager)

	resourceCache, err := s.registerCache(cfg.Cache)
	if err != nil {
		return err
	}

	s.resources, err = s.registerResources(cfg, resourceCache)
	if err != nil {
		return err
	}

	var tlsManager types.TLSManager
	if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		s.tls, err = tls.NewCertManager(s.ctx, loggerManager.Named("tls"), cfg.Server.TLS)
		if err != nil {
			return types.WrapError(err, "failed to register TLS manager")
		}
		s.health.RegisterChecker("tls", s.tls.HealthChecker())
		tlsManager = s.tls
	}

	httpLogger := loggerManager.Named("http")

	middlewares := []types.Middleware{
		server.RequestID(),
		server.AccessLog(httpLogger, "info"),
		server.Recovery(httpLogger, metricsManager, cfg.IsDevelopment()),
	}
	if compression := cfg.Server.Compression; compression != nil && compression.Enabled {
		middlewares = append(middlewares, server.Compression(httpLogger, compression))
	}

	s.server, err = server.NewHTTPServer(s.ctx, s.config, httpLogger, metricsManager, tlsManager, s.resources, middlewares...)
	if err != nil {
		return types.WrapError(err, "failed to register HTTP server")
	}

	if cfg.Health.Enabled {
		s.server.Handle("/health", s.health.HandleHealth)
		s.server.Handle("/health/live", s.health.HandleLive)
		s.server.Handle("/version", s.health.HandleVersion)
	}

	if cfg.Metrics.Enabled && metricsManager.Path() != "" {
		s.server.Handle(metricsManager.Path(), metricsManager.Handler())
	}

	return nil
}

// registerCache creates the shared resource cache through the factory
// discovery chain. An explicit factory in the configuration wins.
func (s *Service) registerCache(cacheConfig *types.CacheConfig) (types.Cache, error) {
	s.caches = cache.NewCacheManager(s.ctx, s.logger.Named("cache"), s.metrics,
		cache.WithPropertiesFile(cacheConfig.PropertiesFile),
		cache.WithServiceDirs(cacheConfig.ServiceDirs...),
	)

	env := types.CacheEnv(cacheConfig.Env).Clone()
	if cacheConfig.Factory != "" {
		env[cache.EnvFactoryKey] = cacheConfig.Factory
	}

	resourceCache, err := s.caches.CreateCache(cacheConfig.Name, env)
	if err != nil {
		return nil, types.WrapError(err, "failed to create resource cache")
	}

	if s.config.GetConfig().Cron.Enabled {
		if err := s.caches.ScheduleSweeps(s.cron, cacheConfig.SweepSchedule); err != nil {
			return nil, types.WrapError(err, "failed to schedule cache sweeps")
		}
	}

	s.health.RegisterChecker("cache", s.caches.HealthChecker())

	return resourceCache, nil
}

func (s *Service) registerResources(cfg *types.ServiceConfig, resourceCache types.Cache) (*resource.ResourceHandler, error) {
	resourcesConfig := cfg.Resources

	resourceLogger := s.logger.Named("resource")

	locations := resource.Locations{
		WebRoot:       resourcesConfig.WebRoot,
		ClasspathDirs: resourcesConfig.ClasspathDirs,
	}

	registry := resource.NewRegistry(resourceLogger, locations)
	if err := registry.Register(resource.GradientResourceName, resource.NewGradientImage, resource.Dynamic()); err != nil {
		return nil, err
	}
	registry.MarkAllowed(resourcesConfig.Allowed...)

	codec, err := resource.NewCodec(resourcesConfig.Codec)
	if err != nil {
		return nil, err
	}

	var defaultHandler resource.DefaultHandler
	if resourcesConfig.StaticPrefix != "" {
		defaultHandler = resource.NewStaticHandler(resourceLogger, resourcesConfig.StaticPrefix, resourcesConfig.MappingSuffix, locations)
	}

	version := resourcesConfig.Version
	if version == "" {
		version = cfg.Version
	}

	handler, err := resource.NewResourceHandler(resource.HandlerOptions{
		Prefix:        resourcesConfig.Prefix,
		MappingSuffix: resourcesConfig.MappingSuffix,
		Codec:         codec,
		Cache:         resourceCache,
		Registry:      registry,
		Default:       defaultHandler,
		Locations:     locations,
		Environment: resource.Environment{
			Stage:   cfg.Stage,
			Version: version,
			Skin:    resource.NewMapSkin(resourcesConfig.Skin),
		},
		Logger:  resourceLogger,
		Metrics: s.metrics,
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to register resource handler")
	}

	return handler, nil
}

func (s *Service) startComponents(ctx context.Context) error {
	cfg := s.config.GetConfig()

	for _, component := range []struct {
		name    string
		enabled bool
		manager types.LifecycleManager
	}{
		{name: "config manager", enabled: true, manager: s.config},
		{name: "logger", enabled: true, manager: s.logger},
		{name: "health manager", enabled: cfg.Health.Enabled, manager: s.health},
		{name: "metrics manager", enabled: true, manager: s.metrics},
	} {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !component.enabled {
			continue
		}
		if err := component.manager.Start(); err != nil {
			return types.WrapError(err, "failed to start "+component.name)
		}
	}

	if s.tls != nil {
		if err := s.tls.Start(); err != nil {
			return types.WrapError(err, "failed to start TLS manager")
		}
	}

	if err := s.server.Start(); err != nil {
		return types.WrapError(err, "failed to start HTTP server")
	}

	if cfg.Cron.Enabled {
		if err := s.cron.Start(); err != nil {
			s.logger.Error("Failed to start cron manager", zap.Error(err))
		}
	}

	s.logger.Info("All components started successfully")
	return nil
}

func (s *Service) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errs []error

	s.logger.Info("Stopping service components...")

	if s.server.IsRunning() {
		if err := s.server.Stop(); err != nil {
			s.logger.Error("Failed to stop HTTP server", zap.Error(err))
			errs = append(errs, err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	for _, component := range []struct {
		name    string
		manager types.LifecycleManager
	}{
		{name: "cron manager", manager: s.cron},
		{name: "TLS manager", manager: s.tlsManager()},
		{name: "health manager", manager: s.health},
	} {
		component := component
		if component.manager == nil || !component.manager.IsRunning() {
			continue
		}

		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := component.manager.Stop(); err != nil {
					s.logger.Error("Failed to stop "+component.name, zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			s.logger.Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
			errs = append(errs, err)
		}
	}

	if err := s.caches.Destroy(); err != nil {
		s.logger.Error("Failed to destroy caches", zap.Error(err))
		errs = append(errs, err)
	}

	for _, manager := range []types.LifecycleManager{s.metrics, s.logger, s.config} {
		if !manager.IsRunning() {
			continue
		}
		if err := manager.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return types.NewErrorf("service shutdown finished with %d errors: %v", len(errs), errs)
	}
	return nil
}

func (s *Service) tlsManager() types.LifecycleManager {
	if s.tls == nil {
		return nil
	}
	return s.tls
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}

		case <-s.ctx.Done():
			s.logger.Info("Service context cancelled")
		}

		signal.Stop(sigChan)
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		s.logger.Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		s.logger.Warn("Service shutdown: context deadline exceeded")
	default:
		s.logger.Info("Service shutdown: context done")
	}
}
