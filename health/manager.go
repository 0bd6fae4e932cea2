package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-resources/types"
	"github.com/saiset-co/sai-resources/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	DefaultCheckTimeout = 5 * time.Second
	// DefaultReportTTL bounds how often probes reach the caches behind the
	// checkers.
	DefaultReportTTL = time.Second

	maxConcurrentChecks = 8
)

type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	config       types.ConfigManager
	logger       types.Logger
	checkers     map[string]types.HealthChecker
	startTime    time.Time
	mu           sync.RWMutex
	state        atomic.Value
	checkTimeout time.Duration
	reportTTL    time.Duration

	reportMu   sync.Mutex
	lastReport *types.HealthReport
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) *Manager {
	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:          managerCtx,
		cancel:       cancel,
		config:       config,
		logger:       logger,
		checkers:     make(map[string]types.HealthChecker),
		checkTimeout: DefaultCheckTimeout,
		reportTTL:    DefaultReportTTL,
	}

	manager.state.Store(StateStopped)

	return manager
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	hm.checkers[name] = checker
	hm.mu.Unlock()

	hm.invalidate()
}

// Check runs every checker concurrently, each bounded by the check timeout.
func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(maxConcurrentChecks)

	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			result := hm.executeCheck(checkCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	return hm.buildReport(results)
}

// Report returns a recent report, running the checks again once the cached
// one is older than the report TTL.
func (hm *Manager) Report(ctx context.Context) types.HealthReport {
	hm.reportMu.Lock()
	defer hm.reportMu.Unlock()

	if hm.lastReport != nil && time.Since(hm.lastReport.Timestamp) < hm.reportTTL {
		return *hm.lastReport
	}

	report := hm.Check(ctx)
	hm.lastReport = &report

	if report.Status != types.StatusHealthy {
		for name, check := range report.Checks {
			if check.Status != types.StatusHealthy {
				hm.logger.Warn("Health check failed",
					zap.String("check", name),
					zap.String("status", string(check.Status)),
					zap.String("message", check.Message))
			}
		}
	}

	return report
}

func (hm *Manager) invalidate() {
	hm.reportMu.Lock()
	hm.lastReport = nil
	hm.reportMu.Unlock()
}

func (hm *Manager) Start() error {
	if !hm.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	hm.startTime = time.Now()
	hm.setState(StateRunning)

	hm.logger.Info("Health manager started")
	return nil
}

func (hm *Manager) Stop() error {
	if !hm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		hm.setState(StateStopped)
		hm.cancel()
	}()

	hm.mu.Lock()
	hm.checkers = make(map[string]types.HealthChecker)
	hm.mu.Unlock()

	hm.invalidate()

	hm.logger.Info("Health manager stopped gracefully")
	return nil
}

func (hm *Manager) IsRunning() bool {
	return hm.getState() == StateRunning
}

func (hm *Manager) getState() State {
	return hm.state.Load().(State)
}

func (hm *Manager) setState(newState State) {
	hm.state.Store(newState)
}

func (hm *Manager) transitionState(from, to State) bool {
	return hm.state.CompareAndSwap(from, to)
}

func (hm *Manager) HandleVersion(ctx *fasthttp.RequestCtx) {
	if !hm.IsRunning() {
		ctx.Error(types.ErrHealthIsNotRunning.Error(), fasthttp.StatusServiceUnavailable)
		return
	}

	service := hm.serviceInfo()

	hm.writeJSON(ctx, types.VersionInfo{
		Version:         service.Version,
		ResourceVersion: service.ResourceVersion,
		BuildInfo:       readBuildInfo().String(),
	}, fasthttp.StatusOK)
}

// HandleHealth answers 503 only for unhealthy reports; a degraded service
// still serves resources.
func (hm *Manager) HandleHealth(ctx *fasthttp.RequestCtx) {
	if !hm.IsRunning() {
		ctx.Error(types.ErrHealthIsNotRunning.Error(), fasthttp.StatusServiceUnavailable)
		return
	}

	report := hm.Report(hm.ctx)

	status := fasthttp.StatusOK
	if report.Status == types.StatusUnhealthy {
		status = fasthttp.StatusServiceUnavailable
	}

	hm.writeJSON(ctx, report, status)
}

// HandleLive reports process liveness without running any checker.
func (hm *Manager) HandleLive(ctx *fasthttp.RequestCtx) {
	if !hm.IsRunning() {
		ctx.Error(types.ErrHealthIsNotRunning.Error(), fasthttp.StatusServiceUnavailable)
		return
	}

	hm.writeJSON(ctx, map[string]interface{}{
		"status": types.StatusHealthy,
		"uptime": time.Since(hm.startTime).String(),
	}, fasthttp.StatusOK)
}

func (hm *Manager) writeJSON(ctx *fasthttp.RequestCtx, payload interface{}, status int) {
	data, err := utils.Marshal(payload)
	if err != nil {
		hm.logger.Error("Failed to encode health payload", zap.Error(err))
		ctx.Error(fasthttp.StatusMessage(fasthttp.StatusInternalServerError), fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Cache-Control", "no-store")
	ctx.SetBody(data)
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()
	failed := func(message string) types.HealthCheck {
		return types.HealthCheck{
			Name:      name,
			Status:    types.StatusUnhealthy,
			Message:   message,
			LastCheck: time.Now(),
			Duration:  time.Since(start),
		}
	}

	resultChan := make(chan types.HealthCheck, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- failed(fmt.Sprintf("Health check panicked: %v", r))
			}
		}()

		result := checker(ctx)
		result.Name = name
		result.LastCheck = time.Now()
		result.Duration = time.Since(start)
		if result.Status == "" {
			result.Status = types.StatusUnknown
		}
		resultChan <- result
	}()

	select {
	case result := <-resultChan:
		return result
	case <-hm.ctx.Done():
		return failed("Health manager shutting down")
	case <-ctx.Done():
		return failed("Health check timeout")
	}
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	summary := make(map[types.HealthStatus]int, 4)

	overallStatus := types.StatusHealthy
	for _, result := range results {
		summary[result.Status]++
		overallStatus = overallStatus.Worse(result.Status)
	}

	return types.HealthReport{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		Service:   hm.serviceInfo(),
		Checks:    results,
		Summary:   summary,
	}
}

func (hm *Manager) serviceInfo() types.ServiceInfo {
	config := hm.config.GetConfig()

	info := types.ServiceInfo{
		Name:            config.Name,
		Version:         config.Version,
		ResourceVersion: config.Version,
		Stage:           config.Stage,
	}
	if config.Resources != nil && config.Resources.Version != "" {
		info.ResourceVersion = config.Resources.Version
	}
	return info
}
