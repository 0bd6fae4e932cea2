package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-resources/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	resultSuccess = "success"
	resultError   = "error"
	resultSkipped = "skipped"
)

var durationBuckets = []float64{0.001, 0.01, 0.1, 1, 10, 60}

// Manager schedules maintenance tasks such as cache sweeps. A task never
// runs twice at the same time: a tick that arrives while the previous run
// is still busy is skipped and counted.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	scheduler       *cron.Cron
	location        *time.Location
	jobs            map[string]*job
	mu              sync.RWMutex
	state           atomic.Value
	shutdownTimeout time.Duration
}

// job is the cron.Job registered with the scheduler for one named task.
type job struct {
	manager *Manager
	entry   types.JobEntry
	task    types.Task
	busy    atomic.Bool
}

func (j *job) Run() {
	j.manager.execute(j)
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *Manager {
	location := time.UTC
	if cronConfig := config.GetConfig().Cron; cronConfig != nil && cronConfig.Timezone != "" {
		loaded, err := time.LoadLocation(cronConfig.Timezone)
		if err != nil {
			logger.Warn("Unknown cron timezone, using UTC",
				zap.String("timezone", cronConfig.Timezone),
				zap.Error(err))
		} else {
			location = loaded
		}
	}

	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		scheduler: cron.New(
			cron.WithLocation(location),
			cron.WithSeconds(),
			cron.WithLogger(schedulerLogger{logger: logger}),
		),
		location:        location,
		jobs:            make(map[string]*job),
		shutdownTimeout: types.DefaultShutdownTimeout,
	}

	m.state.Store(StateStopped)

	return m
}

// Add schedules a task that cannot fail.
func (m *Manager) Add(jobName, spec string, fn func()) error {
	if fn == nil {
		return m.AddTask(jobName, spec, nil)
	}
	return m.AddTask(jobName, spec, func(context.Context) error {
		fn()
		return nil
	})
}

// AddTask schedules task under jobName. spec is a six field cron
// expression with seconds, or a descriptor such as "@every 5m".
func (m *Manager) AddTask(jobName, spec string, task types.Task) error {
	switch {
	case jobName == "":
		return types.ErrCronJobNameIsEmpty
	case spec == "":
		return types.ErrCronExpressionInvalid
	case task == nil:
		return types.ErrCronJobIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getState() == StateStopping {
		return types.ErrCronSchedulerStopped
	}
	if _, exists := m.jobs[jobName]; exists {
		return types.Errorf(types.ErrCronJobExists, "job %s", jobName)
	}

	j := &job{
		manager: m,
		task:    task,
		entry: types.JobEntry{
			Name:    jobName,
			Spec:    spec,
			AddedAt: time.Now(),
		},
	}

	id, err := m.scheduler.AddJob(spec, j)
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%s: %v", spec, err)
	}

	j.entry.ID = id
	j.entry.NextRun = m.nextRun(id, spec)
	m.jobs[jobName] = j

	m.logger.Info("Cron job scheduled",
		zap.String("job_name", jobName),
		zap.String("spec", spec),
		zap.Time("next_run", j.entry.NextRun))

	return nil
}

// Remove unschedules a job. A run in progress is allowed to finish.
func (m *Manager) Remove(jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, exists := m.jobs[jobName]
	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "job %s", jobName)
	}

	m.scheduler.Remove(j.entry.ID)
	delete(m.jobs, jobName)

	m.logger.Info("Cron job removed", zap.String("job_name", jobName))
	return nil
}

// Run executes a job immediately on the calling goroutine. It is subject to
// the same overlap rule as scheduled runs.
func (m *Manager) Run(jobName string) error {
	m.mu.RLock()
	j, exists := m.jobs[jobName]
	m.mu.RUnlock()

	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "job %s", jobName)
	}

	m.execute(j)
	return nil
}

func (m *Manager) Jobs() []types.JobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]types.JobEntry, 0, len(m.jobs))
	for _, j := range m.jobs {
		entry := j.entry
		entry.Running = j.busy.Load()
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(a, b int) bool { return entries[a].Name < entries[b].Name })
	return entries
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrCronIsRunning
	}

	m.scheduler.Start()
	m.setState(StateRunning)
	m.reportScheduler(1)

	m.mu.RLock()
	count := len(m.jobs)
	m.mu.RUnlock()

	m.logger.Info("Cron manager started",
		zap.String("timezone", m.location.String()),
		zap.Int("jobs", count))
	return nil
}

// Stop waits for running jobs up to the shutdown timeout and then cancels
// their context.
func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		m.cancel()
		m.setState(StateStopped)
	}()

	drained := m.scheduler.Stop()
	m.reportScheduler(0)

	timer := time.NewTimer(m.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-drained.Done():
		m.logger.Info("Cron manager stopped gracefully")
		return nil
	case <-timer.C:
		m.logger.Warn("Cron jobs still running at shutdown", zap.Duration("timeout", m.shutdownTimeout))
		return types.Errorf(types.ErrCronSchedulerStopped, "timeout after %v", m.shutdownTimeout)
	}
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
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

func (m *Manager) execute(j *job) {
	name := j.entry.Name

	if !j.busy.CompareAndSwap(false, true) {
		m.mu.Lock()
		j.entry.SkipCount++
		m.mu.Unlock()

		m.logger.Warn("Cron job still running, skipping tick", zap.String("job_name", name))
		m.count(name, resultSkipped)
		return
	}
	defer j.busy.Store(false)

	started := time.Now()
	err := m.invoke(j)
	duration := time.Since(started)

	m.mu.Lock()
	j.entry.LastRun = started
	j.entry.LastDuration = duration
	j.entry.RunCount++
	j.entry.Error = err
	j.entry.NextRun = m.nextRun(j.entry.ID, j.entry.Spec)
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("Cron job failed",
			zap.String("job_name", name),
			zap.Duration("duration", duration),
			zap.Error(err))
		m.count(name, resultError)
	} else {
		m.logger.Debug("Cron job finished",
			zap.String("job_name", name),
			zap.Duration("duration", duration))
		m.count(name, resultSuccess)
	}

	if m.metrics != nil {
		m.metrics.Histogram("cron_job_duration_seconds", durationBuckets,
			map[string]string{"job_name": name}).Observe(duration.Seconds())
	}
}

func (m *Manager) invoke(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrCronJobFailed, "panic: %v", r)
		}
	}()

	if err := j.task(m.ctx); err != nil {
		return types.Errorf(types.ErrCronJobFailed, "%v", err)
	}
	return nil
}

// nextRun reads the next activation from the scheduler, falling back to
// the parsed schedule while the scheduler is not running.
func (m *Manager) nextRun(id cron.EntryID, spec string) time.Time {
	if entry := m.scheduler.Entry(id); entry.ID != 0 && !entry.Next.IsZero() {
		return entry.Next
	}

	schedule, err := cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	).Parse(spec)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(time.Now().In(m.location))
}

func (m *Manager) count(jobName, result string) {
	if m.metrics == nil {
		return
	}
	m.metrics.Counter("cron_job_executions_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	}).Inc()
}

func (m *Manager) reportScheduler(value float64) {
	if m.metrics != nil {
		m.metrics.Gauge("cron_scheduler_running", nil).Set(value)
	}
}

// schedulerLogger routes the scheduler's own key/value logging into zap.
type schedulerLogger struct {
	logger types.Logger
}

func (l schedulerLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keyValueFields(keysAndValues)...)
}

func (l schedulerLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keyValueFields(keysAndValues), zap.Error(err))...)
}

func keyValueFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
