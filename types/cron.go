package types

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a scheduled unit of work. The context is cancelled when the
// scheduler stops.
type Task func(ctx context.Context) error

type CronManager interface {
	LifecycleManager
	Add(jobName, spec string, job func()) error
	AddTask(jobName, spec string, task Task) error
	Remove(jobName string) error
	Jobs() []JobEntry
}

type JobEntry struct {
	ID           cron.EntryID  `json:"-"`
	Name         string        `json:"name"`
	Spec         string        `json:"spec"`
	AddedAt      time.Time     `json:"added_at"`
	LastRun      time.Time     `json:"last_run"`
	NextRun      time.Time     `json:"next_run"`
	LastDuration time.Duration `json:"last_duration"`
	RunCount     int64         `json:"run_count"`
	SkipCount    int64         `json:"skip_count"`
	Running      bool          `json:"running"`
	Error        error         `json:"-"`
}
