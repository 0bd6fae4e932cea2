package cron

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-resources/config"
	"github.com/saiset-co/sai-resources/logger"
	"github.com/saiset-co/sai-resources/types"
)

func newCron(t *testing.T) *Manager {
	t.Helper()
	cm, err := config.NewStaticManager(context.Background(), &types.ServiceConfig{
		Name:    "svc",
		Version: "1",
		Cron:    &types.CronConfig{Enabled: true, Timezone: "Europe/Berlin"},
	})
	require.NoError(t, err)
	return NewManager(context.Background(), cm, logger.NewNop(), nil)
}

func TestManager_AddValidation(t *testing.T) {
	m := newCron(t)

	assert.ErrorIs(t, m.Add("", "* * * * * *", func() {}), types.ErrCronJobNameIsEmpty)
	assert.ErrorIs(t, m.Add("job", "", func() {}), types.ErrCronExpressionInvalid)
	assert.ErrorIs(t, m.Add("job", "* * * * * *", nil), types.ErrCronJobIsNil)
	assert.ErrorIs(t, m.Add("job", "not a spec", func() {}), types.ErrCronExpressionInvalid)

	require.NoError(t, m.Add("job", "0 */5 * * * *", func() {}))
	assert.ErrorIs(t, m.Add("job", "0 */5 * * * *", func() {}), types.ErrCronJobExists)

	jobs := m.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "job", jobs[0].Name)
	assert.False(t, jobs[0].NextRun.IsZero())
}

func TestManager_RunRecordsStatsAndRecoversPanics(t *testing.T) {
	m := newCron(t)

	var calls int32
	require.NoError(t, m.Add("sweep", "0 0 * * * *", func() { atomic.AddInt32(&calls, 1) }))
	require.NoError(t, m.Add("broken", "0 0 * * * *", func() { panic("bad job") }))

	require.NoError(t, m.Run("sweep"))
	require.NoError(t, m.Run("broken"))
	assert.ErrorIs(t, m.Run("missing"), types.ErrCronJobNotFound)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	for _, job := range m.Jobs() {
		assert.Equal(t, int64(1), job.RunCount)
		if job.Name == "broken" {
			assert.ErrorIs(t, job.Error, types.ErrCronJobFailed)
		} else {
			assert.NoError(t, job.Error)
		}
	}
}

func TestManager_Lifecycle(t *testing.T) {
	m := newCron(t)
	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.ErrorIs(t, m.Start(), types.ErrCronIsRunning)
	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	assert.ErrorIs(t, m.Stop(), types.ErrServerNotRunning)
}

func TestManager_AddTaskRecordsErrors(t *testing.T) {
	m := newCron(t)

	require.NoError(t, m.AddTask("flush", "@every 1h", func(ctx context.Context) error {
		return assert.AnError
	}))
	require.NoError(t, m.Run("flush"))

	jobs := m.Jobs()
	require.Len(t, jobs, 1)
	assert.ErrorIs(t, jobs[0].Error, types.ErrCronJobFailed)
	assert.Contains(t, jobs[0].Error.Error(), assert.AnError.Error())
	assert.False(t, jobs[0].Running)
}

func TestManager_SkipsOverlappingRuns(t *testing.T) {
	m := newCron(t)

	release := make(chan struct{})
	entered := make(chan struct{})
	require.NoError(t, m.Add("sweep", "0 0 * * * *", func() {
		close(entered)
		<-release
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run("sweep")
	}()
	<-entered

	assert.True(t, m.Jobs()[0].Running)
	require.NoError(t, m.Run("sweep"))

	close(release)
	<-done

	job := m.Jobs()[0]
	assert.Equal(t, int64(1), job.RunCount)
	assert.Equal(t, int64(1), job.SkipCount)
	assert.False(t, job.Running)
}

func TestManager_Remove(t *testing.T) {
	m := newCron(t)

	require.NoError(t, m.Add("sweep", "0 */5 * * * *", func() {}))
	require.NoError(t, m.Remove("sweep"))
	assert.Empty(t, m.Jobs())
	assert.ErrorIs(t, m.Remove("sweep"), types.ErrCronJobNotFound)
	assert.ErrorIs(t, m.Run("sweep"), types.ErrCronJobNotFound)

	require.NoError(t, m.Add("sweep", "0 */5 * * * *", func() {}))
}
