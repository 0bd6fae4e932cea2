package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-resources/config"
	"github.com/saiset-co/sai-resources/types"
)

func TestZapWrapper_ErrorWithErrStackLogsCause(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapWrapper(zap.New(core))

	root := errors.New("disk unavailable")
	l.ErrorWithErrStack("cache write failed", errors.Wrap(root, "badger update"), zap.String("key", "k1"))

	entries := logs.FilterMessage("cache write failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "disk unavailable", fields["error"])
	assert.Equal(t, "k1", fields["key"])
}

func TestZapWrapper_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewZapWrapper(zap.New(core))

	l.Debug("hidden")
	l.Info("info")
	l.Warn("warn")
	l.Log(zapcore.ErrorLevel, "error")

	assert.Equal(t, 3, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.FilterMessage("warn").All()[0].Level)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("bogus"))
}

func TestManager_CustomAndUnknownTypes(t *testing.T) {
	RegisterLogger("observer", func(_ interface{}) (types.Logger, error) {
		return NewNop(), nil
	})

	cm, err := config.NewStaticManager(context.Background(), &types.ServiceConfig{
		Name:    "svc",
		Version: "1",
		Logger:  &types.LoggerConfig{Type: "observer"},
	})
	require.NoError(t, err)

	m, err := NewManager(context.Background(), cm)
	require.NoError(t, err)
	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	require.NoError(t, m.Stop())

	cm, err = config.NewStaticManager(context.Background(), &types.ServiceConfig{
		Name:    "svc",
		Version: "1",
		Logger:  &types.LoggerConfig{Type: "syslog"},
	})
	require.NoError(t, err)

	_, err = NewManager(context.Background(), cm)
	assert.ErrorIs(t, err, types.ErrLoggerTypeUnknown)
}

func TestManager_FileOutputWithComponents(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "resources.log")

	cm, err := config.NewStaticManager(context.Background(), &types.ServiceConfig{
		Name:    "sai-resources",
		Version: "1.2.3",
		Logger: &types.LoggerConfig{
			Level:  "info",
			Config: map[string]interface{}{"output": "file", "file": logFile},
		},
	})
	require.NoError(t, err)

	m, err := NewManager(context.Background(), cm)
	require.NoError(t, err)
	require.NoError(t, m.Start())

	m.Named("cache").Info("Cache created", zap.String("factory", "lru"))
	m.Debug("not written")

	assert.True(t, m.SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, m.Level())
	m.Debug("written after level change")

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, `"component":"cache"`)
	assert.Contains(t, out, `"service":"sai-resources"`)
	assert.Contains(t, out, `"version":"1.2.3"`)
	assert.Contains(t, out, "written after level change")
	assert.NotContains(t, out, "not written")
}

func TestNewDefaultLogger_Validation(t *testing.T) {
	_, _, err := NewDefaultLogger(&types.LoggerConfig{
		Config: map[string]interface{}{"format": "xml"},
	}, types.StageProduction)
	assert.ErrorIs(t, err, types.ErrLoggerConfigInvalid)

	_, _, err = NewDefaultLogger(&types.LoggerConfig{
		Config: map[string]interface{}{"output": "file", "file": "app.log"},
	}, types.StageDevelopment)
	assert.ErrorIs(t, err, types.ErrLogFileWrongFormat)
}
