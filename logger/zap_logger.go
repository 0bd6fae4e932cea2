package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-resources/types"
	"github.com/saiset-co/sai-resources/utils"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"

	OutputStdout = "stdout"
	OutputStderr = "stderr"
	OutputFile   = "file"
)

type ZapLoggerConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	File   string `yaml:"file" json:"file"`
}

// NewDefaultLogger builds the zap logger for a service. Development builds
// default to colored console output; production builds to JSON.
func NewDefaultLogger(config *types.LoggerConfig, stage string) (*ZapWrapper, zap.AtomicLevel, error) {
	lConfig := &ZapLoggerConfig{
		Format: FormatJSON,
		Output: OutputStdout,
		Level:  config.Level,
	}
	if stage == types.StageDevelopment {
		lConfig.Format = FormatConsole
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, lConfig); err != nil {
			return nil, zap.AtomicLevel{}, types.WrapError(err, "failed to unmarshal logger config")
		}
	}
	if lConfig.Level == "" {
		lConfig.Level = config.Level
	}

	level := zap.NewAtomicLevelAt(parseLogLevel(lConfig.Level))

	logger, err := buildZapLogger(lConfig, level)
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("%w: %w", types.ErrLoggerConfigInvalid, err)
	}

	return &ZapWrapper{Logger: logger}, level, nil
}

func buildZapLogger(config *ZapLoggerConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	var zapConfig zap.Config

	switch config.Format {
	case FormatConsole:
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.EncoderConfig.EncodeCaller = ideCallerEncoder
	case FormatJSON, "":
		zapConfig = zap.NewProductionConfig()
		zapConfig.Sampling = nil
	default:
		return nil, fmt.Errorf("unknown log format %q", config.Format)
	}

	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.DisableStacktrace = true
	zapConfig.Level = level

	outputs, err := outputPaths(config)
	if err != nil {
		return nil, err
	}
	zapConfig.OutputPaths = outputs
	zapConfig.ErrorOutputPaths = outputs
	if config.Output != OutputFile {
		zapConfig.ErrorOutputPaths = []string{OutputStderr}
	}

	return zapConfig.Build(zap.AddCaller())
}

func outputPaths(config *ZapLoggerConfig) ([]string, error) {
	switch config.Output {
	case OutputStderr:
		return []string{OutputStderr}, nil
	case OutputFile:
		if err := ensureLogDir(config.File); err != nil {
			return nil, err
		}
		return []string{config.File}, nil
	default:
		return []string{OutputStdout}, nil
	}
}

func ideCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("%s:%d", caller.File, caller.Line))
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func ensureLogDir(logFile string) error {
	if logFile == "" {
		return types.ErrLogFileIsEmpty
	}

	dir := filepath.Dir(logFile)
	if dir == "." && !strings.ContainsRune(logFile, filepath.Separator) {
		return types.ErrLogFileWrongFormat
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return types.WrapError(err, "access denied to log directory")
	}
	return nil
}

// ZapWrapper adapts a zap logger to types.Logger. Callers are reported at
// the call site of the wrapper, not inside it.
type ZapWrapper struct {
	Logger *zap.Logger
}

func NewZapWrapper(logger *zap.Logger) types.Logger {
	return &ZapWrapper{Logger: logger}
}

// NewNop returns a logger that discards everything.
func NewNop() types.Logger {
	return &ZapWrapper{Logger: zap.NewNop()}
}

// With returns a child logger carrying fields on every entry.
func (z *ZapWrapper) With(fields ...zap.Field) types.Logger {
	return &ZapWrapper{Logger: z.Logger.With(fields...)}
}

func (z *ZapWrapper) Sync() error {
	return z.Logger.Sync()
}

func (z *ZapWrapper) caller() *zap.Logger {
	return z.Logger.WithOptions(zap.AddCallerSkip(2))
}

func (z *ZapWrapper) Error(msg string, fields ...zap.Field) {
	z.caller().Error(msg, fields...)
}

func (z *ZapWrapper) Warn(msg string, fields ...zap.Field) {
	z.caller().Warn(msg, fields...)
}

func (z *ZapWrapper) Info(msg string, fields ...zap.Field) {
	z.caller().Info(msg, fields...)
}

func (z *ZapWrapper) Debug(msg string, fields ...zap.Field) {
	z.caller().Debug(msg, fields...)
}

func (z *ZapWrapper) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	z.caller().Log(lvl, msg, fields...)
}

// ErrorWithErrStack logs the root cause of err and, when err was built with
// pkg/errors, the frames that led to it.
func (z *ZapWrapper) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	if err == nil {
		z.Error(msg, fields...)
		return
	}

	allFields := make([]zap.Field, 0, len(fields)+2)
	allFields = append(allFields, zap.String("error", errors.Cause(err).Error()))
	allFields = append(allFields, fields...)

	if frames := stackFrames(err); len(frames) > 0 {
		allFields = append(allFields, zap.Strings("stack", frames))
	}

	z.caller().Error(msg, allFields...)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// stackFrames returns "function file:line" entries of the deepest stack
// recorded in the error chain, without the error helpers themselves.
func stackFrames(err error) []string {
	var tracer stackTracer
	for current := err; current != nil; {
		if st, ok := current.(stackTracer); ok {
			tracer = st
		}
		cause, ok := current.(interface{ Cause() error })
		if !ok {
			break
		}
		current = cause.Cause()
	}
	if tracer == nil {
		return nil
	}

	frames := make([]string, 0, len(tracer.StackTrace()))
	for _, frame := range tracer.StackTrace() {
		line := strings.Join(strings.Fields(fmt.Sprintf("%+v", frame)), " ")
		if strings.Contains(line, "types/errors.go") || strings.Contains(line, "runtime.goexit") {
			continue
		}
		frames = append(frames, line)
	}
	return frames
}
