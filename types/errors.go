package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
	ErrConfigNotLoaded      = errors.New("config not loaded")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServerStopFailed     = errors.New("server stop failed")
	ErrHandlerIsNil         = errors.New("handler is nil")
)

var (
	ErrCacheNotFound         = errors.New("cache not found")
	ErrCacheExists           = errors.New("cache already registered")
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheOperationFailed  = errors.New("cache operation failed")
	ErrCacheConfigInvalid    = errors.New("cache config invalid")
	ErrCacheFactoryNotFound  = errors.New("cache factory not found")
	ErrCacheNotRunning       = errors.New("cache not running")
	ErrCacheValueType        = errors.New("cache value has unexpected type")
)

var (
	ErrResourceNotFound       = errors.New("resource not found")
	ErrResourceNotAllowed     = errors.New("resource not allowed")
	ErrResourceCreateFailed   = errors.New("resource create failed")
	ErrResourceVersionInvalid = errors.New("resource version mismatch")
	ErrResourceDataCorrupted  = errors.New("data is invalid or corrupted")
	ErrResourceNameEmpty      = errors.New("resource name empty")
	ErrResourceExists         = errors.New("resource already registered")
)

var (
	ErrCodecUnknown      = errors.New("codec unknown")
	ErrCodecDecodeFailed = errors.New("codec decode failed")
	ErrCodecEncodeFailed = errors.New("codec encode failed")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsNotRunning  = errors.New("metrics not running")
)

var (
	ErrHealthIsNotRunning = errors.New("health manager is not running")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLogFileWrongFormat  = errors.New("log file wrong format")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrTLSConfigInvalid = errors.New("tls config invalid")
)

var (
	ErrServiceIsRunning    = errors.New("service is running")
	ErrServiceIsNotRunning = errors.New("service is not running")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotSupported     = errors.New("not supported")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
