package server

import (
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-resources/types"
	"github.com/saiset-co/sai-resources/utils"
)

// Chain wraps handler so that the first middleware runs outermost.
func Chain(handler fasthttp.RequestHandler, middlewares ...types.Middleware) fasthttp.RequestHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// RequestID keeps an incoming X-Request-ID or generates one, and echoes it on
// the response.
func RequestID() types.Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			requestID := ctx.Request.Header.Peek(types.HeaderRequestID)
			if len(requestID) == 0 {
				requestID = []byte(uuid.New().String())
				ctx.Request.Header.SetBytesV(types.HeaderRequestID, requestID)
			}

			next(ctx)

			ctx.Response.Header.SetBytesV(types.HeaderRequestID, requestID)
		}
	}
}

type recovery struct {
	logger       types.Logger
	metrics      types.MetricsManager
	stackTrace   bool
	stackBufPool sync.Pool
}

// Recovery turns a panic into a 500 response and logs it.
func Recovery(logger types.Logger, metrics types.MetricsManager, stackTrace bool) types.Middleware {
	r := &recovery{
		logger:     logger,
		metrics:    metrics,
		stackTrace: stackTrace,
		stackBufPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 4096)
				return &buf
			},
		},
	}

	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			defer func() {
				if rec := recover(); rec != nil {
					r.logPanic(ctx, rec)

					ctx.Response.Reset()
					ctx.Error(fasthttp.StatusMessage(fasthttp.StatusInternalServerError), fasthttp.StatusInternalServerError)

					if r.metrics != nil {
						r.metrics.Counter("http_panics_total", nil).Inc()
					}
				}
			}()

			next(ctx)
		}
	}
}

func (r *recovery) logPanic(ctx *fasthttp.RequestCtx, rec interface{}) {
	fields := []zap.Field{
		zap.Any("panic", rec),
		zap.ByteString("method", ctx.Method()),
		zap.ByteString("path", ctx.Path()),
		zap.String("remote_addr", ctx.RemoteIP().String()),
	}

	if r.stackTrace {
		fields = append(fields, zap.String("stack", r.getStackTrace()))
	}

	if requestID := ctx.Request.Header.Peek(types.HeaderRequestID); len(requestID) > 0 {
		fields = append(fields, zap.ByteString("request_id", requestID))
	}

	r.logger.Error("Recovered from panic", fields...)
}

func (r *recovery) getStackTrace() string {
	buf := r.stackBufPool.Get().(*[]byte)
	defer r.stackBufPool.Put(buf)

	n := runtime.Stack(*buf, false)
	if n < len(*buf) {
		return string((*buf)[:n])
	}

	large := make([]byte, 65536)
	n = runtime.Stack(large, false)
	return utils.BytesToString(large[:n])
}

// AccessLog logs every completed request. Client errors are warnings and
// server errors are errors regardless of level.
func AccessLog(logger types.Logger, level string) types.Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			next(ctx)

			fields := []zap.Field{
				zap.ByteString("method", ctx.Method()),
				zap.ByteString("path", ctx.Path()),
				zap.Int("status", ctx.Response.StatusCode()),
				zap.Int("size", len(ctx.Response.Body())),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", remoteAddr(ctx)),
			}

			if requestID := ctx.Request.Header.Peek(types.HeaderRequestID); len(requestID) > 0 {
				fields = append(fields, zap.ByteString("request_id", requestID))
			}

			switch status := ctx.Response.StatusCode(); {
			case status >= 500:
				logger.Error("Request completed", fields...)
			case status >= 400:
				logger.Warn("Request completed", fields...)
			default:
				logWithLevel(logger, level, "Request completed", fields...)
			}
		}
	}
}

func remoteAddr(ctx *fasthttp.RequestCtx) string {
	if forwarded := string(ctx.Request.Header.Peek("X-Forwarded-For")); forwarded != "" {
		if comma := strings.Index(forwarded, ","); comma > 0 {
			return strings.TrimSpace(forwarded[:comma])
		}
		return forwarded
	}

	if realIP := string(ctx.Request.Header.Peek("X-Real-IP")); realIP != "" {
		return realIP
	}

	return ctx.RemoteIP().String()
}

func logWithLevel(logger types.Logger, level, msg string, fields ...zap.Field) {
	switch level {
	case "debug":
		logger.Debug(msg, fields...)
	case "warn":
		logger.Warn(msg, fields...)
	case "error":
		logger.Error(msg, fields...)
	default:
		logger.Info(msg, fields...)
	}
}
