package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-resources/config"
	"github.com/saiset-co/sai-resources/logger"
	"github.com/saiset-co/sai-resources/metrics"
	"github.com/saiset-co/sai-resources/types"
)

type stubResources struct{}

func (stubResources) IsResourceRequest(ctx *fasthttp.RequestCtx) bool {
	return strings.HasPrefix(string(ctx.Path()), "/rfRes/")
}

func (stubResources) HandleResourceRequest(ctx *fasthttp.RequestCtx) error {
	switch string(ctx.Path()) {
	case "/rfRes/ok":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	case "/rfRes/fail":
		ctx.SetBodyString("partial")
		return errors.New("cache unavailable")
	case "/rfRes/panic":
		panic("resource exploded")
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
	return nil
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	return ln.Addr().(*net.TCPAddr).Port
}

func newServer(t *testing.T, port int) (*FastHTTPServer, *observer.ObservedLogs, *metrics.PrometheusMetrics) {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.NewZapWrapper(zap.New(core))

	cm, err := config.NewStaticManager(context.Background(), &types.ServiceConfig{
		Name:    "resources",
		Version: "1.0.0",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{Host: "127.0.0.1", Port: port, ShutdownTimeout: 1},
		},
	})
	require.NoError(t, err)

	prom, err := metrics.NewPrometheusMetrics(logger.NewNop(), &types.MetricsConfig{
		Enabled: true,
		Type:    "prometheus",
		Config:  map[string]interface{}{"enable_go_metrics": false},
	})
	require.NoError(t, err)

	srv, err := NewHTTPServer(context.Background(), cm, log, prom, nil, stubResources{},
		RequestID(),
		AccessLog(log, "info"),
		Recovery(log, prom, true),
	)
	require.NoError(t, err)

	srv.Handle("/health", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("healthy")
	})

	return srv, logs, prom
}

func serve(handler fasthttp.RequestHandler, uri string, headers ...string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.SetRequestURI(uri)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	handler(ctx)
	return ctx
}

func TestNewHTTPServer_Validation(t *testing.T) {
	cm, err := config.NewStaticManager(context.Background(), &types.ServiceConfig{Name: "resources", Version: "1"})
	require.NoError(t, err)

	_, err = NewHTTPServer(context.Background(), cm, logger.NewNop(), nil, nil, nil)
	assert.ErrorIs(t, err, types.ErrHandlerIsNil)

	cm, err = config.NewStaticManager(context.Background(), &types.ServiceConfig{
		Name:    "resources",
		Version: "1",
		Server:  &types.ServerConfig{TLS: &types.TLSConfig{Enabled: true}},
	})
	require.NoError(t, err)

	_, err = NewHTTPServer(context.Background(), cm, logger.NewNop(), nil, nil, stubResources{})
	assert.ErrorIs(t, err, types.ErrTLSConfigInvalid)
}

func TestFastHTTPServer_Dispatch(t *testing.T) {
	srv, logs, prom := newServer(t, 8080)
	handler := srv.Handler()

	ctx := serve(handler, "/health")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "healthy", string(ctx.Response.Body()))

	ctx = serve(handler, "/rfRes/ok")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "ok", string(ctx.Response.Body()))

	ctx = serve(handler, "/elsewhere")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = serve(handler, "/rfRes/fail")
	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
	assert.NotContains(t, string(ctx.Response.Body()), "partial")
	assert.Len(t, logs.FilterMessage("Resource request failed").All(), 1)

	ctx = serve(handler, "/rfRes/panic")
	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())

	panics := logs.FilterMessage("Recovered from panic").All()
	require.Len(t, panics, 1)
	assert.Contains(t, panics[0].ContextMap(), "stack")
	assert.Equal(t, float64(1), prom.Counter("http_panics_total", nil).Get())
}

func TestMiddleware_RequestIDAndAccessLog(t *testing.T) {
	srv, logs, _ := newServer(t, 8080)
	handler := srv.Handler()

	ctx := serve(handler, "/rfRes/ok", types.HeaderRequestID, "req-1")
	assert.Equal(t, "req-1", string(ctx.Response.Header.Peek(types.HeaderRequestID)))

	ctx = serve(handler, "/rfRes/ok")
	generated := string(ctx.Response.Header.Peek(types.HeaderRequestID))
	assert.Len(t, generated, 36)

	serve(handler, "/rfRes/missing")

	completed := logs.FilterMessage("Request completed").All()
	require.Len(t, completed, 3)
	assert.Equal(t, zapcore.InfoLevel, completed[0].Level)
	assert.Equal(t, "req-1", completed[0].ContextMap()["request_id"])
	assert.Equal(t, int64(fasthttp.StatusOK), completed[0].ContextMap()["status"])
	assert.Equal(t, generated, completed[1].ContextMap()["request_id"])
	assert.Equal(t, zapcore.WarnLevel, completed[2].Level)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) types.Middleware {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return func(ctx *fasthttp.RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}

	handler := Chain(func(*fasthttp.RequestCtx) { order = append(order, "handler") }, mark("a"), mark("b"))
	serve(handler, "/")

	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestFastHTTPServer_StartStop(t *testing.T) {
	srv, _, _ := newServer(t, freePort(t))

	require.NoError(t, srv.Start())
	assert.True(t, srv.IsRunning())
	assert.ErrorIs(t, srv.Start(), types.ErrServerAlreadyRunning)

	statusCode, body, err := fasthttp.Get(nil, "http://"+srv.Addr().String()+"/rfRes/ok")
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, statusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, srv.Stop())
	assert.False(t, srv.IsRunning())
	assert.Nil(t, srv.Addr())
	assert.ErrorIs(t, srv.Stop(), types.ErrServerNotRunning)
}
