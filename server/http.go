package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-resources/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// FastHTTPServer dispatches exact-path service routes first and hands every
// other request to the resource handler chain.
type FastHTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	resources       types.ResourceHandler
	tlsManager      types.TLSManager
	server          *fasthttp.Server
	listener        net.Listener
	httpConfig      *types.HTTPConfig
	tlsConfig       *types.TLSConfig
	middlewares     []types.Middleware
	state           atomic.Value
	shutdownTimeout time.Duration
	routes          map[string]fasthttp.RequestHandler
	routingMu       sync.RWMutex
}

func NewHTTPServer(
	ctx context.Context,
	config types.ConfigManager,
	logger types.Logger,
	metrics types.MetricsManager,
	tlsManager types.TLSManager,
	resources types.ResourceHandler,
	middlewares ...types.Middleware) (*FastHTTPServer, error) {
	if resources == nil {
		return nil, types.Errorf(types.ErrHandlerIsNil, "resource handler")
	}

	serverConfig := config.GetConfig().Server
	if serverConfig == nil || serverConfig.HTTP == nil {
		return nil, types.Errorf(types.ErrConfigNotFound, "server.http")
	}

	tlsConfig := serverConfig.TLS
	if tlsConfig == nil {
		tlsConfig = &types.TLSConfig{}
	}
	if tlsConfig.Enabled && tlsManager == nil {
		return nil, types.Errorf(types.ErrTLSConfigInvalid, "tls is enabled without a certificate manager")
	}

	shutdownTimeout := types.DefaultShutdownTimeout
	if serverConfig.HTTP.ShutdownTimeout > 0 {
		shutdownTimeout = time.Duration(serverConfig.HTTP.ShutdownTimeout) * time.Second
	}

	serverCtx, cancel := context.WithCancel(ctx)

	server := &FastHTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		metrics:         metrics,
		resources:       resources,
		tlsManager:      tlsManager,
		httpConfig:      serverConfig.HTTP,
		tlsConfig:       tlsConfig,
		middlewares:     middlewares,
		shutdownTimeout: shutdownTimeout,
		routes:          make(map[string]fasthttp.RequestHandler),
	}

	server.state.Store(StateStopped)

	return server, nil
}

// Handle registers a service route answered before resource dispatch.
func (h *FastHTTPServer) Handle(path string, handler fasthttp.RequestHandler) {
	h.routingMu.Lock()
	defer h.routingMu.Unlock()

	h.routes[path] = handler
}

func (h *FastHTTPServer) Start() error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	h.server = &fasthttp.Server{
		Handler:                      h.Handler(),
		ReadTimeout:                  time.Duration(h.httpConfig.ReadTimeout) * time.Second,
		WriteTimeout:                 time.Duration(h.httpConfig.WriteTimeout) * time.Second,
		IdleTimeout:                  time.Duration(h.httpConfig.IdleTimeout) * time.Second,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
		Logger:                       serverLogger{h.logger},
	}

	addr := fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)

	var err error
	if h.tlsConfig.Enabled {
		h.listener, err = h.tlsManager.Serve(addr)
	} else {
		h.listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		h.setState(StateStopped)
		return types.Errorf(types.ErrServerStartFailed, "listen %s: %v", addr, err)
	}

	go func(server *fasthttp.Server, listener net.Listener) {
		if err := server.Serve(listener); err != nil {
			h.logger.Error("HTTP server failed", zap.Error(err))
		}
	}(h.server, h.listener)

	h.setState(StateRunning)

	h.logger.Info("HTTP server started successfully",
		zap.String("address", h.listener.Addr().String()),
		zap.Bool("tls", h.tlsConfig.Enabled))

	return nil
}

func (h *FastHTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return h.server.ShutdownWithContext(gCtx)
	})

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			h.logger.Warn("Server stop timeout, some connections may not have closed gracefully")
		default:
			h.logger.Error("Error during server shutdown", zap.Error(err))
		}
	} else {
		h.logger.Info("HTTP server stopped gracefully")
	}

	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

// Addr is the bound listener address, nil while stopped.
func (h *FastHTTPServer) Addr() net.Addr {
	if !h.IsRunning() || h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Handler is the complete request pipeline including middlewares.
func (h *FastHTTPServer) Handler() fasthttp.RequestHandler {
	return Chain(h.mainHandler, h.middlewares...)
}

func (h *FastHTTPServer) mainHandler(ctx *fasthttp.RequestCtx) {
	h.routingMu.RLock()
	route := h.routes[string(ctx.Path())]
	h.routingMu.RUnlock()

	if route != nil {
		route(ctx)
		return
	}

	if !h.resources.IsResourceRequest(ctx) {
		ctx.Error(fasthttp.StatusMessage(fasthttp.StatusNotFound), fasthttp.StatusNotFound)
		return
	}

	if err := h.resources.HandleResourceRequest(ctx); err != nil {
		h.logger.Error("Resource request failed",
			zap.ByteString("path", ctx.Path()),
			zap.Error(err))

		ctx.Response.Reset()
		ctx.Error(fasthttp.StatusMessage(fasthttp.StatusInternalServerError), fasthttp.StatusInternalServerError)
	}
}

func (h *FastHTTPServer) getState() State {
	return h.state.Load().(State)
}

func (h *FastHTTPServer) setState(newState State) {
	h.state.Store(newState)
}

func (h *FastHTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}

type serverLogger struct {
	logger types.Logger
}

func (l serverLogger) Printf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
