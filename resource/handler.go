package resource

import (
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-resources/cache"
	"github.com/saiset-co/sai-resources/types"
)

const (
	DefaultPrefix        = "/rfRes/"
	DefaultMappingSuffix = ".jsf"

	RendererTypeScript     = "javax.faces.resource.Script"
	RendererTypeStylesheet = "javax.faces.resource.Stylesheet"

	classificationKey = "resource.handler.classification"
)

const (
	resultServed      = "served"
	resultNotModified = "not_modified"
	resultNotFound    = "not_found"
	resultHit         = "hit"
	resultMiss        = "miss"
)

type HandlerOptions struct {
	Prefix        string
	MappingSuffix string
	Codec         Codec
	Cache         types.Cache
	Registry      *Registry
	Default       DefaultHandler
	Locations     Locations
	Environment   Environment
	Logger        types.Logger
	Metrics       types.MetricsManager
}

// ResourceHandler serves resources below its prefix. Everything else is
// passed on to the default handler.
type ResourceHandler struct {
	prefix         string
	mappingSuffix  string
	codec          Codec
	cache          types.Cache
	registry       *Registry
	defaultHandler DefaultHandler
	locations      Locations
	env            Environment
	logger         types.Logger
	metrics        types.MetricsManager
}

func NewResourceHandler(opts HandlerOptions) (*ResourceHandler, error) {
	if opts.Codec == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "codec is nil")
	}
	if opts.Cache == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "cache is nil")
	}
	if opts.Logger == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "logger is nil")
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry(opts.Logger, opts.Locations)
	}

	return &ResourceHandler{
		prefix:         prefix,
		mappingSuffix:  opts.MappingSuffix,
		codec:          opts.Codec,
		cache:          opts.Cache,
		registry:       registry,
		defaultHandler: opts.Default,
		locations:      opts.Locations,
		env:            opts.Environment.withDefaults(),
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}, nil
}

func (h *ResourceHandler) Registry() *Registry {
	return h.registry
}

func (h *ResourceHandler) Prefix() string {
	return h.prefix
}

// NewContext binds a request to the handler's environment.
func (h *ResourceHandler) NewContext(request *fasthttp.RequestCtx) *Context {
	return NewContext(request, h.env)
}

// isOwnRequest classifies the request once and remembers the answer on it.
func (h *ResourceHandler) isOwnRequest(ctx *fasthttp.RequestCtx) bool {
	key := classificationKey + ":" + h.prefix
	if v, ok := ctx.UserValue(key).(bool); ok {
		return v
	}

	own := strings.HasPrefix(string(ctx.URI().PathOriginal()), h.prefix)
	ctx.SetUserValue(key, own)
	return own
}

func (h *ResourceHandler) IsResourceRequest(ctx *fasthttp.RequestCtx) bool {
	if h.isOwnRequest(ctx) {
		return true
	}
	return h.defaultHandler != nil && h.defaultHandler.IsResourceRequest(ctx)
}

// HandleResourceRequest serves the resource the request path identifies.
// Errors are only returned for cache failures and failed body writes; every
// resolution problem results in an empty 404.
func (h *ResourceHandler) HandleResourceRequest(ctx *fasthttp.RequestCtx) error {
	if !h.isOwnRequest(ctx) {
		if h.defaultHandler != nil {
			return h.defaultHandler.HandleResourceRequest(ctx)
		}
		h.notFound(ctx)
		return nil
	}

	rctx := h.NewContext(ctx)
	requestPath := h.requestPathOf(ctx)
	key := h.codec.GetResourceKey(requestPath)

	res, err := h.lookup(key)
	if err != nil {
		return err
	}

	if res == nil {
		res, err = h.resolve(rctx, requestPath, key)
		if err != nil {
			return err
		}
		if res == nil {
			h.notFound(ctx)
			return nil
		}
	}

	return h.serve(rctx, res)
}

func (h *ResourceHandler) lookup(key string) (Resource, error) {
	value, found, err := h.cache.Get(key)
	if err != nil {
		return nil, types.WrapError(err, "resource cache lookup failed")
	}

	if !found {
		h.count("resource_cache_lookups_total", resultMiss)
		return nil, nil
	}

	snapshot, err := cache.As[*CachedResource](value)
	if err != nil {
		h.logger.Warn("Cached resource is unreadable, rebuilding", zap.String("key", key), zap.Error(err))
		h.count("resource_cache_lookups_total", resultMiss)
		return nil, nil
	}

	h.count("resource_cache_lookups_total", resultHit)
	return snapshot, nil
}

// resolve builds the resource for a cache miss and caches a snapshot of it
// when it is cacheable. A nil resource without error means not found.
func (h *ResourceHandler) resolve(ctx *Context, requestPath, key string) (Resource, error) {
	name := h.codec.DecodeResourceName(requestPath)
	if name == "" {
		h.logResourceProblem(ctx, nil, "Resource name is empty", zap.String("path", requestPath))
		return nil, nil
	}

	res := h.createHandlerResource(ctx, name, h.codec.DecodeLibraryName(requestPath))
	if res == nil {
		h.logResourceProblem(ctx, nil, "Resource was not found", zap.String("name", name))
		return nil, nil
	}

	if v, ok := res.(Versioned); ok {
		existing := v.Version()
		requested := h.codec.DecodeResourceVersion(requestPath)

		if existing != "" && requested != "" && existing != requested {
			h.logResourceProblem(ctx, nil, "Resource version does not match",
				zap.String("name", name),
				zap.String("version", existing),
				zap.String("requested_version", requested))
			return nil, nil
		}
	}

	if holder, ok := res.(StatefulConstruction); ok {
		data, err := h.codec.DecodeResourceData(requestPath)
		if err != nil {
			h.logResourceProblem(ctx, err, "Resource data could not be decoded", zap.String("name", name))
			return nil, nil
		}

		if state, ok := stateBytes(data); ok {
			if err := holder.RestoreState(ctx, state); err != nil {
				h.logResourceProblem(ctx, err, "Resource state could not be restored", zap.String("name", name))
				return nil, nil
			}
		}
	}

	if !IsCacheable(ctx, res) {
		return res, nil
	}

	snapshot, err := NewCachedResource(ctx, res)
	if err != nil {
		h.logResourceProblem(ctx, err, "Resource could not be produced", zap.String("name", name))
		return nil, nil
	}

	actual, stored, err := h.cache.PutIfAbsent(key, snapshot, snapshot.Expiration)
	if err != nil {
		return nil, types.WrapError(err, "resource cache store failed")
	}

	if stored {
		h.logger.Debug("Resource cached", zap.String("key", key), zap.Time("expires", snapshot.Expiration))
		return snapshot, nil
	}

	winner, err := cache.As[*CachedResource](actual)
	if err != nil {
		h.logger.Warn("Cached resource is unreadable, serving fresh snapshot", zap.String("key", key), zap.Error(err))
		return snapshot, nil
	}
	return winner, nil
}

func (h *ResourceHandler) serve(ctx *Context, res Resource) error {
	request := ctx.Request()

	if !NeedsUpdate(ctx, res) {
		request.Response.Reset()
		request.SetStatusCode(fasthttp.StatusNotModified)
		h.count("resource_requests_total", resultNotModified)
		return nil
	}

	producer, ok := res.(ByteProducer)
	if !ok {
		h.logResourceProblem(ctx, nil, "Resource produces no content", zap.String("name", res.ResourceName()))
		h.notFound(request)
		return nil
	}

	var body []byte
	if !ctx.IsHead() {
		var err error
		body, err = producer.Produce(ctx)
		if err != nil {
			h.logResourceProblem(ctx, err, "Resource could not be produced", zap.String("name", res.ResourceName()))
			h.notFound(request)
			return nil
		}
	}

	request.SetStatusCode(fasthttp.StatusOK)

	for name, value := range ResponseHeaders(ctx, res) {
		if name == HeaderContentLength {
			if n, err := strconv.Atoi(value); err == nil {
				request.Response.Header.SetContentLength(n)
			}
			continue
		}
		request.Response.Header.Set(name, value)
	}

	if contentType := res.ContentType(); contentType != "" {
		request.SetContentType(contentType)
	}

	h.count("resource_requests_total", resultServed)

	if ctx.IsHead() {
		request.Response.SkipBody = true
		return nil
	}

	if _, err := request.Write(body); err != nil {
		return types.WrapError(err, "failed to write resource body")
	}
	return nil
}

func (h *ResourceHandler) notFound(ctx *fasthttp.RequestCtx) {
	ctx.Response.Reset()
	ctx.SetStatusCode(fasthttp.StatusNotFound)
	h.count("resource_requests_total", resultNotFound)
}

// requestPathOf strips the prefix and the mapping suffix from the raw path
// and appends the raw query string.
func (h *ResourceHandler) requestPathOf(ctx *fasthttp.RequestCtx) string {
	path := strings.TrimPrefix(string(ctx.URI().PathOriginal()), h.prefix)
	if h.mappingSuffix != "" {
		path = strings.TrimSuffix(path, h.mappingSuffix)
	}

	if query := ctx.URI().QueryString(); len(query) > 0 {
		return path + "?" + string(query)
	}
	return path
}

// createHandlerResource resolves the resources this handler owns: compiled
// stylesheets first, then registered dynamic resources.
func (h *ResourceHandler) createHandlerResource(ctx *Context, name, library string) Resource {
	if IsCompiledCSS(name) {
		css := NewCompiledCSS(name, h.locations)
		css.SetLibraryName(library)
		return css
	}

	res, err := h.registry.Create(ctx, name)
	switch {
	case err == nil:
		if library != "" {
			res.SetLibraryName(library)
		}
		return res
	case types.IsError(err, types.ErrResourceNotFound):
		return nil
	case types.IsError(err, types.ErrResourceNotAllowed):
		h.logResourceProblem(ctx, nil, "Resource is not marked as dynamic", zap.String("name", name))
		return nil
	default:
		h.logResourceProblem(ctx, err, "Resource could not be created", zap.String("name", name))
		return nil
	}
}

// CreateResource resolves a resource by name for rendering. Parameters
// appended to the name as a query string are passed to ParameterAware
// resources. Resources with a library are left to the default handler.
func (h *ResourceHandler) CreateResource(ctx *Context, name, library, contentType string) (Resource, bool) {
	name, params := splitParameters(name)

	var res Resource
	if library == "" {
		res = h.createHandlerResource(ctx, name, "")
	}

	if res == nil {
		if h.defaultHandler == nil {
			return nil, false
		}
		return h.defaultHandler.CreateResource(ctx, name, library, contentType)
	}

	if aware, ok := res.(ParameterAware); ok && len(params) > 0 {
		aware.PopulateParameters(params)
	}
	return res, true
}

func splitParameters(name string) (string, map[string]string) {
	base, query := splitQuery(name)
	if query == "" {
		return base, nil
	}

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Parse(query)

	params := make(map[string]string, args.Len())
	args.VisitAll(func(key, value []byte) {
		params[string(key)] = string(value)
	})
	return base, params
}

// RequestPath is the URL path a page links the resource with.
func (h *ResourceHandler) RequestPath(ctx *Context, res Resource) (string, error) {
	var state interface{}
	if holder, ok := res.(StatefulConstruction); ok && !holder.IsTransient() {
		saved, err := holder.SaveState(ctx)
		if err != nil {
			return "", types.WrapError(err, "failed to save state of "+res.ResourceName())
		}
		if saved != nil {
			state = saved
		}
	}

	var version string
	if v, ok := res.(Versioned); ok {
		version = v.Version()
	}

	encoded, err := h.codec.EncodeResource(res.ResourceName(), state, version)
	if err != nil {
		return "", err
	}

	path, query := splitQuery(encoded)
	if query != "" {
		return h.prefix + path + h.mappingSuffix + "?" + query, nil
	}
	return h.prefix + path + h.mappingSuffix, nil
}

func (h *ResourceHandler) LibraryExists(library string) bool {
	if library == "" {
		return false
	}
	if h.locations.FindDir(library) {
		return true
	}
	return h.defaultHandler != nil && h.defaultHandler.LibraryExists(library)
}

func (h *ResourceHandler) RendererTypeForResourceName(name string) string {
	switch {
	case strings.HasSuffix(name, ".js"):
		return RendererTypeScript
	case strings.HasSuffix(name, ".css"), IsCompiledCSS(name):
		return RendererTypeStylesheet
	default:
		return ""
	}
}

// logResourceProblem logs resolution failures loudly in development and at
// info level in production. Failures carrying an error are always warnings.
func (h *ResourceHandler) logResourceProblem(ctx *Context, err error, msg string, fields ...zap.Field) {
	switch {
	case err != nil:
		h.logger.Warn(msg, append(fields, zap.Error(err))...)
	case ctx.IsProduction():
		h.logger.Info(msg, fields...)
	default:
		h.logger.Warn(msg, fields...)
	}
}

func (h *ResourceHandler) count(name, result string) {
	if h.metrics == nil {
		return
	}
	h.metrics.Counter(name, map[string]string{"result": result}).Inc()
}

// stateBytes unwraps decoded request data into the bytes handed to
// RestoreState.
func stateBytes(data interface{}) ([]byte, bool) {
	switch v := data.(type) {
	case []byte:
		return v, true
	case ObjectData:
		return v, true
	default:
		return nil, false
	}
}
