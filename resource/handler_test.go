package resource

import (
	"bytes"
	"context"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-resources/cache"
	"github.com/saiset-co/sai-resources/logger"
	"github.com/saiset-co/sai-resources/metrics"
	"github.com/saiset-co/sai-resources/types"
)

const (
	myResourcePath = "/rfRes/org.example.MyResource.jsf"
	appScript      = "console.log(1)"
)

type countingResource struct {
	Base
	body     string
	numbered bool
	calls    *atomic.Int32
}

func (c *countingResource) Produce(*Context) ([]byte, error) {
	n := c.calls.Add(1)
	if c.numbered {
		return []byte(c.body + "-" + strconv.Itoa(int(n))), nil
	}
	return []byte(c.body), nil
}

type stateResource struct {
	Base
	message string
	repeat  int
}

type savedState struct {
	Message string `msgpack:"message"`
	Repeat  int    `msgpack:"repeat"`
}

func (s *stateResource) Produce(*Context) ([]byte, error) {
	return bytes.Repeat([]byte(s.message), s.repeat), nil
}

func (s *stateResource) SaveState(*Context) ([]byte, error) {
	return msgpack.Marshal(savedState{Message: s.message, Repeat: s.repeat})
}

func (s *stateResource) RestoreState(_ *Context, state []byte) error {
	var saved savedState
	if err := ObjectData(state).Decode(&saved); err != nil {
		return err
	}
	s.message, s.repeat = saved.Message, saved.Repeat
	return nil
}

func (s *stateResource) IsTransient() bool {
	return false
}

type paramResource struct {
	Base
	params map[string]string
}

func (p *paramResource) Produce(*Context) ([]byte, error) {
	return []byte("params"), nil
}

func (p *paramResource) PopulateParameters(params map[string]string) {
	p.params = params
}

type fixture struct {
	handler      *ResourceHandler
	lru          *cache.LRUMapCache
	metrics      *metrics.PrometheusMetrics
	logs         *observer.ObservedLogs
	lastModified time.Time
	calls        atomic.Int32
	volatile     atomic.Int32
	counter      atomic.Int32
}

type fixtureOption func(*HandlerOptions)

func withStage(stage string) fixtureOption {
	return func(o *HandlerOptions) { o.Environment.Stage = stage }
}

func withSkin(params map[string]string) fixtureOption {
	return func(o *HandlerOptions) { o.Environment.Skin = NewMapSkin(params) }
}

func withCodec(codec Codec) fixtureOption {
	return func(o *HandlerOptions) { o.Codec = codec }
}

func withCache(c types.Cache) fixtureOption {
	return func(o *HandlerOptions) { o.Cache = c }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.NewZapWrapper(zap.New(core))

	f := &fixture{
		logs:         logs,
		lastModified: time.Now().Truncate(time.Second).Add(-time.Hour),
	}

	webRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(webRoot, webResourcesDir, "js"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(webRoot, webResourcesDir, "js", "app.js"), []byte(appScript), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(webRoot, webResourcesDir, "skin.ecss"),
		[]byte(".h{color:#{richSkin.generalTextColor};background:#{ a4jSkin.headerBackgroundColor }}"), 0o644))

	classpath := t.TempDir()
	writeMarker(t, classpath, "org.example.Marked")

	locations := Locations{WebRoot: webRoot, ClasspathDirs: []string{classpath}}

	registry := NewRegistry(log, locations)
	counting := func(body string, calls *atomic.Int32, numbered, cacheable bool, version string) Factory {
		return func(*Context) (Resource, error) {
			r := &countingResource{Base: NewBase("text/plain"), body: body, numbered: numbered, calls: calls}
			r.SetLastModified(f.lastModified)
			r.SetCacheable(cacheable)
			r.SetVersion(version)
			return r, nil
		}
	}

	require.NoError(t, registry.Register("org.example.MyResource", counting("hello", &f.calls, false, true, ""), Dynamic()))
	require.NoError(t, registry.Register("org.example.Volatile", counting("volatile", &f.volatile, true, false, ""), Dynamic()))
	require.NoError(t, registry.Register("org.example.Counter", counting("counter", &f.counter, true, true, ""), Dynamic()))
	require.NoError(t, registry.Register("org.example.Versioned", counting("versioned", new(atomic.Int32), false, true, "1.0.2"), Dynamic()))
	require.NoError(t, registry.Register("org.example.Unmarked", counting("unmarked", new(atomic.Int32), false, true, "")))
	require.NoError(t, registry.Register("org.example.Marked", counting("marked", new(atomic.Int32), false, true, "")))
	require.NoError(t, registry.Register("org.example.StateHolder", func(*Context) (Resource, error) {
		return &stateResource{Base: NewBase("text/plain"), message: "initial", repeat: 1}, nil
	}, Dynamic()))
	require.NoError(t, registry.Register("org.example.Params", func(*Context) (Resource, error) {
		return &paramResource{Base: NewBase("text/plain")}, nil
	}, Dynamic()))
	require.NoError(t, registry.Register("org.example.Broken", func(*Context) (Resource, error) {
		panic("broken resource")
	}, Dynamic()))
	require.NoError(t, registry.Register(GradientResourceName, NewGradientImage, Dynamic()))

	prom, err := metrics.NewPrometheusMetrics(logger.NewNop(), &types.MetricsConfig{
		Enabled: true,
		Type:    "prometheus",
		Config:  map[string]interface{}{"enable_go_metrics": false},
	})
	require.NoError(t, err)
	f.metrics = prom

	f.lru = cache.NewLRUMapCache(16, log)
	require.NoError(t, f.lru.Start())
	t.Cleanup(func() { _ = f.lru.Stop() })

	options := HandlerOptions{
		MappingSuffix: DefaultMappingSuffix,
		Codec:         NewDefaultCodec(),
		Cache:         f.lru,
		Registry:      registry,
		Default:       NewStaticHandler(log, "/javax.faces.resource/", DefaultMappingSuffix, locations),
		Locations:     locations,
		Environment: Environment{
			Stage:     types.StageProduction,
			Version:   "4.5.0",
			StartTime: f.lastModified,
			Skin: NewMapSkin(map[string]string{
				SkinHeaderGradientColor: "#ff0000",
				SkinGeneralText:         "#000",
				SkinHeaderBackground:    "#fff",
			}),
		},
		Logger:  log,
		Metrics: prom,
	}
	for _, opt := range opts {
		opt(&options)
	}

	f.handler, err = NewResourceHandler(options)
	require.NoError(t, err)
	return f
}

func (f *fixture) do(t *testing.T, method, uri string, headers ...string) *fasthttp.RequestCtx {
	t.Helper()

	ctx := newRequest(method, uri, headers...)
	require.NoError(t, f.handler.HandleResourceRequest(ctx))
	return ctx
}

func (f *fixture) get(t *testing.T, uri string, headers ...string) *fasthttp.RequestCtx {
	t.Helper()
	return f.do(t, fasthttp.MethodGet, uri, headers...)
}

func (f *fixture) messages(msg string) []observer.LoggedEntry {
	return f.logs.FilterMessage(msg).All()
}

func TestNewResourceHandler_Validation(t *testing.T) {
	_, err := NewResourceHandler(HandlerOptions{Cache: cache.NewLRUMapCache(1, logger.NewNop()), Logger: logger.NewNop()})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = NewResourceHandler(HandlerOptions{Codec: NewDefaultCodec(), Logger: logger.NewNop()})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = NewResourceHandler(HandlerOptions{Codec: NewDefaultCodec(), Cache: cache.NewLRUMapCache(1, logger.NewNop())})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	h, err := NewResourceHandler(HandlerOptions{
		Prefix: "/res",
		Codec:  NewDefaultCodec(),
		Cache:  cache.NewLRUMapCache(1, logger.NewNop()),
		Logger: logger.NewNop(),
	})
	require.NoError(t, err)
	assert.Equal(t, "/res/", h.Prefix())
	assert.NotNil(t, h.Registry())
}

func TestResourceHandler_ServesAndRevalidates(t *testing.T) {
	f := newFixture(t)

	ctx := f.get(t, myResourcePath)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "hello", string(ctx.Response.Body()))
	assert.Equal(t, "text/plain", string(ctx.Response.Header.ContentType()))
	assert.Equal(t, 5, ctx.Response.Header.ContentLength())

	tag := string(ctx.Response.Header.Peek(HeaderETag))
	assert.Equal(t, `W/"5-`+itoa(f.lastModified.UnixMilli())+`"`, tag)
	assert.Equal(t, FormatHTTPDate(f.lastModified), string(ctx.Response.Header.Peek(HeaderLastModified)))
	assert.Equal(t, "max-age=86400", string(ctx.Response.Header.Peek(HeaderCacheControl)))
	assert.NotEmpty(t, ctx.Response.Header.Peek(HeaderDate))

	ctx = f.get(t, myResourcePath,
		HeaderIfNoneMatch, tag,
		HeaderIfModifiedSince, FormatHTTPDate(f.lastModified))
	assert.Equal(t, fasthttp.StatusNotModified, ctx.Response.StatusCode())
	assert.Empty(t, ctx.Response.Body())

	ctx = f.get(t, myResourcePath, HeaderIfNoneMatch, tag)
	assert.Equal(t, fasthttp.StatusNotModified, ctx.Response.StatusCode())

	ctx = f.get(t, myResourcePath, HeaderIfNoneMatch, `W/"1-1"`)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "hello", string(ctx.Response.Body()))

	assert.EqualValues(t, 1, f.calls.Load())
}

func TestResourceHandler_CacheHitSkipsProduction(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		ctx := f.get(t, myResourcePath)
		require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.Equal(t, "hello", string(ctx.Response.Body()))
	}

	assert.EqualValues(t, 1, f.calls.Load())
	assert.Equal(t, 1, f.lru.Len())

	assert.Equal(t, float64(1), f.metrics.Counter("resource_cache_lookups_total", map[string]string{"result": resultMiss}).Get())
	assert.Equal(t, float64(2), f.metrics.Counter("resource_cache_lookups_total", map[string]string{"result": resultHit}).Get())
	assert.Equal(t, float64(3), f.metrics.Counter("resource_requests_total", map[string]string{"result": resultServed}).Get())
}

func TestResourceHandler_VersionMismatch(t *testing.T) {
	f := newFixture(t)

	ctx := f.get(t, "/rfRes/org.example.Versioned.jsf?v=1.0.3")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	assert.Empty(t, ctx.Response.Body())
	assert.Len(t, f.messages("Resource version does not match"), 1)

	ctx = f.get(t, "/rfRes/org.example.Versioned.jsf?v=1.0.2")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "versioned", string(ctx.Response.Body()))

	ctx = f.get(t, "/rfRes/org.example.Versioned.jsf")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	assert.Equal(t, float64(1), f.metrics.Counter("resource_requests_total", map[string]string{"result": resultNotFound}).Get())
}

func TestResourceHandler_NotCacheable(t *testing.T) {
	f := newFixture(t)
	path := "/rfRes/org.example.Volatile.jsf"

	first := f.get(t, path)
	second := f.get(t, path, HeaderIfNoneMatch, "*", HeaderIfModifiedSince, FormatHTTPDate(time.Now()))

	for _, ctx := range []*fasthttp.RequestCtx{first, second} {
		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.Equal(t, "0", string(ctx.Response.Header.Peek(HeaderExpires)))
		assert.Equal(t, "max-age=0, no-store, no-cache", string(ctx.Response.Header.Peek(HeaderCacheControl)))
		assert.Equal(t, "no-cache", string(ctx.Response.Header.Peek(HeaderPragma)))
		assert.Empty(t, ctx.Response.Header.Peek(HeaderETag))
	}

	assert.Equal(t, "volatile-1", string(first.Response.Body()))
	assert.Equal(t, "volatile-2", string(second.Response.Body()))
	assert.Equal(t, 0, f.lru.Len())
}

func TestResourceHandler_UnknownNames(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/rfRes/x.jsf", "/rfRes/.jsf", "/rfRes/"} {
		ctx := f.get(t, path)
		assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode(), path)
		assert.Empty(t, ctx.Response.Body(), path)
	}
	assert.Equal(t, 0, f.lru.Len())
}

func TestResourceHandler_DynamicMarker(t *testing.T) {
	f := newFixture(t)

	ctx := f.get(t, "/rfRes/org.example.Unmarked.jsf")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = f.get(t, "/rfRes/org.example.Marked.jsf")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "marked", string(ctx.Response.Body()))

	f.handler.Registry().MarkAllowed("org.example.Unmarked")
	ctx = f.get(t, "/rfRes/org.example.Unmarked.jsf")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestResourceHandler_ProblemLogLevelFollowsStage(t *testing.T) {
	production := newFixture(t)
	production.get(t, "/rfRes/org.example.Unmarked.jsf")

	entries := production.messages("Resource is not marked as dynamic")
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	development := newFixture(t, withStage(types.StageDevelopment))
	development.get(t, "/rfRes/org.example.Unmarked.jsf")

	entries = development.messages("Resource is not marked as dynamic")
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestResourceHandler_BrokenFactory(t *testing.T) {
	f := newFixture(t)

	ctx := f.get(t, "/rfRes/org.example.Broken.jsf")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	entries := f.messages("Resource could not be created")
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Len(t, f.messages("Resource factory panicked"), 1)
}

func TestResourceHandler_StateTravelsInRequestPath(t *testing.T) {
	f := newFixture(t)
	rctx := f.handler.NewContext(nil)

	res, ok := f.handler.CreateResource(rctx, "org.example.StateHolder", "", "")
	require.True(t, ok)
	res.(*stateResource).message = "custom state"

	path, err := f.handler.RequestPath(rctx, res)
	require.NoError(t, err)
	assert.Regexp(t, `^/rfRes/org\.example\.StateHolder\.jsf\?db=[A-Za-z0-9_-]+$`, path)

	ctx := f.get(t, path)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "custom state", string(ctx.Response.Body()))

	ctx = f.get(t, "/rfRes/org.example.StateHolder.jsf")
	assert.Equal(t, "initial", string(ctx.Response.Body()))

	ctx = f.get(t, "/rfRes/org.example.StateHolder.jsf?do=!!!")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	assert.Len(t, f.messages("Resource data could not be decoded"), 1)
}

func TestResourceHandler_ObjectStateKeepsTypes(t *testing.T) {
	f := newFixture(t)

	encoded, err := f.handler.codec.EncodeResource("org.example.StateHolder", savedState{Message: "ab", Repeat: 3}, "")
	require.NoError(t, err)
	require.Contains(t, encoded, "?do=")

	name, query := splitQuery(encoded)
	ctx := f.get(t, "/rfRes/"+name+".jsf?"+query)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "ababab", string(ctx.Response.Body()))

	encoded, err = f.handler.codec.EncodeResource("org.example.StateHolder", 42, "")
	require.NoError(t, err)

	name, query = splitQuery(encoded)
	ctx = f.get(t, "/rfRes/"+name+".jsf?"+query)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	assert.Len(t, f.messages("Resource state could not be restored"), 1)
}

func TestResourceHandler_Head(t *testing.T) {
	f := newFixture(t)

	ctx := f.do(t, fasthttp.MethodHead, myResourcePath)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Empty(t, ctx.Response.Body())
	assert.Equal(t, 5, ctx.Response.Header.ContentLength())
	assert.NotEmpty(t, ctx.Response.Header.Peek(HeaderETag))
}

func TestResourceHandler_DelegatesToDefaultHandler(t *testing.T) {
	f := newFixture(t)

	ctx := newRequest(fasthttp.MethodGet, "/javax.faces.resource/app.js.jsf?ln=js")
	assert.True(t, f.handler.IsResourceRequest(ctx))
	require.NoError(t, f.handler.HandleResourceRequest(ctx))
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, appScript, string(ctx.Response.Body()))

	ctx = f.get(t, "/javax.faces.resource/missing.js.jsf?ln=js")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = newRequest(fasthttp.MethodGet, "/elsewhere")
	assert.False(t, f.handler.IsResourceRequest(ctx))
	require.NoError(t, f.handler.HandleResourceRequest(ctx))
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestResourceHandler_ConcurrentMissesShareOneSnapshot(t *testing.T) {
	f := newFixture(t)

	const workers = 16
	bodies := make([]string, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := newRequest(fasthttp.MethodGet, "/rfRes/org.example.Counter.jsf")
			if err := f.handler.HandleResourceRequest(ctx); err == nil {
				bodies[i] = string(ctx.Response.Body())
			}
		}(i)
	}
	wg.Wait()

	for _, body := range bodies {
		assert.Equal(t, bodies[0], body)
	}
	assert.Regexp(t, `^counter-\d+$`, bodies[0])
	assert.Equal(t, 1, f.lru.Len())

	ctx := f.get(t, "/rfRes/org.example.Counter.jsf")
	assert.Equal(t, bodies[0], string(ctx.Response.Body()))
}

func TestResourceHandler_GradientStateSurvivesSkinChange(t *testing.T) {
	red := newFixture(t)
	rctx := red.handler.NewContext(nil)

	res, ok := red.handler.CreateResource(rctx, GradientResourceName, "", "")
	require.True(t, ok)

	path, err := red.handler.RequestPath(rctx, res)
	require.NoError(t, err)
	assert.Contains(t, path, "v=4.5.0")
	assert.Contains(t, path, "db=")

	blue := newFixture(t, withSkin(map[string]string{SkinHeaderGradientColor: "#0000ff"}))

	ctx := blue.get(t, path)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "image/png", string(ctx.Response.Header.ContentType()))
	assert.Equal(t, `W/"ff0000"`, string(ctx.Response.Header.Peek(HeaderETag)))

	img, err := png.Decode(bytes.NewReader(ctx.Response.Body()))
	require.NoError(t, err)
	assert.Equal(t, gradientWidth, img.Bounds().Dx())
	assert.Equal(t, gradientHeight, img.Bounds().Dy())

	corner := color.RGBAModel.Convert(img.At(gradientWidth-1, gradientHeight-1)).(color.RGBA)
	assert.Equal(t, uint8(0xFF), corner.R)
	assert.Less(t, corner.G, uint8(10))
	assert.Less(t, corner.B, uint8(10))

	origin := color.RGBAModel.Convert(img.At(0, 0)).(color.RGBA)
	assert.Equal(t, color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}, origin)

	ctx = blue.get(t, "/rfRes/"+GradientResourceName+".jsf")
	assert.Equal(t, `W/"ff"`, string(ctx.Response.Header.Peek(HeaderETag)))
}

func TestResourceHandler_CompiledStylesheet(t *testing.T) {
	f := newFixture(t)

	ctx := f.get(t, "/rfRes/skin.ecss.jsf")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, ".h{color:#000;background:#fff}", string(ctx.Response.Body()))
	assert.Equal(t, "text/css", string(ctx.Response.Header.ContentType()))
	assert.Equal(t, "max-age=86400", string(ctx.Response.Header.Peek(HeaderCacheControl)))

	dev := newFixture(t, withStage(types.StageDevelopment))
	ctx = dev.get(t, "/rfRes/skin.ecss.jsf")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "no-cache", string(ctx.Response.Header.Peek(HeaderPragma)))
	assert.Equal(t, 0, dev.lru.Len())

	ctx = dev.get(t, "/rfRes/missing.ecss.jsf")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestResourceHandler_CompiledStylesheetStateIsSkinHash(t *testing.T) {
	f := newFixture(t)
	rctx := f.handler.NewContext(nil)

	res, ok := f.handler.CreateResource(rctx, "skin.ecss", "", "")
	require.True(t, ok)

	state, err := res.(StatefulConstruction).SaveState(rctx)
	require.NoError(t, err)

	hash := rctx.Skin().HashCode()
	assert.Equal(t, []byte{byte(hash), byte(hash >> 8), byte(hash >> 16), byte(hash >> 24)}, state)

	path, err := f.handler.RequestPath(rctx, res)
	require.NoError(t, err)
	assert.Contains(t, path, "db=")

	ctx := f.get(t, path)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestResourceHandler_CreateResource(t *testing.T) {
	f := newFixture(t)
	rctx := f.handler.NewContext(nil)

	res, ok := f.handler.CreateResource(rctx, "org.example.Params?color=red&size=2", "", "")
	require.True(t, ok)
	assert.Equal(t, "org.example.Params", res.ResourceName())
	assert.Equal(t, map[string]string{"color": "red", "size": "2"}, res.(*paramResource).params)

	res, ok = f.handler.CreateResource(rctx, "app.js", "js", "text/javascript")
	require.True(t, ok)
	file, isFile := res.(*FileResource)
	require.True(t, isFile)
	assert.Equal(t, "js", file.LibraryName())
	assert.Equal(t, len(appScript), file.ContentLength(rctx))
	body, err := file.Produce(rctx)
	require.NoError(t, err)
	assert.Equal(t, appScript, string(body))

	_, ok = f.handler.CreateResource(rctx, "missing.js", "js", "")
	assert.False(t, ok)

	_, ok = f.handler.CreateResource(rctx, "org.example.Unmarked", "", "")
	assert.False(t, ok)

	assert.True(t, f.handler.LibraryExists("js"))
	assert.False(t, f.handler.LibraryExists("nope"))
	assert.False(t, f.handler.LibraryExists(""))

	assert.Equal(t, RendererTypeScript, f.handler.RendererTypeForResourceName("app.js"))
	assert.Equal(t, RendererTypeStylesheet, f.handler.RendererTypeForResourceName("app.css"))
	assert.Equal(t, RendererTypeStylesheet, f.handler.RendererTypeForResourceName("skin.ecss"))
	assert.Empty(t, f.handler.RendererTypeForResourceName("logo.png"))
}

func TestResourceHandler_LegacyCodec(t *testing.T) {
	f := newFixture(t, withCodec(NewLegacyCodec()))

	ctx := f.get(t, "/rfRes/org.example.Versioned/VER/1.0.3.jsf")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = f.get(t, "/rfRes/org.example.Versioned/VER/1.0.2.jsf")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "versioned", string(ctx.Response.Body()))

	rctx := f.handler.NewContext(nil)
	res, ok := f.handler.CreateResource(rctx, "org.example.StateHolder", "", "")
	require.True(t, ok)
	res.(*stateResource).message = "legacy state"

	path, err := f.handler.RequestPath(rctx, res)
	require.NoError(t, err)
	assert.Contains(t, path, "/DATB/")

	ctx = f.get(t, path)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "legacy state", string(ctx.Response.Body()))
}

func TestResourceHandler_RedisBackedCache(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	rc, err := cache.NewRedisCache(context.Background(), logger.NewNop(), map[string]interface{}{"host": mr.Host(), "port": port})
	require.NoError(t, err)
	require.NoError(t, rc.Start())
	t.Cleanup(func() { _ = rc.Stop() })

	f := newFixture(t, withCache(rc))

	first := f.get(t, myResourcePath)
	second := f.get(t, myResourcePath)

	for _, ctx := range []*fasthttp.RequestCtx{first, second} {
		require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.Equal(t, "hello", string(ctx.Response.Body()))
	}
	assert.Equal(t, first.Response.Header.Peek(HeaderETag), second.Response.Header.Peek(HeaderETag))
	assert.Equal(t, first.Response.Header.Peek(HeaderLastModified), second.Response.Header.Peek(HeaderLastModified))

	assert.EqualValues(t, 1, f.calls.Load())
	assert.True(t, mr.Exists("sai-resources:org.example.MyResource"))
	assert.Equal(t, float64(1), f.metrics.Counter("resource_cache_lookups_total", map[string]string{"result": resultHit}).Get())
}
