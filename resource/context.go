package resource

import (
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-resources/types"
)

// Environment holds the process-wide values every request context shares.
type Environment struct {
	Stage     string
	Version   string
	Skin      Skin
	StartTime time.Time
	Clock     func() time.Time
}

func (e Environment) withDefaults() Environment {
	if e.Stage == "" {
		e.Stage = types.StageProduction
	}
	if e.Skin == nil {
		e.Skin = NewMapSkin(nil)
	}
	if e.Clock == nil {
		e.Clock = time.Now
	}
	if e.StartTime.IsZero() {
		e.StartTime = e.Clock()
	}
	return e
}

// Context is the view of one request a resource is allowed to see. The
// request may be nil when a resource is used outside of request handling,
// for example to compute its request path.
type Context struct {
	request *fasthttp.RequestCtx
	env     Environment
	now     time.Time
}

func NewContext(request *fasthttp.RequestCtx, env Environment) *Context {
	env = env.withDefaults()

	return &Context{
		request: request,
		env:     env,
		now:     env.Clock(),
	}
}

func (c *Context) Request() *fasthttp.RequestCtx {
	return c.request
}

// Header returns the request header value or an empty string.
func (c *Context) Header(name string) string {
	if c.request == nil {
		return ""
	}
	return string(c.request.Request.Header.Peek(name))
}

func (c *Context) HasHeader(name string) bool {
	if c.request == nil {
		return false
	}
	return c.request.Request.Header.Peek(name) != nil
}

func (c *Context) Method() string {
	if c.request == nil {
		return fasthttp.MethodGet
	}
	return string(c.request.Method())
}

func (c *Context) IsHead() bool {
	return c.request != nil && c.request.IsHead()
}

// Now is fixed when the context is created so every header of one response
// agrees on the current time.
func (c *Context) Now() time.Time {
	return c.now
}

func (c *Context) StartTime() time.Time {
	return c.env.StartTime
}

func (c *Context) Stage() string {
	return c.env.Stage
}

func (c *Context) IsProduction() bool {
	return c.env.Stage == types.StageProduction
}

func (c *Context) IsDevelopment() bool {
	return c.env.Stage == types.StageDevelopment
}

// Version is the application-wide resource version.
func (c *Context) Version() string {
	return c.env.Version
}

func (c *Context) Skin() Skin {
	return c.env.Skin
}
