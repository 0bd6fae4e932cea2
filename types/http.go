package types

import (
	"github.com/valyala/fasthttp"
)

const HeaderRequestID = "X-Request-ID"

type HTTPServer interface {
	LifecycleManager
	Handle(path string, handler fasthttp.RequestHandler)
}

// ResourceHandler is a link in the chain of handlers serving resource
// requests. HandleResourceRequest only returns infrastructure failures;
// unknown resources are answered with a 404 by the handler itself.
type ResourceHandler interface {
	IsResourceRequest(ctx *fasthttp.RequestCtx) bool
	HandleResourceRequest(ctx *fasthttp.RequestCtx) error
}

type Middleware func(next fasthttp.RequestHandler) fasthttp.RequestHandler
